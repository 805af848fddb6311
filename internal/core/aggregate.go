package core

import (
	"strconv"
	"strings"
)

// Total sums the quantities of every event for productID. Callers must pass
// the full event history; a page or filtered subset gives a wrong total.
func Total(productID string, events []CountRecord) int {
	total := 0
	for _, e := range events {
		if e.ProductID == productID {
			total += e.Quantity
		}
	}
	return total
}

// Totals sums quantities for every product referenced by events, including
// products that no longer exist.
func Totals(events []CountRecord) map[string]int {
	totals := make(map[string]int)
	for _, e := range events {
		totals[e.ProductID] += e.Quantity
	}
	return totals
}

// PlanDelta builds a count event that adds amount to a product's total.
func PlanDelta(productID string, amount int) (CountInput, error) {
	if amount == 0 {
		return CountInput{}, ErrZeroDelta
	}
	return CountInput{ProductID: productID, Quantity: amount}, nil
}

// PlanAbsolute builds the event that moves a product's total to desired.
// ok is false when the total already matches and no event is needed.
// A desired value that is not an integer yields *InvalidTotalError carrying
// the current total. Negative totals are accepted.
func PlanAbsolute(productID, desired string, events []CountRecord) (in CountInput, ok bool, err error) {
	current := Total(productID, events)

	target, err := strconv.Atoi(strings.TrimSpace(desired))
	if err != nil {
		return CountInput{}, false, &InvalidTotalError{Input: desired, Current: current}
	}

	diff := target - current
	if diff == 0 {
		return CountInput{}, false, nil
	}
	return CountInput{ProductID: productID, Quantity: diff}, true, nil
}
