package core

import (
	"math"
	"sort"
)

// Class is the discrepancy classification of one product.
type Class string

const (
	ClassMissing Class = "missing"
	ClassSurplus Class = "surplus"
	ClassExact   Class = "exact"
)

// ProductCount is a product with its counted total compared to expected stock.
type ProductCount struct {
	Product  Product `json:"product"`
	Counted  int     `json:"counted"`
	Expected int     `json:"expected"`
	Diff     int     `json:"diff"`
	Class    Class   `json:"class"`
}

// Magnitude is the absolute size of the discrepancy.
func (pc ProductCount) Magnitude() int {
	if pc.Diff < 0 {
		return -pc.Diff
	}
	return pc.Diff
}

// ClassifyOne compares a counted total against p's expected stock.
func ClassifyOne(p Product, counted int) ProductCount {
	pc := ProductCount{
		Product:  p,
		Counted:  counted,
		Expected: p.Expected(),
	}
	pc.Diff = pc.Counted - pc.Expected

	switch {
	case pc.Diff < 0:
		pc.Class = ClassMissing
	case pc.Diff > 0:
		pc.Class = ClassSurplus
	default:
		pc.Class = ClassExact
	}
	return pc
}

// Classify returns one entry per product, in product order. Events for
// products not in the list are ignored.
func Classify(products []Product, events []CountRecord) []ProductCount {
	totals := Totals(events)
	out := make([]ProductCount, len(products))
	for i, p := range products {
		out[i] = ClassifyOne(p, totals[p.ID])
	}
	return out
}

// Summary holds organization-wide figures.
type Summary struct {
	TotalProducts     int `json:"total_products"`
	TotalExpected     int `json:"total_expected"`
	TotalCounted      int `json:"total_counted"`
	CompletionPercent int `json:"completion_percent"`
	Missing           int `json:"missing"`
	Surplus           int `json:"surplus"`
	Exact             int `json:"exact"`
	Discrepancies     int `json:"discrepancies"`
}

// Summarize classifies every product and totals the result.
func Summarize(products []Product, events []CountRecord) Summary {
	return SummarizeCounts(Classify(products, events))
}

// SummarizeCounts totals already classified products.
func SummarizeCounts(items []ProductCount) Summary {
	s := Summary{TotalProducts: len(items)}
	for _, pc := range items {
		s.TotalExpected += pc.Expected
		s.TotalCounted += pc.Counted
		switch pc.Class {
		case ClassMissing:
			s.Missing++
		case ClassSurplus:
			s.Surplus++
		default:
			s.Exact++
		}
	}
	s.Discrepancies = s.Missing + s.Surplus
	s.CompletionPercent = completion(s.TotalCounted, s.TotalExpected)
	return s
}

// completion is round(100*counted/expected), rounding halves up, or 0 when
// nothing is expected.
func completion(counted, expected int) int {
	if expected <= 0 {
		return 0
	}
	return int(math.Floor(100*float64(counted)/float64(expected) + 0.5))
}

// ViewMode selects which products a dashboard shows.
type ViewMode string

const (
	ViewAll           ViewMode = "all"
	ViewDiscrepancies ViewMode = "discrepancies"
)

// View filters classified products. Criteria combine with AND and empty
// Store or Location means no restriction.
type View struct {
	Mode     ViewMode `json:"mode"`
	Store    string   `json:"store,omitempty"`
	Location string   `json:"location,omitempty"`
}

// Match reports whether pc passes every criterion of v.
func (v View) Match(pc ProductCount) bool {
	if v.Mode == ViewDiscrepancies && pc.Class == ClassExact {
		return false
	}
	if v.Store != "" && pc.Product.Store != v.Store {
		return false
	}
	if v.Location != "" && pc.Product.Location != v.Location {
		return false
	}
	return true
}

// Filter returns the matching items in a new slice.
func (v View) Filter(items []ProductCount) []ProductCount {
	out := make([]ProductCount, 0, len(items))
	for _, pc := range items {
		if v.Match(pc) {
			out = append(out, pc)
		}
	}
	return out
}

// StoreOptions returns the distinct non-empty store labels, sorted.
func StoreOptions(products []Product) []string {
	return distinctSorted(products, func(p Product) (string, bool) {
		return p.Store, true
	})
}

// LocationOptions returns the distinct non-empty location labels, sorted,
// limited to store when store is non-empty.
func LocationOptions(products []Product, store string) []string {
	return distinctSorted(products, func(p Product) (string, bool) {
		return p.Location, store == "" || p.Store == store
	})
}

func distinctSorted(products []Product, pick func(Product) (string, bool)) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, p := range products {
		v, ok := pick(p)
		if !ok || v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Page describes one slice of a paginated list.
type Page struct {
	Number     int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// Paginate returns the 1-based page of items. Out-of-range pages are
// clamped; perPage <= 0 returns everything on one page.
func Paginate[T any](items []T, page, perPage int) ([]T, Page) {
	total := len(items)
	if perPage <= 0 {
		perPage = total
		if perPage == 0 {
			perPage = 1
		}
	}
	totalPages := (total + perPage - 1) / perPage
	if totalPages == 0 {
		totalPages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}

	start := (page - 1) * perPage
	end := start + perPage
	if end > total {
		end = total
	}
	return items[start:end], Page{Number: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}
