// Package templates renders the HTML pages and HTMX fragments served by the web
// package. The *_templ.go files are generated from the .templ sources with
// `templ generate`.
package templates

import (
	"strconv"

	"github.com/JonMunkholm/stockcount/internal/core"
)

var itemHeaders = []string{"SKU", "Product", "Store", "Location", "Expected", "Counted", "Difference"}

func itemCells(pc core.ProductCount) []string {
	return []string{
		pc.Product.SKU, pc.Product.Name, pc.Product.Store, pc.Product.Location,
		strconv.Itoa(pc.Expected), strconv.Itoa(pc.Counted), signed(pc.Diff),
	}
}

func signed(n int) string {
	if n > 0 {
		return "+" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
