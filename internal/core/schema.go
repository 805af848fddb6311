package core

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ProductField is one column of the import schema.
type ProductField int

const (
	FieldSKU ProductField = iota
	FieldName
	FieldCategoryLevel1
	FieldCategoryLevel2
	FieldCategoryLevel3
	FieldPrice
	FieldExpectedStock

	numProductFields
)

// fieldSpec describes how an import column lands on a ProductInput.
type fieldSpec struct {
	key      string
	label    string
	required bool
	assign   func(in *ProductInput, raw string)
}

var fieldSpecs = [numProductFields]fieldSpec{
	FieldSKU: {
		key: "sku", label: "SKU *", required: true,
		assign: func(in *ProductInput, raw string) { in.SKU = raw },
	},
	FieldName: {
		key: "name", label: "Product Name *", required: true,
		assign: func(in *ProductInput, raw string) { in.Name = raw },
	},
	FieldCategoryLevel1: {
		key: "categoryLevel1", label: "Category Level 1",
		assign: func(in *ProductInput, raw string) { in.CategoryLevel1 = raw },
	},
	FieldCategoryLevel2: {
		key: "categoryLevel2", label: "Category Level 2",
		assign: func(in *ProductInput, raw string) { in.CategoryLevel2 = raw },
	},
	FieldCategoryLevel3: {
		key: "categoryLevel3", label: "Category Level 3",
		assign: func(in *ProductInput, raw string) { in.CategoryLevel3 = raw },
	},
	FieldPrice: {
		key: "price", label: "Price",
		assign: func(in *ProductInput, raw string) {
			p := coercePrice(raw)
			in.Price = &p
		},
	},
	FieldExpectedStock: {
		key: "expectedStock", label: "Expected Stock",
		assign: func(in *ProductInput, raw string) {
			n := coerceInt(raw)
			in.ExpectedStock = &n
		},
	},
}

// ProductFields returns the schema in display order.
func ProductFields() []ProductField {
	fields := make([]ProductField, numProductFields)
	for i := range fields {
		fields[i] = ProductField(i)
	}
	return fields
}

func (f ProductField) valid() bool { return f >= 0 && f < numProductFields }

// Key is the field's stable identifier, used in JSON.
func (f ProductField) Key() string {
	if !f.valid() {
		return fmt.Sprintf("ProductField(%d)", int(f))
	}
	return fieldSpecs[f].key
}

// Label is the display name; required fields end in " *".
func (f ProductField) Label() string {
	if !f.valid() {
		return ""
	}
	return fieldSpecs[f].label
}

func (f ProductField) Required() bool {
	return f.valid() && fieldSpecs[f].required
}

func (f ProductField) String() string { return f.Key() }

// matchesHeader reports whether header names this field, comparing
// case-insensitively against the label (without " *") and the key.
func (f ProductField) matchesHeader(header string) bool {
	h := strings.ToLower(header)
	label := strings.Replace(strings.ToLower(fieldSpecs[f].label), " *", "", 1)
	return h == label || h == strings.ToLower(fieldSpecs[f].key)
}

// ParseProductField resolves a field key.
func ParseProductField(key string) (ProductField, error) {
	for _, f := range ProductFields() {
		if fieldSpecs[f].key == key {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownField, key)
}

func (f ProductField) MarshalText() ([]byte, error) {
	if !f.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownField, int(f))
	}
	return []byte(f.Key()), nil
}

func (f *ProductField) UnmarshalText(b []byte) error {
	parsed, err := ParseProductField(string(b))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

var (
	leadingDecimal = regexp.MustCompile(`^[+-]?(\d+(\.\d+)?|\.\d+)([eE][+-]?\d+)?`)
	leadingInteger = regexp.MustCompile(`^[+-]?\d+`)
)

// coercePrice reads the leading number of raw ("12.50 USD" is 12.5).
// Unparseable or negative values become 0.
func coercePrice(raw string) float64 {
	m := strings.TrimPrefix(leadingDecimal.FindString(strings.TrimSpace(raw)), "+")
	if m == "" {
		return 0
	}
	d, err := decimal.NewFromString(m)
	if err != nil || d.IsNegative() {
		return 0
	}
	f, _ := d.Float64()
	return f
}

// coerceInt reads the leading integer of raw ("12.9" is 12, "7 units" is 7).
// Unparseable values become 0.
func coerceInt(raw string) int {
	m := leadingInteger.FindString(strings.TrimSpace(raw))
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return n
}
