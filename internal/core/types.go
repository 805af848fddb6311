package core

import "time"

// Organization is the tenant that owns a catalog and its count history.
type Organization struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Product is one catalog entry. ID and SKU are fixed once created.
type Product struct {
	ID             string    `json:"id" db:"id"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	SKU            string    `json:"sku" db:"sku"`
	Name           string    `json:"name" db:"name"`
	CategoryLevel1 string    `json:"category_level_1" db:"category_level_1"`
	CategoryLevel2 string    `json:"category_level_2" db:"category_level_2"`
	CategoryLevel3 string    `json:"category_level_3" db:"category_level_3"`
	Price          *float64  `json:"price" db:"price"`
	ExpectedStock  *int      `json:"expected_stock" db:"expected_stock"`
	Store          string    `json:"store" db:"store"`
	Location       string    `json:"location" db:"location"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Expected returns the expected stock, treating an unset value as 0.
func (p Product) Expected() int {
	if p.ExpectedStock == nil {
		return 0
	}
	return *p.ExpectedStock
}

// PriceOrZero returns the unit price, treating an unset value as 0.
func (p Product) PriceOrZero() float64 {
	if p.Price == nil {
		return 0
	}
	return *p.Price
}

// ProductInput carries the fields of a product to be created.
type ProductInput struct {
	SKU            string   `json:"sku"`
	Name           string   `json:"name"`
	CategoryLevel1 string   `json:"category_level_1,omitempty"`
	CategoryLevel2 string   `json:"category_level_2,omitempty"`
	CategoryLevel3 string   `json:"category_level_3,omitempty"`
	Price          *float64 `json:"price,omitempty"`
	ExpectedStock  *int     `json:"expected_stock,omitempty"`
	Store          string   `json:"store,omitempty"`
	Location       string   `json:"location,omitempty"`
}

// Valid reports whether both identity fields are present.
func (in ProductInput) Valid() bool {
	return in.SKU != "" && in.Name != ""
}

// ProductUpdate replaces the non-nil mutable fields of a product.
type ProductUpdate struct {
	Name           *string  `json:"name,omitempty"`
	CategoryLevel1 *string  `json:"category_level_1,omitempty"`
	CategoryLevel2 *string  `json:"category_level_2,omitempty"`
	CategoryLevel3 *string  `json:"category_level_3,omitempty"`
	Price          *float64 `json:"price,omitempty"`
	ExpectedStock  *int     `json:"expected_stock,omitempty"`
	Store          *string  `json:"store,omitempty"`
	Location       *string  `json:"location,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (u ProductUpdate) IsEmpty() bool {
	return u.Name == nil && u.CategoryLevel1 == nil && u.CategoryLevel2 == nil &&
		u.CategoryLevel3 == nil && u.Price == nil && u.ExpectedStock == nil &&
		u.Store == nil && u.Location == nil
}

// ApplyTo returns p with the update's fields replaced.
func (u ProductUpdate) ApplyTo(p Product) Product {
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.CategoryLevel1 != nil {
		p.CategoryLevel1 = *u.CategoryLevel1
	}
	if u.CategoryLevel2 != nil {
		p.CategoryLevel2 = *u.CategoryLevel2
	}
	if u.CategoryLevel3 != nil {
		p.CategoryLevel3 = *u.CategoryLevel3
	}
	if u.Price != nil {
		v := *u.Price
		p.Price = &v
	}
	if u.ExpectedStock != nil {
		v := *u.ExpectedStock
		p.ExpectedStock = &v
	}
	if u.Store != nil {
		p.Store = *u.Store
	}
	if u.Location != nil {
		p.Location = *u.Location
	}
	return p
}

// CountRecord is one immutable signed adjustment to a product's counted quantity.
// Timestamp is Unix milliseconds.
type CountRecord struct {
	ID             string `json:"id" db:"id"`
	OrganizationID string `json:"organization_id" db:"organization_id"`
	ProductID      string `json:"product_id" db:"product_id"`
	Quantity       int    `json:"quantity" db:"quantity"`
	Timestamp      int64  `json:"timestamp" db:"timestamp_ms"`
	CounterName    string `json:"counter_name" db:"counter_name"`
}

// Time returns the record's timestamp as a time.Time.
func (c CountRecord) Time() time.Time {
	return time.UnixMilli(c.Timestamp)
}

// CountInput is a count event that has been planned but not yet persisted.
type CountInput struct {
	ProductID   string `json:"product_id"`
	Quantity    int    `json:"quantity"`
	CounterName string `json:"counter_name,omitempty"`
}

// ChangeKind identifies what a Change does to a snapshot.
type ChangeKind string

const (
	ChangeProductUpsert  ChangeKind = "product_upsert"
	ChangeProductDelete  ChangeKind = "product_delete"
	ChangeProductsClear  ChangeKind = "product_delete_all"
	ChangeCountInsert    ChangeKind = "count_insert"
	ChangeCountDelete    ChangeKind = "count_delete"
	ChangeCountsClear    ChangeKind = "count_reset"
	ChangeReloadRequired ChangeKind = "reload"
)

// Change is a confirmed mutation of an organization's data, produced either
// by a successful write or by the store's notification channel. Deletes and
// clears list in IDs exactly the rows the store removed, so applying one late
// or twice never touches rows written after it.
type Change struct {
	Kind           ChangeKind   `json:"kind"`
	OrganizationID string       `json:"organization_id"`
	Products       []Product    `json:"products,omitempty"`
	Count          *CountRecord `json:"count,omitempty"`
	IDs            []string     `json:"ids,omitempty"`
}

// ImportResult reports the outcome of an import commit.
type ImportResult struct {
	Inserted int `json:"inserted"`
	Rejected int `json:"rejected"`
}

// Report is a generated CSV export.
type Report struct {
	Kind     ReportKind `json:"kind"`
	Filename string     `json:"filename"`
	Content  string     `json:"-"`
}
