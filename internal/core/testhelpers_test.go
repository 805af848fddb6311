package core

func intPtr(n int) *int { return &n }

func floatPtr(f float64) *float64 { return &f }

func strPtr(s string) *string { return &s }

func product(id, sku, name string, expected int) Product {
	return Product{ID: id, OrganizationID: "org-1", SKU: sku, Name: name, ExpectedStock: intPtr(expected)}
}

func count(id, productID string, qty int, ts int64) CountRecord {
	return CountRecord{ID: id, OrganizationID: "org-1", ProductID: productID, Quantity: qty, Timestamp: ts}
}
