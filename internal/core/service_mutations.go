package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ResetTimeout bounds organization-wide deletes.
var ResetTimeout = 30 * time.Second

// defaultCounterName is recorded when neither the request nor the context
// names who counted.
const defaultCounterName = "Unknown"

// CountResult is a persisted count event with the product's new total.
type CountResult struct {
	Count   CountRecord `json:"count"`
	Product Product     `json:"product"`
	Total   int         `json:"total"`
}

func normalizeInput(in ProductInput) (ProductInput, error) {
	in.SKU = strings.TrimSpace(in.SKU)
	in.Name = strings.TrimSpace(in.Name)
	if !in.Valid() {
		return in, ErrInvalidProduct
	}
	if in.Price != nil && *in.Price < 0 {
		return in, fmt.Errorf("%w: price must not be negative", ErrInvalidProduct)
	}
	return in, nil
}

// CreateProduct inserts one product.
func (s *Service) CreateProduct(ctx context.Context, orgID string, in ProductInput) (Product, error) {
	in, err := normalizeInput(in)
	if err != nil {
		return Product{}, err
	}
	snap, err := s.snapshot(ctx, orgID)
	if err != nil {
		return Product{}, err
	}

	p, err := s.store.InsertProduct(ctx, orgID, in)
	if err != nil {
		return Product{}, fmt.Errorf("insert product %q: %w", in.SKU, err)
	}
	s.commit(ctx, snap, Change{Kind: ChangeProductUpsert, OrganizationID: orgID, Products: []Product{p}})

	LogAudit(ctx, AuditEntry{Action: ActionProductCreate, ProductID: p.ID, SKU: p.SKU})
	return p, nil
}

// UpdateProduct replaces the mutable fields set in u.
func (s *Service) UpdateProduct(ctx context.Context, orgID, id string, u ProductUpdate) (Product, error) {
	if u.IsEmpty() {
		return Product{}, ErrEmptyUpdate
	}
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name == "" {
			return Product{}, ErrInvalidProduct
		}
		u.Name = &name
	}
	if u.Price != nil && *u.Price < 0 {
		return Product{}, fmt.Errorf("%w: price must not be negative", ErrInvalidProduct)
	}

	snap, err := s.snapshot(ctx, orgID)
	if err != nil {
		return Product{}, err
	}

	p, err := s.store.UpdateProduct(ctx, orgID, id, u)
	if err != nil {
		return Product{}, fmt.Errorf("update product %s: %w", id, err)
	}
	s.commit(ctx, snap, Change{Kind: ChangeProductUpsert, OrganizationID: orgID, Products: []Product{p}})

	LogAudit(ctx, AuditEntry{Action: ActionProductUpdate, ProductID: p.ID, SKU: p.SKU})
	return p, nil
}

// BulkUpdateExpectedStock sets the same expected stock on every product in ids.
func (s *Service) BulkUpdateExpectedStock(ctx context.Context, orgID string, ids []string, expected int) ([]Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	snap, err := s.snapshot(ctx, orgID)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.BulkUpdateExpectedStock(ctx, orgID, ids, expected)
	if err != nil {
		return nil, fmt.Errorf("bulk update expected stock: %w", err)
	}
	if len(updated) > 0 {
		s.commit(ctx, snap, Change{Kind: ChangeProductUpsert, OrganizationID: orgID, Products: updated})
	}

	LogAudit(ctx, AuditEntry{
		Action:       ActionBulkEdit,
		RowsAffected: int64(len(updated)),
		Reason:       fmt.Sprintf("expected_stock=%d", expected),
	})
	return updated, nil
}

// DeleteProduct removes one product. Its count records remain and show as
// "Unknown" in the audit log.
func (s *Service) DeleteProduct(ctx context.Context, orgID, id string) error {
	snap, err := s.snapshot(ctx, orgID)
	if err != nil {
		return err
	}

	if err := s.store.DeleteProduct(ctx, orgID, id); err != nil {
		return fmt.Errorf("delete product %s: %w", id, err)
	}
	s.commit(ctx, snap, Change{Kind: ChangeProductDelete, OrganizationID: orgID, IDs: []string{id}})

	LogAudit(ctx, AuditEntry{Action: ActionProductDelete, ProductID: id})
	return nil
}

// DeleteProducts removes every product in ids and returns how many existed.
func (s *Service) DeleteProducts(ctx context.Context, orgID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	snap, err := s.snapshot(ctx, orgID)
	if err != nil {
		return 0, err
	}

	n, err := s.store.DeleteProducts(ctx, orgID, ids)
	if err != nil {
		return 0, fmt.Errorf("delete products: %w", err)
	}
	s.commit(ctx, snap, Change{Kind: ChangeProductDelete, OrganizationID: orgID, IDs: ids})

	LogAudit(ctx, AuditEntry{Action: ActionProductsDelete, RowsAffected: n})
	return n, nil
}

// DeleteAllProducts empties the catalog. confirm must be true.
func (s *Service) DeleteAllProducts(ctx context.Context, orgID string, confirm bool) (int64, error) {
	if !confirm {
		return 0, ErrConfirmationRequired
	}
	snap, err := s.snapshot(ctx, orgID)
	if err != nil {
		return 0, err
	}

	resetCtx, cancel := context.WithTimeout(ctx, ResetTimeout)
	defer cancel()

	ids, err := s.store.DeleteAllProducts(resetCtx, orgID)
	if err != nil {
		return 0, fmt.Errorf("delete all products: %w", err)
	}
	s.commit(ctx, snap, Change{Kind: ChangeProductsClear, OrganizationID: orgID, IDs: ids})

	n := int64(len(ids))
	LogAudit(ctx, AuditEntry{Action: ActionProductsClear, RowsAffected: n})
	return n, nil
}

// ApplyDelta records a signed adjustment to a product's count.
func (s *Service) ApplyDelta(ctx context.Context, orgID, productID string, amount int) (CountResult, error) {
	in, err := PlanDelta(productID, amount)
	if err != nil {
		return CountResult{}, err
	}
	snap, err := s.snapshot(ctx, orgID)
	if err != nil {
		return CountResult{}, err
	}
	p, ok := snap.State().Product(productID)
	if !ok {
		return CountResult{}, ErrProductNotFound
	}
	return s.recordCount(ctx, snap, p, in)
}

// ApplyAbsolute records the adjustment that brings a product's total to
// desired. When the total already matches nothing is written and applied is
// false. A non-integer desired value yields *InvalidTotalError.
func (s *Service) ApplyAbsolute(ctx context.Context, orgID, productID, desired string) (res CountResult, applied bool, err error) {
	snap, err := s.snapshot(ctx, orgID)
	if err != nil {
		return CountResult{}, false, err
	}
	st := snap.State()
	p, ok := st.Product(productID)
	if !ok {
		return CountResult{}, false, ErrProductNotFound
	}

	in, needed, err := PlanAbsolute(productID, desired, st.Counts)
	if err != nil {
		return CountResult{}, false, err
	}
	if !needed {
		return CountResult{Product: p, Total: st.Total(productID)}, false, nil
	}

	res, err = s.recordCount(ctx, snap, p, in)
	if err != nil {
		return CountResult{}, false, err
	}
	return res, true, nil
}

// RecordScan adds 1 to the product whose SKU matches exactly.
func (s *Service) RecordScan(ctx context.Context, orgID, sku string) (CountResult, error) {
	p, err := s.FindBySKU(ctx, orgID, sku)
	if err != nil {
		return CountResult{}, err
	}
	snap, err := s.snapshot(ctx, orgID)
	if err != nil {
		return CountResult{}, err
	}
	return s.recordCount(ctx, snap, p, CountInput{ProductID: p.ID, Quantity: 1})
}

func (s *Service) recordCount(ctx context.Context, snap *Snapshot, p Product, in CountInput) (CountResult, error) {
	if in.CounterName == "" {
		in.CounterName = GetCounterNameFromContext(ctx)
	}
	if in.CounterName == "" {
		in.CounterName = defaultCounterName
	}

	rec, err := s.store.InsertCount(ctx, p.OrganizationID, in)
	if err != nil {
		return CountResult{}, fmt.Errorf("insert count for %s: %w", p.SKU, err)
	}
	s.commit(ctx, snap, Change{Kind: ChangeCountInsert, OrganizationID: p.OrganizationID, Count: &rec})

	return CountResult{
		Count:   rec,
		Product: p,
		Total:   snap.State().Total(p.ID),
	}, nil
}

// ResetCounts deletes every count record of the organization, returning all
// totals to zero. confirm must be true.
func (s *Service) ResetCounts(ctx context.Context, orgID string, confirm bool) (int64, error) {
	if !confirm {
		return 0, ErrConfirmationRequired
	}
	snap, err := s.snapshot(ctx, orgID)
	if err != nil {
		return 0, err
	}

	resetCtx, cancel := context.WithTimeout(ctx, ResetTimeout)
	defer cancel()

	ids, err := s.store.DeleteAllCounts(resetCtx, orgID)
	if err != nil {
		return 0, fmt.Errorf("reset counts: %w", err)
	}
	// only the removed events are dropped; a scan committed after the reset
	// survives the reset's late echo
	s.commit(ctx, snap, Change{Kind: ChangeCountsClear, OrganizationID: orgID, IDs: ids})

	n := int64(len(ids))
	LogAudit(ctx, AuditEntry{Action: ActionCountsReset, RowsAffected: n})
	return n, nil
}

// FindBySKU looks a product up by exact SKU, consulting the store when the
// snapshot has no match.
func (s *Service) FindBySKU(ctx context.Context, orgID, sku string) (Product, error) {
	if sku == "" {
		return Product{}, ErrSKUNotFound
	}
	snap, err := s.snapshot(ctx, orgID)
	if err != nil {
		return Product{}, err
	}
	if p, ok := snap.State().ProductBySKU(sku); ok {
		return p, nil
	}

	p, err := s.store.FindProductBySKU(ctx, orgID, sku)
	if errors.Is(err, ErrProductNotFound) {
		return Product{}, fmt.Errorf("%w: %q", ErrSKUNotFound, sku)
	}
	if err != nil {
		return Product{}, fmt.Errorf("find sku %q: %w", sku, err)
	}
	s.commit(ctx, snap, Change{Kind: ChangeProductUpsert, OrganizationID: orgID, Products: []Product{p}})
	return p, nil
}
