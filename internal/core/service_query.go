package core

import (
	"context"
	"fmt"
	"time"
)

// DefaultRecentCounts is how many count events a counting screen shows.
const DefaultRecentCounts = 50

// DashboardQuery selects the filtered, paginated slice of a dashboard.
type DashboardQuery struct {
	View    View
	Page    int
	PerPage int
}

// Dashboard is the progress overview of one organization. Summary always
// covers the whole catalog; Items is the filtered page.
type Dashboard struct {
	Summary   Summary        `json:"summary"`
	Items     []ProductCount `json:"items"`
	Page      Page           `json:"page"`
	View      View           `json:"view"`
	Stores    []string       `json:"stores"`
	Locations []string       `json:"locations"`
}

// Organization returns orgID's record from the store.
func (s *Service) Organization(ctx context.Context, orgID string) (Organization, error) {
	return s.store.GetOrganization(ctx, orgID)
}

// ListProducts returns the catalog ordered by SKU.
func (s *Service) ListProducts(ctx context.Context, orgID string) ([]Product, error) {
	st, err := s.State(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return st.Products, nil
}

// GetProduct returns one product with its counted total.
func (s *Service) GetProduct(ctx context.Context, orgID, id string) (ProductCount, error) {
	st, err := s.State(ctx, orgID)
	if err != nil {
		return ProductCount{}, err
	}
	p, ok := st.Product(id)
	if !ok {
		return ProductCount{}, ErrProductNotFound
	}
	return ClassifyOne(p, st.Total(id)), nil
}

// RecentCounts returns the newest n count events, or DefaultRecentCounts when n <= 0.
func (s *Service) RecentCounts(ctx context.Context, orgID string, n int) ([]CountRecord, error) {
	st, err := s.State(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		n = DefaultRecentCounts
	}
	return st.RecentCounts(n), nil
}

// Dashboard classifies every product against its counted total, summarizes
// the whole catalog and returns the requested page of the filtered view.
func (s *Service) Dashboard(ctx context.Context, orgID string, q DashboardQuery) (Dashboard, error) {
	st, err := s.State(ctx, orgID)
	if err != nil {
		return Dashboard{}, err
	}
	if q.View.Mode == "" {
		q.View.Mode = ViewAll
	}

	items := Classify(st.Products, st.Counts)
	page, info := Paginate(q.View.Filter(items), q.Page, q.PerPage)

	return Dashboard{
		Summary:   SummarizeCounts(items),
		Items:     page,
		Page:      info,
		View:      q.View,
		Stores:    StoreOptions(st.Products),
		Locations: LocationOptions(st.Products, q.View.Store),
	}, nil
}

// Export renders a report from the current state, stamping dates in the
// configured export timezone.
func (s *Service) Export(ctx context.Context, orgID string, kind ReportKind, now time.Time) (Report, error) {
	st, err := s.State(ctx, orgID)
	if err != nil {
		return Report{}, err
	}
	if now.IsZero() {
		now = s.now()
	}
	rep, err := RenderReport(kind, st, now.In(s.loc))
	if err != nil {
		return Report{}, err
	}

	LogAudit(ctx, AuditEntry{Action: ActionExport, RowsAffected: int64(len(st.Products)), Reason: string(kind)})
	return rep, nil
}

// ExportFresh renders a report straight from the store without loading a
// snapshot. The CLI uses it for one-off exports.
func (s *Service) ExportFresh(ctx context.Context, orgID string, kind ReportKind, now time.Time) (Report, error) {
	st, err := s.loadState(ctx, orgID)
	if err != nil {
		return Report{}, fmt.Errorf("load %s: %w", orgID, err)
	}
	return RenderReport(kind, st, now.In(s.loc))
}
