package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/stockcount/internal/logging"
)

// ImportPreview is what the mapping screen shows for an upload under a
// mapping: the current assignment, what still blocks the commit, and the
// first rows converted exactly as a commit would convert them.
type ImportPreview struct {
	Headers    []string       `json:"headers"`
	Fields     []FieldStatus  `json:"fields"`
	Mapping    MappingSpec    `json:"mapping"`
	Missing    []ProductField `json:"missing"`
	CanProceed bool           `json:"can_proceed"`
	Rows       []ProductInput `json:"rows"`
	TotalRows  int            `json:"total_rows"`
	ValidRows  int            `json:"valid_rows"`
}

// FieldStatus describes one product field on the mapping screen.
type FieldStatus struct {
	Field    ProductField `json:"field"`
	Label    string       `json:"label"`
	Required bool         `json:"required"`
	Column   string       `json:"column,omitempty"`
}

// parseUpload tokenizes text and rejects uploads without a header row.
func parseUpload(text string) (CSVData, error) {
	data := ParseCSV(text)
	if len(data.Headers) == 0 {
		return CSVData{}, ErrEmptyFile
	}
	return data, nil
}

// mappingFor returns the auto-mapping when spec is nil, otherwise the
// client's mapping.
func mappingFor(headers []string, spec *MappingSpec) (*Mapping, error) {
	if spec == nil {
		return NewMapping(headers), nil
	}
	return NewMappingFromSpec(headers, *spec)
}

// PreviewImport tokenizes an upload and converts its first rows under spec,
// or under the auto-mapping when spec is nil. Nothing is written.
func (s *Service) PreviewImport(ctx context.Context, text string, spec *MappingSpec) (ImportPreview, error) {
	data, err := parseUpload(text)
	if err != nil {
		return ImportPreview{}, err
	}
	m, err := mappingFor(data.Headers, spec)
	if err != nil {
		return ImportPreview{}, err
	}

	valid, _ := m.Convert(data.Rows)
	preview := ImportPreview{
		Headers:    m.Headers(),
		Fields:     fieldStatuses(m),
		Mapping:    m.Spec(),
		Missing:    m.Missing(),
		CanProceed: m.CanProceed(),
		Rows:       m.Preview(data.Rows, s.cfg.Import.PreviewRows),
		TotalRows:  len(data.Rows),
	}
	if preview.CanProceed {
		preview.ValidRows = len(valid)
	}

	logging.FromContext(ctx).Debug("import preview",
		"columns", len(preview.Headers),
		"rows", preview.TotalRows,
		"can_proceed", preview.CanProceed,
	)
	return preview, nil
}

func fieldStatuses(m *Mapping) []FieldStatus {
	out := make([]FieldStatus, 0, numProductFields)
	for _, f := range ProductFields() {
		col, _ := m.Column(f)
		out = append(out, FieldStatus{
			Field:    f,
			Label:    f.Label(),
			Required: f.Required(),
			Column:   col,
		})
	}
	return out
}

// CommitImport converts every row of an upload and inserts the rows that
// have both SKU and name as new products. It fails with *MappingError while
// a required field is unmapped and with ErrNothingToImport when every row is
// rejected. Existing products are never matched or updated.
func (s *Service) CommitImport(ctx context.Context, orgID, text string, spec *MappingSpec) (ImportResult, error) {
	data, err := parseUpload(text)
	if err != nil {
		return ImportResult{}, err
	}
	m, err := mappingFor(data.Headers, spec)
	if err != nil {
		return ImportResult{}, err
	}
	if err := m.Validate(); err != nil {
		return ImportResult{}, err
	}

	valid, rejected := m.Convert(data.Rows)
	if len(valid) == 0 {
		return ImportResult{}, ErrNothingToImport
	}

	snap, err := s.snapshot(ctx, orgID)
	if err != nil {
		return ImportResult{}, err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return ImportResult{}, err
	}
	defer s.limiter.Release()

	importCtx, cancel := context.WithTimeout(ctx, s.cfg.Import.Timeout)
	defer cancel()

	start := time.Now()
	inserted, err := s.insertProducts(importCtx, orgID, valid)
	if err != nil {
		return ImportResult{}, err
	}
	s.commit(ctx, snap, Change{Kind: ChangeProductUpsert, OrganizationID: orgID, Products: inserted})

	result := ImportResult{Inserted: len(inserted), Rejected: rejected}
	logging.FromContext(ctx).Info("import committed",
		"inserted", result.Inserted,
		"rejected", result.Rejected,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	LogAudit(ctx, AuditEntry{
		Action:       ActionImport,
		RowsAffected: int64(result.Inserted),
		Reason:       fmt.Sprintf("rejected=%d", rejected),
	})
	return result, nil
}

// insertProducts runs the store insert, turning a panic into an error so the
// import slot is always released.
func (s *Service) insertProducts(ctx context.Context, orgID string, rows []ProductInput) (inserted []Product, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in import", "org_id", orgID, "rows", len(rows), "panic", r)
			err = fmt.Errorf("import failed: internal error: %v", r)
		}
	}()

	inserted, err = s.store.InsertProducts(ctx, orgID, rows)
	if err != nil {
		return nil, fmt.Errorf("insert %d products: %w", len(rows), err)
	}
	return inserted, nil
}
