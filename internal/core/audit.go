package core

import (
	"context"
	"log/slog"

	"github.com/JonMunkholm/stockcount/internal/logging"
)

// AuditAction names a change worth an audit line.
type AuditAction string

const (
	ActionProductCreate  AuditAction = "product_create"
	ActionProductUpdate  AuditAction = "product_update"
	ActionProductDelete  AuditAction = "product_delete"
	ActionProductsDelete AuditAction = "products_delete"
	ActionProductsClear  AuditAction = "products_delete_all"
	ActionBulkEdit       AuditAction = "bulk_expected_stock"
	ActionImport         AuditAction = "import_commit"
	ActionCountsReset    AuditAction = "counts_reset"
	ActionExport         AuditAction = "report_export"
)

// AuditSeverity ranks audit actions.
type AuditSeverity string

const (
	SeverityLow      AuditSeverity = "low"
	SeverityMedium   AuditSeverity = "medium"
	SeverityHigh     AuditSeverity = "high"
	SeverityCritical AuditSeverity = "critical"
)

// AuditEntry describes one audited change.
type AuditEntry struct {
	Action       AuditAction
	ProductID    string
	SKU          string
	RowsAffected int64
	Reason       string
}

func determineSeverity(action AuditAction) AuditSeverity {
	switch action {
	case ActionProductsClear, ActionCountsReset:
		return SeverityCritical
	case ActionImport, ActionBulkEdit, ActionProductsDelete, ActionProductDelete:
		return SeverityHigh
	case ActionProductCreate, ActionExport:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// LogAudit writes entry to the log with its severity and the request's
// client details. Critical entries are logged at warn level.
func LogAudit(ctx context.Context, entry AuditEntry) {
	severity := determineSeverity(entry.Action)

	attrs := []any{
		"audit", true,
		"action", string(entry.Action),
		"severity", string(severity),
	}
	if entry.ProductID != "" {
		attrs = append(attrs, "product_id", entry.ProductID)
	}
	if entry.SKU != "" {
		attrs = append(attrs, "sku", entry.SKU)
	}
	if entry.RowsAffected > 0 {
		attrs = append(attrs, "rows_affected", entry.RowsAffected)
	}
	if entry.Reason != "" {
		attrs = append(attrs, "reason", entry.Reason)
	}
	if ip := GetIPAddressFromContext(ctx); ip != "" {
		attrs = append(attrs, "ip", ip)
	}
	if ua := GetUserAgentFromContext(ctx); ua != "" {
		attrs = append(attrs, "user_agent", ua)
	}

	level := slog.LevelInfo
	if severity == SeverityCritical {
		level = slog.LevelWarn
	}
	logging.FromContext(ctx).Log(ctx, level, "audit", attrs...)
}
