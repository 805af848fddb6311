package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ReportKind names an export.
type ReportKind string

const (
	ReportSummary  ReportKind = "inventory_summary"
	ReportAuditLog ReportKind = "audit_log"
)

// ParseReportKind accepts the report names and their short forms.
func ParseReportKind(s string) (ReportKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inventory_summary", "summary":
		return ReportSummary, nil
	case "audit_log", "audit":
		return ReportAuditLog, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownReport, s)
}

var (
	summaryHeader = []string{
		"SKU", "Product Name", "Category Level 1", "Category Level 2", "Category Level 3",
		"Price", "Expected Count", "Actual Count", "Discrepancy", "Store", "Location",
	}
	auditLogHeader = []string{
		"Timestamp", "Date", "Time", "Counter Name", "SKU", "Product Name", "Quantity", "Store", "Location",
	}
)

const unknownLabel = "Unknown"

// reportWriter accumulates newline-separated CSV lines.
type reportWriter struct {
	b     strings.Builder
	lines int
}

// field is one cell; quoted cells are always wrapped in quotes.
type field struct {
	value  string
	quoted bool
}

func text(s string) field   { return field{value: s} }
func quoted(s string) field { return field{value: s, quoted: true} }
func number(n int) field    { return field{value: strconv.Itoa(n)} }

func (w *reportWriter) header(names []string) {
	fields := make([]field, len(names))
	for i, n := range names {
		fields[i] = text(n)
	}
	w.row(fields...)
}

func (w *reportWriter) row(fields ...field) {
	if w.lines > 0 {
		w.b.WriteByte('\n')
	}
	for i, f := range fields {
		if i > 0 {
			w.b.WriteByte(',')
		}
		writeCSVField(&w.b, f.value, f.quoted)
	}
	w.lines++
}

// SummaryReport renders one line per product with its counted total and
// discrepancy. Absent price and expected stock render as 0.
func SummaryReport(products []Product, events []CountRecord) string {
	var w reportWriter
	w.header(summaryHeader)

	for _, pc := range Classify(products, events) {
		p := pc.Product
		w.row(
			text(p.SKU),
			quoted(p.Name),
			text(p.CategoryLevel1),
			text(p.CategoryLevel2),
			text(p.CategoryLevel3),
			text(formatPrice(p.Price)),
			number(pc.Expected),
			number(pc.Counted),
			number(pc.Diff),
			text(p.Store),
			text(p.Location),
		)
	}
	return w.b.String()
}

// AuditLogReport renders one line per count event, newest first. Dates and
// times are shown in loc. Events whose product is gone show "Unknown".
func AuditLogReport(products []Product, events []CountRecord, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}

	byID := make(map[string]Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	sorted := append([]CountRecord(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp > sorted[j].Timestamp
	})

	var w reportWriter
	w.header(auditLogHeader)

	for _, e := range sorted {
		at := e.Time().In(loc)
		counter := e.CounterName
		if counter == "" {
			counter = unknownLabel
		}
		sku, name := unknownLabel, unknownLabel
		p, ok := byID[e.ProductID]
		if ok {
			if p.SKU != "" {
				sku = p.SKU
			}
			if p.Name != "" {
				name = p.Name
			}
		}

		w.row(
			text(strconv.FormatInt(e.Timestamp, 10)),
			text(at.Format("2006-01-02")),
			text(at.Format("15:04:05")),
			quoted(counter),
			text(sku),
			quoted(name),
			number(e.Quantity),
			text(p.Store),
			text(p.Location),
		)
	}
	return w.b.String()
}

func formatPrice(p *float64) string {
	if p == nil {
		return "0"
	}
	return decimal.NewFromFloat(*p).String()
}

// ReportFilename is <kind>_<YYYY-MM-DD>_<HH-MM-SS>.csv in now's location.
func ReportFilename(kind ReportKind, now time.Time) string {
	return fmt.Sprintf("%s_%s.csv", kind, now.Format("2006-01-02_15-04-05"))
}

// RenderReport produces the named report from a consistent state.
func RenderReport(kind ReportKind, st *State, now time.Time) (Report, error) {
	var content string
	switch kind {
	case ReportSummary:
		content = SummaryReport(st.Products, st.Counts)
	case ReportAuditLog:
		content = AuditLogReport(st.Products, st.Counts, now.Location())
	default:
		return Report{}, fmt.Errorf("%w: %q", ErrUnknownReport, kind)
	}
	return Report{Kind: kind, Filename: ReportFilename(kind, now), Content: content}, nil
}
