// Package core provides the business logic for stock counting.
//
// This package holds all domain logic independent of any UI or transport
// layer. It is used by the web handlers, the CLI and tests without
// modification; persistence is reached only through the [Store] interface.
//
// # Architecture
//
// The package is organized around several key concepts:
//
//   - Catalog: [Product] records owned by an [Organization], identified by
//     SKU for scanning and by ID everywhere else.
//   - Counting: append-only [CountRecord] events. A product's counted total
//     is always the sum of its full event history ([Total]).
//   - Import: tokenizing an upload ([ParseCSV]), mapping its columns onto
//     product fields ([Mapping]) and inserting the valid rows.
//   - Reporting: classification against expected stock ([Classify]),
//     dashboard views and CSV exports ([RenderReport]).
//   - Service: the entry point for every operation. It keeps one
//     [Snapshot] per organization.
//
// # Snapshots
//
// Each organization's products and counts are loaded once and then kept
// current by merging Changes from two sources: writes the store has
// confirmed, and the store's change feed ([Store.Subscribe]). A single
// goroutine per snapshot applies both, dropping count events whose id it
// has already seen, so a local write and its notification echo are counted
// once. Readers see immutable [State] values.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - VAL001-VAL006: Validation errors (mapping, totals, input)
//   - NF001-NF003: Missing products, SKUs and organizations
//   - IMP001-IMP002: Import errors (nothing to import, busy)
//   - FILE001-FILE003: Upload file errors
//   - RPT001: Unknown report kind
//   - REQ001-REQ002: Cancelled or timed out requests
//   - DB001-DB006: Database errors
//
// The web layer adds RATE001 for rate limiting and AUTH001-AUTH002 for API
// key failures.
//
// # Audit Logging
//
// Data modifications are logged with severity levels:
//
//   - Low: Product creation, exports
//   - Medium: Product edits
//   - High: Imports, bulk edits, deletions
//   - Critical: Catalog clears and count resets
package core
