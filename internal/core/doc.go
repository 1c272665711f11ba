// Package core provides the business logic for bulk inventory imports.
//
// The package is independent of any transport. It is driven by the web
// handlers, the CLI and the job manager through [Importer.Run].
//
// # Pipeline
//
// One run moves a CSV file through five stages:
//
//  1. [SecurityGate] checks existence, size, extension, the header row and
//     path confinement before any data row is read
//  2. [RowMapper] turns each row into item attributes via the column mapping
//     and optional named transformers
//  3. [RecordClassifier] sorts rows into insertable, updatable or invalid
//  4. [BatchWriter] buffers records and writes them in batches, one
//     set-oriented insert per batch of new items
//  5. [AuditCorrelator] matches inserted rows back to their records and
//     builds one audit entry per created item
//
// Every write of a run happens inside a single transaction. A failure in
// any batch rolls back the whole run, so either every valid row and its
// audit entry is persisted or nothing is.
//
// # Correlation
//
// How inserted rows are matched to records depends on [CorrelationMode]:
//
//	returning  zip the identifiers returned by the insert (exact)
//	baseline   read MAX(id) first, then zip the rows above it (best-effort)
//	per_row    one insert per record (exact, slower)
//	auto       returning when the store supports it, else baseline
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError]:
//
//   - SEC001-SEC006: File rejected before import
//   - ROW001-ROW004: Per-row problems reported in invalid_records
//   - DB001-DB008: Database errors, the run was rolled back
//   - IMP001-IMP005: Run lifecycle (cancelled, busy, not found)
package core
