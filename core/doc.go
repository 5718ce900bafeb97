// Package core contains the domain model shared by ingestion, search and
// repair: source records, the field normalizer, the dedup key generator,
// and the per-file processing state machine constants.
package core
