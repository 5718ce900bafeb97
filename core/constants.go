package core

import "fmt"

// IndexSchemaVersion is the field-layout version written by the current
// code. Indexes stamped with any other value (or none) require a full
// re-index before they may receive new documents.
const IndexSchemaVersion = "2"

// IndexVersionSettingKey is the per-index setting that stores the schema
// version the index's documents were written under.
const IndexVersionSettingKey = "index.argus.schema_version"

// Document field names attached or consumed by this core. Normalized
// fields are attached at ingestion time; flag fields are written by the
// external matching engines and only filtered here.
const (
	FieldCaseID         = "case_id"
	FieldSourceFile     = "source_file"
	FieldSourceFormat   = "source_format"
	FieldImportedAt     = "imported_at"
	FieldNormTimestamp  = "norm_timestamp"
	FieldNormHost       = "norm_host"
	FieldNormEventID    = "norm_event_id"
	FieldHidden         = "hidden"
	FieldDetectionFlag  = "detection_flag"
	FieldIndicatorCount = "indicator_count"
)

// Processing status values for an IndexedFile. Any other string is
// treated as failed.
const (
	StatusQueued       = "queued"
	StatusIndexing     = "indexing"
	StatusSigmaTesting = "sigma_testing"
	StatusIOCHunting   = "ioc_hunting"
	StatusCompleted    = "completed"
)

// ProcessingStatuses are the non-terminal states a worker moves a file
// through while it holds a task for it.
func ProcessingStatuses() []string {
	return []string{StatusIndexing, StatusSigmaTesting, StatusIOCHunting}
}

// IsProcessing reports whether status means a worker should currently be
// holding a live task for the file.
func IsProcessing(status string) bool {
	switch status {
	case StatusIndexing, StatusSigmaTesting, StatusIOCHunting:
		return true
	}
	return false
}

// IndexForCase returns the search index name holding a case's documents.
func IndexForCase(caseID string) string {
	return fmt.Sprintf("argus-case-%s", caseID)
}
