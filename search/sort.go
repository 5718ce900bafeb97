package search

import (
	"strings"

	"argus/core"
)

// sortableFields are stored in a directly sortable representation:
// dates, counters and flags. Everything else is analyzed text and must
// be sorted through its keyword variant. Both the bounded executor and
// the scroll exporter resolve sort fields through this one table so the
// two paths can never drift apart in ordering.
var sortableFields = map[string]struct{}{
	core.FieldNormTimestamp:  {},
	core.FieldImportedAt:     {},
	core.FieldIndicatorCount: {},
	core.FieldDetectionFlag:  {},
	core.FieldHidden:         {},
}

// resolveSortField redirects a textual sort field to its exact-match
// keyword variant.
func resolveSortField(field string) string {
	if field == "" {
		return ""
	}
	if strings.HasPrefix(field, "_") || strings.HasSuffix(field, ".keyword") {
		return field
	}
	if _, ok := sortableFields[field]; ok {
		return field
	}
	return field + ".keyword"
}

// sortBody builds the sort element of a query body. Without an explicit
// field it falls back to the record creation time, descending, tolerant
// of documents that do not carry the field.
func sortBody(sortField, sortOrder string) []interface{} {
	order := "desc"
	if strings.EqualFold(sortOrder, "asc") {
		order = "asc"
	}

	if sortField == "" {
		return []interface{}{
			map[string]interface{}{
				core.FieldImportedAt: map[string]interface{}{
					"order":         "desc",
					"missing":       "_last",
					"unmapped_type": "date",
				},
			},
		}
	}

	return []interface{}{
		map[string]interface{}{
			resolveSortField(sortField): map[string]interface{}{
				"order":         order,
				"missing":       "_last",
				"unmapped_type": "keyword",
			},
		},
	}
}
