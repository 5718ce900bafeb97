package search

import (
	"time"

	"argus/core"
)

// Build translates a Spec into the engine's boolean query body. It is a
// pure function of the spec: no I/O, no clock reads, structurally
// identical output for identical input.
func Build(spec Spec) map[string]interface{} {
	var must []interface{}
	var filter []interface{}

	if spec.FreeText != "" {
		must = append(must, map[string]interface{}{
			"query_string": map[string]interface{}{
				"query":            spec.FreeText,
				"default_operator": "AND",
				"analyze_wildcard": true,
				"fields":           []interface{}{"*"},
			},
		})
	}

	if clause := flagClause(spec); clause != nil {
		filter = append(filter, clause...)
	}
	if clause := formatClause(spec.Formats); clause != nil {
		filter = append(filter, clause)
	}
	if clause := dateClause(spec.Dates); clause != nil {
		filter = append(filter, clause)
	}
	if clause := visibilityClause(spec.Visibility); clause != nil {
		filter = append(filter, clause)
	}

	boolQuery := map[string]interface{}{}
	if len(must) > 0 {
		boolQuery["must"] = must
	}
	if len(filter) > 0 {
		boolQuery["filter"] = filter
	}
	if len(boolQuery) == 0 {
		return map[string]interface{}{"match_all": map[string]interface{}{}}
	}
	return map[string]interface{}{"bool": boolQuery}
}

func flagClause(spec Spec) []interface{} {
	switch spec.Flags {
	case FlagDetections:
		return []interface{}{termClause(core.FieldDetectionFlag, true)}
	case FlagIndicators:
		return []interface{}{indicatorCountClause(1)}
	case FlagIndicatorsTwo:
		return []interface{}{indicatorCountClause(2)}
	case FlagIndicatorsThree:
		return []interface{}{indicatorCountClause(3)}
	case FlagBoth:
		return []interface{}{
			termClause(core.FieldDetectionFlag, true),
			indicatorCountClause(1),
		}
	case FlagTaggedOnly:
		// An empty id list must match nothing; an ids clause with no
		// values does exactly that. Leaving the clause out would leak
		// every unfiltered document instead.
		ids := make([]interface{}, 0, len(spec.TaggedIDs))
		for _, id := range spec.TaggedIDs {
			ids = append(ids, id)
		}
		return []interface{}{
			map[string]interface{}{
				"ids": map[string]interface{}{"values": ids},
			},
		}
	}
	return nil
}

func termClause(field string, value interface{}) map[string]interface{} {
	return map[string]interface{}{
		"term": map[string]interface{}{field: value},
	}
}

func indicatorCountClause(min int) map[string]interface{} {
	return map[string]interface{}{
		"range": map[string]interface{}{
			core.FieldIndicatorCount: map[string]interface{}{"gte": min},
		},
	}
}

// formatClause filters by source format. Each selected format matches
// either documents tagged with its label or untagged documents whose
// structure matches its telltale fields. The structural path keeps
// documents indexed before format tagging existed visible to the
// filter.
func formatClause(formats []core.SourceFormat) map[string]interface{} {
	if len(formats) == 0 || len(formats) >= len(core.KnownFormats()) {
		return nil
	}

	var should []interface{}
	for _, format := range formats {
		should = append(should, termClause(core.FieldSourceFormat, string(format)))
		should = append(should, map[string]interface{}{
			"bool": map[string]interface{}{
				"must_not": []interface{}{existsClause(core.FieldSourceFormat)},
				"must":     formatProbe(format),
			},
		})
	}
	return map[string]interface{}{
		"bool": map[string]interface{}{
			"should":               should,
			"minimum_should_match": 1,
		},
	}
}

// formatProbe is the structural existence test for one format on
// untagged documents.
func formatProbe(format core.SourceFormat) []interface{} {
	switch format {
	case core.FormatWindowsEvent:
		return []interface{}{existsClause("Event.System.EventID")}
	case core.FormatEDR:
		return []interface{}{existsClause("event_simpleName")}
	case core.FormatFirewall:
		return []interface{}{existsClause("action"), existsClause("src_ip")}
	default:
		// Generic documents are the ones no specific probe claims.
		return []interface{}{
			map[string]interface{}{
				"bool": map[string]interface{}{
					"must_not": []interface{}{
						existsClause("Event.System.EventID"),
						existsClause("event_simpleName"),
						existsClause("action"),
					},
				},
			},
		}
	}
}

func existsClause(field string) map[string]interface{} {
	return map[string]interface{}{
		"exists": map[string]interface{}{"field": field},
	}
}

func dateClause(dates DateRange) map[string]interface{} {
	switch dates.Mode {
	case DateRelative:
		start := dates.Reference.Add(-dates.Window)
		return timestampRange(start, dates.Reference)
	case DateAbsolute:
		return timestampRange(dates.Start, dates.End)
	}
	return nil
}

func timestampRange(start, end time.Time) map[string]interface{} {
	return map[string]interface{}{
		"range": map[string]interface{}{
			core.FieldNormTimestamp: map[string]interface{}{
				"gte": start.UTC().Format(time.RFC3339),
				"lte": end.UTC().Format(time.RFC3339),
			},
		},
	}
}

func visibilityClause(visibility Visibility) map[string]interface{} {
	switch visibility {
	case VisibilityExcludeHidden:
		// Older documents never carried the marker, so "absent" and
		// "explicitly false" are both visible.
		return map[string]interface{}{
			"bool": map[string]interface{}{
				"should": []interface{}{
					map[string]interface{}{
						"bool": map[string]interface{}{
							"must_not": []interface{}{existsClause(core.FieldHidden)},
						},
					},
					termClause(core.FieldHidden, false),
				},
				"minimum_should_match": 1,
			},
		}
	case VisibilityHiddenOnly:
		return termClause(core.FieldHidden, true)
	}
	return nil
}
