// Package search turns user-facing search requests into engine query
// bodies and executes them, bounded for pagination or unbounded through
// a server-side cursor for export.
package search

import (
	"time"

	"argus/core"
)

// FlagFilter selects one of the mutually exclusive flag filter modes.
type FlagFilter int

const (
	// FlagAny applies no flag filter.
	FlagAny FlagFilter = iota
	// FlagDetections matches documents flagged by the detection engine.
	FlagDetections
	// FlagIndicators matches documents with at least one indicator hit.
	FlagIndicators
	// FlagIndicatorsTwo matches documents with two or more indicator hits.
	FlagIndicatorsTwo
	// FlagIndicatorsThree matches documents with three or more indicator hits.
	FlagIndicatorsThree
	// FlagBoth requires a detection flag and an indicator hit on the
	// same document (AND, not OR).
	FlagBoth
	// FlagTaggedOnly matches only the analyst-tagged documents whose ids
	// the caller supplies. An empty id list matches nothing.
	FlagTaggedOnly
)

// DateMode selects how the date range is interpreted.
type DateMode int

const (
	// DateAll applies no date filter.
	DateAll DateMode = iota
	// DateRelative filters to a window ending at the caller-supplied
	// reference time (the case's latest event, never the wall clock).
	DateRelative
	// DateAbsolute filters between explicit start and end bounds.
	DateAbsolute
)

// DateRange is the date filter of a search request.
type DateRange struct {
	Mode   DateMode
	Window time.Duration // relative mode: size of the window
	// Reference is the case's most recent event timestamp. Relative
	// windows are computed against it so historical cases stay
	// filterable; callers must not pass time.Now().
	Reference time.Time
	Start     time.Time // absolute mode
	End       time.Time // absolute mode
}

// Visibility selects how hidden documents are treated.
type Visibility int

const (
	// VisibilityExcludeHidden hides documents whose hidden marker is
	// true. Documents without the marker count as visible.
	VisibilityExcludeHidden Visibility = iota
	// VisibilityAll applies no visibility filter.
	VisibilityAll
	// VisibilityHiddenOnly shows only hidden documents.
	VisibilityHiddenOnly
)

// Spec is the in-memory representation of one search request.
type Spec struct {
	FreeText   string
	Flags      FlagFilter
	TaggedIDs  []string // required when Flags is FlagTaggedOnly
	Dates      DateRange
	Formats    []core.SourceFormat // subset of known formats; empty or full set applies no filter
	Visibility Visibility
}
