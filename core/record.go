package core

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// SourceFormat identifies the declared shape of an ingested record.
type SourceFormat string

const (
	// FormatWindowsEvent is a structured Windows event log record (EVTX tree).
	FormatWindowsEvent SourceFormat = "evtx"
	// FormatEDR is a flat common-schema JSON record from an EDR sensor.
	FormatEDR SourceFormat = "edr"
	// FormatFirewall is a tabular firewall/CSV row.
	FormatFirewall SourceFormat = "firewall"
	// FormatGeneric is arbitrary JSON with no known schema.
	FormatGeneric SourceFormat = "json"
)

// KnownFormats returns every source format the normalizer understands.
func KnownFormats() []SourceFormat {
	return []SourceFormat{FormatWindowsEvent, FormatEDR, FormatFirewall, FormatGeneric}
}

// Record is one ingested log entry: a format hint plus the raw nested
// key/value payload. Records are ephemeral; they exist only during
// ingestion and are written to the index as flat documents.
type Record struct {
	Format SourceFormat
	Fields map[string]interface{}
}

// lookupPath walks a nested map path and returns the value at the end.
// It returns false as soon as any path element is missing or not a map.
func lookupPath(fields map[string]interface{}, path ...string) (interface{}, bool) {
	current := fields
	for i, part := range path {
		value, ok := current[part]
		if !ok {
			return nil, false
		}
		if i == len(path)-1 {
			return value, true
		}
		next, ok := value.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current = next
	}
	return nil, false
}

// stringValue converts a scalar field value to its string form.
// Integral floats (the usual JSON number decoding) are rendered without
// a decimal point so "4624" and 4624.0 normalize identically.
func stringValue(value interface{}) (string, bool) {
	switch v := value.(type) {
	case string:
		s := strings.TrimSpace(v)
		return s, s != ""
	case int:
		return strconv.Itoa(v), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return strconv.FormatInt(int64(v), 10), true
		}
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case float32:
		return stringValue(float64(v))
	case bool:
		return strconv.FormatBool(v), true
	case nil:
		return "", false
	default:
		s := strings.TrimSpace(fmt.Sprintf("%v", v))
		return s, s != ""
	}
}
