package core

import (
	"strconv"
	"time"
)

// NormalizedFields is the canonical (timestamp, host, event-id) triple
// extracted from a record. A field that could not be resolved stays
// absent (Has* false); it is never represented as an empty string, so
// consumers can tell "unknown" from "resolved-to-falsy".
type NormalizedFields struct {
	Timestamp string
	Host      string
	EventID   string

	HasTimestamp bool
	HasHost      bool
	HasEventID   bool
}

// FirewallHostLabel is attached as the host of tabular firewall records
// that carry no explicit host field. The format context makes a default
// meaningful there: the record came from the network appliance itself.
const FirewallHostLabel = "network-appliance"

// Normalize extracts the canonical triple from a record. It is a pure
// function of the record content and its format hint: for each field it
// tries an ordered list of strategies and takes the first non-empty
// result, never merging partial results across strategies. Parse
// failures leave the field absent.
func Normalize(rec Record) NormalizedFields {
	var nf NormalizedFields
	if rec.Fields == nil {
		return nf
	}

	if ts, ok := extractTimestamp(rec); ok {
		nf.Timestamp = ts
		nf.HasTimestamp = true
	}
	if host, ok := extractHost(rec); ok {
		nf.Host = host
		nf.HasHost = true
	}
	if id, ok := extractEventID(rec); ok {
		nf.EventID = id
		nf.HasEventID = true
	}
	return nf
}

// Apply attaches the resolved fields to a document. Absent fields are
// not written. Reapplying is idempotent: Normalize is deterministic, so
// recomputing and reattaching always writes the same values.
func (nf NormalizedFields) Apply(doc map[string]interface{}) {
	if nf.HasTimestamp {
		doc[FieldNormTimestamp] = nf.Timestamp
	}
	if nf.HasHost {
		doc[FieldNormHost] = nf.Host
	}
	if nf.HasEventID {
		doc[FieldNormEventID] = nf.EventID
	}
}

// Timestamp extraction. Strategy order: the structured event-log time
// field, the import-wrapped variant of the same structure, then a fixed
// list of common flat field names.

var flatTimestampFields = []string{
	"@timestamp",
	"timestamp",
	"TimeCreated",
	"SystemTime",
	"EventTime",
	"UtcTime",
	"_time",
	"time",
	"datetime",
	"date",
}

func extractTimestamp(rec Record) (string, bool) {
	strategies := []func(Record) (interface{}, bool){
		structuredTimeValue,
		wrappedStructuredTimeValue,
		flatTimeValue,
	}
	for _, strategy := range strategies {
		raw, ok := strategy(rec)
		if !ok {
			continue
		}
		return parseTimestamp(raw)
	}
	return "", false
}

func structuredTimeValue(rec Record) (interface{}, bool) {
	if v, ok := lookupPath(rec.Fields, "Event", "System", "TimeCreated", "#attributes", "SystemTime"); ok {
		return v, true
	}
	return lookupPath(rec.Fields, "Event", "System", "TimeCreated", "SystemTime")
}

func wrappedStructuredTimeValue(rec Record) (interface{}, bool) {
	inner, ok := lookupPath(rec.Fields, "Event", "Event")
	if !ok {
		return nil, false
	}
	innerMap, ok := inner.(map[string]interface{})
	if !ok {
		return nil, false
	}
	return structuredTimeValue(Record{Format: rec.Format, Fields: map[string]interface{}{"Event": innerMap}})
}

func flatTimeValue(rec Record) (interface{}, bool) {
	for _, name := range flatTimestampFields {
		if v, ok := rec.Fields[name]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// timestampLayouts are the fixed locale patterns tried after ISO-8601,
// bare date and epoch parsing have all failed. Order matters: first
// successful parse wins.
var timestampLayouts = []string{
	"01/02/2006 15:04:05",
	"2006/01/02 15:04:05",
	"2006-01-02 15:04:05",
	"01-02-2006 15:04:05",
}

// parseTimestamp turns a raw timestamp value into an ISO-8601 UTC
// string. On total failure it reports absent rather than defaulting to
// the current time or the zero time.
func parseTimestamp(raw interface{}) (string, bool) {
	switch v := raw.(type) {
	case float64:
		return epochToISO(v)
	case int:
		return epochToISO(float64(v))
	case int64:
		return epochToISO(float64(v))
	}

	s, ok := stringValue(raw)
	if !ok {
		return "", false
	}

	// Already ISO-8601, with or without zone. Zone-less values are
	// treated as UTC (the EVTX SystemTime convention).
	isoLayouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999",
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(time.RFC3339Nano), true
		}
	}

	// Bare date.
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC().Format(time.RFC3339Nano), true
	}

	// Unix epoch rendered as a string.
	if epoch, err := strconv.ParseFloat(s, 64); err == nil {
		return epochToISO(epoch)
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(time.RFC3339Nano), true
		}
	}
	return "", false
}

// epochToISO converts an epoch value to ISO-8601. Values past the year
// ~33658 threshold are taken to be milliseconds and rescaled.
func epochToISO(epoch float64) (string, bool) {
	if epoch <= 0 {
		return "", false
	}
	const millisThreshold = 1e12
	if epoch >= millisThreshold {
		epoch = epoch / 1000
	}
	sec := int64(epoch)
	nsec := int64((epoch - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC().Format(time.RFC3339Nano), true
}

// Host extraction.

var flatHostFields = []string{
	"host",
	"hostname",
	"Computer",
	"ComputerName",
	"computer_name",
	"agent_hostname",
	"device_name",
	"dvchost",
}

func extractHost(rec Record) (string, bool) {
	if v, ok := lookupPath(rec.Fields, "Event", "System", "Computer"); ok {
		if s, ok := hostValue(v); ok {
			return s, true
		}
	}
	if inner, ok := lookupPath(rec.Fields, "Event", "Event", "System", "Computer"); ok {
		if s, ok := hostValue(inner); ok {
			return s, true
		}
	}
	for _, name := range flatHostFields {
		if v, ok := rec.Fields[name]; ok {
			if s, ok := hostValue(v); ok {
				return s, true
			}
		}
	}
	// A firewall-shaped record with no host field is still known to
	// originate from the appliance itself.
	if rec.Format == FormatFirewall {
		return FirewallHostLabel, true
	}
	return "", false
}

// hostValue accepts both scalar hosts and one level of {"name": ...}
// nesting (the common-schema "host" object).
func hostValue(value interface{}) (string, bool) {
	if m, ok := value.(map[string]interface{}); ok {
		if name, ok := m["name"]; ok {
			return stringValue(name)
		}
		return "", false
	}
	return stringValue(value)
}

// Event identifier extraction. Numeric and string representations are
// both accepted; the result is always stringified.

var flatEventIDFields = []string{
	"event_id",
	"eventid",
	"EventID",
	"event_code",
	"EventCode",
}

func extractEventID(rec Record) (string, bool) {
	if v, ok := lookupPath(rec.Fields, "Event", "System", "EventID"); ok {
		if s, ok := eventIDValue(v); ok {
			return s, true
		}
	}
	if v, ok := lookupPath(rec.Fields, "Event", "Event", "System", "EventID"); ok {
		if s, ok := eventIDValue(v); ok {
			return s, true
		}
	}
	for _, name := range flatEventIDFields {
		if v, ok := rec.Fields[name]; ok {
			if s, ok := eventIDValue(v); ok {
				return s, true
			}
		}
	}
	return "", false
}

// eventIDValue accepts scalars and the EVTX {"#text": ...} wrapping that
// appears when the identifier carries qualifier attributes.
func eventIDValue(value interface{}) (string, bool) {
	if m, ok := value.(map[string]interface{}); ok {
		if text, ok := m["#text"]; ok {
			return stringValue(text)
		}
		return "", false
	}
	return stringValue(value)
}

// DetectFormat guesses the source format of an untagged record from its
// structure. Used by the query builder's legacy-document probes and as
// a fallback when the upload pipeline supplied no hint.
func DetectFormat(fields map[string]interface{}) SourceFormat {
	if _, ok := lookupPath(fields, "Event", "System"); ok {
		return FormatWindowsEvent
	}
	if _, ok := lookupPath(fields, "Event", "Event", "System"); ok {
		return FormatWindowsEvent
	}
	if _, ok := fields["event_simpleName"]; ok {
		return FormatEDR
	}
	if _, ok := fields["agent_hostname"]; ok {
		return FormatEDR
	}
	_, hasAction := fields["action"]
	_, hasSrc := fields["src_ip"]
	if hasAction && hasSrc {
		return FormatFirewall
	}
	return FormatGeneric
}
