package core

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// MaxDedupKeyLength bounds the composed key to the engine's document
// identifier limit.
const MaxDedupKeyLength = 512

// HashBasis records which payload the dedup hash was computed over, so
// callers can log when the generator degraded to a less accurate basis.
type HashBasis int

const (
	// BasisPayload hashes the record's semantically relevant payload.
	BasisPayload HashBasis = iota
	// BasisTriple hashes the normalized triple; used when no relevant
	// payload could be isolated.
	BasisTriple
	// BasisRawRecord hashes the entire raw record; least accurate, last
	// resort only.
	BasisRawRecord
)

func (b HashBasis) String() string {
	switch b {
	case BasisPayload:
		return "payload"
	case BasisTriple:
		return "triple"
	default:
		return "raw_record"
	}
}

// ingestionMetadataFields are excluded from the relevant payload of flat
// records: they describe how the record got here, not what happened.
var ingestionMetadataFields = map[string]struct{}{
	FieldCaseID:         {},
	FieldSourceFile:     {},
	FieldSourceFormat:   {},
	FieldImportedAt:     {},
	FieldNormTimestamp:  {},
	FieldNormHost:       {},
	FieldNormEventID:    {},
	FieldHidden:         {},
	FieldDetectionFlag:  {},
	FieldIndicatorCount: {},
	"_raw":              {},
}

// DedupKey derives the content-addressed document identifier for a
// record. It is a pure function: identical inputs always produce the
// same key. Two records with the same relevant payload, host, event id
// and second-truncated timestamp collapse to one key; that approximate
// policy (not exact equality) is intentional.
func DedupKey(caseID string, nf NormalizedFields, rec Record) (string, HashBasis) {
	hash, basis := payloadHash(nf, rec)

	key := fmt.Sprintf("case_%s_evt_%s_%s_%s_%s",
		caseID,
		valueOr(nf.EventID, nf.HasEventID),
		valueOr(nf.Host, nf.HasHost),
		truncatedTimestamp(nf),
		hash,
	)
	key = sanitizeKey(key)
	if len(key) > MaxDedupKeyLength {
		key = key[:MaxDedupKeyLength]
	}
	return key, basis
}

// RelevantPayload isolates the portion of the record that represents
// "what happened". For structured event-log shapes that is the nested
// event-data block; for flat shapes it is every field outside the
// ingestion-metadata exclusion set.
func RelevantPayload(rec Record) (map[string]interface{}, bool) {
	if rec.Fields == nil {
		return nil, false
	}

	paths := [][]string{
		{"Event", "EventData"},
		{"Event", "Event", "EventData"},
	}
	for _, path := range paths {
		if v, ok := lookupPath(rec.Fields, path...); ok {
			if data, ok := v.(map[string]interface{}); ok && len(data) > 0 {
				return data, true
			}
		}
	}

	// Structured records without an EventData block have nothing flat to
	// fall back on; flat records keep everything but ingestion metadata.
	if _, structured := rec.Fields["Event"]; structured && rec.Format == FormatWindowsEvent {
		return nil, false
	}

	payload := make(map[string]interface{}, len(rec.Fields))
	for k, v := range rec.Fields {
		if _, excluded := ingestionMetadataFields[k]; excluded {
			continue
		}
		payload[k] = v
	}
	if len(payload) == 0 {
		return nil, false
	}
	return payload, true
}

func payloadHash(nf NormalizedFields, rec Record) (string, HashBasis) {
	if payload, ok := RelevantPayload(rec); ok {
		return shortHash(canonicalString(payload)), BasisPayload
	}
	if nf.HasTimestamp || nf.HasHost || nf.HasEventID {
		triple := fmt.Sprintf("%s|%s|%s", nf.Timestamp, nf.Host, nf.EventID)
		return shortHash(triple), BasisTriple
	}
	return shortHash(canonicalString(rec.Fields)), BasisRawRecord
}

// shortHash is a 64-bit xxHash rendered as 16 hex characters. Collision
// is an accepted, bounded risk of the approximate-dedup design.
func shortHash(s string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(s))
}

// canonicalString serializes a value with map keys in sorted order so
// field ordering never changes the hash.
func canonicalString(value interface{}) string {
	var b strings.Builder
	writeCanonical(&b, value)
	return b.String()
}

func writeCanonical(b *strings.Builder, value interface{}) {
	switch v := value.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(k)
			b.WriteByte(':')
			writeCanonical(b, v[k])
		}
		b.WriteByte('}')
	case []interface{}:
		b.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	default:
		fmt.Fprintf(b, "%v", v)
	}
}

// truncatedTimestamp renders the normalized timestamp truncated to the
// whole second. Sub-second precision must not split duplicates.
func truncatedTimestamp(nf NormalizedFields) string {
	if !nf.HasTimestamp {
		return "unknown"
	}
	if t, err := time.Parse(time.RFC3339Nano, nf.Timestamp); err == nil {
		return t.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z")
	}
	return nf.Timestamp
}

func valueOr(value string, ok bool) string {
	if !ok {
		return "unknown"
	}
	return value
}

// sanitizeKey replaces characters unsafe in document identifiers, file
// paths or query strings. The replacement is deterministic so sanitizing
// never breaks key stability.
func sanitizeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
