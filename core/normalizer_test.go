package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evtxRecord(systemTime string) Record {
	return Record{
		Format: FormatWindowsEvent,
		Fields: map[string]interface{}{
			"Event": map[string]interface{}{
				"System": map[string]interface{}{
					"TimeCreated": map[string]interface{}{
						"#attributes": map[string]interface{}{
							"SystemTime": systemTime,
						},
					},
					"Computer": "WORKSTATION-01",
					"EventID":  float64(4624),
				},
				"EventData": map[string]interface{}{
					"TargetUserName": "alice",
					"LogonType":      float64(2),
				},
			},
		},
	}
}

func TestNormalize_WindowsEventRecord(t *testing.T) {
	rec := evtxRecord("2023-10-31T12:00:00.123456Z")

	nf := Normalize(rec)

	require.True(t, nf.HasTimestamp)
	require.True(t, nf.HasHost)
	require.True(t, nf.HasEventID)
	assert.Equal(t, "2023-10-31T12:00:00.123456Z", nf.Timestamp)
	assert.Equal(t, "WORKSTATION-01", nf.Host)
	assert.Equal(t, "4624", nf.EventID)
}

func TestNormalize_Deterministic(t *testing.T) {
	rec := evtxRecord("2023-10-31T12:00:00Z")

	first := Normalize(rec)
	second := Normalize(rec)

	assert.Equal(t, first, second, "normalization must be a pure function of record content")
}

func TestNormalize_ImportWrappedVariant(t *testing.T) {
	inner := evtxRecord("2024-01-15T08:30:00Z").Fields["Event"]
	rec := Record{
		Format: FormatWindowsEvent,
		Fields: map[string]interface{}{
			"Event": map[string]interface{}{"Event": inner},
		},
	}

	nf := Normalize(rec)

	require.True(t, nf.HasTimestamp)
	assert.Equal(t, "2024-01-15T08:30:00Z", nf.Timestamp)
	assert.Equal(t, "WORKSTATION-01", nf.Host)
	assert.Equal(t, "4624", nf.EventID)
}

func TestNormalize_StructuredBeatsFlat(t *testing.T) {
	rec := evtxRecord("2023-10-31T12:00:00Z")
	// A flat timestamp must not override the structured strategy.
	rec.Fields["timestamp"] = "1999-01-01T00:00:00Z"

	nf := Normalize(rec)
	assert.Equal(t, "2023-10-31T12:00:00Z", nf.Timestamp)
}

func TestNormalize_FlatFieldNames(t *testing.T) {
	rec := Record{
		Format: FormatEDR,
		Fields: map[string]interface{}{
			"@timestamp": "2023-06-01T10:20:30Z",
			"hostname":   "edr-sensor-7",
			"event_id":   "PROC_START",
		},
	}

	nf := Normalize(rec)

	assert.Equal(t, "2023-06-01T10:20:30Z", nf.Timestamp)
	assert.Equal(t, "edr-sensor-7", nf.Host)
	assert.Equal(t, "PROC_START", nf.EventID)
}

func TestNormalize_TimestampParsing(t *testing.T) {
	cases := []struct {
		name  string
		value interface{}
		want  string
	}{
		{"iso with offset", "2023-10-31T14:00:00+02:00", "2023-10-31T12:00:00Z"},
		{"iso without zone", "2023-10-31T12:00:00.5", "2023-10-31T12:00:00.5Z"},
		{"bare date", "2023-10-31", "2023-10-31T00:00:00Z"},
		{"epoch seconds", float64(1698753600), "2023-10-31T12:00:00Z"},
		{"epoch millis rescaled", float64(1698753600000), "2023-10-31T12:00:00Z"},
		{"epoch string", "1698753600", "2023-10-31T12:00:00Z"},
		{"us slash format", "10/31/2023 12:00:00", "2023-10-31T12:00:00Z"},
		{"iso slash format", "2023/10/31 12:00:00", "2023-10-31T12:00:00Z"},
		{"dash format", "2023-10-31 12:00:00", "2023-10-31T12:00:00Z"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := Record{Format: FormatGeneric, Fields: map[string]interface{}{"timestamp": tc.value}}
			nf := Normalize(rec)
			require.True(t, nf.HasTimestamp, "expected a parse for %v", tc.value)
			assert.Equal(t, tc.want, nf.Timestamp)
		})
	}
}

func TestNormalize_UnparseableTimestampStaysAbsent(t *testing.T) {
	rec := Record{Format: FormatGeneric, Fields: map[string]interface{}{"timestamp": "not a time"}}

	nf := Normalize(rec)

	assert.False(t, nf.HasTimestamp, "parse failure must leave the field absent, not default to now or zero")
	assert.Empty(t, nf.Timestamp)
}

func TestNormalize_HostNestedNameDict(t *testing.T) {
	rec := Record{
		Format: FormatEDR,
		Fields: map[string]interface{}{
			"host": map[string]interface{}{"name": "laptop-42"},
		},
	}

	nf := Normalize(rec)
	require.True(t, nf.HasHost)
	assert.Equal(t, "laptop-42", nf.Host)
}

func TestNormalize_FirewallHostFallback(t *testing.T) {
	rec := Record{
		Format: FormatFirewall,
		Fields: map[string]interface{}{
			"action": "deny",
			"src_ip": "10.0.0.5",
		},
	}

	nf := Normalize(rec)
	require.True(t, nf.HasHost)
	assert.Equal(t, FirewallHostLabel, nf.Host)
}

func TestNormalize_NonFirewallNoHostStaysAbsent(t *testing.T) {
	rec := Record{Format: FormatGeneric, Fields: map[string]interface{}{"message": "hello"}}

	nf := Normalize(rec)
	assert.False(t, nf.HasHost)
}

func TestNormalize_EventIDTextWrapper(t *testing.T) {
	rec := Record{
		Format: FormatWindowsEvent,
		Fields: map[string]interface{}{
			"Event": map[string]interface{}{
				"System": map[string]interface{}{
					"EventID": map[string]interface{}{
						"#attributes": map[string]interface{}{"Qualifiers": float64(16384)},
						"#text":       float64(7036),
					},
				},
			},
		},
	}

	nf := Normalize(rec)
	require.True(t, nf.HasEventID)
	assert.Equal(t, "7036", nf.EventID)
}

func TestNormalizedFields_Apply(t *testing.T) {
	nf := NormalizedFields{
		Timestamp:    "2023-10-31T12:00:00Z",
		EventID:      "4624",
		HasTimestamp: true,
		HasEventID:   true,
	}

	doc := map[string]interface{}{"existing": true}
	nf.Apply(doc)

	assert.Equal(t, "2023-10-31T12:00:00Z", doc[FieldNormTimestamp])
	assert.Equal(t, "4624", doc[FieldNormEventID])
	_, hasHost := doc[FieldNormHost]
	assert.False(t, hasHost, "absent fields must not be written")

	// Reapplying writes the same values.
	nf.Apply(doc)
	assert.Equal(t, "4624", doc[FieldNormEventID])
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatWindowsEvent, DetectFormat(evtxRecord("2023-01-01T00:00:00Z").Fields))
	assert.Equal(t, FormatEDR, DetectFormat(map[string]interface{}{"event_simpleName": "ProcessRollup2"}))
	assert.Equal(t, FormatFirewall, DetectFormat(map[string]interface{}{"action": "allow", "src_ip": "1.2.3.4"}))
	assert.Equal(t, FormatGeneric, DetectFormat(map[string]interface{}{"message": "x"}))
}
