package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingT struct {
	errors []string
}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func TestJSONAsserter(t *testing.T) {
	tests := []struct {
		name     string
		actual   string
		expected string
		opts     []JSONOption
		wantFail bool
	}{
		{
			name:     "extra keys ignored by default",
			actual:   `{"id":"AA","rssi":-40,"name":"Sensor"}`,
			expected: `{"id":"AA","rssi":-40}`,
		},
		{
			name:     "presence placeholder matches any value",
			actual:   `{"id":"AA","last_seen":"2025-01-01T00:00:00Z"}`,
			expected: `{"id":"AA","last_seen":"<<PRESENCE>>"}`,
		},
		{
			name:     "missing key fails",
			actual:   `{"id":"AA"}`,
			expected: `{"id":"AA","rssi":-40}`,
			wantFail: true,
		},
		{
			name:     "root arrays compare",
			actual:   `[{"id":"AA"},{"id":"BB"}]`,
			expected: `[{"id":"AA"},{"id":"BB"}]`,
		},
		{
			name:     "ignored fields",
			actual:   `{"id":"AA","count":3}`,
			expected: `{"id":"AA","count":1}`,
			opts:     []JSONOption{WithIgnoredFields("count")},
		},
		{
			name:     "strict mode reports extra keys",
			actual:   `{"id":"AA","rssi":-40}`,
			expected: `{"id":"AA"}`,
			opts:     []JSONOption{WithIgnoreExtraKeys(false)},
			wantFail: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingT{}
			NewJSONAsserter(rec).WithOptions(tt.opts...).Assert(tt.actual, tt.expected)
			if tt.wantFail {
				assert.NotEmpty(t, rec.errors, "assertion MUST fail")
			} else {
				assert.Empty(t, rec.errors, "assertion MUST pass")
			}
		})
	}
}

func TestTextAsserter(t *testing.T) {
	rec := &recordingT{}
	NewTextAsserter(rec).WithTrimSpace().Assert("\nline one  \nline two\n", "line one\nline two")
	assert.Empty(t, rec.errors, "whitespace differences MUST be ignored with trim")

	rec = &recordingT{}
	NewTextAsserter(rec).Assert("line one\nline 2", "line one\nline two")
	if assert.Len(t, rec.errors, 1) {
		assert.Contains(t, rec.errors[0], "-line two")
		assert.Contains(t, rec.errors[0], "+line 2")
	}
}

func TestPeripheralBuilder_FromJSON(t *testing.T) {
	link := CreateMockPeripheralFromJSON("AA:BB", `{
		"services": [
			{"uuid": "180F", "characteristics": [{"uuid": "2A19", "properties": "read,notify", "value": [87]}]},
			{"uuid": "180D", "characteristics": [{"uuid": "2A37", "properties": "notify"}, {"uuid": "2A39", "properties": "write"}]}
		]
	}`).Build()

	chars := link.Characteristics()
	if assert.Len(t, chars, 3) {
		assert.Equal(t, "2a19", chars[0].UUID, "characteristics MUST be sorted by UUID")
		assert.Equal(t, "180f", chars[0].Service)
		assert.True(t, chars[0].Readable)
		assert.True(t, chars[0].Notify)
		assert.True(t, chars[2].Writable)
		assert.False(t, chars[2].CanNotify())
	}
}
