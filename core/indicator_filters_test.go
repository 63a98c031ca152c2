package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseFilterTime(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		fallback time.Time
		expected time.Time
	}{
		{
			name:     "rfc3339",
			input:    "2024-03-01T10:00:00Z",
			fallback: MaxFilterTime,
			expected: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		},
		{
			name:     "datetime without zone",
			input:    "2024-03-01T10:00:00",
			fallback: MaxFilterTime,
			expected: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		},
		{
			name:     "space separated",
			input:    "2024-03-01 10:00:00",
			fallback: MaxFilterTime,
			expected: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		},
		{
			name:     "date only",
			input:    "2024-03-01",
			fallback: MaxFilterTime,
			expected: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "garbage falls back to max",
			input:    "not-a-date",
			fallback: MaxFilterTime,
			expected: MaxFilterTime,
		},
		{
			name:     "garbage falls back to min",
			input:    "13/13/13",
			fallback: MinFilterTime,
			expected: MinFilterTime,
		},
		{
			name:     "surrounding whitespace",
			input:    "  2024-03-01  ",
			fallback: MaxFilterTime,
			expected: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseFilterTime(tt.input, tt.fallback))
		})
	}
}

func TestParseBoolean(t *testing.T) {
	for _, v := range []string{"true", "t", "yes", "y", "1", "TRUE", "Yes", " true "} {
		value, ok := ParseBoolean(v)
		assert.True(t, ok, v)
		assert.True(t, value, v)
	}
	for _, v := range []string{"false", "f", "no", "n", "0", "FALSE", "No"} {
		value, ok := ParseBoolean(v)
		assert.True(t, ok, v)
		assert.False(t, value, v)
	}
	for _, v := range []string{"maybe", "", "2", "truthy"} {
		_, ok := ParseBoolean(v)
		assert.False(t, ok, v)
	}
}

func TestParseValueList(t *testing.T) {
	vl := ParseValueList("a,b,c")
	assert.Equal(t, []string{"a", "b", "c"}, vl.Values)
	assert.False(t, vl.Or)

	vl = ParseValueList("[OR]a,b")
	assert.Equal(t, []string{"a", "b"}, vl.Values)
	assert.True(t, vl.Or)

	// The marker can appear anywhere in the raw value.
	vl = ParseValueList("a,[OR]b")
	assert.Equal(t, []string{"a", "b"}, vl.Values)
	assert.True(t, vl.Or)

	// Values are split verbatim: no trimming.
	vl = ParseValueList("a, b")
	assert.Equal(t, []string{"a", " b"}, vl.Values)

	vl = ParseValueList("single")
	assert.Equal(t, []string{"single"}, vl.Values)
	assert.False(t, vl.Or)
}

func TestIndicatorCreateValidate(t *testing.T) {
	c := &IndicatorCreate{Type: "IP", Value: "1.2.3.4"}
	assert.NoError(t, c.Validate())

	c = &IndicatorCreate{Value: "1.2.3.4"}
	assert.Error(t, c.Validate())

	c = &IndicatorCreate{Type: "IP"}
	assert.Error(t, c.Validate())

	long := make([]byte, MaxIndicatorValueLength+1)
	for i := range long {
		long[i] = 'a'
	}
	c = &IndicatorCreate{Type: "IP", Value: string(long)}
	assert.Error(t, c.Validate())
}
