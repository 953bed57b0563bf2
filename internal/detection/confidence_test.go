package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfidencePercent(t *testing.T) {
	t.Parallel()

	f := func(v float64) *float64 { return &v }

	tests := []struct {
		name     string
		input    *float64
		expected int
	}{
		{name: "nil defaults to 80", input: nil, expected: DefaultConfidencePercent},
		{name: "zero", input: f(0), expected: 0},
		{name: "one", input: f(1), expected: 100},
		{name: "plain value", input: f(0.87), expected: 87},
		{name: "half rounds to even down", input: f(0.845), expected: 84},
		{name: "half rounds to even up", input: f(0.875), expected: 88},
		{name: "midpoint", input: f(0.5), expected: 50},
		{name: "negative clamps to zero", input: f(-0.3), expected: 0},
		{name: "above one clamps to hundred", input: f(1.7), expected: 100},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, ConfidencePercent(tc.input))
		})
	}
}
