package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		name     string
		a        string
		b        string
		expected int
	}{
		{"equal single segment", "1", "1", 0},
		{"equal dotted", "1.2.3", "1.2.3", 0},
		{"numeric ordering within segment", "1.10", "1.9", 1},
		{"major wins over minor", "2.0", "1.99", 1},
		{"lower version", "1.2", "1.3", -1},
		{"missing segments are zero", "1.2", "1.2.0", 0},
		{"missing segment loses to nonzero", "1.2", "1.2.1", -1},
		{"lexicographic fallback", "1.0-beta", "1.0-alpha", 1},
		{"mixed falls back entirely", "1.10-rc", "1.9-rc", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CompareVersions(tt.a, tt.b))
			if tt.expected != 0 {
				assert.Equal(t, -tt.expected, CompareVersions(tt.b, tt.a))
			}
		})
	}
}
