package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatInsightValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"whole float", float64(42), "42"},
		{"fractional float", 3.1415, "3.14"},
		{"string", "steady", "steady"},
		{"list", []any{"a.go", "b.go"}, "a.go, b.go"},
		{"bool falls through", true, "true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatInsightValue(tt.in))
		})
	}
}
