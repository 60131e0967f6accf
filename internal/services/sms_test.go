package services

import (
	"testing"
)

func TestNormalizeMSISDN(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "bare ten digit number",
			input:    "9812345678",
			expected: "+919812345678",
		},
		{
			name:     "number with trunk prefix",
			input:    "09812345678",
			expected: "+919812345678",
		},
		{
			name:     "number with country code",
			input:    "919812345678",
			expected: "+919812345678",
		},
		{
			name:     "already e164",
			input:    "+919812345678",
			expected: "+919812345678",
		},
		{
			name:     "number with spaces and dashes",
			input:    "98123-456 78",
			expected: "+919812345678",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormalizeMSISDN(tt.input)
			if result != tt.expected {
				t.Errorf("NormalizeMSISDN(%q) = %q; want %q", tt.input, result, tt.expected)
			}
		})
	}
}
