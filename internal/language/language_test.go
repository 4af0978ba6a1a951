package language

import (
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"  ", ""},
		{"en", "en"},
		{"English", "en"},
		{"HINDI", "hi"},
		{"eng", "en"},
		{"Hinglish", "hi-Latn"},
		{"Hindi (romanized)", "hi"},
		{"English, Hindi", "en"},
		{"pt_BR", "pt-BR"},
		{"zh-Hant-TW", "zh-Hant-TW"},
		{"sr-Latn-RS-u-nu-latn", "sr-Latn-RS"},
		{"gibberish language", "und"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := Normalize(tt.input)
			if got != tt.expected {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.expected)
			}
			if len(got) > MaxTagLength {
				t.Errorf("Normalize(%q) = %q exceeds %d characters", tt.input, got, MaxTagLength)
			}
		})
	}
}

func TestToISO2(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		// 2-letter codes pass through
		{"en", "en"},
		{"EN", "en"},
		// 3-letter codes convert
		{"eng", "en"},
		{"fre", "fr"},
		{"hin", "hi"},
		// Word forms
		{"english", "en"},
		{"Hindi", "hi"},
		// Tags reduce to their base language
		{"hi-Latn", "hi"},
		// Unknown 2-letter passes through
		{"xy", "xy"},
		// Unknown 3-letter returns empty
		{"xyz", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := ToISO2(tt.input)
			if result != tt.expected {
				t.Errorf("ToISO2(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestDisplayName(t *testing.T) {
	if got := DisplayName(""); got != "Unknown" {
		t.Fatalf("DisplayName(empty) = %q", got)
	}
	if got := DisplayName("hi-Latn"); got != "Hindi" {
		t.Fatalf("DisplayName(hi-Latn) = %q", got)
	}
	if got := DisplayName("qq"); got != "QQ" {
		t.Fatalf("DisplayName(qq) = %q", got)
	}
}
