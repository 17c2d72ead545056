package language

import (
	"testing"
)

func TestToISO2(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"en", "en"},
		{"EN", "en"},
		{"eng", "en"},
		{"fra", "fr"},
		{"fre", "fr"},
		{"ger", "de"},
		{"dut", "nl"},
		{"english", "en"},
		{"French", "fr"},
		{"en-GB", "en"},
		{"fr_CA", "fr"},
		// Unknown 2-letter passes through
		{"xy", "xy"},
		{"xyz", ""},
		{"", ""},
		{" ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if result := ToISO2(tt.input); result != tt.expected {
				t.Errorf("ToISO2(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestToISO3(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"en", "eng"},
		{"fr", "fra"},
		{"fre", "fra"},
		{"de-AT", "deu"},
		{"xyz", "xyz"},
		{"xy", "und"},
		{"", "und"},
	}
	for _, tt := range tests {
		if result := ToISO3(tt.input); result != tt.expected {
			t.Errorf("ToISO3(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestTesseract(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"en", "eng"},
		{"fr", "fra"},
		{"en-US", "eng"},
		{"zh", "chi_sim"},
		{"latin", "lat"},
		{"tlh", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if result := Tesseract(tt.input); result != tt.expected {
			t.Errorf("Tesseract(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestDisplayName(t *testing.T) {
	if got := DisplayName("fre"); got != "French" {
		t.Fatalf("DisplayName(fre) = %q", got)
	}
	if got := DisplayName(""); got != "Unknown" {
		t.Fatalf("DisplayName(\"\") = %q", got)
	}
	if got := DisplayName("tlh"); got != "TLH" {
		t.Fatalf("DisplayName(tlh) = %q", got)
	}
}

func TestCanonicalTag(t *testing.T) {
	tests := []struct {
		input string
		want  string
		ok    bool
	}{
		{"EN-gb", "en-GB", true},
		{"fr", "fr", true},
		{"english", "en", true},
		{"not a tag!", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := CanonicalTag(tt.input)
		if got != tt.want || ok != tt.ok {
			t.Errorf("CanonicalTag(%q) = %q, %v; want %q, %v", tt.input, got, ok, tt.want, tt.ok)
		}
	}
}
