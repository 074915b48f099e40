package mod97_test

import (
	"testing"

	"github.com/pep-security/pepcore/mod97"
)

func TestComputeCheckDigits(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want string
	}{
		{"0600001234567", "58"},
		{"0600001234586", "98"},
		{"POM-TEST-12345", "46"},
		{"POM-TEST-12354", "19"},
		{"POM-TSET-12345", "64"},
	} {
		got, err := mod97.ComputeCheckDigits(tt.in)
		if err != nil {
			t.Fatalf("ComputeCheckDigits(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ComputeCheckDigits(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if _, err := mod97.ComputeCheckDigits(""); err == nil {
		t.Error("empty input should error")
	}
	if _, err := mod97.ComputeCheckDigits("pép"); err == nil {
		t.Error("non-alphanumeric input should error")
	}
}

func TestVerify(t *testing.T) {
	for _, ok := range []string{
		"060000123456758",
		"060000123458698",
		"POM-TEST-12345-46",
		"POM-TEST-12354-19",
		"POM-TSET-12345-64",
	} {
		if !mod97.Verify(ok) {
			t.Errorf("Verify(%q) = false, want true", ok)
		}
	}

	for _, bad := range []string{
		"POM-TEST-12345-00",
		"",
		"a",
		"ab",
		"ab-00",
	} {
		if mod97.Verify(bad) {
			t.Errorf("Verify(%q) = true, want false", bad)
		}
	}
}
