// Package mod97 implements IBAN-style check digits for human-typed short pseudonyms,
// catching transcription errors before an identifier reaches the servers.
package mod97

import (
	"errors"
	"strings"
)

// ErrInvalidInput is returned for inputs containing characters other than letters,
// digits, '-' and ' '.
var ErrInvalidInput = errors.New("mod97: input contains invalid characters")

// ErrTooShort is returned when the input is too short to carry check digits.
var ErrTooShort = errors.New("mod97: input too short")

const checkDigitCount = 2

// ComputeCheckDigits returns the two check digits for the given identifier. Characters
// '-' and ' ' are ignored; letters are case-insensitive and map to 10..35.
func ComputeCheckDigits(in string) (string, error) {
	var digits strings.Builder
	for _, r := range strings.ToUpper(in) {
		switch {
		case r == '-' || r == ' ':
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			n := int(r) - 55
			digits.WriteByte(byte('0' + n/10))
			digits.WriteByte(byte('0' + n%10))
		default:
			return "", ErrInvalidInput
		}
	}
	if digits.Len() == 0 {
		return "", ErrTooShort
	}

	// Appending "00" computes the digits that make the full string check out.
	remainder := mod97(digits.String() + "00")
	check := 98 - remainder
	return string([]byte{byte('0' + check/10), byte('0' + check%10)}), nil
}

// Verify reports whether the input's trailing two characters are the correct check
// digits for the rest.
func Verify(in string) bool {
	if len(in) < checkDigitCount {
		return false
	}
	computed, err := ComputeCheckDigits(in[:len(in)-checkDigitCount])
	if err != nil {
		return false
	}
	return computed == in[len(in)-checkDigitCount:]
}

// mod97 reduces an arbitrarily long decimal string modulo 97, one digit at a time so the
// intermediate values stay below 970 and fit comfortably in an int.
func mod97(digits string) int {
	remainder := 0
	for i := 0; i < len(digits); i++ {
		remainder = (remainder*10 + int(digits[i]-'0')) % 97
	}
	return remainder
}
