// Package phone provides pure formatting and validation helpers for phone
// numbers and one-time verification codes.
package phone

import (
	"fmt"
	"strings"
)

// PhoneNumberLength is the number of digits in a valid US phone number.
const PhoneNumberLength = 10

// OTPLength is the number of digits in a valid verification code.
const OTPLength = 6

// Digits strips every non-digit rune from s.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FormatPhoneNumber renders the digits of s in "(555) 123-4567" style.
// Partial input formats progressively so the helper can run on every edit.
// Formatting then extracting digits recovers the original digit sequence.
func FormatPhoneNumber(s string) string {
	digits := Digits(s)
	if len(digits) > PhoneNumberLength {
		digits = digits[:PhoneNumberLength]
	}
	switch {
	case len(digits) == 0:
		return ""
	case len(digits) <= 3:
		return fmt.Sprintf("(%s", digits)
	case len(digits) <= 6:
		return fmt.Sprintf("(%s) %s", digits[:3], digits[3:])
	default:
		return fmt.Sprintf("(%s) %s-%s", digits[:3], digits[3:6], digits[6:])
	}
}

// IsValidPhoneNumber reports whether s contains exactly ten digits once
// formatting characters are stripped.
func IsValidPhoneNumber(s string) bool {
	return len(Digits(s)) == PhoneNumberLength
}

// FormatOTP strips non-digits and truncates to at most six digits.
func FormatOTP(s string) string {
	digits := Digits(s)
	if len(digits) > OTPLength {
		digits = digits[:OTPLength]
	}
	return digits
}

// IsValidOTP reports whether s holds exactly six digits after formatting.
func IsValidOTP(s string) bool {
	return len(Digits(s)) == OTPLength
}
