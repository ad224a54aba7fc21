package gateway

import (
	"fmt"
	"strings"
)

// DefaultCountryCode is prepended to domestic-length numbers that carry
// no country code.
const DefaultCountryCode = "55"

// NormalizePhone canonicalizes a phone number to the digit-only form
// the gateway expects. Formatting characters are stripped; a 10- or
// 11-digit number is treated as domestic and gets the default country
// code. Anything shorter than 10 or longer than 15 digits is rejected.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
			// formatting only
		default:
			return "", fmt.Errorf("phone number contains invalid character %q", r)
		}
	}
	digits := b.String()

	switch n := len(digits); {
	case n < 10:
		return "", fmt.Errorf("phone number too short: %d digits", n)
	case n > 15:
		return "", fmt.Errorf("phone number too long: %d digits", n)
	case n == 10 || n == 11:
		// Domestic form: area code + subscriber, no country code.
		digits = DefaultCountryCode + digits
	}
	return digits, nil
}
