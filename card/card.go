// Package card classifies payment card numbers by their leading digits and
// renders the display forms used during checkout.
package card

import "strings"

// Brand is the card network inferred from the number prefix
type Brand string

const (
	Visa       Brand = "visa"
	Mastercard Brand = "mastercard"
	Amex       Brand = "amex"
	Discover   Brand = "discover"
	Unknown    Brand = "unknown"
)

const (
	// MaxDigits is the longest number the display form keeps.
	MaxDigits = 16
	// MaxDisplayLen is 16 digits plus 3 group separators.
	MaxDisplayLen = 19
	// MaxCVVDigits bounds the security code input.
	MaxCVVDigits = 4
)

var labels = map[Brand]string{
	Visa:       "VISA",
	Mastercard: "MASTERCARD",
	Amex:       "AMERICAN EXPRESS",
	Discover:   "DISCOVER",
	Unknown:    "CARD",
}

// Label returns the display brand shown on the card preview.
func (b Brand) Label() string {
	if l, ok := labels[b]; ok {
		return l
	}
	return labels[Unknown]
}

// PaymentMethodID is the token the escrow service accepts for this brand.
func (b Brand) PaymentMethodID() string {
	return "pm_card_" + string(b)
}

type rule struct {
	match func(digits string) bool
	brand Brand
}

// rules are evaluated top to bottom; the first match wins.
var rules = []rule{
	{match: func(d string) bool { return strings.HasPrefix(d, "4") }, brand: Visa},
	{match: func(d string) bool { return prefixBetween(d, 51, 55) || prefixBetween(d, 22, 27) }, brand: Mastercard},
	{match: func(d string) bool { return strings.HasPrefix(d, "34") || strings.HasPrefix(d, "37") }, brand: Amex},
	{match: func(d string) bool { return strings.HasPrefix(d, "6") }, brand: Discover},
}

// prefixBetween reports whether the first two digits form a number in [lo, hi].
func prefixBetween(digits string, lo, hi int) bool {
	if len(digits) < 2 {
		return false
	}
	n := int(digits[0]-'0')*10 + int(digits[1]-'0')
	return n >= lo && n <= hi
}

// Classify returns the brand for a card number. Separators are ignored and an
// unmatched prefix yields Unknown, never an error.
func Classify(number string) Brand {
	digits := Digits(number)
	for _, r := range rules {
		if r.match(digits) {
			return r.brand
		}
	}
	return Unknown
}

// Digits keeps only the decimal digits of s.
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

// Format groups digits in blocks of four separated by one space and caps the
// result at MaxDisplayLen characters. Amex numbers use the same grouping.
func Format(number string) string {
	digits := Digits(number)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	out := b.String()
	if len(out) > MaxDisplayLen {
		out = out[:MaxDisplayLen]
	}
	return out
}

// FormatExpiry renders MM/YY from whatever digits were typed so far.
func FormatExpiry(value string) string {
	digits := Digits(value)
	if len(digits) < 2 {
		return digits
	}
	if len(digits) > 4 {
		digits = digits[:4]
	}
	return digits[:2] + "/" + digits[2:]
}

// Masked shows only the last four digits.
func Masked(number string) string {
	digits := Digits(number)
	if len(digits) <= 4 {
		return digits
	}
	return "•••• " + digits[len(digits)-4:]
}
