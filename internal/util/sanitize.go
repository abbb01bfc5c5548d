package util

import (
	"strings"
	"unicode"
)

const maxLogValueLength = 256

// SanitizeLogValue strips control characters and ANSI escape sequences and
// truncates the value so attacker-controlled input cannot forge log lines.
func SanitizeLogValue(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	runes := []rune(raw)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '\x1b' {
			// Dropping only the escape rune would leave the printable tail
			// of a CSI sequence ("[31m") in the log line.
			if i+1 < len(runes) && runes[i+1] == '[' {
				i++
				for i+1 < len(runes) {
					i++
					if runes[i] >= '@' && runes[i] <= '~' {
						break
					}
				}
			}
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if len(out) > maxLogValueLength {
		out = out[:maxLogValueLength]
	}
	return out
}

// MaskCardNumber keeps the first six and last four digits of a PAN and
// masks the rest. Values too short to have a BIN and suffix are fully
// masked.
func MaskCardNumber(pan string) string {
	digits := DigitsOnly(pan)
	if len(digits) == 0 {
		return ""
	}
	if len(digits) < 12 {
		return strings.Repeat("*", len(digits))
	}
	return digits[:6] + strings.Repeat("*", len(digits)-10) + digits[len(digits)-4:]
}

// MaskPhone keeps the last four digits of a phone number.
func MaskPhone(phone string) string {
	digits := DigitsOnly(phone)
	if len(digits) <= 4 {
		return strings.Repeat("*", len(digits))
	}
	return strings.Repeat("*", len(digits)-4) + digits[len(digits)-4:]
}

// MaskEmail keeps the first character of the local part and the full
// domain.
func MaskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return strings.Repeat("*", len(email))
	}
	return email[:1] + strings.Repeat("*", at-1) + email[at:]
}

// DigitsOnly strips everything but ASCII digits, normalizing phone numbers
// and PANs before masking or keying on them.
func DigitsOnly(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
