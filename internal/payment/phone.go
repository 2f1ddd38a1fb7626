package payment

import "strings"

const kenyaCountryCode = "254"

// NormalizePhoneNumber converts the formats customers type (0712…, +254712…, 712…)
// to the 2547XXXXXXXX MSISDN Daraja expects. Unknown shapes are returned digits-only.
func NormalizePhoneNumber(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()

	switch {
	case strings.HasPrefix(cleaned, "0"):
		return kenyaCountryCode + cleaned[1:]
	case strings.HasPrefix(cleaned, kenyaCountryCode):
		return cleaned
	case strings.HasPrefix(cleaned, "7"), strings.HasPrefix(cleaned, "1"):
		return kenyaCountryCode + cleaned
	}
	return cleaned
}

// IsValidPhoneNumber reports whether phone normalizes to a 12-digit 254 MSISDN.
func IsValidPhoneNumber(phone string) bool {
	formatted := NormalizePhoneNumber(phone)
	return len(formatted) == 12 && strings.HasPrefix(formatted, kenyaCountryCode)
}
