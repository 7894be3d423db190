package util

import (
	"html"
	"net/mail"
	"strings"
)

// SanitizeInput trims s and escapes HTML so it is safe to echo back.
func SanitizeInput(s string) string {
	return html.EscapeString(strings.TrimSpace(s))
}

// NormalizeEmail lowercases and validates an address; ok is false for anything unparsable.
func NormalizeEmail(raw string) (email string, ok bool) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil || addr.Name != "" {
		return "", false
	}
	return strings.ToLower(addr.Address), true
}

// ContainsSuspicious flags markup and template fragments in free-text fields.
func ContainsSuspicious(s string) bool {
	lower := strings.ToLower(s)
	for _, c := range []string{"<", ">", "${", "{{", "script", "onerror", "onload"} {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}

// MaskEmail keeps the first character of the local part for log lines.
func MaskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return "***"
	}
	return local[:1] + "***@" + domain
}
