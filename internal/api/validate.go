// validate.go -- Input validation for request bodies and query strings.
//
// Each validator returns a client-facing message, or "" when the input is fine.
package api

import (
	netmail "net/mail"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Field limits.
const (
	minNameLen     = 4
	maxNameLen     = 100
	minPasswordLen = 6
	// PBKDF2 hashes the password once per block regardless of length, but an
	// unbounded body is still a cheap way to burn CPU.
	maxPasswordBytes = 1024
	maxTitleLen      = 200
	maxContentBytes  = 100_000
	maxTags          = 20
	maxTagLen        = 50
)

// ValidateEmail checks format and length; returns error message or empty string.
func ValidateEmail(email string) string {
	if email == "" {
		return "No email provided"
	}
	if len(email) < 5 {
		return "Email too short"
	}
	if len(email) > 254 {
		return "Email too long"
	}
	addr, err := netmail.ParseAddress(email)
	// ParseAddress accepts "Name <a@b>"; only the bare address form is allowed.
	if err != nil || addr.Address != email {
		return "Invalid email address"
	}
	return ""
}

// normalizeEmail lowercases and trims so lookups are case-insensitive.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateName checks the display name.
func ValidateName(name string) string {
	n := utf8.RuneCountInString(name)
	if n < minNameLen {
		return "Name must be at least 4 characters"
	}
	if n > maxNameLen {
		return "Name must be at most 100 characters"
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "Name contains invalid characters"
		}
	}
	return ""
}

// ValidatePassword checks length constraints for a new password.
func ValidatePassword(password string) string {
	if password == "" {
		return "No password provided"
	}
	if utf8.RuneCountInString(password) < minPasswordLen {
		return "Password must be at least 6 characters"
	}
	if len(password) > maxPasswordBytes {
		return "Password too long"
	}
	return ""
}

// validateTitle checks a post title.
func validateTitle(title string) string {
	if strings.TrimSpace(title) == "" {
		return "Title is required"
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		return "Title must be at most 200 characters"
	}
	return ""
}

// validateContent checks a post body.
func validateContent(content string) string {
	if strings.TrimSpace(content) == "" {
		return "Content is required"
	}
	if len(content) > maxContentBytes {
		return "Content too long"
	}
	return ""
}

// normalizeTags trims, drops blanks and duplicates, preserving order.
// Returns a message when the result breaks the tag limits.
func normalizeTags(tags []string) ([]string, string) {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		if utf8.RuneCountInString(t) > maxTagLen {
			return nil, "Tags must be at most 50 characters"
		}
		seen[t] = true
		out = append(out, t)
	}
	if len(out) > maxTags {
		return nil, "At most 20 tags allowed"
	}
	return out, ""
}

// excerptLen is the list-view content preview length, in characters.
const excerptLen = 300

// excerpt truncates content to excerptLen characters, appending "..." when cut.
func excerpt(content string) string {
	if utf8.RuneCountInString(content) <= excerptLen {
		return content
	}
	runes := []rune(content)
	return string(runes[:excerptLen]) + "..."
}
