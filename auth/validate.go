package auth

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"
)

const (
	minPasswordLen = 8
	// bcrypt ignores input past 72 bytes
	maxPasswordLen = 72
	minNameLen     = 2
	maxNameLen     = 50
)

var (
	validate     = validator.New()
	linkedinLink = regexp.MustCompile(`^https?://(www\.)?linkedin\.com/in/[a-zA-Z0-9-]+/?$`)
)

func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if err := validate.Var(email, "required,email"); err != nil {
		return "", invalid("email", "please provide a valid email address")
	}
	return email, nil
}

func normalizeName(raw string) (string, error) {
	name := strings.TrimSpace(norm.NFC.String(raw))
	n := utf8.RuneCountInString(name)
	if n < minNameLen || n > maxNameLen {
		return "", invalid("name", "name must be between 2 and 50 characters")
	}
	return name, nil
}

func validatePassword(field, password string) error {
	if len(password) < minPasswordLen {
		return invalid(field, "password must be at least 8 characters")
	}
	if len(password) > maxPasswordLen {
		return invalid(field, "password must be at most 72 bytes")
	}
	return nil
}

func normalizeLinkedin(raw string) (string, error) {
	link := strings.TrimSpace(raw)
	if link != "" && !linkedinLink.MatchString(link) {
		return "", invalid("linkedinLink", "use https://linkedin.com/in/username")
	}
	return link, nil
}
