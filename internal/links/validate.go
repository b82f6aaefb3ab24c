package links

import (
	"errors"
	"net/url"
)

var (
	errInvalidSlug = errors.New("use only letters, numbers, hyphens, and underscores")
	errInvalidURL  = errors.New("url must have a scheme and a host")
)

// ValidSlug reports whether s is non-empty and made only of ASCII letters,
// digits, '-' and '_'.
func ValidSlug(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !isValidSlugChar(c) {
			return false
		}
	}
	return true
}

func isValidSlugChar(c rune) bool {
	switch {
	case c >= 'a' && c <= 'z':
		return true
	case c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_':
		return true
	default:
		return false
	}
}

// ValidURL reports whether u parses with a non-empty scheme and host.
// Malformed input is simply not valid.
func ValidURL(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	return parsed.Scheme != "" && parsed.Host != ""
}
