package validation

import (
	"errors"
	"strings"
	"unicode"
)

// ErrQueryEmpty is returned when a search query is empty or whitespace-only after trim.
var ErrQueryEmpty = errors.New("search query is required")

// ErrQueryTooShort is returned when a search query is below the minimum length.
var ErrQueryTooShort = errors.New("search query too short")

// ErrQueryTooLong is returned when a search query exceeds the maximum length.
var ErrQueryTooLong = errors.New("search query too long")

// ErrQueryInvalidChars is returned when a search query contains control characters.
var ErrQueryInvalidChars = errors.New("search query contains control characters")

// ErrIdentifierEmpty is returned when a city identifier is missing.
var ErrIdentifierEmpty = errors.New("city identifier is required")

// ErrIdentifierInvalid is returned when a city identifier contains whitespace or control characters.
var ErrIdentifierInvalid = errors.New("city identifier is invalid")

// MaxIdentifierLength bounds city identifiers in bytes.
const MaxIdentifierLength = 256

// ValidateQuery trims the input, enforces length bounds (minLen, maxLen in runes)
// and rejects control characters. Any other text is passed to the upstream as is,
// including its query forms such as "iata:DXB" or "auto:ip".
// Returns the trimmed query. Case normalization is left to the cache key.
func ValidateQuery(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrQueryEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrQueryTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrQueryTooLong
	}
	for _, c := range r {
		if unicode.IsControl(c) {
			return "", ErrQueryInvalidChars
		}
	}
	return s, nil
}

// BelowMinimum reports whether err means the query is simply not long enough yet.
func BelowMinimum(err error) bool {
	return errors.Is(err, ErrQueryEmpty) || errors.Is(err, ErrQueryTooShort)
}

// ValidateIdentifier trims id and rejects empty identifiers and identifiers
// containing whitespace or control characters.
func ValidateIdentifier(id string) (string, error) {
	s := strings.TrimSpace(id)
	if s == "" {
		return "", ErrIdentifierEmpty
	}
	if len(s) > MaxIdentifierLength {
		return "", ErrIdentifierInvalid
	}
	for _, c := range s {
		if unicode.IsSpace(c) || unicode.IsControl(c) {
			return "", ErrIdentifierInvalid
		}
	}
	return s, nil
}
