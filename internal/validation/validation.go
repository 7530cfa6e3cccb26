// Package validation checks user-supplied city names before they reach a provider.
package validation

import (
	"errors"
	"strings"
	"unicode"
)

// MaxCityLength is the longest accepted city name, in runes.
const MaxCityLength = 100

var (
	ErrCityEmpty        = errors.New("city is required")
	ErrCityTooLong      = errors.New("city too long")
	ErrCityInvalidChars = errors.New("city contains invalid characters")
)

// ValidateCity trims input and checks it is 1 to maxLen runes of letters, digits,
// space, comma, hyphen, period or apostrophe. maxLen <= 0 means MaxCityLength.
// Returns the trimmed string; lowercasing is left to the cache key.
func ValidateCity(input string, maxLen int) (string, error) {
	if maxLen <= 0 {
		maxLen = MaxCityLength
	}
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) == 0 {
		return "", ErrCityEmpty
	}
	if len(r) > maxLen {
		return "", ErrCityTooLong
	}
	for _, c := range r {
		if !isAllowedCityRune(c) {
			return "", ErrCityInvalidChars
		}
	}
	return s, nil
}

// "St. John's", "Winston-Salem", "Melbourne, AU".
func isAllowedCityRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}
