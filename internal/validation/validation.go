package validation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// ErrLocationEmpty is returned when location is empty or whitespace-only after trim.
var ErrLocationEmpty = errors.New("location is required")

// ErrLocationTooShort is returned when location length is below the minimum.
var ErrLocationTooShort = errors.New("location too short")

// ErrLocationTooLong is returned when location length exceeds the maximum.
var ErrLocationTooLong = errors.New("location too long")

// ErrLocationInvalidChars is returned when location contains disallowed characters.
var ErrLocationInvalidChars = errors.New("location contains invalid characters")

// ErrInvalidCoordinates is returned for unparseable or out-of-range coordinates.
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// ErrInvalidProfile is returned for profile ids outside [A-Za-z0-9_-]{1,64}.
var ErrInvalidProfile = errors.New("invalid profile id")

var validate = validator.New()

// ValidateCity trims the input, enforces length bounds (minLen, maxLen in runes),
// and restricts to letters, combining marks, digits, space, comma, hyphen, period and apostrophe.
// Returns the trimmed string. Callers still pass the untrimmed input to the provider.
func ValidateCity(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrLocationEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrLocationTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrLocationTooLong
	}
	for _, c := range r {
		if !isAllowedCityRune(c) {
			return "", ErrLocationInvalidChars
		}
	}
	return s, nil
}

func isAllowedCityRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsMark(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}

type coordinates struct {
	Lat float64 `validate:"latitude"`
	Lon float64 `validate:"longitude"`
}

// ValidateCoordinates parses decimal lat/lon query values and checks their ranges.
func ValidateCoordinates(latStr, lonStr string) (float64, float64, error) {
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: lat %q is not a number", ErrInvalidCoordinates, latStr)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: lon %q is not a number", ErrInvalidCoordinates, lonStr)
	}
	if err := validate.Struct(coordinates{Lat: lat, Lon: lon}); err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrInvalidCoordinates, err)
	}
	return lat, lon, nil
}

// ValidateProfile checks a preferences profile id.
func ValidateProfile(id string) error {
	if id == "" || len(id) > 64 {
		return ErrInvalidProfile
	}
	for _, c := range id {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_') {
			return ErrInvalidProfile
		}
	}
	return nil
}
