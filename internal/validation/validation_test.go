package validation

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateCity_EmptyAndWhitespace(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"spaces", "   "},
		{"tab", "\t"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateCity(tc.input, 1, 100)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, ErrLocationEmpty) {
				t.Errorf("error = %v, want ErrLocationEmpty", err)
			}
		})
	}
}

func TestValidateCity_TooShort(t *testing.T) {
	_, err := ValidateCity("x", 2, 100)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, ErrLocationTooShort) {
		t.Errorf("error = %v, want ErrLocationTooShort", err)
	}
}

func TestValidateCity_TooLong(t *testing.T) {
	long := strings.Repeat("a", 101)
	_, err := ValidateCity(long, 1, 100)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, ErrLocationTooLong) {
		t.Errorf("error = %v, want ErrLocationTooLong", err)
	}
}

func TestValidateCity_InvalidChars(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"slash", "sea/ttle"},
		{"backslash", "sea\\ttle"},
		{"question", "sea?ttle"},
		{"hash", "sea#ttle"},
		{"control", "sea\x00ttle"},
		{"percent", "sea%ttle"},
		{"ampersand", "sea&ttle"},
		{"semicolon", "sea;ttle"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateCity(tc.input, 1, 100)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, ErrLocationInvalidChars) {
				t.Errorf("error = %v, want ErrLocationInvalidChars", err)
			}
		})
	}
}

func TestValidateCity_Valid(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantNorm string
	}{
		{"simple", "Seattle", "Seattle"},
		{"with space", "New York", "New York"},
		{"comma", "London,uk", "London,uk"},
		{"hyphen", "Some-City", "Some-City"},
		{"trimmed", "  Boston  ", "Boston"},
		{"unicode", "Zürich", "Zürich"},
		{"digits", "Area51", "Area51"},
		{"period and apostrophe", "St. John's", "St. John's"},
		{"combining mark", "Mu\u0308nchen", "Mu\u0308nchen"},
		{"cjk", "東京", "東京"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidateCity(tc.input, 1, 100)
			if err != nil {
				t.Fatalf("ValidateCity() err = %v", err)
			}
			if got != tc.wantNorm {
				t.Errorf("normalized = %q, want %q", got, tc.wantNorm)
			}
		})
	}
}

func TestValidateCity_LengthBoundaries(t *testing.T) {
	// Exactly min length
	got, err := ValidateCity("ab", 2, 100)
	if err != nil {
		t.Fatalf("min boundary: err = %v", err)
	}
	if got != "ab" {
		t.Errorf("min boundary: got %q", got)
	}
	// Exactly max length (100 runes)
	s100 := strings.Repeat("a", 100)
	got, err = ValidateCity(s100, 1, 100)
	if err != nil {
		t.Fatalf("max boundary: err = %v", err)
	}
	if len([]rune(got)) != 100 {
		t.Errorf("max boundary: rune count = %d, want 100", len([]rune(got)))
	}
	// One over max
	s101 := s100 + "a"
	_, err = ValidateCity(s101, 1, 100)
	if err == nil || !errors.Is(err, ErrLocationTooLong) {
		t.Errorf("over max: err = %v, want ErrLocationTooLong", err)
	}
}

func TestValidateCoordinates(t *testing.T) {
	tests := []struct {
		name    string
		lat     string
		lon     string
		wantLat float64
		wantLon float64
		wantErr bool
	}{
		{"new york", "40.7128", "-74.006", 40.7128, -74.006, false},
		{"trailing zeros", "40.71280", "-74.0060", 40.7128, -74.006, false},
		{"poles and antimeridian", "-90", "180", -90, 180, false},
		{"null island", "0", "0", 0, 0, false},
		{"lat too high", "90.0001", "0", 0, 0, true},
		{"lon too low", "0", "-180.5", 0, 0, true},
		{"not a number", "north", "0", 0, 0, true},
		{"empty lon", "10", "", 0, 0, true},
		{"nan", "NaN", "0", 0, 0, true},
		{"infinity", "0", "Inf", 0, 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			lat, lon, err := ValidateCoordinates(tc.lat, tc.lon)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidCoordinates) {
					t.Errorf("error = %v, want ErrInvalidCoordinates", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateCoordinates() err = %v", err)
			}
			if lat != tc.wantLat || lon != tc.wantLon {
				t.Errorf("got (%v, %v), want (%v, %v)", lat, lon, tc.wantLat, tc.wantLon)
			}
		})
	}
}

func TestValidateProfile(t *testing.T) {
	tests := []struct {
		id   string
		want error
	}{
		{"alice", nil},
		{"user_42-a", nil},
		{strings.Repeat("x", 64), nil},
		{"", ErrInvalidProfile},
		{strings.Repeat("x", 65), ErrInvalidProfile},
		{"has space", ErrInvalidProfile},
		{"colon:key", ErrInvalidProfile},
		{"ünïcode", ErrInvalidProfile},
	}
	for _, tc := range tests {
		if err := ValidateProfile(tc.id); !errors.Is(err, tc.want) {
			t.Errorf("ValidateProfile(%q) = %v, want %v", tc.id, err, tc.want)
		}
	}
}
