package service

import (
	"strconv"
	"strings"
)

// NormalizeCity returns the cache key for a city name: trimmed and lower-cased.
func NormalizeCity(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}

// CoordinateKey returns "lat,lon" using the shortest decimal that round-trips each float64.
// Numerically equal inputs (40.7128 and 40.71280) share a key; -0 is written as 0.
func CoordinateKey(lat, lon float64) string {
	return formatCoordinate(lat) + "," + formatCoordinate(lon)
}

func formatCoordinate(v float64) string {
	if v == 0 {
		v = 0
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
