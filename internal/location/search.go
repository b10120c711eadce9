package location

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/skycast/forecast-service/internal/models"
	"github.com/skycast/forecast-service/internal/observability"
)

// DefaultGeocodingURL is the Open-Meteo geocoding search endpoint.
const DefaultGeocodingURL = "https://geocoding-api.open-meteo.com/v1/search"

const maxSearchCount = 100

// PlaceSearcher finds places by name using the Open-Meteo geocoding API.
type PlaceSearcher struct {
	baseURL      string
	client       *http.Client
	defaultCount int
}

func NewPlaceSearcher(baseURL string, timeout time.Duration, defaultCount int) *PlaceSearcher {
	if baseURL == "" {
		baseURL = DefaultGeocodingURL
	}
	if defaultCount <= 0 {
		defaultCount = 10
	}
	return &PlaceSearcher{
		baseURL:      baseURL,
		client:       newHTTPClient(timeout),
		defaultCount: defaultCount,
	}
}

type geocodingResponse struct {
	Results []struct {
		Name        string  `json:"name"`
		Latitude    float64 `json:"latitude"`
		Longitude   float64 `json:"longitude"`
		Country     string  `json:"country"`
		CountryCode string  `json:"country_code"`
		Admin1      string  `json:"admin1"`
		Timezone    string  `json:"timezone"`
	} `json:"results"`
}

// Search returns up to count places matching query, best match first. count <= 0 uses the
// configured default. No match is an empty slice, not an error.
func (s *PlaceSearcher) Search(ctx context.Context, query string, count int) ([]models.Place, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if count <= 0 {
		count = s.defaultCount
	}
	if count > maxSearchCount {
		count = maxSearchCount
	}

	u, err := url.Parse(s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid geocoding URL: %w", err)
	}
	q := u.Query()
	q.Set("name", query)
	q.Set("count", strconv.Itoa(count))
	q.Set("language", "en")
	q.Set("format", "json")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		observability.LocationLookupsTotal.WithLabelValues("search", "error").Inc()
		return nil, fmt.Errorf("%w: place search request: %w", ErrLookupFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		observability.LocationLookupsTotal.WithLabelValues("search", "error").Inc()
		return nil, fmt.Errorf("%w: place search returned %s", ErrLookupFailed, resp.Status)
	}

	var body geocodingResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		observability.LocationLookupsTotal.WithLabelValues("search", "error").Inc()
		return nil, fmt.Errorf("%w: decode place search response: %w", ErrLookupFailed, err)
	}

	places := make([]models.Place, 0, len(body.Results))
	for _, r := range body.Results {
		places = append(places, models.Place{
			Name:        r.Name,
			Country:     r.Country,
			CountryCode: r.CountryCode,
			Region:      r.Admin1,
			Latitude:    r.Latitude,
			Longitude:   r.Longitude,
			Timezone:    r.Timezone,
		})
	}
	observability.LocationLookupsTotal.WithLabelValues("search", "success").Inc()
	return places, nil
}
