package location

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/skycast/forecast-service/internal/models"
	"github.com/skycast/forecast-service/internal/observability"
)

// DefaultIPAPIURL is the ip-api.com endpoint root.
const DefaultIPAPIURL = "http://ip-api.com"

const ipAPIFields = "status,message,country,regionName,city,timezone,lat,lon"

// IPResolver looks up the approximate location of an IP address via ip-api.com.
type IPResolver struct {
	baseURL string
	client  *http.Client
}

func NewIPResolver(baseURL string, timeout time.Duration) *IPResolver {
	if baseURL == "" {
		baseURL = DefaultIPAPIURL
	}
	return &IPResolver{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  newHTTPClient(timeout),
	}
}

type ipAPIResponse struct {
	Status     string  `json:"status"`
	Message    string  `json:"message"`
	Country    string  `json:"country"`
	RegionName string  `json:"regionName"`
	City       string  `json:"city"`
	Timezone   string  `json:"timezone"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
}

// Lookup resolves ip. Addresses that are not publicly routable (loopback, private, empty)
// resolve the server's own egress address instead.
func (r *IPResolver) Lookup(ctx context.Context, ip string) (models.IPLocation, error) {
	endpoint := r.baseURL + "/json"
	if routable(ip) {
		endpoint += "/" + url.PathEscape(ip)
	}
	endpoint += "?fields=" + url.QueryEscape(ipAPIFields)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.IPLocation{}, fmt.Errorf("create ip lookup request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		observability.LocationLookupsTotal.WithLabelValues("ip", "error").Inc()
		return models.IPLocation{}, fmt.Errorf("%w: ip lookup request: %w", ErrLookupFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		observability.LocationLookupsTotal.WithLabelValues("ip", "error").Inc()
		return models.IPLocation{}, fmt.Errorf("%w: ip lookup returned %s", ErrLookupFailed, resp.Status)
	}

	var body ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		observability.LocationLookupsTotal.WithLabelValues("ip", "error").Inc()
		return models.IPLocation{}, fmt.Errorf("%w: decode ip lookup response: %w", ErrLookupFailed, err)
	}
	if body.Status != "success" {
		observability.LocationLookupsTotal.WithLabelValues("ip", "failed").Inc()
		return models.IPLocation{}, fmt.Errorf("%w: %s", ErrLookupFailed, body.Message)
	}

	observability.LocationLookupsTotal.WithLabelValues("ip", "success").Inc()
	return models.IPLocation{
		Country:   body.Country,
		Region:    body.RegionName,
		City:      body.City,
		Timezone:  body.Timezone,
		Latitude:  body.Lat,
		Longitude: body.Lon,
	}, nil
}

func routable(ip string) bool {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return false
	}
	return !(parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsUnspecified() ||
		parsed.IsLinkLocalUnicast() || parsed.IsLinkLocalMulticast())
}
