package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/time/rate"

	"github.com/spec-kit/courier-track/internal/config"
)

// UnknownArea is returned when the response carries no usable component.
const UnknownArea = "unknown"

// ReverseGeocoder maps a coordinate pair to a human-readable area name.
type ReverseGeocoder interface {
	ReverseArea(ctx context.Context, lat, lng float64) (string, error)
}

// Client wraps the OSM Nominatim reverse-geocoding API. Calls are capped
// by a global rate limiter to respect the service's usage policy.
type Client struct {
	baseURL    string
	language   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient builds a Nominatim client from configuration.
func NewClient(cfg config.GeocoderConfig) *Client {
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 1
	}
	return &Client{
		baseURL:  cfg.BaseURL,
		language: cfg.Language,
		httpClient: &http.Client{
			Timeout: cfg.Timeout(),
		},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

type reverseResponse struct {
	DisplayName string  `json:"display_name"`
	Address     address `json:"address"`
}

type address struct {
	Suburb        string `json:"suburb"`
	Neighbourhood string `json:"neighbourhood"`
	CityDistrict  string `json:"city_district"`
	City          string `json:"city"`
	Town          string `json:"town"`
	Village       string `json:"village"`
	State         string `json:"state"`
}

// ReverseArea resolves a coordinate pair to a display area name.
func (c *Client) ReverseArea(ctx context.Context, lat, lng float64) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", fmt.Sprintf("%f", lat))
	q.Set("lon", fmt.Sprintf("%f", lng))
	q.Set("accept-language", c.language)
	u := fmt.Sprintf("%s/reverse?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("reverse geocoding request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reverse geocoding returned HTTP %d", resp.StatusCode)
	}

	var payload reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decoding reverse geocoding response: %w", err)
	}

	return pickArea(payload), nil
}

// pickArea applies the fixed component precedence: first non-empty wins.
func pickArea(payload reverseResponse) string {
	candidates := []string{
		payload.Address.Suburb,
		payload.Address.Neighbourhood,
		payload.Address.CityDistrict,
		payload.Address.City,
		payload.Address.Town,
		payload.Address.Village,
		payload.Address.State,
		payload.DisplayName,
	}
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return UnknownArea
}
