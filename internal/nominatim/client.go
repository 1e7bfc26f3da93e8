// Package nominatim is a minimal client for the OpenStreetMap
// Nominatim search API, used as an optional address-to-coordinate
// lookup. It is treated as unreliable: a missing result is not an
// error, and callers degrade to "no point" on any failure.
package nominatim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Location is a WGS-84 coordinate pair.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Geocoder converts free-text addresses to coordinates. A nil Location
// with nil error means "no result".
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*Location, error)
}

// Client implements Geocoder against a Nominatim endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	logger     *slog.Logger
}

// NewClient creates a Nominatim client. The user agent is required by
// the public instance's usage policy.
func NewClient(baseURL, userAgent string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		userAgent:  userAgent,
		logger:     logger,
	}
}

// Geocode resolves an address to its best-match coordinate.
func (c *Client) Geocode(ctx context.Context, address string) (*Location, error) {
	if address == "" {
		return nil, nil
	}

	params := url.Values{
		"q":      {address},
		"format": {"json"},
		"limit":  {"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create geocode request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("geocode status %d: %s", resp.StatusCode, body)
	}

	// Nominatim encodes coordinates as strings.
	var results []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("decode geocode response: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	lat, errLat := strconv.ParseFloat(results[0].Lat, 64)
	lon, errLon := strconv.ParseFloat(results[0].Lon, 64)
	if errLat != nil || errLon != nil {
		c.logger.Warn("geocode result had unparseable coordinates", "lat", results[0].Lat, "lon", results[0].Lon)
		return nil, nil
	}
	return &Location{Lat: lat, Lon: lon}, nil
}
