package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Point is a geocoded position.
type Point struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	PlaceName string  `json:"place_name"`
}

// Geocoder resolves a free-form query to a position. ok is false when
// nothing matched.
type Geocoder interface {
	ForwardGeocode(ctx context.Context, query string) (p Point, ok bool, err error)
}

// MapboxClient uses the Mapbox Geocoding API.
type MapboxClient struct {
	token      string
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewMapboxClient returns nil when token is empty.
func NewMapboxClient(token string, timeout time.Duration, logger *slog.Logger) *MapboxClient {
	if token == "" {
		return nil
	}
	return &MapboxClient{
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    "https://api.mapbox.com/geocoding/v5/mapbox.places",
		logger:     logger,
	}
}

type mapboxResponse struct {
	Features []struct {
		Center    []float64 `json:"center"` // [lon, lat]
		PlaceName string    `json:"place_name"`
		Relevance float64   `json:"relevance"`
	} `json:"features"`
}

// ForwardGeocode looks up query within the United States.
func (c *MapboxClient) ForwardGeocode(ctx context.Context, query string) (Point, bool, error) {
	u := fmt.Sprintf("%s/%s.json", c.baseURL, url.PathEscape(query))
	params := url.Values{
		"access_token": {c.token},
		"limit":        {"1"},
		"country":      {"us"},
		"types":        {"address,poi,place"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u+"?"+params.Encode(), nil)
	if err != nil {
		return Point{}, false, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Point{}, false, fmt.Errorf("forward geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Point{}, false, fmt.Errorf("mapbox API error: status %d: %s", resp.StatusCode, body)
	}

	var body mapboxResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Point{}, false, fmt.Errorf("decode response: %w", err)
	}
	if len(body.Features) == 0 || len(body.Features[0].Center) != 2 {
		c.logger.Debug("mapbox returned no match", "query", query)
		return Point{}, false, nil
	}

	f := body.Features[0]
	return Point{Lat: f.Center[1], Lon: f.Center[0], PlaceName: f.PlaceName}, true, nil
}
