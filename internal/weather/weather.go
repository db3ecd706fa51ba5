// Package weather fetches current conditions for the GetWeather intent.
//
// The client speaks to the Open-Meteo forecast API over HTTPS with explicit
// connect and read timeouts. Failures (unreachable host, non-2xx, malformed
// JSON) are recoverable: the pipeline degrades to a fallback line instead of
// failing the turn.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultBaseURL = "https://api.open-meteo.com"

	connectTimeout = 10 * time.Second
	readTimeout    = 15 * time.Second
)

// ErrUnavailable reports that current conditions could not be fetched.
var ErrUnavailable = errors.New("weather: service unavailable")

// Report is the current weather at the configured location.
type Report struct {
	TemperatureC float64
	WindSpeedKmh float64
	Code         int
}

// Description returns a short Spanish description of the conditions.
func (r Report) Description() string {
	return describeCode(r.Code)
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint. Used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// Client fetches weather for a fixed latitude/longitude.
type Client struct {
	baseURL  string
	lat, lon float64
	client   *http.Client
}

// New creates a Client for the given coordinates.
func New(lat, lon float64, opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		lat:     lat,
		lon:     lon,
		client: &http.Client{
			Timeout: readTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type currentWeather struct {
	Temperature float64 `json:"temperature"`
	WindSpeed   float64 `json:"windspeed"`
	WeatherCode int     `json:"weathercode"`
}

type forecastResponse struct {
	CurrentWeather *currentWeather `json:"current_weather"`
}

// Current fetches the current conditions.
func (c *Client) Current(ctx context.Context) (Report, error) {
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", c.lat))
	q.Set("longitude", fmt.Sprintf("%.4f", c.lon))
	q.Set("current_weather", "true")

	reqURL := c.baseURL + "/v1/forecast?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Report{}, fmt.Errorf("weather: build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Report{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		return Report{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var parsed forecastResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Report{}, fmt.Errorf("%w: decode response: %w", ErrUnavailable, err)
	}
	if parsed.CurrentWeather == nil {
		return Report{}, fmt.Errorf("%w: response missing current_weather", ErrUnavailable)
	}

	return Report{
		TemperatureC: parsed.CurrentWeather.Temperature,
		WindSpeedKmh: parsed.CurrentWeather.WindSpeed,
		Code:         parsed.CurrentWeather.WeatherCode,
	}, nil
}

// describeCode maps WMO weather interpretation codes to Spanish phrases.
func describeCode(code int) string {
	switch {
	case code == 0:
		return "cielo despejado"
	case code <= 3:
		return "parcialmente nublado"
	case code == 45 || code == 48:
		return "niebla"
	case code >= 51 && code <= 57:
		return "llovizna"
	case code >= 61 && code <= 67:
		return "lluvia"
	case code >= 71 && code <= 77:
		return "nieve"
	case code >= 80 && code <= 82:
		return "chubascos"
	case code >= 95:
		return "tormenta"
	default:
		return "condiciones variables"
	}
}
