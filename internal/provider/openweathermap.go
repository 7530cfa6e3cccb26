package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/kjstillabower/weather-failover/internal/models"
)

const OpenWeatherMapName = "openweathermap"

// DefaultOpenWeatherMapURL is the current-weather endpoint.
const DefaultOpenWeatherMapURL = "https://api.openweathermap.org/data/2.5/weather"

// msToKmh converts metres per second (OpenWeatherMap metric units) to km/h.
const msToKmh = 3.6

// OpenWeatherMapProvider reads current conditions from OpenWeatherMap.
type OpenWeatherMapProvider struct {
	httpProvider
}

// NewOpenWeatherMapProvider returns a provider for the OpenWeatherMap API.
func NewOpenWeatherMapProvider(cfg HTTPConfig) (*OpenWeatherMapProvider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenWeatherMapURL
	}
	base, err := newHTTPProvider(OpenWeatherMapName, cfg)
	if err != nil {
		return nil, err
	}
	return &OpenWeatherMapProvider{httpProvider: base}, nil
}

type openWeatherResponse struct {
	Cod     owmCode         `json:"cod"`
	Message json.RawMessage `json:"message"`
	Main    *struct {
		Temp *float64 `json:"temp"`
	} `json:"main"`
	Wind *struct {
		Speed *float64 `json:"speed"`
	} `json:"wind"`
}

// owmCode accepts "cod" as either a number or a numeric string; the API uses both.
type owmCode int

func (c *owmCode) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*c = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("cod %q: %w", s, err)
	}
	*c = owmCode(n)
	return nil
}

func (p *OpenWeatherMapProvider) Name() string {
	return p.name
}

func (p *OpenWeatherMapProvider) Fetch(ctx context.Context, city string) (models.Reading, error) {
	params := url.Values{}
	params.Set("q", openWeatherQuery(city))
	params.Set("appid", p.apiKey)
	params.Set("units", "metric")

	var resp openWeatherResponse
	if err := p.getJSON(ctx, params, &resp); err != nil {
		return models.Reading{}, NewError(p.name, err)
	}

	reading, err := mapOpenWeatherResponse(resp)
	if err != nil {
		return models.Reading{}, NewError(p.name, err)
	}
	return reading, nil
}

// openWeatherQuery disambiguates Melbourne to the Australian city; without a
// country code OpenWeatherMap may resolve it elsewhere.
func openWeatherQuery(city string) string {
	c := strings.TrimSpace(city)
	if strings.Contains(strings.ToLower(c), "melbourne") && !strings.Contains(c, ",") {
		return "melbourne,AU"
	}
	return c
}

func mapOpenWeatherResponse(resp openWeatherResponse) (models.Reading, error) {
	if resp.Cod != 0 && resp.Cod != 200 {
		msg := messageText(resp.Message)
		if resp.Cod == 404 {
			return models.Reading{}, fmt.Errorf("%w: %s", ErrLocationNotFound, msg)
		}
		return models.Reading{}, fmt.Errorf("%w: cod %d: %s", ErrProviderReported, int(resp.Cod), msg)
	}
	if resp.Main == nil || resp.Main.Temp == nil || resp.Wind == nil || resp.Wind.Speed == nil {
		return models.Reading{}, fmt.Errorf("%w: main.temp, wind.speed", ErrMissingFields)
	}
	return models.Reading{
		TemperatureCelsius: *resp.Main.Temp,
		WindSpeedKmh:       *resp.Wind.Speed * msToKmh,
	}, nil
}

func messageText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
