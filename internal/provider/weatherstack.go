package provider

import (
	"context"
	"fmt"
	"net/url"

	"github.com/kjstillabower/weather-failover/internal/models"
)

const WeatherStackName = "weatherstack"

// DefaultWeatherStackURL is the current-conditions endpoint.
const DefaultWeatherStackURL = "http://api.weatherstack.com/current"

// WeatherStackProvider reads current conditions from WeatherStack. Metric units
// already report Celsius and km/h, so no conversion is needed.
type WeatherStackProvider struct {
	httpProvider
}

// NewWeatherStackProvider returns a provider for the WeatherStack API.
func NewWeatherStackProvider(cfg HTTPConfig) (*WeatherStackProvider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultWeatherStackURL
	}
	base, err := newHTTPProvider(WeatherStackName, cfg)
	if err != nil {
		return nil, err
	}
	return &WeatherStackProvider{httpProvider: base}, nil
}

// weatherStackResponse maps only the fields we read. Errors arrive with HTTP 200
// and an "error" object instead of "current".
type weatherStackResponse struct {
	Success *bool `json:"success"`
	Error   *struct {
		Code int    `json:"code"`
		Type string `json:"type"`
		Info string `json:"info"`
	} `json:"error"`
	Current *struct {
		Temperature *float64 `json:"temperature"`
		WindSpeed   *float64 `json:"wind_speed"`
	} `json:"current"`
}

func (p *WeatherStackProvider) Name() string {
	return p.name
}

func (p *WeatherStackProvider) Fetch(ctx context.Context, city string) (models.Reading, error) {
	params := url.Values{}
	params.Set("access_key", p.apiKey)
	params.Set("query", city)
	params.Set("units", "m")

	var resp weatherStackResponse
	if err := p.getJSON(ctx, params, &resp); err != nil {
		return models.Reading{}, NewError(p.name, err)
	}

	reading, err := mapWeatherStackResponse(resp)
	if err != nil {
		return models.Reading{}, NewError(p.name, err)
	}
	return reading, nil
}

func mapWeatherStackResponse(resp weatherStackResponse) (models.Reading, error) {
	if resp.Error != nil {
		switch resp.Error.Code {
		case 101:
			return models.Reading{}, fmt.Errorf("%w: %s", ErrInvalidAPIKey, resp.Error.Info)
		case 615:
			return models.Reading{}, fmt.Errorf("%w: %s", ErrLocationNotFound, resp.Error.Info)
		}
		return models.Reading{}, fmt.Errorf("%w: code %d: %s", ErrProviderReported, resp.Error.Code, resp.Error.Info)
	}
	if resp.Success != nil && !*resp.Success {
		return models.Reading{}, fmt.Errorf("%w: success=false", ErrProviderReported)
	}
	if resp.Current == nil || resp.Current.Temperature == nil || resp.Current.WindSpeed == nil {
		return models.Reading{}, fmt.Errorf("%w: current.temperature, current.wind_speed", ErrMissingFields)
	}
	return models.Reading{
		TemperatureCelsius: *resp.Current.Temperature,
		WindSpeedKmh:       *resp.Current.WindSpeed,
	}, nil
}
