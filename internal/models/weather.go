package models

import (
	"strings"
	"time"
)

// Reading is the normalized current-weather value returned to callers.
// Temperature is always Celsius and wind speed always km/h, whatever the provider's native units.
type Reading struct {
	TemperatureCelsius float64 `json:"temperature_degrees"`
	WindSpeedKmh       float64 `json:"wind_speed"`
}

// CityRecord is the durable last-known-good reading for one city.
type CityRecord struct {
	City           string    `json:"city"`
	Reading        Reading   `json:"reading"`
	ProviderSource string    `json:"provider_source"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NormalizeCity returns the cache and store key for a city: trimmed and lowercased.
func NormalizeCity(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}
