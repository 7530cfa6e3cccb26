package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRecord(t *testing.T) {
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	updated := created.Add(time.Hour)

	rec, err := decodeRecord(map[string]string{
		"city":                "melbourne",
		"temperature_degrees": "22.5",
		"wind_speed":          "14",
		"provider_source":     "openweathermap",
		"created_at":          "1709283600000000000",
		"updated_at":          "1709287200000000000",
	})
	require.NoError(t, err)
	assert.Equal(t, "melbourne", rec.City)
	assert.Equal(t, 22.5, rec.Reading.TemperatureCelsius)
	assert.Equal(t, 14.0, rec.Reading.WindSpeedKmh)
	assert.Equal(t, "openweathermap", rec.ProviderSource)
	assert.True(t, rec.CreatedAt.Equal(created))
	assert.True(t, rec.UpdatedAt.Equal(updated))
}

func TestDecodeRecord_BadField(t *testing.T) {
	_, err := decodeRecord(map[string]string{
		"temperature_degrees": "warm",
	})
	assert.ErrorContains(t, err, "temperature_degrees")
}
