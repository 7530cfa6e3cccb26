package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/kjstillabower/weather-failover/internal/models"
)

// upsertScript applies last-write-wins on updated_at and keeps created_at from
// the first write. ARGV: city, temperature, wind, provider, updated_at (unix ns).
var upsertScript = valkey.NewLuaScript(`
local current = redis.call('HGET', KEYS[1], 'updated_at')
if current and tonumber(current) > tonumber(ARGV[5]) then
	return 0
end
redis.call('HSETNX', KEYS[1], 'created_at', ARGV[5])
redis.call('HSET', KEYS[1],
	'city', ARGV[1],
	'temperature_degrees', ARGV[2],
	'wind_speed', ARGV[3],
	'provider_source', ARGV[4],
	'updated_at', ARGV[5])
return 1
`)

// ValkeyStore keeps one hash per city in a Valkey-compatible server.
type ValkeyStore struct {
	client valkey.Client
	prefix string
	now    func() time.Time
}

// NewValkeyClient builds a client from a host:port or a valkey:// / redis:// URL.
func NewValkeyClient(addr string) (valkey.Client, error) {
	var (
		opt valkey.ClientOption
		err error
	)
	if strings.Contains(addr, "://") {
		opt, err = valkey.ParseURL(addr)
	} else {
		opt = valkey.ClientOption{InitAddress: []string{addr}}
	}
	if err != nil {
		return nil, fmt.Errorf("valkey options: %w", err)
	}
	return valkey.NewClient(opt)
}

// NewValkeyStore wraps client; keys are "<prefix>:record:<city>".
func NewValkeyStore(client valkey.Client, prefix string, opts ...Option) *ValkeyStore {
	if prefix == "" {
		prefix = "weather"
	}
	o := buildOptions(opts)
	return &ValkeyStore{client: client, prefix: prefix, now: o.now}
}

func (s *ValkeyStore) recordKey(city string) string {
	return s.prefix + ":record:" + city
}

func (s *ValkeyStore) Upsert(ctx context.Context, city string, reading models.Reading, providerSource string) error {
	key := models.NormalizeCity(city)
	args := []string{
		key,
		strconv.FormatFloat(reading.TemperatureCelsius, 'g', -1, 64),
		strconv.FormatFloat(reading.WindSpeedKmh, 'g', -1, 64),
		providerSource,
		strconv.FormatInt(s.now().UTC().UnixNano(), 10),
	}
	err := upsertScript.Exec(ctx, s.client, []string{s.recordKey(key)}, args).Error()
	observe("upsert", err)
	if err != nil {
		return &WriteError{City: key, Err: err}
	}
	return nil
}

func (s *ValkeyStore) Latest(ctx context.Context, city string) (models.CityRecord, bool, error) {
	key := models.NormalizeCity(city)
	fields, err := s.client.Do(ctx, s.client.B().Hgetall().Key(s.recordKey(key)).Build()).AsStrMap()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			observe("latest", nil)
			return models.CityRecord{}, false, nil
		}
		observe("latest", err)
		return models.CityRecord{}, false, fmt.Errorf("valkey latest: %w", err)
	}
	if len(fields) == 0 {
		observe("latest", nil)
		return models.CityRecord{}, false, nil
	}

	rec, err := decodeRecord(fields)
	observe("latest", err)
	if err != nil {
		return models.CityRecord{}, false, fmt.Errorf("valkey latest %q: %w", key, err)
	}
	return rec, true, nil
}

func decodeRecord(fields map[string]string) (models.CityRecord, error) {
	var (
		rec models.CityRecord
		err error
	)
	rec.City = fields["city"]
	rec.ProviderSource = fields["provider_source"]
	if rec.Reading.TemperatureCelsius, err = strconv.ParseFloat(fields["temperature_degrees"], 64); err != nil {
		return rec, fmt.Errorf("temperature_degrees: %w", err)
	}
	if rec.Reading.WindSpeedKmh, err = strconv.ParseFloat(fields["wind_speed"], 64); err != nil {
		return rec, fmt.Errorf("wind_speed: %w", err)
	}
	created, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return rec, fmt.Errorf("created_at: %w", err)
	}
	updated, err := strconv.ParseInt(fields["updated_at"], 10, 64)
	if err != nil {
		return rec, fmt.Errorf("updated_at: %w", err)
	}
	rec.CreatedAt = time.Unix(0, created).UTC()
	rec.UpdatedAt = time.Unix(0, updated).UTC()
	return rec, nil
}

func (s *ValkeyStore) Ping(ctx context.Context) error {
	return s.client.Do(ctx, s.client.B().Ping().Build()).Error()
}

func (s *ValkeyStore) Close() error {
	s.client.Close()
	return nil
}
