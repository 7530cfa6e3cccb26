// Package config loads service configuration from config/{ENV_NAME}.yaml, an
// optional .env file, config/secrets.yaml and environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Provider names accepted in providers[].name.
const (
	ProviderWeatherStack   = "weatherstack"
	ProviderOpenWeatherMap = "openweathermap"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string `validate:"required,numeric"`
	Version    string

	RequestTimeout                time.Duration `validate:"gt=0"`
	ShutdownTimeout               time.Duration `validate:"gt=0"`
	ShutdownInFlightTimeout       time.Duration `validate:"gt=0"`
	ShutdownInFlightCheckInterval time.Duration `validate:"gt=0"`

	// Providers is the failover order. Entries without an API key are dropped.
	Providers []ProviderConfig `validate:"min=1,dive"`

	CacheBackend          string        `validate:"oneof=memory memcached"`
	CacheTTL              time.Duration `validate:"gt=0"`
	CacheCapacity         int           `validate:"gt=0"`
	CacheJanitorInterval  time.Duration `validate:"gt=0"`
	MemcachedAddrs        string        `validate:"required_if=CacheBackend memcached"`
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	StoreBackend     string        `validate:"oneof=memory sqlite postgres valkey"`
	StoreTimeout     time.Duration `validate:"gt=0"`
	SQLitePath       string        `validate:"required_if=StoreBackend sqlite"`
	PostgresDSN      string        `validate:"required_if=StoreBackend postgres"`
	PostgresMaxConns int32
	ValkeyAddr       string        `validate:"required_if=StoreBackend valkey"`
	ValkeyPrefix     string

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int `validate:"gt=0"`
	CircuitBreakerHalfOpenRequests int `validate:"gt=0"`
	CircuitBreakerOpenTimeout      time.Duration

	CoalesceEnabled bool
	CoalesceTimeout time.Duration

	WarmCities   []string
	WarmInterval time.Duration
	WarmTimeout  time.Duration

	RateLimitRPS   int `validate:"gte=0"`
	RateLimitBurst int `validate:"gte=0"`

	MaxCityLength int `validate:"gt=0"`

	DegradedWindow      time.Duration `validate:"gt=0"`
	DegradedFallbackPct int           `validate:"gt=0,lte=100"`
	DegradedMinRequests int           `validate:"gte=1"`

	TrackedCities []string
}

// ProviderConfig is one entry of the provider chain.
type ProviderConfig struct {
	Name           string        `validate:"oneof=weatherstack openweathermap"`
	BaseURL        string        `validate:"omitempty,url"`
	APIKey         string        `validate:"required"`
	Timeout        time.Duration `validate:"gt=0"`
	RetryAttempts  int           `validate:"gte=1"`
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

type fileConfig struct {
	Version string `yaml:"version"`

	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Providers []providerEntry `yaml:"providers"`

	Cache struct {
		Backend         string `yaml:"backend"`
		TTL             string `yaml:"ttl"`
		Capacity        int    `yaml:"capacity"`
		JanitorInterval string `yaml:"janitor_interval"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Store struct {
		Backend string `yaml:"backend"`
		Timeout string `yaml:"timeout"`
		SQLite struct {
			Path string `yaml:"path"`
		} `yaml:"sqlite"`
		Postgres struct {
			DSN      string `yaml:"dsn"`
			MaxConns int32  `yaml:"max_conns"`
		} `yaml:"postgres"`
		Valkey struct {
			Addr   string `yaml:"addr"`
			Prefix string `yaml:"prefix"`
		} `yaml:"valkey"`
	} `yaml:"store"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     *int   `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		CircuitBreaker struct {
			Enabled          bool   `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			HalfOpenRequests int    `yaml:"half_open_requests"`
			OpenTimeout      string `yaml:"open_timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Coalesce struct {
		Enabled bool   `yaml:"enabled"`
		Timeout string `yaml:"timeout"`
	} `yaml:"coalesce"`

	Warming struct {
		Cities   []string `yaml:"cities"`
		Interval string   `yaml:"interval"`
		Timeout  string   `yaml:"timeout"`
	} `yaml:"warming"`

	Validation struct {
		MaxCityLength int `yaml:"max_city_length"`
	} `yaml:"validation"`

	Health struct {
		DegradedWindow      string `yaml:"degraded_window"`
		DegradedFallbackPct int    `yaml:"degraded_fallback_pct"`
		DegradedMinRequests int    `yaml:"degraded_min_requests"`
	} `yaml:"health"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Metrics struct {
		TrackedCities []string `yaml:"tracked_cities"`
	} `yaml:"metrics"`
}

type providerEntry struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

type secretsFile struct {
	WeatherStackAPIKey   string `yaml:"weatherstack_api_key"`
	OpenWeatherMapAPIKey string `yaml:"openweathermap_api_key"`
}

var apiKeyEnv = map[string]string{
	ProviderWeatherStack:   "WEATHERSTACK_API_KEY",
	ProviderOpenWeatherMap: "OPENWEATHERMAP_API_KEY",
}

var validate = validator.New()

// Load reads configuration relative to the working directory. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadFrom(cwd)
}

// LoadFrom reads dir/.env (optional), dir/config/{ENV_NAME}.yaml (default dev)
// and dir/config/secrets.yaml (optional). Variables already set in the process
// environment win over .env.
func LoadFrom(dir string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	configPath := filepath.Join(dir, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	secrets, err := loadSecrets(filepath.Join(dir, "config", "secrets.yaml"))
	if err != nil {
		return nil, err
	}

	cfg, err := build(fc, secrets)
	if err != nil {
		return nil, err
	}
	if err := check(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadSecrets(path string) (secretsFile, error) {
	var sec secretsFile
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	return sec, nil
}

func build(fc fileConfig, sec secretsFile) (*Config, error) {
	cfg := &Config{Version: fc.Version}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	cfg.ServerPort = envOr("PORT", fc.Server.Port)
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 15*time.Second)

	retryAttempts := fc.Reliability.RetryMaxAttempts
	if retryAttempts <= 0 {
		retryAttempts = 1
	}
	retryBase := parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	retryMax := parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)

	entries := fc.Providers
	if len(entries) == 0 {
		entries = []providerEntry{{Name: ProviderWeatherStack}, {Name: ProviderOpenWeatherMap}}
	}
	for _, e := range entries {
		name := strings.ToLower(strings.TrimSpace(e.Name))
		if _, ok := apiKeyEnv[name]; !ok {
			return nil, fmt.Errorf("unknown provider %q (want %s or %s)", e.Name, ProviderWeatherStack, ProviderOpenWeatherMap)
		}
		key := apiKey(name, sec)
		if key == "" {
			continue
		}
		cfg.Providers = append(cfg.Providers, ProviderConfig{
			Name:           name,
			BaseURL:        strings.TrimSpace(e.BaseURL),
			APIKey:         key,
			Timeout:        parseDuration(e.Timeout, 5*time.Second),
			RetryAttempts:  retryAttempts,
			RetryBaseDelay: retryBase,
			RetryMaxDelay:  retryMax,
		})
	}

	cfg.CacheBackend = normalizeBackend(envOr("CACHE_BACKEND", fc.Cache.Backend), "memory")
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 3*time.Second)
	cfg.CacheCapacity = fc.Cache.Capacity
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = 1000
	}
	cfg.CacheJanitorInterval = parseDuration(fc.Cache.JanitorInterval, 30*time.Second)
	cfg.MemcachedAddrs = strings.TrimSpace(envOr("MEMCACHED_ADDRS", fc.Cache.Memcached.Addrs))
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.StoreBackend = normalizeBackend(envOr("STORE_BACKEND", fc.Store.Backend), "sqlite")
	cfg.StoreTimeout = parseDuration(fc.Store.Timeout, 2*time.Second)
	cfg.SQLitePath = strings.TrimSpace(envOr("SQLITE_PATH", fc.Store.SQLite.Path))
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = "data/weather.db"
	}
	cfg.PostgresDSN = strings.TrimSpace(envOr("POSTGRES_DSN", fc.Store.Postgres.DSN))
	cfg.PostgresMaxConns = fc.Store.Postgres.MaxConns
	if cfg.PostgresMaxConns <= 0 {
		cfg.PostgresMaxConns = 10
	}
	cfg.ValkeyAddr = strings.TrimSpace(envOr("VALKEY_ADDR", fc.Store.Valkey.Addr))
	cfg.ValkeyPrefix = fc.Store.Valkey.Prefix
	if cfg.ValkeyPrefix == "" {
		cfg.ValkeyPrefix = "weather"
	}

	cb := fc.Reliability.CircuitBreaker
	cfg.CircuitBreakerEnabled = cb.Enabled
	cfg.CircuitBreakerFailureThreshold = cb.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerHalfOpenRequests = cb.HalfOpenRequests
	if cfg.CircuitBreakerHalfOpenRequests <= 0 {
		cfg.CircuitBreakerHalfOpenRequests = 1
	}
	cfg.CircuitBreakerOpenTimeout = parseDuration(cb.OpenTimeout, 30*time.Second)

	cfg.CoalesceEnabled = fc.Coalesce.Enabled
	cfg.CoalesceTimeout = parseDuration(fc.Coalesce.Timeout, 10*time.Second)

	cfg.WarmCities = fc.Warming.Cities
	cfg.WarmInterval = parseDurationOrZero(fc.Warming.Interval, 0)
	cfg.WarmTimeout = parseDuration(fc.Warming.Timeout, 30*time.Second)

	// nil means unset; an explicit 0 disables the limiter.
	cfg.RateLimitRPS = 100
	if fc.Reliability.RateLimitRPS != nil {
		cfg.RateLimitRPS = *fc.Reliability.RateLimitRPS
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	cfg.MaxCityLength = fc.Validation.MaxCityLength
	if cfg.MaxCityLength <= 0 {
		cfg.MaxCityLength = 100
	}

	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 60*time.Second)
	cfg.DegradedFallbackPct = fc.Health.DegradedFallbackPct
	if cfg.DegradedFallbackPct <= 0 {
		cfg.DegradedFallbackPct = 50
	}
	cfg.DegradedMinRequests = fc.Health.DegradedMinRequests
	if cfg.DegradedMinRequests <= 0 {
		cfg.DegradedMinRequests = 5
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.TrackedCities = fc.Metrics.TrackedCities
	return cfg, nil
}

// apiKey prefers the environment over the secrets file.
func apiKey(provider string, sec secretsFile) string {
	if v := strings.TrimSpace(os.Getenv(apiKeyEnv[provider])); v != "" {
		return v
	}
	if provider == ProviderWeatherStack {
		return strings.TrimSpace(sec.WeatherStackAPIKey)
	}
	return strings.TrimSpace(sec.OpenWeatherMapAPIKey)
}

// check validates struct tags and turns the first failure into a readable error.
func check(cfg *Config) error {
	if len(cfg.Providers) == 0 {
		return fmt.Errorf("no weather provider configured: set WEATHERSTACK_API_KEY or OPENWEATHERMAP_API_KEY (env or config/secrets.yaml)")
	}
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	// A request must outlive a full walk of the chain, or the stored-reading
	// fallback never gets a chance to run.
	var chainBudget time.Duration
	for _, p := range cfg.Providers {
		chainBudget += p.Timeout
	}
	if cfg.RequestTimeout <= chainBudget {
		return fmt.Errorf("invalid config: request timeout %v must exceed the sum of provider timeouts (%v)", cfg.RequestTimeout, chainBudget)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func normalizeBackend(s, defaultVal string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return defaultVal
	case "in_memory", "inmemory":
		return "memory"
	}
	return s
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero and negative durations are returned as-is.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}
