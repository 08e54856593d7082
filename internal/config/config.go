// Package config loads process configuration: built-in defaults, then an
// optional YAML file named by REGISTRY_CONFIG, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Env        string `yaml:"env"`
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`

	Database   Database   `yaml:"database"`
	Registry   Registry   `yaml:"registry"`
	RateLimit  RateLimit  `yaml:"rate_limit"`
	Breaker    Breaker    `yaml:"breaker"`
	Cache      Cache      `yaml:"cache"`
	RequestLog RequestLog `yaml:"request_log"`
	Replica    Replica    `yaml:"replica"`
	Archive    Archive    `yaml:"archive"`
	Prefetch   Prefetch   `yaml:"prefetch"`
}

type Database struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

type Registry struct {
	BaseURL      string        `yaml:"base_url"`
	TokenURL     string        `yaml:"token_url"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	Scopes       []string      `yaml:"scopes"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	BackoffBase  time.Duration `yaml:"backoff_base"`
	TokenMargin  time.Duration `yaml:"token_margin"`
}

type RateLimit struct {
	PerMinute   int           `yaml:"per_minute"`
	BurstMax    int           `yaml:"burst_max"`
	BurstWindow time.Duration `yaml:"burst_window"`
	JitterMax   time.Duration `yaml:"jitter_max"`
}

type Breaker struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// Cache backends.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
)

type Cache struct {
	Backend  string `yaml:"backend"`
	RedisURL string `yaml:"redis_url"`
	// Zero FinancialsTTL stores statements without expiry.
	IdentityTTL   time.Duration `yaml:"identity_ttl"`
	DocumentsTTL  time.Duration `yaml:"documents_ttl"`
	FinancialsTTL time.Duration `yaml:"financials_ttl"`
}

type RequestLog struct {
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
}

type Replica struct {
	Backend    string `yaml:"backend"`
	SQLitePath string `yaml:"sqlite_path"`
}

type Archive struct {
	Dir string `yaml:"dir"`
}

type Prefetch struct {
	Workers      int           `yaml:"workers"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Env:        "development",
		ListenAddr: ":8080",
		LogLevel:   "info",
		LogFormat:  "json",
		Database:   Database{MaxConns: 10},
		Registry: Registry{
			BaseURL:     "https://gw.api.bolagsverket.se/vardefulla-datamangder/v1",
			TokenURL:    "https://portal.api.bolagsverket.se/oauth2/token",
			Scopes:      []string{"vardefulla-datamangder:read", "vardefulla-datamangder:ping"},
			Timeout:     30 * time.Second,
			MaxRetries:  3,
			BackoffBase: time.Second,
			TokenMargin: 60 * time.Second,
		},
		RateLimit: RateLimit{PerMinute: 60, BurstMax: 3, BurstWindow: 5 * time.Second, JitterMax: 250 * time.Millisecond},
		Breaker:   Breaker{FailureThreshold: 5, SuccessThreshold: 2, Timeout: 60 * time.Second},
		Cache: Cache{
			Backend:      BackendPostgres,
			IdentityTTL:  30 * 24 * time.Hour,
			DocumentsTTL: 7 * 24 * time.Hour,
		},
		RequestLog: RequestLog{KafkaTopic: "registry.requests"},
		Replica:    Replica{Backend: BackendPostgres, SQLitePath: "data/replica.db"},
		Archive:    Archive{Dir: "data/archive"},
		Prefetch:   Prefetch{Workers: 0, PollInterval: 500 * time.Millisecond},
	}
}

// Load reads REGISTRY_CONFIG (when set) and the environment, and validates
// the result for serving.
func Load() (Config, error) {
	cfg, err := Read()
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Read is Load without validation, for tools that need only part of the
// configuration.
func Read() (Config, error) {
	cfg := Defaults()
	if path := os.Getenv("REGISTRY_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return cfg, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Env = getenv("APP_ENV", c.Env)
	c.ListenAddr = getenv("LISTEN_ADDR", c.ListenAddr)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getenv("LOG_FORMAT", c.LogFormat)

	c.Database.URL = getenv("DATABASE_URL", c.Database.URL)
	c.Database.MaxConns = getenvInt("DATABASE_MAX_CONNS", c.Database.MaxConns)

	c.Registry.BaseURL = getenv("REGISTRY_BASE_URL", c.Registry.BaseURL)
	c.Registry.TokenURL = getenv("REGISTRY_TOKEN_URL", c.Registry.TokenURL)
	c.Registry.ClientID = getenv("REGISTRY_CLIENT_ID", c.Registry.ClientID)
	c.Registry.ClientSecret = getenv("REGISTRY_CLIENT_SECRET", c.Registry.ClientSecret)
	c.Registry.Scopes = getenvList("REGISTRY_SCOPES", c.Registry.Scopes)
	c.Registry.Timeout = getenvDuration("REGISTRY_TIMEOUT", c.Registry.Timeout)

	c.RateLimit.PerMinute = getenvInt("RATE_LIMIT_PER_MINUTE", c.RateLimit.PerMinute)
	c.Breaker.FailureThreshold = getenvInt("BREAKER_FAILURE_THRESHOLD", c.Breaker.FailureThreshold)
	c.Breaker.Timeout = getenvDuration("BREAKER_TIMEOUT", c.Breaker.Timeout)

	c.Cache.Backend = getenv("CACHE_BACKEND", c.Cache.Backend)
	c.Cache.RedisURL = getenv("REDIS_URL", c.Cache.RedisURL)
	c.Cache.FinancialsTTL = getenvDuration("CACHE_FINANCIALS_TTL", c.Cache.FinancialsTTL)

	c.RequestLog.KafkaBrokers = getenvList("KAFKA_BROKERS", c.RequestLog.KafkaBrokers)
	c.RequestLog.KafkaTopic = getenv("KAFKA_REQUEST_TOPIC", c.RequestLog.KafkaTopic)

	c.Replica.Backend = getenv("REPLICA_BACKEND", c.Replica.Backend)
	c.Replica.SQLitePath = getenv("REPLICA_SQLITE_PATH", c.Replica.SQLitePath)
	c.Archive.Dir = getenv("ARCHIVE_DIR", c.Archive.Dir)

	c.Prefetch.Workers = getenvInt("PREFETCH_WORKERS", c.Prefetch.Workers)
	c.Prefetch.PollInterval = getenvDuration("PREFETCH_POLL_INTERVAL", c.Prefetch.PollInterval)
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("DATABASE_URL not set"))
	}
	if c.Registry.ClientID == "" || c.Registry.ClientSecret == "" {
		errs = append(errs, errors.New("registry client credentials not set"))
	}
	switch c.Cache.Backend {
	case BackendPostgres:
	case BackendRedis:
		if c.Cache.RedisURL == "" {
			errs = append(errs, errors.New("cache backend redis needs REDIS_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend %q", c.Cache.Backend))
	}
	switch c.Replica.Backend {
	case BackendPostgres, BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown replica backend %q", c.Replica.Backend))
	}
	if c.Prefetch.Workers > 0 && c.Prefetch.PollInterval <= 0 {
		errs = append(errs, errors.New("prefetch poll interval must be positive"))
	}
	return errors.Join(errs...)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var out int
		_, err := fmt.Sscanf(v, "%d", &out)
		if err == nil {
			return out
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// getenvList splits on commas and whitespace.
func getenvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
}
