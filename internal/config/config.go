// Package config loads service configuration from an optional YAML file,
// then environment variables, then validates it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pair-apr-lab/internal/domain"
)

// Storage drivers.
const (
	DriverMemory     = "memory"
	DriverPostgres   = "postgres"
	DriverSQLite     = "sqlite"
	DriverClickHouse = "clickhouse"
)

// Defaults.
const (
	DefaultInitialFetchHours = 48
	DefaultSnapshotInterval  = 60 * time.Minute
	DefaultScheduleInterval  = 60 * time.Minute
	DefaultSubgraphEndpoint  = "https://gateway.thegraph.com/api/subgraphs/id/A3Np3RQbaBA6oKJgiwDJeo5T3zrYfGHPWFYayMwtNDum"
	DefaultHTTPAddr          = ":8080"
	DefaultSQLitePath        = "pair-apr-lab.db"
	DefaultKafkaTopic        = "pair-snapshots"
)

// DefaultPairs are the tracked Uniswap V2 pairs when none are configured.
var DefaultPairs = []string{
	"0xbc9d21652cca70f54351e3fb982c6b5dbe992a22",
	"0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc",
}

// Config is the full service configuration.
type Config struct {
	Pairs             []string      `yaml:"pairs"`
	InitialFetchHours int           `yaml:"initial_fetch_hours"`
	SnapshotInterval  time.Duration `yaml:"snapshot_interval"`
	ScheduleInterval  time.Duration `yaml:"schedule_interval"`

	Subgraph SubgraphConfig `yaml:"subgraph"`
	Storage  StorageConfig  `yaml:"storage"`
	HTTP     HTTPConfig     `yaml:"http"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Log      LogConfig      `yaml:"log"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

type SubgraphConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
}

type StorageConfig struct {
	Driver        string `yaml:"driver"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickHouseDSN string `yaml:"clickhouse_dsn"`
	SQLitePath    string `yaml:"sqlite_path"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// RedisConfig enables the shared per-pair lease when Addr is set.
type RedisConfig struct {
	Addr string `yaml:"addr"`
}

// KafkaConfig enables snapshot publishing when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig enables OTLP export when Endpoint is set.
type TracingConfig struct {
	Endpoint string `yaml:"endpoint"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Pairs:             append([]string(nil), DefaultPairs...),
		InitialFetchHours: DefaultInitialFetchHours,
		SnapshotInterval:  DefaultSnapshotInterval,
		ScheduleInterval:  DefaultScheduleInterval,
		Subgraph:          SubgraphConfig{Endpoint: DefaultSubgraphEndpoint},
		Storage:           StorageConfig{Driver: DriverMemory, SQLitePath: DefaultSQLitePath},
		HTTP:              HTTPConfig{Addr: DefaultHTTPAddr},
		Kafka:             KafkaConfig{Topic: DefaultKafkaTopic},
		Log:               LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = splitList(v)
		}
	}

	str("SUBGRAPH_ENDPOINT", &c.Subgraph.Endpoint)
	str("GRAPH_API_KEY", &c.Subgraph.APIKey)
	str("STORAGE_DRIVER", &c.Storage.Driver)
	str("POSTGRES_DSN", &c.Storage.PostgresDSN)
	str("CLICKHOUSE_DSN", &c.Storage.ClickHouseDSN)
	str("SQLITE_PATH", &c.Storage.SQLitePath)
	str("HTTP_ADDR", &c.HTTP.Addr)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("KAFKA_TOPIC", &c.Kafka.Topic)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Tracing.Endpoint)
	list("PAIRS", &c.Pairs)
	list("KAFKA_BROKERS", &c.Kafka.Brokers)

	if v, ok := lookup("INITIAL_FETCH_HOURS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("INITIAL_FETCH_HOURS: %w", err)
		}
		c.InitialFetchHours = n
	}
	if v, ok := lookup("SNAPSHOT_INTERVAL_MINUTES"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SNAPSHOT_INTERVAL_MINUTES: %w", err)
		}
		c.SnapshotInterval = time.Duration(n) * time.Minute
	}
	if v, ok := lookup("SCHEDULE_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SCHEDULE_INTERVAL: %w", err)
		}
		c.ScheduleInterval = d
	}
	return nil
}

// Validate checks the configuration and normalizes pair ids in place.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Pairs) == 0 {
		errs = append(errs, errors.New("at least one pair is required"))
	}
	seen := make(map[string]struct{}, len(c.Pairs))
	pairs := make([]string, 0, len(c.Pairs))
	for _, p := range c.Pairs {
		id, err := domain.NormalizePairID(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("pair %q: %w", p, err))
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		pairs = append(pairs, id)
	}
	c.Pairs = pairs

	if c.InitialFetchHours <= 0 {
		errs = append(errs, fmt.Errorf("initial fetch hours must be positive, got %d", c.InitialFetchHours))
	}
	if c.SnapshotInterval <= 0 {
		errs = append(errs, fmt.Errorf("snapshot interval must be positive, got %s", c.SnapshotInterval))
	}
	if c.ScheduleInterval <= 0 {
		errs = append(errs, fmt.Errorf("schedule interval must be positive, got %s", c.ScheduleInterval))
	}
	if c.Subgraph.Endpoint == "" {
		errs = append(errs, errors.New("subgraph endpoint is required"))
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for the postgres driver"))
		}
	case DriverClickHouse:
		if c.Storage.ClickHouseDSN == "" {
			errs = append(errs, errors.New("CLICKHOUSE_DSN is required for the clickhouse driver"))
		}
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
