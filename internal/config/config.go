package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/rl1809/storefront/internal/adapter/gateway"
	"github.com/rl1809/storefront/internal/core/service"
)

type Config struct {
	HTTPPort  string          `yaml:"http_port"`
	GRPCPort  string          `yaml:"grpc_port"`
	Inventory InventoryConfig `yaml:"inventory"`
	Redis     RedisConfig     `yaml:"redis"`
	MySQL     MySQLConfig     `yaml:"mysql"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Log       LogConfig       `yaml:"log"`
	Session   SessionConfig   `yaml:"session"`
	Catalog   CatalogConfig   `yaml:"catalog"`
}

type InventoryConfig struct {
	URL         string        `yaml:"url"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
	Paths       PathsConfig   `yaml:"paths"`
}

// PathsConfig overrides individual inventory endpoints; empty values keep the defaults.
type PathsConfig struct {
	Catalog           string `yaml:"catalog"`
	Reserve           string `yaml:"reserve"`
	Release           string `yaml:"release"`
	CreateTransaction string `yaml:"create_transaction"`
	CommitStatus      string `yaml:"commit_status"`
}

type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	SnapshotTTL time.Duration `yaml:"snapshot_ttl"`
}

type MySQLConfig struct {
	DSN string `yaml:"dsn"`
}

type KafkaConfig struct {
	Broker string `yaml:"broker"`
	Topic  string `yaml:"topic"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type SessionConfig struct {
	IdleTTL       time.Duration `yaml:"idle_ttl"`
	FailurePolicy string        `yaml:"failure_policy"`
}

type CatalogConfig struct {
	PageSize int `yaml:"page_size"`
}

func Default() Config {
	return Config{
		HTTPPort: "8080",
		GRPCPort: "50051",
		Inventory: InventoryConfig{
			URL:         "http://localhost:3000",
			Timeout:     10 * time.Second,
			MaxRetries:  3,
			BaseBackoff: 100 * time.Millisecond,
		},
		Redis:   RedisConfig{SnapshotTTL: 24 * time.Hour},
		Kafka:   KafkaConfig{Topic: "checkout.completed"},
		Log:     LogConfig{Level: "info"},
		Session: SessionConfig{IdleTTL: 30 * time.Minute, FailurePolicy: string(service.ReleaseOnFailure)},
		Catalog: CatalogConfig{PageSize: service.DefaultPageSize},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if port := os.Getenv("PORT"); port != "" {
		cfg.HTTPPort = port
	}
	if port := os.Getenv("GRPC_PORT"); port != "" {
		cfg.GRPCPort = port
	}
	if u := os.Getenv("INVENTORY_URL"); u != "" {
		cfg.Inventory.URL = u
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if dsn := os.Getenv("MYSQL_DSN"); dsn != "" {
		cfg.MySQL.DSN = dsn
	}
	if broker := os.Getenv("KAFKA_BROKER"); broker != "" {
		cfg.Kafka.Broker = broker
	}
	if topic := os.Getenv("KAFKA_TOPIC"); topic != "" {
		cfg.Kafka.Topic = topic
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if ttl := os.Getenv("SESSION_IDLE_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return fmt.Errorf("invalid SESSION_IDLE_TTL %q: %w", ttl, err)
		}
		cfg.Session.IdleTTL = d
	}
	if policy := os.Getenv("CHECKOUT_FAILURE_POLICY"); policy != "" {
		cfg.Session.FailurePolicy = policy
	}
	if size := os.Getenv("CATALOG_PAGE_SIZE"); size != "" {
		n, err := strconv.Atoi(size)
		if err != nil {
			return fmt.Errorf("invalid CATALOG_PAGE_SIZE %q: %w", size, err)
		}
		cfg.Catalog.PageSize = n
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if c.HTTPPort == "" {
		errs = append(errs, errors.New("http_port is required"))
	}
	if c.Inventory.URL == "" {
		errs = append(errs, errors.New("inventory.url is required"))
	}
	if c.Inventory.Timeout <= 0 {
		errs = append(errs, errors.New("inventory.timeout must be positive"))
	}
	if c.Inventory.MaxRetries < 0 {
		errs = append(errs, errors.New("inventory.max_retries must not be negative"))
	}
	if c.Catalog.PageSize <= 0 {
		errs = append(errs, errors.New("catalog.page_size must be positive"))
	}
	if c.Session.IdleTTL < 0 {
		errs = append(errs, errors.New("session.idle_ttl must not be negative"))
	}
	if _, err := service.ParseFailurePolicy(c.Session.FailurePolicy); err != nil {
		errs = append(errs, err)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

// RetryLimit is MaxRetries as the inventory gateway takes it: a configured 0
// turns retries off instead of selecting the gateway default.
func (c InventoryConfig) RetryLimit() int {
	if c.MaxRetries == 0 {
		return gateway.NoRetries
	}
	return c.MaxRetries
}

func (c Config) FailurePolicy() service.FailurePolicy {
	p, _ := service.ParseFailurePolicy(c.Session.FailurePolicy)
	return p
}

func (c Config) LogLevel() logrus.Level {
	lvl, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
