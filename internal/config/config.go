package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port int `yaml:"port"`
	// AuthSecret verifies the bearer tokens minted by the identity service.
	AuthSecret string `yaml:"auth_secret"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type TokenConfig struct {
	// OfflineSecret is the HMAC key shared with client builds.
	OfflineSecret string `yaml:"offline_secret"`
	// SessionKeyPath points at the RS256 private key PEM. Empty disables
	// session tokens outside production.
	SessionKeyPath    string        `yaml:"session_key_path"`
	SessionTTLMinutes int           `yaml:"session_ttl_minutes"`
	SessionTTL        time.Duration `yaml:"-"`
}

type WorkerConfig struct {
	StaleAfterDays     int           `yaml:"stale_after_days"`
	StaleCheckInterval time.Duration `yaml:"stale_check_interval"`
	ExpiryInterval     time.Duration `yaml:"expiry_interval"`
	ExpiryBatchSize    int           `yaml:"expiry_batch_size"`
}

type RateLimitConfig struct {
	ValidatePerMinute int `yaml:"validate_per_minute"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Token     TokenConfig     `yaml:"token"`
	Worker    WorkerConfig    `yaml:"worker"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig() (*Config, error) {
	var configPath string
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()

	b, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Runtime.Dev = dev
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() error {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 8
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = time.Hour
	}
	if cfg.Token.SessionTTLMinutes <= 0 {
		cfg.Token.SessionTTLMinutes = 60
	}
	cfg.Token.SessionTTL = time.Duration(cfg.Token.SessionTTLMinutes) * time.Minute
	if cfg.Worker.StaleAfterDays <= 0 {
		cfg.Worker.StaleAfterDays = 30
	}
	if cfg.Worker.StaleCheckInterval <= 0 {
		cfg.Worker.StaleCheckInterval = time.Hour
	}
	if cfg.Worker.ExpiryInterval <= 0 {
		cfg.Worker.ExpiryInterval = time.Hour
	}
	if cfg.Worker.ExpiryBatchSize <= 0 {
		cfg.Worker.ExpiryBatchSize = 500
	}
	if cfg.RateLimit.ValidatePerMinute <= 0 {
		cfg.RateLimit.ValidatePerMinute = 30
	}

	if cfg.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if cfg.Redis.Addr == "" {
		return errors.New("redis.addr is required")
	}
	if cfg.Server.AuthSecret == "" {
		return errors.New("server.auth_secret is required")
	}
	if cfg.Token.OfflineSecret == "" {
		return errors.New("token.offline_secret is required")
	}
	// Session tokens are a hard requirement outside dev: failing fast beats
	// silently issuing licenses that never unlock features.
	if !cfg.Runtime.Dev && cfg.Token.SessionKeyPath == "" {
		return errors.New("token.session_key_path is required outside dev mode")
	}
	return nil
}
