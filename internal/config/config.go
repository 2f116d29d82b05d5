// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Source  SourceConfig  `mapstructure:"source"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Robots  RobotsConfig  `mapstructure:"robots"`
	Cache   CacheConfig   `mapstructure:"cache"`
	DB      DBConfig      `mapstructure:"db"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SourceConfig identifies the upstream origin and league being scraped.
type SourceConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	LeaguePath string `mapstructure:"league_path"`
	League     string `mapstructure:"league"`
	Sport      string `mapstructure:"sport"`
}

// CrawlerConfig governs fetch pipeline behavior.
type CrawlerConfig struct {
	UserAgent      string        `mapstructure:"user_agent"`
	Concurrency    int           `mapstructure:"concurrency"`
	MinDelay       time.Duration `mapstructure:"min_delay"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	Supersede      bool          `mapstructure:"supersede"`
}

// RobotsConfig controls robots.txt handling.
type RobotsConfig struct {
	TTL     time.Duration `mapstructure:"ttl"`
	Respect bool          `mapstructure:"respect"`
}

// CacheConfig sizes the response cache.
type CacheConfig struct {
	MaxEntries      int           `mapstructure:"max_entries"`
	MaxAge          time.Duration `mapstructure:"max_age"`
	FreshnessWindow time.Duration `mapstructure:"freshness_window"`
}

// DBConfig controls access to the relational catalog. Disabled means the
// in-memory catalog is used instead.
type DBConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	DSN         string `mapstructure:"dsn"`
	TablePrefix string `mapstructure:"table_prefix"`
	MaxConns    int32  `mapstructure:"max_conns"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PERFORMA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("source.base_url", "https://www.covers.com")
	v.SetDefault("source.league_path", "/sport/basketball/nba")
	v.SetDefault("source.league", "NBA")
	v.SetDefault("source.sport", "basketball")
	v.SetDefault("crawler.user_agent", "performa-bot/0.1")
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.min_delay", time.Second)
	v.SetDefault("crawler.request_timeout", 15*time.Second)
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.supersede", false)
	v.SetDefault("robots.ttl", 24*time.Hour)
	v.SetDefault("robots.respect", true)
	v.SetDefault("cache.max_entries", 1024)
	v.SetDefault("cache.max_age", 7*24*time.Hour)
	v.SetDefault("cache.freshness_window", 15*time.Minute)
	v.SetDefault("db.enabled", false)
	v.SetDefault("db.table_prefix", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if c.Crawler.UserAgent == "" {
		return fmt.Errorf("crawler.user_agent must be set")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.DB.Enabled && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when db is enabled")
	}
	u, err := url.Parse(c.Source.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("source.base_url must be an absolute URL")
	}
	if !strings.HasPrefix(c.Source.LeaguePath, "/") {
		return fmt.Errorf("source.league_path must start with /")
	}
	return nil
}
