// Package config loads and validates apkfetch configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// CatalogConfig describes the upstream catalog site and page fetch behavior.
type CatalogConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	UserAgent      string        `mapstructure:"user_agent"`
	SearchTimeout  time.Duration `mapstructure:"search_timeout"`
	PageTimeout    time.Duration `mapstructure:"page_timeout"`
	SearchDelayMin time.Duration `mapstructure:"search_delay_min"`
	SearchDelayMax time.Duration `mapstructure:"search_delay_max"`
	PageDelayMin   time.Duration `mapstructure:"page_delay_min"`
	PageDelayMax   time.Duration `mapstructure:"page_delay_max"`
}

// ArchiveConfig governs the binary transfer to local storage.
type ArchiveConfig struct {
	DownloadDir string        `mapstructure:"download_dir"`
	Timeout     time.Duration `mapstructure:"timeout"`
	ChunkSize   int           `mapstructure:"chunk_size"`
	DelayMin    time.Duration `mapstructure:"delay_min"`
	DelayMax    time.Duration `mapstructure:"delay_max"`
}

// RateLimitConfig caps the per-host request rate shared by concurrent downloads.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
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

// WorkerConfig sizes the serve-mode worker pool.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	QueueDepth  int `mapstructure:"queue_depth"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	return LoadWith(v, path)
}

// LoadWith is Load against a caller-supplied Viper instance, so CLI flags bound
// to v take precedence over file and environment values.
func LoadWith(v *viper.Viper, path string) (Config, error) {
	v.SetEnvPrefix("APKFETCH")
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
	cfg.Catalog.BaseURL = strings.TrimRight(cfg.Catalog.BaseURL, "/")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("catalog.base_url", "https://apkpure.com")
	v.SetDefault("catalog.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("catalog.search_timeout", 15*time.Second)
	v.SetDefault("catalog.page_timeout", 20*time.Second)
	v.SetDefault("catalog.search_delay_min", 300*time.Millisecond)
	v.SetDefault("catalog.search_delay_max", 600*time.Millisecond)
	v.SetDefault("catalog.page_delay_min", 500*time.Millisecond)
	v.SetDefault("catalog.page_delay_max", time.Second)
	v.SetDefault("archive.download_dir", "downloads")
	v.SetDefault("archive.timeout", 60*time.Second)
	v.SetDefault("archive.chunk_size", 256*1024)
	v.SetDefault("archive.delay_min", 500*time.Millisecond)
	v.SetDefault("archive.delay_max", time.Second)
	v.SetDefault("ratelimit.rps", 0)
	v.SetDefault("ratelimit.burst", 1)
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.queue_depth", 32)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if !strings.HasPrefix(c.Catalog.BaseURL, "http://") && !strings.HasPrefix(c.Catalog.BaseURL, "https://") {
		return fmt.Errorf("catalog.base_url must be an absolute http(s) URL")
	}
	if c.Catalog.SearchTimeout <= 0 || c.Catalog.PageTimeout <= 0 {
		return fmt.Errorf("catalog timeouts must be > 0")
	}
	if c.Catalog.SearchDelayMin < 0 || c.Catalog.PageDelayMin < 0 || c.Archive.DelayMin < 0 {
		return fmt.Errorf("delays must be >= 0")
	}
	if strings.TrimSpace(c.Archive.DownloadDir) == "" {
		return fmt.Errorf("archive.download_dir is required")
	}
	if c.Archive.Timeout <= 0 {
		return fmt.Errorf("archive.timeout must be > 0")
	}
	if c.Archive.ChunkSize <= 0 {
		return fmt.Errorf("archive.chunk_size must be > 0")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}
