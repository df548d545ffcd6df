package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Google   GoogleConfig   `yaml:"google"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Cache    CacheConfig    `yaml:"cache"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port                  int `yaml:"port"`
	HandlerTimeoutSeconds int `yaml:"handler_timeout_seconds"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	// TokenURL overrides the Google OAuth token endpoint. Used by tests;
	// empty means the standard endpoint.
	TokenURL string `yaml:"token_url"`
	// TokenInfoURL is the lightweight introspection endpoint consulted for
	// tokens that look fresh by timestamp. Empty disables the check.
	TokenInfoURL string `yaml:"tokeninfo_url"`
}

type FetchConfig struct {
	RelayTimeoutSeconds  int `yaml:"relay_timeout_seconds"`
	RelayCacheTTLSeconds int `yaml:"relay_cache_ttl_seconds"`
}

type CacheConfig struct {
	TTLMinutes int `yaml:"ttl_minutes"`
	// SweepSchedule is a cron expression for the expired-entry sweep.
	SweepSchedule string `yaml:"sweep_schedule"`
}

type AuthConfig struct {
	// TrustedProxy enables identity resolution from X-User-ID/X-User-Email
	// headers set by the fronting session layer.
	TrustedProxy bool `yaml:"trusted_proxy"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Path   string `yaml:"path"`
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

func Load(path string) (*Config, error) {
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Environment overrides for secrets
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.Google.ClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.Google.ClientSecret = v
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Server.HandlerTimeoutSeconds == 0 {
		cfg.Server.HandlerTimeoutSeconds = 30
	}
	if cfg.Database.Path == "" {
		home, _ := os.UserHomeDir()
		cfg.Database.Path = filepath.Join(home, ".calhub", "calhub.db")
	} else {
		cfg.Database.Path = expandPath(cfg.Database.Path)
	}
	if cfg.Fetch.RelayTimeoutSeconds == 0 {
		cfg.Fetch.RelayTimeoutSeconds = 8
	}
	if cfg.Fetch.RelayCacheTTLSeconds == 0 {
		cfg.Fetch.RelayCacheTTLSeconds = 120
	}
	if cfg.Cache.TTLMinutes == 0 {
		cfg.Cache.TTLMinutes = 30
	}
	if cfg.Cache.SweepSchedule == "" {
		cfg.Cache.SweepSchedule = "@every 10m"
	}
	if cfg.Logging.Path != "" {
		cfg.Logging.Path = expandPath(cfg.Logging.Path)
	}

	return &cfg, nil
}

func (c *Config) HandlerTimeout() time.Duration {
	return time.Duration(c.Server.HandlerTimeoutSeconds) * time.Second
}

func (c *Config) RelayTimeout() time.Duration {
	return time.Duration(c.Fetch.RelayTimeoutSeconds) * time.Second
}

func (c *Config) RelayCacheTTL() time.Duration {
	return time.Duration(c.Fetch.RelayCacheTTLSeconds) * time.Second
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLMinutes) * time.Minute
}
