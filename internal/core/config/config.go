package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the top-level application configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Provider   ProviderConfig   `koanf:"provider"`
	Database   DatabaseConfig   `koanf:"database"`
	Enrichment EnrichmentConfig `koanf:"enrichment"`
}

// ServerConfig holds the HTTP facade configuration.
type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // debug | release
}

// ProviderConfig holds the remote statistics API settings.
type ProviderConfig struct {
	BaseURL        string `koanf:"base_url"`
	APIKey         string `koanf:"api_key"`
	RequestTimeout string `koanf:"request_timeout"` // per-category request deadline
}

// DatabaseConfig holds the record archive connection settings.
// The archive is optional: with archive disabled the enricher runs purely
// in-memory and the Saving phase is notification-only.
type DatabaseConfig struct {
	Enabled      bool   `koanf:"enabled"`
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

// EnrichmentConfig tunes the acquisition orchestrator.
type EnrichmentConfig struct {
	CatalogPath   string `koanf:"catalog_path"`   // optional offense catalog override (YAML)
	ErrorBudget   int    `koanf:"error_budget"`   // per-category failures before a job aborts
	BulkWorkers   int    `koanf:"bulk_workers"`   // fan-out bound for the bulk dispatcher
	BulkJobType   string `koanf:"bulk_job_type"`  // job_type sent to POST /jobs/queue
	DefaultYearsN int    `koanf:"default_years_n"`
}

// RequestTimeoutDuration parses the provider request timeout.
func (p ProviderConfig) RequestTimeoutDuration() (time.Duration, error) {
	return time.ParseDuration(p.RequestTimeout)
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.MaxBodySizeMB <= 0 {
		return fmt.Errorf("server.max_body_size_mb must be > 0")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	if strings.TrimSpace(c.Provider.BaseURL) == "" {
		return fmt.Errorf("provider.base_url is required")
	}
	timeout, err := c.Provider.RequestTimeoutDuration()
	if err != nil {
		return fmt.Errorf("invalid provider.request_timeout %q: %w", c.Provider.RequestTimeout, err)
	}
	if timeout <= 0 {
		return fmt.Errorf("provider.request_timeout must be > 0")
	}

	if c.Database.Enabled {
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database.dsn is required when database.enabled")
		}
		if c.Database.MaxOpenConns <= 0 {
			return fmt.Errorf("database.max_open_conns must be > 0")
		}
		if c.Database.MaxIdleConns <= 0 {
			return fmt.Errorf("database.max_idle_conns must be > 0")
		}
	}

	if c.Enrichment.ErrorBudget <= 0 {
		return fmt.Errorf("enrichment.error_budget must be > 0")
	}
	if c.Enrichment.BulkWorkers <= 0 {
		return fmt.Errorf("enrichment.bulk_workers must be > 0")
	}
	if strings.TrimSpace(c.Enrichment.BulkJobType) == "" {
		return fmt.Errorf("enrichment.bulk_job_type is required")
	}
	if c.Enrichment.DefaultYearsN <= 0 {
		return fmt.Errorf("enrichment.default_years_n must be > 0")
	}

	return nil
}

// Load parses config from file + env and validates it.
// Env vars use the CRIMELENS_ prefix with "__" as the nesting separator,
// e.g. CRIMELENS_PROVIDER__API_KEY → provider.api_key.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":                8080,
		"server.host":                "0.0.0.0",
		"server.max_body_size_mb":    1,
		"server.mode":                "release",
		"provider.base_url":          "https://api.usa.gov/crime/fbi/cde",
		"provider.api_key":           "",
		"provider.request_timeout":   "30s",
		"database.enabled":           false,
		"database.dsn":               "",
		"database.max_open_conns":    25,
		"database.max_idle_conns":    25,
		"database.auto_migrate":      true,
		"enrichment.catalog_path":    "",
		"enrichment.error_budget":    3,
		"enrichment.bulk_workers":    4,
		"enrichment.bulk_job_type":   "county_enrichment",
		"enrichment.default_years_n": 5,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("CRIMELENS_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "CRIMELENS_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
