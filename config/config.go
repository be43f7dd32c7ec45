// Package config loads the engine configuration from a YAML or JSON file
// with WM_ environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/hfujita/wastematch/core/matching"
	"github.com/hfujita/wastematch/core/metrics"
	"github.com/hfujita/wastematch/core/scoring"
	"github.com/hfujita/wastematch/core/worker"
	"github.com/hfujita/wastematch/infra/mqtt"
	"github.com/hfujita/wastematch/infra/store/postgres"
	"github.com/hfujita/wastematch/jobs/auctionwatch"
)

// ServerConfig sizes the HTTP listener.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// AuditConfig selects the audit backend.
type AuditConfig struct {
	// Backend is jsonl, sqlite or none.
	Backend string `json:"backend"`
	Path    string `json:"path"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is memory or postgres.
	Backend  string          `json:"backend"`
	Postgres postgres.Config `json:"postgres"`
}

type Config struct {
	Server       ServerConfig        `json:"server"`
	Storage      StorageConfig       `json:"storage"`
	Scoring      scoring.Config      `json:"scoring"`
	Matching     matching.Criteria   `json:"matching"`
	Worker       worker.Config       `json:"worker"`
	Auctionwatch auctionwatch.Config `json:"auctionwatch"`
	Metrics      metrics.Config      `json:"metrics"`
	MQTT         mqtt.Config         `json:"mqtt"`
	Audit        AuditConfig         `json:"audit"`
}

// SetDefaults fills the optional sections.
func (c *Config) SetDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Audit.Backend == "" {
		c.Audit.Backend = "jsonl"
	}
	if c.Audit.Path == "" {
		c.Audit.Path = "assignment-audit.jsonl"
	}
	if c.Matching.MaxDistanceM <= 0 {
		c.Matching.MaxDistanceM = matching.DefaultCriteria().MaxDistanceM
	}
	if c.Matching.MinReliability <= 0 {
		c.Matching.MinReliability = matching.DefaultCriteria().MinReliability
	}
	c.Scoring.SetDefaults()
	c.Worker.SetDefaults()
	c.Auctionwatch.SetDefaults()
	c.MQTT.SetDefaults()
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Audit.Backend {
	case "jsonl", "sqlite", "none":
	default:
		return fmt.Errorf("unknown audit backend %q", c.Audit.Backend)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

// Load reads the file, applies WM_ environment overrides and validates.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides: WM_SERVER__PORT=9090 sets server.port.
	if err := k.Load(env.Provider("WM_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "wm_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
