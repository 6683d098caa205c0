package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load builds the config from defaults, an optional YAML file (ENGRAM_CONFIG
// or engram.yml next to the binary), then environment overrides. Env wins.
func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("ENGRAM_CONFIG")
	if path == "" {
		path = "engram.yml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.Maintenance.DecayFactor <= 0 || cfg.Maintenance.DecayFactor >= 1 {
		return nil, fmt.Errorf("decay_factor must be in (0,1), got %v", cfg.Maintenance.DecayFactor)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		DBPath:     "engram.db",
		Dimensions: 768,
		Timezone:   "UTC",
		Embedder: EmbedderConfig{
			Provider: "ollama",
			BaseURL:  "http://localhost:11434",
			Model:    "nomic-embed-text",
		},
		Maintenance: MaintenanceConfig{
			Schedule:    "*/15 * * * *",
			Retention:   7 * 24 * time.Hour,
			DecayAfter:  30 * 24 * time.Hour,
			DecayFactor: 0.95,
			BatchSize:   500,
		},
		Snapshot: SnapshotConfig{
			Bucket: "engram-snapshots",
		},
		Cache: CacheConfig{
			TTL:     time.Minute,
			MaxCost: 32 << 20,
		},
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ENGRAM_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("ENGRAM_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dimensions = n
		}
	}
	if v := os.Getenv("TZ"); v != "" {
		cfg.Timezone = v
	}

	if v := os.Getenv("EMBEDDER_PROVIDER"); v != "" {
		cfg.Embedder.Provider = v
	}
	if v := os.Getenv("EMBEDDER_BASE_URL"); v != "" {
		cfg.Embedder.BaseURL = v
	}
	if v := os.Getenv("EMBEDDER_MODEL"); v != "" {
		cfg.Embedder.Model = v
	}

	if v := os.Getenv("MAINTENANCE_SCHEDULE"); v != "" {
		cfg.Maintenance.Schedule = v
	}
	if v := os.Getenv("MAINTENANCE_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Maintenance.Retention = d
		}
	}

	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.Snapshot.Endpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.Snapshot.AccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.Snapshot.SecretKey = v
	}
	cfg.Snapshot.UseSSL = cfg.Snapshot.UseSSL || os.Getenv("MINIO_USE_SSL") == "true"
	cfg.Snapshot.Enabled = cfg.Snapshot.Enabled ||
		(cfg.Snapshot.AccessKey != "" && cfg.Snapshot.SecretKey != "")
}
