package config

import "time"

type Config struct {
	// DBPath is the SQLite database file.
	DBPath string `yaml:"db_path"`
	// Dimensions must match the embedder's output size.
	Dimensions int    `yaml:"dimensions"`
	Timezone   string `yaml:"timezone"`

	Embedder    EmbedderConfig    `yaml:"embedder"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Snapshot    SnapshotConfig    `yaml:"snapshot"`
	Cache       CacheConfig       `yaml:"cache"`
}

type EmbedderConfig struct {
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
}

type MaintenanceConfig struct {
	Schedule    string        `yaml:"schedule"`
	Retention   time.Duration `yaml:"retention"`
	DecayAfter  time.Duration `yaml:"decay_after"`
	DecayFactor float64       `yaml:"decay_factor"`
	BatchSize   int           `yaml:"batch_size"`
}

type SnapshotConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
}

type CacheConfig struct {
	// TTL for cached recall results. Zero disables the cache.
	TTL time.Duration `yaml:"ttl"`
	// MaxCost bounds cache memory in bytes.
	MaxCost int64 `yaml:"max_cost"`
}
