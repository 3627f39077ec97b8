package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when SALON_CONFIG_PATH is not set.
const DefaultPath = "configs/config.yaml"

type Config struct {
	App struct {
		Name     string `yaml:"name"`
		LogLevel string `yaml:"log_level"`
		Pretty   bool   `yaml:"pretty"`
	} `yaml:"app"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		IntervalHours int    `yaml:"interval_hours"`
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Analytics struct {
		DSN             string  `yaml:"dsn"`
		CreateSchema    bool    `yaml:"create_schema"`
		WritesPerSecond float64 `yaml:"writes_per_second"`
	} `yaml:"analytics"`

	Redis struct {
		Address             string `yaml:"address"`
		Password            string `yaml:"password"`
		DB                  int    `yaml:"db"`
		SlotCacheTTLSeconds int    `yaml:"slot_cache_ttl_seconds"`
		LockTTLSeconds      int    `yaml:"lock_ttl_seconds"`
		LockWaitMillis      int    `yaml:"lock_wait_millis"`
	} `yaml:"redis"`

	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`

	Sync struct {
		Enabled             bool `yaml:"enabled"`
		IntervalMinutes     int  `yaml:"interval_minutes"`
		BatchLimit          int  `yaml:"batch_limit"`
		RetryBackoffSeconds int  `yaml:"retry_backoff_seconds"`
		MaxAttempts         int  `yaml:"max_attempts"`
	} `yaml:"sync"`

	Salons struct {
		Path                 string `yaml:"path"`
		WatchIntervalSeconds int    `yaml:"watch_interval_seconds"`
	} `yaml:"salons"`

	Server struct {
		Address string `yaml:"address"`
	} `yaml:"server"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`
}

// Load reads the YAML config at path, expanding ${ENV} placeholders.
// A .env file next to the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/salonbook.db"
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) ServerAddress() string {
	if c.Server.Address == "" {
		return ":8080"
	}
	return c.Server.Address
}

func (c *Config) LogLevel() string {
	if c.App.LogLevel == "" {
		return "info"
	}
	return strings.ToLower(c.App.LogLevel)
}

func (c *Config) SalonsPath() string {
	if c.Salons.Path == "" {
		return DefaultSalonsPath
	}
	return c.Salons.Path
}

func (c *Config) SalonsWatchInterval() time.Duration {
	if c.Salons.WatchIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Salons.WatchIntervalSeconds) * time.Second
}

func (c *Config) SlotCacheTTL() time.Duration {
	if c.Redis.SlotCacheTTLSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.Redis.SlotCacheTTLSeconds) * time.Second
}

func (c *Config) LockTTL() time.Duration {
	if c.Redis.LockTTLSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Redis.LockTTLSeconds) * time.Second
}

func (c *Config) LockWait() time.Duration {
	if c.Redis.LockWaitMillis <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.Redis.LockWaitMillis) * time.Millisecond
}

func (c *Config) SyncInterval() time.Duration {
	if c.Sync.IntervalMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(c.Sync.IntervalMinutes) * time.Minute
}

func (c *Config) SyncBatchLimit() int {
	if c.Sync.BatchLimit <= 0 {
		return 5000
	}
	return c.Sync.BatchLimit
}

func (c *Config) SyncRetryBackoff() time.Duration {
	if c.Sync.RetryBackoffSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Sync.RetryBackoffSeconds) * time.Second
}

func (c *Config) SyncMaxAttempts() int {
	if c.Sync.MaxAttempts <= 0 {
		return 5
	}
	return c.Sync.MaxAttempts
}

func (c *Config) BackupInterval() time.Duration {
	if c.Backup.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Backup.IntervalHours) * time.Hour
}

func (c *Config) KafkaTopic() string {
	if c.Kafka.Topic == "" {
		return "salon-events"
	}
	return c.Kafka.Topic
}

func (c *Config) BackupPath() string {
	if c.Backup.Path == "" {
		return filepath.Join(filepath.Dir(c.Database.Path), "backups")
	}
	return c.Backup.Path
}
