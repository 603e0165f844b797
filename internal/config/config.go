package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

// Config represents the entire application configuration
type Config struct {
	Storage     StorageConfig     `mapstructure:"storage"`
	State       StateConfig       `mapstructure:"state"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Jobs        JobsConfig        `mapstructure:"jobs"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// StorageConfig points at the storage layout file
type StorageConfig struct {
	// LayoutPath is the YAML file mapping local/network roots to
	// per-category subdirectories. Re-read on every operation.
	LayoutPath string `mapstructure:"layout_path"`
}

// StateConfig locates the writable state directory (usage store, audit
// log, workflow defaults/history)
type StateConfig struct {
	Dir string `mapstructure:"dir"`
}

// HTTPConfig contains HTTP server configuration
type HTTPConfig struct {
	BindAddr     string `mapstructure:"bind_addr"`
	EnableAuth   bool   `mapstructure:"enable_auth"`
	AuthUsername string `mapstructure:"auth_username"`
	AuthPassword string `mapstructure:"auth_password"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	IdleTimeout  string `mapstructure:"idle_timeout"`
}

// JobsConfig contains copy job engine settings
type JobsConfig struct {
	ChunkSizeMB         int    `mapstructure:"chunk_size_mb"`
	ProgressLogInterval string `mapstructure:"progress_log_interval"`
}

// MaintenanceConfig contains housekeeping settings
type MaintenanceConfig struct {
	SweepInterval     string `mapstructure:"sweep_interval"`
	PartialFileMaxAge string `mapstructure:"partial_file_max_age"`
	JobRetention      string `mapstructure:"job_retention"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// Load loads configuration from the specified file path
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// Set defaults
	viper.SetDefault("storage.layout_path", "storage_layout.yaml")
	viper.SetDefault("state.dir", "")
	viper.SetDefault("http.bind_addr", "127.0.0.1:8188")
	viper.SetDefault("http.enable_auth", false)
	viper.SetDefault("http.auth_username", "admin")
	viper.SetDefault("http.auth_password", "")
	viper.SetDefault("http.read_timeout", "30s")
	viper.SetDefault("http.write_timeout", "30s")
	viper.SetDefault("http.idle_timeout", "60s")
	viper.SetDefault("jobs.chunk_size_mb", 16)
	viper.SetDefault("jobs.progress_log_interval", "2s")
	viper.SetDefault("maintenance.sweep_interval", "1h")
	viper.SetDefault("maintenance.partial_file_max_age", "24h")
	viper.SetDefault("maintenance.job_retention", "24h")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.file", "")
	viper.SetDefault("logging.max_size_mb", 100)
	viper.SetDefault("logging.max_backups", 3)
	viper.SetDefault("logging.compress", false)

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.State.Dir == "" {
		config.State.Dir = DefaultStateDir()
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Storage.LayoutPath == "" {
		return fmt.Errorf("storage.layout_path is required")
	}
	if c.State.Dir == "" {
		return fmt.Errorf("state.dir is required")
	}

	if c.HTTP.EnableAuth && c.HTTP.AuthPassword == "" {
		return fmt.Errorf("http.auth_password is required when http.enable_auth is set")
	}

	if c.Jobs.ChunkSizeMB <= 0 {
		return fmt.Errorf("jobs.chunk_size_mb must be positive")
	}

	for name, value := range map[string]string{
		"http.read_timeout":                c.HTTP.ReadTimeout,
		"http.write_timeout":               c.HTTP.WriteTimeout,
		"http.idle_timeout":                c.HTTP.IdleTimeout,
		"jobs.progress_log_interval":       c.Jobs.ProgressLogInterval,
		"maintenance.sweep_interval":       c.Maintenance.SweepInterval,
		"maintenance.partial_file_max_age": c.Maintenance.PartialFileMaxAge,
		"maintenance.job_retention":        c.Maintenance.JobRetention,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}

	return nil
}

// DefaultStateDir returns the platform's per-user state directory for
// this service.
func DefaultStateDir() string {
	var base string
	if runtime.GOOS == "windows" {
		base = os.Getenv("LOCALAPPDATA")
		if base == "" {
			base = os.Getenv("APPDATA")
		}
		if base == "" {
			home, _ := os.UserHomeDir()
			base = filepath.Join(home, "AppData", "Local")
		}
	} else {
		base = os.Getenv("XDG_STATE_HOME")
		if base == "" {
			home, _ := os.UserHomeDir()
			base = filepath.Join(home, ".local", "state")
		}
	}
	return filepath.Join(base, "model-localizer")
}

// GetChunkSize returns the copy chunk size in bytes
func (c *JobsConfig) GetChunkSize() int64 {
	if c.ChunkSizeMB <= 0 {
		return 16 * 1024 * 1024
	}
	return int64(c.ChunkSizeMB) * 1024 * 1024
}

// GetProgressLogInterval returns the progress log interval as time.Duration
func (c *JobsConfig) GetProgressLogInterval() time.Duration {
	d, _ := time.ParseDuration(c.ProgressLogInterval)
	if d == 0 {
		return 2 * time.Second
	}
	return d
}

// GetSweepInterval returns the maintenance sweep interval as time.Duration
func (c *MaintenanceConfig) GetSweepInterval() time.Duration {
	d, _ := time.ParseDuration(c.SweepInterval)
	if d == 0 {
		return time.Hour
	}
	return d
}

// GetPartialFileMaxAge returns the partial file max age as time.Duration
func (c *MaintenanceConfig) GetPartialFileMaxAge() time.Duration {
	d, _ := time.ParseDuration(c.PartialFileMaxAge)
	if d == 0 {
		return 24 * time.Hour
	}
	return d
}

// GetJobRetention returns the finished-job retention as time.Duration
func (c *MaintenanceConfig) GetJobRetention() time.Duration {
	d, _ := time.ParseDuration(c.JobRetention)
	if d == 0 {
		return 24 * time.Hour
	}
	return d
}

// GetReadTimeout returns the read timeout as time.Duration
func (c *HTTPConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(c.ReadTimeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetWriteTimeout returns the write timeout as time.Duration
func (c *HTTPConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(c.WriteTimeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetIdleTimeout returns the idle timeout as time.Duration
func (c *HTTPConfig) GetIdleTimeout() time.Duration {
	d, _ := time.ParseDuration(c.IdleTimeout)
	if d == 0 {
		return 60 * time.Second
	}
	return d
}
