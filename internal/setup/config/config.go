package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var (
	ErrConfigFileNotFound    = errors.New("could not find config file in any config path")
	ErrConfigVersionMissing  = errors.New("config file is missing version field")
	ErrConfigVersionMismatch = errors.New("config file version mismatch")
)

// Current version of the config file.
const (
	CurrentCommonVersion = 1
	CurrentWorkerVersion = 1
)

// Config represents the entire application configuration.
type Config struct {
	Common CommonConfig
	Worker WorkerConfig
}

// CommonConfig contains configuration shared between all binaries.
type CommonConfig struct {
	// Version of the common config.
	Version    int        `koanf:"version"`
	Debug      Debug      `koanf:"debug"`
	PostgreSQL PostgreSQL `koanf:"postgresql"`
	Redis      Redis      `koanf:"redis"`
	Forum      Forum      `koanf:"forum"`
	Classify   Classify   `koanf:"classify"`
	Geocode    Geocode    `koanf:"geocode"`
	Messenger  Messenger  `koanf:"messenger"`
}

// Debug contains debug configuration.
type Debug struct {
	// Log level (debug, info, warn, error).
	LogLevel string `koanf:"log_level"`
	// Directory for log files.
	LogDir string `koanf:"log_dir"`
}

// PostgreSQL contains database connection configuration.
type PostgreSQL struct {
	// Database hostname.
	Host string `koanf:"host"`
	// Database port.
	Port int `koanf:"port"`
	// Database username.
	User string `koanf:"user"`
	// Database password.
	Password string `koanf:"password"`
	// Database name.
	DBName string `koanf:"db_name"`
	// Maximum open connections.
	MaxOpenConns int `koanf:"max_open_conns"`
	// Maximum idle connections.
	MaxIdleConns int `koanf:"max_idle_conns"`
	// Connection lifetime in minutes.
	MaxLifetime int `koanf:"max_lifetime"`
	// Idle timeout in minutes.
	MaxIdleTime int `koanf:"max_idle_time"`
}

// Redis contains Redis connection configuration.
type Redis struct {
	// Redis hostname.
	Host string `koanf:"host"`
	// Redis port.
	Port int `koanf:"port"`
	// Redis username.
	Username string `koanf:"username"`
	// Redis password.
	Password string `koanf:"password"`
}

// Forum contains forum client configuration.
type Forum struct {
	// Base URL of the forum API.
	BaseURL string `koanf:"base_url"`
	// Root folder ID for crawl cycles.
	RootFolderID int64 `koanf:"root_folder_id"`
	// Folder IDs excluded from crawling (administrative sections).
	ExcludedFolderIDs []int64 `koanf:"excluded_folder_ids"`
	// Request timeout in milliseconds.
	RequestTimeout int `koanf:"request_timeout"`
	// Maximum fetch retries.
	MaxRetries int `koanf:"max_retries"`
}

// Classify contains title classification service configuration.
type Classify struct {
	// Classification service endpoint URL.
	URL string `koanf:"url"`
	// Request timeout in milliseconds.
	RequestTimeout int `koanf:"request_timeout"`
}

// Geocode contains geocoding provider configuration.
type Geocode struct {
	// Geocoding provider endpoint URL.
	URL string `koanf:"url"`
	// Provider API key.
	APIKey string `koanf:"api_key"`
	// Minimum milliseconds between calls to the provider.
	MinIntervalMS int `koanf:"min_interval_ms"`
}

// Messenger contains delivery API configuration.
type Messenger struct {
	// Messenger API base URL.
	BaseURL string `koanf:"base_url"`
	// Bot token for the messenger API.
	Token string `koanf:"token"`
	// Maximum send retries on network failure.
	MaxRetries int `koanf:"max_retries"`
	// Fixed backoff between retries in milliseconds.
	RetryBackoffMS int `koanf:"retry_backoff_ms"`
}

// WorkerConfig contains worker specific configuration.
type WorkerConfig struct {
	// Version of the worker config.
	Version int `koanf:"version"`
	// Cron expression scheduling crawl cycles.
	CrawlSchedule string `koanf:"crawl_schedule"`
	// Maximum change log records processed per fan-out batch.
	FanOutBatchSize int `koanf:"fan_out_batch_size"`
	// Maximum queue rows drained per delivery invocation.
	DeliveryBatchSize int `koanf:"delivery_batch_size"`
	// Soft wall-clock budget for one delivery invocation in seconds.
	DeliveryDeadline int `koanf:"delivery_deadline"`
	// Topics whose start is older than this many days are suppressed.
	SuppressionWindowDays int `koanf:"suppression_window_days"`
	// Folder IDs exempt from the suppression window.
	SuppressionExemptFolders []int64 `koanf:"suppression_exempt_folders"`
}

// LoadConfig loads the configuration from the first config path that has the
// required TOML files and returns it along with the path used.
func LoadConfig() (*Config, string, error) {
	k := koanf.New(".")

	// Get user's home directory
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get home directory: %w", err)
	}

	// List search paths
	configPaths := []string{
		".beacon",
		homeDir + "/.beacon/config",
		"/etc/beacon/config",
		"/app/config",
		"config",
		".",
	}

	// Load all config files
	var usedConfigPath string

	configFiles := []string{"common", "worker"}
	for _, configName := range configFiles {
		configLoaded := false

		for _, path := range configPaths {
			configPath := fmt.Sprintf("%s/%s.toml", path, configName)
			if err := k.Load(file.Provider(configPath), toml.Parser()); err == nil {
				configLoaded = true

				if usedConfigPath == "" {
					usedConfigPath = path
				}

				break
			}
		}

		if !configLoaded {
			return nil, "", fmt.Errorf("%w: %s.toml", ErrConfigFileNotFound, configName)
		}
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, "", fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Check versions for each config file
	if err := checkConfigVersion("common", config.Common.Version, CurrentCommonVersion); err != nil {
		return nil, "", err
	}

	if err := checkConfigVersion("worker", config.Worker.Version, CurrentWorkerVersion); err != nil {
		return nil, "", err
	}

	return &config, usedConfigPath, nil
}

// checkConfigVersion validates one config file's version field.
func checkConfigVersion(name string, got, want int) error {
	if got == 0 {
		return fmt.Errorf("%w: %s.toml", ErrConfigVersionMissing, name)
	}

	if got != want {
		return fmt.Errorf("%w: %s.toml has version %d, expected %d", ErrConfigVersionMismatch, name, got, want)
	}

	return nil
}
