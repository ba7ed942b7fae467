package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment variable read by Load.
const EnvPrefix = "PRO"

// Config represents the complete application configuration
type Config struct {
	License   LicenseConfig   `yaml:"license" envconfig:"LICENSE"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
}

// LicenseConfig contains license cache and activation server configuration
type LicenseConfig struct {
	// Root is the directory holding the .pro state directory. Empty means DefaultLicenseRoot.
	Root           string        `yaml:"root" envconfig:"ROOT"`
	ServerURL      string        `yaml:"server_url" envconfig:"SERVER_URL" default:"https://api.synkra.ai" validate:"required,url"`
	Timeout        time.Duration `yaml:"timeout" envconfig:"TIMEOUT" default:"10s" validate:"gt=0"`
	ProductVersion string        `yaml:"product_version" envconfig:"PRODUCT_VERSION" default:"1.0.0" validate:"required"`
	CLIName        string        `yaml:"cli_name" envconfig:"CLI_NAME" default:"prolicense" validate:"required"`
	PurchaseURL    string        `yaml:"purchase_url" envconfig:"PURCHASE_URL" default:"https://synkra.ai/pro" validate:"required,url"`
	SyncInterval   time.Duration `yaml:"sync_interval" envconfig:"SYNC_INTERVAL" default:"1m" validate:"gte=0"`
	WatchDebounce  time.Duration `yaml:"watch_debounce" envconfig:"WATCH_DEBOUNCE" default:"250ms" validate:"gte=0"`
	// FeaturesFile is an optional YAML feature catalog used for friendly names and listings.
	FeaturesFile string `yaml:"features_file" envconfig:"FEATURES_FILE"`
	// PinnedKeys are hex SHA-256 SPKI hashes the license server chain must contain. Empty disables pinning.
	PinnedKeys []string `yaml:"pinned_keys" envconfig:"PINNED_KEYS" validate:"dive,len=64,hexadecimal"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info" validate:"oneof=debug info warn warning error"`
	Format   string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console" validate:"oneof=console file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/prolicense.log"`
}

// TelemetryConfig contains OpenTelemetry configuration
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name" envconfig:"SERVICE_NAME" default:"prolicense" validate:"required"`
	ServiceVersion string `yaml:"service_version" envconfig:"SERVICE_VERSION" default:"1.0.0"`
	Environment    string `yaml:"environment" envconfig:"ENVIRONMENT" default:"production"`
	TracingEnabled bool   `yaml:"tracing_enabled" envconfig:"TRACING_ENABLED" default:"false"`
	MetricsEnabled bool   `yaml:"metrics_enabled" envconfig:"METRICS_ENABLED" default:"true"`
}

// ServerConfig contains the local daemon HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST" default:"127.0.0.1" validate:"required,ip"`
	Port            int           `yaml:"port" envconfig:"PORT" default:"7433" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// Address returns the host:port the daemon listens on.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load loads configuration from environment variables and an optional YAML file.
// An empty path searches the well-known locations. Environment variables win over the file.
func Load(path string) (*Config, error) {
	var cfg Config

	// Load from environment variables first
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if path == "" {
		path = getConfigFilePath()
	}
	if path != "" {
		fileConfig, err := loadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileConfig, cfg)
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// mergeConfigs overlays file values onto envConfig for every key the environment does not set.
func mergeConfigs(fileConfig, envConfig Config) Config {
	l, fl := &envConfig.License, fileConfig.License
	mergeField(&l.Root, fl.Root, "LICENSE_ROOT")
	mergeField(&l.ServerURL, fl.ServerURL, "LICENSE_SERVER_URL")
	mergeField(&l.Timeout, fl.Timeout, "LICENSE_TIMEOUT")
	mergeField(&l.ProductVersion, fl.ProductVersion, "LICENSE_PRODUCT_VERSION")
	mergeField(&l.CLIName, fl.CLIName, "LICENSE_CLI_NAME")
	mergeField(&l.PurchaseURL, fl.PurchaseURL, "LICENSE_PURCHASE_URL")
	mergeField(&l.SyncInterval, fl.SyncInterval, "LICENSE_SYNC_INTERVAL")
	mergeField(&l.WatchDebounce, fl.WatchDebounce, "LICENSE_WATCH_DEBOUNCE")
	mergeField(&l.FeaturesFile, fl.FeaturesFile, "LICENSE_FEATURES_FILE")
	if _, set := os.LookupEnv(EnvPrefix + "_LICENSE_PINNED_KEYS"); !set && len(fl.PinnedKeys) > 0 {
		l.PinnedKeys = fl.PinnedKeys
	}

	g, fg := &envConfig.Logging, fileConfig.Logging
	mergeField(&g.Level, fg.Level, "LOGGING_LEVEL")
	mergeField(&g.Format, fg.Format, "LOGGING_FORMAT")
	mergeField(&g.Output, fg.Output, "LOGGING_OUTPUT")
	mergeField(&g.FilePath, fg.FilePath, "LOGGING_FILE_PATH")

	m, fm := &envConfig.Telemetry, fileConfig.Telemetry
	mergeField(&m.ServiceName, fm.ServiceName, "TELEMETRY_SERVICE_NAME")
	mergeField(&m.ServiceVersion, fm.ServiceVersion, "TELEMETRY_SERVICE_VERSION")
	mergeField(&m.Environment, fm.Environment, "TELEMETRY_ENVIRONMENT")
	mergeField(&m.TracingEnabled, fm.TracingEnabled, "TELEMETRY_TRACING_ENABLED")
	mergeField(&m.MetricsEnabled, fm.MetricsEnabled, "TELEMETRY_METRICS_ENABLED")

	s, fs := &envConfig.Server, fileConfig.Server
	mergeField(&s.Host, fs.Host, "SERVER_HOST")
	mergeField(&s.Port, fs.Port, "SERVER_PORT")
	mergeField(&s.ReadTimeout, fs.ReadTimeout, "SERVER_READ_TIMEOUT")
	mergeField(&s.WriteTimeout, fs.WriteTimeout, "SERVER_WRITE_TIMEOUT")
	mergeField(&s.IdleTimeout, fs.IdleTimeout, "SERVER_IDLE_TIMEOUT")
	mergeField(&s.ShutdownTimeout, fs.ShutdownTimeout, "SERVER_SHUTDOWN_TIMEOUT")

	return envConfig
}

// mergeField copies a non-zero file value unless PRO_<key> is present in the environment.
// A boolean set to false in the file cannot override a true default.
func mergeField[T comparable](dst *T, fileValue T, key string) {
	var zero T
	if fileValue == zero {
		return
	}
	if _, set := os.LookupEnv(EnvPrefix + "_" + key); set {
		return
	}
	*dst = fileValue
}

// resolvePaths fills the license root when none was configured
func (c *Config) resolvePaths() error {
	root, err := ResolveLicenseRoot(c.License.Root)
	if err != nil {
		return err
	}
	c.License.Root = root
	return nil
}

// validate validates the configuration
func (c *Config) validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	// JSON is the only supported log format
	c.Logging.Format = "json"
	if c.Logging.Output != "console" && c.Logging.FilePath == "" {
		return fmt.Errorf("logging file path is required for output %q", c.Logging.Output)
	}
	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	locations := []string{
		"prolicense.yaml",
		"configs/prolicense.yaml",
	}
	if dir, err := os.UserConfigDir(); err == nil {
		locations = append(locations, filepath.Join(dir, AppDirName, "config.yaml"))
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return "" // No config file found, use env vars only
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		License: LicenseConfig{
			ServerURL:      DefaultServerURL,
			Timeout:        DefaultRequestTimeout,
			ProductVersion: "1.0.0",
			CLIName:        AppName,
			PurchaseURL:    DefaultPurchaseURL,
			SyncInterval:   DefaultSyncInterval,
			WatchDebounce:  DefaultWatchDebounce,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/prolicense.log",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    AppName,
			ServiceVersion: "1.0.0",
			Environment:    "production",
			MetricsEnabled: true,
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            7433,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}
