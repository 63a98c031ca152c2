package config

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/viper"
)

// AutoCreate holds the per-kind auto-create switches. When a switch is on, an
// unresolved reference value of that kind is created on the fly during
// indicator creation; when off, referencing an unknown value is a not-found
// error.
type AutoCreate struct {
	IndicatorType       bool `mapstructure:"indicator_type"`
	IndicatorConfidence bool `mapstructure:"indicator_confidence"`
	IndicatorImpact     bool `mapstructure:"indicator_impact"`
	IndicatorStatus     bool `mapstructure:"indicator_status"`
	Campaign            bool `mapstructure:"campaign"`
	Tag                 bool `mapstructure:"tag"`
	IntelReference      bool `mapstructure:"intel_reference"`
}

// Config holds all configuration for the SIP service.
type Config struct {
	API struct {
		Host           string   `mapstructure:"host"`
		Port           int      `mapstructure:"port"`
		RequireAPIKey  bool     `mapstructure:"require_apikey"`
		AllowedOrigins []string `mapstructure:"allowed_origins"`
		RateLimit      struct {
			RequestsPerSecond int `mapstructure:"requests_per_second"`
			Burst             int `mapstructure:"burst"`
		} `mapstructure:"rate_limit"`
	} `mapstructure:"api"`

	Storage struct {
		DataDir    string `mapstructure:"data_dir"`
		SQLitePath string `mapstructure:"sqlite_path"`
	} `mapstructure:"storage"`

	AutoCreate AutoCreate `mapstructure:"auto_create"`

	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
}

// setDefaults sets default configuration values.
func setDefaults() {
	viper.SetDefault("api.host", "0.0.0.0")
	viper.SetDefault("api.port", 8080)
	viper.SetDefault("api.require_apikey", false)
	viper.SetDefault("api.allowed_origins", []string{"*"})
	viper.SetDefault("api.rate_limit.requests_per_second", 50)
	viper.SetDefault("api.rate_limit.burst", 100)

	viper.SetDefault("storage.data_dir", "./data")
	viper.SetDefault("storage.sqlite_path", "")

	// Auto-create defaults mirror a typical ingest-friendly deployment: the
	// free-form kinds are created on first use, the controlled vocabularies
	// are not.
	viper.SetDefault("auto_create.indicator_type", false)
	viper.SetDefault("auto_create.indicator_confidence", false)
	viper.SetDefault("auto_create.indicator_impact", false)
	viper.SetDefault("auto_create.indicator_status", false)
	viper.SetDefault("auto_create.campaign", true)
	viper.SetDefault("auto_create.tag", true)
	viper.SetDefault("auto_create.intel_reference", true)

	viper.SetDefault("logging.level", "info")
}

// loadFromEnv sets up environment variable loading.
func loadFromEnv() {
	viper.SetEnvPrefix("SIP")
	viper.AutomaticEnv()

	_ = viper.BindEnv("api.port", "SIP_API_PORT")
	_ = viper.BindEnv("storage.data_dir", "SIP_DATA_DIR")
	_ = viper.BindEnv("storage.sqlite_path", "SIP_SQLITE_PATH")
}

// LoadConfig loads configuration from file and environment variables. The
// config file is optional; defaults and env vars are always applied.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()
	loadFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and env vars.
		_ = err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	config.ResolveDataPaths()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// ResolveDataPaths derives the SQLite path from the data directory when it is
// not set explicitly.
func (c *Config) ResolveDataPaths() {
	dataDir := c.Storage.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}
	c.Storage.DataDir = dataDir

	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = filepath.Join(dataDir, "sip.db")
	} else if c.Storage.SQLitePath != ":memory:" && !filepath.IsAbs(c.Storage.SQLitePath) {
		c.Storage.SQLitePath = filepath.Clean(c.Storage.SQLitePath)
	}
}

// Validate checks the configuration for values that would prevent startup.
func (c *Config) Validate() error {
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("invalid API port: %d", c.API.Port)
	}
	if c.API.RateLimit.RequestsPerSecond < 1 {
		return fmt.Errorf("rate limit requests_per_second must be positive")
	}
	if c.API.RateLimit.Burst < 1 {
		return fmt.Errorf("rate limit burst must be positive")
	}
	return nil
}
