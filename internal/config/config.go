// Package config loads the layered migration configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// QaseConfig holds target-system connection settings.
type QaseConfig struct {
	APIToken   string `mapstructure:"api_token" validate:"required"`
	Host       string `mapstructure:"host" validate:"required"`
	SSL        bool   `mapstructure:"ssl"`
	Enterprise bool   `mapstructure:"enterprise"`
	ScimToken  string `mapstructure:"scim_token"`
}

// TestrailConfig holds source-system connection settings.
type TestrailConfig struct {
	BaseURL           string `mapstructure:"base_url" validate:"required"`
	User              string `mapstructure:"user" validate:"required"`
	Password          string `mapstructure:"password"`
	APIToken          string `mapstructure:"api_token" validate:"required"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
}

// UsersConfig controls user-map migration.
type UsersConfig struct {
	Migrate bool   `mapstructure:"migrate"`
	Default int    `mapstructure:"default"`
}

// RefsConfig controls the synthetic Refs custom field.
type RefsConfig struct {
	Enable bool   `mapstructure:"enable"`
	URL    string `mapstructure:"url"`
}

// TestsConfig controls case-import behavior.
type TestsConfig struct {
	PreserveIDs bool       `mapstructure:"preserve_ids"`
	Fields      []string   `mapstructure:"fields"`
	Refs        RefsConfig `mapstructure:"refs"`
}

// Config is the root configuration, matching spec §6's key set exactly:
// qase.*, testrail.*, users.*, tests.*, prefix, debug, sync, cache.
type Config struct {
	Qase     QaseConfig     `mapstructure:"qase"`
	Testrail TestrailConfig `mapstructure:"testrail"`
	Users    UsersConfig    `mapstructure:"users"`
	Tests    TestsConfig    `mapstructure:"tests"`
	Prefix   string         `mapstructure:"prefix"`
	Debug    bool           `mapstructure:"debug"`
	Sync     bool           `mapstructure:"sync"`
	Cache    bool           `mapstructure:"cache"`

	// HTTPTimeout bounds a single HTTP round trip before retry classification
	// kicks in. Not part of spec §6's key list; an ambient operational knob.
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

var validate = validator.New()

// Load reads configuration from the named file (when configFile is
// non-empty), environment variables prefixed TR2QASE_, and defaults.
// Environment variables override the file, and the file overrides defaults
// (viper's AutomaticEnv semantics).
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("tr2qase")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, &ConfigError{Cause: err, Message: "reading config file"}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigError{Cause: err, Message: "decoding config"}
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, &ConfigError{Cause: err, Message: "validating config"}
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("qase.ssl", true)
	v.SetDefault("testrail.requests_per_minute", 180)
	v.SetDefault("users.migrate", true)
	v.SetDefault("users.default", 1)
	v.SetDefault("tests.preserve_ids", true)
	v.SetDefault("tests.refs.enable", false)
	v.SetDefault("prefix", "")
	v.SetDefault("debug", false)
	v.SetDefault("sync", false)
	v.SetDefault("cache", false)
	v.SetDefault("http_timeout", 30*time.Second)
}

// ConfigError is a fatal configuration error (spec §7 "Config error").
type ConfigError struct {
	Message string
	Cause   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %v", e.Message, e.Cause)
}

func (e *ConfigError) Unwrap() error { return e.Cause }
