// Package config resolves server settings from flags, environment, an optional
// config file, an optional .env file and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds every runtime setting of the API server.
type Config struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	MongoURI        string        `mapstructure:"mongodb_uri" yaml:"mongodb_uri"`
	AppVersion      string        `mapstructure:"app_version" yaml:"app_version"`
	RateLimitWindow time.Duration `mapstructure:"rate_limit_window" yaml:"rate_limit_window"`
	RateLimitMax    int64         `mapstructure:"rate_limit_max" yaml:"rate_limit_max"`
	TrustProxy      bool          `mapstructure:"trust_proxy" yaml:"trust_proxy"`
	BodyLimit       int64         `mapstructure:"body_limit" yaml:"body_limit"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel        string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat       string        `mapstructure:"log_format" yaml:"log_format"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            3000,
		MongoURI:        "mongodb://mongodb:27017/todoapp",
		AppVersion:      "blue",
		RateLimitWindow: 15 * time.Minute,
		RateLimitMax:    100,
		TrustProxy:      false,
		BodyLimit:       100 << 10,
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// Addr is the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.MongoURI == "" {
		errs = append(errs, errors.New("mongodb_uri is empty"))
	}
	if c.AppVersion == "" {
		errs = append(errs, errors.New("app_version is empty"))
	}
	if c.RateLimitWindow <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit_window must be positive, got %s", c.RateLimitWindow))
	}
	if c.RateLimitMax < 1 {
		errs = append(errs, fmt.Errorf("rate_limit_max must be at least 1, got %d", c.RateLimitMax))
	}
	if c.BodyLimit < 1 {
		errs = append(errs, fmt.Errorf("body_limit must be positive, got %d", c.BodyLimit))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown_timeout must be positive, got %s", c.ShutdownTimeout))
	}
	switch c.LogFormat {
	case "text", "json", "logfmt":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text, json or logfmt, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// YAML renders the config for display. The store password is masked.
func (c Config) YAML(redact func(string) string) ([]byte, error) {
	if redact != nil {
		c.MongoURI = redact(c.MongoURI)
	}
	return yaml.Marshal(c)
}

// NewViper returns a viper instance with defaults registered and environment
// lookup enabled. Keys map to upper-case env names, so mongodb_uri is read
// from MONGODB_URI.
func NewViper() *viper.Viper {
	v := viper.New()
	d := Default()
	v.SetDefault("host", d.Host)
	v.SetDefault("port", d.Port)
	v.SetDefault("mongodb_uri", d.MongoURI)
	v.SetDefault("app_version", d.AppVersion)
	v.SetDefault("rate_limit_window", d.RateLimitWindow)
	v.SetDefault("rate_limit_max", d.RateLimitMax)
	v.SetDefault("trust_proxy", d.TrustProxy)
	v.SetDefault("body_limit", d.BodyLimit)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.AutomaticEnv()
	return v
}

// RegisterFlags adds the server flags to fs and binds them to v.
func RegisterFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	d := Default()
	fs.String("host", d.Host, "interface to bind")
	fs.Int("port", d.Port, "port to listen on")
	fs.String("mongodb-uri", d.MongoURI, "store connection string (mongodb://, mongodb+srv:// or sqlite:)")
	fs.String("app-version", d.AppVersion, "deployment label echoed in responses, e.g. blue or green")
	fs.Duration("rate-limit-window", d.RateLimitWindow, "rate limit window")
	fs.Int64("rate-limit-max", d.RateLimitMax, "requests allowed per client per window")
	fs.Bool("trust-proxy", d.TrustProxy, "take the client address from X-Forwarded-For / X-Real-IP")
	fs.Int64("body-limit", d.BodyLimit, "maximum request body size in bytes")
	fs.Duration("shutdown-timeout", d.ShutdownTimeout, "grace period for in-flight requests on shutdown")
	fs.String("log-level", d.LogLevel, "debug, info, warn or error")
	fs.String("log-format", d.LogFormat, "text, json or logfmt")

	for _, key := range []string{
		"host", "port", "mongodb_uri", "app_version", "rate_limit_window", "rate_limit_max",
		"trust_proxy", "body_limit", "shutdown_timeout", "log_level", "log_format",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flagName(key))); err != nil {
			return fmt.Errorf("bind flag %s: %w", key, err)
		}
	}
	return nil
}

func flagName(key string) string {
	b := []byte(key)
	for i := range b {
		if b[i] == '_' {
			b[i] = '-'
		}
	}
	return string(b)
}

// Load reads the optional dotenv and config files into v and decodes the
// result. An empty configFile means "todo-api.{yaml,json,toml}" in the
// working directory, if present.
func Load(v *viper.Viper, configFile, dotenvFile string) (Config, error) {
	if dotenvFile != "" {
		if err := mergeDotenv(v, dotenvFile); err != nil {
			return Config{}, err
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.MergeInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("todo-api")
		v.AddConfigPath(".")
		if err := v.MergeInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// mergeDotenv merges KEY=value pairs from path as config values. A missing
// file is not an error.
func mergeDotenv(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	env := viper.New()
	env.SetConfigFile(path)
	env.SetConfigType("env")
	if err := env.ReadInConfig(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := v.MergeConfigMap(env.AllSettings()); err != nil {
		return fmt.Errorf("merge %s: %w", path, err)
	}
	return nil
}
