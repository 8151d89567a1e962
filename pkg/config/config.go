// Package config loads rheoma's runtime configuration from defaults,
// an optional YAML file and RHEOMA_* environment variables.
package config

import (
	"strings"
	"time"

	"github.com/common-fate/rheoma/pkg/dispatch"
	"github.com/common-fate/rheoma/pkg/step"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides,
// e.g. RHEOMA_SERVER_ADDR or RHEOMA_SECRETS_MASTERKEY.
const EnvPrefix = "RHEOMA"

type Config struct {
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
	Secrets  Secrets  `mapstructure:"secrets"`
	Steps    Steps    `mapstructure:"steps"`
	Dispatch Dispatch `mapstructure:"dispatch"`
	HTTP     HTTP     `mapstructure:"http"`
}

type Server struct {
	Addr string `mapstructure:"addr"`
}

type Database struct {
	// Path is the SQLite database file, or ":memory:".
	Path string `mapstructure:"path"`
}

type Secrets struct {
	MasterKey string `mapstructure:"masterKey"`
}

type Steps struct {
	MaxRetries int           `mapstructure:"maxRetries"`
	BaseDelay  time.Duration `mapstructure:"baseDelay"`
	MaxDelay   time.Duration `mapstructure:"maxDelay"`
}

type Dispatch struct {
	Workers       int `mapstructure:"workers"`
	QueueSize     int `mapstructure:"queueSize"`
	MaxDeliveries int `mapstructure:"maxDeliveries"`
}

type HTTP struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("database.path", "rheoma.db")
	v.SetDefault("secrets.masterKey", "")
	v.SetDefault("steps.maxRetries", step.DefaultPolicy.MaxRetries)
	v.SetDefault("steps.baseDelay", step.DefaultPolicy.BaseDelay)
	v.SetDefault("steps.maxDelay", step.DefaultPolicy.MaxDelay)
	v.SetDefault("dispatch.workers", dispatch.DefaultConfig.Workers)
	v.SetDefault("dispatch.queueSize", dispatch.DefaultConfig.QueueSize)
	v.SetDefault("dispatch.maxDeliveries", dispatch.DefaultConfig.MaxDeliveries)
	v.SetDefault("http.timeout", 30*time.Second)
}

// Load reads the configuration. An empty path uses defaults and
// environment variables only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config file %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr must not be empty")
	}
	if c.Database.Path == "" {
		return errors.New("database.path must not be empty")
	}
	if c.Steps.MaxRetries < 0 {
		return errors.New("steps.maxRetries must not be negative")
	}
	if c.Dispatch.Workers <= 0 {
		return errors.New("dispatch.workers must be greater than 0")
	}
	return nil
}

// Policy returns the step retry policy.
func (c Config) Policy() step.Policy {
	return step.Policy{
		MaxRetries: c.Steps.MaxRetries,
		BaseDelay:  c.Steps.BaseDelay,
		MaxDelay:   c.Steps.MaxDelay,
		Jitter:     true,
	}
}

// Dispatcher returns the dispatcher settings.
func (c Config) Dispatcher() dispatch.Config {
	return dispatch.Config{
		Workers:         c.Dispatch.Workers,
		QueueSize:       c.Dispatch.QueueSize,
		MaxDeliveries:   c.Dispatch.MaxDeliveries,
		RedeliveryDelay: dispatch.DefaultConfig.RedeliveryDelay,
	}
}
