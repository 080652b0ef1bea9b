// Package config loads boardd configuration from a YAML file, BOARDD_*
// environment variables and command line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jjl4287/sse-jakoblangtry-com-sub001/internal/client"
)

// EnvPrefix prefixes every environment override, e.g. BOARDD_DB_PATH.
const EnvPrefix = "BOARDD"

// Config is the complete boardd configuration.
type Config struct {
	DB          DBConfig          `mapstructure:"db"`
	Server      ServerConfig      `mapstructure:"server"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Log         LogConfig         `mapstructure:"log"`
	Store       StoreConfig       `mapstructure:"store"`
	Client      ClientConfig      `mapstructure:"client"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RedisConfig configures the shared idempotency store. An empty Addr
// disables create idempotency.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type IdempotencyConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// LogConfig configures logging. An empty File logs to stderr.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type StoreConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryBase   time.Duration `mapstructure:"retry_base"`
}

type DebounceConfig struct {
	Create  time.Duration `mapstructure:"create"`
	Delete  time.Duration `mapstructure:"delete"`
	Move    time.Duration `mapstructure:"move"`
	Update  time.Duration `mapstructure:"update"`
	Reorder time.Duration `mapstructure:"reorder"`
}

type ClientConfig struct {
	ServerURL  string         `mapstructure:"server_url"`
	Debounce   DebounceConfig `mapstructure:"debounce"`
	BatchSize  int            `mapstructure:"batch_size"`
	BatchPause time.Duration  `mapstructure:"batch_pause"`
	MaxRetries int            `mapstructure:"max_retries"`
	RetryBase  time.Duration  `mapstructure:"retry_base"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("db.path", "boardd.db")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("idempotency.ttl", 24*time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("store.max_attempts", 3)
	v.SetDefault("store.retry_base", 100*time.Millisecond)

	d := client.DefaultDebounce()
	v.SetDefault("client.server_url", "http://localhost:8080")
	v.SetDefault("client.debounce.create", d.Create)
	v.SetDefault("client.debounce.delete", d.Delete)
	v.SetDefault("client.debounce.move", d.Move)
	v.SetDefault("client.debounce.update", d.Update)
	v.SetDefault("client.debounce.reorder", d.Reorder)
	v.SetDefault("client.batch_size", 2)
	v.SetDefault("client.batch_pause", 25*time.Millisecond)
	v.SetDefault("client.max_retries", 3)
	v.SetDefault("client.retry_base", time.Second)
}

// New returns a viper instance with defaults and environment binding set
// up. When file is empty, boardd.yaml is looked up in the working directory
// and in $HOME/.config/boardd.
func New(file string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("boardd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/boardd")
	}
	return v
}

// Read reads the config file into v. A missing file is not an error unless
// it was named explicitly.
func Read(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// Decode unmarshals and validates the settings held by v.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load is New, Read and Decode in one call.
func Load(file string) (*Config, *viper.Viper, error) {
	v := New(file)
	if err := Read(v); err != nil {
		return nil, nil, err
	}
	cfg, err := Decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// Validate checks values that cannot work.
func (c *Config) Validate() error {
	var problems []string
	if c.DB.Path == "" {
		problems = append(problems, "db.path must be set")
	}
	if c.Store.MaxAttempts < 1 {
		problems = append(problems, "store.max_attempts must be at least 1")
	}
	if c.Client.BatchSize < 1 {
		problems = append(problems, "client.batch_size must be at least 1")
	}
	if c.Client.MaxRetries < 1 {
		problems = append(problems, "client.max_retries must be at least 1")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q must be text or json", c.Log.Format))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// SessionConfig maps the client section onto a session configuration.
func (c *ClientConfig) SessionConfig() *client.SessionConfig {
	sc := client.DefaultSessionConfig()
	sc.Debounce = client.DebounceConfig{
		Create:  c.Debounce.Create,
		Delete:  c.Debounce.Delete,
		Move:    c.Debounce.Move,
		Update:  c.Debounce.Update,
		Reorder: c.Debounce.Reorder,
	}
	sc.BatchSize = c.BatchSize
	sc.BatchPause = c.BatchPause
	sc.MaxRetries = c.MaxRetries
	sc.RetryBase = c.RetryBase
	return sc
}
