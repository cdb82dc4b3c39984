package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/schoolhub/session-agent/internal/env"
	"github.com/schoolhub/session-agent/internal/refresh"
)

const (
	// EnvPrefix prefixes every environment override, e.g.
	// SESSION_AGENT_REMOTE_BASE_URL.
	EnvPrefix = "SESSION_AGENT"

	configName = "session-agent"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverRedis    = "redis"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Remote struct {
		BaseURL string        `mapstructure:"base_url" validate:"required,url"`
		Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
	} `mapstructure:"remote"`
	Refresh struct {
		Interval     time.Duration `mapstructure:"interval" validate:"gt=0"`
		InitialDelay time.Duration `mapstructure:"initial_delay" validate:"gte=0"`
		RetryDelay   time.Duration `mapstructure:"retry_delay" validate:"gte=0"`
		MaxRetries   int           `mapstructure:"max_retries" validate:"min=1"`
	} `mapstructure:"refresh"`
	Store struct {
		Driver string `mapstructure:"driver" validate:"oneof=memory file redis sqlite postgres"`
		// Path of the credential file; empty means ~/.schooladmin/session.json.
		Path string `mapstructure:"path"`
		// EncryptionKey is a hex-encoded 32-byte key sealing the credential
		// file. Empty stores it in the clear.
		EncryptionKey string `mapstructure:"encryption_key" validate:"omitempty,hexadecimal,len=64"`
		DSN           string `mapstructure:"dsn"`
		KVBinding     string `mapstructure:"kv_binding"`
		Redis         struct {
			Addr     string `mapstructure:"addr"`
			Password string `mapstructure:"password"`
			DB       int    `mapstructure:"db" validate:"gte=0"`
			Prefix   string `mapstructure:"prefix"`
		} `mapstructure:"redis"`
	} `mapstructure:"store"`
	Admin struct {
		Addr   string `mapstructure:"addr" validate:"required"`
		APIKey string `mapstructure:"api_key"`
	} `mapstructure:"admin"`
}

// SchedulerConfig returns the refresh timings.
func (c *Config) SchedulerConfig() refresh.Config {
	return refresh.Config{
		Interval:     c.Refresh.Interval,
		InitialDelay: c.Refresh.InitialDelay,
		RetryDelay:   c.Refresh.RetryDelay,
		MaxRetries:   c.Refresh.MaxRetries,
	}
}

// EncryptionKeyBytes decodes the file sealing key. It returns nil when no key
// is configured.
func (c *Config) EncryptionKeyBytes() ([]byte, error) {
	if c.Store.EncryptionKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.Store.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("invalid store.encryption_key: %w", err)
	}
	return key, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	d := refresh.DefaultConfig()

	v.SetDefault("remote.base_url", "http://localhost:48080/admin-api/system")
	v.SetDefault("remote.timeout", 30*time.Second)

	v.SetDefault("refresh.interval", d.Interval)
	v.SetDefault("refresh.initial_delay", d.InitialDelay)
	v.SetDefault("refresh.retry_delay", d.RetryDelay)
	v.SetDefault("refresh.max_retries", d.MaxRetries)

	v.SetDefault("store.driver", DriverFile)
	v.SetDefault("store.path", "")
	v.SetDefault("store.encryption_key", "")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.kv_binding", "schooladmin_session_kv")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "schooladmin:session")

	v.SetDefault("admin.addr", ":9878")
	v.SetDefault("admin.api_key", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

// Load reads defaults, then the config file, then SESSION_AGENT_* environment
// overrides. With an empty path, session-agent.yaml is looked up in the
// working directory and $HOME/.schooladmin and may be absent.
func Load(path string) (*Config, error) {
	v := newViper()
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.schooladmin")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return decode(v)
}

// FromEnv builds the configuration from defaults and environment values
// only. On Workers the values come from the worker's bindings.
func FromEnv() (*Config, error) {
	v := newViper()
	for _, key := range v.AllKeys() {
		if value, ok := env.Get(envName(key)); ok {
			v.Set(key, value)
		}
	}
	return decode(v)
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// The admin key keeps its historical name as a fallback.
	if cfg.Admin.APIKey == "" {
		cfg.Admin.APIKey, _ = env.Get("ADMIN_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and the settings each store driver needs.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	switch c.Store.Driver {
	case DriverRedis:
		if c.Store.Redis.Addr == "" {
			return errors.New("invalid config: store.redis.addr is required for the redis driver")
		}
	case DriverSQLite, DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("invalid config: store.dsn is required for the %s driver", c.Store.Driver)
		}
	}
	return nil
}
