package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the server configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Log       LogConfig       `mapstructure:"log"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	Redis     RedisConfig     `mapstructure:"redis"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type StoreConfig struct {
	Driver   string        `mapstructure:"driver"`
	Path     string        `mapstructure:"path"`
	DSN      string        `mapstructure:"dsn"`
	PageSize int           `mapstructure:"page_size"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type AuthConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type RateLimitConfig struct {
	IngestRPS   float64 `mapstructure:"ingest_rps"`
	IngestBurst int     `mapstructure:"ingest_burst"`
}

type BroadcastConfig struct {
	Path       string        `mapstructure:"path"`
	Keepalive  time.Duration `mapstructure:"keepalive"`
	SendBuffer int           `mapstructure:"send_buffer"`
}

type RedisConfig struct {
	URL     string `mapstructure:"url"`
	Channel string `mapstructure:"channel"`
}

// legacyEnv binds keys to the unprefixed variable names deployments already use.
var legacyEnv = map[string][]string{
	"server.port":  {"GASOMETER_SERVER_PORT", "PORT"},
	"store.path":   {"GASOMETER_STORE_PATH", "DB_PATH"},
	"store.dsn":    {"GASOMETER_STORE_DSN", "DATABASE_URL"},
	"auth.api_key": {"GASOMETER_AUTH_API_KEY", "GASOMETER_API_KEY"},
	"redis.url":    {"GASOMETER_REDIS_URL", "REDIS_URL"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("store.driver", "")
	v.SetDefault("store.path", "")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.page_size", 1000)
	v.SetDefault("store.timeout", 10*time.Second)

	v.SetDefault("auth.api_key", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("ratelimit.ingest_rps", 20.0)
	v.SetDefault("ratelimit.ingest_burst", 40)

	v.SetDefault("broadcast.path", "/ws/live")
	v.SetDefault("broadcast.keepalive", 30*time.Second)
	v.SetDefault("broadcast.send_buffer", 64)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.channel", "gasometer:live")
}

// Load reads configuration from an optional YAML file and the environment.
// With an empty configPath it looks for gasometer.yaml in ., ./config and
// /etc/gasometer; a missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath == "" {
		v.SetConfigName("gasometer")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/gasometer")
	} else {
		v.SetConfigFile(configPath)
	}
	v.SetConfigType("yaml")

	v.SetEnvPrefix("GASOMETER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the server cannot run with
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Store.PageSize <= 0 {
		return fmt.Errorf("store.page_size must be positive")
	}
	if !strings.HasPrefix(c.Broadcast.Path, "/") {
		return fmt.Errorf("broadcast.path must start with /")
	}
	if c.RateLimit.IngestRPS < 0 {
		return fmt.Errorf("ratelimit.ingest_rps must not be negative")
	}
	return nil
}

// Addr is the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
