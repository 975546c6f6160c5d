package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "CODEROOM"

type Config struct {
	Mode          string        `mapstructure:"mode"`
	Port          int           `mapstructure:"port"`
	StaticPath    string        `mapstructure:"static_path"`
	ReadLimit     int64         `mapstructure:"read_limit"`
	PingPeriod    time.Duration `mapstructure:"ping_period"`
	Secret        string        `mapstructure:"secret"`
	SendBuffer    int           `mapstructure:"send_buffer"`
	LogLevel      string        `mapstructure:"log_level"`
	RoomTTL       time.Duration `mapstructure:"room_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	Backpressure  string        `mapstructure:"backpressure_policy"`
	RateLimit     RateLimit     `mapstructure:"rate_limit"`
	Sandbox       Sandbox       `mapstructure:"sandbox"`
	Store         Store         `mapstructure:"store"`
}

type RateLimit struct {
	Events   int           `mapstructure:"events"`
	Interval time.Duration `mapstructure:"interval"`
}

type Sandbox struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type Store struct {
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
	S3         S3     `mapstructure:"s3"`
}

type S3 struct {
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "")
	v.SetDefault("send_buffer", 256)
	v.SetDefault("log_level", "info")
	v.SetDefault("room_ttl", "0s")
	v.SetDefault("sweep_interval", "1m")
	v.SetDefault("backpressure_policy", "kick")
	v.SetDefault("rate_limit.events", 200)
	v.SetDefault("rate_limit.interval", "1s")
	v.SetDefault("sandbox.url", "https://emkc.org/api/v2/piston/execute")
	v.SetDefault("sandbox.timeout", "15s")
	v.SetDefault("store.driver", "")
	v.SetDefault("store.sqlite_path", "./data/coderoom.db")
	v.SetDefault("store.s3.bucket", "")
	v.SetDefault("store.s3.prefix", "rooms/")
	v.SetDefault("store.s3.region", "us-east-1")
	v.SetDefault("store.s3.endpoint", "")
	v.SetDefault("store.s3.access_key", "")
	v.SetDefault("store.s3.secret_key", "")
}

// Load reads configFile, or config/config.$CONFIG_ENV.yaml when empty,
// then applies CODEROOM_ environment overrides and any flags that were set.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key, name := range map[string]string{"port": "port", "mode": "mode", "log_level": "log-level"} {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if configFile == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		configFile = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", configFile).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", configFile).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("store", cfg.Store.Driver).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be positive, got %d", c.SendBuffer)
	}
	if c.RoomTTL < 0 {
		return fmt.Errorf("room_ttl must not be negative, got %s", c.RoomTTL)
	}
	switch c.Backpressure {
	case "kick", "drop":
	default:
		return fmt.Errorf("unknown backpressure_policy %q", c.Backpressure)
	}
	switch c.Store.Driver {
	case "", "sqlite":
	case "s3":
		if c.Store.S3.Bucket == "" {
			return fmt.Errorf("store.s3.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	return nil
}

// PongWait is how long a connection may stay silent before it is dropped.
func (c *Config) PongWait() time.Duration {
	return c.PingPeriod * 10 / 9
}
