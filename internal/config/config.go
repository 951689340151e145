// Package config loads the service configuration from a YAML file,
// environment variables, and built-in defaults, in that order of
// precedence (env wins).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/openreturns/kestrel/internal/domain"
)

// envPrefix scopes environment overrides, e.g. KESTREL_SERVER_PORT=9000
// overrides server.port.
const envPrefix = "KESTREL"

// Load reads the configuration. When path is empty the loader searches
// for config.yaml in the working directory and ./configs; a missing
// file is not an error, the service then runs on env vars and defaults.
func Load(path string) (*domain.Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg domain.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints the decoder cannot express.
func Validate(cfg *domain.Config) error {
	switch cfg.Tier {
	case domain.TierCommunity, domain.TierPro:
	default:
		return fmt.Errorf("unknown tier %q", cfg.Tier)
	}

	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown repository driver %q", cfg.Repository.Driver)
	}

	switch cfg.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown cache type %q", cfg.Cache.Type)
	}

	switch cfg.EventBus.Type {
	case "channel", "nats":
	default:
		return fmt.Errorf("unknown event bus type %q", cfg.EventBus.Type)
	}

	if cfg.Tier == domain.TierCommunity {
		if cfg.Repository.Driver == "postgres" {
			return errors.New("postgres repository requires the pro tier")
		}
		if cfg.Cache.Type == "redis" {
			return errors.New("redis cache requires the pro tier")
		}
		if cfg.EventBus.Type == "nats" {
			return errors.New("nats event bus requires the pro tier")
		}
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", cfg.Server.Port)
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	d := domain.DefaultConfig()

	v.SetDefault("tier", string(d.Tier))

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)

	v.SetDefault("repository.driver", d.Repository.Driver)
	v.SetDefault("repository.sqlite_path", d.Repository.SQLitePath)
	v.SetDefault("repository.postgres_port", 5432)
	v.SetDefault("repository.postgres_ssl_mode", "disable")
	v.SetDefault("repository.max_open_conns", 25)
	v.SetDefault("repository.max_idle_conns", 5)
	v.SetDefault("repository.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("cache.type", d.Cache.Type)
	v.SetDefault("cache.local_max_size", d.Cache.LocalMaxSize)
	v.SetDefault("cache.local_ttl", d.Cache.LocalTTL)
	v.SetDefault("cache.redis_addr", "localhost:6379")

	v.SetDefault("event_bus.type", d.EventBus.Type)
	v.SetDefault("event_bus.channel_buffer_size", d.EventBus.ChannelBufferSize)
	v.SetDefault("event_bus.nats_url", "nats://localhost:4222")
	v.SetDefault("event_bus.nats_max_reconnects", 10)
	v.SetDefault("event_bus.nats_reconnect_wait", 5)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
}
