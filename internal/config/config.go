package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mirrortap/mirrortap/internal/logger"
)

// Defaults. The addon must be usable with zero configuration against the
// default local collector, so every knob has a working default.
const (
	DefaultCollectorListen = "127.0.0.1:8085"
	DefaultCollectorURL    = "http://127.0.0.1:8085/event"
	DefaultNameField       = "name"
	DefaultTargetHost      = "api.analytics.example.com"
	DefaultTargetPath      = "/batch"
	DefaultProxyListen     = "127.0.0.1:9090"
	DefaultHealthListen    = "127.0.0.1:8079"
	DefaultLogDir          = "artifacts/proxy"
	DefaultForwardTimeout  = 3 * time.Second
	DefaultQueueSize       = 256
)

// ServerConfig configures the batch ingestion server (collector).
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
	// NameField is the dot-separated path used to extract an event's name
	// from each batch element. Elements without it are named "unknown".
	NameField string `mapstructure:"name_field"`
	// HistoryDSN enables archiving ingested records to an external sink
	// (sqlite/postgres/clickhouse/opensearch). Empty disables archiving.
	HistoryDSN  string `mapstructure:"history_dsn"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// MirrorConfig configures the proxy mirror addon.
type MirrorConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	TargetHost     string        `mapstructure:"target_host"`
	TargetPath     string        `mapstructure:"target_path"`
	CollectorURL   string        `mapstructure:"collector_url"`
	ForwardTimeout time.Duration `mapstructure:"forward_timeout"`
	QueueSize      int           `mapstructure:"queue_size"`
}

// ProxyConfig configures the intercepting proxy process.
type ProxyConfig struct {
	Listen       string        `mapstructure:"listen"`
	HealthListen string        `mapstructure:"health_listen"`
	PIDFile      string        `mapstructure:"pid_file"`
	LogDir       string        `mapstructure:"log_dir"`
	StartTimeout time.Duration `mapstructure:"start_timeout"`
	// Command overrides the proxy command launched by the supervisor.
	// Empty means "mirrortap proxy" resolved from the current executable.
	Command string        `mapstructure:"command"`
	Log     logger.Config `mapstructure:"log"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	Color bool   `mapstructure:"color"`
}

// Config is the top-level configuration, loadable from a TOML file with
// MIRRORTAP_* environment overrides.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Mirror MirrorConfig `mapstructure:"mirror"`
	Proxy  ProxyConfig  `mapstructure:"proxy"`
	Log    LogConfig    `mapstructure:"log"`
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("MIRRORTAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.listen", DefaultCollectorListen)
	v.SetDefault("server.name_field", DefaultNameField)
	v.SetDefault("server.history_dsn", "")
	v.SetDefault("server.metrics_addr", "")
	v.SetDefault("mirror.enabled", true)
	v.SetDefault("mirror.target_host", DefaultTargetHost)
	v.SetDefault("mirror.target_path", DefaultTargetPath)
	v.SetDefault("mirror.collector_url", DefaultCollectorURL)
	v.SetDefault("mirror.forward_timeout", DefaultForwardTimeout)
	v.SetDefault("mirror.queue_size", DefaultQueueSize)
	v.SetDefault("proxy.listen", DefaultProxyListen)
	v.SetDefault("proxy.health_listen", DefaultHealthListen)
	v.SetDefault("proxy.log_dir", DefaultLogDir)
	v.SetDefault("proxy.start_timeout", 5*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.color", false)
	return v
}

// Load reads configuration from the given TOML file (optional) merged with
// environment variables. path may be empty to use env/defaults only.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// FromEnv builds configuration from environment variables and defaults only.
// Used by the proxy binary so the addon is configurable without a file.
func FromEnv() (*Config, error) { return Load("") }

func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen must not be empty")
	}
	if c.Mirror.Enabled {
		if c.Mirror.TargetHost == "" {
			return fmt.Errorf("mirror.target_host must not be empty when mirroring is enabled")
		}
		if c.Mirror.CollectorURL == "" {
			return fmt.Errorf("mirror.collector_url must not be empty when mirroring is enabled")
		}
	}
	if c.Mirror.QueueSize <= 0 {
		c.Mirror.QueueSize = DefaultQueueSize
	}
	if c.Mirror.ForwardTimeout <= 0 {
		c.Mirror.ForwardTimeout = DefaultForwardTimeout
	}
	return nil
}
