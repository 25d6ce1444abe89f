package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the hub runtime parameters.
type Config struct {
	ListenAddress       string          `mapstructure:"listen_address"`
	LogLevel            string          `mapstructure:"log_level"`
	LogFormat           string          `mapstructure:"log_format"`
	AllowedOrigins      []string        `mapstructure:"allowed_origins"`
	ShutdownGracePeriod time.Duration   `mapstructure:"-"`
	WebSocket           WebSocketConfig `mapstructure:"websocket"`
	Journal             JournalConfig   `mapstructure:"journal"`
}

// WebSocketConfig tunes each client connection.
type WebSocketConfig struct {
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	PingInterval   time.Duration `mapstructure:"-"`
	PongWait       time.Duration `mapstructure:"-"`
	WriteWait      time.Duration `mapstructure:"-"`
}

// JournalConfig describes where presence events are recorded.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

const (
	defaultListenAddress       = ":8086"
	defaultLogLevel            = "info"
	defaultLogFormat           = "text"
	defaultAllowedOrigin       = "http://localhost:3000"
	defaultShutdownGracePeriod = 10 * time.Second
	defaultMaxMessageSize      = 64 << 10
	defaultSendBuffer          = 256
	defaultPingInterval        = 54 * time.Second
	defaultPongWait            = 60 * time.Second
	defaultWriteWait           = 10 * time.Second
	defaultJournalDSN          = "file::memory:?cache=shared"
)

// Load reads configuration from the provided file path (if any) and the environment.
// Environment variables are prefixed with SIGNAL_HUB_ and can override file values.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SIGNAL_HUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen_address", defaultListenAddress)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("log_format", defaultLogFormat)
	v.SetDefault("allowed_origins", []string{defaultAllowedOrigin})
	v.SetDefault("shutdown_grace_period", defaultShutdownGracePeriod.String())
	v.SetDefault("websocket.max_message_size", defaultMaxMessageSize)
	v.SetDefault("websocket.send_buffer", defaultSendBuffer)
	v.SetDefault("websocket.ping_interval", defaultPingInterval.String())
	v.SetDefault("websocket.pong_wait", defaultPongWait.String())
	v.SetDefault("websocket.write_wait", defaultWriteWait.String())
	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.dsn", defaultJournalDSN)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Environment values arrive as a single comma separated string.
	cfg.AllowedOrigins = splitList(v.GetStringSlice("allowed_origins"))

	// Durations are kept as strings in viper; normalize them here.
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"shutdown_grace_period", &cfg.ShutdownGracePeriod},
		{"websocket.ping_interval", &cfg.WebSocket.PingInterval},
		{"websocket.pong_wait", &cfg.WebSocket.PongWait},
		{"websocket.write_wait", &cfg.WebSocket.WriteWait},
	}
	for _, d := range durations {
		dur, err := time.ParseDuration(v.GetString(d.key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		if dur <= 0 {
			return Config{}, fmt.Errorf("invalid %s: must be positive", d.key)
		}
		*d.dst = dur
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ListenAddress == "" {
		c.ListenAddress = defaultListenAddress
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	switch strings.ToLower(c.LogFormat) {
	case "":
		c.LogFormat = defaultLogFormat
	case "text", "json":
		c.LogFormat = strings.ToLower(c.LogFormat)
	default:
		return fmt.Errorf("invalid log_format %q: want text or json", c.LogFormat)
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		c.WebSocket.MaxMessageSize = defaultMaxMessageSize
	}
	if c.WebSocket.SendBuffer <= 0 {
		c.WebSocket.SendBuffer = defaultSendBuffer
	}
	if c.WebSocket.PingInterval >= c.WebSocket.PongWait {
		return fmt.Errorf("websocket.ping_interval (%s) must be shorter than websocket.pong_wait (%s)",
			c.WebSocket.PingInterval, c.WebSocket.PongWait)
	}
	if c.Journal.Enabled && c.Journal.DSN == "" {
		c.Journal.DSN = defaultJournalDSN
	}
	return nil
}

func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
