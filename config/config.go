// Package config loads lantun settings from defaults, an optional YAML file and
// LANTUN_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/floegence/lantun/internal/defaults"
	"github.com/floegence/lantun/internal/logging"
	"github.com/floegence/lantun/keystore"
	"github.com/floegence/lantun/tunnel"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. LANTUN_TUNNEL_PORT=9000.
const EnvPrefix = "LANTUN"

// Config is the root application configuration.
type Config struct {
	// KeyFile is the shared key path.
	KeyFile string `mapstructure:"key_file"`

	Log     logging.Config `mapstructure:"log"`
	Tunnel  TunnelSection  `mapstructure:"tunnel"`
	Metrics MetricsSection `mapstructure:"metrics"`
}

// TunnelSection mirrors tunnel.Config with config-file friendly types.
type TunnelSection struct {
	Port               int           `mapstructure:"port"`
	ListenAddr         string        `mapstructure:"listen_addr"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	KeepaliveInterval  time.Duration `mapstructure:"keepalive_interval"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	StopGrace          time.Duration `mapstructure:"stop_grace"`
	MaxFrameBytes      int           `mapstructure:"max_frame_bytes"`
	MaxSendAttempts    int           `mapstructure:"max_send_attempts"`
	MaxDecryptFailures int           `mapstructure:"max_decrypt_failures"`
	WireMode           string        `mapstructure:"wire_mode"`
	WSListen           string        `mapstructure:"ws_listen"`
	WSPath             string        `mapstructure:"ws_path"`
	WSAllowedOrigins   []string      `mapstructure:"ws_allowed_origins"`
}

// MetricsSection controls the Prometheus endpoint. An empty Listen disables it.
type MetricsSection struct {
	Listen string `mapstructure:"listen"`
}

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	return &Config{
		KeyFile: keystore.DefaultPath(),
		Log:     logging.DefaultConfig(),
		Tunnel: TunnelSection{
			Port:              defaults.Port,
			ConnectTimeout:    defaults.ConnectTimeout,
			WriteTimeout:      defaults.WriteTimeout,
			KeepaliveInterval: defaults.KeepaliveInterval,
			PollInterval:      defaults.PollInterval,
			StopGrace:         defaults.StopGrace,
			MaxFrameBytes:     defaults.MaxFrameBytes,
			MaxSendAttempts:   defaults.MaxSendAttempts,
			WireMode:          string(tunnel.WireTagged),
			WSPath:            defaults.WSPath,
		},
	}
}

// Load reads configuration from path when non-empty, otherwise from $LANTUN_CONFIG or
// lantun.yaml in the working directory or ~/.lantun. A missing search-path file is not
// an error; a missing explicit file is.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Seed every key so env-only configs reach Unmarshal.
	v.SetDefault("key_file", cfg.KeyFile)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("tunnel.port", cfg.Tunnel.Port)
	v.SetDefault("tunnel.listen_addr", cfg.Tunnel.ListenAddr)
	v.SetDefault("tunnel.connect_timeout", cfg.Tunnel.ConnectTimeout)
	v.SetDefault("tunnel.write_timeout", cfg.Tunnel.WriteTimeout)
	v.SetDefault("tunnel.keepalive_interval", cfg.Tunnel.KeepaliveInterval)
	v.SetDefault("tunnel.poll_interval", cfg.Tunnel.PollInterval)
	v.SetDefault("tunnel.stop_grace", cfg.Tunnel.StopGrace)
	v.SetDefault("tunnel.max_frame_bytes", cfg.Tunnel.MaxFrameBytes)
	v.SetDefault("tunnel.max_send_attempts", cfg.Tunnel.MaxSendAttempts)
	v.SetDefault("tunnel.max_decrypt_failures", cfg.Tunnel.MaxDecryptFailures)
	v.SetDefault("tunnel.wire_mode", cfg.Tunnel.WireMode)
	v.SetDefault("tunnel.ws_listen", cfg.Tunnel.WSListen)
	v.SetDefault("tunnel.ws_path", cfg.Tunnel.WSPath)
	v.SetDefault("tunnel.ws_allowed_origins", cfg.Tunnel.WSAllowedOrigins)
	v.SetDefault("metrics.listen", cfg.Metrics.Listen)

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("lantun")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".lantun"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		return fmt.Errorf("invalid log.format: %q", c.Log.Format)
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}
	mode, err := tunnel.ParseWireMode(c.Tunnel.WireMode)
	if err != nil {
		return fmt.Errorf("invalid tunnel.wire_mode: %w", err)
	}
	c.Tunnel.WireMode = string(mode)
	if c.Tunnel.Port < 0 || c.Tunnel.Port > 65535 {
		return fmt.Errorf("invalid tunnel.port: %d", c.Tunnel.Port)
	}
	if c.Tunnel.MaxDecryptFailures < 0 {
		return fmt.Errorf("invalid tunnel.max_decrypt_failures: %d", c.Tunnel.MaxDecryptFailures)
	}
	if p := c.Tunnel.WSPath; p != "" && !strings.HasPrefix(p, "/") {
		return fmt.Errorf("invalid tunnel.ws_path: %q (must start with /)", p)
	}
	if strings.TrimSpace(c.KeyFile) == "" {
		c.KeyFile = keystore.DefaultPath()
	}
	return nil
}

// TunnelConfig converts the tunnel section to a tunnel.Config.
func (c *Config) TunnelConfig() tunnel.Config {
	s := c.Tunnel
	return tunnel.Config{
		Port:               s.Port,
		ListenAddr:         s.ListenAddr,
		ConnectTimeout:     s.ConnectTimeout,
		WriteTimeout:       s.WriteTimeout,
		KeepaliveInterval:  s.KeepaliveInterval,
		PollInterval:       s.PollInterval,
		StopGrace:          s.StopGrace,
		MaxFrameBytes:      s.MaxFrameBytes,
		MaxSendAttempts:    s.MaxSendAttempts,
		MaxDecryptFailures: s.MaxDecryptFailures,
		WireMode:           tunnel.WireMode(s.WireMode),
		WSListen:           s.WSListen,
		WSPath:             s.WSPath,
		WSAllowedOrigins:   s.WSAllowedOrigins,
	}
}
