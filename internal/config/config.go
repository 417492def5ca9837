// Package config loads the corral daemon configuration from an optional
// YAML file, CORRAL_* environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. CORRAL_STATE_DIR.
const EnvPrefix = "CORRAL"

// Config is the daemon configuration.
type Config struct {
	Libvirt   LibvirtConfig `mapstructure:"libvirt"`
	ConfigDir string        `mapstructure:"config_dir"`
	StateDir  string        `mapstructure:"state_dir"`
	Console   ConsoleConfig `mapstructure:"console"`
	Control   ControlConfig `mapstructure:"control"`
	Metrics   MetricsConfig `mapstructure:"metrics"`
	Log       LogConfig     `mapstructure:"log"`
}

// LibvirtConfig locates the libvirt daemon.
type LibvirtConfig struct {
	Socket  string        `mapstructure:"socket"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ConsoleConfig bounds the auto-assigned console ports, [PortMin, PortMax).
type ConsoleConfig struct {
	PortMin int `mapstructure:"port_min"`
	PortMax int `mapstructure:"port_max"`
}

// ControlConfig locates the unix socket `corral serve` accepts commands on.
// Timeout bounds each CLI request.
type ControlConfig struct {
	Socket  string        `mapstructure:"socket"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// MetricsConfig configures the Prometheus endpoint served by `corral serve`.
// An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("libvirt.socket", "/var/run/libvirt/libvirt-sock")
	v.SetDefault("libvirt.timeout", 5*time.Second)
	v.SetDefault("config_dir", "/etc/corral/domains")
	v.SetDefault("state_dir", "/run/corral")
	v.SetDefault("console.port_min", 5900)
	v.SetDefault("console.port_max", 65535)
	v.SetDefault("control.socket", "/run/corral/corral.sock")
	v.SetDefault("control.timeout", 2*time.Minute)
	v.SetDefault("metrics.addr", ":9464")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Default returns the built-in configuration, ignoring the environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Load reads path, if non-empty, and applies environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	if c.ConfigDir == "" {
		errs = append(errs, errors.New("config_dir is required"))
	}
	if c.StateDir == "" {
		errs = append(errs, errors.New("state_dir is required"))
	}
	if c.ConfigDir != "" && c.ConfigDir == c.StateDir {
		errs = append(errs, errors.New("config_dir and state_dir must differ"))
	}
	if c.Console.PortMin <= 0 || c.Console.PortMax > 65536 || c.Console.PortMin >= c.Console.PortMax {
		errs = append(errs, fmt.Errorf("console port range [%d, %d) is invalid", c.Console.PortMin, c.Console.PortMax))
	}
	if c.Control.Socket == "" {
		errs = append(errs, errors.New("control.socket is required"))
	}
	if c.Control.Timeout < 0 {
		errs = append(errs, errors.New("control.timeout must not be negative"))
	}
	if c.Libvirt.Timeout < 0 {
		errs = append(errs, errors.New("libvirt.timeout must not be negative"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	return errors.Join(errs...)
}
