// Package config holds ambient, non-core server settings: log level and
// format, handler timeouts, and the metrics listen address. It is
// deliberately unable to express the four core CLI positional values
// (port, threads, queue_size, schedalg) or the dispatcher's capacity —
// those are parsed once from argv in cmd/server and never reloaded, since
// the admission-control core has no dynamic-resizing behavior to hot-swap
// into.
package config

import (
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Ambient holds the reloadable, non-core settings.
type Ambient struct {
	LogLevel        string        `mapstructure:"log_level"`
	LogConsole      bool          `mapstructure:"log_console"`
	CPUTimeout      time.Duration `mapstructure:"cpu_timeout"`
	IOTimeout       time.Duration `mapstructure:"io_timeout"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
}

func defaults() Ambient {
	return Ambient{
		LogLevel:    "info",
		LogConsole:  false,
		CPUTimeout:  60 * time.Second,
		IOTimeout:   120 * time.Second,
		MetricsAddr: ":9090",
	}
}

// Store wraps a *viper.Viper carrying only ambient settings, with an
// optional fsnotify-driven reload hook.
type Store struct {
	v *viper.Viper
}

// Load builds a Store from an optional config file (yaml/json/toml,
// inferred by viper from the extension) and the SRVAMBIENT_-prefixed
// environment. A missing or unset configPath is not an error; defaults
// apply.
func Load(configPath string) (*Store, error) {
	v := viper.New()
	v.SetEnvPrefix("SRVAMBIENT")
	v.AutomaticEnv()

	d := defaults()
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_console", d.LogConsole)
	v.SetDefault("cpu_timeout", d.CPUTimeout)
	v.SetDefault("io_timeout", d.IOTimeout)
	v.SetDefault("metrics_addr", d.MetricsAddr)

	if configPath != "" {
		if _, statErr := os.Stat(configPath); statErr != nil {
			if !os.IsNotExist(statErr) {
				return nil, statErr
			}
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, err
			}
		}
	}

	return &Store{v: v}, nil
}

// Snapshot returns the current ambient settings.
func (s *Store) Snapshot() Ambient {
	a := defaults()
	a.LogLevel = s.v.GetString("log_level")
	a.LogConsole = s.v.GetBool("log_console")
	a.CPUTimeout = s.v.GetDuration("cpu_timeout")
	a.IOTimeout = s.v.GetDuration("io_timeout")
	a.MetricsAddr = s.v.GetString("metrics_addr")
	return a
}

// WatchAndReload installs an fsnotify-backed watch on the config file, if
// one was loaded, invoking onChange with the new snapshot every time the
// file is rewritten. It is a no-op when Load was called without a
// configPath.
func (s *Store) WatchAndReload(onChange func(Ambient)) {
	s.v.OnConfigChange(func(e fsnotify.Event) {
		onChange(s.Snapshot())
	})
	s.v.WatchConfig()
}
