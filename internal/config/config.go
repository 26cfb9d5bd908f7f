// Package config loads the daemon configuration from defaults, an optional
// config file and DECKVOICE_* environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	// Listen is the observer API address.
	Listen string `mapstructure:"listen"`

	LogLevel string `mapstructure:"log_level"`

	Engine EngineConfig `mapstructure:"engine"`
	Sim    SimConfig    `mapstructure:"sim"`
}

type EngineConfig struct {
	QueueCapacity    int           `mapstructure:"queue_capacity"`
	DeliveryCapacity int           `mapstructure:"delivery_capacity"`
	NoteMarker       string        `mapstructure:"note_marker"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`

	// DeactivateTimeout bounds how long a deactivation waits for the worker.
	DeactivateTimeout time.Duration `mapstructure:"deactivate_timeout"`
}

// SimConfig scripts the demo deck driven by `deckvoice run`.
type SimConfig struct {
	Slides       int           `mapstructure:"slides"`
	AdvanceEvery time.Duration `mapstructure:"advance_every"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", "127.0.0.1:8091")
	v.SetDefault("log_level", "info")
	v.SetDefault("engine.queue_capacity", 64)
	v.SetDefault("engine.delivery_capacity", 32)
	v.SetDefault("engine.note_marker", "----")
	v.SetDefault("engine.breaker_threshold", 3)
	v.SetDefault("engine.breaker_cooldown", 30*time.Second)
	v.SetDefault("engine.deactivate_timeout", 2*time.Second)
	v.SetDefault("sim.slides", 12)
	v.SetDefault("sim.advance_every", 5*time.Second)
}

// Load reads the configuration. path may be empty, in which case only
// defaults and environment variables apply. A missing file at a non-empty
// path is an error; a malformed file is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DECKVOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}
