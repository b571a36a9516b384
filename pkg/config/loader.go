package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Validator is implemented by config structs that check cross-field rules
// after parsing.
type Validator interface {
	Validate() error
}

// Load parses the process environment into cfg using its `env` tags and
// runs cfg.Validate when cfg implements Validator.
//
// Example:
//
//	type Config struct {
//	    Port         int           `env:"HTTP_PORT" envDefault:"8081"`
//	    SyncInterval time.Duration `env:"SYNC_INTERVAL" envDefault:"5m"`
//	}
func Load(cfg any) error {
	return load(cfg, env.Options{})
}

// LoadFrom is Load over an explicit variable set instead of the process
// environment.
func LoadFrom(cfg any, vars map[string]string) error {
	if vars == nil {
		vars = map[string]string{}
	}
	return load(cfg, env.Options{Environment: vars})
}

func load(cfg any, opts env.Options) error {
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if v, ok := cfg.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("validate config: %w", err)
		}
	}
	return nil
}
