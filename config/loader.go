package config

import (
	"errors"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if SKILLS_CONFIG is set
//  3. env (prefix SKILLS_)
func Load() (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv("SKILLS_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// Environment variables: SKILLS_ADDR, SKILLS_MAX_DAILY_USER_EVENTS, ...
	// Underscores are preserved to match the koanf tags on the struct.
	envProvider := env.Provider("SKILLS_", ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, "skills_")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, err
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, err
	}

	if cfg.Addr == "" {
		return nil, errors.New("addr must not be empty")
	}
	if cfg.SweepIntervalMinutes <= 0 {
		return nil, errors.New("sweep_interval_minutes must be positive")
	}
	return &cfg, nil
}
