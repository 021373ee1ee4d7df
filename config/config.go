// Package config defines process configuration and the policy knobs the
// engine consumes. The engine itself never reads config ambiently; it
// receives a Settings snapshot per call (see engine.Settings).
package config

import (
	"fmt"
	"regexp"

	"github.com/pathway/skill-engine/engine"
)

// Config contains process configuration. Extend as needed.
type Config struct {
	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// DBPath is the SQLite database path; ":memory:" for in-memory.
	DBPath string `koanf:"db_path"`

	// SweepIntervalMinutes controls the expiration sweep cadence.
	SweepIntervalMinutes int `koanf:"sweep_interval_minutes"`

	// SweepEnabled disables the background sweep when false (it can
	// still be triggered manually).
	SweepEnabled bool `koanf:"sweep_enabled"`

	// MaintenanceMode short-circuits all mutating operations
	// (dbUpgradeInProgress).
	MaintenanceMode bool `koanf:"maintenance_mode"`

	// ExpirationGracePeriodDays is the default grace period for skills
	// whose policy does not set one.
	ExpirationGracePeriodDays int `koanf:"expiration_grace_period_days"`

	// CelebrationWindowDays bounds how old an achievement may be and
	// still be celebrated.
	CelebrationWindowDays int `koanf:"celebration_window_days"`

	// MaxDailyUserEvents caps events per user per project per UTC day.
	// 0 = unlimited.
	MaxDailyUserEvents int `koanf:"max_daily_user_events"`

	// MaxSelfReportMessageLength bounds approval/rejection messages.
	MaxSelfReportMessageLength int `koanf:"max_self_report_message_length"`

	// MessageDenylist is a regex; matching free-text messages are
	// rejected. Empty disables screening.
	MessageDenylist string `koanf:"message_denylist"`

	// ClockDriftToleranceSeconds allows slightly-future event timestamps.
	ClockDriftToleranceSeconds int `koanf:"clock_drift_tolerance_seconds"`
}

// New returns the defaults, before file/env layering.
func New() *Config {
	return &Config{
		Addr:                       ":8080",
		DBPath:                     "skills.db",
		SweepIntervalMinutes:       60,
		SweepEnabled:               true,
		ExpirationGracePeriodDays:  7,
		CelebrationWindowDays:      7,
		MaxDailyUserEvents:         0,
		MaxSelfReportMessageLength: 250,
		ClockDriftToleranceSeconds: 30,
	}
}

// EngineSettings builds the snapshot handed to engine calls. The
// denylist is compiled here so a bad pattern fails at startup, not per
// request.
func (c *Config) EngineSettings() (engine.Settings, error) {
	st := engine.Settings{
		MaintenanceMode:            c.MaintenanceMode,
		DefaultGracePeriodDays:     c.ExpirationGracePeriodDays,
		CelebrationWindowDays:      c.CelebrationWindowDays,
		MaxDailyUserEvents:         c.MaxDailyUserEvents,
		MaxSelfReportMessageLength: c.MaxSelfReportMessageLength,
		ClockDriftToleranceSeconds: c.ClockDriftToleranceSeconds,
	}
	if c.MessageDenylist != "" {
		re, err := regexp.Compile(c.MessageDenylist)
		if err != nil {
			return engine.Settings{}, fmt.Errorf("invalid message_denylist: %w", err)
		}
		st.MessageDenylist = re
	}
	return st, nil
}
