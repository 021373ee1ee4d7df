/*
settings.go - Configuration snapshot injected into engine calls

PURPOSE:
  The engine never reads ambient global state. Every mutating call takes
  a Settings value captured by the caller at request time, so tests can
  exercise maintenance mode, grace periods, and caps without a live
  config service, and a mid-request config change cannot split a single
  operation across two rule sets.

SEE ALSO:
  - config/: koanf-backed loading of these values from file/env
*/
package engine

import "regexp"

// Settings is a point-in-time snapshot of the policy knobs the engine
// consumes but does not own.
type Settings struct {
	// MaintenanceMode short-circuits all mutating operations with
	// ErrMaintenanceMode when true (dbUpgradeInProgress).
	MaintenanceMode bool

	// DefaultGracePeriodDays applies when a skill's expiration policy
	// does not set its own grace period.
	DefaultGracePeriodDays int

	// CelebrationWindowDays bounds how old the most recent qualifying
	// event may be for a level-up to still be celebrated.
	CelebrationWindowDays int

	// MaxDailyUserEvents caps events per user per project per UTC day.
	// 0 = unlimited.
	MaxDailyUserEvents int

	// MaxSelfReportMessageLength bounds approval request and rejection
	// messages.
	MaxSelfReportMessageLength int

	// MessageDenylist rejects free-text messages that match. Nil
	// disables screening.
	MessageDenylist *regexp.Regexp

	// ClockDriftToleranceSeconds allows slightly-future event
	// timestamps to account for client clock drift.
	ClockDriftToleranceSeconds int
}

// DefaultSettings mirrors the platform defaults.
func DefaultSettings() Settings {
	return Settings{
		DefaultGracePeriodDays:     7,
		CelebrationWindowDays:      7,
		MaxDailyUserEvents:         0,
		MaxSelfReportMessageLength: 250,
		ClockDriftToleranceSeconds: 30,
	}
}

// GraceDaysFor resolves the effective grace period for a policy.
func (s Settings) GraceDaysFor(p *ExpirationPolicy) int {
	if p != nil && p.GracePeriodDays > 0 {
		return p.GracePeriodDays
	}
	return s.DefaultGracePeriodDays
}
