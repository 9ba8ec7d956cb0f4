// Package sweep runs retention and compaction on a schedule over every
// (tenant, user) scope that holds documents.
package sweep

import (
	"time"
)

// Config holds sweeper configuration.
type Config struct {
	// PolicyID selects the policy whose retention rules and compaction
	// rules are applied to every scope.
	PolicyID string

	// Interval is the duration between scheduled sweeps (default: 1 hour)
	Interval time.Duration

	// Compact enables compaction of documents under bindings that carry
	// compaction rules (default: true via DefaultConfig)
	Compact bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: time.Hour,
		Compact:  true,
	}
}

// Result summarizes one sweep over all scopes.
type Result struct {
	// Scopes is the number of scopes visited
	Scopes int

	EventsDeleted    int
	AuditDeleted     int
	SnapshotsDeleted int

	// Compacted counts documents rewritten by compaction
	Compacted int

	// Abandoned counts compaction passes that were abandoned
	Abandoned int

	// Failures counts scopes or documents whose step failed. A failure
	// does not stop the sweep.
	Failures int

	// Duration is how long the sweep took
	Duration time.Duration
}

// HealthStatus represents the health of the sweeper.
type HealthStatus struct {
	// Status is "healthy" or "warning"
	Status string

	// Message provides additional context about the status
	Message string

	// LastSweep is when the last sweep finished
	LastSweep time.Time

	// NextSweep is when the next sweep is scheduled
	NextSweep time.Time

	// LastResult is the outcome of the last sweep, if any
	LastResult *Result
}
