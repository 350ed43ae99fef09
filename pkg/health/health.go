package health

import (
	"context"
	"time"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeTCP  CheckType = "tcp"
)

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface that all health checkers must implement
type Checker interface {
	// Check performs the health check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of health check
	Type() CheckType
}

// Config contains common configuration for probes
type Config struct {
	// Timeout is the maximum time to wait for a single check
	Timeout time.Duration

	// Retries is the number of consecutive failures before a probe is
	// reported unhealthy
	Retries int

	// Parallelism bounds the number of checks running at once
	Parallelism int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Timeout:     5 * time.Second,
		Retries:     1,
		Parallelism: 4,
	}
}

// Status tracks the health of one probe across collection cycles
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastCheck            time.Time
	LastResult           Result

	// Healthy is the debounced verdict
	Healthy bool
}

// NewStatus creates a new Status with default values
func NewStatus() *Status {
	return &Status{
		Healthy: true, // Assume healthy until proven otherwise
	}
}

// Update updates the status based on a new health check result
func (s *Status) Update(result Result, config Config) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}

	s.ConsecutiveFailures++
	s.ConsecutiveSuccesses = 0
	if s.ConsecutiveFailures >= config.Retries {
		s.Healthy = false
	}
}
