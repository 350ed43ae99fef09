package storage

import (
	"errors"
	"time"

	"github.com/cuemby/triage/pkg/types"
)

// ErrNotFound is returned when a keyed record does not exist
var ErrNotFound = errors.New("not found")

// Store defines the interface for durable ledger state.
// This is implemented by BoltDB-backed storage.
type Store interface {
	// Attempts
	AppendAttempt(attempt *types.Attempt) error
	ListAttempts() ([]*types.Attempt, error)
	DeleteAttemptsBefore(cutoff time.Time) (int, error)

	// Escalations
	PutEscalation(escalation *types.Escalation) error
	GetEscalation(key string) (*types.Escalation, error)
	ListEscalations() ([]*types.Escalation, error)
	DeleteEscalation(key string) error

	// Utility
	Close() error
}
