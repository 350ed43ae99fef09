package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/triage/pkg/log"
	"github.com/cuemby/triage/pkg/storage"
	"github.com/cuemby/triage/pkg/types"
	"github.com/rs/zerolog"
)

// ErrNoEscalation is returned when clearing a pair that is not latched
var ErrNoEscalation = errors.New("no escalation for workload and category")

// Config holds the escalation rule
type Config struct {
	EscalationThreshold int
	EscalationWindow    time.Duration
}

// Ledger is the append-only record of remediation attempts. It is the only
// state shared across cycles; every method is safe for concurrent use.
type Ledger struct {
	cfg   Config
	store storage.Store // nil for memory only
	now   func() time.Time

	mu          sync.RWMutex
	attempts    []types.Attempt
	escalations map[string]types.Escalation
	clearedAt   map[string]time.Time

	logger zerolog.Logger
}

// New creates a ledger. When store is non-nil, previously persisted attempts
// and escalations are loaded and every later write goes through it.
func New(cfg Config, store storage.Store) (*Ledger, error) {
	l := &Ledger{
		cfg:         cfg,
		store:       store,
		now:         time.Now,
		escalations: make(map[string]types.Escalation),
		clearedAt:   make(map[string]time.Time),
		logger:      log.WithComponent("ledger"),
	}

	if store == nil {
		return l, nil
	}

	attempts, err := store.ListAttempts()
	if err != nil {
		return nil, fmt.Errorf("failed to load attempts: %w", err)
	}
	for _, a := range attempts {
		l.attempts = append(l.attempts, *a)
	}

	escalations, err := store.ListEscalations()
	if err != nil {
		return nil, fmt.Errorf("failed to load escalations: %w", err)
	}
	for _, e := range escalations {
		l.escalations[e.Key()] = *e
	}

	l.logger.Info().
		Int("attempts", len(l.attempts)).
		Int("escalations", len(l.escalations)).
		Msg("Ledger loaded from store")

	return l, nil
}

// Append records an attempt. When the attempt completes the escalation rule
// for its (workload, category) pair, the new latch is returned.
//
// The attempt is always kept in memory; a persistence error is returned
// alongside.
func (l *Ledger) Append(a types.Attempt) (*types.Escalation, error) {
	if a.Timestamp.IsZero() {
		a.Timestamp = l.now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.attempts = append(l.attempts, a)

	var errs []error
	if l.store != nil {
		if err := l.store.AppendAttempt(&a); err != nil {
			errs = append(errs, fmt.Errorf("failed to persist attempt %s: %w", a.ID, err))
		}
	}

	var raised *types.Escalation
	if a.Outcome.Failed() {
		key := types.EscalationKey(a.Workload, a.Category)
		if _, latched := l.escalations[key]; !latched {
			failed := l.failedCyclesLocked(a.Workload, a.Category, l.cfg.EscalationWindow)
			if failed >= l.cfg.EscalationThreshold {
				esc := types.Escalation{
					Workload:     a.Workload,
					Category:     a.Category,
					FailedCycles: failed,
					RaisedAt:     a.Timestamp,
				}
				l.escalations[key] = esc
				raised = &esc

				if l.store != nil {
					if err := l.store.PutEscalation(&esc); err != nil {
						errs = append(errs, fmt.Errorf("failed to persist escalation %s: %w", key, err))
					}
				}

				l.logger.Warn().
					Str("workload", a.Workload.String()).
					Str("category", string(a.Category)).
					Int("failed_cycles", failed).
					Msg("Escalation raised")
			}
		}
	}

	return raised, errors.Join(errs...)
}

// applied reports whether the attempt changed cluster state
func applied(o types.Outcome) bool {
	return o == types.OutcomeSucceeded || o == types.OutcomeAppliedUnverified
}

// SucceededWithin reports whether an action of the given kind with at least
// the given strength was applied to target within the window.
func (l *Ledger) SucceededWithin(target types.WorkloadRef, kind types.ActionKind, strength int32, window time.Duration) bool {
	cutoff := l.now().Add(-window)

	l.mu.RLock()
	defer l.mu.RUnlock()

	for i := len(l.attempts) - 1; i >= 0; i-- {
		a := l.attempts[i]
		if a.Timestamp.Before(cutoff) {
			continue
		}
		if a.Target == target && a.Action == kind && a.Strength >= strength && applied(a.Outcome) {
			return true
		}
	}
	return false
}

// FailedCycles counts distinct cycles with a failed attempt for the pair
// within the window. Failures before the last manual clear are ignored.
func (l *Ledger) FailedCycles(workload types.WorkloadRef, category types.Category, window time.Duration) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.failedCyclesLocked(workload, category, window)
}

func (l *Ledger) failedCyclesLocked(workload types.WorkloadRef, category types.Category, window time.Duration) int {
	cutoff := l.now().Add(-window)
	if cleared, ok := l.clearedAt[types.EscalationKey(workload, category)]; ok && cleared.After(cutoff) {
		cutoff = cleared
	}

	cycles := make(map[string]struct{})
	for _, a := range l.attempts {
		if a.Workload != workload || a.Category != category || !a.Outcome.Failed() {
			continue
		}
		if !a.Timestamp.After(cutoff) {
			continue
		}
		cycles[a.CycleID] = struct{}{}
	}
	return len(cycles)
}

// Escalated reports whether the pair is latched
func (l *Ledger) Escalated(workload types.WorkloadRef, category types.Category) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.escalations[types.EscalationKey(workload, category)]
	return ok
}

// Escalations returns every latched pair ordered by key
func (l *Ledger) Escalations() []types.Escalation {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]types.Escalation, 0, len(l.escalations))
	for _, e := range l.escalations {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// ClearEscalation releases a latched pair. Failures recorded before the clear
// no longer count towards a new escalation.
func (l *Ledger) ClearEscalation(workload types.WorkloadRef, category types.Category) error {
	key := types.EscalationKey(workload, category)

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.escalations[key]; !ok {
		return fmt.Errorf("%s: %w", key, ErrNoEscalation)
	}
	delete(l.escalations, key)
	l.clearedAt[key] = l.now()

	if l.store != nil {
		if err := l.store.DeleteEscalation(key); err != nil {
			return fmt.Errorf("failed to delete escalation %s: %w", key, err)
		}
	}

	l.logger.Info().
		Str("workload", workload.String()).
		Str("category", string(category)).
		Msg("Escalation cleared")
	return nil
}

// Compact drops attempts recorded before cutoff and returns how many were
// removed. Escalations are never compacted.
func (l *Ledger) Compact(cutoff time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.attempts[:0]
	removed := 0
	for _, a := range l.attempts {
		if a.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	l.attempts = kept

	if l.store != nil {
		if _, err := l.store.DeleteAttemptsBefore(cutoff); err != nil {
			return removed, fmt.Errorf("failed to compact store: %w", err)
		}
	}
	return removed, nil
}

// Filter narrows Attempts queries. Zero fields match everything.
type Filter struct {
	Namespace string
	Workload  string
	Outcome   types.Outcome
	Since     time.Time
	Limit     int
}

func (f Filter) matches(a types.Attempt) bool {
	if f.Namespace != "" && a.Workload.Namespace != f.Namespace {
		return false
	}
	if f.Workload != "" && a.Workload.Name != f.Workload {
		return false
	}
	if f.Outcome != "" && a.Outcome != f.Outcome {
		return false
	}
	if !f.Since.IsZero() && a.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// Attempts returns matching attempts, newest first
func (l *Ledger) Attempts(f Filter) []types.Attempt {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []types.Attempt
	for i := len(l.attempts) - 1; i >= 0; i-- {
		if !f.matches(l.attempts[i]) {
			continue
		}
		out = append(out, l.attempts[i])
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// Stats summarizes the ledger contents
type Stats struct {
	Attempts    int                   `json:"attempts"`
	Escalations int                   `json:"escalations"`
	ByOutcome   map[types.Outcome]int `json:"by_outcome"`
}

// Stats returns the current ledger summary
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Stats{
		Attempts:    len(l.attempts),
		Escalations: len(l.escalations),
		ByOutcome:   make(map[types.Outcome]int),
	}
	for _, a := range l.attempts {
		s.ByOutcome[a.Outcome]++
	}
	return s
}

// Counts returns the attempt and escalation totals for metrics sampling
func (l *Ledger) Counts() (attempts, escalations int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.attempts), len(l.escalations)
}
