package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/triage/pkg/classifier"
	"github.com/cuemby/triage/pkg/collector"
	"github.com/cuemby/triage/pkg/config"
	"github.com/cuemby/triage/pkg/events"
	"github.com/cuemby/triage/pkg/executor"
	"github.com/cuemby/triage/pkg/ledger"
	"github.com/cuemby/triage/pkg/log"
	"github.com/cuemby/triage/pkg/metrics"
	"github.com/cuemby/triage/pkg/orchestrator"
	"github.com/cuemby/triage/pkg/planner"
	"github.com/cuemby/triage/pkg/refiner"
	"github.com/cuemby/triage/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrCycleInFlight is returned when a cycle for the namespace is already
// running
var ErrCycleInFlight = errors.New("cycle already in flight")

const compactInterval = time.Hour

// Engine runs the diagnosis pipeline for each configured namespace:
// collect, classify, refine, plan and execute
type Engine struct {
	cfg        *config.Config
	collector  collector.Collector
	classifier *classifier.Classifier
	planner    *planner.Planner
	executor   *executor.Executor
	ledger     *ledger.Ledger
	broker     *events.Broker
	logger     zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]bool

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New wires an engine. The broker may be nil.
func New(cfg *config.Config, coll collector.Collector, client orchestrator.Client, l *ledger.Ledger, broker *events.Broker) *Engine {
	e := &Engine{
		cfg:        cfg,
		collector:  coll,
		classifier: classifier.New(classifier.ThresholdsFromConfig(cfg)),
		planner:    planner.New(planner.ConfigFrom(cfg), l),
		executor:   executor.New(executor.ConfigFrom(cfg), client, coll, l),
		ledger:     l,
		broker:     broker,
		logger:     log.WithComponent("engine"),
		inFlight:   make(map[string]bool),
	}
	e.executor.OnEscalation(e.escalated)
	return e
}

// Start begins one cycle per namespace every cycle interval, plus periodic
// ledger compaction
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	metrics.RegisterComponent("engine", true, "running")

	e.wg.Add(2)
	go e.run(ctx)
	go e.compactLoop(ctx)

	e.logger.Info().
		Strs("namespaces", e.cfg.Namespaces).
		Dur("interval", e.cfg.CycleInterval()).
		Str("approval_mode", string(e.cfg.ApprovalMode)).
		Msg("Engine started")
}

// Stop cancels running cycles and waits for them to return. Applied actions
// are not rolled back.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		if e.cancel != nil {
			e.cancel()
		}
		e.wg.Wait()
		metrics.UpdateComponent("engine", false, "stopped")
		e.logger.Info().Msg("Engine stopped")
	})
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.CycleInterval())
	defer ticker.Stop()

	e.tick(ctx)
	for {
		select {
		case <-ticker.C:
			e.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// tick starts a cycle for every namespace that has none in flight
func (e *Engine) tick(ctx context.Context) {
	for _, ns := range e.cfg.Namespaces {
		if !e.begin(ns) {
			metrics.CyclesSkipped.WithLabelValues(ns).Inc()
			e.logger.Debug().Str("namespace", ns).Msg("Previous cycle still running, skipping")
			continue
		}

		e.wg.Add(1)
		go func(ns string) {
			defer e.wg.Done()
			defer e.end(ns)
			e.cycle(ctx, ns, true)
		}(ns)
	}
}

func (e *Engine) begin(namespace string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight[namespace] {
		return false
	}
	e.inFlight[namespace] = true
	return true
}

func (e *Engine) end(namespace string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, namespace)
}

// RunOnce runs a single cycle for the namespace. With dryRun the plans are
// built but nothing is executed.
func (e *Engine) RunOnce(ctx context.Context, namespace string, dryRun bool) (*types.Report, error) {
	if !e.begin(namespace) {
		metrics.CyclesSkipped.WithLabelValues(namespace).Inc()
		return nil, fmt.Errorf("%s: %w", namespace, ErrCycleInFlight)
	}
	defer e.end(namespace)

	return e.cycle(ctx, namespace, !dryRun), nil
}

// cycle is one pass of the pipeline. It always returns a report; only a
// collection failure ends it early.
func (e *Engine) cycle(parent context.Context, namespace string, execute bool) *types.Report {
	cycleID := uuid.New().String()
	logger := log.WithCycleID(log.WithNamespace(e.logger, namespace), cycleID)

	ctx, cancel := context.WithTimeout(parent, e.cfg.CycleDeadline())
	defer cancel()

	timer := metrics.NewTimer()
	report := &types.Report{
		Timestamp:        time.Now(),
		Namespace:        namespace,
		CycleID:          cycleID,
		Issues:           []types.Issue{},
		Plans:            []types.Plan{},
		Attempts:         []types.Attempt{},
		PendingApprovals: []types.PendingApproval{},
	}

	collectTimer := metrics.NewTimer()
	snapshot, err := e.collector.Collect(ctx, namespace)
	collectTimer.ObserveDurationVec(metrics.CollectionDuration, namespace)
	if err != nil {
		report.Failure = types.FailureCollection
		report.Error = err.Error()
		report.Duration = timer.Duration()

		logger.Error().Err(err).Msg("Collection failed, cycle aborted")
		metrics.CyclesTotal.WithLabelValues(namespace, "collection_failed").Inc()
		metrics.UpdateComponent("collector", false, err.Error())
		metrics.UpdateNamespace(namespace, false, "collection failed: "+err.Error())
		e.publish(events.EventCycleFailed, report, err.Error())
		return report
	}
	metrics.UpdateComponent("collector", true, "")

	for _, issue := range e.classifier.Classify(snapshot) {
		issue = refiner.Refine(issue)
		metrics.IssuesTotal.WithLabelValues(string(issue.Category), issue.Cause.String()).Inc()

		plan := e.planner.Plan(issue)
		report.Issues = append(report.Issues, plan.Issue)
		report.Plans = append(report.Plans, plan)
	}

	if execute {
		report.Attempts = e.execute(executor.WithCycleID(ctx, cycleID), report.Plans, snapshot)
	}
	report.PendingApprovals = pendingApprovals(report.Plans, report.Attempts, execute)
	report.Aborted = ctx.Err() != nil
	report.Duration = timer.Duration()

	result := "ok"
	if report.Aborted {
		result = "aborted"
		logger.Warn().Err(ctx.Err()).Dur("deadline", e.cfg.CycleDeadline()).Msg("Cycle aborted, remaining actions not started")
	}
	timer.ObserveDurationVec(metrics.CycleDuration, namespace)
	metrics.CyclesTotal.WithLabelValues(namespace, result).Inc()
	metrics.PendingApprovals.WithLabelValues(namespace).Set(float64(len(report.PendingApprovals)))
	metrics.UpdateNamespace(namespace, true, fmt.Sprintf("%d issues", len(report.Issues)))

	logger.Info().
		Int("issues", len(report.Issues)).
		Int("attempts", len(report.Attempts)).
		Int("pending_approvals", len(report.PendingApprovals)).
		Dur("duration", report.Duration).
		Msg("Cycle completed")

	e.publish(events.EventCycleCompleted, report, "")
	if len(report.PendingApprovals) > 0 {
		e.publish(events.EventApprovalPending, report,
			fmt.Sprintf("%d actions awaiting approval", len(report.PendingApprovals)))
	}
	return report
}

// execute runs plans concurrently, bounded by the worker pool. Attempts are
// returned in plan order.
func (e *Engine) execute(ctx context.Context, plans []types.Plan, snapshot *types.Snapshot) []types.Attempt {
	results := make([][]types.Attempt, len(plans))

	var g errgroup.Group
	g.SetLimit(max(e.cfg.WorkerPoolSize, 1))
	for i, plan := range plans {
		if len(plan.Actions) == 0 {
			continue
		}
		g.Go(func() error {
			results[i] = e.executor.Execute(ctx, plan, snapshot)
			return nil
		})
	}
	_ = g.Wait()

	attempts := []types.Attempt{}
	for _, r := range results {
		attempts = append(attempts, r...)
	}
	return attempts
}

// pendingApprovals lists held actions, plus one plan-level entry for every
// approval-required plan that holds nothing itself
func pendingApprovals(plans []types.Plan, attempts []types.Attempt, executed bool) []types.PendingApproval {
	out := []types.PendingApproval{}
	held := make(map[string]bool)

	for _, a := range attempts {
		if a.Outcome != types.OutcomePendingApproval {
			continue
		}
		held[a.PlanID] = true
		out = append(out, types.PendingApproval{
			PlanID:      a.PlanID,
			Workload:    a.Workload,
			Category:    a.Category,
			ActionIndex: a.ActionIndex,
			Action:      a.Action,
			Reason:      a.Note,
		})
	}

	for _, p := range plans {
		if !p.RequiresApproval() || held[p.ID] {
			continue
		}
		if executed && hasWrite(p) && !planStopped(p.ID, attempts) {
			continue
		}
		out = append(out, types.PendingApproval{
			PlanID:      p.ID,
			Workload:    p.Issue.Workload,
			Category:    p.Issue.Category,
			ActionIndex: -1,
			Reason:      planReason(p),
		})
	}
	return out
}

func hasWrite(p types.Plan) bool {
	for _, a := range p.Actions {
		if a.Kind.Mutating() {
			return true
		}
	}
	return false
}

// planStopped reports whether the plan ended before reaching a held action
func planStopped(planID string, attempts []types.Attempt) bool {
	for _, a := range attempts {
		if a.PlanID == planID && (a.Outcome.Failed() || a.CheckFailed()) {
			return true
		}
	}
	return false
}

func planReason(p types.Plan) string {
	parts := make([]string, 0, len(p.Notes)+1)
	if p.Failure != types.FailureNone {
		parts = append(parts, string(p.Failure))
	}
	parts = append(parts, p.Notes...)
	if len(parts) == 0 {
		return "approval required"
	}
	return strings.Join(parts, "; ")
}

func (e *Engine) escalated(esc types.Escalation) {
	if e.broker == nil {
		return
	}
	e.broker.Publish(&events.Event{
		Type:      events.EventEscalation,
		Namespace: esc.Workload.Namespace,
		Message: fmt.Sprintf("%s %s failed in %d cycles; safe-auto remediation disabled until cleared",
			esc.Workload, esc.Category, esc.FailedCycles),
		Metadata: map[string]string{
			"workload": esc.Workload.String(),
			"category": string(esc.Category),
		},
	})
}

func (e *Engine) publish(t events.EventType, report *types.Report, message string) {
	if e.broker == nil {
		return
	}
	e.broker.Publish(&events.Event{
		Type:      t,
		Namespace: report.Namespace,
		Message:   message,
		Metadata:  map[string]string{"cycle_id": report.CycleID},
		Report:    report,
	})
}

// compactLoop drops attempts older than the ledger retention
func (e *Engine) compactLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(compactInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.Compact()
		case <-ctx.Done():
			return
		}
	}
}

// Compact removes ledger attempts older than the retention period
func (e *Engine) Compact() {
	cutoff := time.Now().Add(-e.cfg.LedgerRetention())
	n, err := e.ledger.Compact(cutoff)
	if err != nil {
		e.logger.Error().Err(err).Msg("Failed to compact ledger")
		return
	}
	if n > 0 {
		e.logger.Info().Int("removed", n).Time("cutoff", cutoff).Msg("Ledger compacted")
	}
}
