package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/triage/pkg/collector"
	"github.com/cuemby/triage/pkg/config"
	"github.com/cuemby/triage/pkg/log"
	"github.com/cuemby/triage/pkg/metrics"
	"github.com/cuemby/triage/pkg/orchestrator"
	"github.com/cuemby/triage/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/util/wait"
)

// Ledger is the slice of the outcome ledger the executor writes through
type Ledger interface {
	Append(a types.Attempt) (*types.Escalation, error)
	SucceededWithin(target types.WorkloadRef, kind types.ActionKind, strength int32, window time.Duration) bool
}

// Config bounds retries, timeouts and supervision
type Config struct {
	ApprovalMode         config.ApprovalMode
	FlappingWindow       time.Duration
	PerCallTimeout       time.Duration
	RetryAttempts        int
	RetryBase            time.Duration
	PostconditionTimeout time.Duration
	PostconditionPoll    time.Duration
}

// ConfigFrom extracts the executor settings
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		ApprovalMode:         cfg.ApprovalMode,
		FlappingWindow:       cfg.FlappingWindow(),
		PerCallTimeout:       cfg.PerCallTimeout(),
		RetryAttempts:        cfg.RetryAttempts,
		RetryBase:            cfg.RetryBase(),
		PostconditionTimeout: cfg.PostconditionTimeout(),
		PostconditionPoll:    cfg.PostconditionPoll(),
	}
}

type cycleKey struct{}

// WithCycleID tags attempts recorded under ctx with the cycle ID
func WithCycleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cycleKey{}, id)
}

// CycleID returns the cycle ID carried by ctx
func CycleID(ctx context.Context) string {
	id, _ := ctx.Value(cycleKey{}).(string)
	return id
}

// Executor applies plans against the orchestration API. It is the only
// component that writes to the cluster.
type Executor struct {
	cfg          Config
	client       orchestrator.Client
	collector    collector.Collector
	ledger       Ledger
	onEscalation func(types.Escalation)
	logger       zerolog.Logger
}

// New creates an executor. The collector refreshes the snapshot between
// write actions; when nil, preconditions keep using the plan's snapshot.
func New(cfg Config, client orchestrator.Client, coll collector.Collector, ledger Ledger) *Executor {
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	return &Executor{
		cfg:       cfg,
		client:    client,
		collector: coll,
		ledger:    ledger,
		logger:    log.WithComponent("executor"),
	}
}

// OnEscalation registers a callback for escalations raised by recorded
// attempts
func (e *Executor) OnEscalation(fn func(types.Escalation)) {
	e.onEscalation = fn
}

// Execute runs the plan's actions in order and returns the recorded
// attempts. Each attempt is in the ledger before the next action starts.
// Cancelling ctx stops the plan; applied actions are never rolled back.
func (e *Executor) Execute(ctx context.Context, plan types.Plan, snapshot *types.Snapshot) []types.Attempt {
	logger := log.WithWorkload(e.logger, plan.Issue.Workload.Namespace, plan.Issue.Workload.Name).
		With().Str("plan_id", plan.ID).Logger()

	current := snapshot
	var attempts []types.Attempt

	for i, action := range plan.Actions {
		if ctx.Err() != nil {
			logger.Warn().Err(ctx.Err()).Int("remaining", len(plan.Actions)-i).Msg("Plan interrupted")
			break
		}

		attempt := e.run(ctx, logger, plan, i, action, current)
		e.record(logger, &attempt)
		attempts = append(attempts, attempt)

		if attempt.Outcome == types.OutcomePendingApproval || attempt.Outcome.Failed() || attempt.CheckFailed() {
			return attempts
		}

		if action.Kind.Mutating() && attempt.Outcome != types.OutcomeSkipped && i < len(plan.Actions)-1 {
			current = e.refresh(ctx, logger, current)
		}
	}

	return attempts
}

func (e *Executor) run(ctx context.Context, logger zerolog.Logger, plan types.Plan, index int, action types.Action, snapshot *types.Snapshot) types.Attempt {
	attempt := types.Attempt{
		ID:          uuid.New().String(),
		CycleID:     CycleID(ctx),
		PlanID:      plan.ID,
		ActionIndex: index,
		Action:      action.Kind,
		Workload:    plan.Issue.Workload,
		Target:      action.Target,
		Category:    plan.Issue.Category,
		Strength:    action.Strength,
	}

	if !action.Precondition.Holds(snapshot) {
		attempt.Outcome = types.OutcomeSkipped
		attempt.Note = "precondition " + action.Precondition.String() + " does not hold"
		return attempt
	}

	if reason := e.held(plan, action); reason != "" {
		attempt.Outcome = types.OutcomePendingApproval
		attempt.Note = reason
		return attempt
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ActionDuration, string(action.Kind))

	note, retries, err := e.applyWithRetry(ctx, logger, action, snapshot)
	attempt.Retries = retries
	attempt.Note = note
	if err != nil {
		attempt.Error = err.Error()
		switch {
		case errors.Is(err, orchestrator.ErrCheckFailed):
			// A negative answer is not a remediation failure
			attempt.Outcome = types.OutcomeSkipped
		case orchestrator.IsRetryable(err) || ctx.Err() != nil:
			attempt.Outcome = types.OutcomeFailedExhausted
			attempt.Failure = types.FailureActionRetryable
		default:
			attempt.Outcome = types.OutcomeFailedFatal
			attempt.Failure = types.FailureActionFatal
		}
		return attempt
	}

	if err := e.verify(ctx, action.Postcondition); err != nil {
		attempt.Outcome = types.OutcomeAppliedUnverified
		attempt.Failure = types.FailurePostconditionTimeout
		attempt.Error = err.Error()
		return attempt
	}

	attempt.Outcome = types.OutcomeSucceeded
	return attempt
}

// held returns why a write action may not run unsupervised, or "" when it
// may. Read-only checks always run.
func (e *Executor) held(plan types.Plan, action types.Action) string {
	if !action.Kind.Mutating() {
		return ""
	}
	switch {
	case action.Risk == types.RiskApprovalRequired || plan.RequiresApproval():
		if plan.Escalation != types.EscalationNone {
			return "approval required: " + string(plan.Escalation)
		}
		return "approval required"
	case e.cfg.ApprovalMode != config.ApprovalAutoSafeOnly:
		return "approval mode is " + string(e.cfg.ApprovalMode)
	case e.ledger != nil && e.ledger.SucceededWithin(action.Target, action.Kind, action.Strength, e.cfg.FlappingWindow):
		return "suppressed: already applied within the flapping window"
	}
	return ""
}

// applyWithRetry applies the action with exponential backoff. Each call is
// bounded by the per-call timeout. Non-retryable errors stop immediately.
func (e *Executor) applyWithRetry(ctx context.Context, logger zerolog.Logger, action types.Action, snapshot *types.Snapshot) (string, int, error) {
	backoff := wait.Backoff{
		Duration: e.cfg.RetryBase,
		Factor:   2,
		Jitter:   0.1,
		Steps:    e.cfg.RetryAttempts,
	}

	var (
		note    string
		lastErr error
		calls   int
	)
	err := wait.ExponentialBackoffWithContext(ctx, backoff, func(ctx context.Context) (bool, error) {
		calls++
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.PerCallTimeout)
		defer cancel()

		n, err := e.apply(callCtx, action, snapshot)
		if err == nil {
			note = n
			return true, nil
		}

		lastErr = err
		if !orchestrator.IsRetryable(err) {
			return false, err
		}
		logger.Debug().Err(err).Str("action", string(action.Kind)).Int("call", calls).Msg("Retryable error")
		return false, nil
	})

	retries := max(calls-1, 0)
	switch {
	case err == nil:
		return note, retries, nil
	case lastErr == nil:
		return "", retries, err
	case errors.Is(err, lastErr):
		return "", retries, lastErr
	}
	return "", retries, fmt.Errorf("gave up after %d calls: %w", calls, lastErr)
}

// apply performs one call for the action and returns an optional note
func (e *Executor) apply(ctx context.Context, action types.Action, snapshot *types.Snapshot) (string, error) {
	target := action.Target

	switch action.Kind {
	case types.ActionVerifyRegistrySecret:
		var names []string
		if snapshot != nil {
			if w, ok := snapshot.Workload(target.Name); ok {
				names = w.PullSecrets
			}
		}
		ok, err := e.client.RegistrySecretPresent(ctx, target.Namespace, names)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("no registry auth secret for %s: %w", target, orchestrator.ErrCheckFailed)
		}
		return "", nil

	case types.ActionVerifyDependencyReady:
		state, err := e.dependency(ctx, target)
		if err != nil {
			return "", err
		}
		if !state.Ready() {
			return "", fmt.Errorf("dependency %s has %d/%d ready replicas: %w",
				target, state.ReadyReplicas, state.DesiredReplicas, orchestrator.ErrCheckFailed)
		}
		return "", nil

	case types.ActionVerifyIngressController:
		ready, err := e.client.IngressControllerReady(ctx)
		if err != nil {
			return "", err
		}
		if !ready {
			return "ingress controller not installed; install required", nil
		}
		return "ingress controller ready", nil

	case types.ActionRolloutRestart:
		return "", e.client.RolloutRestart(ctx, target, action.Token)

	case types.ActionReduceResourceRequests:
		return "", e.client.SetResourceRequests(ctx, target, action.Container, action.Resources)

	case types.ActionScaleDown:
		return "", e.client.Scale(ctx, target, action.Replicas)

	case types.ActionPatchReadOnlyRootFS:
		return "", e.client.SetReadOnlyRootFilesystem(ctx, target, action.Container, false)

	case types.ActionPatchMetricsServerTLS:
		return "", e.client.EnsureContainerArg(ctx, target, action.Container, action.Arg)

	case types.ActionSuspendNetworkPolicies:
		return e.suspendPolicies(ctx, target.Namespace)
	}

	return "", fmt.Errorf("unknown action %q: %w", action.Kind, orchestrator.ErrUnsupportedKind)
}

// dependency reads a dependency workload. Dependencies named only by their
// service are looked up as a Deployment, then as a StatefulSet.
func (e *Executor) dependency(ctx context.Context, ref types.WorkloadRef) (orchestrator.WorkloadState, error) {
	state, err := e.client.GetWorkload(ctx, ref)
	if err == nil || ref.Kind != "" || !apierrors.IsNotFound(err) {
		if apierrors.IsNotFound(err) {
			err = fmt.Errorf("dependency %s not found: %w", ref, orchestrator.ErrCheckFailed)
		}
		return state, err
	}

	ref.Kind = types.KindStatefulSet
	state, err = e.client.GetWorkload(ctx, ref)
	if apierrors.IsNotFound(err) {
		err = fmt.Errorf("dependency %s not found: %w", ref.Name, orchestrator.ErrCheckFailed)
	}
	return state, err
}

// suspendPolicies deletes every network policy in the namespace and returns
// their saved JSON, one per line
func (e *Executor) suspendPolicies(ctx context.Context, namespace string) (string, error) {
	names, err := e.client.ListNetworkPolicies(ctx, namespace)
	if err != nil {
		return "", err
	}

	var saved []string
	for _, name := range names {
		s, err := e.client.DeleteNetworkPolicy(ctx, namespace, name)
		if err != nil {
			return strings.Join(saved, "\n"), err
		}
		if s != "" {
			saved = append(saved, s)
		}
	}
	return strings.Join(saved, "\n"), nil
}

// verify polls until the postcondition holds or the bound expires
func (e *Executor) verify(ctx context.Context, post types.Postcondition) error {
	if post.Kind == types.PostconditionNone {
		return nil
	}

	return wait.PollUntilContextTimeout(ctx, e.cfg.PostconditionPoll, e.cfg.PostconditionTimeout, true,
		func(ctx context.Context) (bool, error) {
			state, err := e.client.GetWorkload(ctx, post.Target)
			if err != nil {
				if orchestrator.IsRetryable(err) {
					return false, nil
				}
				return false, err
			}

			switch post.Kind {
			case types.PostconditionReplicas:
				return state.DesiredReplicas == post.Replicas && state.Ready(), nil
			default:
				return state.Ready(), nil
			}
		})
}

// refresh re-collects the namespace after a write so the next precondition
// sees its effect. On failure the previous snapshot is kept.
func (e *Executor) refresh(ctx context.Context, logger zerolog.Logger, current *types.Snapshot) *types.Snapshot {
	if e.collector == nil || current == nil {
		return current
	}

	s, err := e.collector.Collect(ctx, current.Namespace)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to refresh snapshot, keeping previous one")
		return current
	}
	return s
}

func (e *Executor) record(logger zerolog.Logger, attempt *types.Attempt) {
	attempt.Timestamp = time.Now()
	metrics.AttemptsTotal.WithLabelValues(string(attempt.Action), string(attempt.Outcome)).Inc()

	event := logger.Info()
	if attempt.Outcome.Failed() || attempt.CheckFailed() {
		event = logger.Warn().Str("error", attempt.Error)
	}
	event.
		Str("action", string(attempt.Action)).
		Str("target", attempt.Target.String()).
		Str("outcome", string(attempt.Outcome)).
		Int("retries", attempt.Retries).
		Msg("Action recorded")

	if e.ledger == nil {
		return
	}
	esc, err := e.ledger.Append(*attempt)
	if err != nil {
		logger.Error().Err(err).Str("attempt_id", attempt.ID).Msg("Failed to persist attempt")
	}
	if esc != nil && e.onEscalation != nil {
		e.onEscalation(*esc)
	}
}
