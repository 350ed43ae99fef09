package orchestrator

import (
	"context"
	"errors"
	"net"

	"github.com/cuemby/triage/pkg/types"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	utilnet "k8s.io/apimachinery/pkg/util/net"
)

var (
	// ErrCheckFailed is returned by verification calls whose answer is no.
	// It is never retried.
	ErrCheckFailed = errors.New("check failed")

	// ErrUnsupportedKind is returned for workload kinds the engine cannot act on
	ErrUnsupportedKind = errors.New("unsupported workload kind")

	// ErrContainerNotFound is returned when a named container is absent from
	// the pod template
	ErrContainerNotFound = errors.New("container not found")
)

// RestartAnnotation is the pod template annotation bumped by a rollout restart
const RestartAnnotation = "kubectl.kubernetes.io/restartedAt"

// WorkloadState is a live read of a workload's rollout status
type WorkloadState struct {
	Ref                types.WorkloadRef `json:"ref"`
	DesiredReplicas    int32             `json:"desired_replicas"`
	ReadyReplicas      int32             `json:"ready_replicas"`
	UpdatedReplicas    int32             `json:"updated_replicas"`
	Generation         int64             `json:"generation"`
	ObservedGeneration int64             `json:"observed_generation"`
	RestartToken       string            `json:"restart_token,omitempty"`
}

// Ready reports whether the latest spec is fully rolled out and ready
func (s WorkloadState) Ready() bool {
	if s.ObservedGeneration < s.Generation {
		return false
	}
	return s.ReadyReplicas >= s.DesiredReplicas && s.UpdatedReplicas >= s.DesiredReplicas
}

// Client is the set of orchestration API verbs the executor uses. Every write
// is idempotent: repeating a call with the same arguments changes nothing.
type Client interface {
	// Reads
	GetWorkload(ctx context.Context, ref types.WorkloadRef) (WorkloadState, error)
	RegistrySecretPresent(ctx context.Context, namespace string, names []string) (bool, error)
	IngressControllerReady(ctx context.Context) (bool, error)
	ListNetworkPolicies(ctx context.Context, namespace string) ([]string, error)

	// Writes
	RolloutRestart(ctx context.Context, ref types.WorkloadRef, token string) error
	Scale(ctx context.Context, ref types.WorkloadRef, replicas int32) error
	SetResourceRequests(ctx context.Context, ref types.WorkloadRef, container string, requests types.ResourceRequests) error
	SetReadOnlyRootFilesystem(ctx context.Context, ref types.WorkloadRef, container string, readOnly bool) error
	EnsureContainerArg(ctx context.Context, ref types.WorkloadRef, container, arg string) error
	// DeleteNetworkPolicy returns the deleted policy serialized as JSON so it
	// can be restored by hand.
	DeleteNetworkPolicy(ctx context.Context, namespace, name string) (string, error)
}

// IsRetryable reports whether a failed call may succeed if repeated.
// Transport errors and transient API statuses are retryable. Rejections,
// negative checks and local errors are not.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrCheckFailed), errors.Is(err, ErrUnsupportedKind), errors.Is(err, ErrContainerNotFound):
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}

	var status apierrors.APIStatus
	if errors.As(err, &status) {
		return apierrors.IsServerTimeout(err) ||
			apierrors.IsTimeout(err) ||
			apierrors.IsTooManyRequests(err) ||
			apierrors.IsServiceUnavailable(err) ||
			apierrors.IsInternalError(err) ||
			apierrors.IsConflict(err) ||
			apierrors.IsUnexpectedServerError(err)
	}

	if utilnet.IsConnectionRefused(err) || utilnet.IsConnectionReset(err) || utilnet.IsProbableEOF(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
