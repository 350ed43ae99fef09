package collector

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/cuemby/triage/pkg/types"
	"gopkg.in/yaml.v3"
)

var (
	// ErrCollectionTimeout means the snapshot could not be gathered within
	// collection_timeout_seconds
	ErrCollectionTimeout = errors.New("collection timed out")

	// ErrCollectionUnavailable means the orchestration API refused or failed
	// a required read
	ErrCollectionUnavailable = errors.New("orchestration api unavailable")
)

// CollectionError wraps a failed collection. It matches either
// ErrCollectionTimeout or ErrCollectionUnavailable with errors.Is.
type CollectionError struct {
	Namespace string
	Kind      error
	Err       error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("collect %s: %v: %v", e.Namespace, e.Kind, e.Err)
}

func (e *CollectionError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// newCollectionError classifies err as a timeout when the collection context
// expired and as unavailability otherwise
func newCollectionError(ctx context.Context, namespace string, err error) *CollectionError {
	kind := ErrCollectionUnavailable
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind = ErrCollectionTimeout
	}
	return &CollectionError{Namespace: namespace, Kind: kind, Err: err}
}

// Collector produces a complete snapshot of one namespace or fails. It never
// returns a partial snapshot.
type Collector interface {
	Collect(ctx context.Context, namespace string) (*types.Snapshot, error)
}

// File serves a snapshot recorded as YAML, for offline diagnosis
type File struct {
	Path string
}

// NewFile creates a file-backed collector
func NewFile(path string) *File {
	return &File{Path: path}
}

// Collect reads the snapshot file. The namespace argument fills in a file
// that does not name one.
func (f *File) Collect(ctx context.Context, namespace string) (*types.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, newCollectionError(ctx, namespace, err)
	}

	snapshot, err := LoadSnapshot(f.Path)
	if err != nil {
		return nil, &CollectionError{Namespace: namespace, Kind: ErrCollectionUnavailable, Err: err}
	}
	if snapshot.Namespace == "" {
		snapshot.Namespace = namespace
	}
	for i := range snapshot.Workloads {
		if snapshot.Workloads[i].Ref.Namespace == "" {
			snapshot.Workloads[i].Ref.Namespace = snapshot.Namespace
		}
	}
	return snapshot, nil
}

// LoadSnapshot decodes a YAML snapshot file
func LoadSnapshot(path string) (*types.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snapshot types.Snapshot
	if err := yaml.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}
	return &snapshot, nil
}

// Static serves a fixed snapshot. Tests and dry runs use it to replay the
// same state.
type Static struct {
	Snapshot *types.Snapshot
	Err      error
}

// Collect returns the fixed snapshot or error
func (s *Static) Collect(ctx context.Context, namespace string) (*types.Snapshot, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Snapshot, nil
}
