package classifier

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"time"

	"github.com/cuemby/triage/pkg/config"
	"github.com/cuemby/triage/pkg/log"
	"github.com/cuemby/triage/pkg/metrics"
	"github.com/cuemby/triage/pkg/types"
	"github.com/rs/zerolog"
)

// Thresholds tune the rule signals
type Thresholds struct {
	CrashLoopRestarts int32
	PendingGrace      time.Duration
	MetricsStale      time.Duration
}

// ThresholdsFromConfig extracts the classifier thresholds
func ThresholdsFromConfig(cfg *config.Config) Thresholds {
	return Thresholds{
		CrashLoopRestarts: int32(cfg.CrashLoopRestartThreshold),
		PendingGrace:      cfg.PendingGrace(),
		MetricsStale:      cfg.MetricsStale(),
	}
}

var (
	imagePullReasons = []string{
		"ImagePullBackOff",
		"ErrImagePull",
		"InvalidImageName",
		"ErrImageNeverPull",
		"RegistryUnavailable",
	}

	unschedulablePattern = regexp.MustCompile(`(?i)insufficient \w+|unschedulable|no nodes available|didn't match .*(affinity|selector)`)
	readOnlyFSPattern    = regexp.MustCompile(`(?i)read-only file\s?system|\bEROFS\b`)
)

// Ambiguity is a workload with partial signals that matched no rule
type Ambiguity struct {
	Workload types.WorkloadRef
	Signal   string
}

// Result is the full classification of one snapshot
type Result struct {
	Issues    []types.Issue
	Ambiguous []Ambiguity
}

// Classifier maps snapshot signals to issue categories
type Classifier struct {
	t      Thresholds
	logger zerolog.Logger
}

// New creates a classifier
func New(t Thresholds) *Classifier {
	return &Classifier{
		t:      t,
		logger: log.WithComponent("classifier"),
	}
}

// Classify returns at most one issue per workload, sorted by workload name.
// Healthy and ambiguous workloads produce no issue.
func (c *Classifier) Classify(s *types.Snapshot) []types.Issue {
	return c.ClassifyDetailed(s).Issues
}

// ClassifyDetailed is Classify plus the ambiguous workloads
func (c *Classifier) ClassifyDetailed(s *types.Snapshot) Result {
	var res Result
	if s == nil {
		return res
	}

	for _, w := range s.Workloads {
		issue, ambiguous := c.classify(s, w)
		if issue != nil {
			issue.Snapshot = s
			res.Issues = append(res.Issues, *issue)
			continue
		}
		if ambiguous != "" {
			res.Ambiguous = append(res.Ambiguous, Ambiguity{Workload: w.Ref, Signal: ambiguous})
			metrics.ClassificationAmbiguous.Inc()
			c.logger.Debug().
				Str("workload", w.Ref.String()).
				Str("signal", ambiguous).
				Msg("Ambiguous signals, treating workload as healthy")
		}
	}

	sort.SliceStable(res.Issues, func(i, j int) bool {
		return res.Issues[i].Workload.Name < res.Issues[j].Workload.Name
	})
	return res
}

// rule inspects one workload and returns an issue signal, or an ambiguity
// note when the signal is present but too weak
type rule struct {
	category types.Category
	severity types.Severity
	match    func(c *Classifier, s *types.Snapshot, w types.Workload) (signal, ambiguous string)
}

// rules in priority order, highest first
var rules = []rule{
	{types.CategoryImagePullFailure, types.SeverityCritical, (*Classifier).imagePull},
	{types.CategoryCrashLoopBackOff, types.SeverityCritical, (*Classifier).crashLoop},
	{types.CategoryPendingScheduling, types.SeverityDegraded, (*Classifier).pending},
	{types.CategoryReadOnlyFilesystemViolation, types.SeverityCritical, (*Classifier).readOnlyFS},
	{types.CategoryIngressUnreachable, types.SeverityInformational, (*Classifier).ingress},
	{types.CategoryAutoscalerMetricsUnavailable, types.SeverityDegraded, (*Classifier).autoscaler},
	{types.CategoryNetworkPolicyBlocking, types.SeverityDegraded, (*Classifier).networkPolicy},
}

func (c *Classifier) classify(s *types.Snapshot, w types.Workload) (*types.Issue, string) {
	var firstAmbiguous string
	for _, r := range rules {
		signal, ambiguous := r.match(c, s, w)
		if signal != "" {
			return &types.Issue{
				Workload: w.Ref,
				Category: r.category,
				Severity: r.severity,
				Signal:   signal,
			}, ""
		}
		if firstAmbiguous == "" {
			firstAmbiguous = ambiguous
		}
	}
	return nil, firstAmbiguous
}

func (c *Classifier) imagePull(_ *types.Snapshot, w types.Workload) (string, string) {
	for _, r := range w.Replicas {
		for _, cs := range r.Containers {
			if cs.State == types.ContainerWaiting && slices.Contains(imagePullReasons, cs.Reason) {
				return fmt.Sprintf("container %s in %s waiting: %s", cs.Name, r.Name, cs.Reason), ""
			}
		}
	}
	return "", ""
}

func (c *Classifier) crashLoop(_ *types.Snapshot, w types.Workload) (string, string) {
	ambiguous := ""
	for _, r := range w.Replicas {
		for _, cs := range r.Containers {
			if cs.RestartsInWindow > c.t.CrashLoopRestarts && cs.LastTermination.Abnormal() {
				t := cs.LastTermination
				return fmt.Sprintf("container %s in %s restarted %d times in window, last exit %d signal %d",
					cs.Name, r.Name, cs.RestartsInWindow, t.ExitCode, t.Signal), ""
			}
			if cs.Reason == "CrashLoopBackOff" && ambiguous == "" {
				ambiguous = fmt.Sprintf("container %s in %s in CrashLoopBackOff with %d restarts in window",
					cs.Name, r.Name, cs.RestartsInWindow)
			}
		}
	}
	return "", ambiguous
}

func (c *Classifier) pending(s *types.Snapshot, w types.Workload) (string, string) {
	var overdue *types.Replica
	for i := range w.Replicas {
		r := &w.Replicas[i]
		if r.Phase == types.PodPending && !r.PendingSince.IsZero() && s.TakenAt.Sub(r.PendingSince) > c.t.PendingGrace {
			overdue = r
			break
		}
	}
	if overdue == nil {
		return "", ""
	}

	for _, e := range w.Events {
		if e.Reason == "FailedScheduling" || unschedulablePattern.MatchString(e.Message) {
			return fmt.Sprintf("replica %s pending %s: %s", overdue.Name,
				s.TakenAt.Sub(overdue.PendingSince).Round(time.Second), e.Message), ""
		}
	}
	return "", fmt.Sprintf("replica %s pending beyond grace without a scheduling event", overdue.Name)
}

func (c *Classifier) readOnlyFS(_ *types.Snapshot, w types.Workload) (string, string) {
	for _, e := range w.Events {
		if readOnlyFSPattern.MatchString(e.Message) {
			return "event: " + e.Message, ""
		}
	}
	if m := readOnlyFSPattern.FindString(w.LogExcerpt); m != "" {
		return "log: " + m, ""
	}
	return "", ""
}

func (c *Classifier) ingress(s *types.Snapshot, w types.Workload) (string, string) {
	if w.Ingress == nil || !w.Ready() {
		return "", ""
	}
	switch {
	case !s.Cluster.IngressControllerReady:
		return fmt.Sprintf("ingress %s has no ready controller", w.Ingress.Name), ""
	case w.Ingress.BackendMissing:
		return fmt.Sprintf("ingress %s backend missing", w.Ingress.Name), ""
	}
	return "", ""
}

func (c *Classifier) autoscaler(s *types.Snapshot, w types.Workload) (string, string) {
	if w.Autoscaler == nil || !w.Autoscaler.MetricsUnknown {
		return "", ""
	}
	switch {
	case !s.Cluster.MetricsServerAvailable:
		return fmt.Sprintf("autoscaler %s metrics unknown, metrics-server unavailable", w.Autoscaler.Name), ""
	case !s.Cluster.MetricsLastScrape.IsZero() && s.TakenAt.Sub(s.Cluster.MetricsLastScrape) > c.t.MetricsStale:
		return fmt.Sprintf("autoscaler %s metrics unknown, last scrape %s ago", w.Autoscaler.Name,
			s.TakenAt.Sub(s.Cluster.MetricsLastScrape).Round(time.Second)), ""
	}
	return "", fmt.Sprintf("autoscaler %s metrics unknown while metrics-server is healthy", w.Autoscaler.Name)
}

func (c *Classifier) networkPolicy(s *types.Snapshot, w types.Workload) (string, string) {
	if !w.Ready() {
		return "", ""
	}
	for _, p := range w.Probes {
		if p.Healthy {
			continue
		}
		if len(s.Cluster.NetworkPolicies) == 0 {
			return "", fmt.Sprintf("probe to %s failed without network policies", p.Target)
		}
		return fmt.Sprintf("probe to %s failed: %s", p.Target, p.Message), ""
	}
	return "", ""
}
