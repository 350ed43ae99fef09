package refiner

import (
	"regexp"
	"strings"

	"github.com/cuemby/triage/pkg/types"
)

// pattern is one entry of the ordered cause list. Dependency names come from
// the first capture group when the expression has one.
type pattern struct {
	kind          types.CauseKind
	expr          *regexp.Regexp
	lowLikelihood bool
}

// Hostnames must start with a letter so bare IP addresses never become a
// dependency name.
var patterns = []pattern{
	{
		kind: types.CauseDependencyUnreachable,
		expr: regexp.MustCompile(`(?i)dial tcp ([a-z][a-z0-9.-]*):\d+: connect: connection refused`),
	},
	{
		kind: types.CauseDependencyUnreachable,
		expr: regexp.MustCompile(`(?i)(?:connection refused|ECONNREFUSED)[:\s]+(?:to\s+)?([a-z][a-z0-9.-]*):\d+`),
	},
	{
		kind: types.CauseDependencyUnreachable,
		expr: regexp.MustCompile(`(?i)\b(?:connecting to|connect to|at)\s+([a-z][a-z0-9.-]*):\d+.*connection refused`),
	},
	{
		kind: types.CauseMissingDependency,
		expr: regexp.MustCompile(`(?i)ModuleNotFoundError|ImportError|cannot find module|no module named|ClassNotFoundException|NoClassDefFoundError`),
	},
	{
		kind:          types.CausePortConflict,
		expr:          regexp.MustCompile(`(?i)address already in use|EADDRINUSE|bind: address`),
		lowLikelihood: true,
	},
}

// Refine attaches a root cause to CrashLoopBackOff issues by matching the
// workload's log excerpt against the ordered pattern list. Other categories
// are returned unchanged.
func Refine(issue types.Issue) types.Issue {
	if issue.Category != types.CategoryCrashLoopBackOff {
		return issue
	}

	return issue.WithCause(Match(logExcerpt(issue)))
}

// Match returns the first cause whose pattern matches the excerpt, or
// UnknownCrashCause
func Match(excerpt string) types.Cause {
	for _, p := range patterns {
		m := p.expr.FindStringSubmatch(excerpt)
		if m == nil {
			continue
		}

		cause := types.Cause{
			Kind:          p.kind,
			LowLikelihood: p.lowLikelihood,
			Evidence:      m[0],
		}
		if len(m) > 1 {
			cause.Dependency = serviceName(m[1])
		}
		return cause
	}
	return types.Cause{Kind: types.CauseUnknownCrash}
}

// serviceName reduces a cluster DNS name like redis.shop.svc.cluster.local
// to the service name
func serviceName(host string) string {
	name, _, _ := strings.Cut(strings.ToLower(host), ".")
	return name
}

func logExcerpt(issue types.Issue) string {
	if issue.Snapshot == nil {
		return ""
	}
	w, ok := issue.Snapshot.Workload(issue.Workload.Name)
	if !ok {
		return ""
	}
	return w.LogExcerpt
}
