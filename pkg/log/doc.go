/*
Package log provides structured logging for triage using zerolog.

The package wraps a single global zerolog.Logger. It is initialized once from
configuration with log.Init and then specialized per component, namespace,
workload and cycle so that every line emitted during a diagnostic cycle can be
correlated:

	logger := log.WithComponent("engine")
	logger = log.WithNamespace(logger, "shop")
	logger = log.WithCycleID(logger, cycleID)
	logger.Info().Int("issues", len(issues)).Msg("Cycle completed")

# Output

Console output (default) is meant for operators at a terminal:

	2026-01-15T10:30:00Z INF Cycle completed component=engine namespace=shop issues=2

JSON output (log.json: true) is meant for log aggregation:

	{"level":"info","component":"engine","namespace":"shop","issues":2,"time":"...","message":"Cycle completed"}

# Levels

  - debug: per-rule classification detail, retry backoff durations
  - info: cycle start/finish, executed actions
  - warn: collection failures, pending approvals, escalations
  - error: failed-fatal actions, ledger persistence errors

Log level is set globally through zerolog.SetGlobalLevel, so child loggers
created before Init still honor the configured level.
*/
package log
