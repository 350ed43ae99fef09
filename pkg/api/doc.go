/*
Package api exposes the engine to operators over HTTP and, optionally, the
standard gRPC health protocol.

# HTTP endpoints

	GET    /health                 overall health (namespace failures degrade it)
	GET    /ready                  readiness of collector, ledger and engine
	GET    /live                   liveness
	GET    /metrics                Prometheus metrics
	GET    /api/v1/reports         latest report of every namespace
	GET    /api/v1/reports/{ns}    latest report of one namespace
	GET    /api/v1/attempts        ledger attempts, newest first
	GET    /api/v1/ledger/stats    ledger totals by outcome
	GET    /api/v1/escalations     latched (workload, category) pairs
	DELETE /api/v1/escalations     clear one latch

/api/v1/attempts accepts namespace, workload, outcome, since (RFC3339) and
limit query parameters. Clearing an escalation takes workload=namespace/name
and category; it answers 204 when the latch was released and 404 when the
pair was not latched.

Reports come from a ReportCache that follows cycle.completed and
cycle.failed events on the engine's broker. Nothing is served from the API
until the first cycle of a namespace finishes.

# gRPC health

HealthServer implements grpc.health.v1.Health. The empty service name is
SERVING while the process runs. Each namespace is reported as the service
"triage.namespace/<namespace>":

	UNKNOWN       no cycle has finished yet
	SERVING       the last cycle found no issues
	NOT_SERVING   the last cycle failed or left issues

Unary calls pass through LoggingInterceptor and ReadOnlyInterceptor; the
latter rejects any method that is not a read with PermissionDenied.
*/
package api
