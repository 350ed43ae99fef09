/*
Package collector produces per-namespace snapshots for the diagnosis cycle.

The Kubernetes collector reads deployments, statefulsets, pods, events,
autoscalers, network policies, ingresses, services and registry secrets in
parallel, bounded by collection_timeout_seconds. Any failed required read
fails the collection with a *CollectionError matching ErrCollectionTimeout or
ErrCollectionUnavailable; a partial snapshot is never returned. An
unreachable metrics API is recorded as a cluster fact instead.

Restart counts are turned into restarts inside the crash-loop window by a
RestartTracker that remembers recent observations per container. Configured
cross-call probes run through pkg/health and are attached to the workload
they originate from.

The File collector replays a snapshot recorded as YAML.
*/
package collector
