/*
Package events provides an in-memory event broker for engine notifications.

The engine publishes one event per namespace cycle, plus events for actions
held for approval and for latched escalations. The API server subscribes to
keep its report cache current; other subscribers can filter by type.

	Publisher → eventCh (buffer: 100) → broadcast loop → subscribers (buffer: 50 each)

Delivery is best effort. A subscriber whose buffer is full misses the event;
nothing is persisted.

# Event Types

	cycle.completed    Report attached; the cycle ran to completion or deadline
	cycle.failed       Report attached; collection failed
	approval.pending   an action was held for operator approval
	escalation.raised  a (workload, category) pair latched out of auto remediation

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe(events.EventCycleCompleted, events.EventCycleFailed)
	for e := range sub {
		cache.Store(e.Namespace, e.Report)
	}
*/
package events
