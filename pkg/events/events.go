package events

import (
	"sync"
	"time"

	"github.com/cuemby/triage/pkg/types"
	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventCycleCompleted  EventType = "cycle.completed"
	EventCycleFailed     EventType = "cycle.failed"
	EventApprovalPending EventType = "approval.pending"
	EventEscalation      EventType = "escalation.raised"
)

// Event is a notification emitted by the engine
type Event struct {
	ID        string
	Type      EventType
	Namespace string
	Timestamp time.Time
	Message   string
	Metadata  map[string]string

	// Report is set for cycle events
	Report *types.Report
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

type subscription struct {
	types map[EventType]bool // nil means every type
}

func (s subscription) wants(t EventType) bool {
	return s.types == nil || s.types[t]
}

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]subscription
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]subscription),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker. Safe to call more than once.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe creates a subscription. With no types given the subscriber
// receives every event.
func (b *Broker) Subscribe(only ...EventType) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	var s subscription
	if len(only) > 0 {
		s.types = make(map[EventType]bool, len(only))
		for _, t := range only {
			s.types[t] = true
		}
	}

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = s
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub, s := range b.subscribers {
		if !s.wants(event.Type) {
			continue
		}
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
