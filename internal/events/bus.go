// Package events carries phase lifecycle events in-process and appends them
// to a JSONL audit log.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType represents the type of event being published.
type EventType string

const (
	// EventPhaseQueued is published when a phase passes validation and enters QUEUED.
	EventPhaseQueued EventType = "phase_queued"
	// EventPhaseRejected is published when validation refuses admission.
	EventPhaseRejected EventType = "phase_rejected"
	// EventPhaseTransition is published after every persisted state change.
	EventPhaseTransition EventType = "phase_transition"
)

// AllEventTypes lists every type the core publishes.
var AllEventTypes = []EventType{EventPhaseQueued, EventPhaseRejected, EventPhaseTransition}

// Event represents a system event.
type Event struct {
	Type      EventType
	Timestamp time.Time
	PhaseID   string
	Data      map[string]any
}

// Subscriber is a function that receives events.
type Subscriber func(Event)

// Bus is a non-blocking event bus using Publish/Subscribe pattern.
// Events are delivered asynchronously via buffered channels.
// If a subscriber's channel is full, the event is dropped.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
	closed      bool
	logger      *zap.Logger
	delivering  sync.WaitGroup
}

// NewBus creates a new event bus with the specified buffer size per subscriber.
func NewBus(bufferSize int, logger *zap.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
		logger:      logger.Named("events"),
	}
}

// Subscribe registers a subscriber for a specific event type.
// The subscriber function is called asynchronously in a goroutine.
// Returns an unsubscribe function; calling it more than once is safe.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	if b.closed {
		close(ch)
		return func() {}
	}
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	b.delivering.Add(1)
	go func() {
		defer b.delivering.Done()
		for event := range ch {
			b.deliver(fn, event)
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[eventType]
		for i, subCh := range subs {
			if subCh == ch {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
}

func (b *Bus) deliver(fn Subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked",
				zap.String("event_type", string(event.Type)),
				zap.Any("panic", r))
		}
	}()
	fn(event)
}

// Publish sends an event to all subscribers of the given type without blocking.
func (b *Bus) Publish(eventType EventType, phaseID string, data map[string]any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		PhaseID:   phaseID,
		Data:      data,
	}

	for _, ch := range b.subscribers[eventType] {
		select {
		case ch <- event:
		default:
			b.logger.Warn("subscriber buffer full, event dropped",
				zap.String("event_type", string(eventType)),
				zap.String("phase_id", phaseID))
		}
	}
}

// Close closes all subscriber channels and waits until events already
// buffered have been delivered.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
	b.mu.Unlock()

	b.delivering.Wait()
}
