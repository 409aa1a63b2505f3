package instance

import (
	"sync"
	"time"

	"github.com/mo3789530/wasmatrix/internal/domain"
)

// EventRecorder is an append-only log of lifecycle events, filterable by
// instance id. Insertion order is the source of truth.
type EventRecorder struct {
	mu     sync.RWMutex
	events []domain.ExecutionEvent
}

// NewEventRecorder creates an empty recorder.
func NewEventRecorder() *EventRecorder {
	return &EventRecorder{}
}

// Append adds one event to the end of the log.
func (r *EventRecorder) Append(eventType domain.ExecutionEventType, instanceID string, details map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, domain.ExecutionEvent{
		EventType:  eventType,
		InstanceID: instanceID,
		Timestamp:  time.Now(),
		Details:    details,
	})
}

// ForInstance returns the subsequence of events for instanceID, in
// insertion order.
func (r *EventRecorder) ForInstance(instanceID string) []domain.ExecutionEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.ExecutionEvent
	for _, e := range r.events {
		if e.InstanceID == instanceID {
			out = append(out, e)
		}
	}
	return out
}

// All returns every recorded event, in insertion order.
func (r *EventRecorder) All() []domain.ExecutionEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ExecutionEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Clear removes every event for instanceID. Used when an instance id is
// permanently retired; it is distinct from a crash-recovery restart, which
// retains the full history.
func (r *EventRecorder) Clear(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.events[:0:0]
	for _, e := range r.events {
		if e.InstanceID != instanceID {
			kept = append(kept, e)
		}
	}
	r.events = kept
}
