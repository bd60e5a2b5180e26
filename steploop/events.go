package steploop

import (
	"sync"
	"time"
)

// EventKind identifies the type of run event.
type EventKind string

const (
	EventRunStart           EventKind = "run_start"
	EventRunEnd             EventKind = "run_end"
	EventCacheHit           EventKind = "cache_hit"
	EventGuardrailReject    EventKind = "guardrail_reject"
	EventGuardrailDefer     EventKind = "guardrail_defer"
	EventStepStart          EventKind = "step_start"
	EventPlanGenerated      EventKind = "plan_generated"
	EventPlanRejected       EventKind = "plan_rejected"
	EventLifelinesExhausted EventKind = "lifelines_exhausted"
	EventResultDemoted      EventKind = "result_demoted"
	EventForwarded          EventKind = "forwarded"
	EventForcedFinalize     EventKind = "forced_finalize"
	EventError              EventKind = "error"
)

// RunEvent is a typed event emitted during a run.
type RunEvent struct {
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventEmitter delivers typed events to the host application via a channel.
type EventEmitter struct {
	ch     chan RunEvent
	closed bool
	mu     sync.Mutex
}

// NewEventEmitter creates an EventEmitter with a buffered channel.
func NewEventEmitter(bufferSize int) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventEmitter{ch: make(chan RunEvent, bufferSize)}
}

// Emit sends an event to the channel. A full channel drops the event rather
// than blocking the loop; a closed emitter drops it silently.
func (e *EventEmitter) Emit(sessionID string, kind EventKind, data map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	event := RunEvent{
		Kind:      kind,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data:      data,
	}
	select {
	case e.ch <- event:
	default:
	}
}

// Events returns the read-only event channel.
func (e *EventEmitter) Events() <-chan RunEvent {
	return e.ch
}

// Close closes the event channel. Safe to call multiple times.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
