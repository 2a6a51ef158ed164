// Package feedback holds the diagnostic event vocabulary and the bounded
// feedback log shown to students.
package feedback

import (
	"sync"
	"time"
)

// Kind is the severity of an event.
type Kind string

const (
	KindSuccess Kind = "success"
	KindWarning Kind = "warning"
	KindError   Kind = "error"
	KindInfo    Kind = "info"
)

// Code identifies the diagnostic behind an event.
type Code string

const (
	CodeEmptyCircuit      Code = "empty_circuit"
	CodeSimulationStarted Code = "simulation_started"
	CodeSimulationStopped Code = "simulation_stopped"
	CodeShortCircuit      Code = "short_circuit"
	CodeMissingResistor   Code = "missing_resistor"
	CodeLEDBurnedOut      Code = "led_burned_out"
	CodeComponentLit      Code = "component_lit"
	CodeLooseWire         Code = "loose_wire"
	CodeWorkspace         Code = "workspace"
	CodeExam              Code = "exam"
)

// Event is one entry of the feedback stream.
type Event struct {
	ID        uint64    `json:"id"`
	Kind      Kind      `json:"kind"`
	Code      Code      `json:"code"`
	Message   string    `json:"message"`
	Subject   string    `json:"subject,omitempty"` // component id, when the event is about one
	Timestamp time.Time `json:"timestamp"`
}

// DefaultCapacity is the number of entries kept by a Log.
const DefaultCapacity = 50

// Log is a bounded, newest-first event list. The oldest entry is dropped
// once capacity is reached. Safe for concurrent use.
type Log struct {
	mu       sync.Mutex
	capacity int
	seq      uint64
	entries  []Event
	now      func() time.Time // for testing
}

// NewLog creates a log. A non-positive capacity selects DefaultCapacity.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{capacity: capacity, now: time.Now}
}

// Add records a new event built from its parts and returns it.
func (l *Log) Add(kind Kind, code Code, message string) Event {
	return l.Append(Event{Kind: kind, Code: code, Message: message})[0]
}

// Append records events in order, so the last one ends up newest. Events
// without a timestamp are stamped. The stored copies are returned.
func (l *Log) Append(events ...Event) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Event, len(events))
	for i, e := range events {
		l.seq++
		e.ID = l.seq
		if e.Timestamp.IsZero() {
			e.Timestamp = l.now()
		}
		l.entries = append(l.entries, Event{})
		copy(l.entries[1:], l.entries)
		l.entries[0] = e
		if len(l.entries) > l.capacity {
			l.entries = l.entries[:l.capacity]
		}
		out[i] = e
	}
	return out
}

// Entries returns a copy of the log, newest first.
func (l *Log) Entries() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.entries...)
}

// Len returns the number of stored entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Clear drops every entry. IDs keep increasing.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}
