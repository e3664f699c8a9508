// Package events carries structured observability events to a sink
// without blocking the caller.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Name identifies an event kind.
type Name string

const (
	SearchPerformed      Name = "search_performed"
	OptimizationAnalyzed Name = "optimization_analyzed"
	OptimizationApplied  Name = "optimization_applied"
	AlertRaised          Name = "alert_raised"
	MaintenanceExecuted  Name = "maintenance_executed"
)

// Event is one structured observability record.
type Event struct {
	ID         string
	Name       Name
	Operation  string
	ChatbotID  string
	SessionID  string
	Duration   time.Duration
	Success    bool
	Metadata   map[string]any
	OccurredAt time.Time
}

// Sink receives events. Implementations must not block.
type Sink interface {
	Emit(Event)
}

// New stamps an event with an id and timestamp.
func New(name Name, operation string, now time.Time) Event {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return Event{
		ID:         id.String(),
		Name:       name,
		Operation:  operation,
		OccurredAt: now,
		Metadata:   map[string]any{},
	}
}

// Nop discards events.
type Nop struct{}

// Emit implements Sink.
func (Nop) Emit(Event) {}

// Multi fans one event out to several sinks.
type Multi []Sink

// Emit implements Sink.
func (m Multi) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}
