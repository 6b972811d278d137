package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType defines the kind of run lifecycle event.
type EventType string

const (
	EventStart EventType = "start"
	EventKill  EventType = "kill"
	EventReap  EventType = "reap"
	EventExit  EventType = "exit"
)

// Event is one lifecycle event exported to external audit systems. History
// is write-only from the manager's perspective; it is never read back and
// never participates in registry coordination.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	RunName    string    `json:"run_name"`
	PID        int       `json:"pid"`
	Command    string    `json:"command"`
	LogFile    string    `json:"log_file"`
	ExitCode   int       `json:"exit_code,omitempty"`
}

// NewEvent stamps a fresh event with an ID and the current time.
func NewEvent(t EventType, runName string, pid int, command, logFile string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		OccurredAt: time.Now().UTC(),
		RunName:    runName,
		PID:        pid,
		Command:    command,
		LogFile:    logFile,
	}
}

// Sink is a destination for history events (analytics/audit systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
