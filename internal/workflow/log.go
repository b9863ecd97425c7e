package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"cartsaga/internal/checkout"
)

// Event is the kind of an activity log entry.
type Event string

const (
	EventScheduled          Event = "scheduled"
	EventStarted            Event = "started"
	EventSucceeded          Event = "succeeded"
	EventFailed             Event = "failed"
	EventCompensated        Event = "compensated"
	EventCompensationFailed Event = "compensation_failed"
	EventCompleted          Event = "completed"
)

// Entry is one append-only record of a checkout workflow.
type Entry struct {
	WorkflowID string             `json:"workflow_id"`
	CartID     int64              `json:"cart_id"`
	Step       checkout.StepName  `json:"step,omitempty"`
	Event      Event              `json:"event"`
	Attempts   int                `json:"attempts,omitempty"`
	Fault      checkout.FaultKind `json:"fault,omitempty"`
	Success    bool               `json:"success,omitempty"`
	Detail     string             `json:"detail,omitempty"`
	At         time.Time          `json:"at"`
}

var ErrWorkflowNotFound = errors.New("workflow not found")

// ActivityLog stores workflow entries in append order.
type ActivityLog interface {
	Append(ctx context.Context, entry Entry) error
	Load(ctx context.Context, workflowID string) ([]Entry, error)
	// Incomplete lists workflows without a completed entry, oldest first.
	Incomplete(ctx context.Context) ([]string, error)
}

// MemoryLog keeps entries in process memory.
type MemoryLog struct {
	mu      sync.RWMutex
	order   []string
	entries map[string][]Entry
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{entries: make(map[string][]Entry)}
}

func (l *MemoryLog) Append(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.index(entry)
	return nil
}

func (l *MemoryLog) Load(ctx context.Context, workflowID string) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entries, ok := l.entries[workflowID]
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, nil
}

func (l *MemoryLog) Incomplete(ctx context.Context) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []string
	for _, id := range l.order {
		if !completed(l.entries[id]) {
			out = append(out, id)
		}
	}
	return out, nil
}

// index must be called with the lock held.
func (l *MemoryLog) index(entry Entry) {
	if _, ok := l.entries[entry.WorkflowID]; !ok {
		l.order = append(l.order, entry.WorkflowID)
	}
	l.entries[entry.WorkflowID] = append(l.entries[entry.WorkflowID], entry)
}

func completed(entries []Entry) bool {
	for _, entry := range entries {
		if entry.Event == EventCompleted {
			return true
		}
	}
	return false
}
