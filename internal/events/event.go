package events

import (
	"context"
	"time"

	"cartsaga/internal/checkout"
	"cartsaga/internal/workflow"
)

// CheckoutEvent is the published form of one saga state transition.
type CheckoutEvent struct {
	Type       string            `json:"type"`
	CartID     int64             `json:"cart_id"`
	WorkflowID string            `json:"workflow_id,omitempty"`
	From       checkout.State    `json:"from"`
	State      checkout.State    `json:"state"`
	Step       checkout.StepName `json:"step,omitempty"`
	Success    bool              `json:"success"`
	Message    string            `json:"message,omitempty"`
	Error      string            `json:"error,omitempty"`
	At         time.Time         `json:"at"`
}

// FromTransition builds the event for t. The workflow id is taken from ctx
// when the saga runs under the workflow engine.
func FromTransition(ctx context.Context, t checkout.Transition) CheckoutEvent {
	event := CheckoutEvent{
		Type:       "checkout",
		CartID:     t.CartID,
		WorkflowID: workflow.WorkflowIDFromContext(ctx),
		From:       t.From,
		State:      t.To,
		Success:    t.To == checkout.StateCommitted,
		At:         t.At.UTC(),
	}
	if t.Outcome != nil {
		event.Step = t.Outcome.Step
		event.Message = t.Outcome.Message
		event.Error = t.Outcome.Reason
	}
	return event
}
