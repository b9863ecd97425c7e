package workflow

import (
	"fmt"

	"cartsaga/internal/checkout"
)

type stepStatus int

const (
	stepNeverStarted stepStatus = iota
	stepStarted
	stepSucceeded
	stepFailed
	stepCompensated
	stepCompensationFailed
)

func (s stepStatus) String() string {
	switch s {
	case stepNeverStarted:
		return "never_started"
	case stepStarted:
		return "started"
	case stepSucceeded:
		return "succeeded"
	case stepFailed:
		return "failed"
	case stepCompensated:
		return "compensated"
	case stepCompensationFailed:
		return "compensation_failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// next returns the status of a step after event. A step may be started
// again when a crash interrupted it before a terminal record was written.
func (s stepStatus) next(event Event) (stepStatus, error) {
	switch s {
	case stepNeverStarted:
		if event == EventStarted {
			return stepStarted, nil
		}
	case stepStarted:
		switch event {
		case EventStarted:
			return stepStarted, nil
		case EventSucceeded:
			return stepSucceeded, nil
		case EventFailed:
			return stepFailed, nil
		}
	case stepSucceeded:
		switch event {
		case EventCompensated:
			return stepCompensated, nil
		case EventCompensationFailed:
			return stepCompensationFailed, nil
		}
	}
	return s, fmt.Errorf("illegal event %s for step status %s", event, s)
}

// History is the saga state rebuilt from a workflow's activity log.
type History struct {
	WorkflowID string
	CartID     int64
	// CartDigest is the digest of the cart items the workflow checked out.
	CartDigest string

	scheduled    bool
	status       map[checkout.StepName]stepStatus
	outcomes     map[checkout.StepName]checkout.StepOutcome
	compensation map[checkout.StepName]string
	result       *checkout.SagaResult
}

func newHistory(workflowID string) *History {
	return &History{
		WorkflowID:   workflowID,
		status:       make(map[checkout.StepName]stepStatus),
		outcomes:     make(map[checkout.StepName]checkout.StepOutcome),
		compensation: make(map[checkout.StepName]string),
	}
}

// Replay validates entries in log order and rebuilds the workflow state.
func Replay(workflowID string, entries []Entry) (*History, error) {
	h := newHistory(workflowID)
	for i, entry := range entries {
		if err := h.record(entry); err != nil {
			return nil, fmt.Errorf("replay workflow %s entry %d: %w", workflowID, i, err)
		}
	}
	if !h.scheduled {
		return nil, fmt.Errorf("replay workflow %s: %w", workflowID, ErrWorkflowNotFound)
	}
	return h, nil
}

func (h *History) record(entry Entry) error {
	if entry.WorkflowID != h.WorkflowID {
		return fmt.Errorf("entry belongs to workflow %s", entry.WorkflowID)
	}
	if h.result != nil {
		return fmt.Errorf("event %s after completion", entry.Event)
	}

	switch entry.Event {
	case EventScheduled:
		if h.scheduled {
			return fmt.Errorf("workflow scheduled twice")
		}
		h.scheduled = true
		h.CartID = entry.CartID
		h.CartDigest = entry.Detail
		return nil
	case EventCompleted:
		if !h.scheduled {
			return fmt.Errorf("completed before scheduled")
		}
		result := checkout.SagaResult{Success: entry.Success}
		if entry.Success {
			result.Message = entry.Detail
		} else {
			result.Error = entry.Detail
		}
		h.result = &result
		return nil
	}

	if !h.scheduled {
		return fmt.Errorf("event %s before scheduled", entry.Event)
	}
	if entry.CartID != h.CartID {
		return fmt.Errorf("entry for cart %d in workflow of cart %d", entry.CartID, h.CartID)
	}
	next, err := h.status[entry.Step].next(entry.Event)
	if err != nil {
		return fmt.Errorf("step %s: %w", entry.Step, err)
	}
	h.status[entry.Step] = next

	switch entry.Event {
	case EventSucceeded:
		outcome := checkout.Succeeded(entry.Step, entry.Attempts)
		if entry.Detail != "" {
			outcome.Message = entry.Detail
		}
		h.outcomes[entry.Step] = outcome
	case EventFailed:
		h.outcomes[entry.Step] = checkout.Failed(entry.Step, entry.Fault, entry.Detail, entry.Attempts)
	case EventCompensated:
		h.compensation[entry.Step] = ""
	case EventCompensationFailed:
		h.compensation[entry.Step] = entry.Detail
	}
	return nil
}

// Outcome returns the recorded terminal outcome of step, if any.
func (h *History) Outcome(step checkout.StepName) (checkout.StepOutcome, bool) {
	outcome, ok := h.outcomes[step]
	return outcome, ok
}

// Compensation reports whether step's compensation already ran and the
// error text it left, if it failed.
func (h *History) Compensation(step checkout.StepName) (string, bool) {
	detail, ok := h.compensation[step]
	return detail, ok
}

func (h *History) Result() (checkout.SagaResult, bool) {
	if h.result == nil {
		return checkout.SagaResult{}, false
	}
	return *h.result, true
}

// Report rebuilds the report of a completed workflow.
func (h *History) Report() checkout.Report {
	result, _ := h.Result()
	report := checkout.Report{Result: result, Final: checkout.StateFailed}
	if result.Success {
		report.Final = checkout.StateCommitted
	}
	for _, step := range []checkout.StepName{checkout.StepPayment, checkout.StepShipping} {
		if outcome, ok := h.outcomes[step]; ok {
			report.Steps = append(report.Steps, outcome)
		}
	}
	if detail, ok := h.compensation[checkout.StepPayment]; ok {
		report.Compensated = true
		report.CompensationErr = detail
	}
	return report
}
