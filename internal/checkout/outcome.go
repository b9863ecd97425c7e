package checkout

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ARM-software/golang-utils/utils/commonerrors"
)

// StepName identifies one externally delegated unit of work in the saga.
type StepName string

const (
	StepPayment  StepName = "payment"
	StepShipping StepName = "shipping"
)

// Title returns the step name with a leading capital, e.g. "Payment".
func (s StepName) Title() string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(string(s[:1])) + string(s[1:])
}

// FaultKind separates an explicit failure answer from a call that never got one.
type FaultKind int

const (
	FaultNone FaultKind = iota
	FaultResponse
	FaultTransport
)

func (k FaultKind) String() string {
	switch k {
	case FaultResponse:
		return "explicit failure response"
	case FaultTransport:
		return "transport fault"
	default:
		return "none"
	}
}

var (
	ErrStepTimeout = fmt.Errorf("%w: step attempt timed out", commonerrors.ErrTimeout)
	ErrStepPanic   = errors.New("step client panicked")
)

// StepError is returned by a StepClient when the backend answered with a
// non-success status.
type StepError struct {
	Step   StepName
	Status int
	Detail string
}

func (e *StepError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s backend responded with status %d", e.Step, e.Status)
	}
	return fmt.Sprintf("%s backend responded with status %d: %s", e.Step, e.Status, e.Detail)
}

// ClassifyFault maps a step client error onto its fault kind.
func ClassifyFault(err error) FaultKind {
	if err == nil {
		return FaultNone
	}
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return FaultResponse
	}
	return FaultTransport
}

// StepOutcome is the result of one step after its retry budget. Failures are
// data; the orchestrator never sees a step error.
type StepOutcome struct {
	Step     StepName  `json:"step"`
	Success  bool      `json:"success"`
	Message  string    `json:"message,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Fault    FaultKind `json:"fault,omitempty"`
	Attempts int       `json:"attempts"`
}

func Succeeded(step StepName, attempts int) StepOutcome {
	return StepOutcome{
		Step:     step,
		Success:  true,
		Message:  step.Title() + " processed successfully.",
		Attempts: attempts,
	}
}

func Failed(step StepName, fault FaultKind, reason string, attempts int) StepOutcome {
	return StepOutcome{
		Step:     step,
		Reason:   reason,
		Fault:    fault,
		Attempts: attempts,
	}
}

const (
	MessageCheckoutSucceeded = "Checkout processing success"
	ErrorNothingInCart       = "Nothing in cart."
	ErrorPaymentFailed       = "Payment processing failed."
	ErrorShippingFailed      = "Shipping processing failed."
	ErrorCheckoutUnavailable = "Checkout is temporarily unavailable."
)

// SagaResult is the terminal, user-facing result of a checkout.
type SagaResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func SuccessResult() SagaResult {
	return SagaResult{Success: true, Message: MessageCheckoutSucceeded}
}

func FailureResult(reason string) SagaResult {
	return SagaResult{Error: reason}
}

// failureFor names the user-visible reason for a step that did not succeed.
func failureFor(step StepName) string {
	switch step {
	case StepPayment:
		return ErrorPaymentFailed
	case StepShipping:
		return ErrorShippingFailed
	default:
		return step.Title() + " processing failed."
	}
}
