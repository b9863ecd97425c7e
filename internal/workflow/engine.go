package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"cartsaga/internal/cart"
	"cartsaga/internal/checkout"
)

// Execution is a workflow that reached a terminal result.
type Execution struct {
	WorkflowID string
	CartID     int64
	Report     checkout.Report
}

// Engine runs the checkout saga as a workflow whose steps are recorded in an
// activity log. Replaying the log never re-executes a step that already has
// a terminal record.
type Engine struct {
	log          ActivityLog
	orchestrator *checkout.Orchestrator
	activities   checkout.Activities
	newID        func() string
	now          func() time.Time
	logger       logr.Logger
}

type Option func(*Engine)

func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

func WithClock(fn func() time.Time) Option {
	return func(e *Engine) { e.now = fn }
}

func NewEngine(log ActivityLog, orchestrator *checkout.Orchestrator, activities checkout.Activities, logger logr.Logger, opts ...Option) *Engine {
	e := &Engine{
		log:          log,
		orchestrator: orchestrator,
		activities:   activities,
		newID:        uuid.NewString,
		now:          time.Now,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start schedules a new workflow for cartID and runs it to a terminal result.
func (e *Engine) Start(ctx context.Context, cartID int64) (Execution, error) {
	return e.start(ctx, cartID, "")
}

func (e *Engine) start(ctx context.Context, cartID int64, digest string) (Execution, error) {
	id := e.newID()
	entry := Entry{WorkflowID: id, CartID: cartID, Event: EventScheduled, Detail: digest}
	if err := e.append(ctx, entry); err != nil {
		return Execution{WorkflowID: id, CartID: cartID}, fmt.Errorf("schedule workflow: %w", err)
	}
	h := newHistory(id)
	h.scheduled = true
	h.CartID = cartID
	h.CartDigest = digest
	return e.run(ctx, h)
}

// Resume rebuilds a workflow from its log and continues it from the first
// step without a terminal record. A completed workflow returns its recorded result.
func (e *Engine) Resume(ctx context.Context, workflowID string) (Execution, error) {
	entries, err := e.log.Load(ctx, workflowID)
	if err != nil {
		return Execution{WorkflowID: workflowID}, fmt.Errorf("load workflow %s: %w", workflowID, err)
	}
	h, err := Replay(workflowID, entries)
	if err != nil {
		return Execution{WorkflowID: workflowID}, err
	}
	return e.run(ctx, h)
}

// CartHost runs fn under the single-writer lock of cartID with the cart's
// current items and clears the cart when fn asks for it.
type CartHost interface {
	Resume(ctx context.Context, cartID int64, fn func(ctx context.Context, items []cart.LineItem) (clearCart bool, err error)) error
}

// Recover resumes every incomplete workflow through host, so no other
// operation on the same cart runs until the workflow is finished.
func (e *Engine) Recover(ctx context.Context, host CartHost) (int, error) {
	ids, err := e.log.Incomplete(ctx)
	if err != nil {
		return 0, fmt.Errorf("list incomplete workflows: %w", err)
	}
	var errs []error
	for _, id := range ids {
		entries, err := e.log.Load(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("load workflow %s: %w", id, err))
			continue
		}
		h, err := Replay(id, entries)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		err = host.Resume(ctx, h.CartID, func(ctx context.Context, items []cart.LineItem) (bool, error) {
			return e.finish(ctx, h, items)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("recover workflow %s for cart %d: %w", id, h.CartID, err))
		}
	}
	return len(ids), errors.Join(errs...)
}

// finish runs a replayed workflow to its end and reports whether the cart
// still holds the items it checked out and must be cleared.
func (e *Engine) finish(ctx context.Context, h *History, items []cart.LineItem) (bool, error) {
	exec, err := e.run(ctx, h)
	if err != nil {
		return false, err
	}
	log := e.logger.WithValues("workflow_id", h.WorkflowID, "cart_id", h.CartID)
	log.Info("workflow recovered", "success", exec.Report.Result.Success)
	if !exec.Report.Committed() {
		return false, nil
	}
	if h.CartDigest != "" && h.CartDigest != cart.Digest(items) {
		// Cleared when the checkout committed; anything there now came later.
		log.Info("cart changed since the workflow committed, keeping it")
		return false, nil
	}
	return true, nil
}

// Checkout lets the engine serve as the entity host's checkout strategy. The
// cart is cleared only after the workflow reports a committed result.
func (e *Engine) Checkout(ctx context.Context, store *cart.Store) checkout.SagaResult {
	if store.IsEmpty() {
		return checkout.EmptyCartReport().Result
	}
	exec, err := e.start(ctx, store.ID(), cart.Digest(store.Snapshot()))
	if err != nil {
		e.logger.Error(err, "checkout workflow", "workflow_id", exec.WorkflowID, "cart_id", store.ID())
		if exec.Report.Final == "" {
			return checkout.UnavailableReport().Result
		}
	}
	if exec.Report.Committed() {
		store.Clear()
	}
	return exec.Report.Result
}

func (e *Engine) run(ctx context.Context, h *History) (Execution, error) {
	exec := Execution{WorkflowID: h.WorkflowID, CartID: h.CartID}
	if _, done := h.Result(); done {
		exec.Report = h.Report()
		return exec, nil
	}

	acts := checkout.Activities{
		Runner:      &loggedRunner{engine: e, history: h},
		Compensator: &loggedCompensator{engine: e, history: h},
	}
	exec.Report = e.orchestrator.Run(ContextWithWorkflowID(ctx, h.WorkflowID), h.CartID, acts)

	result := exec.Report.Result
	detail := result.Message
	if !result.Success {
		detail = result.Error
	}
	err := e.append(ctx, Entry{
		WorkflowID: h.WorkflowID,
		CartID:     h.CartID,
		Event:      EventCompleted,
		Success:    result.Success,
		Detail:     detail,
	})
	if err != nil {
		return exec, fmt.Errorf("complete workflow %s: %w", h.WorkflowID, err)
	}
	return exec, nil
}

type workflowIDKey struct{}

// ContextWithWorkflowID tags ctx so saga observers can tell which workflow a
// transition belongs to.
func ContextWithWorkflowID(ctx context.Context, workflowID string) context.Context {
	return context.WithValue(ctx, workflowIDKey{}, workflowID)
}

func WorkflowIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(workflowIDKey{}).(string)
	return id
}

func (e *Engine) append(ctx context.Context, entry Entry) error {
	entry.At = e.now().UTC()
	return e.log.Append(ctx, entry)
}

type loggedRunner struct {
	engine  *Engine
	history *History
}

func (r *loggedRunner) RunStep(ctx context.Context, cartID int64, step checkout.StepName) checkout.StepOutcome {
	log := r.engine.logger.WithValues("workflow_id", r.history.WorkflowID, "cart_id", cartID, "step", step)
	if outcome, ok := r.history.Outcome(step); ok {
		log.V(1).Info("step replayed from log", "success", outcome.Success)
		return outcome
	}

	base := Entry{WorkflowID: r.history.WorkflowID, CartID: cartID, Step: step}
	started := base
	started.Event = EventStarted
	if err := r.engine.append(ctx, started); err != nil {
		// Running a step that cannot be recorded would make replay unsafe.
		log.Error(err, "record step start")
		return checkout.Failed(step, checkout.FaultTransport, "activity log unavailable: "+err.Error(), 0)
	}

	outcome := r.engine.activities.Runner.RunStep(ctx, cartID, step)

	finished := base
	finished.Attempts = outcome.Attempts
	if outcome.Success {
		finished.Event = EventSucceeded
		finished.Detail = outcome.Message
	} else {
		finished.Event = EventFailed
		finished.Fault = outcome.Fault
		finished.Detail = outcome.Reason
	}
	if err := r.engine.append(ctx, finished); err != nil {
		log.Error(err, "record step result", "success", outcome.Success)
	}
	return outcome
}

type loggedCompensator struct {
	engine  *Engine
	history *History
}

func (c *loggedCompensator) Compensate(ctx context.Context, step checkout.StepName, cartID int64) error {
	if detail, done := c.history.Compensation(step); done {
		if detail != "" {
			return errors.New(detail)
		}
		return nil
	}

	var err error
	if c.engine.activities.Compensator != nil {
		err = c.engine.activities.Compensator.Compensate(ctx, step, cartID)
	}

	entry := Entry{WorkflowID: c.history.WorkflowID, CartID: cartID, Step: step, Event: EventCompensated}
	if err != nil {
		entry.Event = EventCompensationFailed
		entry.Detail = err.Error()
	}
	if appendErr := c.engine.append(ctx, entry); appendErr != nil {
		c.engine.logger.Error(appendErr, "record compensation", "workflow_id", c.history.WorkflowID, "cart_id", cartID)
	}
	return err
}
