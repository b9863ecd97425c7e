package checkoutsdb

import (
	"context"
	"database/sql"
	"fmt"

	"cartsaga/internal/checkout"
	"cartsaga/internal/workflow"
)

const (
	statusRunning   = "running"
	statusCommitted = "committed"
	statusFailed    = "failed"
)

// ActivityLog persists checkout workflows and their entries in Postgres.
type ActivityLog struct {
	db *sql.DB
}

// NewActivityLog constructs an activity log backed by Postgres.
func NewActivityLog(db *sql.DB) *ActivityLog {
	return &ActivityLog{db: db}
}

// NewActivityLogWithSchema initializes the schema then returns the log.
func NewActivityLogWithSchema(ctx context.Context, db *sql.DB) (*ActivityLog, error) {
	log := NewActivityLog(db)
	if err := log.InitSchema(ctx); err != nil {
		return nil, err
	}
	return log, nil
}

// InitSchema creates workflow tables if they do not exist.
func (l *ActivityLog) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS cart_checkouts (
			workflow_id TEXT PRIMARY KEY,
			cart_id BIGINT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS cart_checkout_entries (
			id BIGSERIAL PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			cart_id BIGINT NOT NULL,
			step TEXT NOT NULL DEFAULT '',
			event TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			fault SMALLINT NOT NULL DEFAULT 0,
			success BOOLEAN NOT NULL DEFAULT FALSE,
			detail TEXT NOT NULL DEFAULT '',
			recorded_at TIMESTAMPTZ NOT NULL,
			FOREIGN KEY (workflow_id) REFERENCES cart_checkouts(workflow_id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS cart_checkouts_status_idx ON cart_checkouts (status, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

// Append writes entry and keeps the workflow status row in step with it.
func (l *ActivityLog) Append(ctx context.Context, entry workflow.Entry) (err error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	switch entry.Event {
	case workflow.EventScheduled:
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO cart_checkouts (workflow_id, cart_id, status)
			VALUES ($1, $2, $3)`,
			entry.WorkflowID, entry.CartID, statusRunning,
		); err != nil {
			return fmt.Errorf("schedule workflow %s: %w", entry.WorkflowID, err)
		}
	case workflow.EventCompleted:
		status := statusFailed
		if entry.Success {
			status = statusCommitted
		}
		if _, err = tx.ExecContext(ctx, `
			UPDATE cart_checkouts
			SET status = $2, updated_at = NOW()
			WHERE workflow_id = $1`,
			entry.WorkflowID, status,
		); err != nil {
			return fmt.Errorf("complete workflow %s: %w", entry.WorkflowID, err)
		}
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO cart_checkout_entries (workflow_id, cart_id, step, event, attempts, fault, success, detail, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.WorkflowID, entry.CartID, string(entry.Step), string(entry.Event),
		entry.Attempts, int(entry.Fault), entry.Success, entry.Detail, entry.At.UTC(),
	); err != nil {
		return fmt.Errorf("append %s entry to workflow %s: %w", entry.Event, entry.WorkflowID, err)
	}

	return tx.Commit()
}

// Load returns the entries of workflowID in append order.
func (l *ActivityLog) Load(ctx context.Context, workflowID string) ([]workflow.Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT cart_id, step, event, attempts, fault, success, detail, recorded_at
		FROM cart_checkout_entries
		WHERE workflow_id = $1
		ORDER BY id`,
		workflowID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []workflow.Entry
	for rows.Next() {
		entry := workflow.Entry{WorkflowID: workflowID}
		var step, event string
		var fault int
		if err := rows.Scan(&entry.CartID, &step, &event, &entry.Attempts, &fault, &entry.Success, &entry.Detail, &entry.At); err != nil {
			return nil, err
		}
		entry.Step = checkout.StepName(step)
		entry.Event = workflow.Event(event)
		entry.Fault = checkout.FaultKind(fault)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, workflow.ErrWorkflowNotFound
	}
	return entries, nil
}

// Incomplete lists running workflows, oldest first.
func (l *ActivityLog) Incomplete(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT workflow_id
		FROM cart_checkouts
		WHERE status = $1
		ORDER BY created_at, workflow_id`,
		statusRunning,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
