package cartsdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"cartsaga/internal/cart"
)

// PostgresRepository persists one row per cart with its items as JSONB.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository constructs a cart repository backed by Postgres.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// NewPostgresRepositoryWithSchema initializes the schema then returns the repository.
func NewPostgresRepositoryWithSchema(ctx context.Context, db *sql.DB) (*PostgresRepository, error) {
	repo := NewPostgresRepository(db)
	if err := repo.InitSchema(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

// InitSchema creates the carts table if it does not exist.
func (r *PostgresRepository) InitSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS carts (
			cart_id BIGINT PRIMARY KEY,
			items JSONB NOT NULL DEFAULT '[]'::jsonb,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

// Load returns the persisted items of cartID. A cart never saved is empty.
func (r *PostgresRepository) Load(ctx context.Context, cartID int64) ([]cart.LineItem, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT items
		FROM carts
		WHERE cart_id = $1`,
		cartID,
	)

	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []cart.LineItem{}, nil
		}
		return nil, fmt.Errorf("load cart %d: %w", cartID, err)
	}
	return decodeItems(cartID, raw)
}

// Save replaces the items of cartID.
func (r *PostgresRepository) Save(ctx context.Context, cartID int64, items []cart.LineItem) error {
	payload, err := encodeItems(items)
	if err != nil {
		return fmt.Errorf("save cart %d: %w", cartID, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO carts (cart_id, items, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (cart_id) DO UPDATE
		SET items = EXCLUDED.items, updated_at = NOW()`,
		cartID, string(payload),
	)
	if err != nil {
		return fmt.Errorf("save cart %d: %w", cartID, err)
	}
	return nil
}

func encodeItems(items []cart.LineItem) ([]byte, error) {
	if items == nil {
		items = []cart.LineItem{}
	}
	return json.Marshal(items)
}

func decodeItems(cartID int64, raw []byte) ([]cart.LineItem, error) {
	items := []cart.LineItem{}
	if len(raw) == 0 {
		return items, nil
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode cart %d: %w", cartID, err)
	}
	return items, nil
}
