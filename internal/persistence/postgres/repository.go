package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/smarttracker/internal/domain"
)

const createTable = `CREATE TABLE IF NOT EXISTS activity_documents (
        name TEXT PRIMARY KEY,
        body JSONB NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    )`

// Repository stores the activity collection as one JSONB row in Postgres.
type Repository struct {
	pool *pgxpool.Pool
	name string
}

// NewRepository constructs a Repository over the row identified by name.
func NewRepository(pool *pgxpool.Pool, name string) *Repository {
	return &Repository{pool: pool, name: name}
}

// Initialize creates the table and an empty document row when either is missing.
func (r *Repository) Initialize(ctx context.Context) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, createTable); err != nil {
		return err
	}

	if _, err = tx.Exec(ctx,
		`INSERT INTO activity_documents (name, body) VALUES ($1, '[]'::jsonb) ON CONFLICT (name) DO NOTHING`,
		r.name,
	); err != nil {
		return err
	}

	err = tx.Commit(ctx)
	return err
}

// Load returns the stored collection in its persisted order.
func (r *Repository) Load(ctx context.Context) ([]domain.Activity, error) {
	var body []byte
	err := r.pool.QueryRow(ctx, `SELECT body FROM activity_documents WHERE name=$1`, r.name).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("activity document %q does not exist", r.name)
		}
		return nil, err
	}

	var activities []domain.Activity
	if err := json.Unmarshal(body, &activities); err != nil {
		return nil, fmt.Errorf("decode activity document %q: %w", r.name, err)
	}
	return activities, nil
}

// Save overwrites the document row inside a single statement.
func (r *Repository) Save(ctx context.Context, activities []domain.Activity) error {
	if activities == nil {
		activities = []domain.Activity{}
	}
	body, err := json.Marshal(activities)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE activity_documents SET body=$2, updated_at=NOW() WHERE name=$1`,
		r.name, body,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("activity document %q does not exist", r.name)
	}
	return nil
}
