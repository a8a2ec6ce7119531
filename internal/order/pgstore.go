package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PGStore is the Postgres-backed order store. Schema lives in schema.sql.
type PGStore struct {
	Pool *pgxpool.Pool
}

// NewPGStore constructs a store over the provided pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{Pool: pool}
}

// Get loads a single order by id.
func (s *PGStore) Get(ctx context.Context, id int64) (Order, error) {
	const q = `SELECT id, status, total::text, currency,
		billing_first_name, billing_last_name, billing_email,
		billing_country, billing_state, billing_city, billing_postcode
	FROM orders WHERE id = $1`

	var (
		o     Order
		total string
	)
	err := s.Pool.QueryRow(ctx, q, id).Scan(
		&o.ID, &o.Status, &total, &o.Currency,
		&o.Billing.FirstName, &o.Billing.LastName, &o.Billing.Email,
		&o.Billing.Country, &o.Billing.State, &o.Billing.City, &o.Billing.Postcode,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("get order %d: %w", id, err)
	}
	o.Total, err = decimal.NewFromString(strings.TrimSpace(total))
	if err != nil {
		return Order{}, fmt.Errorf("order %d has unparseable total %q: %w", id, total, err)
	}
	o.Currency = strings.ToUpper(strings.TrimSpace(o.Currency))
	return o, nil
}

// MarkPaid transitions the order to completed. Calling it on an order that is
// already completed is a success and records nothing, so webhook redeliveries
// are harmless.
func (s *PGStore) MarkPaid(ctx context.Context, id int64, note string) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = now() WHERE id = $1 AND status <> $2`,
		id, StatusCompleted)
	if err != nil {
		return fmt.Errorf("mark order %d paid: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Either the order does not exist or it is already completed.
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return tx.Commit(ctx)
	}
	if err := appendNote(ctx, tx, id, note); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SetStatus moves the order to the given status and records a note.
func (s *PGStore) SetStatus(ctx context.Context, id int64, status Status, note string) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("set order %d status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if err := appendNote(ctx, tx, id, note); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// AttachMetadata merges a key/value pair into the order's metadata document.
func (s *PGStore) AttachMetadata(ctx context.Context, id int64, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode metadata %q: %w", key, err)
	}
	tag, err := s.Pool.Exec(ctx,
		`UPDATE orders SET metadata = coalesce(metadata, '{}'::jsonb) || jsonb_build_object($2::text, $3::jsonb), updated_at = now() WHERE id = $1`,
		id, key, encoded)
	if err != nil {
		return fmt.Errorf("attach metadata to order %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func appendNote(ctx context.Context, tx pgx.Tx, id int64, note string) error {
	if strings.TrimSpace(note) == "" {
		return nil
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO order_notes (order_id, note) VALUES ($1, $2)`,
		id, note)
	if err != nil {
		return fmt.Errorf("append note to order %d: %w", id, err)
	}
	return nil
}
