package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medgate/medgate/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const requestCols = `id, transaction_id, state, try_count, last_error, payload_id,
	input_resources, created_at, updated_at`

func scanRequest(row pgx.Row) (*Request, error) {
	var req Request
	var resources []byte
	err := row.Scan(&req.ID, &req.TransactionID, &req.State, &req.TryCount,
		&req.LastError, &req.PayloadID, &resources, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(resources) > 0 {
		if err := json.Unmarshal(resources, &req.InputResources); err != nil {
			return nil, fmt.Errorf("decode input_resources: %w", err)
		}
	}
	return &req, nil
}

func (r *repoPG) Create(ctx context.Context, req *Request) error {
	resources, err := json.Marshal(req.InputResources)
	if err != nil {
		return fmt.Errorf("encode input_resources: %w", err)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO inference_requests
			(id, transaction_id, state, try_count, last_error, payload_id,
			 input_resources, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (transaction_id) DO NOTHING`,
		req.ID, req.TransactionID, req.State, req.TryCount, req.LastError,
		req.PayloadID, resources, req.CreatedAt, req.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (r *repoPG) GetByTransactionID(ctx context.Context, transactionID string) (*Request, error) {
	return scanRequest(r.conn(ctx).QueryRow(ctx,
		`SELECT `+requestCols+` FROM inference_requests WHERE transaction_id = $1`,
		transactionID))
}

func (r *repoPG) Update(ctx context.Context, req *Request) error {
	resources, err := json.Marshal(req.InputResources)
	if err != nil {
		return fmt.Errorf("encode input_resources: %w", err)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE inference_requests
		SET state = $2, try_count = $3, last_error = $4, input_resources = $5,
		    updated_at = $6
		WHERE transaction_id = $1`,
		req.TransactionID, req.State, req.TryCount, req.LastError,
		resources, req.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TakeNextPending claims with SKIP LOCKED so concurrent takers never grab
// the same row.
func (r *repoPG) TakeNextPending(ctx context.Context) (*Request, error) {
	return scanRequest(r.conn(ctx).QueryRow(ctx, `
		UPDATE inference_requests
		SET state = $1, updated_at = now()
		WHERE id = (
			SELECT id FROM inference_requests
			WHERE state = $2
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+requestCols,
		StateInProgress, StatePending))
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Request, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM inference_requests`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+requestCols+` FROM inference_requests ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, req)
	}
	return items, total, rows.Err()
}
