package payload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
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

const payloadCols = `id, bucket_key, correlation_id, state, timeout_seconds,
	files, retry_count, created_at, last_received`

func scanPayload(row pgx.Row) (*Payload, error) {
	var p Payload
	var files []byte
	var timeoutSecs int
	err := row.Scan(&p.ID, &p.Key, &p.CorrelationID, &p.State, &timeoutSecs,
		&files, &p.RetryCount, &p.CreatedAt, &p.LastReceived)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.Timeout = time.Duration(timeoutSecs) * time.Second
	if len(files) > 0 {
		if err := json.Unmarshal(files, &p.Files); err != nil {
			return nil, fmt.Errorf("decode files: %w", err)
		}
	}
	return &p, nil
}

func (r *repoPG) Create(ctx context.Context, p *Payload) error {
	files, err := json.Marshal(p.Files)
	if err != nil {
		return fmt.Errorf("encode files: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO payloads
			(id, bucket_key, correlation_id, state, timeout_seconds, files,
			 retry_count, created_at, last_received)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		p.ID, p.Key, p.CorrelationID, p.State, int(p.Timeout/time.Second),
		files, p.RetryCount, p.CreatedAt, p.LastReceived)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Payload, error) {
	return scanPayload(r.conn(ctx).QueryRow(ctx,
		`SELECT `+payloadCols+` FROM payloads WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, p *Payload) error {
	files, err := json.Marshal(p.Files)
	if err != nil {
		return fmt.Errorf("encode files: %w", err)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE payloads
		SET state = $2, files = $3, retry_count = $4, last_received = $5
		WHERE id = $1`,
		p.ID, p.State, files, p.RetryCount, p.LastReceived)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Payload, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM payloads`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+payloadCols+` FROM payloads ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Payload
	for rows.Next() {
		p, err := scanPayload(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}
