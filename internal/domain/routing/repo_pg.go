package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

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

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// ---------------------------------------------------------------------------
// HL7 application configs
// ---------------------------------------------------------------------------

type configRepoPG struct{ pool *pgxpool.Pool }

func NewConfigRepoPG(pool *pgxpool.Pool) ConfigRepository {
	return &configRepoPG{pool: pool}
}

const configCols = `id, name, sending_id_field, sending_id_value,
	data_link_field, data_link_type, data_mappings, created_at, updated_at`

func scanConfig(row pgx.Row) (*HL7Config, error) {
	var c HL7Config
	var mappings []byte
	err := row.Scan(&c.ID, &c.Name, &c.SendingIDField, &c.SendingIDValue,
		&c.DataLinkField, &c.DataLinkType, &mappings, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(mappings) > 0 {
		if err := json.Unmarshal(mappings, &c.DataMappings); err != nil {
			return nil, fmt.Errorf("decode data_mappings: %w", err)
		}
	}
	return &c, nil
}

func (r *configRepoPG) Create(ctx context.Context, c *HL7Config) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	mappings, err := json.Marshal(c.DataMappings)
	if err != nil {
		return fmt.Errorf("encode data_mappings: %w", err)
	}
	_, err = conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO hl7_application_configs
			(id, name, sending_id_field, sending_id_value, data_link_field, data_link_type, data_mappings)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		c.ID, c.Name, c.SendingIDField, c.SendingIDValue, c.DataLinkField, c.DataLinkType, mappings)
	return err
}

func (r *configRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*HL7Config, error) {
	return scanConfig(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+configCols+` FROM hl7_application_configs WHERE id = $1`, id))
}

func (r *configRepoPG) GetAll(ctx context.Context) ([]*HL7Config, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT `+configCols+` FROM hl7_application_configs ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*HL7Config
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *configRepoPG) List(ctx context.Context, limit, offset int) ([]*HL7Config, int, error) {
	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM hl7_application_configs`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT `+configCols+` FROM hl7_application_configs ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*HL7Config
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

func (r *configRepoPG) Update(ctx context.Context, c *HL7Config) error {
	mappings, err := json.Marshal(c.DataMappings)
	if err != nil {
		return fmt.Errorf("encode data_mappings: %w", err)
	}
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE hl7_application_configs
		SET name=$2, sending_id_field=$3, sending_id_value=$4,
			data_link_field=$5, data_link_type=$6, data_mappings=$7, updated_at=NOW()
		WHERE id = $1`,
		c.ID, c.Name, c.SendingIDField, c.SendingIDValue, c.DataLinkField, c.DataLinkType, mappings)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *configRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := conn(ctx, r.pool).Exec(ctx,
		`DELETE FROM hl7_application_configs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Source applications
// ---------------------------------------------------------------------------

type sourceRepoPG struct{ pool *pgxpool.Pool }

func NewSourceRepoPG(pool *pgxpool.Pool) SourceRepository {
	return &sourceRepoPG{pool: pool}
}

const sourceCols = `id, name, ae_title, host_ip, created_at`

func scanSource(row pgx.Row) (*SourceApplication, error) {
	var a SourceApplication
	err := row.Scan(&a.ID, &a.Name, &a.AETitle, &a.HostIP, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *sourceRepoPG) Create(ctx context.Context, a *SourceApplication) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO source_applications (id, name, ae_title, host_ip)
		VALUES ($1,$2,$3,$4)`,
		a.ID, a.Name, a.AETitle, a.HostIP)
	return err
}

func (r *sourceRepoPG) GetByAETitle(ctx context.Context, aeTitle string) (*SourceApplication, error) {
	return scanSource(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+sourceCols+` FROM source_applications WHERE ae_title = $1`, aeTitle))
}

func (r *sourceRepoPG) List(ctx context.Context, limit, offset int) ([]*SourceApplication, int, error) {
	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM source_applications`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT `+sourceCols+` FROM source_applications ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*SourceApplication
	for rows.Next() {
		a, err := scanSource(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *sourceRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := conn(ctx, r.pool).Exec(ctx,
		`DELETE FROM source_applications WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Destination applications
// ---------------------------------------------------------------------------

type destinationRepoPG struct{ pool *pgxpool.Pool }

func NewDestinationRepoPG(pool *pgxpool.Pool) DestinationRepository {
	return &destinationRepoPG{pool: pool}
}

const destinationCols = `id, name, ae_title, host_ip, port, created_at`

func scanDestination(row pgx.Row) (*DestinationApplication, error) {
	var a DestinationApplication
	err := row.Scan(&a.ID, &a.Name, &a.AETitle, &a.HostIP, &a.Port, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *destinationRepoPG) Create(ctx context.Context, a *DestinationApplication) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO destination_applications (id, name, ae_title, host_ip, port)
		VALUES ($1,$2,$3,$4,$5)`,
		a.ID, a.Name, a.AETitle, a.HostIP, a.Port)
	return err
}

func (r *destinationRepoPG) GetByAETitle(ctx context.Context, aeTitle string) (*DestinationApplication, error) {
	return scanDestination(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+destinationCols+` FROM destination_applications WHERE ae_title = $1`, aeTitle))
}

func (r *destinationRepoPG) List(ctx context.Context, limit, offset int) ([]*DestinationApplication, int, error) {
	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM destination_applications`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT `+destinationCols+` FROM destination_applications ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*DestinationApplication
	for rows.Next() {
		a, err := scanDestination(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *destinationRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := conn(ctx, r.pool).Exec(ctx,
		`DELETE FROM destination_applications WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
