package remoteapp

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

const executionCols = `id, request_time, workflow_instance_id, export_task_id, correlation_id,
	patient_id, study_instance_uid, series_instance_uid, sop_instance_uid, original_values`

func scanExecution(row pgx.Row) (*Execution, error) {
	var e Execution
	var originals []byte
	err := row.Scan(&e.ID, &e.RequestTime, &e.WorkflowInstanceID, &e.ExportTaskID, &e.CorrelationID,
		&e.PatientID, &e.StudyInstanceUID, &e.SeriesInstanceUID, &e.SopInstanceUID, &originals)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(originals) > 0 {
		if err := json.Unmarshal(originals, &e.OriginalValues); err != nil {
			return nil, fmt.Errorf("decode original_values: %w", err)
		}
	}
	return &e, nil
}

func (r *repoPG) Add(ctx context.Context, e *Execution) error {
	originals, err := json.Marshal(e.OriginalValues)
	if err != nil {
		return fmt.Errorf("encode original_values: %w", err)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO remote_app_executions
			(id, request_time, workflow_instance_id, export_task_id, correlation_id,
			 patient_id, study_instance_uid, series_instance_uid, sop_instance_uid, original_values)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, e.RequestTime, e.WorkflowInstanceID, e.ExportTaskID, e.CorrelationID,
		e.PatientID, e.StudyInstanceUID, e.SeriesInstanceUID, e.SopInstanceUID, originals)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (r *repoPG) GetBySopInstanceUID(ctx context.Context, sopUID string) (*Execution, error) {
	return scanExecution(r.conn(ctx).QueryRow(ctx,
		`SELECT `+executionCols+` FROM remote_app_executions WHERE sop_instance_uid = $1
		 ORDER BY request_time DESC LIMIT 1`, sopUID))
}

func (r *repoPG) GetByPatientID(ctx context.Context, patientID string) (*Execution, error) {
	return scanExecution(r.conn(ctx).QueryRow(ctx,
		`SELECT `+executionCols+` FROM remote_app_executions WHERE patient_id = $1
		 ORDER BY request_time DESC LIMIT 1`, patientID))
}

func (r *repoPG) GetByStudyInstanceUID(ctx context.Context, studyUID string) (*Execution, error) {
	return scanExecution(r.conn(ctx).QueryRow(ctx,
		`SELECT `+executionCols+` FROM remote_app_executions WHERE study_instance_uid = $1
		 ORDER BY request_time DESC LIMIT 1`, studyUID))
}

func (r *repoPG) GetByComposite(ctx context.Context, workflowInstanceID, exportTaskID, studyUID, seriesUID string) (*Execution, error) {
	if seriesUID != "" {
		e, err := scanExecution(r.conn(ctx).QueryRow(ctx, `
			SELECT `+executionCols+` FROM remote_app_executions
			WHERE workflow_instance_id = $1 AND export_task_id = $2
			  AND study_instance_uid = $3 AND series_instance_uid = $4
			ORDER BY request_time DESC LIMIT 1`,
			workflowInstanceID, exportTaskID, studyUID, seriesUID))
		if err == nil {
			return e, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	return scanExecution(r.conn(ctx).QueryRow(ctx, `
		SELECT `+executionCols+` FROM remote_app_executions
		WHERE workflow_instance_id = $1 AND export_task_id = $2 AND study_instance_uid = $3
		ORDER BY request_time DESC LIMIT 1`,
		workflowInstanceID, exportTaskID, studyUID))
}

func (r *repoPG) Remove(ctx context.Context, id uuid.UUID) (*Execution, error) {
	return scanExecution(r.conn(ctx).QueryRow(ctx,
		`DELETE FROM remote_app_executions WHERE id = $1 RETURNING `+executionCols, id))
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Execution, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM remote_app_executions`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+executionCols+` FROM remote_app_executions ORDER BY request_time DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}
