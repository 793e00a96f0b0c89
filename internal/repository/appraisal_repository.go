package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stwalsh4118/peritaje/internal/database"
	"github.com/stwalsh4118/peritaje/internal/models"
)

// TimedOutMessage is stored on records that passed their deadline while pending.
const TimedOutMessage = "El análisis no respondió a tiempo"

// AppraisalRepository defines the data access operations for appraisals.
type AppraisalRepository interface {
	// CreatePending inserts a new record in the pending state.
	CreatePending(ctx context.Context, rec *models.AppraisalRecord) error

	// UpsertResult writes a workflow result, creating the row if the
	// pending insert never happened. Existing owner columns are kept.
	UpsertResult(ctx context.Context, in models.ResultUpsert) (*models.AppraisalRecord, error)

	// GetByID returns nil, nil when no record exists.
	GetByID(ctx context.Context, id string) (*models.AppraisalRecord, error)

	// GetStatus returns nil, nil when no record exists.
	GetStatus(ctx context.Context, id string) (*models.StatusSnapshot, error)

	// ListByOwner returns the identity's records, newest first.
	ListByOwner(ctx context.Context, owner models.Identity, limit int) ([]models.AppraisalRecord, error)

	// AssociateUser backfills user_id on every unowned record of an
	// anonymous session and returns the number of rows updated.
	AssociateUser(ctx context.Context, anonymousSessionID, userID string) (int64, error)

	// SaveResult stores result data and marks the record completed.
	// Returns nil, nil when no record exists.
	SaveResult(ctx context.Context, id string, result []byte) (*models.AppraisalRecord, error)

	// MarkTimedOut moves one overdue pending record to timed_out.
	// Returns false when the record is not pending or not overdue.
	MarkTimedOut(ctx context.Context, id string) (bool, error)

	// ExpireOverdue moves every overdue pending record to timed_out and
	// returns their ids.
	ExpireOverdue(ctx context.Context) ([]string, error)
}

// appraisalRepository is the pgx implementation of AppraisalRepository.
type appraisalRepository struct {
	db *database.Database
}

// NewAppraisalRepository creates a new instance of AppraisalRepository.
func NewAppraisalRepository(db *database.Database) AppraisalRepository {
	return &appraisalRepository{
		db: db,
	}
}

const recordColumns = `
	id,
	user_id,
	anonymous_session_id,
	initial_data,
	result_data,
	status,
	error_message,
	deadline_at,
	created_at,
	updated_at`

func scanRecord(row pgx.Row) (*models.AppraisalRecord, error) {
	var rec models.AppraisalRecord
	var initial, result []byte
	var status string

	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.AnonymousSessionID,
		&initial,
		&result,
		&status,
		&rec.ErrorMessage,
		&rec.DeadlineAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.InitialData = initial
	rec.ResultData = result
	rec.Status = models.AppraisalStatus(status)
	return &rec, nil
}

// CreatePending inserts the record as pending. CreatedAt and UpdatedAt are
// filled from the database.
func (r *appraisalRepository) CreatePending(ctx context.Context, rec *models.AppraisalRecord) error {
	query := `
		INSERT INTO appraisals (id, user_id, anonymous_session_id, initial_data, status, deadline_at)
		VALUES ($1, $2, $3, $4, 'pending', $5)
		RETURNING created_at, updated_at
	`

	initial := []byte(rec.InitialData)
	if len(initial) == 0 {
		initial = []byte("{}")
	}

	err := r.db.Pool.QueryRow(ctx, query,
		rec.ID,
		rec.UserID,
		rec.AnonymousSessionID,
		initial,
		rec.DeadlineAt,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert pending appraisal %s: %w", rec.ID, err)
	}

	rec.Status = models.StatusPending
	return nil
}

// UpsertResult inserts or updates the result columns of an appraisal.
func (r *appraisalRepository) UpsertResult(ctx context.Context, in models.ResultUpsert) (*models.AppraisalRecord, error) {
	query := `
		INSERT INTO appraisals (id, user_id, anonymous_session_id, result_data, status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			result_data          = EXCLUDED.result_data,
			status               = EXCLUDED.status,
			error_message        = EXCLUDED.error_message,
			user_id              = COALESCE(appraisals.user_id, EXCLUDED.user_id),
			anonymous_session_id = COALESCE(appraisals.anonymous_session_id, EXCLUDED.anonymous_session_id),
			updated_at           = now()
		RETURNING` + recordColumns

	var result []byte
	if len(in.ResultData) > 0 {
		result = []byte(in.ResultData)
	}

	rec, err := scanRecord(r.db.Pool.QueryRow(ctx, query,
		in.ID,
		in.UserID,
		in.AnonymousSessionID,
		result,
		string(in.Status),
		in.ErrorMessage,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert appraisal result %s: %w", in.ID, err)
	}
	return rec, nil
}

// GetByID loads a full record.
func (r *appraisalRepository) GetByID(ctx context.Context, id string) (*models.AppraisalRecord, error) {
	query := `SELECT` + recordColumns + ` FROM appraisals WHERE id = $1`

	rec, err := scanRecord(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query appraisal %s: %w", id, err)
	}
	return rec, nil
}

// GetStatus loads only the status columns.
func (r *appraisalRepository) GetStatus(ctx context.Context, id string) (*models.StatusSnapshot, error) {
	query := `SELECT id, status, deadline_at, updated_at FROM appraisals WHERE id = $1`

	var snap models.StatusSnapshot
	var status string
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(&snap.ID, &status, &snap.DeadlineAt, &snap.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query appraisal status %s: %w", id, err)
	}
	snap.Status = models.AppraisalStatus(status)
	return &snap, nil
}

// ListByOwner matches on user id or anonymous session id, whichever the identity carries.
func (r *appraisalRepository) ListByOwner(ctx context.Context, owner models.Identity, limit int) ([]models.AppraisalRecord, error) {
	query := `SELECT` + recordColumns + `
		FROM appraisals
		WHERE ($1 <> '' AND user_id = $1)
		   OR ($2 <> '' AND anonymous_session_id = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`

	rows, err := r.db.Pool.Query(ctx, query, owner.UserID, owner.AnonymousSessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list appraisals: %w", err)
	}
	defer rows.Close()

	results := []models.AppraisalRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan appraisal row: %w", err)
		}
		results = append(results, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating appraisal rows: %w", err)
	}
	return results, nil
}

// AssociateUser links an anonymous session's records to a registered user.
func (r *appraisalRepository) AssociateUser(ctx context.Context, anonymousSessionID, userID string) (int64, error) {
	query := `
		UPDATE appraisals
		SET user_id = $2, updated_at = now()
		WHERE anonymous_session_id = $1 AND user_id IS NULL
	`

	tag, err := r.db.Pool.Exec(ctx, query, anonymousSessionID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to associate appraisals of session %s: %w", anonymousSessionID, err)
	}
	return tag.RowsAffected(), nil
}

// SaveResult completes a record with client-provided result data.
func (r *appraisalRepository) SaveResult(ctx context.Context, id string, result []byte) (*models.AppraisalRecord, error) {
	query := `
		UPDATE appraisals
		SET result_data = $2, status = 'completed', error_message = NULL, updated_at = now()
		WHERE id = $1
		RETURNING` + recordColumns

	rec, err := scanRecord(r.db.Pool.QueryRow(ctx, query, id, result))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to save result for appraisal %s: %w", id, err)
	}
	return rec, nil
}

// MarkTimedOut is conditional so a result arriving concurrently wins.
func (r *appraisalRepository) MarkTimedOut(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE appraisals
		SET status = 'timed_out', error_message = $2, updated_at = now()
		WHERE id = $1
		  AND status = 'pending'
		  AND deadline_at IS NOT NULL
		  AND deadline_at <= now()
	`

	tag, err := r.db.Pool.Exec(ctx, query, id, TimedOutMessage)
	if err != nil {
		return false, fmt.Errorf("failed to mark appraisal %s timed out: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ExpireOverdue sweeps every overdue pending record.
func (r *appraisalRepository) ExpireOverdue(ctx context.Context) ([]string, error) {
	query := `
		UPDATE appraisals
		SET status = 'timed_out', error_message = $1, updated_at = now()
		WHERE status = 'pending'
		  AND deadline_at IS NOT NULL
		  AND deadline_at <= now()
		RETURNING id
	`

	rows, err := r.db.Pool.Query(ctx, query, TimedOutMessage)
	if err != nil {
		return nil, fmt.Errorf("failed to expire overdue appraisals: %w", err)
	}
	defer rows.Close()

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to collect expired appraisal ids: %w", err)
	}
	return ids, nil
}
