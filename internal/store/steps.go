// Store methods for step inspection.
package store

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// GetStep returns the step with the given id, or (nil, nil) if not found.
func (s *Store) GetStep(ctx context.Context, id uuid.UUID) (*Step, error) {
	st, err := scanStep(s.pool.QueryRow(ctx,
		`SELECT `+stepColumns+` FROM steps WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get step %s: %w", id, err)
	}
	return st, nil
}

// GetStepBySeq returns the step at seq within jobID, or (nil, nil) if not found.
func (s *Store) GetStepBySeq(ctx context.Context, jobID uuid.UUID, seq int32) (*Step, error) {
	st, err := scanStep(s.pool.QueryRow(ctx,
		`SELECT `+stepColumns+` FROM steps WHERE job_id = $1 AND seq = $2`,
		jobID, seq))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get step %s/%d: %w", jobID, seq, err)
	}
	return st, nil
}

// ListSteps returns all steps of jobID ordered by seq, optionally filtered
// by status.
func (s *Store) ListSteps(ctx context.Context, jobID uuid.UUID, status *StepStatus) ([]Step, error) {
	q := psql.Select("id", "job_id", "seq", "status", "input", "output",
		"error", "locked_by", "lease_expires_at", "attempt", "max_attempts",
		"created_at").
		From("steps").
		Where(sq.Eq{"job_id": jobID}).
		OrderBy("seq")
	if status != nil {
		q = q.Where(sq.Eq{"status": *status})
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list steps query: %w", err)
	}

	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		steps = append(steps, *st)
	}
	return steps, rows.Err()
}
