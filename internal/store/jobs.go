// Store methods for job authoring and inspection. Claiming and completing
// steps live in claim.go.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicateSeq is returned by CreateJob when two steps carry the same
// explicit seq.
var ErrDuplicateSeq = errors.New("duplicate step seq within job")

// NewStep describes one step of a job being created. Seq is optional: when
// nil, steps are numbered 0..n-1 in slice order; explicit values must be
// unique within the job.
type NewStep struct {
	Seq         *int32
	Input       json.RawMessage
	MaxAttempts int32
}

// CreateJob inserts a job in 'running' status together with its steps in one
// transaction and returns the created rows.
func (s *Store) CreateJob(ctx context.Context, steps []NewStep) (*Job, []Step, error) {
	var (
		job     *Job
		created []Step
	)
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		job, err = scanJob(tx.QueryRow(ctx,
			`INSERT INTO jobs DEFAULT VALUES RETURNING id, status, created_at`))
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}

		created = make([]Step, 0, len(steps))
		for i, ns := range steps {
			seq := int32(i) //nolint:gosec // step counts are tiny
			if ns.Seq != nil {
				seq = *ns.Seq
			}
			input := ns.Input
			if len(input) == 0 {
				input = json.RawMessage(`{}`)
			}
			maxAttempts := ns.MaxAttempts
			if maxAttempts < 1 {
				maxAttempts = 3
			}
			st, err := scanStep(tx.QueryRow(ctx,
				`INSERT INTO steps (job_id, seq, input, max_attempts)
				 VALUES ($1, $2, $3, $4)
				 RETURNING `+stepColumns,
				job.ID, seq, input, maxAttempts))
			if err != nil {
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == "23505" {
					return fmt.Errorf("step seq %d: %w", seq, ErrDuplicateSeq)
				}
				return fmt.Errorf("insert step seq %d: %w", seq, err)
			}
			created = append(created, *st)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return job, created, nil
}

// GetJob returns the job with the given id, or (nil, nil) if not found.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT id, status, created_at FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// ListJobs returns jobs ordered by created_at desc, id desc, optionally
// filtered by status.
func (s *Store) ListJobs(ctx context.Context, status *JobStatus, limit, offset int32) ([]Job, error) {
	q := psql.Select("id", "status", "created_at").
		From("jobs").
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit)).   //nolint:gosec // validated by caller
		Offset(uint64(offset)) //nolint:gosec // validated by caller
	if status != nil {
		q = q.Where(sq.Eq{"status": *status})
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list jobs query: %w", err)
	}

	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// CancelJob transitions a running job to cancelled, which stops all further
// claims against its steps. Returns (nil, nil) if the job does not exist or
// is not in a cancellable state. Steps already leased run to completion;
// their Complete still succeeds while the lease holds (cancellation gates
// claiming, not completion).
func (s *Store) CancelJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE jobs SET status = 'cancelled'
		 WHERE id = $1 AND status = 'running'
		 RETURNING id, status, created_at`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cancel job %s: %w", id, err)
	}
	return job, nil
}
