// Store methods for the claim/complete protocol. Both operations are single
// atomic statements: concurrent workers coordinate only through row locks,
// and "nothing to do" / "validation failed" are (nil, nil) returns, never
// errors.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// claimNextStepSQL selects the single best eligible step and takes its lease
// in one statement. Eligible: parent job running, attempts not exhausted,
// and the step is either pending or running with an expired lease (the lazy
// reclaim path — expiry never actively revokes anything).
//
// FOR UPDATE OF s SKIP LOCKED is load-bearing: a candidate row locked by a
// concurrent in-flight claim is skipped, not waited on, so two callers can
// never both win the same step and neither blocks on the other. Ordering is
// fully deterministic down to the id tiebreak.
const claimNextStepSQL = `
WITH candidate AS (
    SELECT s.id
    FROM steps s
    JOIN jobs j ON j.id = s.job_id
    WHERE j.status = 'running'
      AND s.attempt < s.max_attempts
      AND (s.status = 'pending'
           OR (s.status = 'running' AND s.lease_expires_at < now()))
    ORDER BY s.created_at, s.job_id, s.seq, s.id
    LIMIT 1
    FOR UPDATE OF s SKIP LOCKED
)
UPDATE steps
SET status           = 'running',
    locked_by        = $1,
    lease_expires_at = now() + ($2 * interval '1 second'),
    attempt          = attempt + 1
FROM candidate
WHERE steps.id = candidate.id
RETURNING steps.id, steps.job_id, steps.seq, steps.status, steps.input,
    steps.output, steps.error, steps.locked_by, steps.lease_expires_at,
    steps.attempt, steps.max_attempts, steps.created_at`

// ClaimNextStep atomically claims the best eligible step for workerID with a
// lease of leaseDuration. Returns (nil, nil) when no step is currently
// claimable — a normal condition, not an error.
func (s *Store) ClaimNextStep(ctx context.Context, workerID string, leaseDuration time.Duration) (*Step, error) {
	row := s.pool.QueryRow(ctx, claimNextStepSQL, workerID, leaseDuration.Seconds())
	st, err := scanStep(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next step: %w", err)
	}
	return st, nil
}

// completeStepSQL transitions a step to completed iff the caller still
// legitimately owns it: running, locked by this worker, lease unexpired at
// the instant of the update. The guard runs inside the UPDATE itself so a
// stale read can never produce a stale completion.
const completeStepSQL = `
UPDATE steps
SET status           = 'completed',
    output           = $3,
    locked_by        = NULL,
    lease_expires_at = NULL
WHERE id = $1
  AND status = 'running'
  AND locked_by = $2
  AND lease_expires_at > now()
RETURNING ` + stepColumns

// CompleteStep marks a step completed and records its output, provided
// workerID still holds an unexpired lease on it. Returns (nil, nil) when
// validation fails for any reason — wrong worker, expired lease, already
// reclaimed or completed. The caller cannot tell which predicate failed and
// must not need to: ownership is gone either way, and the only correct
// reaction is to abandon the step.
// Output travels as json.RawMessage so pgx binds it with its JSON codec
// under both query protocols; a plain []byte would be sent as bytea.
func (s *Store) CompleteStep(ctx context.Context, stepID uuid.UUID, workerID string, output json.RawMessage) (*Step, error) {
	row := s.pool.QueryRow(ctx, completeStepSQL, stepID, workerID, output)
	st, err := scanStep(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("complete step %s: %w", stepID, err)
	}
	return st, nil
}
