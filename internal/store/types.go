package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// JobStatus is the lifecycle state of a job. Steps are only claimable while
// their parent job is JobRunning.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// StepStatus is the lifecycle state of a step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepCancelled StepStatus = "cancelled"
)

// Job is a workflow: a group of steps executed by competing workers.
type Job struct {
	ID        uuid.UUID
	Status    JobStatus
	CreatedAt time.Time
}

// Step is one unit of work. LockedBy and LeaseExpiresAt are both set while
// a lease is held and both nil otherwise; a running step whose lease has
// expired keeps its stale lease fields until the next claim overwrites them.
type Step struct {
	ID             uuid.UUID
	JobID          uuid.UUID
	Seq            int32
	Status         StepStatus
	Input          json.RawMessage
	Output         json.RawMessage
	Error          json.RawMessage
	LockedBy       *string
	LeaseExpiresAt *time.Time
	Attempt        int32
	MaxAttempts    int32
	CreatedAt      time.Time
}

// stepColumns is the canonical column list scanned by scanStep. Every query
// returning step rows must select exactly these columns in this order.
const stepColumns = `id, job_id, seq, status, input, output, error,
	locked_by, lease_expires_at, attempt, max_attempts, created_at`

// scanStep scans one step row in stepColumns order.
func scanStep(row pgx.Row) (*Step, error) {
	var st Step
	err := row.Scan(
		&st.ID,
		&st.JobID,
		&st.Seq,
		&st.Status,
		&st.Input,
		&st.Output,
		&st.Error,
		&st.LockedBy,
		&st.LeaseExpiresAt,
		&st.Attempt,
		&st.MaxAttempts,
		&st.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// scanJob scans one job row (id, status, created_at).
func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	if err := row.Scan(&j.ID, &j.Status, &j.CreatedAt); err != nil {
		return nil, err
	}
	return &j, nil
}
