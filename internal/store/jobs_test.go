// Integration tests for job/step authoring and inspection.
// Uses testutil.NewTestDB; each test runs in its own container (t.Parallel).
package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/cananengin/pg-workflow-queue/internal/store"
	"github.com/cananengin/pg-workflow-queue/internal/testutil"
)

func int32p(v int32) *int32 { return &v }

func TestCreateJobAssignsSeqInOrder(t *testing.T) {
	t.Parallel()
	db := testutil.NewTestDB(t)
	ctx := context.Background()

	job, steps, err := db.CreateJob(ctx, []store.NewStep{
		{Input: json.RawMessage(`{"a":1}`)},
		{},
		{MaxAttempts: 5},
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if job.Status != store.JobRunning {
		t.Errorf("job status = %q, want running", job.Status)
	}
	if len(steps) != 3 {
		t.Fatalf("got %d steps, want 3", len(steps))
	}
	for i, st := range steps {
		if st.Seq != int32(i) {
			t.Errorf("step %d seq = %d", i, st.Seq)
		}
		if st.Status != store.StepPending {
			t.Errorf("step %d status = %q, want pending", i, st.Status)
		}
		if st.Attempt != 0 {
			t.Errorf("step %d attempt = %d, want 0", i, st.Attempt)
		}
		if st.LockedBy != nil || st.LeaseExpiresAt != nil {
			t.Errorf("step %d created with a lease", i)
		}
	}
	if steps[1].Input == nil || string(steps[1].Input) != "{}" {
		t.Errorf("empty input not defaulted: %s", steps[1].Input)
	}
	if steps[0].MaxAttempts != 3 {
		t.Errorf("default max_attempts = %d, want 3", steps[0].MaxAttempts)
	}
	if steps[2].MaxAttempts != 5 {
		t.Errorf("explicit max_attempts = %d, want 5", steps[2].MaxAttempts)
	}
}

func TestCreateJobRejectsDuplicateSeq(t *testing.T) {
	t.Parallel()
	db := testutil.NewTestDB(t)
	ctx := context.Background()

	_, _, err := db.CreateJob(ctx, []store.NewStep{
		{Seq: int32p(1)},
		{Seq: int32p(1)},
	})
	if !errors.Is(err, store.ErrDuplicateSeq) {
		t.Fatalf("err = %v, want ErrDuplicateSeq", err)
	}

	// The whole transaction must have rolled back.
	jobs, err := db.ListJobs(ctx, nil, 10, 0)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("found %d jobs after failed create, want 0", len(jobs))
	}
}

func TestCancelJob(t *testing.T) {
	t.Parallel()
	db := testutil.NewTestDB(t)
	ctx := context.Background()

	job, _ := mustCreateJob(t, db, ctx, 1)

	cancelled, err := db.CancelJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if cancelled == nil || cancelled.Status != store.JobCancelled {
		t.Fatalf("got %+v, want cancelled job", cancelled)
	}

	// Cancelling twice is a no-op.
	again, err := db.CancelJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("second CancelJob: %v", err)
	}
	if again != nil {
		t.Fatalf("second cancel mutated the job: %+v", again)
	}
}

func TestListJobsFiltersByStatus(t *testing.T) {
	t.Parallel()
	db := testutil.NewTestDB(t)
	ctx := context.Background()

	jobA, _ := mustCreateJob(t, db, ctx, 1)
	mustCreateJob(t, db, ctx, 1)
	if _, err := db.CancelJob(ctx, jobA.ID); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}

	status := store.JobCancelled
	jobs, err := db.ListJobs(ctx, &status, 10, 0)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != jobA.ID {
		t.Fatalf("got %+v, want only %v", jobs, jobA.ID)
	}

	all, err := db.ListJobs(ctx, nil, 10, 0)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d jobs, want 2", len(all))
	}
}

func TestGetStepBySeq(t *testing.T) {
	t.Parallel()
	db := testutil.NewTestDB(t)
	ctx := context.Background()

	job, steps := mustCreateJob(t, db, ctx, 3)

	st, err := db.GetStepBySeq(ctx, job.ID, 1)
	if err != nil {
		t.Fatalf("GetStepBySeq: %v", err)
	}
	if st == nil || st.ID != steps[1].ID {
		t.Fatalf("got %+v, want step %v", st, steps[1].ID)
	}

	missing, err := db.GetStepBySeq(ctx, job.ID, 99)
	if err != nil {
		t.Fatalf("GetStepBySeq: %v", err)
	}
	if missing != nil {
		t.Fatalf("got %+v for missing seq", missing)
	}
}

func TestListStepsFiltersByStatus(t *testing.T) {
	t.Parallel()
	db := testutil.NewTestDB(t)
	ctx := context.Background()

	job, _ := mustCreateJob(t, db, ctx, 2)
	claimed, err := db.ClaimNextStep(ctx, "worker-a", testLease)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNextStep: %v %v", claimed, err)
	}

	pending := store.StepPending
	steps, err := db.ListSteps(ctx, job.ID, &pending)
	if err != nil {
		t.Fatalf("ListSteps: %v", err)
	}
	if len(steps) != 1 || steps[0].ID == claimed.ID {
		t.Fatalf("pending filter returned %+v", steps)
	}

	all, err := db.ListSteps(ctx, job.ID, nil)
	if err != nil {
		t.Fatalf("ListSteps: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d steps, want 2", len(all))
	}
}
