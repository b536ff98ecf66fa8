package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/cananengin/pg-workflow-queue/internal/store"
)

// registerJobRoutes wires up the job/step endpoints on the huma API.
//
//	POST /jobs                       — create a job with its steps
//	GET  /jobs                       — list jobs (status filter, pagination)
//	GET  /jobs/{job_id}              — job detail with all steps
//	POST /jobs/{job_id}/cancel       — stop further claims against the job
//	GET  /jobs/{job_id}/steps/{seq}  — single step detail
func registerJobRoutes(api huma.API, s *store.Store) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-job",
		Method:        http.MethodPost,
		Path:          "/jobs",
		Summary:       "Create a job",
		Description:   "Creates a running job and its steps in one transaction. Steps become claimable immediately.",
		Tags:          []string{"Jobs"},
		DefaultStatus: http.StatusCreated,
	}, createJobHandler(s))

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "List jobs",
		Tags:        []string{"Jobs"},
	}, listJobsHandler(s))

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}",
		Summary:     "Get job detail",
		Description: "Returns the job row together with all of its steps ordered by seq.",
		Tags:        []string{"Jobs"},
	}, getJobHandler(s))

	huma.Register(api, huma.Operation{
		OperationID: "cancel-job",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/cancel",
		Summary:     "Cancel a job",
		Description: "Sets the job to cancelled, which stops all further step claims. Steps already leased run to completion.",
		Tags:        []string{"Jobs"},
	}, cancelJobHandler(s))

	huma.Register(api, huma.Operation{
		OperationID: "get-step",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}/steps/{seq}",
		Summary:     "Get step detail",
		Tags:        []string{"Jobs"},
	}, getStepHandler(s))
}

// ── Response types ────────────────────────────────────────────────────────────

// StepResponse is the API representation of a steps row.
type StepResponse struct {
	ID             string          `json:"id"`
	JobID          string          `json:"job_id"`
	Seq            int32           `json:"seq"`
	Status         string          `json:"status"`
	Input          json.RawMessage `json:"input"`
	Output         json.RawMessage `json:"output,omitempty"`
	Error          json.RawMessage `json:"error,omitempty"`
	LockedBy       *string         `json:"locked_by,omitempty"`
	LeaseExpiresAt *string         `json:"lease_expires_at,omitempty"` // RFC3339
	Attempt        int32           `json:"attempt"`
	MaxAttempts    int32           `json:"max_attempts"`
	CreatedAt      string          `json:"created_at"` // RFC3339
}

// JobItem is the list-view representation of a job (no steps).
type JobItem struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"` // RFC3339
}

// JobDetail extends JobItem with the job's steps.
type JobDetail struct {
	JobItem
	Steps []StepResponse `json:"steps"`
}

func toJobItem(j *store.Job) JobItem {
	return JobItem{
		ID:        j.ID.String(),
		Status:    string(j.Status),
		CreatedAt: j.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func toStepResponse(st *store.Step) StepResponse {
	resp := StepResponse{
		ID:          st.ID.String(),
		JobID:       st.JobID.String(),
		Seq:         st.Seq,
		Status:      string(st.Status),
		Input:       st.Input,
		Output:      st.Output,
		Error:       st.Error,
		LockedBy:    st.LockedBy,
		Attempt:     st.Attempt,
		MaxAttempts: st.MaxAttempts,
		CreatedAt:   st.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if st.LeaseExpiresAt != nil {
		v := st.LeaseExpiresAt.UTC().Format(time.RFC3339Nano)
		resp.LeaseExpiresAt = &v
	}
	return resp
}

// ── Handlers ──────────────────────────────────────────────────────────────────

type createJobStep struct {
	Seq         *int32          `json:"seq,omitempty" doc:"Explicit position; defaults to slice order"`
	Input       json.RawMessage `json:"input,omitempty" doc:"Opaque step input payload"`
	MaxAttempts int32           `json:"max_attempts,omitempty" minimum:"1" doc:"Claim ceiling; defaults to 3"`
}

type createJobInput struct {
	Body struct {
		Steps []createJobStep `json:"steps" minItems:"1" maxItems:"1000"`
	}
}

type jobDetailOutput struct {
	Body JobDetail
}

func createJobHandler(s *store.Store) func(context.Context, *createJobInput) (*jobDetailOutput, error) {
	return func(ctx context.Context, in *createJobInput) (*jobDetailOutput, error) {
		newSteps := make([]store.NewStep, len(in.Body.Steps))
		for i, st := range in.Body.Steps {
			newSteps[i] = store.NewStep{
				Seq:         st.Seq,
				Input:       st.Input,
				MaxAttempts: st.MaxAttempts,
			}
		}

		job, steps, err := s.CreateJob(ctx, newSteps)
		if err != nil {
			if errors.Is(err, store.ErrDuplicateSeq) {
				return nil, huma.Error422UnprocessableEntity("duplicate step seq")
			}
			return nil, err
		}

		out := &jobDetailOutput{}
		out.Body.JobItem = toJobItem(job)
		out.Body.Steps = make([]StepResponse, len(steps))
		for i := range steps {
			out.Body.Steps[i] = toStepResponse(&steps[i])
		}
		return out, nil
	}
}

type listJobsInput struct {
	Status string `query:"status" enum:"running,completed,failed,cancelled" doc:"Filter by job status"`
	Limit  int32  `query:"limit" minimum:"1" maximum:"200" default:"50"`
	Offset int32  `query:"offset" minimum:"0" default:"0"`
}

type listJobsOutput struct {
	Body struct {
		Jobs []JobItem `json:"jobs"`
	}
}

func listJobsHandler(s *store.Store) func(context.Context, *listJobsInput) (*listJobsOutput, error) {
	return func(ctx context.Context, in *listJobsInput) (*listJobsOutput, error) {
		var status *store.JobStatus
		if in.Status != "" {
			v := store.JobStatus(in.Status)
			status = &v
		}

		jobs, err := s.ListJobs(ctx, status, in.Limit, in.Offset)
		if err != nil {
			return nil, err
		}

		out := &listJobsOutput{}
		out.Body.Jobs = make([]JobItem, len(jobs))
		for i := range jobs {
			out.Body.Jobs[i] = toJobItem(&jobs[i])
		}
		return out, nil
	}
}

type jobIDInput struct {
	JobID string `path:"job_id" format:"uuid"`
}

func getJobHandler(s *store.Store) func(context.Context, *jobIDInput) (*jobDetailOutput, error) {
	return func(ctx context.Context, in *jobIDInput) (*jobDetailOutput, error) {
		id, err := uuid.Parse(in.JobID)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid job id")
		}

		job, err := s.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if job == nil {
			return nil, huma.Error404NotFound("job not found")
		}

		steps, err := s.ListSteps(ctx, id, nil)
		if err != nil {
			return nil, err
		}

		out := &jobDetailOutput{}
		out.Body.JobItem = toJobItem(job)
		out.Body.Steps = make([]StepResponse, len(steps))
		for i := range steps {
			out.Body.Steps[i] = toStepResponse(&steps[i])
		}
		return out, nil
	}
}

type jobItemOutput struct {
	Body JobItem
}

func cancelJobHandler(s *store.Store) func(context.Context, *jobIDInput) (*jobItemOutput, error) {
	return func(ctx context.Context, in *jobIDInput) (*jobItemOutput, error) {
		id, err := uuid.Parse(in.JobID)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid job id")
		}

		job, err := s.CancelJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if job == nil {
			return nil, huma.Error409Conflict("job not found or not cancellable")
		}
		return &jobItemOutput{Body: toJobItem(job)}, nil
	}
}

type stepSeqInput struct {
	JobID string `path:"job_id" format:"uuid"`
	Seq   int32  `path:"seq" minimum:"0"`
}

type stepOutput struct {
	Body StepResponse
}

func getStepHandler(s *store.Store) func(context.Context, *stepSeqInput) (*stepOutput, error) {
	return func(ctx context.Context, in *stepSeqInput) (*stepOutput, error) {
		id, err := uuid.Parse(in.JobID)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid job id")
		}

		st, err := s.GetStepBySeq(ctx, id, in.Seq)
		if err != nil {
			return nil, err
		}
		if st == nil {
			return nil, huma.Error404NotFound("step not found")
		}
		return &stepOutput{Body: toStepResponse(st)}, nil
	}
}
