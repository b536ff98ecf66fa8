// Integration tests for the job/step HTTP endpoints against a real Postgres
// container. Each test runs in its own container (t.Parallel).
package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cananengin/pg-workflow-queue/internal/api"
	"github.com/cananengin/pg-workflow-queue/internal/testutil"
)

const testLeaseDuration = 5 * time.Minute

// newTestServer builds an httptest server over the full router.
func newTestServer(t *testing.T) (*testutil.TestDB, *httptest.Server) {
	t.Helper()
	db := testutil.NewTestDB(t)
	srv := httptest.NewServer(api.NewRouter(db.Store))
	t.Cleanup(srv.Close)
	return db, srv
}

// doJSON issues a request with a JSON body and decodes the JSON response into out.
func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestCreateAndGetJob(t *testing.T) {
	t.Parallel()
	_, srv := newTestServer(t)

	createReq := map[string]any{
		"steps": []map[string]any{
			{"input": map[string]any{"task": "resize"}},
			{"input": map[string]any{"task": "upload"}, "max_attempts": 5},
		},
	}
	var created api.JobDetail
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/v1/jobs", createReq, &created); code != http.StatusCreated {
		t.Fatalf("create job: status %d", code)
	}
	if created.Status != "running" {
		t.Errorf("job status = %q, want running", created.Status)
	}
	if len(created.Steps) != 2 {
		t.Fatalf("got %d steps, want 2", len(created.Steps))
	}
	if created.Steps[0].Seq != 0 || created.Steps[1].Seq != 1 {
		t.Errorf("step seqs = %d,%d, want 0,1", created.Steps[0].Seq, created.Steps[1].Seq)
	}
	if created.Steps[1].MaxAttempts != 5 {
		t.Errorf("max_attempts = %d, want 5", created.Steps[1].MaxAttempts)
	}

	var fetched api.JobDetail
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/v1/jobs/"+created.ID, nil, &fetched); code != http.StatusOK {
		t.Fatalf("get job: status %d", code)
	}
	if fetched.ID != created.ID || len(fetched.Steps) != 2 {
		t.Errorf("fetched %+v, want created job with 2 steps", fetched)
	}

	var step api.StepResponse
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/v1/jobs/"+created.ID+"/steps/1", nil, &step); code != http.StatusOK {
		t.Fatalf("get step: status %d", code)
	}
	if step.Seq != 1 || step.Status != "pending" {
		t.Errorf("step = %+v, want pending seq 1", step)
	}
}

func TestCreateJobValidation(t *testing.T) {
	t.Parallel()
	_, srv := newTestServer(t)

	// No steps at all.
	code := doJSON(t, http.MethodPost, srv.URL+"/api/v1/jobs",
		map[string]any{"steps": []map[string]any{}}, nil)
	if code != http.StatusUnprocessableEntity {
		t.Errorf("empty steps: status %d, want 422", code)
	}

	// Duplicate explicit seq.
	code = doJSON(t, http.MethodPost, srv.URL+"/api/v1/jobs",
		map[string]any{"steps": []map[string]any{{"seq": 1}, {"seq": 1}}}, nil)
	if code != http.StatusUnprocessableEntity {
		t.Errorf("duplicate seq: status %d, want 422", code)
	}
}

func TestCancelJobStopsClaims(t *testing.T) {
	t.Parallel()
	db, srv := newTestServer(t)

	var created api.JobDetail
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/v1/jobs",
		map[string]any{"steps": []map[string]any{{}}}, &created); code != http.StatusCreated {
		t.Fatalf("create job: status %d", code)
	}

	var cancelled api.JobItem
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/v1/jobs/"+created.ID+"/cancel", nil, &cancelled); code != http.StatusOK {
		t.Fatalf("cancel job: status %d", code)
	}
	if cancelled.Status != "cancelled" {
		t.Errorf("status = %q, want cancelled", cancelled.Status)
	}

	// Cancelling again conflicts.
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/v1/jobs/"+created.ID+"/cancel", nil, nil); code != http.StatusConflict {
		t.Errorf("second cancel: status %d, want 409", code)
	}

	// The cancelled job's steps are no longer claimable.
	st, err := db.ClaimNextStep(t.Context(), "worker-a", testLeaseDuration)
	if err != nil {
		t.Fatalf("ClaimNextStep: %v", err)
	}
	if st != nil {
		t.Fatalf("claimed step of cancelled job: %+v", st)
	}
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()
	_, srv := newTestServer(t)

	code := doJSON(t, http.MethodGet,
		srv.URL+"/api/v1/jobs/00000000-0000-0000-0000-000000000000", nil, nil)
	if code != http.StatusNotFound {
		t.Errorf("status %d, want 404", code)
	}
}
