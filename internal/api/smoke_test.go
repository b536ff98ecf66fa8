package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cananengin/pg-workflow-queue/internal/api"
)

// TestHealthzDegradedWithoutDB exercises the router with no store wired:
// /healthz must report degraded and /metrics must still serve.
func TestHealthzDegradedWithoutDB(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(api.NewRouter(nil))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("healthz status = %d, want 503", resp.StatusCode)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode healthz body: %v", err)
	}
	if body.Status != "degraded" {
		t.Errorf("healthz status field = %q, want degraded", body.Status)
	}

	metrics, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer metrics.Body.Close() //nolint:errcheck
	if metrics.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d, want 200", metrics.StatusCode)
	}

	// Job routes are not registered without a store: 404, never a 500 from
	// a nil dereference caught by the recoverer.
	jobs, err := http.Get(srv.URL + "/api/v1/jobs")
	if err != nil {
		t.Fatalf("GET /api/v1/jobs: %v", err)
	}
	defer jobs.Body.Close() //nolint:errcheck
	if jobs.StatusCode != http.StatusNotFound {
		t.Errorf("jobs status = %d, want 404", jobs.StatusCode)
	}
}

// TestHealthzOK runs against a real database container.
func TestHealthzOK(t *testing.T) {
	t.Parallel()
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", resp.StatusCode)
	}
}
