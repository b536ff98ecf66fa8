// Package worker drives the claim/process/complete loop. Each Worker is one
// strictly sequential loop: it holds at most one step at a time and
// coordinates with other workers only through the store's atomic claim and
// complete operations.
//
// Shutdown is observed exactly once per cycle, at the Idle→Claiming decision
// point. A cycle already past that point always runs to completion: the
// handler and the completing store call use a context detached from
// cancellation, so a termination request never strands a claimed step
// mid-flight.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/cananengin/pg-workflow-queue/internal/store"
)

// Queue is the store surface the loop needs. *store.Store satisfies it; unit
// tests substitute an in-memory fake.
type Queue interface {
	ClaimNextStep(ctx context.Context, workerID string, leaseDuration time.Duration) (*store.Step, error)
	CompleteStep(ctx context.Context, stepID uuid.UUID, workerID string, output json.RawMessage) (*store.Step, error)
}

// Handler executes the unit of work described by a claimed step's input and
// returns the output to record on completion. It may take arbitrary real
// time up to the lease duration; past that the step is liable to be
// reclaimed and the eventual Complete will be refused.
type Handler func(ctx context.Context, step *store.Step) (json.RawMessage, error)

// Config carries the loop's tunables. Zero durations fall back to the
// defaults documented on each field; for the two float knobs zero means
// "off" (no jitter, no claim cap), not "use the default".
type Config struct {
	LeaseDuration         time.Duration // default 5m
	BackoffFloor          time.Duration // default 1s
	BackoffCeiling        time.Duration // default 30s
	BackoffJitterFraction float64       // 0 disables jitter
	ClaimsPerSecond       float64       // 0 leaves claims uncapped
}

func (c Config) withDefaults() Config {
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = 5 * time.Minute
	}
	if c.BackoffFloor <= 0 {
		c.BackoffFloor = time.Second
	}
	if c.BackoffCeiling <= 0 {
		c.BackoffCeiling = 30 * time.Second
	}
	if c.BackoffJitterFraction < 0 {
		c.BackoffJitterFraction = 0
	}
	return c
}

// Worker is a single claim/process/complete loop.
type Worker struct {
	id      string
	queue   Queue
	handler Handler
	cfg     Config
	limiter *rate.Limiter // nil when ClaimsPerSecond is 0
}

// New creates a Worker identified by id. The id is what lands in the steps
// table's locked_by column, so it must be unique across all concurrently
// running loops.
func New(id string, q Queue, h Handler, cfg Config) *Worker {
	cfg = cfg.withDefaults()
	w := &Worker{
		id:      id,
		queue:   q,
		handler: h,
		cfg:     cfg,
	}
	if cfg.ClaimsPerSecond > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(cfg.ClaimsPerSecond), 1)
	}
	return w
}

// ID returns the worker's identifier.
func (w *Worker) ID() string { return w.id }

// Run executes the loop until ctx is cancelled. An in-flight
// claim→process→complete cycle always finishes before Run returns; only the
// start of a new cycle is refused after cancellation.
func (w *Worker) Run(ctx context.Context) {
	b := newBackoff(w.cfg.BackoffFloor, w.cfg.BackoffCeiling, w.cfg.BackoffJitterFraction)

	slog.Info("worker started", "worker_id", w.id, "lease", w.cfg.LeaseDuration)
	for {
		// Idle→Claiming: the only shutdown checkpoint.
		if ctx.Err() != nil {
			slog.Info("worker stopping", "worker_id", w.id)
			return
		}

		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				slog.Info("worker stopping", "worker_id", w.id)
				return
			}
		}

		step, err := w.queue.ClaimNextStep(ctx, w.id, w.cfg.LeaseDuration)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("worker stopping", "worker_id", w.id)
				return
			}
			// Transient store failure: same degradation as no-work.
			slog.Error("claim error", "worker_id", w.id, "error", err)
			if !sleepCtx(ctx, b.next()) {
				return
			}
			continue
		}
		if step == nil {
			// No eligible step; normal case.
			if !sleepCtx(ctx, b.next()) {
				return
			}
			continue
		}

		b.reset()
		// Detach from cancellation: work already claimed is always driven to
		// its Complete call, even if shutdown was requested meanwhile.
		w.process(context.WithoutCancel(ctx), step)
	}
}

// process runs the Processing and Completing phases for one claimed step.
func (w *Worker) process(ctx context.Context, step *store.Step) {
	slog.Info("processing step",
		"worker_id", w.id,
		"step_id", step.ID,
		"job_id", step.JobID,
		"seq", step.Seq,
		"attempt", step.Attempt,
	)

	output, err := w.execute(ctx, step)
	if err != nil {
		// Unexpected handler failure: log and move on. The step stays
		// running under our lease; once the lease expires another claim
		// reclaims it with attempt incremented.
		slog.Error("step handler failed",
			"worker_id", w.id, "step_id", step.ID, "error", err)
		return
	}

	done, err := w.queue.CompleteStep(ctx, step.ID, w.id, output)
	if err != nil {
		slog.Error("complete error",
			"worker_id", w.id, "step_id", step.ID, "error", err)
		return
	}
	if done == nil {
		// Ownership was lost (lease expired, reclaimed, or already
		// completed). Not retried, not escalated — the step is no longer
		// ours either way.
		slog.Info("step no longer owned",
			"worker_id", w.id, "step_id", step.ID)
		return
	}
	slog.Info("step completed",
		"worker_id", w.id, "step_id", done.ID, "job_id", done.JobID, "seq", done.Seq)
}

// execute invokes the handler, converting panics into errors so a broken
// handler cannot take the loop down.
func (w *Worker) execute(ctx context.Context, step *store.Step) (output json.RawMessage, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return w.handler(ctx, step)
}

// sleepCtx sleeps for d or until ctx is cancelled; reports whether the full
// sleep elapsed. Uses time.NewTimer (not time.After) to avoid timer leaks.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return false
	case <-timer.C:
		return true
	}
}
