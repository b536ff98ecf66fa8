package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Pool runs a set of Workers against the same queue. Worker IDs are derived
// from a per-process random base (<base>-0 … <base>-N-1) so concurrent
// processes never collide in the locked_by column.
type Pool struct {
	queue   Queue
	handler Handler
	cfg     Config
	baseID  string
	count   int
}

// NewPool creates a Pool of count workers sharing handler and cfg. A random
// base ID is generated at construction time to distinguish this process.
func NewPool(q Queue, h Handler, count int, cfg Config) *Pool {
	if count < 1 {
		count = 1
	}
	return &Pool{
		queue:   q,
		handler: h,
		cfg:     cfg,
		baseID:  uuid.New().String(),
		count:   count,
	}
}

// BaseID returns the process-level worker ID prefix.
func (p *Pool) BaseID() string { return p.baseID }

// Start launches all workers and blocks until ctx is cancelled and every
// worker has drained its in-flight cycle.
func (p *Pool) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.count; i++ {
		w := New(fmt.Sprintf("%s-%d", p.baseID, i), p.queue, p.handler, p.cfg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}
	wg.Wait()
	slog.Info("worker pool stopped", "base_id", p.baseID, "workers", p.count)
}
