// Package dispatcher manages worker fan-out over the shared frontier.
package dispatcher

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/marketmap/shopcrawler/internal/metrics"
	"github.com/marketmap/shopcrawler/internal/worker"
)

// Dispatcher runs a pool of workers against one frontier. The frontier
// hands each entry to exactly one worker; the dispatcher only owns
// their lifecycle.
type Dispatcher struct {
	workers []*worker.Worker
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(workers []*worker.Worker, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		workers: workers,
		logger:  logger,
	}
}

// Run starts all workers and blocks until the context finishes and every
// worker has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher starting", zap.Int("workers", len(d.workers)))
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
	d.logger.Info("dispatcher stopped")
}
