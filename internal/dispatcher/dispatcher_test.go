// Package dispatcher contains tests for worker coordination.
package dispatcher

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/marketmap/shopcrawler/internal/clock/system"
	"github.com/marketmap/shopcrawler/internal/crawler"
	"github.com/marketmap/shopcrawler/internal/worker"
)

// TestDispatcherRunStartsWorkers ensures workers begin polling and stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	frontier := &idleFrontier{started: make(chan struct{}, 1)}
	w := worker.New(
		frontier,
		nil,
		nil,
		nil,
		nil,
		nil,
		nil,
		nil,
		system.New(),
		worker.Config{PollInterval: time.Millisecond},
		zap.NewNop(),
	)
	dispatch := New([]*worker.Worker{w}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-frontier.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin polling the frontier")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

// idleFrontier never has work; it signals the first dequeue attempt.
type idleFrontier struct {
	started chan struct{}
}

func (f *idleFrontier) RegisterJob(string, int) {}

func (f *idleFrontier) Enqueue(context.Context, string, string, int) (bool, error) {
	return false, nil
}

func (f *idleFrontier) DequeueReady(context.Context) (crawler.WorkUnit, bool) {
	select {
	case f.started <- struct{}{}:
	default:
	}
	return crawler.WorkUnit{}, false
}

func (f *idleFrontier) Ack(context.Context, string) error { return nil }

func (f *idleFrontier) Fail(context.Context, string, bool) (bool, error) {
	return false, nil
}

func (f *idleFrontier) DropJob(context.Context, string) error { return nil }

func (f *idleFrontier) Drained(string) bool { return true }

func (f *idleFrontier) Quiesced(context.Context, string) (bool, error) { return true, nil }

func (f *idleFrontier) InFlight(string) int { return 0 }

func (f *idleFrontier) Discarded(string) int { return 0 }
