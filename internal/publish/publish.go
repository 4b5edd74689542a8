// Package publish sends fire-and-forget notifications about terminal
// crawl results to downstream consumers.
package publish

import (
	"context"

	"github.com/marketmap/shopcrawler/internal/crawler"
)

// Noop implements crawler.Publisher by discarding every notification.
// It backs deployments with no downstream consumer configured.
type Noop struct{}

// NewNoop creates a Noop publisher.
func NewNoop() *Noop {
	return &Noop{}
}

// Publish discards the result.
func (Noop) Publish(_ context.Context, _ crawler.CrawlResult) error {
	return nil
}

// Close is a no-op.
func (Noop) Close() error {
	return nil
}
