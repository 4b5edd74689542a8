package headless

import (
	"context"
	"net/http"
	"testing"

	"github.com/chromedp/cdproto/network"

	"github.com/marketmap/shopcrawler/internal/crawler"
)

func TestNewChromedpLimiterValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewChromedp(Config{MaxParallel: -1}); err == nil {
		t.Fatal("expected error for negative max parallel")
	}
	fetcher, err := NewChromedp(Config{MaxParallel: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer fetcher.Close()
	if cap(fetcher.limiter) != 2 {
		t.Fatalf("expected limiter capacity 2, got %d", cap(fetcher.limiter))
	}
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status: 204,
			URL:    "https://shop.example/rendered",
		},
	})
	status, url := meta.snapshotWithFallbacks("https://req", "")
	if status != 204 || url != "https://shop.example/rendered" {
		t.Fatalf("unexpected snapshot values: status=%d url=%s", status, url)
	}

	// Subresource responses must not overwrite the document response.
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeImage,
		Response: &network.Response{
			Status: 404,
			URL:    "https://shop.example/missing.png",
		},
	})
	status, _ = meta.snapshotWithFallbacks("https://req", "")
	if status != 204 {
		t.Fatalf("image response overwrote document status: %d", status)
	}

	meta = newResponseMeta()
	status, url = meta.snapshotWithFallbacks("https://req", "https://final")
	if status != http.StatusOK || url != "https://final" {
		t.Fatalf("expected fallback values, got status=%d url=%s", status, url)
	}
}

func TestNoopFetcherError(t *testing.T) {
	t.Parallel()

	fetcher := NewNoop()
	if _, err := fetcher.Fetch(context.Background(), crawler.FetchRequest{}); err == nil {
		t.Fatal("expected error from noop fetcher")
	}
}
