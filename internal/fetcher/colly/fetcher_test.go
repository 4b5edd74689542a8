package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/marketmap/shopcrawler/internal/crawler"
)

func TestFetchAgainstTestServer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "shopcrawler-test", Timeout: 5 * time.Second})

	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/page"})
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(resp.Body) == 0 {
		t.Fatal("expected body to be captured")
	}

	// HTTP error statuses come back as a response, not an error.
	resp, err = f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/missing"})
	if err != nil {
		t.Fatalf("fetch of 404 should not error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestFetchConnectionRefused(t *testing.T) {
	t.Parallel()

	f := New(Config{Timeout: time.Second})
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "http://127.0.0.1:1/unreachable"})
	if err == nil {
		t.Fatal("expected transport error")
	}
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	start := time.Unix(0, 0)
	var result crawler.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, start, &result, &fetchErr)
	if hooks.onResponse == nil || hooks.onError == nil {
		t.Fatal("expected hooks to be registered")
	}

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Request:    &colly.Request{URL: mustParseURL(t, "https://shop.example")},
	})
	if result.StatusCode != http.StatusCreated || string(result.Body) != "body" {
		t.Fatalf("unexpected result: %+v", result)
	}

	// Error callback with a status keeps the status and no error.
	hooks.onError(&colly.Response{
		StatusCode: http.StatusTooManyRequests,
		Request:    &colly.Request{URL: mustParseURL(t, "https://shop.example")},
	}, errors.New("too many requests"))
	if result.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 captured, got %d", result.StatusCode)
	}
	if fetchErr != nil {
		t.Fatalf("expected no transport error, got %v", fetchErr)
	}

	hooks.onError(nil, errors.New("boom"))
	if fetchErr == nil || fetchErr.Error() != "boom" {
		t.Fatalf("expected transport error set, got %v", fetchErr)
	}
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
