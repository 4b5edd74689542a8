package app_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/marketmap/shopcrawler/internal/app"
	"github.com/marketmap/shopcrawler/internal/config"
)

func defaultConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestNewWithDefaults(t *testing.T) {
	cfg := defaultConfig(t)

	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, a.Jobs())

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestNewRejectsUnknownProviders(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"dedup", func(c *config.Config) { c.Dedup.Provider = "etcd" }},
		{"store", func(c *config.Config) { c.Store.Provider = "mysql" }},
		{"publisher", func(c *config.Config) { c.Publisher.Provider = "nats" }},
		{"snapshots", func(c *config.Config) { c.Snapshots.Provider = "s3" }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig(t)
			tc.mutate(&cfg)
			_, err := app.New(context.Background(), cfg, zap.NewNop())
			require.Error(t, err)
		})
	}
}

func TestSubmitJobThroughHandler(t *testing.T) {
	cfg := defaultConfig(t)

	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	body := bytes.NewReader([]byte(`{"seeds":["https://shop.example"],"max_depth":1}`))
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
}
