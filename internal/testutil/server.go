// Package testutil holds fixtures shared by tests that need a running layout API.
package testutil

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/g960059/layoutsync/internal/config"
	"github.com/g960059/layoutsync/internal/gateway"
	"github.com/g960059/layoutsync/internal/layout"
	"github.com/g960059/layoutsync/internal/persist"
	"github.com/g960059/layoutsync/internal/server"
)

// Epoch is the first instant handed out by StepClock.
var Epoch = time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)

// StepClock returns a clock that advances by step on every call, so consecutive
// writes always get distinct, increasing timestamps.
func StepClock(step time.Duration) func() time.Time {
	var mu sync.Mutex
	now := Epoch
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(step)
		return now
	}
}

// NewLayoutServer starts the HTTP API over a log-file adapter in a temp dir. The
// server is shut down when the test ends.
func NewLayoutServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	gw := gateway.New(persist.NewLogAdapter(t.TempDir(), logger), logger)
	svc := layout.NewService(gw, logger, layout.WithClock(StepClock(2*time.Second)))
	srv := server.NewServer(config.DefaultConfig(), svc, gw, logger)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hs.Close()
		_ = srv.Shutdown(context.Background())
	})
	return hs
}
