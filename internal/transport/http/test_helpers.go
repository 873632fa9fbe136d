package http

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ndenisov/beamtalk-server/internal/auth"
	"github.com/ndenisov/beamtalk-server/internal/config"
	"github.com/ndenisov/beamtalk-server/internal/core"
	"github.com/ndenisov/beamtalk-server/internal/log"
	"github.com/ndenisov/beamtalk-server/internal/store"
	"github.com/ndenisov/beamtalk-server/internal/store/sqlite"
)

// createTestStore creates an in-memory SQLite store with schema applied.
func createTestStore(t *testing.T) store.Store {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	return st
}

// createTestAuthService creates an auth service for testing.
func createTestAuthService(t *testing.T, st store.Store) *auth.Service {
	t.Helper()

	return auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "test",
		Audience: "test",
		TTL:      24 * time.Hour,
	})
}

// startTestServer wires a full store+auth+hub+router stack around httptest.
func startTestServer(t *testing.T) (*httptest.Server, *auth.Service) {
	t.Helper()

	st := createTestStore(t)
	authService := createTestAuthService(t, st)
	logger := log.Nop()

	hub := core.NewHub(st, logger)
	hub.SetRingTimeout(0)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	server := NewServer(hub, authService, st, config.Config{
		Addr:              ":0",
		ReadHeaderTimeout: time.Second,
		ShutdownTimeout:   time.Second,
		MessageRateLimit:  0,
	}, logger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return ts, authService
}

// registerTestUser registers a user over the API and returns its token.
func registerTestUser(t *testing.T, authService *auth.Service, username string) string {
	t.Helper()

	token, err := authService.Register(context.Background(), username, "secret123")
	if err != nil {
		t.Fatalf("failed to register %s: %v", username, err)
	}
	return token
}
