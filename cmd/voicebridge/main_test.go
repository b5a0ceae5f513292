package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/voicebridge-ai/voicebridge/pkg/gateway/config"
	"github.com/voicebridge-ai/voicebridge/pkg/store"
)

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), &stderr, bridgeDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		openStore: func(context.Context, config.Config, *slog.Logger) (callStore, error) {
			t.Fatalf("openStore should not be called when config load fails")
			return nil, nil
		},
		signalNotify: func(chan<- os.Signal, ...os.Signal) {},
		signalStop:   func(chan<- os.Signal) {},
	})

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
	if stderr.String() == "" {
		t.Fatalf("expected stderr output for startup error")
	}
}

func TestRunBridge_ReturnsErrorWhenStoreUnavailable(t *testing.T) {
	t.Parallel()

	err := runBridge(context.Background(), slog.Default(), bridgeDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{Addr: "127.0.0.1:0"}, nil
		},
		openStore: func(context.Context, config.Config, *slog.Logger) (callStore, error) {
			return nil, errors.New("connection refused")
		},
		signalNotify: func(chan<- os.Signal, ...os.Signal) {},
		signalStop:   func(chan<- os.Signal) {},
	})

	if err == nil || err.Error() != "open call store: connection refused" {
		t.Fatalf("err=%v, want open call store error", err)
	}
}

func TestBuildHTTPServer_UsesConfiguredAddress(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Addr:              "127.0.0.1:9999",
		ReadHeaderTimeout: 2 * time.Second,
	}

	srv := buildHTTPServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if srv.Addr != cfg.Addr {
		t.Fatalf("Addr=%q, want %q", srv.Addr, cfg.Addr)
	}
	if srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout {
		t.Fatalf("ReadHeaderTimeout=%v, want %v", srv.ReadHeaderTimeout, cfg.ReadHeaderTimeout)
	}
}

func TestDefaultBridgeDeps_AreFullyWired(t *testing.T) {
	t.Parallel()

	deps := defaultBridgeDeps()
	if deps.loadConfig == nil || deps.openStore == nil || deps.signalNotify == nil || deps.signalStop == nil {
		t.Fatalf("default dependencies are incomplete: %+v", deps)
	}
}

var _ callStore = (*store.Store)(nil)
