package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/loqalabs/loqa-translate/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.TempDir = filepath.Join(dir, "temp")
	cfg.Storage.OutputDir = filepath.Join(dir, "output")
	cfg.Storage.TTSDir = filepath.Join(dir, "output", "tts")
	cfg.Media.Transcoder = "wav"
	cfg.EventStore.Path = filepath.Join(dir, "runs.db")
	cfg.Bus.StoreDir = filepath.Join(dir, "nats")
	return cfg
}

func TestBuildServicesRegistersRoutes(t *testing.T) {
	cfg := testConfig(t)
	rt := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	handler, err := rt.buildServices(context.Background())
	if err != nil {
		t.Fatalf("buildServices: %v", err)
	}
	defer rt.closeServices()

	if rt.busClient != nil || rt.natsServer != nil {
		t.Fatalf("expected no bus when disabled")
	}

	mux := http.NewServeMux()
	handler.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/backends", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Backends []struct {
			Backend string `json:"backend"`
			Ready   bool   `json:"ready"`
		} `json:"backends"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Backends) != 2 || body.Backends[0].Backend != "indic" || body.Backends[0].Ready {
		t.Fatalf("unexpected backends before preload: %+v", body.Backends)
	}

	rt.registry.Preload(context.Background())
	for _, st := range rt.registry.Status() {
		if !st.Ready {
			t.Fatalf("backend %s not ready after preload", st.Backend)
		}
	}
}

func TestBuildServicesWithEmbeddedBus(t *testing.T) {
	cfg := testConfig(t)
	cfg.Bus.Enabled = true
	cfg.Bus.Embedded = true
	cfg.Bus.Port = -1
	cfg.EventStore.RetentionMode = "ephemeral"

	rt := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, err := rt.buildServices(context.Background()); err != nil {
		t.Fatalf("buildServices: %v", err)
	}
	defer rt.closeServices()

	if rt.natsServer == nil || rt.busClient == nil {
		t.Fatalf("expected embedded server and client")
	}
	if !rt.busClient.Healthy() {
		t.Fatalf("expected connected bus client")
	}
}

func TestBuildServicesRejectsUnknownTranscoder(t *testing.T) {
	cfg := testConfig(t)
	cfg.Media.Transcoder = "sox"
	rt := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := rt.buildServices(context.Background())
	rt.closeServices()
	if err == nil {
		t.Fatalf("expected error for unknown transcoder")
	}
}
