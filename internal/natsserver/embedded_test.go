package natsserver

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-translate/internal/config"
)

func TestStartDisabledReturnsNil(t *testing.T) {
	es, err := Start(config.BusConfig{Embedded: false}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil || es != nil {
		t.Fatalf("expected nil server, got %v, %v", es, err)
	}
	es.Shutdown()
	if es.ClientURL() != "" {
		t.Fatal("nil server must have no url")
	}
}

func TestStartEmbedded(t *testing.T) {
	es, err := Start(config.BusConfig{Embedded: true, Port: -1, StoreDir: t.TempDir()}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer es.Shutdown()
	if !strings.HasPrefix(es.ClientURL(), "nats://127.0.0.1:") {
		t.Fatalf("unexpected url %s", es.ClientURL())
	}
}
