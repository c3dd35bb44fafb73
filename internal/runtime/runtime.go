package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-translate/internal/artifact"
	"github.com/loqalabs/loqa-translate/internal/bus"
	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/loqalabs/loqa-translate/internal/eventstore"
	"github.com/loqalabs/loqa-translate/internal/httpapi"
	"github.com/loqalabs/loqa-translate/internal/media"
	"github.com/loqalabs/loqa-translate/internal/natsserver"
	"github.com/loqalabs/loqa-translate/internal/pipeline"
	"github.com/loqalabs/loqa-translate/internal/stt"
	"github.com/loqalabs/loqa-translate/internal/translate"
	"github.com/loqalabs/loqa-translate/internal/tts"
)

const pruneInterval = time.Hour

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	store       *eventstore.Store
	natsServer  *natsserver.EmbeddedServer
	busClient   *bus.Client
	registry    *tts.Registry
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	handler, err := r.buildServices(ctx)
	if err != nil {
		r.closeServices()
		_ = shutdownTelemetry(context.Background())
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	handler.Register(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if r.cfg.TTS.Preload {
			r.logger.Info("preloading tts backends")
			r.registry.Preload(ctx)
		}
		r.ready.Store(true)
		r.logger.Info("runtime ready")
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.pruneLoop(ctx)
	}()

	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	r.closeServices()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// buildServices constructs the pipeline and everything it records to.
func (r *Runtime) buildServices(ctx context.Context) (*httpapi.Handler, error) {
	cfg := r.cfg

	store, err := eventstore.Open(ctx, cfg.EventStore, r.logger)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	r.store = store

	var notifier pipeline.Notifier
	if cfg.Bus.Enabled {
		client, err := r.connectBus(ctx)
		if err != nil {
			return nil, err
		}
		notifier = client
	}

	transcoder, err := media.NewTranscoder(cfg.Media)
	if err != nil {
		return nil, fmt.Errorf("create transcoder: %w", err)
	}
	recognizer, err := stt.New(cfg.STT)
	if err != nil {
		return nil, fmt.Errorf("create recognizer: %w", err)
	}
	translator, err := translate.New(cfg.Translate)
	if err != nil {
		return nil, fmt.Errorf("create translator: %w", err)
	}

	r.registry = tts.NewRegistry(r.logger)
	tts.RegisterFromConfig(r.registry, cfg.TTS)

	layout := artifact.LayoutFromConfig(cfg.Storage)
	if err := layout.Ensure(); err != nil {
		return nil, fmt.Errorf("create artifact areas: %w", err)
	}

	orch, err := pipeline.New(pipeline.Deps{
		Namer:       artifact.NewNamer(layout),
		Transcoder:  transcoder,
		Decoder:     media.Decoder{},
		Recognizer:  recognizer,
		Translator:  translator,
		Synthesizer: tts.NewRouter(r.registry, r.logger),
		Ledger:      store,
		Notifier:    notifier,
	}, pipeline.OptionsFromConfig(cfg), r.logger)
	if err != nil {
		return nil, err
	}

	return httpapi.New(httpapi.Options{
		Processor:       orch,
		Runs:            store,
		Backends:        r.registry,
		TTSDir:          layout.TTSDir,
		MaxUploadBytes:  int64(cfg.HTTP.MaxUploadMB) << 20,
		DefaultLanguage: cfg.Pipeline.DefaultLanguage,
		DefaultEngine:   cfg.Pipeline.DefaultEngine,
	}, r.logger), nil
}

func (r *Runtime) connectBus(ctx context.Context) (*bus.Client, error) {
	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		es, err := natsserver.Start(busCfg, r.logger)
		if err != nil {
			return nil, err
		}
		r.natsServer = es
		busCfg.Servers = []string{es.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return nil, err
	}
	r.busClient = client
	if err := client.EnsureRunStream(); err != nil {
		r.logger.Warn("run event stream unavailable", slog.String("error", err.Error()))
	}
	return client, nil
}

func (r *Runtime) closeServices() {
	var errs []error
	if r.busClient != nil {
		r.busClient.Close()
	}
	r.natsServer.Shutdown()
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close event store: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		r.logger.Error("service shutdown error", slog.String("error", err.Error()))
	}
}

func (r *Runtime) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.store.Prune(ctx); err != nil {
				r.logger.Warn("event store prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
