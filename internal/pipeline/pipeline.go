// Package pipeline runs one recorded utterance through conversion,
// transcription, translation and synthesis, and owns the files a run creates.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loqalabs/loqa-translate/internal/artifact"
	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/loqalabs/loqa-translate/internal/eventstore"
	"github.com/loqalabs/loqa-translate/internal/lang"
	"github.com/loqalabs/loqa-translate/internal/media"
	"github.com/loqalabs/loqa-translate/internal/protocol"
	"github.com/loqalabs/loqa-translate/internal/stt"
	"github.com/loqalabs/loqa-translate/internal/translate"
	"github.com/loqalabs/loqa-translate/internal/tts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Request is one incoming utterance. Language and Engine are raw client
// strings; ReferenceVoice is an optional voice sample upload.
type Request struct {
	Audio          io.Reader
	Language       string
	Engine         string
	ReferenceVoice io.Reader
}

// Result describes a persisted run.
type Result struct {
	RunID          artifact.RunID
	English        string
	Translated     string
	Language       lang.Language
	Engine         lang.Engine
	Backend        tts.Backend
	TTSAudioFile   string
	TranscriptFile string
}

// Decoder turns a normalized WAV file into samples at the given rate.
type Decoder interface {
	DecodeFile(path string, targetRate int) ([]float32, error)
}

// Synthesizer routes a synthesis request to one backend.
type Synthesizer interface {
	Synthesize(ctx context.Context, req tts.Request) (tts.Backend, string, error)
}

// Ledger records run progress. Failures to record never fail a run.
type Ledger interface {
	StartRun(ctx context.Context, run eventstore.Run) error
	AppendStage(ctx context.Context, evt eventstore.StageEvent) error
	CompleteRun(ctx context.Context, runID string, out eventstore.Outcome) error
}

// Notifier broadcasts run events.
type Notifier interface {
	PublishRunEvent(ctx context.Context, evt protocol.RunEvent) error
}

// Deps are the collaborators of an Orchestrator. Ledger and Notifier are
// optional.
type Deps struct {
	Namer       *artifact.Namer
	Transcoder  media.Transcoder
	Decoder     Decoder
	Recognizer  stt.Recognizer
	Translator  translate.Translator
	Synthesizer Synthesizer
	Ledger      Ledger
	Notifier    Notifier
}

// Timeouts bound each external invocation. Zero means no bound.
type Timeouts struct {
	Convert    time.Duration
	Transcribe time.Duration
	Translate  time.Duration
	Synthesize time.Duration
}

// Options tune request defaults.
type Options struct {
	DefaultLanguage string
	DefaultEngine   string
	// ReferenceVoice is used when a request carries no voice sample.
	ReferenceVoice string
	Timeouts       Timeouts
}

// OptionsFromConfig collects the pipeline settings spread over cfg.
func OptionsFromConfig(cfg config.Config) Options {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	return Options{
		DefaultLanguage: cfg.Pipeline.DefaultLanguage,
		DefaultEngine:   cfg.Pipeline.DefaultEngine,
		ReferenceVoice:  cfg.TTS.ReferenceVoice,
		Timeouts: Timeouts{
			Convert:    ms(cfg.Pipeline.ConvertTimeoutMS),
			Transcribe: ms(cfg.Pipeline.TranscribeTimeoutMS),
			Translate:  ms(cfg.Pipeline.TranslateTimeoutMS),
			Synthesize: ms(cfg.Pipeline.SynthesizeTimeoutMS),
		},
	}
}

// Orchestrator sequences the stages of a run. It holds no per-run state and
// is safe for concurrent use.
type Orchestrator struct {
	deps Deps
	opts Options
	log  *slog.Logger

	tracer        trace.Tracer
	runs          metric.Int64Counter
	stageDuration metric.Float64Histogram
}

func New(deps Deps, opts Options, log *slog.Logger) (*Orchestrator, error) {
	switch {
	case deps.Namer == nil:
		return nil, errors.New("pipeline: namer is required")
	case deps.Transcoder == nil:
		return nil, errors.New("pipeline: transcoder is required")
	case deps.Decoder == nil:
		return nil, errors.New("pipeline: decoder is required")
	case deps.Recognizer == nil:
		return nil, errors.New("pipeline: recognizer is required")
	case deps.Translator == nil:
		return nil, errors.New("pipeline: translator is required")
	case deps.Synthesizer == nil:
		return nil, errors.New("pipeline: synthesizer is required")
	}
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = "mr"
	}
	o := &Orchestrator{
		deps:   deps,
		opts:   opts,
		log:    log.With(slog.String("component", "pipeline")),
		tracer: otel.Tracer("github.com/loqalabs/loqa-translate/pipeline"),
	}
	if err := o.initMetrics(); err != nil {
		o.log.Warn("failed to initialize metrics", slogError(err))
	}
	return o, nil
}

func (o *Orchestrator) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-translate/pipeline")
	runs, err := meter.Int64Counter("loqa.pipeline.runs",
		metric.WithDescription("Pipeline runs by outcome"))
	if err != nil {
		return err
	}
	durations, err := meter.Float64Histogram("loqa.pipeline.stage.duration",
		metric.WithDescription("Time spent per pipeline stage"),
		metric.WithUnit("ms"))
	if err != nil {
		return err
	}
	o.runs = runs
	o.stageDuration = durations
	return nil
}

// Process runs req to completion. Every returned error is an *Error.
// Temporary artifacts are removed on every outcome; durable artifacts only
// survive a run that reached StagePersisted.
func (o *Orchestrator) Process(ctx context.Context, req Request) (Result, error) {
	language, engine, voice, err := o.validate(req)
	if err != nil {
		o.countRun(ctx, "rejected")
		return Result{}, err
	}

	r := &run{id: o.deps.Namer.NewRunID(), language: language, engine: engine, stage: StageReceived}
	log := o.log.With(slog.String("run_id", r.id.String()))
	ctx, span := o.tracer.Start(ctx, "pipeline.process", trace.WithAttributes(
		attribute.String("run_id", r.id.String()),
		attribute.String("language", language.Code()),
		attribute.String("engine", engine.String()),
	))
	defer span.End()

	defer func() {
		for _, err := range r.removeTemp() {
			log.Warn("failed to remove temporary artifact", slogError(err))
		}
	}()

	o.startRun(ctx, r)
	res, err := o.execute(ctx, r, req, voice)
	if err != nil {
		r.fail()
		for _, rmErr := range r.discardOutputs() {
			log.Warn("failed to remove partial output", slogError(rmErr))
		}
		perr := asError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, perr.Kind.String())
		log.Error("run failed",
			slog.String("stage", r.failedAt.String()),
			slog.String("kind", perr.Kind.String()),
			slogError(err))
		o.finishRun(ctx, r, res, perr)
		o.countRun(ctx, "failed")
		return Result{}, perr
	}

	log.Info("run persisted",
		slog.String("language", language.Code()),
		slog.String("backend", res.Backend.String()),
		slog.String("tts_audio_file", res.TTSAudioFile))
	o.finishRun(ctx, r, res, nil)
	o.countRun(ctx, "persisted")
	return res, nil
}

// validate checks everything that can be rejected before any file exists.
func (o *Orchestrator) validate(req Request) (lang.Language, lang.Engine, string, error) {
	if req.Audio == nil {
		return 0, 0, "", clientError("No audio file provided.", nil)
	}
	rawLanguage := strings.TrimSpace(req.Language)
	if rawLanguage == "" {
		rawLanguage = o.opts.DefaultLanguage
	}
	language, err := lang.ParseLanguage(rawLanguage)
	if err != nil {
		return 0, 0, "", clientError(fmt.Sprintf("Unsupported language: %s", rawLanguage), err)
	}
	rawEngine := strings.TrimSpace(req.Engine)
	if rawEngine == "" {
		rawEngine = o.opts.DefaultEngine
	}
	engine := lang.ParseEngine(rawEngine)

	var voice string
	if req.ReferenceVoice == nil && o.opts.ReferenceVoice != "" {
		if err := tts.CheckReferenceVoice(o.opts.ReferenceVoice); err == nil {
			voice = o.opts.ReferenceVoice
		} else {
			o.log.Warn("configured reference voice is unreadable", slog.String("path", o.opts.ReferenceVoice), slogError(err))
		}
	}
	hasVoice := req.ReferenceVoice != nil || voice != ""
	if _, err := tts.Decide(language, engine, hasVoice); err != nil {
		return 0, 0, "", clientError(err.Error(), err)
	}
	return language, engine, voice, nil
}

func (o *Orchestrator) execute(ctx context.Context, r *run, req Request, voice string) (Result, error) {
	namer := o.deps.Namer
	if err := namer.Layout().Ensure(); err != nil {
		return Result{}, internalError(err)
	}

	rawPath, err := namer.Path(r.id, artifact.RoleTempRaw, r.language)
	if err != nil {
		return Result{}, internalError(err)
	}
	r.trackTemp(rawPath)
	if err := writeFile(rawPath, req.Audio); err != nil {
		return Result{}, internalError(fmt.Errorf("persist upload: %w", err))
	}
	if req.ReferenceVoice != nil {
		voicePath, err := namer.Path(r.id, artifact.RoleTempVoice, r.language)
		if err != nil {
			return Result{}, internalError(err)
		}
		r.trackTemp(voicePath)
		if err := writeFile(voicePath, req.ReferenceVoice); err != nil {
			return Result{}, internalError(fmt.Errorf("persist reference voice: %w", err))
		}
		voice = voicePath
	}

	wavPath, err := namer.Path(r.id, artifact.RoleTempWAV, r.language)
	if err != nil {
		return Result{}, internalError(err)
	}
	r.trackTemp(wavPath)

	var samples []float32
	err = o.step(ctx, r, StageConverted, o.opts.Timeouts.Convert, func(ctx context.Context) (string, error) {
		if err := o.deps.Transcoder.Convert(ctx, rawPath, wavPath); err != nil {
			return "", err
		}
		var err error
		samples, err = o.deps.Decoder.DecodeFile(wavPath, stt.SampleRate)
		return fmt.Sprintf("%d samples", len(samples)), err
	})
	if err != nil {
		if errors.Is(err, media.ErrUnsupportedFormat) {
			return Result{}, formatError(err)
		}
		return Result{}, internalError(fmt.Errorf("convert: %w", err))
	}

	var english string
	err = o.step(ctx, r, StageTranscribed, o.opts.Timeouts.Transcribe, func(ctx context.Context) (string, error) {
		tr, err := o.deps.Recognizer.Transcribe(ctx, samples)
		english = strings.TrimSpace(tr.Text)
		return fmt.Sprintf("%d chars", len(english)), err
	})
	if err != nil {
		return Result{}, internalError(fmt.Errorf("transcribe: %w", err))
	}

	var translated string
	err = o.step(ctx, r, StageTranslated, o.opts.Timeouts.Translate, func(ctx context.Context) (string, error) {
		if english == "" {
			translated = lang.NoSpeechMessage(r.language)
			return "no speech detected", nil
		}
		var err error
		translated, err = o.deps.Translator.Translate(ctx, english, r.language)
		return "", err
	})
	if err != nil {
		if errors.Is(err, translate.ErrUnsupportedTarget) {
			return Result{}, clientError(fmt.Sprintf("Unsupported language: %s", r.language.Code()), err)
		}
		return Result{}, internalError(fmt.Errorf("translate: %w", err))
	}

	ttsPath, err := namer.Path(r.id, artifact.RoleTTSOutput, r.language)
	if err != nil {
		return Result{}, internalError(err)
	}
	r.trackOutput(ttsPath)
	var backend tts.Backend
	err = o.step(ctx, r, StageSynthesized, o.opts.Timeouts.Synthesize, func(ctx context.Context) (string, error) {
		var err error
		backend, _, err = o.deps.Synthesizer.Synthesize(ctx, tts.Request{
			Text:           translated,
			Language:       r.language,
			Engine:         r.engine,
			OutputPath:     ttsPath,
			ReferenceVoice: voice,
		})
		return backend.String(), err
	})
	if err != nil {
		if errors.Is(err, tts.ErrPrecondition) || errors.Is(err, tts.ErrUnsupportedLanguage) {
			return Result{}, clientError(err.Error(), err)
		}
		return Result{}, internalError(fmt.Errorf("synthesize: %w", err))
	}

	transcriptPath, err := namer.Path(r.id, artifact.RoleTranscript, r.language)
	if err != nil {
		return Result{}, internalError(err)
	}
	r.trackOutput(transcriptPath)
	err = o.step(ctx, r, StagePersisted, 0, func(context.Context) (string, error) {
		return "", writeTranscript(transcriptPath, english, translated)
	})
	if err != nil {
		return Result{}, internalError(fmt.Errorf("persist transcript: %w", err))
	}

	return Result{
		RunID:          r.id,
		English:        english,
		Translated:     translated,
		Language:       r.language,
		Engine:         r.engine,
		Backend:        backend,
		TTSAudioFile:   ttsPath,
		TranscriptFile: transcriptPath,
	}, nil
}

// step runs fn under its own span and timeout and advances the run to next
// when fn succeeds. fn may return a short detail for the ledger.
func (o *Orchestrator) step(ctx context.Context, r *run, next Stage, timeout time.Duration, fn func(context.Context) (string, error)) error {
	r.attempt(next)
	ctx, span := o.tracer.Start(ctx, "pipeline."+next.String())
	defer span.End()

	stepCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	detail, err := fn(stepCtx)
	elapsed := time.Since(start)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, next.String())
	}
	if o.stageDuration != nil {
		o.stageDuration.Record(ctx, float64(elapsed.Microseconds())/1000, metric.WithAttributes(
			attribute.String("stage", next.String()),
			attribute.String("outcome", outcome),
		))
	}
	if err != nil {
		return err
	}

	r.advance(next)
	o.recordStage(ctx, r, detail, elapsed)
	return nil
}

func (o *Orchestrator) startRun(ctx context.Context, r *run) {
	if o.deps.Ledger != nil {
		err := o.deps.Ledger.StartRun(ctx, eventstore.Run{
			RunID:    r.id.String(),
			Language: r.language.Code(),
			Engine:   r.engine.String(),
			Stage:    r.stage.String(),
		})
		if err != nil {
			o.log.Warn("failed to record run start", slog.String("run_id", r.id.String()), slogError(err))
		}
	}
	o.notify(ctx, r, "running", "", 0, nil)
}

func (o *Orchestrator) recordStage(ctx context.Context, r *run, detail string, elapsed time.Duration) {
	if o.deps.Ledger != nil {
		err := o.deps.Ledger.AppendStage(ctx, eventstore.StageEvent{
			RunID:    r.id.String(),
			Stage:    r.stage.String(),
			Detail:   detail,
			Duration: elapsed.Milliseconds(),
		})
		if err != nil {
			o.log.Warn("failed to record stage", slog.String("run_id", r.id.String()), slogError(err))
		}
	}
	o.notify(ctx, r, "running", "", elapsed, nil)
}

func (o *Orchestrator) finishRun(ctx context.Context, r *run, res Result, perr *Error) {
	out := eventstore.Outcome{Status: eventstore.StatusCompleted, Stage: r.stage.String()}
	status := "completed"
	if perr != nil {
		status = "failed"
		out.Status = eventstore.StatusFailed
		out.Stage = r.failedAt.String()
		out.ErrorKind = perr.Kind.String()
		out.ErrorMessage = perr.Message
	} else {
		out.Backend = res.Backend.String()
		out.English = res.English
		out.Translated = res.Translated
		out.TTSAudioFile = res.TTSAudioFile
		out.TranscriptFile = res.TranscriptFile
	}
	if o.deps.Ledger != nil {
		// The request context may already be cancelled; the outcome is still recorded.
		if err := o.deps.Ledger.CompleteRun(context.WithoutCancel(ctx), r.id.String(), out); err != nil {
			o.log.Warn("failed to record run outcome", slog.String("run_id", r.id.String()), slogError(err))
		}
	}
	var backend tts.Backend
	if perr == nil {
		backend = res.Backend
	}
	o.notify(context.WithoutCancel(ctx), r, status, backend.String(), 0, perr)
}

func (o *Orchestrator) notify(ctx context.Context, r *run, status, backend string, elapsed time.Duration, perr *Error) {
	if o.deps.Notifier == nil {
		return
	}
	evt := protocol.RunEvent{
		RunID:      r.id.String(),
		Stage:      r.stage.String(),
		Status:     status,
		Language:   r.language.Code(),
		Engine:     r.engine.String(),
		DurationMS: elapsed.Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}
	if backend != "none" {
		evt.Backend = backend
	}
	if perr != nil {
		evt.Stage = r.failedAt.String()
		evt.ErrorKind = perr.Kind.String()
		evt.Error = perr.Message
	}
	if err := o.deps.Notifier.PublishRunEvent(ctx, evt); err != nil {
		o.log.Warn("failed to publish run event", slog.String("run_id", r.id.String()), slogError(err))
	}
}

func (o *Orchestrator) countRun(ctx context.Context, outcome string) {
	if o.runs == nil {
		return
	}
	o.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func writeFile(path string, src io.Reader) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// writeTranscript writes the two labelled sections next to path and renames
// the result into place, so a reader never sees a half written transcript.
func writeTranscript(path, english, translated string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".transcript-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	body := "ENGLISH:\n" + english + "\n\nTRANSLATED:\n" + translated + "\n"
	if _, err := tmp.WriteString(body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
