// Package httpapi exposes the pipeline over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/loqalabs/loqa-translate/internal/artifact"
	"github.com/loqalabs/loqa-translate/internal/eventstore"
	"github.com/loqalabs/loqa-translate/internal/lang"
	"github.com/loqalabs/loqa-translate/internal/pipeline"
	"github.com/loqalabs/loqa-translate/internal/tts"
)

// TTSRoute is the prefix synthesized files are served under.
const TTSRoute = "/api/output/tts/"

// Processor runs one request through the pipeline.
type Processor interface {
	Process(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

// RunLookup reads the run ledger.
type RunLookup interface {
	GetRun(ctx context.Context, runID string) (eventstore.Run, error)
	ListRunEvents(ctx context.Context, runID string, limit int) ([]eventstore.StageEvent, error)
}

// BackendStatus reports synthesis backend readiness.
type BackendStatus interface {
	Status() []tts.BackendStatus
}

// Options configures a Handler. Runs and Backends are optional.
type Options struct {
	Processor       Processor
	Runs            RunLookup
	Backends        BackendStatus
	TTSDir          string
	MaxUploadBytes  int64
	DefaultLanguage string
	DefaultEngine   string
}

type Handler struct {
	opts Options
	log  *slog.Logger
}

func New(opts Options, log *slog.Logger) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 32 << 20
	}
	return &Handler{opts: opts, log: log.With(slog.String("component", "httpapi"))}
}

// Register installs every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.handleRoot)
	mux.HandleFunc("POST /api/process-audio", h.handleProcessAudio)
	mux.HandleFunc("GET "+TTSRoute+"{filename}", h.handleTTSFile)
	mux.HandleFunc("GET /api/runs/{run_id}", h.handleRun)
	mux.HandleFunc("GET /api/languages", h.handleLanguages)
	mux.HandleFunc("GET /api/backends", h.handleBackends)
}

type errorResponse struct {
	Error string `json:"error"`
}

type processResponse struct {
	RunID          string `json:"run_id"`
	English        string `json:"english"`
	Translated     string `json:"translated"`
	Language       string `json:"language"`
	Engine         string `json:"engine"`
	Backend        string `json:"backend"`
	TTSAudioFile   string `json:"tts_audio_file"`
	TTSAudioURL    string `json:"tts_audio_url"`
	TranscriptFile string `json:"transcript_file"`
}

func (h *Handler) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "Backend running"})
}

func (h *Handler) handleProcessAudio(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.opts.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "Upload too large."})
			return
		}
		if !errors.Is(err, http.ErrNotMultipart) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Malformed multipart request."})
			return
		}
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	req := pipeline.Request{
		Language: r.FormValue("language"),
		Engine:   r.FormValue("engine"),
	}
	audio, err := openPart(r, "audio")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Unreadable audio upload."})
		return
	}
	if audio != nil {
		defer audio.Close()
		req.Audio = audio
	}
	voice, err := openPart(r, "speaker_wav")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Unreadable reference voice upload."})
		return
	}
	if voice != nil {
		defer voice.Close()
		req.ReferenceVoice = voice
	}

	res, err := h.opts.Processor.Process(r.Context(), req)
	if err != nil {
		var perr *pipeline.Error
		if !errors.As(err, &perr) {
			h.log.Error("unexpected pipeline error", slogError(err))
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: pipeline.MessageInternal})
			return
		}
		writeJSON(w, perr.Kind.HTTPStatus(), errorResponse{Error: perr.Message})
		return
	}

	writeJSON(w, http.StatusOK, processResponse{
		RunID:          res.RunID.String(),
		English:        res.English,
		Translated:     res.Translated,
		Language:       res.Language.Code(),
		Engine:         res.Engine.String(),
		Backend:        res.Backend.String(),
		TTSAudioFile:   filepath.ToSlash(res.TTSAudioFile),
		TTSAudioURL:    TTSRoute + filepath.Base(res.TTSAudioFile),
		TranscriptFile: filepath.ToSlash(res.TranscriptFile),
	})
}

// openPart returns nil, nil when the field is absent.
func openPart(r *http.Request, field string) (multipart.File, error) {
	if r.MultipartForm == nil || len(r.MultipartForm.File[field]) == 0 {
		return nil, nil
	}
	return r.MultipartForm.File[field][0].Open()
}

func (h *Handler) handleTTSFile(w http.ResponseWriter, r *http.Request) {
	path, err := artifact.ResolveTTSFile(h.opts.TTSDir, r.PathValue("filename"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid file name."})
		return
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "File not found."})
			return
		}
		h.log.Error("open tts artifact failed", slog.String("path", path), slogError(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: pipeline.MessageInternal})
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "File not found."})
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

type runResponse struct {
	Run    eventstore.Run          `json:"run"`
	Events []eventstore.StageEvent `json:"events"`
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	if h.opts.Runs == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Run history is disabled."})
		return
	}
	id := r.PathValue("run_id")
	run, err := h.opts.Runs.GetRun(r.Context(), id)
	if errors.Is(err, eventstore.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Run not found."})
		return
	}
	if err != nil {
		h.log.Error("load run failed", slog.String("run_id", id), slogError(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: pipeline.MessageInternal})
		return
	}
	events, err := h.opts.Runs.ListRunEvents(r.Context(), id, 0)
	if err != nil {
		h.log.Error("load run events failed", slog.String("run_id", id), slogError(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: pipeline.MessageInternal})
		return
	}
	if events == nil {
		events = []eventstore.StageEvent{}
	}
	writeJSON(w, http.StatusOK, runResponse{Run: run, Events: events})
}

type languageInfo struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Indic bool   `json:"indic"`
}

type languagesResponse struct {
	Languages       []languageInfo `json:"languages"`
	Engines         []string       `json:"engines"`
	DefaultLanguage string         `json:"default_language"`
	DefaultEngine   string         `json:"default_engine"`
}

func (h *Handler) handleLanguages(w http.ResponseWriter, _ *http.Request) {
	resp := languagesResponse{
		DefaultLanguage: h.opts.DefaultLanguage,
		DefaultEngine:   lang.ParseEngine(h.opts.DefaultEngine).String(),
	}
	for _, l := range lang.Supported() {
		resp.Languages = append(resp.Languages, languageInfo{Code: l.Code(), Name: l.Name(), Indic: l.Indic()})
	}
	for _, e := range lang.Engines() {
		resp.Engines = append(resp.Engines, e.String())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleBackends(w http.ResponseWriter, _ *http.Request) {
	status := []tts.BackendStatus{}
	if h.opts.Backends != nil {
		status = append(status, h.opts.Backends.Status()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"backends": status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
