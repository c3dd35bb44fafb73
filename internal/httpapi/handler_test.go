package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-translate/internal/artifact"
	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/loqalabs/loqa-translate/internal/eventstore"
	"github.com/loqalabs/loqa-translate/internal/media"
	"github.com/loqalabs/loqa-translate/internal/pipeline"
	"github.com/loqalabs/loqa-translate/internal/stt"
	"github.com/loqalabs/loqa-translate/internal/translate"
	"github.com/loqalabs/loqa-translate/internal/tts"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testServer struct {
	srv    *httptest.Server
	layout artifact.Layout
	store  *eventstore.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	root := t.TempDir()
	layout := artifact.Layout{
		TempDir:   filepath.Join(root, "temp"),
		OutputDir: filepath.Join(root, "output"),
		TTSDir:    filepath.Join(root, "output", "tts"),
	}
	store, err := eventstore.Open(context.Background(), config.EventStoreConfig{
		Path:          filepath.Join(root, "runs.db"),
		RetentionMode: "persistent",
	}, testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	reg := tts.NewRegistry(testLogger())
	tts.RegisterFromConfig(reg, config.TTSConfig{
		Indic: config.TTSBackendConfig{Mode: "mock", SampleRate: 16000},
		XTTS:  config.TTSBackendConfig{Mode: "mock", SampleRate: 16000},
	})
	translator, err := translate.New(config.TranslateConfig{Mode: "mock", Strict: true, DefaultTarget: "mr"})
	if err != nil {
		t.Fatal(err)
	}
	orch, err := pipeline.New(pipeline.Deps{
		Namer:       artifact.NewNamer(layout),
		Transcoder:  media.WAVTranscoder{},
		Decoder:     media.Decoder{},
		Recognizer:  stt.NewMockRecognizer("good morning", 0.01),
		Translator:  translator,
		Synthesizer: tts.NewRouter(reg, testLogger()),
		Ledger:      store,
	}, pipeline.Options{DefaultLanguage: "mr", DefaultEngine: "auto"}, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	New(Options{
		Processor:       orch,
		Runs:            store,
		Backends:        reg,
		TTSDir:          layout.TTSDir,
		MaxUploadBytes:  1 << 20,
		DefaultLanguage: "mr",
		DefaultEngine:   "auto",
	}, testLogger()).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, layout: layout, store: store}
}

func speechWAV(t *testing.T) []byte {
	t.Helper()
	samples := make([]float32, 16000)
	for i := range samples {
		samples[i] = float32(0.3 * math.Sin(2*math.Pi*300*float64(i)/16000))
	}
	path := filepath.Join(t.TempDir(), "speech.wav")
	if err := media.WriteWAV(path, samples, 16000); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func multipartBody(t *testing.T, fields map[string]string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for field, data := range files {
		fw, err := mw.CreateFormFile(field, field+".wav")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func (ts *testServer) post(t *testing.T, fields map[string]string, files map[string][]byte) (*http.Response, map[string]string) {
	t.Helper()
	body, contentType := multipartBody(t, fields, files)
	resp, err := http.Post(ts.srv.URL+"/api/process-audio", contentType, body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	out := map[string]string{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, out
}

func TestProcessAudioSuccess(t *testing.T) {
	ts := newTestServer(t)
	resp, out := ts.post(t, map[string]string{"language": "Marathi"}, map[string][]byte{"audio": speechWAV(t)})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", resp.StatusCode, out)
	}
	if out["english"] != "good morning" || out["translated"] != "[mr] good morning" {
		t.Fatalf("unexpected texts %v", out)
	}
	if out["language"] != "mr" || out["engine"] != "auto" || out["backend"] != "indic" {
		t.Fatalf("unexpected routing %v", out)
	}
	if !strings.HasSuffix(out["tts_audio_file"], "_mr.wav") {
		t.Fatalf("unexpected tts file %s", out["tts_audio_file"])
	}

	audio, err := http.Get(ts.srv.URL + out["tts_audio_url"])
	if err != nil {
		t.Fatal(err)
	}
	defer audio.Body.Close()
	if audio.StatusCode != http.StatusOK || audio.Header.Get("Content-Type") != "audio/wav" {
		t.Fatalf("unexpected audio response %d %s", audio.StatusCode, audio.Header.Get("Content-Type"))
	}

	runResp, err := http.Get(ts.srv.URL + "/api/runs/" + out["run_id"])
	if err != nil {
		t.Fatal(err)
	}
	defer runResp.Body.Close()
	var run struct {
		Run    eventstore.Run          `json:"run"`
		Events []eventstore.StageEvent `json:"events"`
	}
	if err := json.NewDecoder(runResp.Body).Decode(&run); err != nil {
		t.Fatal(err)
	}
	if run.Run.Status != eventstore.StatusCompleted || len(run.Events) != 5 {
		t.Fatalf("unexpected run record %+v", run)
	}
}

func TestProcessAudioClientErrors(t *testing.T) {
	ts := newTestServer(t)
	tests := []struct {
		name   string
		fields map[string]string
		files  map[string][]byte
	}{
		{"missing audio", map[string]string{"language": "mr"}, nil},
		{"unknown language", map[string]string{"language": "xyz"}, map[string][]byte{"audio": speechWAV(t)}},
		{"xtts without voice", map[string]string{"language": "en", "engine": "xtts"}, map[string][]byte{"audio": speechWAV(t)}},
		{"corrupt audio", map[string]string{"language": "mr"}, map[string][]byte{"audio": []byte("garbage bytes")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := ts.post(t, tt.fields, tt.files)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.StatusCode)
			}
			if out["error"] == "" {
				t.Fatal("expected error message")
			}
		})
	}
	if entries, _ := os.ReadDir(ts.layout.TempDir); len(entries) != 0 {
		t.Fatalf("temporary artifacts left behind: %d", len(entries))
	}
}

func TestProcessAudioFormatMessageIsGeneric(t *testing.T) {
	ts := newTestServer(t)
	_, out := ts.post(t, map[string]string{"language": "mr"}, map[string][]byte{"audio": []byte("garbage bytes")})
	if out["error"] != pipeline.MessageUnsupportedFormat {
		t.Fatalf("unexpected message %q", out["error"])
	}
}

func TestProcessAudioWithSpeakerVoice(t *testing.T) {
	ts := newTestServer(t)
	resp, out := ts.post(t,
		map[string]string{"language": "en", "engine": "xtts"},
		map[string][]byte{"audio": speechWAV(t), "speaker_wav": speechWAV(t)})
	if resp.StatusCode != http.StatusOK || out["backend"] != "xtts" {
		t.Fatalf("unexpected response %d %v", resp.StatusCode, out)
	}
}

func TestProcessAudioTooLarge(t *testing.T) {
	ts := newTestServer(t)
	body, contentType := multipartBody(t, nil, map[string][]byte{"audio": make([]byte, 2<<20)})
	req := httptest.NewRequest(http.MethodPost, "/api/process-audio", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	ts.srv.Config.Handler.ServeHTTP(rec, req)
	if rec.Code < 400 || rec.Code >= 500 {
		t.Fatalf("expected a client error, got %d", rec.Code)
	}
}

type erroringProcessor struct{ err error }

func (p erroringProcessor) Process(context.Context, pipeline.Request) (pipeline.Result, error) {
	return pipeline.Result{}, p.err
}

func TestProcessAudioInternalError(t *testing.T) {
	for _, perr := range []error{
		&pipeline.Error{Kind: pipeline.KindInternal, Message: pipeline.MessageInternal, Err: errors.New("model crashed")},
		errors.New("raw failure"),
	} {
		mux := http.NewServeMux()
		New(Options{Processor: erroringProcessor{err: perr}}, testLogger()).Register(mux)
		body, contentType := multipartBody(t, nil, map[string][]byte{"audio": []byte("x")})
		req := httptest.NewRequest(http.MethodPost, "/api/process-audio", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rec.Code)
		}
		if strings.Contains(rec.Body.String(), "crashed") || strings.Contains(rec.Body.String(), "raw failure") {
			t.Fatalf("internal detail leaked: %s", rec.Body.String())
		}
	}
}

func TestServeTTSFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "tts_20250101_000000_abcd1234_mr.wav"), []byte("RIFFdata"), 0o644); err != nil {
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	New(Options{TTSDir: dir}, testLogger()).Register(mux)

	tests := []struct {
		path   string
		status int
	}{
		{"/api/output/tts/tts_20250101_000000_abcd1234_mr.wav", http.StatusOK},
		{"/api/output/tts/tts_missing_mr.wav", http.StatusNotFound},
		{"/api/output/tts/secret.txt", http.StatusBadRequest},
		{"/api/output/tts/tts_..hidden.wav", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.status {
			t.Fatalf("%s: expected %d, got %d", tt.path, tt.status, rec.Code)
		}
	}
}

func TestRootAndLanguages(t *testing.T) {
	mux := http.NewServeMux()
	New(Options{DefaultLanguage: "mr", DefaultEngine: "bogus"}, testLogger()).Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Backend running") {
		t.Fatalf("unexpected root response %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/languages", nil))
	var langs languagesResponse
	if err := json.NewDecoder(rec.Body).Decode(&langs); err != nil {
		t.Fatal(err)
	}
	if len(langs.Languages) < 3 || len(langs.Engines) != 3 || langs.DefaultEngine != "auto" {
		t.Fatalf("unexpected languages response %+v", langs)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a ledger, got %d", rec.Code)
	}
}
