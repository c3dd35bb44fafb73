package stt

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/loqalabs/loqa-translate/internal/config"
)

func TestMockRecognizerSilence(t *testing.T) {
	rec := NewMockRecognizer("hello world", 0.01)

	res, err := rec.Transcribe(context.Background(), make([]float32, SampleRate))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "" {
		t.Fatalf("expected empty transcript for silence, got %q", res.Text)
	}

	res, err = rec.Transcribe(context.Background(), nil)
	if err != nil || res.Text != "" {
		t.Fatalf("expected empty transcript for no samples, got %q, %v", res.Text, err)
	}
}

func TestMockRecognizerSpeech(t *testing.T) {
	rec := NewMockRecognizer("hello world", 0.01)
	loud := make([]float32, SampleRate)
	for i := range loud {
		if i%2 == 0 {
			loud[i] = 0.3
		} else {
			loud[i] = -0.3
		}
	}
	res, err := rec.Transcribe(context.Background(), loud)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "hello world" {
		t.Fatalf("unexpected transcript %q", res.Text)
	}
}

func TestMockRecognizerHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMockRecognizer("x", 0).Transcribe(ctx, []float32{1}); err == nil {
		t.Fatal("expected context error")
	}
}

func TestNewRecognizerModes(t *testing.T) {
	if _, err := New(config.STTConfig{Mode: "mock"}); err != nil {
		t.Fatalf("mock: %v", err)
	}
	if _, err := New(config.STTConfig{Mode: "exec", Command: ""}); err == nil {
		t.Fatal("expected error for empty exec command")
	}
	if _, err := New(config.STTConfig{Mode: "cloud"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestExecRecognizer(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "stt.sh")
	body := `#!/bin/sh
audio=""
language=""
while [ $# -gt 0 ]; do
  if [ "$1" = "--audio" ]; then audio="$2"; fi
  if [ "$1" = "--language" ]; then language="$2"; fi
  shift
done
[ -s "$audio" ] || { echo "missing audio" >&2; exit 1; }
[ "$language" = "en" ] || { echo "unexpected language $language" >&2; exit 1; }
printf '{"text":"good morning","confidence":0.9}'
`
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	rec, err := NewExecRecognizer(config.STTConfig{Mode: "exec", Command: "sh " + script})
	if err != nil {
		t.Fatalf("new exec recognizer: %v", err)
	}
	res, err := rec.Transcribe(context.Background(), make([]float32, 1600))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "good morning" || res.Confidence != 0.9 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestExecRecognizerFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	rec, err := NewExecRecognizer(config.STTConfig{Mode: "exec", Command: `sh -c "exit 3"`})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := rec.Transcribe(context.Background(), []float32{0}); err == nil {
		t.Fatal("expected error from failing command")
	}
}
