package stt

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/loqalabs/loqa-translate/internal/lang"
)

// SampleRate is the only rate recognizers accept. Samples are mono float32.
const SampleRate = 16000

// SourceLanguage is the spoken language of every upload.
const SourceLanguage = lang.English

// TranscriptResult captures recognizer output. An empty or whitespace-only
// Text means no intelligible speech was found; it is not an error.
type TranscriptResult struct {
	Text       string
	Confidence float64
}

// Recognizer abstracts STT backends. Calls block until the backend returns.
type Recognizer interface {
	Transcribe(ctx context.Context, samples []float32) (TranscriptResult, error)
}

// New builds the recognizer selected by cfg.Mode.
func New(cfg config.STTConfig) (Recognizer, error) {
	switch cfg.Mode {
	case "mock", "":
		return NewMockRecognizer(cfg.MockText, cfg.SilenceThreshold), nil
	case "exec":
		return NewExecRecognizer(cfg)
	default:
		return nil, fmt.Errorf("unknown stt mode %q", cfg.Mode)
	}
}
