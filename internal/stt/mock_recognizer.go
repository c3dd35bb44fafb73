package stt

import (
	"context"
	"math"
)

type mockRecognizer struct {
	text      string
	threshold float64
}

// NewMockRecognizer returns text for any recording louder than threshold
// (RMS) and an empty transcript otherwise.
func NewMockRecognizer(text string, threshold float64) Recognizer {
	return &mockRecognizer{text: text, threshold: threshold}
}

func (m *mockRecognizer) Transcribe(ctx context.Context, samples []float32) (TranscriptResult, error) {
	if err := ctx.Err(); err != nil {
		return TranscriptResult{}, err
	}
	if rms(samples) <= m.threshold {
		return TranscriptResult{}, nil
	}
	return TranscriptResult{Text: m.text, Confidence: 1}, nil
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
