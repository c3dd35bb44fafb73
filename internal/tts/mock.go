package tts

import (
	"context"
	"math"
	"time"
	"unicode/utf8"

	"github.com/loqalabs/loqa-translate/internal/media"
)

const (
	mockPerRune  = 60 * time.Millisecond
	mockMaxAudio = 10 * time.Second
)

type mockSynth struct {
	sampleRate int
	frequency  float64
}

// NewMockSynth writes a sine tone whose length follows the text length.
func NewMockSynth(sampleRate int, frequency float64) Synthesizer {
	return &mockSynth{sampleRate: sampleRate, frequency: frequency}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	duration := time.Duration(utf8.RuneCountInString(req.Text)) * mockPerRune
	if duration <= 0 {
		duration = mockPerRune
	}
	if duration > mockMaxAudio {
		duration = mockMaxAudio
	}
	n := int(duration.Seconds() * float64(m.sampleRate))
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.2 * math.Sin(2*math.Pi*m.frequency*float64(i)/float64(m.sampleRate)))
	}
	return media.WriteWAV(req.OutputPath, samples, m.sampleRate)
}
