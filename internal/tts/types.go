package tts

import (
	"context"

	"github.com/loqalabs/loqa-translate/internal/lang"
)

// Backend identifies one synthesis engine.
type Backend uint8

const (
	// BackendIndic is the primary multilingual engine covering the Indic set.
	BackendIndic Backend = iota + 1
	// BackendXTTS is the fallback engine: Hindi and English only, and it
	// clones a reference voice sample.
	BackendXTTS
)

func (b Backend) String() string {
	switch b {
	case BackendIndic:
		return "indic"
	case BackendXTTS:
		return "xtts"
	default:
		return "none"
	}
}

// Backends lists every backend in registration order.
func Backends() []Backend { return []Backend{BackendIndic, BackendXTTS} }

// SynthRequest contains parameters to synthesize speech into OutputPath.
type SynthRequest struct {
	Text           string
	Language       lang.Language
	OutputPath     string
	ReferenceVoice string
}

// Synthesizer is the contract every backend implements. Synthesize blocks
// until the WAV file at req.OutputPath is complete or fails.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) error
}
