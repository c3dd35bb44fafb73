package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/loqalabs/loqa-translate/internal/lang"
)

var (
	// ErrPrecondition covers backend requirements the request does not meet,
	// such as XTTS without a reference voice.
	ErrPrecondition = errors.New("synthesis precondition failed")
	// ErrUnsupportedLanguage is returned when auto routing finds no backend.
	ErrUnsupportedLanguage = errors.New("unsupported synthesis language")
)

// Decide picks the backend for (language, engine). It has no side effects
// and consults nothing but its arguments.
//
//	indic: primary backend for every language
//	xtts:  fallback backend; needs a reference voice and hi or en
//	auto:  Indic set -> primary, en -> fallback (voice required), else reject
func Decide(language lang.Language, engine lang.Engine, hasReferenceVoice bool) (Backend, error) {
	switch engine {
	case lang.EngineIndic:
		return BackendIndic, nil
	case lang.EngineXTTS:
		if !hasReferenceVoice {
			return 0, fmt.Errorf("%w: xtts requires a reference voice sample", ErrPrecondition)
		}
		if language != lang.Hindi && language != lang.English {
			return 0, fmt.Errorf("%w: xtts supports only hi and en, got %s", ErrPrecondition, language)
		}
		return BackendXTTS, nil
	default:
		if language.Indic() {
			return BackendIndic, nil
		}
		if language == lang.English {
			if !hasReferenceVoice {
				return 0, fmt.Errorf("%w: english synthesis requires a reference voice sample", ErrPrecondition)
			}
			return BackendXTTS, nil
		}
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}
}

// Request is one routed synthesis call.
type Request struct {
	Text           string
	Language       lang.Language
	Engine         lang.Engine
	OutputPath     string
	ReferenceVoice string
}

// Router sends each request to exactly one backend held by the registry.
type Router struct {
	registry *Registry
	log      *slog.Logger
}

func NewRouter(registry *Registry, log *slog.Logger) *Router {
	return &Router{registry: registry, log: log.With(slog.String("component", "tts-router"))}
}

// Synthesize decides the backend, checks its preconditions and invokes it.
// It returns the backend used and the written output path.
func (r *Router) Synthesize(ctx context.Context, req Request) (Backend, string, error) {
	if req.OutputPath == "" {
		return 0, "", errors.New("output path is required")
	}
	backend, err := Decide(req.Language, req.Engine, req.ReferenceVoice != "")
	if err != nil {
		return 0, "", err
	}
	if backend == BackendXTTS {
		if err := CheckReferenceVoice(req.ReferenceVoice); err != nil {
			return backend, "", fmt.Errorf("%w: reference voice: %v", ErrPrecondition, err)
		}
	}

	synth, err := r.registry.Ensure(ctx, backend)
	if err != nil {
		return backend, "", err
	}

	r.log.Debug("synthesizing",
		slog.String("backend", backend.String()),
		slog.String("language", req.Language.Code()),
		slog.Int("chars", len(req.Text)))
	err = synth.Synthesize(ctx, SynthRequest{
		Text:           req.Text,
		Language:       req.Language,
		OutputPath:     req.OutputPath,
		ReferenceVoice: req.ReferenceVoice,
	})
	if err != nil {
		return backend, "", fmt.Errorf("%s synthesis: %w", backend, err)
	}
	return backend, req.OutputPath, nil
}

// CheckReferenceVoice reports whether path is a readable regular file.
func CheckReferenceVoice(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}
