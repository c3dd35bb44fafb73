// Package translate turns English transcripts into the requested target language.
package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/loqalabs/loqa-translate/internal/lang"
)

// ErrUnsupportedTarget is returned in strict mode for targets without a translation code.
var ErrUnsupportedTarget = errors.New("unsupported translation target")

// SourceCode is the FLORES-200 tag of the transcript language.
const SourceCode = "eng_Latn"

// Translator converts English text into target. Backends receive targets
// that already passed the Policy; the gateway returned by New applies it.
type Translator interface {
	Translate(ctx context.Context, text string, target lang.Language) (string, error)
}

// Policy decides what happens to targets the backends cannot handle.
type Policy struct {
	Strict        bool
	DefaultTarget lang.Language
}

// ResolveTarget returns the language a backend will actually translate into.
// Strict policies reject unknown targets; lenient ones substitute the default.
func (p Policy) ResolveTarget(target lang.Language) (lang.Language, error) {
	if _, ok := target.FloresCode(); ok {
		return target, nil
	}
	if p.Strict {
		return lang.LanguageUnknown, fmt.Errorf("%w: %v", ErrUnsupportedTarget, target)
	}
	return p.DefaultTarget, nil
}

type gateway struct {
	backend Translator
	policy  Policy
}

// NewGateway applies policy in front of backend.
func NewGateway(backend Translator, policy Policy) Translator {
	return &gateway{backend: backend, policy: policy}
}

func (g *gateway) Translate(ctx context.Context, text string, target lang.Language) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	resolved, err := g.policy.ResolveTarget(target)
	if err != nil {
		return "", err
	}
	return g.backend.Translate(ctx, text, resolved)
}

// New builds the gateway described by cfg.
func New(cfg config.TranslateConfig) (Translator, error) {
	def, err := lang.ParseLanguage(cfg.DefaultTarget)
	if err != nil {
		return nil, fmt.Errorf("translate.default_target: %w", err)
	}
	policy := Policy{Strict: cfg.Strict, DefaultTarget: def}

	var backend Translator
	switch cfg.Mode {
	case "mock", "":
		backend = NewMockBackend()
	case "exec":
		backend, err = NewExecBackend(cfg.Command)
	case "ollama":
		backend = NewOllamaBackend(cfg.Endpoint, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown translate mode %q", cfg.Mode)
	}
	if err != nil {
		return nil, err
	}
	return NewGateway(backend, policy), nil
}
