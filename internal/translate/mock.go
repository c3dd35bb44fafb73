package translate

import (
	"context"
	"strings"

	"github.com/loqalabs/loqa-translate/internal/lang"
)

type mockBackend struct{}

// NewMockBackend prefixes the text with the target code.
func NewMockBackend() Translator { return &mockBackend{} }

func (m *mockBackend) Translate(ctx context.Context, text string, target lang.Language) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "[" + target.Code() + "] " + strings.TrimSpace(text), nil
}
