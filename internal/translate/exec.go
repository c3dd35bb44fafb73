package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-translate/internal/lang"
	"github.com/mattn/go-shellwords"
)

type execBackend struct {
	cmd []string
	mu  sync.Mutex
}

type execRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type execResponse struct {
	Text string `json:"text"`
}

// NewExecBackend pipes {"text","source","target"} to command on stdin and
// reads {"text"} from stdout. Source and target are FLORES-200 tags.
func NewExecBackend(command string) (Translator, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse translate command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("translate command empty")
	}
	return &execBackend{cmd: args}, nil
}

func (b *execBackend) Translate(ctx context.Context, text string, target lang.Language) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	code, _ := target.FloresCode()
	input, err := json.Marshal(execRequest{Text: text, Source: SourceCode, Target: code})
	if err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, b.cmd[0], b.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("translate exec command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var resp execResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return "", fmt.Errorf("decode translate exec response: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
