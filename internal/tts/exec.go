package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"
)

type execSynth struct {
	cmd         []string
	model       string
	description string
	sampleRate  int
	mu          sync.Mutex
}

type execRequest struct {
	Text           string `json:"text"`
	Language       string `json:"language"`
	OutputPath     string `json:"output_path"`
	ReferenceVoice string `json:"reference_voice,omitempty"`
	Model          string `json:"model,omitempty"`
	Description    string `json:"description,omitempty"`
	SampleRate     int    `json:"sample_rate"`
}

// NewExecSynth runs command once per request with a JSON request on stdin.
// The command must write a WAV file to output_path. Calls are serialized
// because the model processes behind these commands are not reentrant.
func NewExecSynth(command, model, description string, sampleRate int) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return nil, fmt.Errorf("tts command %q: %w", args[0], err)
	}
	return &execSynth{cmd: args, model: model, description: description, sampleRate: sampleRate}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req SynthRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	payload, err := json.Marshal(execRequest{
		Text:           strings.TrimSpace(req.Text),
		Language:       req.Language.Code(),
		OutputPath:     req.OutputPath,
		ReferenceVoice: req.ReferenceVoice,
		Model:          e.model,
		Description:    e.description,
		SampleRate:     e.sampleRate,
	})
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("tts command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	info, err := os.Stat(req.OutputPath)
	if err != nil {
		return fmt.Errorf("tts command produced no output: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("tts command produced an empty file")
	}
	return nil
}
