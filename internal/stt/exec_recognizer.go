package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/loqalabs/loqa-translate/internal/media"
	"github.com/mattn/go-shellwords"
)

type execRecognizer struct {
	argv      []string
	modelPath string
}

type execResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// NewExecRecognizer runs cfg.Command once per transcription. The command
// receives --audio <wav> --language <source code> [--model <path>] and
// prints {"text": ..., "confidence": ...} on stdout.
func NewExecRecognizer(cfg config.STTConfig) (Recognizer, error) {
	argv, err := shellwords.NewParser().Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return &execRecognizer{argv: argv, modelPath: cfg.ModelPath}, nil
}

func (r *execRecognizer) args(audioPath string) []string {
	args := append([]string{}, r.argv[1:]...)
	args = append(args, "--audio", audioPath, "--language", SourceLanguage.Code())
	if r.modelPath != "" {
		args = append(args, "--model", r.modelPath)
	}
	return args
}

// Transcribe stages samples in a private WAV file, so concurrent calls
// never share input.
func (r *execRecognizer) Transcribe(ctx context.Context, samples []float32) (TranscriptResult, error) {
	file, err := os.CreateTemp("", "loqa_stt_*.wav")
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := media.EncodeWAV(file, samples, SampleRate); err != nil {
		return TranscriptResult{}, err
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.argv[0], r.args(file.Name())...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return TranscriptResult{}, fmt.Errorf("stt command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return TranscriptResult{}, fmt.Errorf("decode stt response: %w", err)
	}
	return TranscriptResult{Text: resp.Text, Confidence: resp.Confidence}, nil
}
