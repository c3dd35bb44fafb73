// Package media converts uploaded recordings into the 16 kHz mono PCM the
// recognizer consumes.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/go-audio/wav"
	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/mattn/go-shellwords"
)

// ErrUnsupportedFormat marks an input the transcoder could not read.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// TargetSampleRate is the rate every transcoder writes.
const TargetSampleRate = 16000

// Transcoder converts an arbitrary upload at src into a WAV file at dst.
type Transcoder interface {
	Convert(ctx context.Context, src, dst string) error
}

// NewTranscoder builds the transcoder selected in cfg.
func NewTranscoder(cfg config.MediaConfig) (Transcoder, error) {
	switch cfg.Transcoder {
	case "wav":
		return WAVTranscoder{}, nil
	case "ffmpeg", "":
		return NewFFmpegTranscoder(cfg.FFmpegCommand)
	default:
		return nil, fmt.Errorf("unknown transcoder %q", cfg.Transcoder)
	}
}

type commandRunner func(ctx context.Context, name string, args ...string) (stderr string, err error)

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.String(), err
}

// FFmpegTranscoder shells out to ffmpeg.
type FFmpegTranscoder struct {
	cmd []string
	run commandRunner
}

func NewFFmpegTranscoder(command string) (*FFmpegTranscoder, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse ffmpeg command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("ffmpeg command is empty")
	}
	return &FFmpegTranscoder{cmd: args, run: runCommand}, nil
}

func (t *FFmpegTranscoder) Convert(ctx context.Context, src, dst string) error {
	args := append([]string{}, t.cmd[1:]...)
	args = append(args,
		"-hide_banner",
		"-loglevel", "error",
		"-i", src,
		"-vn",
		"-ar", strconv.Itoa(TargetSampleRate),
		"-ac", "1",
		"-acodec", "pcm_s16le",
		"-y",
		dst,
	)
	stderr, err := t.run(ctx, t.cmd[0], args...)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg: %w", ctx.Err())
		}
		_ = os.Remove(dst)
		return fmt.Errorf("%w: ffmpeg: %v: %s", ErrUnsupportedFormat, err, strings.TrimSpace(stderr))
	}
	return nil
}

// WAVTranscoder accepts WAV uploads only and copies them unchanged. The
// decoder resamples and downmixes afterwards, so no ffmpeg install is needed.
type WAVTranscoder struct{}

func (WAVTranscoder) Convert(_ context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer in.Close()

	if !wav.NewDecoder(in).IsValidFile() {
		return fmt.Errorf("%w: not a wav file", ErrUnsupportedFormat)
	}
	if _, err := in.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind upload: %w", err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy wav: %w", err)
	}
	return out.Close()
}
