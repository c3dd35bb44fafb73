// Package artifact names and places the files produced by a pipeline run.
//
// Temporary inputs live under the temp area, transcripts under the output
// area and synthesized audio under a dedicated tts area, so cleanup and
// serving never have to tell artifact classes apart by file name.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/loqalabs/loqa-translate/internal/lang"
)

// RunIDTimeLayout orders run ids chronologically when sorted as strings.
const RunIDTimeLayout = "20060102_150405"

var (
	ErrInvalidRole = errors.New("invalid artifact role")
	ErrInvalidName = errors.New("invalid artifact name")
)

// RunID identifies one pipeline run.
type RunID string

func (id RunID) String() string { return string(id) }

// Role selects the artifact class a path is derived for.
type Role uint8

const (
	RoleTempRaw Role = iota + 1
	RoleTempWAV
	RoleTempVoice
	RoleTranscript
	RoleTTSOutput
)

func (r Role) String() string {
	switch r {
	case RoleTempRaw:
		return "temp_raw"
	case RoleTempWAV:
		return "temp_wav"
	case RoleTempVoice:
		return "temp_voice"
	case RoleTranscript:
		return "transcript"
	case RoleTTSOutput:
		return "tts_output"
	default:
		return "unknown"
	}
}

// Temporary reports whether artifacts of this role are removed when the run ends.
func (r Role) Temporary() bool {
	return r == RoleTempRaw || r == RoleTempWAV || r == RoleTempVoice
}

// Layout is the on-disk placement of the three artifact areas.
type Layout struct {
	TempDir   string
	OutputDir string
	TTSDir    string
}

func LayoutFromConfig(cfg config.StorageConfig) Layout {
	return Layout{TempDir: cfg.TempDir, OutputDir: cfg.OutputDir, TTSDir: cfg.TTSDir}
}

// Ensure creates every area. Existing directories are not an error.
func (l Layout) Ensure() error {
	for _, dir := range []string{l.TempDir, l.OutputDir, l.TTSDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Namer derives run ids and artifact paths.
type Namer struct {
	layout Layout
	clock  func() time.Time
	token  func() string
}

func NewNamer(layout Layout) *Namer {
	return &Namer{
		layout: layout,
		clock:  time.Now,
		token:  randomToken,
	}
}

func (n *Namer) Layout() Layout { return n.layout }

// NewRunID returns <timestamp>_<token>. The timestamp has second
// granularity; the random token keeps runs started in the same second apart.
func (n *Namer) NewRunID() RunID {
	return RunID(n.clock().Format(RunIDTimeLayout) + "_" + n.token())
}

// Path derives the file path for role. The language is only consulted for
// RoleTTSOutput, where it becomes part of the file name.
func (n *Namer) Path(id RunID, role Role, language lang.Language) (string, error) {
	if id == "" || strings.ContainsAny(string(id), `/\`) || strings.Contains(string(id), "..") {
		return "", fmt.Errorf("%w: run id %q", ErrInvalidName, id)
	}
	switch role {
	case RoleTempRaw:
		return filepath.Join(n.layout.TempDir, string(id)+".upload"), nil
	case RoleTempWAV:
		return filepath.Join(n.layout.TempDir, string(id)+".wav"), nil
	case RoleTempVoice:
		return filepath.Join(n.layout.TempDir, string(id)+"_voice.wav"), nil
	case RoleTranscript:
		return filepath.Join(n.layout.OutputDir, string(id)+".txt"), nil
	case RoleTTSOutput:
		if !language.Valid() {
			return "", fmt.Errorf("%w: tts output needs a language", ErrInvalidRole)
		}
		return filepath.Join(n.layout.TTSDir, TTSFileName(id, language)), nil
	default:
		return "", fmt.Errorf("%w: %d", ErrInvalidRole, role)
	}
}

// TTSFileName is the base name of a synthesized audio artifact.
func TTSFileName(id RunID, language lang.Language) string {
	return fmt.Sprintf("tts_%s_%s.wav", id, language.Code())
}

// ResolveTTSFile validates a client supplied file name and joins it onto dir.
// Anything that could escape dir or is not a synthesized artifact is rejected.
func ResolveTTSFile(dir, name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if !strings.HasPrefix(name, "tts_") || filepath.Ext(name) != ".wav" {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(dir, name), nil
}

func randomToken() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:8]
}
