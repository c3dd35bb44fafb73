package pipeline

import (
	"os"

	"github.com/loqalabs/loqa-translate/internal/artifact"
	"github.com/loqalabs/loqa-translate/internal/lang"
)

// Stage is the progress of one run. Stages only move forward; StageFailed
// can be entered from any stage that is not terminal.
type Stage uint8

const (
	StageReceived Stage = iota
	StageConverted
	StageTranscribed
	StageTranslated
	StageSynthesized
	StagePersisted
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageReceived:
		return "received"
	case StageConverted:
		return "converted"
	case StageTranscribed:
		return "transcribed"
	case StageTranslated:
		return "translated"
	case StageSynthesized:
		return "synthesized"
	case StagePersisted:
		return "persisted"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is allowed.
func (s Stage) Terminal() bool {
	return s == StagePersisted || s == StageFailed
}

// run is the state threaded through one request.
type run struct {
	id       artifact.RunID
	language lang.Language
	engine   lang.Engine
	stage    Stage
	failedAt Stage

	// attempting is the stage the current step works towards. It stays
	// StageReceived until the first step starts.
	attempting Stage

	tempPaths   []string
	outputPaths []string
}

// advance moves the run to next. It refuses to go backwards or to leave a
// terminal stage.
func (r *run) advance(next Stage) bool {
	if r.stage.Terminal() || next <= r.stage || next == StageFailed {
		return false
	}
	r.stage = next
	return true
}

// attempt marks next as the stage in progress.
func (r *run) attempt(next Stage) { r.attempting = next }

// fail records the stage that was being attempted and enters StageFailed.
// Failures before the first step are recorded as StageReceived.
func (r *run) fail() bool {
	if r.stage.Terminal() {
		return false
	}
	r.failedAt = r.attempting
	r.stage = StageFailed
	return true
}

func (r *run) trackTemp(path string) { r.tempPaths = append(r.tempPaths, path) }
func (r *run) trackOutput(path string) { r.outputPaths = append(r.outputPaths, path) }

// removeTemp deletes every temporary artifact of the run. Missing files
// are fine: a stage may have failed before creating its output.
func (r *run) removeTemp() []error {
	return removeAll(r.tempPaths)
}

// discardOutputs deletes durable artifacts written by a run that did not
// reach StagePersisted.
func (r *run) discardOutputs() []error {
	if r.stage == StagePersisted {
		return nil
	}
	return removeAll(r.outputPaths)
}

func removeAll(paths []string) []error {
	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errs
}
