package protocol

import "time"

// RunEvent describes a pipeline stage transition broadcast on the bus.
type RunEvent struct {
	RunID      string    `json:"run_id"`
	Stage      string    `json:"stage"`
	Status     string    `json:"status"`
	Language   string    `json:"language"`
	Engine     string    `json:"engine"`
	Backend    string    `json:"backend,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	SubjectRunStagePrefix = "translate.run.stage"
	SubjectRunCompleted   = "translate.run.completed"
	SubjectRunFailed      = "translate.run.failed"
	SubjectRunAll         = "translate.run.>"

	StreamRuns = "TRANSLATE_RUNS"
)

// Subject returns the subject evt is published on.
func (evt RunEvent) Subject() string {
	switch evt.Status {
	case "completed":
		return SubjectRunCompleted
	case "failed":
		return SubjectRunFailed
	default:
		return SubjectRunStagePrefix + "." + evt.Stage
	}
}
