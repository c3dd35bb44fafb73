package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-translate/internal/config"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run id has no ledger entry.
var ErrNotFound = errors.New("run not found")

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run is one pipeline invocation as recorded in the ledger.
type Run struct {
	RunID          string    `json:"run_id"`
	Language       string    `json:"language"`
	Engine         string    `json:"engine"`
	Backend        string    `json:"backend,omitempty"`
	Status         string    `json:"status"`
	Stage          string    `json:"stage"`
	ErrorKind      string    `json:"error_kind,omitempty"`
	ErrorMessage   string    `json:"error,omitempty"`
	English        string    `json:"english,omitempty"`
	Translated     string    `json:"translated,omitempty"`
	TTSAudioFile   string    `json:"tts_audio_file,omitempty"`
	TranscriptFile string    `json:"transcript_file,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	CompletedAt    time.Time `json:"completed_at,omitempty"`
}

// StageEvent is a timeline entry for one stage transition of a run.
type StageEvent struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Stage     string    `json:"stage"`
	Detail    string    `json:"detail,omitempty"`
	Duration  int64     `json:"duration_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// Outcome closes a run.
type Outcome struct {
	Status         string
	Stage          string
	Backend        string
	ErrorKind      string
	ErrorMessage   string
	English        string
	Translated     string
	TTSAudioFile   string
	TranscriptFile string
}

// Store wraps a SQLite-backed run ledger.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the run ledger according to config. Ephemeral mode keeps
// nothing and every write is a no-op.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "eventstore"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    language TEXT NOT NULL,
    engine TEXT NOT NULL,
    backend TEXT,
    status TEXT NOT NULL,
    stage TEXT NOT NULL,
    error_kind TEXT,
    error_message TEXT,
    english TEXT,
    translated TEXT,
    tts_audio_file TEXT,
    transcript_file TEXT,
    created_at INTEGER NOT NULL,
    completed_at INTEGER
);
CREATE TABLE IF NOT EXISTS run_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    stage TEXT NOT NULL,
    detail TEXT,
    duration_ms INTEGER,
    created_at INTEGER NOT NULL,
    FOREIGN KEY(run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_run_events_run_created ON run_events(run_id, created_at);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) disabled() bool {
	return s == nil || s.cfg.RetentionMode == "ephemeral" || s.db == nil
}

// StartRun inserts the ledger row of a new run.
func (s *Store) StartRun(ctx context.Context, run Run) error {
	if s.disabled() {
		return nil
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.clock().UTC()
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, language, engine, status, stage, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Language, run.Engine, run.Status, run.Stage, run.CreatedAt.UnixMilli())
	return err
}

// AppendStage records a stage transition and moves the run's current stage.
func (s *Store) AppendStage(ctx context.Context, evt StageEvent) error {
	if s.disabled() {
		return nil
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO run_events(run_id, stage, detail, duration_ms, created_at) VALUES(?, ?, ?, ?, ?)`,
		evt.RunID, evt.Stage, evt.Detail, evt.Duration, evt.CreatedAt.UnixMilli()); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `UPDATE runs SET stage = ? WHERE run_id = ?`, evt.Stage, evt.RunID); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

// CompleteRun stores the terminal state of a run.
func (s *Store) CompleteRun(ctx context.Context, runID string, out Outcome) error {
	if s.disabled() {
		return nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, stage = ?, backend = ?, error_kind = ?, error_message = ?,
		   english = ?, translated = ?, tts_audio_file = ?, transcript_file = ?, completed_at = ?
		 WHERE run_id = ?`,
		out.Status, out.Stage, out.Backend, out.ErrorKind, out.ErrorMessage,
		out.English, out.Translated, out.TTSAudioFile, out.TranscriptFile, s.clock().UTC().UnixMilli(),
		runID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return nil
}

// GetRun loads the ledger row of runID.
func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	if s.disabled() {
		return Run{}, ErrNotFound
	}
	var r Run
	var backend, errKind, errMsg, english, translated, tts, txt sql.NullString
	var created int64
	var completed sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, language, engine, backend, status, stage, error_kind, error_message,
		        english, translated, tts_audio_file, transcript_file, created_at, completed_at
		 FROM runs WHERE run_id = ?`, runID).
		Scan(&r.RunID, &r.Language, &r.Engine, &backend, &r.Status, &r.Stage, &errKind, &errMsg,
			&english, &translated, &tts, &txt, &created, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, err
	}
	r.Backend = backend.String
	r.ErrorKind = errKind.String
	r.ErrorMessage = errMsg.String
	r.English = english.String
	r.Translated = translated.String
	r.TTSAudioFile = tts.String
	r.TranscriptFile = txt.String
	r.CreatedAt = time.UnixMilli(created).UTC()
	if completed.Valid {
		r.CompletedAt = time.UnixMilli(completed.Int64).UTC()
	}
	return r, nil
}

// ListRunEvents retrieves up to limit stage events for a run ordered ascending by time.
func (s *Store) ListRunEvents(ctx context.Context, runID string, limit int) ([]StageEvent, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, stage, detail, duration_ms, created_at
		 FROM run_events WHERE run_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []StageEvent
	for rows.Next() {
		var (
			e       StageEvent
			detail  sql.NullString
			dur     sql.NullInt64
			created int64
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.Stage, &detail, &dur, &created); err != nil {
			return nil, err
		}
		e.Detail = detail.String
		e.Duration = dur.Int64
		e.CreatedAt = time.UnixMilli(created).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) error {
	if s.disabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UTC().UnixMilli()
		if _, err = tx.ExecContext(ctx, `DELETE FROM run_events WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxRuns > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id IN (
			SELECT run_id FROM runs ORDER BY created_at DESC, run_id DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxRuns)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
