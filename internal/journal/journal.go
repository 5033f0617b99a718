// Package journal keeps a SQLite history of utterances and how they ended.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-speaker/internal/config"
	"github.com/loqalabs/loqa-speaker/internal/speech"
	_ "modernc.org/sqlite"
)

const recordTimeout = 2 * time.Second

// Entry is one finished request.
type Entry struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Voice      string    `json:"voice"`
	Speed      float64   `json:"speed"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Samples    int       `json:"samples"`
	DurationMS int64     `json:"duration_ms"`
	QueuedAt   time.Time `json:"queued_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Journal wraps the SQLite utterance history. In ephemeral mode every
// operation is a no-op.
type Journal struct {
	db    *sql.DB
	cfg   config.JournalConfig
	log   *slog.Logger
	clock func() time.Time
}

func Open(ctx context.Context, cfg config.JournalConfig, log *slog.Logger) (*Journal, error) {
	log = log.With(slog.String("component", "journal"))
	if cfg.RetentionMode == "ephemeral" {
		return &Journal{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	j := &Journal{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := j.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("journal vacuum failed", slog.String("error", err.Error()))
		}
	}
	if err := j.Prune(ctx); err != nil {
		log.Warn("journal prune on start failed", slog.String("error", err.Error()))
	}
	return j, nil
}

func (j *Journal) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS utterances (
    id TEXT PRIMARY KEY,
    text TEXT NOT NULL,
    voice TEXT,
    speed REAL,
    status TEXT NOT NULL,
    error TEXT,
    samples INTEGER,
    duration_ms INTEGER,
    queued_at INTEGER NOT NULL,
    finished_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_utterances_finished ON utterances(finished_at);
`
	if _, err := j.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init journal schema: %w", err)
	}
	return nil
}

func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) enabled() bool {
	return j.cfg.RetentionMode != "ephemeral" && j.db != nil
}

func (j *Journal) Record(ctx context.Context, e Entry) error {
	if !j.enabled() {
		return nil
	}
	if e.FinishedAt.IsZero() {
		e.FinishedAt = j.clock()
	}
	if e.QueuedAt.IsZero() {
		e.QueuedAt = e.FinishedAt
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO utterances(id, text, voice, speed, status, error, samples, duration_ms, queued_at, finished_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status=excluded.status, error=excluded.error, finished_at=excluded.finished_at`,
		e.ID, e.Text, e.Voice, e.Speed, e.Status, e.Error, e.Samples, e.DurationMS,
		e.QueuedAt.UnixMilli(), e.FinishedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("record utterance: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if !j.enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, text, voice, speed, status, error, samples, duration_ms, queued_at, finished_at
		 FROM utterances ORDER BY finished_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var errText sql.NullString
		var queued, finished int64
		if err := rows.Scan(&e.ID, &e.Text, &e.Voice, &e.Speed, &e.Status, &errText, &e.Samples, &e.DurationMS, &queued, &finished); err != nil {
			return nil, err
		}
		e.Error = errText.String
		e.QueuedAt = time.UnixMilli(queued).UTC()
		e.FinishedAt = time.UnixMilli(finished).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune applies retention_days and max_entries.
func (j *Journal) Prune(ctx context.Context) (err error) {
	if !j.enabled() {
		return nil
	}
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if j.cfg.RetentionDays > 0 {
		cutoff := j.clock().Add(-time.Duration(j.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM utterances WHERE finished_at < ?`, cutoff.UnixMilli()); err != nil {
			return err
		}
	}
	if j.cfg.MaxEntries > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM utterances WHERE id IN (
			SELECT id FROM utterances ORDER BY finished_at DESC, rowid DESC LIMIT -1 OFFSET ?
		)`, j.cfg.MaxEntries)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// HandleOutcome records a pipeline outcome. It is meant to be registered as
// a pipeline listener.
func (j *Journal) HandleOutcome(out speech.Outcome) {
	if !j.enabled() {
		return
	}
	entry := Entry{
		ID:         out.Request.ID,
		Text:       out.Request.Text,
		Voice:      out.Request.Voice,
		Speed:      out.Request.Speed,
		Status:     string(out.Status),
		Samples:    out.Samples,
		DurationMS: out.PlayMillis(),
		QueuedAt:   out.Request.QueuedAt,
		FinishedAt: out.FinishedAt,
	}
	if out.Err != nil {
		entry.Error = out.Err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := j.Record(ctx, entry); err != nil {
		j.log.Warn("failed to record utterance", slog.String("request_id", entry.ID), slog.String("error", err.Error()))
	}
}
