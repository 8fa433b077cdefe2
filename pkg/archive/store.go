// Package archive keeps exported sessions in a SQLite database.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/teslashibe/go-eyetouch/pkg/engine"
	"github.com/teslashibe/go-eyetouch/pkg/results"
	"github.com/teslashibe/go-eyetouch/pkg/trial"
)

// ErrNotFound is returned when a session id is not archived.
var ErrNotFound = errors.New("archive: session not found")

// SessionInfo is one archived session's headline numbers.
type SessionInfo struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	Trials      int       `json:"trials"`
	SuccessRate float64   `json:"success_rate"`
	Accuracy    float64   `json:"average_accuracy"`
}

// Store persists ended sessions.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the archive at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	s, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database and creates the tables.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to migrate archive: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		ended_at TEXT NOT NULL,
		config JSON,
		trials INTEGER NOT NULL,
		success_rate REAL NOT NULL,
		accuracy REAL NOT NULL
	);
	CREATE TABLE IF NOT EXISTS trials (
		session_id TEXT NOT NULL REFERENCES sessions(id),
		seq INTEGER NOT NULL,
		trial_id TEXT NOT NULL,
		trial_type TEXT NOT NULL,
		outcome TEXT NOT NULL,
		start_ts REAL NOT NULL,
		end_ts REAL NOT NULL,
		accuracy REAL NOT NULL,
		record JSON NOT NULL,
		PRIMARY KEY (session_id, seq)
	);`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Save archives an ended session. Saving the same session twice replaces it.
func (s *Store) Save(ctx context.Context, sess *engine.Session) error {
	if !sess.Ended() {
		return fmt.Errorf("%w: %s", results.ErrSessionOpen, sess.ID)
	}
	sum := results.Summarize(sess)
	cfgJSON, err := json.Marshal(sess.Config)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM trials WHERE session_id = ?`, sess.ID); err != nil {
		return fmt.Errorf("failed to clear trials: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO sessions
		(id, started_at, ended_at, config, trials, success_rate, accuracy)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID,
		sess.StartedAt.UTC().Format(time.RFC3339Nano),
		sess.EndedAt.UTC().Format(time.RFC3339Nano),
		string(cfgJSON),
		sum.Total, sum.SuccessRate, sum.MeanAccuracy,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	for i, r := range sess.Records() {
		recJSON, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode trial %s: %w", r.ID, err)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO trials
			(session_id, seq, trial_id, trial_type, outcome, start_ts, end_ts, accuracy, record)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, i, r.ID, string(r.Type), string(r.Outcome), r.Start, r.End, results.Accuracy(r), string(recJSON),
		)
		if err != nil {
			return fmt.Errorf("failed to insert trial %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// List returns archived sessions, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, ended_at, trials, success_rate, accuracy
		FROM sessions
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []SessionInfo
	for rows.Next() {
		var (
			info           SessionInfo
			started, ended string
		)
		if err := rows.Scan(&info.ID, &started, &ended, &info.Trials, &info.SuccessRate, &info.Accuracy); err != nil {
			return nil, err
		}
		info.StartedAt = parseTime(started)
		info.EndedAt = parseTime(ended)
		out = append(out, info)
	}
	return out, rows.Err()
}

// Load restores an archived session as an ended session.
func (s *Store) Load(ctx context.Context, id string) (*engine.Session, error) {
	var started, ended string
	var cfgJSON sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT started_at, ended_at, config FROM sessions WHERE id = ?`, id,
	).Scan(&started, &ended, &cfgJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	var cfg engine.Config
	if cfgJSON.Valid && cfgJSON.String != "" {
		if err := json.Unmarshal([]byte(cfgJSON.String), &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM trials WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var recs []trial.Record
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var r trial.Record
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("failed to decode trial: %w", err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return engine.NewEndedSession(id, parseTime(started), parseTime(ended), cfg, recs), nil
}

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
