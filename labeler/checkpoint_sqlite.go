package labeler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const (
	snapshotCheckpoint = "checkpoint"
	snapshotFinal      = "final"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
	kind          TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL,
	last_position INTEGER NOT NULL,
	processed     INTEGER NOT NULL,
	failed        TEXT NOT NULL,
	complete      INTEGER NOT NULL,
	updated_at    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS records (
	kind       TEXT NOT NULL,
	position   INTEGER NOT NULL,
	text       TEXT NOT NULL,
	categories TEXT NOT NULL,
	PRIMARY KEY (kind, position)
);`

// SQLiteStore keeps snapshots in a SQLite database. Each save replaces the
// snapshot of its kind inside one transaction.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed creates) the database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating checkpoint directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Load returns the progress snapshot, falling back to the final one.
func (s *SQLiteStore) Load(ctx context.Context) (*Checkpoint, error) {
	for _, kind := range []string{snapshotCheckpoint, snapshotFinal} {
		cp, err := s.load(ctx, kind)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return cp, nil
	}
	return nil, nil
}

// SaveCheckpoint replaces the progress snapshot.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	return s.save(ctx, snapshotCheckpoint, cp)
}

// SaveFinal replaces the final snapshot.
func (s *SQLiteStore) SaveFinal(ctx context.Context, cp Checkpoint) error {
	return s.save(ctx, snapshotFinal, cp)
}

func (s *SQLiteStore) load(ctx context.Context, kind string) (*Checkpoint, error) {
	var (
		cp        Checkpoint
		failed    string
		complete  int
		updatedAt string
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, last_position, processed, failed, complete, updated_at FROM snapshots WHERE kind = ?`, kind)
	if err := row.Scan(&cp.RunID, &cp.LastPosition, &cp.Processed, &failed, &complete, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(failed), &cp.Failed); err != nil {
		return nil, fmt.Errorf("decoding failed positions: %w", err)
	}
	if len(cp.Failed) == 0 {
		cp.Failed = nil
	}
	cp.Complete = complete != 0
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		cp.UpdatedAt = t
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT position, text, categories FROM records WHERE kind = ? ORDER BY position`, kind)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			rec  AnalysisRecord
			cats string
		)
		if err := rows.Scan(&rec.Position, &rec.Text, &cats); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		if err := json.Unmarshal([]byte(cats), &rec.Categories); err != nil {
			return nil, fmt.Errorf("decoding record %d: %w", rec.Position, err)
		}
		cp.Records = append(cp.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}
	return &cp, nil
}

func (s *SQLiteStore) save(ctx context.Context, kind string, cp Checkpoint) error {
	failed, err := json.Marshal(cp.Failed)
	if err != nil {
		return fmt.Errorf("encoding failed positions: %w", err)
	}
	if cp.Failed == nil {
		failed = []byte("[]")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE kind = ?`, kind); err != nil {
		return fmt.Errorf("clearing records: %w", err)
	}
	complete := 0
	if cp.Complete {
		complete = 1
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO snapshots (kind, run_id, last_position, processed, failed, complete, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind) DO UPDATE SET
			run_id = excluded.run_id,
			last_position = excluded.last_position,
			processed = excluded.processed,
			failed = excluded.failed,
			complete = excluded.complete,
			updated_at = excluded.updated_at`,
		kind, cp.RunID, cp.LastPosition, cp.Processed, string(failed), complete,
		cp.UpdatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO records (kind, position, text, categories) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing record insert: %w", err)
	}
	defer stmt.Close()
	for _, rec := range cp.Records {
		cats, err := json.Marshal(rec.Categories)
		if err != nil {
			return fmt.Errorf("encoding record %d: %w", rec.Position, err)
		}
		if _, err := stmt.ExecContext(ctx, kind, rec.Position, rec.Text, string(cats)); err != nil {
			return fmt.Errorf("writing record %d: %w", rec.Position, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}
	return nil
}
