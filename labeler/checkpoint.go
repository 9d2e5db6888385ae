package labeler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Store persists checkpoints and the final artifact. Every save replaces
// the previous snapshot; a failed save leaves the previous one intact.
type Store interface {
	// Load returns the most recent snapshot, or nil when none exists.
	Load(ctx context.Context) (*Checkpoint, error)
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error
	SaveFinal(ctx context.Context, cp Checkpoint) error
	Close() error
}

// StoreOpener opens the store for one run. The orchestrator closes it.
type StoreOpener func(ctx context.Context) (Store, error)

// OpenStore returns an opener for the configured driver. "{timestamp}" in
// paths is expanded with now.
func OpenStore(cfg CheckpointConfig, now time.Time) StoreOpener {
	path := ExpandPath(cfg.Path, now)
	final := ExpandPath(cfg.FinalPath, now)
	return func(ctx context.Context) (Store, error) {
		switch cfg.Driver {
		case DriverSQLite:
			return NewSQLiteStore(ctx, path)
		case DriverJSON, "":
			return NewJSONFileStore(path, final), nil
		default:
			return nil, fmt.Errorf("unknown checkpoint driver %q", cfg.Driver)
		}
	}
}

// JSONFileStore keeps the progress snapshot and the final artifact as JSON
// documents written via temp file and rename.
type JSONFileStore struct {
	progressPath string
	finalPath    string
}

// NewJSONFileStore creates a store. An empty finalPath writes the final
// artifact over the progress file.
func NewJSONFileStore(progressPath, finalPath string) *JSONFileStore {
	if finalPath == "" {
		finalPath = progressPath
	}
	return &JSONFileStore{progressPath: progressPath, finalPath: finalPath}
}

// Load reads the progress file, falling back to the final artifact.
func (s *JSONFileStore) Load(_ context.Context) (*Checkpoint, error) {
	for _, path := range []string{s.progressPath, s.finalPath} {
		cp, err := ReadCheckpointFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return cp, nil
	}
	return nil, nil
}

// SaveCheckpoint overwrites the progress file.
func (s *JSONFileStore) SaveCheckpoint(_ context.Context, cp Checkpoint) error {
	return writeJSONAtomic(s.progressPath, cp)
}

// SaveFinal writes the final artifact.
func (s *JSONFileStore) SaveFinal(_ context.Context, cp Checkpoint) error {
	return writeJSONAtomic(s.finalPath, cp)
}

// Close is a no-op.
func (s *JSONFileStore) Close() error { return nil }

// ReadCheckpointFile parses a JSON checkpoint or final artifact.
func ReadCheckpointFile(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	sortRecords(cp.Records)
	return &cp, nil
}

func writeJSONAtomic(path string, v any) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}
