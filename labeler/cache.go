package labeler

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	gocache "github.com/patrickmn/go-cache"
)

// CachedScorer memoizes pair scores in memory and, when dir is set, on disk.
// Only deterministic backends should be wrapped.
type CachedScorer struct {
	inner  Scorer
	dir    string
	mem    *gocache.Cache
	logger *slog.Logger
}

// NewCachedScorer wraps inner. An empty dir keeps the cache in memory only.
func NewCachedScorer(inner Scorer, dir string, logger *slog.Logger) *CachedScorer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &CachedScorer{
		inner:  inner,
		dir:    dir,
		mem:    gocache.New(gocache.NoExpiration, 0),
		logger: logger,
	}
}

// Close closes the wrapped scorer.
func (c *CachedScorer) Close() error {
	c.mem.Flush()
	return c.inner.Close()
}

// ModelID reports the wrapped scorer's identity.
func (c *CachedScorer) ModelID() string { return c.inner.ModelID() }

// Score returns a cached score or asks the wrapped scorer.
func (c *CachedScorer) Score(ctx context.Context, premise, hypothesis string) (float64, error) {
	key := c.cacheKey(premise, hypothesis)
	if v, ok := c.mem.Get(key); ok {
		return v.(float64), nil
	}
	if v, err := c.loadFromDisk(key); err == nil {
		c.mem.Set(key, v, gocache.NoExpiration)
		return v, nil
	}
	v, err := c.inner.Score(ctx, premise, hypothesis)
	if err != nil {
		return 0, err
	}
	c.mem.Set(key, v, gocache.NoExpiration)
	if err := c.saveToDisk(key, v); err != nil {
		c.logger.Debug("score cache write failed", "error", err)
	}
	return v, nil
}

func (c *CachedScorer) cacheKey(premise, hypothesis string) string {
	h := sha1.New()
	_, _ = io.WriteString(h, c.inner.ModelID())
	_, _ = io.WriteString(h, "|")
	_, _ = io.WriteString(h, premise)
	_, _ = io.WriteString(h, "|")
	_, _ = io.WriteString(h, hypothesis)
	return hex.EncodeToString(h.Sum(nil))
}

func (c *CachedScorer) loadFromDisk(key string) (float64, error) {
	if c.dir == "" {
		return 0, os.ErrNotExist
	}
	path := filepath.Join(c.dir, key+".bin")
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("cache entry has %d bytes: %s", len(data), path)
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(data)), nil
}

func (c *CachedScorer) saveToDisk(key string, v float64) error {
	if c.dir == "" {
		return nil
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(c.dir, key+".bin")
	tmp := path + ".tmp"
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
