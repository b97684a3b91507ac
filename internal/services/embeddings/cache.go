package embeddings

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

// cachedVector is a cache record keyed by content hash. Model and dimension
// are baked into the key, so switching models never serves stale vectors.
type cachedVector struct {
	Key       string
	Vector    []float32
	CreatedAt time.Time
}

// VectorCache is a persistent embedding cache. Identical span text across
// versions and re-runs costs one vendor call total. A nil cache is valid and
// caches nothing.
type VectorCache struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

// NewVectorCache opens the cache at path. Empty path disables caching.
func NewVectorCache(logger arbor.ILogger, path string) (*VectorCache, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create embedding cache directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open embedding cache: %w", err)
	}

	logger.Debug().Str("path", path).Msg("Embedding cache opened")
	return &VectorCache{store: store, logger: logger}, nil
}

func (c *VectorCache) Get(key string) ([]float32, bool) {
	if c == nil || c.store == nil {
		return nil, false
	}
	var record cachedVector
	if err := c.store.Get(key, &record); err != nil {
		if err != badgerhold.ErrNotFound {
			c.logger.Warn().Err(err).Msg("Embedding cache read failed")
		}
		return nil, false
	}
	return record.Vector, true
}

func (c *VectorCache) Put(key string, vector []float32) {
	if c == nil || c.store == nil {
		return
	}
	record := cachedVector{Key: key, Vector: vector, CreatedAt: time.Now().UTC()}
	if err := c.store.Upsert(key, record); err != nil {
		c.logger.Warn().Err(err).Msg("Embedding cache write failed")
	}
}

func (c *VectorCache) Close() error {
	if c == nil || c.store == nil {
		return nil
	}
	return c.store.Close()
}

// cacheKey binds the cached vector to the exact model, dimension, and text.
func cacheKey(model string, dimensions int, text string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", model, dimensions, text)))
	return hex.EncodeToString(sum[:])
}
