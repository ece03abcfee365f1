package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Cache stores model responses on disk, one file per prompt hash.
// Entries survive restarts so repeated runs never re-summarize
// unchanged content.
type Cache struct {
	dir string
}

// NewCache creates the cache directory if needed.
func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}
	return &Cache{dir: dir}, nil
}

// Key hashes model, system prompt and user prompt into a cache key.
// When contentOnly is set the key covers only the user prompt, so a
// response served by any model satisfies later calls for the same
// content.
func Key(model, system, user string, contentOnly bool) string {
	var sum [32]byte
	if contentOnly {
		sum = sha256.Sum256([]byte(user))
	} else {
		sum = sha256.Sum256([]byte(model + "|" + system + "|" + user))
	}
	return hex.EncodeToString(sum[:])
}

// Get returns the cached response for key, or "" when absent.
func (c *Cache) Get(key string) string {
	data, err := os.ReadFile(filepath.Join(c.dir, key))
	if err != nil {
		return ""
	}
	return string(data)
}

// Put stores a response under key.
func (c *Cache) Put(key, result string) error {
	if err := os.WriteFile(filepath.Join(c.dir, key), []byte(result), 0o644); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Clean removes entries older than maxAge. With dryRun it only counts.
// Returns the number of entries removed and bytes freed.
func (c *Cache) Clean(maxAge time.Duration, dryRun bool) (removed int, bytesFreed int64, err error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("failed to read cache directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		bytesFreed += info.Size()
		if !dryRun {
			if err := os.Remove(filepath.Join(c.dir, entry.Name())); err != nil {
				continue
			}
		}
		removed++
	}
	return removed, bytesFreed, nil
}
