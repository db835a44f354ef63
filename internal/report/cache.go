package report

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Cache is a file-based cache of generated report artifacts.
type Cache struct {
	dir    string
	maxAge time.Duration
}

// NewCache creates a cache in dir. Entries older than maxAge are ignored.
func NewCache(dir string, maxAge time.Duration) *Cache {
	if err := os.MkdirAll(dir, 0755); err != nil {
		// The cache is optional; generation still works without it.
		log.Printf("report: could not create cache directory: %v", err)
	}
	return &Cache{dir: dir, maxAge: maxAge}
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, sanitizeKey(key))
}

// sanitizeKey keeps keys to a flat file name.
func sanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, key)
}

// Get returns a cached entry if it exists and is not stale.
func (c *Cache) Get(key string) ([]byte, bool) {
	path := c.path(key)
	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	if c.maxAge > 0 && time.Since(info.ModTime()) > c.maxAge {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return data, true
}

func (c *Cache) Set(key string, data []byte) error {
	return os.WriteFile(c.path(key), data, 0644)
}

// List returns the keys currently on disk with the given prefix.
func (c *Cache) List(prefix string) []string {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil
	}
	var keys []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			keys = append(keys, entry.Name())
		}
	}
	return keys
}
