// Package cache stores preview summaries on disk, keyed by entry path and
// modification time, with a bounded in-memory front.
package cache

import (
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kiorg/kiorg/internal/entry"
)

const (
	// DefaultMemoryEntries is the size of the in-memory front.
	DefaultMemoryEntries = 256

	// EnvCacheDir overrides the cache directory.
	EnvCacheDir = "KIORG_CACHE_DIR"

	tempSuffix   = ".tmp"
	staleTempAge = time.Minute
)

var validKey = regexp.MustCompile(`^[0-9a-f]{16}\.-?[0-9]+$`)

// CacheError reports a failed cache operation.
type CacheError struct {
	Key string
	Op  string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *CacheError) Unwrap() error {
	return e.Err
}

// Options configures a Cache.
type Options struct {
	// Dir is the cache directory. Empty selects DefaultDir.
	Dir string
	// MemoryEntries sizes the in-memory front. Zero selects
	// DefaultMemoryEntries and a negative value disables it.
	MemoryEntries int
	Logger        hclog.Logger
}

// Cache is a disk cache of preview content. Multiple processes may share
// the same directory.
type Cache struct {
	dir    string
	mem    *lru.Cache[string, Content]
	logger hclog.Logger
}

// New creates a cache. The directory is created on first save.
func New(opts Options) (*Cache, error) {
	dir := opts.Dir
	if dir == "" {
		var err error
		dir, err = DefaultDir()
		if err != nil {
			return nil, err
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	c := &Cache{dir: dir, logger: logger.Named("cache")}

	size := opts.MemoryEntries
	if size == 0 {
		size = DefaultMemoryEntries
	}
	if size > 0 {
		mem, err := lru.New[string, Content](size)
		if err != nil {
			return nil, err
		}
		c.mem = mem
	}
	return c, nil
}

// DefaultDir returns the cache directory shared by every kiorg process. It
// is resolved once.
var DefaultDir = sync.OnceValues(resolveDefaultDir)

func resolveDefaultDir() (string, error) {
	if dir := os.Getenv(EnvCacheDir); dir != "" {
		return dir, nil
	}

	root, err := os.UserCacheDir()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return "", fmt.Errorf("failed to locate cache directory: %w", errors.Join(err, herr))
		}
		root = filepath.Join(home, ".cache")
	}
	return filepath.Join(root, "kiorg"), nil
}

// CalculateKey derives the cache key of an entry: the FNV-1a hash of its
// path and its modification time in nanoseconds.
func CalculateKey(meta *entry.Meta) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(meta.Path))
	return fmt.Sprintf("%016x.%d", h.Sum64(), meta.Modified.UnixNano())
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Path returns the file a key is stored in.
func (c *Cache) Path(key string) (string, error) {
	if !validKey.MatchString(key) {
		return "", &CacheError{Key: key, Op: "path", Err: errors.New("invalid key")}
	}
	return filepath.Join(c.dir, key), nil
}

// Save stores content under key. Readers never observe a partial file.
func (c *Cache) Save(key string, content Content) error {
	path, err := c.Path(key)
	if err != nil {
		return err
	}

	data, err := Marshal(content)
	if err != nil {
		return &CacheError{Key: key, Op: "encode", Err: err}
	}

	// #nosec G301 -- cache directory holds previews only
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return &CacheError{Key: key, Op: "save", Err: err}
	}
	if err := c.writeAtomic(path, data); err != nil {
		return &CacheError{Key: key, Op: "save", Err: err}
	}

	if c.mem != nil {
		c.mem.Add(key, content)
	}
	c.logger.Debug("saved", "key", key, "bytes", len(data))
	return nil
}

func (c *Cache) writeAtomic(path string, data []byte) error {
	tmp := path + tempSuffix

	f, err := createTemp(tmp)
	if errors.Is(err, fs.ErrExist) {
		// A temp file left by a writer that died mid-save is removed once.
		info, serr := os.Stat(tmp)
		if serr != nil || time.Since(info.ModTime()) < staleTempAge {
			return fmt.Errorf("concurrent write in progress: %w", err)
		}
		c.logger.Debug("removing stale temp file", "path", tmp)
		if rerr := os.Remove(tmp); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
			return rerr
		}
		f, err = createTemp(tmp)
	}
	if err != nil {
		return err
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func createTemp(path string) (*os.File, error) {
	// #nosec G302 G304 -- path is built from a validated key
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
}

// Load returns the content stored under key. Missing, unreadable and
// corrupt files are all misses. A memory hit still requires the file to
// exist, so deletes by other processes sharing the directory are seen.
func (c *Cache) Load(key string) (Content, bool) {
	if c.mem != nil {
		if content, ok := c.mem.Get(key); ok {
			if c.onDisk(key) {
				return content, true
			}
			c.mem.Remove(key)
			return nil, false
		}
	}

	content, err := c.load(key)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Debug("cache miss", "key", key, "error", err)
		}
		return nil, false
	}

	if c.mem != nil {
		c.mem.Add(key, content)
	}
	return content, true
}

func (c *Cache) onDisk(key string) bool {
	path, err := c.Path(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

func (c *Cache) load(key string) (Content, error) {
	path, err := c.Path(key)
	if err != nil {
		return nil, err
	}

	// #nosec G304 -- path is built from a validated key
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}

// Delete removes the content stored under key. Deleting a missing key is
// not an error.
func (c *Cache) Delete(key string) error {
	path, err := c.Path(key)
	if err != nil {
		return err
	}

	if c.mem != nil {
		c.mem.Remove(key)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &CacheError{Key: key, Op: "delete", Err: err}
	}
	return nil
}

// Invalidate deletes the cached content of an entry.
func (c *Cache) Invalidate(meta *entry.Meta) error {
	return c.Delete(CalculateKey(meta))
}
