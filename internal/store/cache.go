// Package store keeps parsed profiles in memory for the MCP server.
package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"vmprof-mcp/internal/vmprof"
)

// ErrNotLoaded is returned for paths that were never loaded or were evicted.
var ErrNotLoaded = errors.New("profile not loaded, use load_profile tool first")

// LoadFunc parses the profile at path.
type LoadFunc func(path string) (*vmprof.Profile, error)

// Cache maps absolute file paths to parsed profiles. With Watch running,
// rewritten files are reparsed and removed files are evicted.
type Cache struct {
	mu       sync.RWMutex
	profiles map[string]*vmprof.Profile
	dirs     map[string]bool
	timers   map[string]*time.Timer

	load     LoadFunc
	logger   *zap.Logger
	debounce time.Duration
	watcher  *fsnotify.Watcher
}

// Option configures a Cache.
type Option func(*Cache)

// WithLoader replaces vmprof.ReadProfile.
func WithLoader(load LoadFunc) Option {
	return func(c *Cache) { c.load = load }
}

// WithLogger sets the cache logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// WithDebounce sets how long the watcher waits for writes to settle.
func WithDebounce(d time.Duration) Option {
	return func(c *Cache) { c.debounce = d }
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		profiles: make(map[string]*vmprof.Profile),
		dirs:     make(map[string]bool),
		timers:   make(map[string]*time.Timer),
		logger:   zap.NewNop(),
		debounce: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.load == nil {
		c.load = func(path string) (*vmprof.Profile, error) {
			return vmprof.ReadProfile(path, vmprof.WithLogger(c.logger))
		}
	}
	return c
}

func key(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	return abs, nil
}

// Load parses path and stores the result, replacing an earlier entry.
func (c *Cache) Load(path string) (*vmprof.Profile, error) {
	k, err := key(path)
	if err != nil {
		return nil, err
	}
	p, err := c.load(k)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.profiles[k] = p
	watchErr := c.watchDirLocked(filepath.Dir(k))
	c.mu.Unlock()

	if watchErr != nil {
		c.logger.Warn("cannot watch profile directory", zap.String("path", k), zap.Error(watchErr))
	}
	c.logger.Info("profile loaded",
		zap.String("path", k),
		zap.Int("samples", len(p.Samples)),
		zap.Int("symbols", p.Symbols.Len()),
	)
	return p, nil
}

// Get returns the cached profile for path.
func (c *Cache) Get(path string) (*vmprof.Profile, error) {
	k, err := key(path)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.profiles[k]
	if !ok {
		return nil, ErrNotLoaded
	}
	return p, nil
}

// Evict drops path from the cache.
func (c *Cache) Evict(path string) {
	k, err := key(path)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.profiles, k)
}

// Paths returns the cached paths, sorted.
func (c *Cache) Paths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	paths := make([]string, 0, len(c.profiles))
	for k := range c.profiles {
		paths = append(paths, k)
	}
	sort.Strings(paths)
	return paths
}

// Watch starts watching the directories of loaded profiles until ctx is
// done. Profiles loaded later are watched as well.
func (c *Cache) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.watcher = fsw
	for dir := range c.dirs {
		if err := fsw.Add(dir); err != nil {
			c.logger.Warn("cannot watch profile directory", zap.String("dir", dir), zap.Error(err))
		}
	}
	c.mu.Unlock()

	go c.loop(ctx, fsw)
	c.logger.Info("profile watcher started")
	return nil
}

func (c *Cache) watchDirLocked(dir string) error {
	if c.dirs[dir] {
		return nil
	}
	c.dirs[dir] = true
	if c.watcher == nil {
		return nil
	}
	return c.watcher.Add(dir)
}

func (c *Cache) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer func() {
		fsw.Close()
		c.mu.Lock()
		for k, t := range c.timers {
			t.Stop()
			delete(c.timers, k)
		}
		c.watcher = nil
		c.mu.Unlock()
	}()

	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			c.handle(event)

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			c.logger.Warn("profile watcher error", zap.Error(err))

		case <-ctx.Done():
			return
		}
	}
}

func (c *Cache) handle(event fsnotify.Event) {
	k := filepath.Clean(event.Name)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.profiles[k]; !ok {
		return
	}

	switch {
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		delete(c.profiles, k)
		c.logger.Info("profile evicted", zap.String("path", k), zap.String("op", event.Op.String()))

	case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
		// Debounce: reset timer on each event
		if t, ok := c.timers[k]; ok {
			t.Stop()
		}
		c.timers[k] = time.AfterFunc(c.debounce, func() { c.reload(k) })
	}
}

func (c *Cache) reload(k string) {
	p, err := c.load(k)

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.timers, k)
	if _, ok := c.profiles[k]; !ok {
		return
	}
	if err != nil {
		// a half-written file stays unusable until the next write
		delete(c.profiles, k)
		c.logger.Warn("profile reload failed", zap.String("path", k), zap.Error(err))
		return
	}
	c.profiles[k] = p
	c.logger.Info("profile reloaded", zap.String("path", k), zap.Int("samples", len(p.Samples)))
}
