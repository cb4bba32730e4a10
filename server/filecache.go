package server

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// FileCache keeps static file bodies in memory, keyed by canonical path.
// Entries are dropped when fsnotify reports a change to the file.
type FileCache struct {
	mu       sync.RWMutex
	entries  map[string][]byte
	gen      uint64 // bumped on every invalidation
	maxBytes int64
	closed   bool // no watcher; Get reads through without storing

	dirs    []string
	watcher *fsnotify.Watcher
	log     zerolog.Logger
	done    chan struct{}
}

// NewFileCache returns a cache that stores files up to maxBytes each.
// maxBytes <= 0 means no limit.
func NewFileCache(maxBytes int64, log zerolog.Logger) *FileCache {
	return &FileCache{
		entries:  make(map[string][]byte),
		maxBytes: maxBytes,
		log:      log.With().Str("component", "filecache").Logger(),
	}
}

// Watch starts invalidating entries under each of dirs and their
// subdirectories. Missing directories are skipped.
func (c *FileCache) Watch(dirs ...string) error {
	if c.watcher != nil {
		return errors.New("filecache: already watching")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	for _, dir := range dirs {
		if err := c.addTree(w, dir); err != nil {
			_ = w.Close()
			return err
		}
	}

	c.mu.Lock()
	c.entries = make(map[string][]byte)
	c.gen++
	c.closed = false
	c.mu.Unlock()

	c.dirs = append([]string(nil), dirs...)
	c.watcher = w
	c.done = make(chan struct{})
	go c.run(w, c.done)
	return nil
}

func (c *FileCache) addTree(w *fsnotify.Watcher, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.log.Warn().Str("dir", root).Msg("static dir missing, not watched")
			return nil
		}
		return err
	}
	if !info.IsDir() {
		return nil
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}

func (c *FileCache) run(w *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			c.handleEvent(w, ev)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			c.log.Error().Err(err).Msg("watch error")
		}
	}
}

func (c *FileCache) handleEvent(w *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := c.addTree(w, ev.Name); err != nil {
				c.log.Error().Err(err).Str("dir", ev.Name).Msg("watch new dir")
			}
		}
	}

	// Events carry the path as watched; entries are keyed by the resolved
	// path, so drop both forms.
	c.Invalidate(ev.Name)
	if resolved, err := filepath.EvalSymlinks(ev.Name); err == nil {
		c.Invalidate(resolved)
	}
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		c.invalidatePrefix(ev.Name + string(filepath.Separator))
	}
	c.log.Debug().Str("path", ev.Name).Str("op", ev.Op.String()).Msg("invalidated")
}

// Get returns the body of the file at canonical path, reading it on a miss.
func (c *FileCache) Get(path string) ([]byte, error) {
	c.mu.RLock()
	data, ok := c.entries[path]
	gen, closed := c.gen, c.closed
	c.mu.RUnlock()
	if ok {
		return data, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !closed && (c.maxBytes <= 0 || int64(len(data)) <= c.maxBytes) {
		c.mu.Lock()
		// An invalidation during the read may mean data is already stale.
		if c.gen == gen && !c.closed {
			c.entries[path] = data
		}
		c.mu.Unlock()
	}
	return data, nil
}

func (c *FileCache) Invalidate(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.gen++
	c.mu.Unlock()
}

func (c *FileCache) invalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	for k := range c.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(c.entries, k)
		}
	}
}

// Len reports the number of cached files.
func (c *FileCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the watcher and drops every entry. Until the next Watch or
// Reopen, Get reads from disk on every call.
func (c *FileCache) Close() error {
	c.mu.Lock()
	c.entries = make(map[string][]byte)
	c.gen++
	c.closed = true
	c.mu.Unlock()

	if c.watcher == nil {
		return nil
	}
	err := c.watcher.Close()
	<-c.done
	c.watcher = nil
	return err
}

// Closed reports whether the cache has been closed and not watched since.
func (c *FileCache) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Reopen watches the directories of the last Watch call again.
func (c *FileCache) Reopen() error {
	return c.Watch(c.dirs...)
}
