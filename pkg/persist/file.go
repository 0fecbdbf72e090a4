// Package persist provides the file-backed persistence collaborator for
// the token cache. It attaches to the cache's notification surface:
// before-access loads durable state when it changed on disk, after-access
// exports the in-memory state when it differs from what was last written.
package persist

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"vouch/internal/cache"
	"vouch/pkg/logging"
)

// FileStore persists cache snapshots to one file. Writes go through a
// temp-file rename so readers never observe a torn snapshot.
type FileStore struct {
	path string

	mu      sync.Mutex
	lastSum [sha256.Size]byte
	loaded  bool
	stale   bool

	watcher  *fsnotify.Watcher
	onChange func()
	done     chan struct{}
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithChangeCallback registers a callback invoked when another process
// modifies the cache file. The callback runs on the watcher goroutine.
func WithChangeCallback(fn func()) FileStoreOption {
	return func(f *FileStore) { f.onChange = fn }
}

// NewFileStore creates a persistence collaborator over the given path.
// The file does not have to exist yet.
func NewFileStore(path string, opts ...FileStoreOption) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("cache file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	f := &FileStore{path: path, done: make(chan struct{})}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Watch starts reacting to external modifications of the cache file; the
// next cache access after a change reloads from disk. Optional: without
// it the store still reloads whenever its own content hash goes stale.
func (f *FileStore) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create cache file watcher: %w", err)
	}
	// Watch the directory: editors and atomic writers replace the file,
	// which drops a watch registered on the file itself.
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch cache directory: %w", err)
	}
	f.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != f.path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				f.mu.Lock()
				f.stale = true
				f.mu.Unlock()
				logging.Debug("Persist", "Cache file changed on disk: %s", event.Op)
				if f.onChange != nil {
					f.onChange()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warn("Persist", "Cache file watcher error: %v", err)
			case <-f.done:
				return
			}
		}
	}()
	return nil
}

// Close stops the watcher, when one was started.
func (f *FileStore) Close() error {
	close(f.done)
	if f.watcher != nil {
		return f.watcher.Close()
	}
	return nil
}

// BeforeAccess loads the durable snapshot into the store when disk is
// newer than memory.
func (f *FileStore) BeforeAccess(ctx context.Context, store *cache.Store, details cache.EventDetails) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.loaded && !f.stale {
		return nil
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			f.loaded = true
			f.stale = false
			return nil
		}
		return fmt.Errorf("failed to read cache file: %w", err)
	}

	sum := sha256.Sum256(data)
	if f.loaded && sum == f.lastSum {
		f.stale = false
		return nil
	}

	if err := store.Unmarshal(data); err != nil {
		return fmt.Errorf("failed to load cache file: %w", err)
	}
	f.lastSum = sum
	f.loaded = true
	f.stale = false
	logging.Debug("Persist", "Loaded cache snapshot (%d bytes)", len(data))
	return nil
}

// BeforeWrite makes sure the store holds the latest durable state before
// a mutation merges into it.
func (f *FileStore) BeforeWrite(ctx context.Context, store *cache.Store, details cache.EventDetails) error {
	return f.BeforeAccess(ctx, store, details)
}

// AfterAccess exports the store when its content changed since the last
// export. Unchanged content is not rewritten.
func (f *FileStore) AfterAccess(ctx context.Context, store *cache.Store, details cache.EventDetails) error {
	data, err := store.Marshal()
	if err != nil {
		return fmt.Errorf("failed to serialize cache: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	sum := sha256.Sum256(data)
	if f.loaded && sum == f.lastSum {
		return nil
	}

	if err := f.writeAtomic(data); err != nil {
		return err
	}
	f.lastSum = sum
	f.loaded = true
	logging.Debug("Persist", "Exported cache snapshot (%d bytes)", len(data))
	return nil
}

// writeAtomic replaces the cache file via temp-file rename.
func (f *FileStore) writeAtomic(data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close cache file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to restrict cache file mode: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace cache file: %w", err)
	}
	return nil
}
