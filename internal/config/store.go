package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce matches the settle time the config watcher waits for before
// triggering a reload.
const DefaultDebounce = 2 * time.Second

// Store supplies configuration to the proxy engine.
//
// Read must return a structure the caller may keep; implementations hand out
// copies. Watch blocks until ctx is done, calling onChange after the
// configuration has changed.
type Store interface {
	Read() (*Config, error)
	Watch(ctx context.Context, onChange func()) error
}

// StaticStore is an in-memory Store. Set replaces the configuration and
// notifies watchers synchronously.
type StaticStore struct {
	mu       sync.RWMutex
	cfg      *Config
	watchers map[int]func()
	nextID   int
}

// NewStaticStore returns a store holding cfg.
func NewStaticStore(cfg *Config) *StaticStore {
	return &StaticStore{cfg: cfg.Clone(), watchers: make(map[int]func())}
}

func (s *StaticStore) Read() (*Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return nil, errors.New("static store: no configuration")
	}
	return s.cfg.Clone(), nil
}

// Set replaces the stored configuration.
func (s *StaticStore) Set(cfg *Config) {
	s.mu.Lock()
	s.cfg = cfg.Clone()
	fns := make([]func(), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (s *StaticStore) Watch(ctx context.Context, onChange func()) error {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = onChange
	s.mu.Unlock()

	<-ctx.Done()

	s.mu.Lock()
	delete(s.watchers, id)
	s.mu.Unlock()
	return nil
}

// FileStore reads configuration from a YAML file.
//
// Read re-parses the file whenever its size or modification time differs from
// the last successful parse, so callers observe edits on their next decision
// without paying a parse per call.
type FileStore struct {
	path string
	log  zerolog.Logger

	// Debounce is how long Watch waits for writes to settle.
	Debounce time.Duration

	mu      sync.Mutex
	cfg     *Config
	modTime time.Time
	size    int64
}

// NewFileStore returns a FileStore for path.
func NewFileStore(path string, log zerolog.Logger) (*FileStore, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config path %q: %w", path, err)
	}
	return &FileStore{
		path:     abs,
		log:      log.With().Str("component", "config").Str("path", abs).Logger(),
		Debounce: DefaultDebounce,
	}, nil
}

func (s *FileStore) Read() (*Config, error) {
	fi, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("stat config: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg != nil && fi.ModTime().Equal(s.modTime) && fi.Size() == s.size {
		return s.cfg.Clone(), nil
	}

	cfg, err := Load(s.path)
	if err != nil {
		return nil, err
	}
	s.cfg = cfg
	s.modTime = fi.ModTime()
	s.size = fi.Size()
	return cfg.Clone(), nil
}

func (s *FileStore) invalidate() {
	s.mu.Lock()
	s.cfg = nil
	s.mu.Unlock()
}

// Watch watches the file's directory, so editors that replace the file by
// rename are still seen, and calls onChange once writes have settled for
// Debounce.
func (s *FileStore) Watch(ctx context.Context, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %q: %w", dir, err)
	}

	debounce := s.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fire := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	s.log.Info().Dur("debounce", debounce).Msg("watching config file")

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			if ev.Name != s.path || ev.Op == fsnotify.Chmod {
				continue
			}
			s.log.Debug().Str("op", ev.Op.String()).Msg("config file event")
			s.invalidate()

			if timer == nil {
				timer = time.AfterFunc(debounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(debounce)
			}

		case <-fire:
			s.log.Info().Msg("config file changed")
			onChange()

		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			s.log.Warn().Err(err).Msg("config watcher error")
		}
	}
}
