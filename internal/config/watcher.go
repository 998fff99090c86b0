package config

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often the watcher polls the config file.
const DefaultWatchInterval = 5 * time.Second

// ChangeFunc receives the reloaded config and what differs from the previous
// one. It is only called when [ConfigDiff.Changed] is true.
type ChangeFunc func(new *Config, diff ConfigDiff)

// Watcher reloads a config file when it changes. It polls the modification
// time, hashes the content when the time moved, and decodes and validates the
// file when the hash moved. An invalid file is logged and the previous config
// stays current. Edits without an effective difference, such as comments or
// reordered keys, update the baseline silently.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc

	// mu serialises reloads so the poller and Reload never interleave.
	mu      sync.Mutex
	current *Config
	mtime   time.Time
	hash    [sha256.Size]byte

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values keep
// [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it. onChange may be nil.
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	cfg, hash, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current, w.hash, w.mtime = cfg, hash, info.ModTime()

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reload re-reads the file now, regardless of its modification time. It
// returns the load or validation error, in which case the current config is
// kept.
func (w *Watcher) Reload() error {
	return w.check(true)
}

// Stop stops polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if err := w.check(false); err != nil {
				slog.Warn("config watcher: reload failed, keeping current config", "path", w.path, "err", err)
			}
		}
	}
}

// errUnchanged is returned internally when the file did not move.
var errUnchanged = errors.New("unchanged")

func (w *Watcher) check(force bool) error {
	w.mu.Lock()
	cfg, diff, err := w.reloadLocked(force)
	w.mu.Unlock()
	if errors.Is(err, errUnchanged) {
		return nil
	}
	if err != nil {
		return err
	}
	if !diff.Changed() {
		slog.Debug("config watcher: file changed without effect", "path", w.path)
		return nil
	}
	slog.Info("config watcher: configuration reloaded",
		"path", w.path,
		"log_level_changed", diff.LogLevelChanged,
		"display_changed", diff.DisplayChanged,
		"restart_required", diff.RestartRequired,
	)
	// Outside the lock so the callback may call Current.
	if w.onChange != nil {
		w.onChange(cfg, diff)
	}
	return nil
}

func (w *Watcher) reloadLocked(force bool) (*Config, ConfigDiff, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, ConfigDiff{}, err
	}
	if !force && info.ModTime().Equal(w.mtime) {
		return nil, ConfigDiff{}, errUnchanged
	}
	// An invalid edit is reported once, not on every poll.
	w.mtime = info.ModTime()

	cfg, hash, err := w.read()
	if err != nil {
		return nil, ConfigDiff{}, err
	}
	if hash == w.hash {
		return nil, ConfigDiff{}, errUnchanged
	}

	diff := Diff(w.current, cfg)
	w.current, w.hash = cfg, hash
	return cfg, diff, nil
}

// read loads and validates the file and returns it with its content hash.
func (w *Watcher) read() (*Config, [sha256.Size]byte, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	return cfg, sha256.Sum256(data), nil
}
