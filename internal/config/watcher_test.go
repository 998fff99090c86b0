package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxtap/internal/config"
)

const watchedYAML = `
server:
  log_level: info
vad:
  threshold_ratio: 2
uploader:
  language: zh-CN
stt:
  providers:
    - name: whisper
      base_url: http://localhost:8081
display:
  interval: 500ms
`

// ─── helpers ─────────────────────────────────────────────────────────────────

// changes records every callback the watcher delivers.
type changes struct {
	mu    sync.Mutex
	diffs []config.ConfigDiff
	cfgs  []*config.Config
	fired chan struct{}
}

func newChanges() *changes {
	return &changes{fired: make(chan struct{}, 16)}
}

func (c *changes) record(cfg *config.Config, diff config.ConfigDiff) {
	c.mu.Lock()
	c.cfgs = append(c.cfgs, cfg)
	c.diffs = append(c.diffs, diff)
	c.mu.Unlock()
	c.fired <- struct{}{}
}

func (c *changes) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.diffs)
}

func (c *changes) last(t *testing.T) (*config.Config, config.ConfigDiff) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.diffs) == 0 {
		t.Fatal("no change delivered")
	}
	return c.cfgs[len(c.cfgs)-1], c.diffs[len(c.diffs)-1]
}

// watch writes content to a fresh config file and watches it. The poll
// interval is long unless the test passes its own, so edits are only seen
// through Reload.
func watch(t *testing.T, content string, opts ...config.WatcherOption) (string, *config.Watcher, *changes) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voxtap.yaml")
	writeConfig(t, path, content)

	c := newChanges()
	opts = append([]config.WatcherOption{config.WithInterval(time.Hour)}, opts...)
	w, err := config.NewWatcher(path, c.record, opts...)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return path, w, c
}

// writeConfig replaces the file and pushes its mtime forward so coarse
// filesystem clocks still register the edit.
func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	later := time.Now().Add(time.Duration(len(content)) * time.Millisecond)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

// ─── loading ─────────────────────────────────────────────────────────────────

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	_, w, c := watch(t, watchedYAML)

	cfg := w.Current()
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Uploader.Language != "zh-CN" {
		t.Errorf("uploader.language = %q, want zh-CN", cfg.Uploader.Language)
	}
	if cfg.Display.Interval != 500*time.Millisecond {
		t.Errorf("display.interval = %v, want 500ms", cfg.Display.Interval)
	}
	if n := c.count(); n != 0 {
		t.Errorf("initial load delivered %d changes, want 0", n)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()

	t.Run("missing", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "absent.yaml")
		_, err := config.NewWatcher(path, nil)
		if err == nil || !strings.Contains(err.Error(), "absent.yaml") {
			t.Fatalf("err = %v, want one naming the file", err)
		}
	})
	t.Run("invalid", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "voxtap.yaml")
		writeConfig(t, path, "capture:\n  source: wav\n")
		_, err := config.NewWatcher(path, nil)
		if err == nil || !strings.Contains(err.Error(), "wav_path") {
			t.Fatalf("err = %v, want the validation error", err)
		}
	})
}

// ─── reload ──────────────────────────────────────────────────────────────────

func TestWatcher_ReloadDeliversLogLevelChange(t *testing.T) {
	t.Parallel()
	path, w, c := watch(t, watchedYAML)

	writeConfig(t, path, strings.Replace(watchedYAML, "log_level: info", "log_level: debug", 1))
	if err := w.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	cfg, diff := c.last(t)
	if !diff.LogLevelChanged || diff.NewLogLevel != config.LogDebug {
		t.Errorf("diff = %+v, want a change to debug", diff)
	}
	if diff.DisplayChanged || len(diff.RestartRequired) != 0 {
		t.Errorf("diff = %+v, want only the log level", diff)
	}
	if cfg != w.Current() {
		t.Error("callback config is not the current one")
	}
}

func TestWatcher_ReloadListsRestartSections(t *testing.T) {
	t.Parallel()
	path, w, c := watch(t, watchedYAML)

	edited := strings.Replace(watchedYAML, "threshold_ratio: 2", "threshold_ratio: 3", 1)
	edited = strings.Replace(edited, "language: zh-CN", "language: en", 1)
	writeConfig(t, path, edited)
	if err := w.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	_, diff := c.last(t)
	want := []string{"vad", "uploader"}
	if !slices.Equal(diff.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", diff.RestartRequired, want)
	}
	if diff.LogLevelChanged {
		t.Error("log level reported as changed")
	}
}

func TestWatcher_ReloadWithoutEffectIsSilent(t *testing.T) {
	t.Parallel()
	path, w, c := watch(t, watchedYAML)

	writeConfig(t, path, "# tuned for the lab mic\n"+watchedYAML)
	if err := w.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if n := c.count(); n != 0 {
		t.Errorf("comment-only edit delivered %d changes, want 0", n)
	}

	// Reloading an untouched file is a no-op too.
	if err := w.Reload(); err != nil {
		t.Fatalf("second Reload: %v", err)
	}
	if n := c.count(); n != 0 {
		t.Errorf("untouched file delivered %d changes, want 0", n)
	}
}

func TestWatcher_ReloadRejectsInvalidFile(t *testing.T) {
	t.Parallel()
	path, w, c := watch(t, watchedYAML)

	// A provider model id where a language tag belongs.
	writeConfig(t, path, strings.Replace(watchedYAML, "language: zh-CN", `language: "1537"`, 1))
	err := w.Reload()
	if err == nil || !strings.Contains(err.Error(), "BCP-47") {
		t.Fatalf("Reload err = %v, want the language validation error", err)
	}
	if got := w.Current().Uploader.Language; got != "zh-CN" {
		t.Errorf("current language = %q, want the previous zh-CN", got)
	}
	if n := c.count(); n != 0 {
		t.Errorf("invalid file delivered %d changes, want 0", n)
	}

	// Fixing the file recovers on the next reload.
	writeConfig(t, path, strings.Replace(watchedYAML, "log_level: info", "log_level: warn", 1))
	if err := w.Reload(); err != nil {
		t.Fatalf("Reload after fix: %v", err)
	}
	if _, diff := c.last(t); diff.NewLogLevel != config.LogWarn {
		t.Errorf("NewLogLevel = %q, want warn", diff.NewLogLevel)
	}
}

// ─── polling ─────────────────────────────────────────────────────────────────

func TestWatcher_PollPicksUpEdit(t *testing.T) {
	t.Parallel()
	path, w, c := watch(t, watchedYAML, config.WithInterval(20*time.Millisecond))

	writeConfig(t, path, strings.Replace(watchedYAML, "interval: 500ms", "interval: 1s", 1))

	select {
	case <-c.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("edit not picked up by polling")
	}
	if _, diff := c.last(t); !diff.DisplayChanged {
		t.Errorf("diff = %+v, want a display change", diff)
	}
	if got := w.Current().Display.Interval; got != time.Second {
		t.Errorf("current display.interval = %v, want 1s", got)
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	path, _, c := watch(t, watchedYAML, config.WithInterval(20*time.Millisecond))

	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	time.Sleep(150 * time.Millisecond)

	if n := c.count(); n != 0 {
		t.Errorf("touch delivered %d changes, want 0", n)
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	_, w, _ := watch(t, watchedYAML)

	w.Stop()
	w.Stop()
	if w.Current() == nil {
		t.Error("Current() is nil after Stop")
	}
}
