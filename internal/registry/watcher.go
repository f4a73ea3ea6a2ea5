package registry

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherConfig holds configuration for the config file watcher.
type WatcherConfig struct {
	// Path is the config file to watch.
	Path string

	// Debounce coalesces bursts of change events; editors often emit
	// several writes per save.
	Debounce time.Duration

	// OnChange is called after the debounce window closes.
	OnChange func()

	// Logger receives watcher diagnostics.
	Logger *slog.Logger
}

// Watcher monitors the server-list config file and triggers reloads. It
// watches the parent directory so rename-based saves are seen.
type Watcher struct {
	mu      sync.Mutex
	config  WatcherConfig
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	running bool
}

// NewWatcher creates a watcher. Start must be called to begin watching.
func NewWatcher(cfg WatcherConfig) *Watcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Watcher{config: cfg}
}

// Start begins watching the config file's directory.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(filepath.Dir(w.config.Path)); err != nil {
		_ = fw.Close()
		return err
	}

	w.watcher = fw
	w.stopCh = make(chan struct{})
	w.running = true

	go w.loop()
	w.config.Logger.Debug("Config watcher started", "path", w.config.Path)
	return nil
}

// Stop stops watching. Safe to call when not running.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	close(w.stopCh)
	_ = w.watcher.Close()
	w.running = false
	w.config.Logger.Debug("Config watcher stopped", "path", w.config.Path)
}

func (w *Watcher) loop() {
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	target := filepath.Clean(w.config.Path)
	for {
		select {
		case <-w.stopCh:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(w.config.Debounce, w.config.OnChange)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.config.Logger.Warn("Config watcher error", "error", err)
		}
	}
}
