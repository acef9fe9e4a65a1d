// Package watcher watches the relay's config file and triggers hot reloads.
// It supports cross-platform fsnotify event handling.
package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/faultsys/alertrelay/internal/config"
	"github.com/fsnotify/fsnotify"
)

// Loader resolves the effective configuration from the file at path, applying
// whatever overlays (environment, flags) the caller uses at startup.
type Loader func(path string) (*config.Config, error)

// Watcher manages file watching for the configuration file.
type Watcher struct {
	configPath string
	configDir  string
	load       Loader

	configMu          sync.RWMutex
	config            *config.Config
	lastConfigHash    string
	configReloadMu    sync.Mutex
	configReloadTimer *time.Timer
	reloadCallback    func(old, updated *config.Config)
	watcher           *fsnotify.Watcher
	stopOnce          sync.Once
}

const configReloadDebounce = 150 * time.Millisecond

// NewWatcher creates a new file watcher instance. load defaults to
// config.LoadConfig followed by Validate.
func NewWatcher(configPath string, load Loader, reloadCallback func(old, updated *config.Config)) (*Watcher, error) {
	fsw, errNewWatcher := fsnotify.NewWatcher()
	if errNewWatcher != nil {
		return nil, errNewWatcher
	}
	if load == nil {
		load = defaultLoader
	}
	cleaned := normalizePath(configPath)
	return &Watcher{
		configPath:     cleaned,
		configDir:      filepath.Dir(cleaned),
		load:           load,
		reloadCallback: reloadCallback,
		watcher:        fsw,
	}, nil
}

func defaultLoader(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Start begins watching the configuration file. Events are processed until ctx
// is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	return w.start(ctx)
}

// Stop stops the file watcher.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		w.stopConfigReloadTimer()
		err = w.watcher.Close()
	})
	return err
}

// SetConfig records the configuration currently in effect. Reloads that load an
// identical file are skipped against the hash taken here.
func (w *Watcher) SetConfig(cfg *config.Config) {
	hash, _ := fileHash(w.configPath)
	w.configMu.Lock()
	defer w.configMu.Unlock()
	w.config = cfg
	w.lastConfigHash = hash
}

// Config returns the configuration currently in effect.
func (w *Watcher) Config() *config.Config {
	w.configMu.RLock()
	defer w.configMu.RUnlock()
	return w.config
}
