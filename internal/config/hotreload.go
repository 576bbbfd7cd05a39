package config

import (
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/cellstore/internal/watch"
)

// ChangeHandler is called with the reloaded config.
type ChangeHandler func(cfg *Config)

// Watcher reloads the config file when it changes. Reloads that fail to parse
// or validate are logged and dropped, keeping the previous config.
type Watcher struct {
	path     string
	fw       *watch.Watcher
	lastHash string

	mu       sync.Mutex
	handlers []ChangeHandler
}

// NewWatcher creates a config file watcher. current is the config already in
// use; unchanged reloads are not reported.
func NewWatcher(configPath string, current *Config) (*Watcher, error) {
	fw, err := watch.New(configPath, watch.DefaultDebounce)
	if err != nil {
		return nil, err
	}
	cw := &Watcher{path: configPath, fw: fw}
	if current != nil {
		cw.lastHash = current.Hash()
	}
	fw.OnChange(func(string) { cw.reload() })
	return cw, nil
}

// OnChange registers a handler to be called when config changes.
func (cw *Watcher) OnChange(handler ChangeHandler) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.handlers = append(cw.handlers, handler)
}

// Start begins watching the config file for changes.
func (cw *Watcher) Start() error {
	if err := cw.fw.Start(); err != nil {
		return err
	}
	slog.Info("config watcher started", "path", cw.path)
	return nil
}

// Stop halts the file watcher.
func (cw *Watcher) Stop() {
	cw.fw.Stop()
	slog.Info("config watcher stopped")
}

func (cw *Watcher) reload() {
	slog.Info("config file changed, reloading", "path", cw.path)

	cfg, err := Load(cw.path)
	if err != nil {
		slog.Error("config reload failed", "error", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("config reload rejected", "error", err)
		return
	}

	cw.mu.Lock()
	hash := cfg.Hash()
	if hash == cw.lastHash {
		cw.mu.Unlock()
		return
	}
	cw.lastHash = hash
	handlers := make([]ChangeHandler, len(cw.handlers))
	copy(handlers, cw.handlers)
	cw.mu.Unlock()

	for _, h := range handlers {
		h(cfg)
	}

	slog.Info("config reloaded successfully", "hash", hash)
}
