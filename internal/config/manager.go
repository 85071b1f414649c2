package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeHandler is invoked with the freshly loaded configuration after a
// successful reload.
type ChangeHandler func(cfg *Config)

// Manager holds the live configuration and hot-reloads it when the config
// file changes on disk. A failed reload keeps the previous configuration.
type Manager struct {
	mu       sync.RWMutex
	current  *Config
	handlers []ChangeHandler
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	logger   *zap.Logger
}

// NewManager loads the initial configuration and prepares the watcher.
func NewManager(logger *zap.Logger) (*Manager, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	return &Manager{
		current: cfg,
		stopCh:  make(chan struct{}),
		logger:  logger,
	}, nil
}

// NewStaticManager wraps a fixed configuration with no reload support.
func NewStaticManager(cfg *Config) *Manager {
	return &Manager{
		current: cfg,
		stopCh:  make(chan struct{}),
		logger:  zap.NewNop(),
	}
}

// Get returns the current configuration snapshot.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// OnChange registers a handler called after each successful reload.
func (m *Manager) OnChange(h ChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Watch starts watching the config file's directory for changes. No-op when
// the file does not exist.
func (m *Manager) Watch() error {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "./config/fathom.yaml"
	}
	if _, err := os.Stat(cfgPath); err != nil {
		m.logger.Info("Config file not present, hot reload disabled", zap.String("path", cfgPath))
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(cfgPath)); err != nil {
		watcher.Close()
		return err
	}
	m.watcher = watcher
	go m.watchLoop(filepath.Base(cfgPath))
	m.logger.Info("Config hot reload enabled", zap.String("path", cfgPath))
	return nil
}

func (m *Manager) watchLoop(filename string) {
	for {
		select {
		case <-m.stopCh:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// Editors often produce rapid successive writes
			time.Sleep(50 * time.Millisecond)
			m.reload()
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("Config watcher error", zap.Error(err))
		}
	}
}

func (m *Manager) reload() {
	cfg, err := Load()
	if err != nil {
		m.logger.Error("Config reload failed, keeping previous", zap.Error(err))
		return
	}
	m.mu.Lock()
	m.current = cfg
	handlers := make([]ChangeHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	for _, h := range handlers {
		h(cfg)
	}
	m.logger.Info("Configuration reloaded")
}

// Stop closes the watcher.
func (m *Manager) Stop() {
	close(m.stopCh)
	if m.watcher != nil {
		m.watcher.Close()
	}
}
