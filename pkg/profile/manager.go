package profile

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Manager loads profiles at startup and keeps the registry current as the
// backing files change on disk.
type Manager struct {
	loader   *Loader
	registry *Registry
	watcher  *watcher
	logger   zerolog.Logger

	mu      sync.Mutex
	byPath  map[string]string // file path -> profile name
	started bool
}

// Config holds manager configuration
type Config struct {
	Dir         string
	Watch       bool
	SettleDelay time.Duration
	Logger      zerolog.Logger
}

// NewManager creates a manager over the given profile directory
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("profile directory is required")
	}

	m := &Manager{
		loader:   NewLoader(cfg.Dir),
		registry: NewRegistry(),
		logger:   cfg.Logger,
		byPath:   make(map[string]string),
	}

	if cfg.Watch {
		w, err := newWatcher(cfg.Dir, cfg.SettleDelay, m.reloadFile, m.removeFile)
		if err != nil {
			return nil, err
		}
		m.watcher = w
	}
	return m, nil
}

// Start performs the initial load and begins watching when configured.
// Individual invalid files are logged and skipped; only a missing or
// unreadable directory is fatal.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("profile manager already started")
	}

	profiles, failures, err := m.loader.LoadAll()
	if err != nil {
		return err
	}
	for file, loadErr := range failures {
		m.logger.Warn().Err(loadErr).Str("file", file).Msg("Skipping invalid profile")
	}

	m.registry.Replace(profiles)
	for name := range profiles {
		m.byPath[m.pathFor(name)] = name
	}

	if m.watcher != nil {
		if err := m.watcher.start(); err != nil {
			return err
		}
	}

	m.started = true
	m.logger.Info().Int("profiles", len(profiles)).Msg("Profiles loaded")
	return nil
}

// Stop halts the watcher
func (m *Manager) Stop() error {
	if m.watcher != nil {
		return m.watcher.stop()
	}
	return nil
}

// Get returns the named profile
func (m *Manager) Get(name string) (*Profile, error) {
	return m.registry.Get(name)
}

// List returns the loaded profile names
func (m *Manager) List() []string {
	return m.registry.List()
}

func (m *Manager) reloadFile(path string) {
	p, err := m.loader.LoadFile(path)
	if err != nil {
		m.logger.Warn().Err(err).Str("file", filepath.Base(path)).Msg("Profile reload failed, keeping previous version")
		return
	}

	m.mu.Lock()
	// a rename inside the file can change the profile name; drop the old one
	if prev, ok := m.byPath[path]; ok && prev != p.Name {
		m.registry.Remove(prev)
	}
	m.byPath[path] = p.Name
	m.mu.Unlock()

	m.registry.Put(p)
	m.logger.Info().Str("profile", p.Name).Msg("Profile reloaded")
}

func (m *Manager) removeFile(path string) {
	m.mu.Lock()
	name, ok := m.byPath[path]
	delete(m.byPath, path)
	m.mu.Unlock()

	if !ok {
		return
	}
	m.registry.Remove(name)
	m.logger.Info().Str("profile", name).Msg("Profile removed")
}

// pathFor guesses the file path for a profile name during the initial load.
// Watch events always carry the real path, so this only seeds the map.
func (m *Manager) pathFor(name string) string {
	return filepath.Join(m.loader.dir, name+".yaml")
}
