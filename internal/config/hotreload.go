package config

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeCallback is invoked once per changed field after a reload is applied.
type ChangeCallback func(change ConfigChange)

// ReloadCallback is invoked once per reload, after every ChangeCallback, with
// the full old and new configuration.
type ReloadCallback func(oldConfig, newConfig *Config)

// ConfigChange describes one field that differed between the previous and
// newly loaded configuration.
type ConfigChange struct {
	Timestamp       time.Time
	Source          string // "file"
	Path            string // e.g. "Conversation.TTL"
	OldValue        interface{}
	NewValue        interface{}
	RequiresRestart bool
}

// hotReloadableFields whitelists the fields whose changes are reported with
// RequiresRestart false. Every changed field is applied to the in-memory
// Config (so GetConfig reflects the file on disk); the rest are reported as
// requiring a restart, since the components that read them (worker pool
// sizing, listen addresses, provider credentials) only consult them at
// construction time. The manager pushes no value into a running component;
// a whitelisted change reaches one only through a ChangeCallback or
// ReloadCallback that applies it.
var hotReloadableFields = map[string]bool{
	"Log.Level":                  true,
	"Log.Format":                 true,
	"EventBus.DefaultPolicy":     true,
	"EventBus.DefaultBufferSize": true,
	"EventBus.BlockTimeout":      true,
	"Conversation.TTL":           true,
	"Conversation.JanitorInterval": true,
	"Audit.AsyncWorkers":         true,
	"FlowEngine.DefaultTimeoutMs": true,
}

// HotReloadManager watches a configuration file and atomically swaps in a
// freshly loaded, validated Config whenever it changes on disk.
type HotReloadManager struct {
	mu sync.RWMutex

	config     *Config
	configPath string

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc

	changeCallbacks []ChangeCallback
	reloadCallbacks []ReloadCallback
	changeLog       []ConfigChange

	logger  *zap.Logger
	running bool
}

// NewHotReloadManager constructs a manager seeded with the current config.
func NewHotReloadManager(config *Config, configPath string, logger *zap.Logger) *HotReloadManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HotReloadManager{
		config:     config,
		configPath: configPath,
		logger:     logger.With(zap.String("component", "config_hotreload")),
	}
}

// Start begins watching the configuration file. It is a no-op if no
// configPath was given. Editors that save by rename-over-original remove and
// recreate the inode, so the manager watches the containing directory and
// filters by filename; the directory watch survives a REMOVE/RENAME of the
// file, and the CREATE that follows triggers the reload.
func (m *HotReloadManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("hot reload manager already running")
	}
	if m.configPath == "" {
		m.running = true
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	dir := filepath.Dir(m.configPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.watcher = watcher
	m.cancel = cancel
	m.running = true

	go m.watchLoop(runCtx)

	m.logger.Info("hot reload manager started", zap.String("config_path", m.configPath))
	return nil
}

// Stop stops watching and releases the fsnotify handle.
func (m *HotReloadManager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	if m.cancel != nil {
		m.cancel()
	}
	if m.watcher != nil {
		m.watcher.Close()
	}
	m.running = false
	m.logger.Info("hot reload manager stopped")
	return nil
}

func (m *HotReloadManager) watchLoop(ctx context.Context) {
	target := filepath.Base(m.configPath)
	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				debounce.Reset(200 * time.Millisecond)
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				// Editors that save atomically unlink the original path; the
				// directory watch survives, so just wait for the recreate.
				m.logger.Debug("config file replaced, awaiting recreation")
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("config watcher error", zap.Error(err))
		case <-debounce.C:
			if err := m.ReloadFromFile(); err != nil {
				m.logger.Error("failed to reload configuration", zap.Error(err))
			}
		}
	}
}

// ReloadFromFile loads configPath fresh, validates it, and applies it.
func (m *HotReloadManager) ReloadFromFile() error {
	m.mu.RLock()
	path := m.configPath
	m.mu.RUnlock()
	if path == "" {
		return fmt.Errorf("no config path set")
	}

	newConfig, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return m.ApplyConfig(newConfig, "file")
}

// ApplyConfig swaps in newConfig, computes the field-level diff against the
// current config, and fires change/reload callbacks. It always succeeds
// once newConfig has already been validated by the caller.
func (m *HotReloadManager) ApplyConfig(newConfig *Config, source string) error {
	m.mu.Lock()

	oldConfig := m.config
	changes := diffConfig(oldConfig, newConfig)
	now := time.Now()
	for i := range changes {
		changes[i].Source = source
		changes[i].Timestamp = now
		changes[i].RequiresRestart = !hotReloadableFields[changes[i].Path]
	}
	m.config = newConfig
	m.changeLog = append(m.changeLog, changes...)
	if len(m.changeLog) > 1000 {
		m.changeLog = m.changeLog[len(m.changeLog)-1000:]
	}

	changeCallbacks := append([]ChangeCallback(nil), m.changeCallbacks...)
	reloadCallbacks := append([]ReloadCallback(nil), m.reloadCallbacks...)
	m.mu.Unlock()

	var requiresRestart bool
	for _, change := range changes {
		if change.RequiresRestart {
			requiresRestart = true
		}
		for _, cb := range changeCallbacks {
			cb(change)
		}
	}
	for _, cb := range reloadCallbacks {
		cb(oldConfig, newConfig)
	}

	if requiresRestart {
		m.logger.Warn("some configuration changes require a restart to take effect")
	}
	m.logger.Info("configuration reloaded", zap.Int("changes", len(changes)))
	return nil
}

// diffConfig walks the exported fields of oldCfg and newCfg and reports every
// leaf field (non-struct) whose value differs, dotted-path style.
func diffConfig(oldCfg, newCfg *Config) []ConfigChange {
	var changes []ConfigChange
	compareStructs("", reflect.ValueOf(oldCfg).Elem(), reflect.ValueOf(newCfg).Elem(), &changes)
	return changes
}

func compareStructs(prefix string, oldVal, newVal reflect.Value, changes *[]ConfigChange) {
	if oldVal.Kind() != reflect.Struct || newVal.Kind() != reflect.Struct {
		return
	}
	t := oldVal.Type()
	for i := 0; i < oldVal.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		path := field.Name
		if prefix != "" {
			path = prefix + "." + field.Name
		}
		oldField, newField := oldVal.Field(i), newVal.Field(i)
		if oldField.Kind() == reflect.Struct {
			compareStructs(path, oldField, newField, changes)
			continue
		}
		if !reflect.DeepEqual(oldField.Interface(), newField.Interface()) {
			*changes = append(*changes, ConfigChange{
				Path:     path,
				OldValue: oldField.Interface(),
				NewValue: newField.Interface(),
			})
		}
	}
}

// OnChange registers a callback fired once per changed field.
func (m *HotReloadManager) OnChange(cb ChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changeCallbacks = append(m.changeCallbacks, cb)
}

// OnReload registers a callback fired once per reload with the full diff.
func (m *HotReloadManager) OnReload(cb ReloadCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloadCallbacks = append(m.reloadCallbacks, cb)
}

// GetConfig returns the currently active configuration.
func (m *HotReloadManager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// ChangeLog returns a snapshot of every applied change, oldest first.
func (m *HotReloadManager) ChangeLog() []ConfigChange {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ConfigChange, len(m.changeLog))
	copy(out, m.changeLog)
	return out
}
