package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestHotReloadManager_ApplyConfigFiresCallbacksForChangedFields(t *testing.T) {
	oldCfg := DefaultConfig()
	m := NewHotReloadManager(oldCfg, "", nil)

	var mu sync.Mutex
	var changedPaths []string
	m.OnChange(func(c ConfigChange) {
		mu.Lock()
		defer mu.Unlock()
		changedPaths = append(changedPaths, c.Path)
	})

	var reloadCount int
	m.OnReload(func(oldCfg, newCfg *Config) {
		reloadCount++
	})

	newCfg := DefaultConfig()
	newCfg.Log.Level = "debug"
	newCfg.FlowEngine.MaxParallel = 32

	require.NoError(t, m.ApplyConfig(newCfg, "file"))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, changedPaths, "Log.Level")
	assert.Contains(t, changedPaths, "FlowEngine.MaxParallel")
	assert.Equal(t, 1, reloadCount)
	assert.Equal(t, "debug", m.GetConfig().Log.Level)
}

func TestHotReloadManager_WhitelistsRestartRequirement(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig(), "", nil)

	var changes []ConfigChange
	m.OnChange(func(c ConfigChange) { changes = append(changes, c) })

	newCfg := DefaultConfig()
	newCfg.Log.Level = "debug"       // hot-reloadable
	newCfg.MCP.ListenAddr = ":9999"  // requires restart

	require.NoError(t, m.ApplyConfig(newCfg, "file"))

	byPath := map[string]bool{}
	for _, c := range changes {
		byPath[c.Path] = c.RequiresRestart
	}
	assert.False(t, byPath["Log.Level"])
	assert.True(t, byPath["MCP.ListenAddr"])
}

func TestHotReloadManager_ReloadFromFilePicksUpEdits(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "archflow.yaml")
	writeYAML(t, configPath, "log:\n  level: info\n")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	m := NewHotReloadManager(cfg, configPath, nil)

	writeYAML(t, configPath, "log:\n  level: debug\n")
	require.NoError(t, m.ReloadFromFile())

	assert.Equal(t, "debug", m.GetConfig().Log.Level)
}

func TestHotReloadManager_StartWatchesFileAndReloadsOnWrite(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "archflow.yaml")
	writeYAML(t, configPath, "log:\n  level: info\n")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	m := NewHotReloadManager(cfg, configPath, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	writeYAML(t, configPath, "log:\n  level: debug\n")

	require.Eventually(t, func() bool {
		return m.GetConfig().Log.Level == "debug"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHotReloadManager_ChangeLogRetainsHistory(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig(), "", nil)

	newCfg := DefaultConfig()
	newCfg.Log.Level = "warn"
	require.NoError(t, m.ApplyConfig(newCfg, "file"))

	log := m.ChangeLog()
	require.NotEmpty(t, log)
	assert.Equal(t, "file", log[0].Source)
}

func TestHotReloadManager_StartIsNoopWithoutConfigPath(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig(), "", nil)
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Stop())
}
