package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/presenced/internal/config"
)

func writeConfigFile(t *testing.T, path string, autoCheckIn bool) {
	t.Helper()
	content := "server:\n  base_url: http://127.0.0.1:9\nattendance:\n  auto_check_in: false\n"
	if autoCheckIn {
		content = "server:\n  base_url: http://127.0.0.1:9\nattendance:\n  auto_check_in: true\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestConfigWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfigFile(t, path, true)

	var mu sync.Mutex
	var reloaded *config.Config
	watcher, err := NewConfigWatcher(path, func(cfg *config.Config) {
		mu.Lock()
		reloaded = cfg
		mu.Unlock()
	})
	require.NoError(t, err)
	watcher.debounce = 20 * time.Millisecond
	defer watcher.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher.Start(ctx)

	writeConfigFile(t, path, false)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return reloaded != nil && !reloaded.Attendance.AutoCheckIn
	}, 5*time.Second, 20*time.Millisecond)
}

func TestConfigWatcherKeepsPreviousConfigOnBrokenFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfigFile(t, path, true)

	var calls sync.Map
	watcher, err := NewConfigWatcher(path, func(cfg *config.Config) {
		calls.Store(time.Now(), cfg)
	})
	require.NoError(t, err)
	watcher.debounce = 20 * time.Millisecond
	defer watcher.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher.Start(ctx)

	// Missing base_url fails validation; the callback must not fire.
	require.NoError(t, os.WriteFile(path, []byte("attendance:\n  auto_check_in: false\n"), 0o644))

	time.Sleep(200 * time.Millisecond)
	count := 0
	calls.Range(func(_, _ any) bool { count++; return true })
	require.Zero(t, count)
}

func TestConfigWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfigFile(t, path, true)

	reloads := make(chan struct{}, 1)
	watcher, err := NewConfigWatcher(path, func(*config.Config) {
		reloads <- struct{}{}
	})
	require.NoError(t, err)
	watcher.debounce = 20 * time.Millisecond
	defer watcher.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher.Start(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	select {
	case <-reloads:
		t.Fatal("sibling file write must not trigger a reload")
	case <-time.After(200 * time.Millisecond):
	}
}
