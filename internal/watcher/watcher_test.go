package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mediarchive/internal/archive"
	"mediarchive/internal/store"
)

func deployedArchive(t *testing.T) (*archive.Archive, *store.Store) {
	t.Helper()

	a, err := archive.Open(t.TempDir(), false)
	require.NoError(t, err)

	meta, err := store.Open(a.DatabasePath())
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	src := filepath.Join(t.TempDir(), "asset.bin")
	require.NoError(t, os.WriteFile(src, []byte("deployed content"), 0o644))

	h, err := a.StoreFile(src, false)
	require.NoError(t, err)
	require.NoError(t, a.DeployFile(h, "media/asset.bin", archive.DeployCopy))
	require.NoError(t, meta.RecordFile(store.File{Hash: h.String(), Size: 16}))
	_, err = meta.RecordDeployment(h.String(), "media/asset.bin", "copy")
	require.NoError(t, err)

	return a, meta
}

func TestNewRejectsBareArchive(t *testing.T) {
	a, err := archive.Open(t.TempDir(), true)
	require.NoError(t, err)

	meta, err := store.Open(filepath.Join(t.TempDir(), "meta.sqlite"))
	require.NoError(t, err)
	defer meta.Close()

	_, err = New(a, meta, time.Millisecond, zap.NewNop())
	assert.Error(t, err)
}

func TestDetectsModification(t *testing.T) {
	a, meta := deployedArchive(t)

	dw, err := New(a, meta, time.Millisecond, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, dw.Start())
	defer dw.Stop()

	deployed := filepath.Join(a.DeployPath(), "media", "asset.bin")
	require.NoError(t, os.WriteFile(deployed, []byte("tampered"), 0o644))

	assert.Eventually(t, func() bool {
		return dw.Stats().Modified >= 1
	}, 5*time.Second, 10*time.Millisecond, "expected drift to be detected")
	assert.Equal(t, "media/asset.bin", dw.Stats().LastEventPath)
}

func TestDetectsRemoval(t *testing.T) {
	a, meta := deployedArchive(t)

	dw, err := New(a, meta, time.Millisecond, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, dw.Start())
	defer dw.Stop()

	require.NoError(t, os.Remove(filepath.Join(a.DeployPath(), "media", "asset.bin")))

	assert.Eventually(t, func() bool {
		return dw.Stats().Removed >= 1
	}, 5*time.Second, 10*time.Millisecond, "expected removal to be detected")
}

func TestIgnoresUndeployedFiles(t *testing.T) {
	a, meta := deployedArchive(t)

	dw, err := New(a, meta, time.Millisecond, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, dw.Start())
	defer dw.Stop()

	// A file the archive never deployed is not drift.
	stray := filepath.Join(a.DeployPath(), "stray.txt")
	require.NoError(t, os.WriteFile(stray, []byte("unrelated"), 0o644))

	time.Sleep(200 * time.Millisecond)
	stats := dw.Stats()
	assert.Zero(t, stats.Modified)
	assert.Zero(t, stats.Removed)
}

func TestStartFailureLeavesWatcherStoppable(t *testing.T) {
	a, meta := deployedArchive(t)

	dw, err := New(a, meta, time.Millisecond, zap.NewNop())
	require.NoError(t, err)

	// Deleting the deployment root makes the initial walk fail.
	require.NoError(t, os.RemoveAll(a.DeployPath()))
	require.Error(t, dw.Start())

	// Stop must return instead of waiting on an event loop that never ran.
	done := make(chan struct{})
	go func() {
		dw.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop blocked after failed Start")
	}
}

func TestDebounceMapBounded(t *testing.T) {
	a, meta := deployedArchive(t)

	// Zero debounce makes every entry immediately stale.
	dw, err := New(a, meta, 0, zap.NewNop())
	require.NoError(t, err)
	defer dw.watcher.Close()

	for i := 0; i < 5*debounceMapMax; i++ {
		dw.debounce(fmt.Sprintf("media/churn-%d.bin", i))
	}
	assert.LessOrEqual(t, len(dw.debounceMap), debounceMapMax+1)
}

func TestStartTwiceFails(t *testing.T) {
	a, meta := deployedArchive(t)

	dw, err := New(a, meta, time.Millisecond, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, dw.Start())
	defer dw.Stop()

	assert.Error(t, dw.Start())
}
