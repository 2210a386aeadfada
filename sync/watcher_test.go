package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetsWatcher_AppliesFileEdits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "targets")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\n"), 0644))

	initial, err := LoadTargetsFile(path)
	require.NoError(t, err)

	targets := NewTargetSet(initial...)
	targets.Add("api-added")
	s := newTestSyncer(newFakeRemote())
	control := NewControl(
		NewBatchScheduler(s, targets, Forever, nil),
		NewQueueScheduler(s, NewPendingQueue(), nil),
		NewPendingQueue(), targets, s.Watermarks(), nil)

	w, err := NewTargetsWatcher(path, control, initial)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx) //nolint:errcheck

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("b\nc\n"), 0644))

	require.Eventually(t, func() bool {
		return targets.Contains("c") && !targets.Contains("a")
	}, 3*time.Second, 20*time.Millisecond)
	assert.True(t, targets.Contains("b"))
	assert.True(t, targets.Contains("api-added"), "ids not from the file are kept")
}

func TestTargetsWatcher_KeepsConfiguredTargetsListedInFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets")
	require.NoError(t, os.WriteFile(path, []byte("0\nx\n"), 0644))

	ids, err := LoadTargetsFile(path)
	require.NoError(t, err)
	targets := NewTargetSet("0")
	initial := targets.Add(ids...)
	require.Equal(t, []string{"x"}, initial)

	s := newTestSyncer(newFakeRemote())
	control := NewControl(
		NewBatchScheduler(s, targets, Forever, nil),
		NewQueueScheduler(s, NewPendingQueue(), nil),
		NewPendingQueue(), targets, s.Watermarks(), nil)
	w, err := NewTargetsWatcher(path, control, initial)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("y\n"), 0644))
	w.reload()
	assert.True(t, targets.Contains("0"), "configured id outlives its file entry")
	assert.False(t, targets.Contains("x"))
	assert.True(t, targets.Contains("y"))

	require.NoError(t, os.WriteFile(path, nil, 0644))
	w.reload()
	assert.Equal(t, []string{"0"}, targets.Sorted())
}
