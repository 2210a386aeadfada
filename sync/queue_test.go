package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingQueue_PushTryPop(t *testing.T) {
	q := NewPendingQueue()

	q.Push("a", "b")
	assert.Equal(t, 2, q.Len())

	id, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, "a", id)

	id, ok = q.TryPop()
	require.True(t, ok)
	assert.Equal(t, "b", id)

	assert.Equal(t, 0, q.Len())
}

func TestPendingQueue_KeepsDuplicates(t *testing.T) {
	q := NewPendingQueue()

	q.Push("a")
	q.Push("a")
	q.Push("a")

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, []string{"a", "a", "a"}, q.Pending())
}

func TestPendingQueue_Unfinished(t *testing.T) {
	q := NewPendingQueue()
	q.Push("a", "b")
	assert.Equal(t, 2, q.Unfinished())

	_, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, 2, q.Unfinished(), "popped but not done")

	q.Done()
	assert.Equal(t, 1, q.Unfinished())

	q.Done()
	q.Done()
	assert.Equal(t, 0, q.Unfinished())
}

func TestPendingQueue_TryPopEmpty(t *testing.T) {
	q := NewPendingQueue()
	_, ok := q.TryPop()
	assert.False(t, ok)
	q.Push()
	assert.Equal(t, 0, q.Len())
}

func TestPendingQueue_NotifyAfterPush(t *testing.T) {
	q := NewPendingQueue()
	q.Push("wakeup")

	select {
	case <-q.Notify():
	case <-time.After(time.Second):
		t.Fatal("push did not notify")
	}
	id, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, "wakeup", id)
}
