package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startBatch runs a batch scheduler until the test ends.
func startBatch(t *testing.T, f *fakeRemote, interval time.Duration, ids ...string) (*BatchScheduler, *Syncer) {
	t.Helper()
	s := newTestSyncer(f)
	b := NewBatchScheduler(s, NewTargetSet(ids...), interval, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-b.Stopped()
	})
	return b, s
}

func TestBatch_EndToEndRootSweep(t *testing.T) {
	f := newFakeRemote()
	f.set("0", entries(300, 200, 100))
	b, s := startBatch(t, f, 30*time.Second, "0")

	requireState(t, b.Status, SlotWaiting)

	size, err := s.Index().Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, size)
	assert.Equal(t, Marker(300), s.Watermarks().Get("0"))
	assert.Equal(t, 1, f.firstPages("0"))

	// Nothing changed remotely: the next sweep reads one small page and
	// leaves the index and watermark as they were.
	require.Equal(t, Accepted, b.Signal(Command{Reason: ReasonRun}))
	require.Eventually(t, func() bool { return f.firstPages("0") == 2 }, 2*time.Second, 5*time.Millisecond)
	requireState(t, b.Status, SlotWaiting)

	reqs := f.requestsFor("0")
	require.Len(t, reqs, 2)
	assert.Equal(t, DefaultSmallPageSize, reqs[1].Limit)
	size, err = s.Index().Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, size)
	assert.Equal(t, Marker(300), s.Watermarks().Get("0"))
}

func TestBatch_SweepPicksUpTargetAddedMidSweep(t *testing.T) {
	f := newFakeRemote()
	f.set("a", entries(2, 1))
	f.set("b", entries(4, 3))
	release := f.block("a")

	s := newTestSyncer(f)
	targets := NewTargetSet("a")
	b := NewBatchScheduler(s, targets, Forever, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() { cancel(); <-b.Stopped() }()
	go b.Run(ctx)

	f.awaitStart(t, "a")
	targets.Add("b")
	release()

	requireState(t, b.Status, SlotWaiting)
	assert.Equal(t, 1, f.firstPages("a"))
	assert.Equal(t, 1, f.firstPages("b"))
	assert.Equal(t, Marker(4), s.Watermarks().Get("b"))
}

func TestBatch_SweepSkipsTargetRemovedMidSweep(t *testing.T) {
	f := newFakeRemote()
	f.set("a", entries(1))
	f.set("c", entries(1))
	release := f.block("a")

	s := newTestSyncer(f)
	targets := NewTargetSet("a", "c")
	b := NewBatchScheduler(s, targets, Forever, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() { cancel(); <-b.Stopped() }()
	go b.Run(ctx)

	f.awaitStart(t, "a")
	targets.Remove("c")
	release()

	requireState(t, b.Status, SlotWaiting)
	assert.Equal(t, 0, f.firstPages("c"))
}

func TestBatch_SweepDoesNotRevisitReAddedTarget(t *testing.T) {
	f := newFakeRemote()
	f.set("a", entries(1))
	f.set("b", entries(2))
	release := f.block("b")

	s := newTestSyncer(f)
	targets := NewTargetSet("a", "b")
	b := NewBatchScheduler(s, targets, Forever, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() { cancel(); <-b.Stopped() }()
	go b.Run(ctx)

	f.awaitStart(t, "b")
	targets.Remove("a")
	targets.Add("a")
	release()

	requireState(t, b.Status, SlotWaiting)
	assert.Equal(t, 1, f.firstPages("a"))
	assert.Equal(t, 1, f.firstPages("b"))
}

func TestBatch_SweepRunsTargetReAddedBeforeItsTurn(t *testing.T) {
	f := newFakeRemote()
	f.set("a", entries(1))
	f.set("c", entries(3))
	release := f.block("a")

	s := newTestSyncer(f)
	targets := NewTargetSet("a", "c")
	b := NewBatchScheduler(s, targets, Forever, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() { cancel(); <-b.Stopped() }()
	go b.Run(ctx)

	f.awaitStart(t, "a")
	targets.Remove("c")
	targets.Add("c")
	release()

	requireState(t, b.Status, SlotWaiting)
	assert.Equal(t, 1, f.firstPages("c"))
}

func TestBatch_SleepWhileRunningAbandonsSweep(t *testing.T) {
	f := newFakeRemote()
	f.set("a", entries(1))
	f.set("b", entries(1))
	defer f.block("a")()
	b, _ := startBatch(t, f, Forever, "a", "b")

	f.awaitStart(t, "a")
	assert.Equal(t, Accepted, b.Signal(Command{Reason: ReasonSleep}))

	requireState(t, b.Status, SlotWaiting)
	assert.Equal(t, 0, f.firstPages("b"))
}

func TestBatch_RunWhileWaitingStartsSweep(t *testing.T) {
	f := newFakeRemote()
	f.set("a", entries(1))
	b, _ := startBatch(t, f, Forever, "a")

	requireState(t, b.Status, SlotWaiting)
	require.Equal(t, 1, f.firstPages("a"))

	assert.Equal(t, Accepted, b.Signal(Command{Reason: ReasonRun}))
	require.Eventually(t, func() bool { return f.firstPages("a") == 2 }, 2*time.Second, 5*time.Millisecond)
	requireState(t, b.Status, SlotWaiting)
}

func TestBatch_CommandsThatDoNotApply(t *testing.T) {
	f := newFakeRemote()
	f.set("a", entries(1))
	release := f.block("a")
	b, _ := startBatch(t, f, Forever, "a")

	f.awaitStart(t, "a")
	assert.Equal(t, Skipped, b.Signal(Command{Reason: ReasonRun}), "run while running")
	assert.Equal(t, Skipped, b.Signal(Command{Reason: ReasonChange}), "change while running")
	assert.Equal(t, Skipped, b.Signal(Command{Reason: ReasonSkip, ID: "other"}), "skip aimed at another id")
	assert.Equal(t, SlotRunning.String(), b.Status().State)

	release()
	requireState(t, b.Status, SlotWaiting)
	assert.Equal(t, Skipped, b.Signal(Command{Reason: ReasonSleep}), "sleep while waiting")
	assert.Equal(t, Skipped, b.Signal(Command{Reason: ReasonSkip}), "skip while waiting")
}

func TestBatch_SkipMovesToNextTarget(t *testing.T) {
	f := newFakeRemote()
	f.set("a", entries(1))
	f.set("b", entries(7))
	defer f.block("a")()
	b, s := startBatch(t, f, Forever, "a", "b")

	f.awaitStart(t, "a")
	status := b.Status()
	assert.True(t, status.Running)
	assert.Equal(t, "a", status.ID)

	assert.Equal(t, Accepted, b.Signal(Command{Reason: ReasonSkip, ID: "a"}))

	requireState(t, b.Status, SlotWaiting)
	assert.Equal(t, Marker(0), s.Watermarks().Get("a"))
	assert.Equal(t, Marker(7), s.Watermarks().Get("b"))
}

func TestBatch_ColdStartWaitsWhenIndexIsPopulated(t *testing.T) {
	f := newFakeRemote()
	f.set("a", entries(1))
	s := newTestSyncer(f)
	require.NoError(t, s.Index().Set(context.Background(), "existing", "pc"))

	b := NewBatchScheduler(s, NewTargetSet("a"), Forever, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() { cancel(); <-b.Stopped() }()
	go b.Run(ctx)

	requireState(t, b.Status, SlotWaiting)
	assert.Equal(t, 0, f.firstPages("a"))

	assert.Equal(t, Accepted, b.Signal(Command{Reason: ReasonRun}))
	require.Eventually(t, func() bool { return f.firstPages("a") == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestBatch_ChangeRestartsWait(t *testing.T) {
	f := newFakeRemote()
	f.set("a", entries(1))
	b, _ := startBatch(t, f, time.Hour, "a")

	requireState(t, b.Status, SlotWaiting)
	assert.Equal(t, Accepted, b.SetInterval(20*time.Millisecond))
	assert.Equal(t, 20*time.Millisecond, b.Interval())

	require.Eventually(t, func() bool { return f.firstPages("a") >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestBatch_SetIntervalWhileRunningTakesEffectNextWait(t *testing.T) {
	f := newFakeRemote()
	f.set("a", entries(1))
	release := f.block("a")
	b, _ := startBatch(t, f, time.Hour, "a")

	f.awaitStart(t, "a")
	assert.Equal(t, Skipped, b.SetInterval(10*time.Millisecond))
	release()

	require.Eventually(t, func() bool { return f.firstPages("a") >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestBatch_ShutdownWhileWaiting(t *testing.T) {
	f := newFakeRemote()
	f.set("a", entries(1))
	b, _ := startBatch(t, f, Forever, "a")

	requireState(t, b.Status, SlotWaiting)
	assert.Equal(t, Accepted, b.Signal(Command{Reason: ReasonShutdown}))

	select {
	case <-b.Stopped():
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, SlotStopped.String(), b.Status().State)
	assert.Equal(t, Skipped, b.Signal(Command{Reason: ReasonRun}))
}

func TestBatch_UnknownReasonShutsDown(t *testing.T) {
	f := newFakeRemote()
	f.set("a", entries(1))
	defer f.block("a")()
	b, _ := startBatch(t, f, Forever, "a")

	f.awaitStart(t, "a")
	assert.Equal(t, Accepted, b.Signal(Command{Reason: Reason(99)}))

	select {
	case <-b.Stopped():
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestBatch_FetchErrorDoesNotStopSweep(t *testing.T) {
	f := newFakeRemote()
	f.fail("a", assert.AnError)
	f.set("b", entries(3))
	b, s := startBatch(t, f, Forever, "a", "b")

	requireState(t, b.Status, SlotWaiting)
	assert.Equal(t, Marker(3), s.Watermarks().Get("b"))
}

func TestRemainingWait(t *testing.T) {
	assert.Equal(t, 20*time.Second, remainingWait(30*time.Second, 10*time.Second))
	assert.Equal(t, -5*time.Second, remainingWait(30*time.Second, 35*time.Second))
	assert.Equal(t, Forever, remainingWait(Forever, time.Hour))
}
