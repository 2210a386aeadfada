package sync

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
)

// BatchScheduler sweeps every directory in a TargetSet, waits out the rest
// of the interval, and repeats. Its slot holds either the running item or
// the wait between sweeps.
type BatchScheduler struct {
	runSlot

	syncer   *Syncer
	targets  *TargetSet
	events   *EventBus
	interval atomic.Int64 // time.Duration
}

// NewBatchScheduler creates a scheduler over targets. interval may be
// Forever; a non-positive interval starts each sweep right after the last.
func NewBatchScheduler(syncer *Syncer, targets *TargetSet, interval time.Duration, events *EventBus) *BatchScheduler {
	b := &BatchScheduler{syncer: syncer, targets: targets, events: events}
	b.runSlot.init()
	b.interval.Store(int64(interval))
	return b
}

// Interval returns the configured interval.
func (b *BatchScheduler) Interval() time.Duration {
	return time.Duration(b.interval.Load())
}

// SetInterval updates the interval and restarts a wait in progress so the
// new value takes effect at once. The outcome is that of the change signal.
func (b *BatchScheduler) SetInterval(d time.Duration) Outcome {
	old := time.Duration(b.interval.Swap(int64(d)))
	sub("batch").Info("interval changed", "from", formatInterval(old), "to", formatInterval(d))
	return b.Signal(Command{Reason: ReasonChange})
}

// Signal delivers cmd to the current item or wait.
func (b *BatchScheduler) Signal(cmd Command) Outcome {
	out := b.signal(cmd)
	sub("batch").Debug("signal", "reason", cmd.Reason, "id", cmd.ID, "outcome", out)
	return out
}

// Status reports whether an item is running and which.
func (b *BatchScheduler) Status() Status {
	return b.status()
}

// emptySweepDelay bounds the loop rate when there are no targets and the
// interval is non-positive.
const emptySweepDelay = time.Second

type sweepEnd int

const (
	sweepDone sweepEnd = iota
	sweepSleep
	sweepShutdown
)

// Run drives sweeps until a shutdown command or ctx cancellation.
func (b *BatchScheduler) Run(ctx context.Context) {
	l := sub("batch")
	defer func() {
		b.stop()
		b.publishState(SlotStopped)
		l.Info("batch scheduler stopped")
	}()

	startWaiting := false
	if b.Interval() == Forever {
		n, err := b.syncer.Index().Len(ctx)
		if err != nil {
			l.Warn("index size unknown, sweeping immediately", "err", err)
		}
		startWaiting = n > 0
	}
	l.Info("batch scheduler starting",
		"interval", formatInterval(b.Interval()), "targets", b.targets.Len(), "startWaiting", startWaiting)

	if startWaiting && !b.wait(ctx, Forever) {
		return
	}

	for ctx.Err() == nil {
		start := nowFunc()
		end, visited := b.sweep(ctx)
		elapsed := nowFunc().Sub(start)

		var wait time.Duration
		switch end {
		case sweepShutdown:
			return
		case sweepSleep:
			wait = b.Interval()
		default:
			l.Info("sweep complete", "elapsed", elapsed)
			b.events.Publish(SyncEvent{Type: "sweep", Scheduler: "batch", Elapsed: elapsed.Seconds()})
			wait = remainingWait(b.Interval(), elapsed)
			if visited == 0 && wait < emptySweepDelay {
				wait = emptySweepDelay
			}
		}

		if wait > 0 && !b.wait(ctx, wait) {
			return
		}
	}
}

// sweep syncs every target once. Targets added while the sweep runs are
// picked up and targets removed before their turn are passed over; a target
// visited once is not visited again in this sweep even if it was removed and
// re-added.
func (b *BatchScheduler) sweep(ctx context.Context) (sweepEnd, int) {
	l := sub("batch")
	visited := make(map[string]struct{})
	for {
		batch := lo.Filter(b.targets.Snapshot(), func(id string, _ int) bool {
			_, seen := visited[id]
			return !seen
		})
		if len(batch) == 0 {
			return sweepDone, len(visited)
		}
		l.Debug("sweep batch", "ids", batch, "visited", len(visited))

		for _, id := range batch {
			if ctx.Err() != nil {
				return sweepShutdown, len(visited)
			}
			// Removed since the snapshot. Not marked visited, so a re-add
			// later in this sweep still gets it processed.
			if !b.targets.Contains(id) {
				continue
			}
			visited[id] = struct{}{}

			start := nowFunc()
			end, res := b.runItem(ctx, id, b.syncer.Sync, b.decideRunning)
			reportItem(l, b.events, "batch", id, end, res, nowFunc().Sub(start))

			switch end {
			case endSleep:
				return sweepSleep, len(visited)
			case endShutdown:
				return sweepShutdown, len(visited)
			}
		}
	}
}

func (b *BatchScheduler) decideRunning(cmd Command, id string) (Outcome, itemEnd) {
	switch cmd.Reason {
	case ReasonSleep:
		return Accepted, endSleep
	case ReasonSkip:
		if cmd.ID != "" && cmd.ID != id {
			return Skipped, endNone
		}
		return Accepted, endSkip
	case ReasonRun, ReasonChange:
		return Skipped, endNone
	default:
		return Accepted, endShutdown
	}
}

// wait occupies the slot for d (Forever: until signalled). It returns false
// when the scheduler must shut down.
func (b *BatchScheduler) wait(ctx context.Context, d time.Duration) bool {
	l := sub("batch")
	epoch := b.enter(SlotWaiting, "")
	defer b.leave(epoch)
	b.publishState(SlotWaiting)
	l.Info("waiting", "for", formatInterval(d))

	timer := newWaitTimer(d)
	defer func() { stopWaitTimer(timer) }()

	for {
		select {
		case <-waitTimerC(timer):
			return true
		case req := <-b.commands:
			if req.epoch != epoch {
				rejectStale(req)
				continue
			}
			switch req.cmd.Reason {
			case ReasonRun:
				req.reply <- Accepted
				l.Info("wait cut short by run")
				return true
			case ReasonChange:
				req.reply <- Accepted
				stopWaitTimer(timer)
				d = b.Interval()
				if d <= 0 {
					return true
				}
				l.Info("wait restarted", "for", formatInterval(d))
				timer = newWaitTimer(d)
			case ReasonSleep, ReasonSkip:
				req.reply <- Skipped
			default:
				req.reply <- Accepted
				l.Info("shutdown while waiting")
				return false
			}
		case <-ctx.Done():
			return false
		}
	}
}

func (b *BatchScheduler) publishState(state SlotState) {
	b.events.Publish(SyncEvent{Type: "state", Scheduler: "batch", State: state.String()})
}

// remainingWait is what is left of interval after a sweep took elapsed.
func remainingWait(interval, elapsed time.Duration) time.Duration {
	if interval == Forever {
		return Forever
	}
	return interval - elapsed
}

// newWaitTimer returns nil for Forever; a nil timer never fires.
func newWaitTimer(d time.Duration) *time.Timer {
	if d == Forever {
		return nil
	}
	return time.NewTimer(d)
}

func waitTimerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func stopWaitTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func formatInterval(d time.Duration) string {
	if d == Forever {
		return "forever"
	}
	return d.String()
}
