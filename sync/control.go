package sync

import (
	"time"

	"github.com/samber/lo"
)

// Control is the operator command surface. Every operation is independent:
// mutations of the target set and queue take effect at once, scheduler
// commands are best-effort signals whose Skipped outcome is not an error.
type Control struct {
	batch   *BatchScheduler
	queue   *QueueScheduler
	pending *PendingQueue
	targets *TargetSet
	marks   *Watermarks
	stop    func()
}

// NewControl creates a Control over the given schedulers and shared state.
// stop, if non-nil, is called by Shutdown after both schedulers were
// signalled; it lets the owner end loops that have no slot to signal.
func NewControl(batch *BatchScheduler, queue *QueueScheduler, pending *PendingQueue, targets *TargetSet, marks *Watermarks, stop func()) *Control {
	return &Control{
		batch:   batch,
		queue:   queue,
		pending: pending,
		targets: targets,
		marks:   marks,
		stop:    stop,
	}
}

// Enqueue requests a one-off sync of each id and returns how many were queued.
// Empty ids are dropped.
func (c *Control) Enqueue(ids ...string) int {
	ids = lo.Compact(ids)
	c.pending.Push(ids...)
	if len(ids) > 0 {
		sub("control").Info("enqueued", "ids", ids, "pending", c.pending.Len())
	}
	return len(ids)
}

// BatchRun ends the batch scheduler's wait early.
func (c *Control) BatchRun() Outcome {
	return c.batch.Signal(Command{Reason: ReasonRun})
}

// BatchSleep abandons the running batch item and the rest of its sweep.
func (c *Control) BatchSleep() Outcome {
	return c.batch.Signal(Command{Reason: ReasonSleep})
}

// BatchSkip abandons the running batch item. A non-empty id restricts the
// skip to that directory.
func (c *Control) BatchSkip(id string) Outcome {
	return c.batch.Signal(Command{Reason: ReasonSkip, ID: id})
}

// QueueSkip abandons the running queue item. A non-empty id restricts the
// skip to that directory.
func (c *Control) QueueSkip(id string) Outcome {
	return c.queue.Signal(Command{Reason: ReasonSkip, ID: id})
}

func (c *Control) BatchStatus() Status { return c.batch.Status() }

func (c *Control) QueueStatus() Status { return c.queue.Status() }

func (c *Control) Interval() time.Duration { return c.batch.Interval() }

// SetInterval stores d and restarts a batch wait in progress with it.
func (c *Control) SetInterval(d time.Duration) Outcome {
	return c.batch.SetInterval(d)
}

// Targets returns the target set in natural order.
func (c *Control) Targets() []string { return c.targets.Sorted() }

// AddTargets adds ids to the target set and returns those that were new.
// A sweep in progress picks them up.
func (c *Control) AddTargets(ids ...string) []string {
	added := c.targets.Add(lo.Compact(ids)...)
	if len(added) > 0 {
		sub("control").Info("targets added", "ids", added, "targets", c.targets.Len())
	}
	return added
}

// RemoveTargets removes ids from the target set and returns those that were
// present. A running item for a removed id is not interrupted.
func (c *Control) RemoveTargets(ids ...string) []string {
	removed := c.targets.Remove(ids...)
	if len(removed) > 0 {
		sub("control").Info("targets removed", "ids", removed, "targets", c.targets.Len())
	}
	return removed
}

// Watermarks returns a copy of every directory's watermark.
func (c *Control) Watermarks() map[string]Marker { return c.marks.Snapshot() }

// Shutdown stops both schedulers. It is safe to call more than once.
func (c *Control) Shutdown() (batch, queue Outcome) {
	sub("control").Info("shutdown requested")
	batch = c.batch.Signal(Command{Reason: ReasonShutdown})
	queue = c.queue.Signal(Command{Reason: ReasonShutdown})
	if c.stop != nil {
		c.stop()
	}
	return batch, queue
}
