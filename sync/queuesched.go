package sync

import (
	"context"
)

// QueueScheduler consumes a PendingQueue one id at a time. It has no timer:
// between items it only waits for the next push.
type QueueScheduler struct {
	runSlot

	syncer *Syncer
	queue  *PendingQueue
	events *EventBus
}

// NewQueueScheduler creates a scheduler consuming queue.
func NewQueueScheduler(syncer *Syncer, queue *PendingQueue, events *EventBus) *QueueScheduler {
	s := &QueueScheduler{syncer: syncer, queue: queue, events: events}
	s.runSlot.init()
	return s
}

// Signal delivers cmd to the running item. With no item running it is
// Skipped.
func (s *QueueScheduler) Signal(cmd Command) Outcome {
	out := s.signal(cmd)
	sub("queue").Debug("signal", "reason", cmd.Reason, "id", cmd.ID, "outcome", out)
	return out
}

// Status reports the running item and the ids still queued.
func (s *QueueScheduler) Status() Status {
	st := s.status()
	st.Pending = s.queue.Pending()
	return st
}

// Run consumes the queue until a shutdown command reaches a running item or
// ctx is cancelled.
func (s *QueueScheduler) Run(ctx context.Context) {
	l := sub("queue")
	defer func() {
		s.stop()
		s.events.Publish(SyncEvent{Type: "state", Scheduler: "queue", State: SlotStopped.String()})
		l.Info("queue scheduler stopped")
	}()
	l.Info("queue scheduler starting", "pending", s.queue.Len())

	for {
		id, ok := s.queue.TryPop()
		if !ok {
			select {
			case <-s.queue.Notify():
				continue
			case req := <-s.commands:
				rejectStale(req)
				continue
			case <-ctx.Done():
				return
			}
		}

		start := nowFunc()
		end, res := s.runItem(ctx, id, s.syncer.Sync, s.decideRunning)
		reportItem(l, s.events, "queue", id, end, res, nowFunc().Sub(start))
		s.queue.Done()

		if end == endShutdown || ctx.Err() != nil {
			return
		}
	}
}

func (s *QueueScheduler) decideRunning(cmd Command, id string) (Outcome, itemEnd) {
	switch cmd.Reason {
	case ReasonSkip:
		if cmd.ID != "" && cmd.ID != id {
			return Skipped, endNone
		}
		return Accepted, endSkip
	case ReasonSleep, ReasonRun, ReasonChange:
		return Skipped, endNone
	default:
		return Accepted, endShutdown
	}
}
