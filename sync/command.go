package sync

import (
	"context"
	"errors"
	"log/slog"
	gosync "sync"
	"time"
)

// Reason tags a command delivered to a scheduler's current unit of work.
type Reason int

const (
	// ReasonShutdown stops the scheduler for good. It is also the meaning
	// of any Reason value the scheduler does not recognize.
	ReasonShutdown Reason = iota
	// ReasonSleep abandons the running item and the rest of the sweep, then
	// waits a full interval (batch only).
	ReasonSleep
	// ReasonSkip abandons only the running item.
	ReasonSkip
	// ReasonRun ends the current wait and starts the next sweep (batch only).
	ReasonRun
	// ReasonChange restarts the current wait with the updated interval
	// (batch only).
	ReasonChange
)

func (r Reason) String() string {
	switch r {
	case ReasonShutdown:
		return "shutdown"
	case ReasonSleep:
		return "sleep"
	case ReasonSkip:
		return "skip"
	case ReasonRun:
		return "run"
	case ReasonChange:
		return "change"
	default:
		return "unknown"
	}
}

// Command is a signal for a scheduler. ID, when set on a skip, restricts it
// to a running item with that directory id.
type Command struct {
	Reason Reason
	ID     string
}

// Outcome reports what a command did. Skipped is not a failure: commands
// are best-effort signals and find nothing to act on when the slot is empty.
type Outcome string

const (
	Accepted Outcome = "accepted"
	Skipped  Outcome = "skipped"
)

// SlotState is what occupies a scheduler's single active slot.
type SlotState int

const (
	SlotIdle SlotState = iota
	SlotWaiting
	SlotRunning
	SlotStopped
)

func (s SlotState) String() string {
	switch s {
	case SlotIdle:
		return "idle"
	case SlotWaiting:
		return "waiting"
	case SlotRunning:
		return "running"
	case SlotStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Status is a point-in-time view of a scheduler's slot.
type Status struct {
	State   string   `json:"state"`
	Running bool     `json:"running"`
	ID      string   `json:"id,omitempty"`
	Pending []string `json:"pending,omitempty"`
}

type request struct {
	cmd   Command
	epoch uint64
	reply chan Outcome
}

// itemEnd is how a running item finished.
type itemEnd int

const (
	endNone itemEnd = iota // command did not end the item
	endDone
	endSkip
	endSleep
	endShutdown
)

type itemResult struct {
	count int
	err   error
}

// runSlot is the run-state of one scheduler: what occupies its slot, and the
// channel through which commands reach the scheduler goroutine. Every unit of
// work gets a fresh epoch; a command carries the epoch it was aimed at and is
// answered Skipped if that unit is already gone.
type runSlot struct {
	mu    gosync.Mutex
	state SlotState
	id    string
	epoch uint64

	commands chan request
	stopped  chan struct{}
	stopOnce gosync.Once
}

func (s *runSlot) init() {
	s.commands = make(chan request)
	s.stopped = make(chan struct{})
}

func (s *runSlot) enter(state SlotState, id string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.state = state
	s.id = id
	return s.epoch
}

func (s *runSlot) leave(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch == epoch && s.state != SlotStopped {
		s.state = SlotIdle
		s.id = ""
	}
}

func (s *runSlot) stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.epoch++
		s.state = SlotStopped
		s.id = ""
		s.mu.Unlock()
		close(s.stopped)
	})
}

func (s *runSlot) snapshot() (SlotState, string, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.id, s.epoch
}

func (s *runSlot) status() Status {
	state, id, _ := s.snapshot()
	return Status{State: state.String(), Running: state == SlotRunning, ID: id}
}

// Stopped is closed once the scheduler has shut down.
func (s *runSlot) Stopped() <-chan struct{} {
	return s.stopped
}

// signal delivers cmd to whatever unit of work currently occupies the slot.
func (s *runSlot) signal(cmd Command) Outcome {
	state, _, epoch := s.snapshot()
	if state != SlotRunning && state != SlotWaiting {
		return Skipped
	}
	req := request{cmd: cmd, epoch: epoch, reply: make(chan Outcome, 1)}
	select {
	case s.commands <- req:
	case <-s.stopped:
		return Skipped
	}
	select {
	case out := <-req.reply:
		return out
	case <-s.stopped:
		return Skipped
	}
}

// runItem runs fn for id in its own goroutine while serving commands. decide
// maps a command aimed at this item to a reply and to how the item should
// end; endNone keeps it running. The slot is cleared however the item ends.
func (s *runSlot) runItem(ctx context.Context, id string, fn func(context.Context, string) (int, error), decide func(Command, string) (Outcome, itemEnd)) (itemEnd, itemResult) {
	epoch := s.enter(SlotRunning, id)
	defer s.leave(epoch)

	ictx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan itemResult, 1)
	go func() {
		n, err := fn(ictx, id)
		done <- itemResult{count: n, err: err}
	}()

	for {
		select {
		case res := <-done:
			return endDone, res
		case req := <-s.commands:
			if req.epoch != epoch {
				req.reply <- Skipped
				continue
			}
			out, end := decide(req.cmd, id)
			req.reply <- out
			if end == endNone {
				continue
			}
			cancel()
			return end, <-done
		case <-ctx.Done():
			cancel()
			return endShutdown, <-done
		}
	}
}

// rejectStale answers a command that arrived while no unit of work was
// accepting it.
func rejectStale(req request) {
	req.reply <- Skipped
}

// reportItem logs and publishes how one item went.
func reportItem(l *slog.Logger, events *EventBus, scheduler, id string, end itemEnd, res itemResult, elapsed time.Duration) {
	ev := SyncEvent{Scheduler: scheduler, ID: id, Count: res.count, Elapsed: elapsed.Seconds()}
	switch {
	case end != endDone:
		reason := map[itemEnd]string{endSkip: "skip", endSleep: "sleep", endShutdown: "shutdown"}[end]
		l.Info("item abandoned", "id", id, "reason", reason, "elapsed", elapsed)
		ev.Type = "abandoned"
		ev.Reason = reason
	case res.err != nil && errors.Is(res.err, context.Canceled):
		l.Info("item cancelled", "id", id, "elapsed", elapsed)
		ev.Type = "abandoned"
		ev.Reason = "shutdown"
	case res.err != nil:
		l.Error("sync failed", "id", id, "elapsed", elapsed, "err", res.err)
		ev.Type = "error"
		ev.Error = res.err.Error()
	default:
		l.Info("synced", "id", id, "count", res.count, "elapsed", elapsed)
		ev.Type = "synced"
	}
	events.Publish(ev)
}
