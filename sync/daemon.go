package sync

import (
	"context"
	gosync "sync"
	"time"
)

// DaemonConfig holds what the daemon needs beyond its collaborators.
type DaemonConfig struct {
	Targets       []string
	Interval      time.Duration
	TargetsFile   string
	BulkPageSize  int
	SmallPageSize int
}

// Daemon owns the shared state and runs both schedulers and, when a targets
// file is configured, its watcher.
type Daemon struct {
	cfg     DaemonConfig
	index   *NameIndex
	marks   *Watermarks
	targets *TargetSet
	pending *PendingQueue
	events  *EventBus
	syncer  *Syncer
	batch   *BatchScheduler
	queue   *QueueScheduler
	control *Control

	fileTargets []string

	mu     gosync.Mutex
	cancel context.CancelFunc
}

// NewDaemon builds the daemon. Targets from the targets file, if any, are
// added after cfg.Targets.
func NewDaemon(fetcher Fetcher, index *NameIndex, cfg DaemonConfig) (*Daemon, error) {
	d := &Daemon{
		cfg:     cfg,
		index:   index,
		marks:   NewWatermarks(),
		targets: NewTargetSet(cfg.Targets...),
		pending: NewPendingQueue(),
		events:  NewEventBus(),
	}

	if cfg.TargetsFile != "" {
		ids, err := LoadTargetsFile(cfg.TargetsFile)
		if err != nil {
			return nil, err
		}
		// Ids already configured stay owned by the configuration.
		d.fileTargets = d.targets.Add(ids...)
	}

	d.syncer = NewSyncer(fetcher, index, d.marks)
	if cfg.BulkPageSize > 0 {
		d.syncer.BulkPageSize = cfg.BulkPageSize
	}
	if cfg.SmallPageSize > 0 {
		d.syncer.SmallPageSize = cfg.SmallPageSize
	}
	d.batch = NewBatchScheduler(d.syncer, d.targets, cfg.Interval, d.events)
	d.queue = NewQueueScheduler(d.syncer, d.pending, d.events)
	d.control = NewControl(d.batch, d.queue, d.pending, d.targets, d.marks, d.stop)
	return d, nil
}

func (d *Daemon) Control() *Control { return d.control }
func (d *Daemon) Events() *EventBus { return d.events }
func (d *Daemon) Index() *NameIndex { return d.index }
func (d *Daemon) Queue() *PendingQueue { return d.pending }

// Run starts both schedulers and blocks until both have stopped, either
// through ctx or through Control.Shutdown.
func (d *Daemon) Run(ctx context.Context) {
	l := sub("daemon")
	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
	defer cancel()

	l.Info("daemon starting", "targets", d.targets.Sorted(), "interval", formatInterval(d.cfg.Interval))

	if d.cfg.TargetsFile != "" {
		watcher, err := NewTargetsWatcher(d.cfg.TargetsFile, d.control, d.fileTargets)
		if err != nil {
			l.Warn("targets file not watched", "path", d.cfg.TargetsFile, "err", err)
		} else {
			go func() {
				if err := watcher.Start(ctx); err != nil && ctx.Err() == nil {
					l.Warn("targets watcher stopped unexpectedly", "err", err)
				}
			}()
		}
	}

	var wg gosync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		d.batch.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		d.queue.Run(ctx)
	}()

	// Either scheduler stopping on its own means a shutdown was requested.
	select {
	case <-d.batch.Stopped():
	case <-d.queue.Stopped():
	case <-ctx.Done():
	}
	cancel()
	wg.Wait()
	l.Info("daemon stopped")
}

// stop ends Run. It is a no-op before Run starts.
func (d *Daemon) stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
