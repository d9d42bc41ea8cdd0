package cdr

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// maxQueuedRecords bounds the in-memory batch queue. A submission that
// would push past it is dropped with a warning, the same way an
// allocation failure drops an event: the engine keeps running and the
// already-queued batch still drains.
const maxQueuedRecords = 8192

// BatchDispatcher buffers finalized ExternalRecords and hands them to
// the backend registry on a size-or-time schedule. The worker parks on
// a sync.Cond with a timer-driven deadline rather than a plain ticker,
// so a size-triggered submission can wake it early.
type BatchDispatcher struct {
	logger *slog.Logger
	cfg    func() *Config

	mu           sync.Mutex
	pending      []*ExternalRecord
	cond         *sync.Cond
	wake         bool
	stopped      bool
	nextDeadline time.Time

	registry *BackendRegistry

	wg   sync.WaitGroup
	stop context.CancelFunc
}

func newBatchDispatcher(logger *slog.Logger, registry *BackendRegistry, cfg func() *Config) *BatchDispatcher {
	d := &BatchDispatcher{
		logger:   logger.With("subsystem", "cdr.dispatch"),
		cfg:      cfg,
		registry: registry,
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// start launches the periodic drain worker. eng is passed through only
// to backend dispatch calls, not retained beyond a single drain.
func (d *BatchDispatcher) start(ctx context.Context, eng *Engine) {
	ctx, cancel := context.WithCancel(ctx)
	d.stop = cancel

	d.wg.Add(1)
	go func() {
		<-ctx.Done()
		d.mu.Lock()
		d.stopped = true
		d.cond.Broadcast()
		d.mu.Unlock()
	}()

	d.wg.Add(1)
	go d.loop(eng)
}

// loop is the scheduler thread: it sleeps on d.cond with a deadline
// realized via time.AfterFunc (the closest Go analogue to "condition
// variable with a deadline"), waking either when the deadline elapses,
// when submit signals an early size-triggered drain, or on shutdown.
func (d *BatchDispatcher) loop(eng *Engine) {
	defer d.wg.Done()

	for {
		interval := time.Duration(d.cfg().Time) * time.Second
		if interval <= 0 {
			interval = 300 * time.Second
		}

		timer := time.AfterFunc(interval, func() {
			d.mu.Lock()
			d.wake = true
			d.cond.Broadcast()
			d.mu.Unlock()
		})

		d.mu.Lock()
		d.nextDeadline = time.Now().Add(interval)
		for !d.wake && !d.stopped {
			d.cond.Wait()
		}
		stopped := d.stopped
		d.wake = false
		d.mu.Unlock()
		timer.Stop()

		if stopped {
			return
		}
		d.drain(eng)
	}
}

// submit queues records for batched dispatch, or dispatches them inline
// if batching is disabled.
func (d *BatchDispatcher) submit(eng *Engine, records []*ExternalRecord) {
	if len(records) == 0 {
		return
	}
	eng.recordsEmitted.Add(int64(len(records)))
	cfg := d.cfg()
	if !cfg.Batch {
		d.dispatchNow(eng, records)
		return
	}

	d.mu.Lock()
	if len(d.pending)+len(records) > maxQueuedRecords {
		dropped := len(records)
		d.mu.Unlock()
		d.logger.Warn("cdr: dropping records", "err", ErrQueueFull, "dropped", dropped)
		d.wakeEarly()
		return
	}
	d.pending = append(d.pending, records...)
	full := uint(len(d.pending)) >= cfg.Size
	d.mu.Unlock()

	if full {
		d.wakeEarly()
	}
}

// wakeEarly implements "submit_unscheduled_batch signals the condition
// to wake it early" for the size-threshold trigger.
func (d *BatchDispatcher) wakeEarly() {
	d.mu.Lock()
	d.wake = true
	d.cond.Broadcast()
	d.mu.Unlock()
}

// drain swaps the pending queue out under lock, then hands it to
// backends either inline (scheduler_only) or on a detached worker.
func (d *BatchDispatcher) drain(eng *Engine) {
	d.mu.Lock()
	batch := d.pending
	d.pending = nil
	d.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	if d.cfg().SchedulerOnly {
		d.dispatchNow(eng, batch)
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				d.logger.Error("cdr: backend worker panic recovered", "panic", p)
			}
		}()
		d.dispatchNow(eng, batch)
	}()
}

func (d *BatchDispatcher) dispatchNow(eng *Engine, batch []*ExternalRecord) {
	for _, rec := range batch {
		d.registry.dispatchOne(eng, rec)
	}
}

// shutdown stops the periodic worker. If safe shutdown is configured, any
// still-pending batch is drained synchronously first so nothing queued
// is lost on a graceful exit.
func (d *BatchDispatcher) shutdown(eng *Engine) {
	if d.cfg().SafeShutdown {
		d.mu.Lock()
		batch := d.pending
		d.pending = nil
		d.mu.Unlock()
		d.dispatchNow(eng, batch)
	}
	if d.stop != nil {
		d.stop()
	}
	d.wg.Wait()
}

// forceDrain implements the "cdr submit" CLI command: an immediate
// drain regardless of the size/time trigger state.
func (d *BatchDispatcher) forceDrain(eng *Engine) {
	d.drain(eng)
}

// pendingLen reports the current queue depth, used by the metrics
// collector and "cdr show status".
func (d *BatchDispatcher) pendingLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// nextDrainIn reports how long until the periodic timer fires, zero if
// the worker has not armed a deadline yet. Used by "cdr show status".
func (d *BatchDispatcher) nextDrainIn() time.Duration {
	d.mu.Lock()
	deadline := d.nextDeadline
	d.mu.Unlock()
	if deadline.IsZero() {
		return 0
	}
	eta := time.Until(deadline)
	if eta < 0 {
		return 0
	}
	return eta
}
