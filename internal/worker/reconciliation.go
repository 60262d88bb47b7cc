package worker

import (
	"context"
	"sync"
	"time"

	"canteen-sync/internal/service"

	"github.com/rs/zerolog/log"
)

// ReconciliationWorker sweeps pending payments on an interval. It stops on its
// own once a sweep leaves nothing pending; Wake brings it back.
type ReconciliationWorker struct {
	engine   service.OrderService
	interval time.Duration

	mu      sync.Mutex
	current *Handle
	closed  bool
	// rearm is set by Wake while a run is active; the run sweeps once more
	// before stopping itself.
	rearm bool
}

func NewReconciliationWorker(engine service.OrderService, interval time.Duration) *ReconciliationWorker {
	return &ReconciliationWorker{
		engine:   engine,
		interval: interval,
	}
}

// Handle controls one run of the worker.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop cancels the run and waits for it to return. A sweep already in flight
// finishes the order it is reconciling first.
func (h *Handle) Stop() {
	h.cancel()
	<-h.done
}

// Done is closed when the run returns, including when it stopped itself.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (rw *ReconciliationWorker) Run(ctx context.Context) {
	rw.run(ctx, nil)
}

func (rw *ReconciliationWorker) run(ctx context.Context, h *Handle) {
	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", rw.interval).Msg("worker: reconciliation worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("worker: reconciliation worker stopped")
			return
		case <-ticker.C:
			if rw.process(ctx) || !rw.finish(h) {
				continue
			}
			log.Info().Msg("worker: no pending payments left, reconciliation worker stopped")
			return
		}
	}
}

// process runs one sweep and reports whether payments are still pending.
func (rw *ReconciliationWorker) process(ctx context.Context) bool {
	rw.mu.Lock()
	rw.rearm = false
	rw.mu.Unlock()

	stats, err := rw.engine.Sweep(ctx)
	if err != nil {
		log.Error().Err(err).Msg("worker: reconciliation sweep failed")
		return true
	}
	return stats.Remaining > 0
}

// finish reports whether the run may stop. It refuses when Wake was called
// during the last sweep; otherwise the run is detached so the next Wake
// starts a fresh one.
func (rw *ReconciliationWorker) finish(h *Handle) bool {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.rearm {
		rw.rearm = false
		return false
	}
	if h != nil && rw.current == h {
		rw.current = nil
	}
	return true
}

// Start runs the worker in a goroutine until ctx ends, Stop is called, or a
// sweep leaves nothing pending.
func (rw *ReconciliationWorker) Start(ctx context.Context) *Handle {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.startLocked(ctx)
}

func (rw *ReconciliationWorker) startLocked(ctx context.Context) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		rw.run(ctx, h)
	}()
	rw.current = h
	rw.rearm = false
	return h
}

// Wake starts the worker unless a run is already active. The run is detached
// from ctx's cancellation so a request context can trigger it; Shutdown ends
// it. Wake returns nil after Shutdown.
func (rw *ReconciliationWorker) Wake(ctx context.Context) *Handle {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.closed {
		return nil
	}
	if rw.current != nil {
		select {
		case <-rw.current.done:
		default:
			rw.rearm = true
			return rw.current
		}
	}
	return rw.startLocked(context.WithoutCancel(ctx))
}

// Shutdown stops the active run, if any, and refuses further Wake calls.
func (rw *ReconciliationWorker) Shutdown() {
	rw.mu.Lock()
	rw.closed = true
	h := rw.current
	rw.mu.Unlock()

	if h != nil {
		h.Stop()
	}
}
