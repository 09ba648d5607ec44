package supervisor

import (
	"context"
	"fmt"
	"log"
	"time"
)

// healthMonitor watches the pool for stalled workers. A worker that makes no
// client progress within the stall interval gets one last-chance recovery
// (its in-flight call is interrupted, triggering the normal recovery path);
// a second stall breaks it.
type healthMonitor struct {
	workers []*worker
	stall   time.Duration
}

func newHealthMonitor(workers []*worker, stall time.Duration) *healthMonitor {
	return &healthMonitor{workers: workers, stall: stall}
}

func (h *healthMonitor) run(ctx context.Context) {
	if h.stall <= 0 {
		return
	}
	interval := h.stall / 4
	if interval > time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.check()
		}
	}
}

func (h *healthMonitor) check() {
	now := time.Now()
	for _, w := range h.workers {
		switch w.State() {
		case StateIdle, StateDone, StateBroken:
			continue
		}
		stalled := now.Sub(w.lastProgressAt())
		if stalled < h.stall {
			continue
		}
		if w.useStallRecovery() {
			log.Printf("[Supervisor] Worker %s stalled for %v, interrupting for last-chance recovery",
				w.id, stalled.Round(time.Second))
			w.interrupt()
			continue
		}
		w.breakWorker(fmt.Sprintf("stalled for %v with recovery already spent", stalled.Round(time.Second)))
		w.interrupt()
	}
}
