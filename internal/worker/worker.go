// Package worker spawns and drives the per-processor thread: the wakeup
// loop that blocks for the next event, dispatches to Process() according to
// the processor's declared execution mode, records metrics, and handles the
// non-fatal/fatal error split. Grounded on the teacher's websocket hub
// Run() loop (select over control channels, drained until a stop signal)
// generalized from a connection's read/write pump to a processor's
// wakeup/process pump, and on the rate limiter's cleanup() background-ticker
// idiom for the Manual-mode no-op spawn path.
package worker

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fluxcore/streamgraph/internal/metrics"
	"github.com/fluxcore/streamgraph/internal/processor"
	"github.com/fluxcore/streamgraph/internal/pubsub"
	"github.com/fluxcore/streamgraph/internal/wakeup"
)

// Status is a worker's observable lifecycle state.
type Status int32

const (
	Running Status = iota
	Stopped
	Failed
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Handle is the ThreadHandle component: a join-handle, status cell and stop
// signal for one processor's worker.
type Handle struct {
	id     string
	proc   processor.Processor
	mode   processor.Mode
	bus    *wakeup.Bus
	tok    *processor.ShutdownToken
	status atomic.Int32
	paused atomic.Bool
	done   chan struct{}
}

// Spawn starts the worker loop for a non-Manual processor, or, for a Manual
// processor, installs no goroutine of its own — per §4.8, a Manual
// processor's loop was already started by its own Setup implementation;
// the runtime's only job is to track the shutdown token so Stop still
// works uniformly across modes.
func Spawn(id string, proc processor.Processor, bus *wakeup.Bus, tok *processor.ShutdownToken, rec *metrics.Recorder, bus2 *pubsub.Bus) *Handle {
	h := &Handle{
		id:   id,
		proc: proc,
		mode: proc.Descriptor().Mode,
		bus:  bus,
		tok:  tok,
		done: make(chan struct{}),
	}
	h.status.Store(int32(Running))

	if h.mode == processor.Manual {
		close(h.done)
		return h
	}

	go h.run(rec, bus2)
	return h
}

func (h *Handle) run(rec *metrics.Recorder, bus *pubsub.Bus) {
	defer close(h.done)

	for {
		select {
		case <-h.tok.Done():
			h.status.CompareAndSwap(int32(Running), int32(Stopped))
			return
		case ev := <-h.bus.Chan():
			switch ev.Kind {
			case wakeup.Shutdown:
				h.status.CompareAndSwap(int32(Running), int32(Stopped))
				return
			case wakeup.TimerTick:
				if h.mode == processor.Continuous {
					h.dispatch(rec, bus)
				}
			case wakeup.DataAvailable:
				h.bus.Ack(ev.Port)
				if h.mode == processor.Reactive {
					h.dispatch(rec, bus)
				}
			case wakeup.Custom:
				if h.mode == processor.Reactive {
					h.dispatch(rec, bus)
				}
			}
			if h.status.Load() != int32(Running) {
				return
			}
		}
	}
}

// Pause suspends dispatch: wakeups are still drained and coalescing markers
// cleared (so no wakeup is lost per §8), but Process is not invoked until
// Resume. Manual processors are unaffected — they cooperate with the
// shutdown token, not this flag, and the runtime has no hook into their
// internal loop.
func (h *Handle) Pause() { h.paused.Store(true) }

// Resume lifts a prior Pause.
func (h *Handle) Resume() { h.paused.Store(false) }

// dispatch calls Process exactly once, times it, and applies the
// non-fatal/fatal error split: publish-and-continue, or transition to
// Failed and stop the loop.
func (h *Handle) dispatch(rec *metrics.Recorder, bus *pubsub.Bus) {
	if h.paused.Load() {
		return
	}
	start := time.Now()
	err := h.proc.Process()
	elapsed := time.Since(start).Seconds()

	if rec != nil {
		rec.FrameProcessed(h.id, elapsed)
	}
	if err == nil {
		return
	}

	fatal := isFatal(err)
	if rec != nil {
		rec.ProcessError(h.id, fatal)
	}
	if bus != nil {
		topic := pubsub.TopicProcessorError
		if fatal {
			topic = pubsub.TopicProcessorFailed
		}
		bus.Publish(topic, map[string]interface{}{"processor": h.id, "error": err.Error()})
	}
	if fatal {
		h.status.Store(int32(Failed))
		slog.Default().Error("worker: processor failed fatally, stopping", "processor", h.id, "error", err)
	}
}

func isFatal(err error) bool {
	type faultKind interface{ Fatal() bool }
	if fk, ok := err.(faultKind); ok {
		return fk.Fatal()
	}
	return false
}

// Status reports the worker's current lifecycle state.
func (h *Handle) Status() Status { return Status(h.status.Load()) }

// Stop triggers the shutdown token and posts a Shutdown wakeup, then waits
// up to timeout for the loop to exit. Returns false if the timeout elapsed
// first — the goroutine is left to exit whenever it notices, since its
// state is owned under atomics and channels are safe to abandon.
func (h *Handle) Stop(timeout time.Duration) bool {
	h.tok.Trigger()
	if h.mode != processor.Manual {
		h.bus.NotifyShutdown()
	}

	select {
	case <-h.done:
		return true
	case <-time.After(timeout):
		slog.Default().Warn("worker: join timeout elapsed, detaching", "processor", h.id, "timeout", timeout)
		return false
	}
}
