// Package runtime implements the Engine: the graph edit surface
// (add/remove processor, add/remove link, update_config, compile,
// compile_without_start, start, stop, pause, resume, restart, snapshot) and
// the user-visible state machine guarding it. Grounded on the teacher's
// circuit breaker (internal/circuitbreaker/breaker.go): a small closed State
// enum with String(), a mutex-guarded current state, and an
// OnStateChange-style transition hook, generalized from a
// trip/reset breaker to the engine's Stopped/Starting/Running/Paused/
// Stopping lifecycle.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/fluxcore/streamgraph/errs"
	"github.com/fluxcore/streamgraph/internal/clock"
	"github.com/fluxcore/streamgraph/internal/compiler"
	"github.com/fluxcore/streamgraph/internal/delta"
	"github.com/fluxcore/streamgraph/internal/graph"
	"github.com/fluxcore/streamgraph/internal/processor"
	"github.com/fluxcore/streamgraph/internal/pubsub"
	"github.com/fluxcore/streamgraph/internal/snapshotio"
	"github.com/fluxcore/streamgraph/internal/worker"
)

// State is the engine's user-visible lifecycle state (§6 item 6).
type State int

const (
	Stopped State = iota
	Starting
	Running
	Paused
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// validTransitions enumerates the edges of the state machine, including
// Restarting's decomposition into Stopping then Starting.
var validTransitions = map[State][]State{
	Stopped:  {Starting},
	Starting: {Running, Stopped},
	Running:  {Paused, Stopping},
	Paused:   {Running, Stopping},
	Stopping: {Stopped},
}

// Engine owns one graph, its compiler, and the public edit surface.
type Engine struct {
	mu    sync.Mutex
	state State

	graph    *graph.Graph
	compiler *compiler.Compiler
	bus      *pubsub.Bus
	clock    *clock.Scheduler
	store    *snapshotio.Store
	graphID  string
}

// New creates an Engine in the Stopped state.
func New(g *graph.Graph, c *compiler.Compiler, bus *pubsub.Bus, sched *clock.Scheduler, store *snapshotio.Store, graphID string) *Engine {
	return &Engine{graph: g, compiler: c, bus: bus, clock: sched, store: store, graphID: graphID, state: Stopped}
}

// State reports the engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// transition validates and applies a state change, publishing
// runtime.state.changed. Caller must hold e.mu.
func (e *Engine) transition(to State) error {
	from := e.state
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			e.state = to
			if e.bus != nil {
				e.bus.Publish(pubsub.TopicRuntimeStateChanged, map[string]interface{}{"from": from.String(), "to": to.String()})
			}
			return nil
		}
	}
	return errs.New(errs.Configuration, "", fmt.Sprintf("invalid state transition: %s -> %s", from, to))
}

// --- Graph edit surface -----------------------------------------------

// AddProcessor registers a new node. Does not compile.
func (e *Engine) AddProcessor(id, typeTag string, config json.RawMessage, inputs, outputs []processor.PortSpec) (string, error) {
	return e.graph.AddProcessor(id, typeTag, config, inputs, outputs)
}

// RemoveProcessor removes a node's topology record. Does not compile; the
// removal only takes effect in the running system on the next Compile.
func (e *Engine) RemoveProcessor(id string) error {
	return e.graph.RemoveProcessor(id)
}

// AddLink declares a new directed link.
func (e *Engine) AddLink(id string, from, to graph.Endpoint) (string, error) {
	return e.graph.AddLink(id, from, to)
}

// RemoveLink removes a link's topology record.
func (e *Engine) RemoveLink(id string) error {
	return e.graph.RemoveLink(id)
}

// UpdateConfig replaces a node's configuration document; takes effect on
// the next Compile.
func (e *Engine) UpdateConfig(id string, config json.RawMessage) error {
	return e.graph.UpdateConfig(id, config)
}

// Compile computes the delta against the compiler's last compiled snapshot
// and applies it, spawning worker threads for new processors.
func (e *Engine) Compile() error {
	d := delta.Compute(e.compiler.LastSnapshot(), e.graph.Snapshot())
	return e.compiler.Compile(d, compiler.Options{DeferStart: false})
}

// CompileWithoutStart applies the delta but defers phase START: new
// processors are constructed, wired and set up, but idle until Start.
func (e *Engine) CompileWithoutStart() error {
	d := delta.Compute(e.compiler.LastSnapshot(), e.graph.Snapshot())
	return e.compiler.Compile(d, compiler.Options{DeferStart: true})
}

// Snapshot returns the current graph's structural snapshot.
func (e *Engine) Snapshot() graph.Snapshot {
	return e.graph.Snapshot()
}

// --- Lifecycle control --------------------------------------------------

// Start transitions Stopped -> Starting -> Running, compiling the graph
// (with workers started) if it has not already been compiled.
func (e *Engine) Start() error {
	e.mu.Lock()
	if err := e.transition(Starting); err != nil {
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	if err := e.Compile(); err != nil {
		e.mu.Lock()
		e.state = Stopped
		e.mu.Unlock()
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transition(Running)
}

// Stop transitions Running|Paused -> Stopping -> Stopped, tearing down every
// live processor and link while leaving graph topology untouched — node and
// link ids survive a Stop so a subsequent Start/Restart recompiles the same
// identities from scratch (emission indices resetting to zero is allowed).
func (e *Engine) Stop() error {
	e.mu.Lock()
	if err := e.transition(Stopping); err != nil {
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	e.compiler.TeardownAll()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transition(Stopped)
}

// Pause suspends dispatch on every live worker without tearing anything
// down; topology and instances are untouched.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.transition(Paused); err != nil {
		return err
	}
	for _, n := range e.graph.Nodes() {
		if hv, ok := e.graph.NodeComponent(n.ID, compiler.ComponentThreadHandle); ok {
			hv.(*worker.Handle).Pause()
		}
	}
	return nil
}

// Resume lifts a prior Pause.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.transition(Running); err != nil {
		return err
	}
	for _, n := range e.graph.Nodes() {
		if hv, ok := e.graph.NodeComponent(n.ID, compiler.ComponentThreadHandle); ok {
			hv.(*worker.Handle).Resume()
		}
	}
	return nil
}

// Restart is Stop followed by Start against the same graph; node ids are
// preserved because the graph's topology is untouched by Stop (only the
// runtime components it drives are torn down and rebuilt).
func (e *Engine) Restart() error {
	if err := e.Stop(); err != nil {
		return err
	}
	return e.Start()
}

// PersistSnapshot saves the current graph to the optional snapshot store, a
// no-op if the engine was built without one.
func (e *Engine) PersistSnapshot(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	return e.store.Save(ctx, e.graphID, e.graph.Snapshot())
}
