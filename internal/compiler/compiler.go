// Package compiler implements the four-phase pipeline (Removals -> CREATE ->
// WIRE -> SETUP -> START) that turns a graph delta into running worker
// threads, with rollback on any phase's failure. Grounded on the teacher's
// speculative-execute-then-revert-on-failure control flow
// (internal/arbitrator/speculative_executor.go), generalized from a single
// speculative action to a phased rollback over a whole compile batch, and on
// its events.Bus-publish-at-each-boundary idiom for the lifecycle topics.
package compiler

import (
	"sync"
	"time"

	"github.com/fluxcore/streamgraph/errs"
	"github.com/fluxcore/streamgraph/internal/clock"
	"github.com/fluxcore/streamgraph/internal/delta"
	"github.com/fluxcore/streamgraph/internal/graph"
	"github.com/fluxcore/streamgraph/internal/link"
	"github.com/fluxcore/streamgraph/internal/message"
	"github.com/fluxcore/streamgraph/internal/metrics"
	"github.com/fluxcore/streamgraph/internal/processor"
	"github.com/fluxcore/streamgraph/internal/pubsub"
	"github.com/fluxcore/streamgraph/internal/wakeup"
	"github.com/fluxcore/streamgraph/internal/worker"
	"github.com/fluxcore/streamgraph/pkg/registry"
)

// Delta is re-exported for callers that only import this package.
type Delta = delta.Delta

// Component kind strings used as keys into the graph's type-erased store.
// ComponentThreadHandle is exported so callers outside this package (the
// runtime's Pause/Resume) can look up a processor's worker handle without
// duplicating the key string.
const (
	compProcessorInstance = "ProcessorInstance"
	ComponentThreadHandle = "ThreadHandle"
	compLinkRing          = "LinkRingHandles"
	compLinkTypeInfo      = "LinkTypeInfo"
	compLinkState         = "LinkState"
	compShutdownToken     = "ShutdownToken"
	compWakeupBus         = "WakeupBus"
)

// LinkState mirrors §4.5's Declared/Wired/Torn component kind.
type LinkState int

const (
	LinkDeclared LinkState = iota
	LinkWired
	LinkTorn
)

// LinkTypeInfo is the stored component recording a wired link's contract.
type LinkTypeInfo struct {
	SchemaName string
	Capacity   int
	Discipline message.Discipline
}

// Options configures a single Compile call.
type Options struct {
	// DeferStart skips phase START; processors are instantiated and wired
	// but idle until an explicit Start call. This is compile_without_start.
	DeferStart bool
}

// ContextFactory builds the runtime context handed to a processor's Setup.
type ContextFactory func(id string, tok *processor.ShutdownToken) processor.Context

// Compiler drives the graph through CREATE/WIRE/SETUP/START against a
// factory registry and schema registry, publishing lifecycle events at each
// boundary.
type Compiler struct {
	graph    *graph.Graph
	registry *registry.Registry
	schemas  *message.SchemaRegistry
	bus      *pubsub.Bus
	metrics  *metrics.Recorder
	clock    *clock.Scheduler
	ctxFn    ContextFactory

	joinTimeout    time.Duration
	wakeupCapacity int
	linkCapacity   func(message.Category) int

	mu         sync.Mutex
	last       graph.Snapshot
	nextRingID uint64
	ringIDs    map[string]link.ID // graph link id -> numeric ring id
}

// New creates a Compiler. linkCapacity maps a schema's port category to the
// ring capacity a new link of that category should get.
func New(
	g *graph.Graph,
	reg *registry.Registry,
	schemas *message.SchemaRegistry,
	bus *pubsub.Bus,
	rec *metrics.Recorder,
	sched *clock.Scheduler,
	ctxFn ContextFactory,
	joinTimeout time.Duration,
	wakeupCapacity int,
	linkCapacity func(message.Category) int,
) *Compiler {
	return &Compiler{
		graph:          g,
		registry:       reg,
		schemas:        schemas,
		bus:            bus,
		metrics:        rec,
		clock:          sched,
		ctxFn:          ctxFn,
		joinTimeout:    joinTimeout,
		wakeupCapacity: wakeupCapacity,
		linkCapacity:   linkCapacity,
		ringIDs:        make(map[string]link.ID),
	}
}

// LastSnapshot returns the snapshot from the most recently successful
// compile, used by the delta engine on the next call.
func (c *Compiler) LastSnapshot() graph.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// rollbackEntry records what a partially-applied compile needs undone.
type rollbackEntry struct {
	kind string // "processor" | "link"
	id   string
}

// Compile applies d, a delta the caller computed against LastSnapshot.
// Unless opts defers START, it first starts any processor that an earlier
// DeferStart compile set up but left idle. Beyond that, an empty delta
// returns immediately, so a compile applied after a compile with the same
// snapshot is a no-op.
func (c *Compiler) Compile(d Delta, opts Options) error {
	if !opts.DeferStart {
		for _, n := range c.graph.Nodes() {
			_, setUp := c.graph.NodeComponent(n.ID, compShutdownToken)
			_, started := c.graph.NodeComponent(n.ID, ComponentThreadHandle)
			if setUp && !started {
				if err := c.startProcessor(n.ID); err != nil {
					return c.fail("start", err)
				}
			}
		}
	}
	if d.Empty() {
		return nil
	}
	if c.metrics != nil {
		c.metrics.CompileRun()
	}

	var applied []rollbackEntry

	// 1. Removals precede additions.
	if err := c.applyRemovals(d); err != nil {
		return c.fail("removal", err)
	}

	// 2. Phase CREATE.
	for _, n := range d.ProcessorsToAdd {
		if err := c.createProcessor(n); err != nil {
			c.rollback(applied)
			return c.fail("create", err)
		}
		applied = append(applied, rollbackEntry{kind: "processor", id: n.ID})
	}

	// 3. Phase WIRE.
	for _, l := range d.LinksToAdd {
		if err := c.wireLink(l); err != nil {
			c.rollback(applied)
			return c.fail("wire", err)
		}
		applied = append(applied, rollbackEntry{kind: "link", id: l.ID})
	}

	// 4. Phase SETUP.
	var setupDone []string
	for _, n := range d.ProcessorsToAdd {
		if err := c.setupProcessor(n.ID); err != nil {
			c.teardownInReverse(setupDone)
			c.rollback(applied)
			return c.fail("setup", err)
		}
		setupDone = append(setupDone, n.ID)
	}

	// 5. Phase START (unless deferred).
	if !opts.DeferStart {
		for _, n := range d.ProcessorsToAdd {
			if err := c.startProcessor(n.ID); err != nil {
				c.teardownInReverse(setupDone)
				c.rollback(applied)
				return c.fail("start", err)
			}
		}
	}

	// 6. Config updates: applied directly against the live instance, no
	// thread restart.
	for _, n := range d.ProcessorsToUpdate {
		if err := c.applyConfigUpdate(n); err != nil {
			return c.fail("update", err)
		}
	}

	c.mu.Lock()
	c.last = c.graph.Snapshot()
	c.mu.Unlock()

	if c.bus != nil {
		c.bus.Publish(pubsub.TopicCompileSucceeded, nil)
	}
	return nil
}

// TeardownAll stops and tears down every live processor and unwires every
// link, without touching graph topology: node and link ids survive, so a
// subsequent Compile recreates the same identities from scratch. Used by
// the runtime's Stop, which must preserve topology per the restart
// scenario (same node ids present, emission indices reset is allowed).
func (c *Compiler) TeardownAll() {
	for _, l := range c.graph.Links() {
		c.unwireLink(graph.LinkSnapshot{ID: l.ID, From: l.From, To: l.To})
	}
	for _, n := range c.graph.Nodes() {
		c.stopAndTeardown(n.ID)
	}
	if c.clock != nil {
		c.clock.Stop()
	}
	c.mu.Lock()
	c.last = graph.Snapshot{}
	c.mu.Unlock()
}

func (c *Compiler) fail(phase string, err error) error {
	if c.metrics != nil {
		c.metrics.CompileFailed(phase)
	}
	if c.bus != nil {
		c.bus.Publish(pubsub.TopicCompileFailed, map[string]interface{}{"phase": phase, "error": err.Error()})
	}
	if e, ok := err.(*errs.Error); ok {
		return errs.WithPhase(e, phase)
	}
	return err
}

// applyRemovals tears down links to remove, then processors to remove, in
// that order (so no processor is torn down while still wired).
func (c *Compiler) applyRemovals(d Delta) error {
	for _, l := range d.LinksToRemove {
		if c.bus != nil {
			c.bus.Publish(pubsub.TopicWillRemoveLink, l.ID)
		}
		c.unwireLink(l)
		if err := c.graph.RemoveLink(l.ID); err != nil {
			return err
		}
		if c.bus != nil {
			c.bus.Publish(pubsub.TopicDidRemoveLink, l.ID)
		}
	}

	for _, n := range d.ProcessorsToRemove {
		if c.bus != nil {
			c.bus.Publish(pubsub.TopicWillRemoveProcessor, n.ID)
		}
		c.stopAndTeardown(n.ID)
		if err := c.graph.RemoveProcessor(n.ID); err != nil {
			return err
		}
		if c.bus != nil {
			c.bus.Publish(pubsub.TopicDidRemoveProcessor, n.ID)
		}
	}
	return nil
}

func (c *Compiler) stopAndTeardown(id string) {
	if th, ok := c.graph.NodeComponent(id, ComponentThreadHandle); ok {
		th.(*worker.Handle).Stop(c.joinTimeout)
	}
	if pi, ok := c.graph.NodeComponent(id, compProcessorInstance); ok {
		_ = pi.(processor.Processor).Teardown()
	}
	c.graph.RemoveNodeComponent(id, ComponentThreadHandle)
	c.graph.RemoveNodeComponent(id, compProcessorInstance)
	c.graph.RemoveNodeComponent(id, compShutdownToken)
	c.graph.RemoveNodeComponent(id, compWakeupBus)
}

func (c *Compiler) createProcessor(n graph.NodeSnapshot) error {
	if c.bus != nil {
		c.bus.Publish(pubsub.TopicWillAddProcessor, n.ID)
	}
	p, err := c.registry.Construct(n.Type, n.Config)
	if err != nil {
		return err
	}
	if err := c.graph.SetNodeComponent(n.ID, compProcessorInstance, p); err != nil {
		return err
	}
	if c.bus != nil {
		c.bus.Publish(pubsub.TopicDidCreateProcessor, n.ID)
	}
	return nil
}

func (c *Compiler) wireLink(l graph.LinkSnapshot) error {
	if c.bus != nil {
		c.bus.Publish(pubsub.TopicWillAddLink, l.ID)
	}

	fromNode, _, ok := c.graph.Node(l.From.Node)
	if !ok {
		return errs.New(errs.NotFound, l.From.Node, "link source node not found")
	}
	toNode, _, ok := c.graph.Node(l.To.Node)
	if !ok {
		return errs.New(errs.NotFound, l.To.Node, "link target node not found")
	}

	fromPort, ok := findPort(fromNode.Outputs, l.From.Port)
	if !ok {
		return errs.New(errs.PortError, l.From.Node+"."+l.From.Port, "source port not declared")
	}
	toPort, ok := findPort(toNode.Inputs, l.To.Port)
	if !ok {
		return errs.New(errs.PortError, l.To.Node+"."+l.To.Port, "target port not declared")
	}

	producerSchema, ok := c.schemas.Lookup(fromPort.Schema)
	if !ok {
		return errs.New(errs.Configuration, fromPort.Schema, "unknown schema")
	}
	consumerSchema, ok := c.schemas.Lookup(toPort.Schema)
	if !ok {
		return errs.New(errs.Configuration, toPort.Schema, "unknown schema")
	}
	if !message.Compatible(producerSchema, consumerSchema) {
		return errs.New(errs.Configuration, l.ID, "incompatible schemas between "+l.From.Port+" and "+l.To.Port)
	}

	capacity := 16
	if c.linkCapacity != nil {
		capacity = c.linkCapacity(consumerSchema.Category)
	}

	c.mu.Lock()
	ringID := link.ID(c.nextRingID + 1)
	c.nextRingID++
	c.ringIDs[l.ID] = ringID
	c.mu.Unlock()

	ring := link.New(ringID, consumerSchema, capacity, consumerSchema.Discipline)
	ring.SetMetrics(c.metrics, l.ID)

	consumerBus, _ := c.graph.NodeComponent(l.To.Node, compWakeupBus)
	if b, ok := consumerBus.(*wakeup.Bus); ok {
		ring.ConnectConsumer(b, l.From.Port)
	}
	ring.ConnectProducer()

	fromProc, _ := c.graph.NodeComponent(l.From.Node, compProcessorInstance)
	toProc, _ := c.graph.NodeComponent(l.To.Node, compProcessorInstance)
	if fp, ok := fromProc.(processor.Processor); ok {
		if err := fp.AttachOutput(l.From.Port, ring); err != nil {
			return err
		}
	}
	if tp, ok := toProc.(processor.Processor); ok {
		if err := tp.AttachInput(l.To.Port, ring); err != nil {
			return err
		}
	}

	if err := c.graph.SetLinkComponent(l.ID, compLinkRing, ring); err != nil {
		return err
	}
	_ = c.graph.SetLinkComponent(l.ID, compLinkTypeInfo, LinkTypeInfo{
		SchemaName: consumerSchema.Name, Capacity: capacity, Discipline: consumerSchema.Discipline,
	})
	_ = c.graph.SetLinkComponent(l.ID, compLinkState, LinkWired)

	if c.bus != nil {
		c.bus.Publish(pubsub.TopicDidCreateLink, l.ID)
	}
	return nil
}

func (c *Compiler) unwireLink(l graph.LinkSnapshot) {
	ringVal, _ := c.graph.LinkComponent(l.ID, compLinkRing)
	ring, _ := ringVal.(*link.Link)

	fromProc, _ := c.graph.NodeComponent(l.From.Node, compProcessorInstance)
	toProc, _ := c.graph.NodeComponent(l.To.Node, compProcessorInstance)
	if ring != nil {
		if fp, ok := fromProc.(processor.Processor); ok {
			_ = fp.DetachOutput(l.From.Port, ring.ID())
		}
		if tp, ok := toProc.(processor.Processor); ok {
			_ = tp.DetachInput(l.To.Port, ring.ID())
		}
	}
	_ = c.graph.SetLinkComponent(l.ID, compLinkState, LinkTorn)
	c.graph.RemoveLinkComponent(l.ID, compLinkRing)
	c.graph.RemoveLinkComponent(l.ID, compLinkTypeInfo)

	c.mu.Lock()
	delete(c.ringIDs, l.ID)
	c.mu.Unlock()
}

func (c *Compiler) setupProcessor(id string) error {
	node, _, ok := c.graph.Node(id)
	if !ok {
		return errs.New(errs.NotFound, id, "processor not found")
	}
	pv, ok := c.graph.NodeComponent(id, compProcessorInstance)
	if !ok {
		return errs.New(errs.NotFound, id, "processor instance missing")
	}
	p := pv.(processor.Processor)

	tok := processor.NewShutdownToken()
	bus := wakeup.NewBus(c.wakeupCapacity)
	p.SetWakeupSender(bus)

	// Links into this processor were wired before its bus existed.
	for _, l := range c.graph.Links() {
		if l.To.Node != id {
			continue
		}
		if rv, ok := c.graph.LinkComponent(l.ID, compLinkRing); ok {
			rv.(*link.Link).ConnectConsumer(bus, l.From.Port)
		}
	}

	desc := p.Descriptor()
	if desc.Mode == processor.Continuous && c.clock != nil {
		domain := desc.ClockDomain
		if domain == "" {
			domain = "node:" + node.ID
		}
		c.clock.Subscribe(domain, desc.TickRateHz, node.ID, bus)
	}

	ctx := processor.Context{ID: id, ShutdownTok: tok}
	if c.ctxFn != nil {
		ctx = c.ctxFn(id, tok)
	}

	if err := p.Setup(ctx); err != nil {
		return errs.Wrap(errs.Runtime, id, "setup failed", err)
	}

	_ = c.graph.SetNodeComponent(id, compShutdownToken, tok)
	_ = c.graph.SetNodeComponent(id, compWakeupBus, bus)
	return nil
}

func (c *Compiler) startProcessor(id string) error {
	pv, _ := c.graph.NodeComponent(id, compProcessorInstance)
	p := pv.(processor.Processor)
	tokV, _ := c.graph.NodeComponent(id, compShutdownToken)
	busV, _ := c.graph.NodeComponent(id, compWakeupBus)
	tok := tokV.(*processor.ShutdownToken)
	bus := busV.(*wakeup.Bus)

	h := worker.Spawn(id, p, bus, tok, c.metrics, c.bus)
	return c.graph.SetNodeComponent(id, ComponentThreadHandle, h)
}

func (c *Compiler) applyConfigUpdate(n graph.NodeSnapshot) error {
	pv, ok := c.graph.NodeComponent(n.ID, compProcessorInstance)
	if !ok {
		return errs.New(errs.NotFound, n.ID, "processor instance missing")
	}
	p := pv.(processor.Processor)
	if err := p.UpdateConfig(n.Config); err != nil {
		return errs.Wrap(errs.Configuration, n.ID, "config update rejected", err)
	}
	return c.graph.UpdateConfig(n.ID, n.Config)
}

// teardownInReverse tears down processors whose SETUP succeeded in this
// compile, in reverse order, after a later phase (START) fails.
func (c *Compiler) teardownInReverse(ids []string) {
	for i := len(ids) - 1; i >= 0; i-- {
		c.stopAndTeardown(ids[i])
	}
}

// rollback undoes a partially-applied compile's CREATE/WIRE additions, in
// reverse order of application.
func (c *Compiler) rollback(applied []rollbackEntry) {
	for i := len(applied) - 1; i >= 0; i-- {
		e := applied[i]
		switch e.kind {
		case "link":
			if l, _, ok := c.graph.Link(e.id); ok {
				c.unwireLink(graph.LinkSnapshot{ID: l.ID, From: l.From, To: l.To})
				_ = c.graph.RemoveLink(e.id)
			}
		case "processor":
			c.stopAndTeardown(e.id)
			_ = c.graph.RemoveProcessor(e.id)
		}
	}
}

func findPort(ports []processor.PortSpec, name string) (processor.PortSpec, bool) {
	for _, p := range ports {
		if p.Name == name {
			return p, true
		}
	}
	return processor.PortSpec{}, false
}

// Ring returns the live *link.Link backing a wired link, e.g. for tests and
// for the runtime's snapshot/inspection surface.
func (c *Compiler) Ring(linkID string) (*link.Link, bool) {
	v, ok := c.graph.LinkComponent(linkID, compLinkRing)
	if !ok {
		return nil, false
	}
	l, ok := v.(*link.Link)
	return l, ok
}

// Instance returns the live processor.Processor backing a node, e.g. for
// tests asserting on a running pipeline's observable state (a Sink's log)
// and for inspection surfaces that need more than the Ring/snapshot view.
func (c *Compiler) Instance(nodeID string) (processor.Processor, bool) {
	v, ok := c.graph.NodeComponent(nodeID, compProcessorInstance)
	if !ok {
		return nil, false
	}
	p, ok := v.(processor.Processor)
	return p, ok
}
