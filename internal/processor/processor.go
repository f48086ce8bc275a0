// Package processor defines the Processor contract: lifecycle, dynamic port
// wiring, and execution-mode declaration. Modeled on the registered-plugin
// pattern (Name/Version/Priority/CanHandle/Parse) used by the connector
// registry this corpus ships, generalized from "parse a payload" to "run a
// step of a streaming pipeline".
package processor

import (
	"encoding/json"

	"github.com/fluxcore/streamgraph/internal/gpu"
	"github.com/fluxcore/streamgraph/internal/link"
	"github.com/fluxcore/streamgraph/internal/wakeup"
)

// Mode is a processor's declared execution mode.
type Mode int

const (
	// Reactive processors run on every DataAvailable wakeup.
	Reactive Mode = iota
	// Continuous processors run on every TimerTick at the descriptor's rate.
	Continuous
	// Manual processors own their own loop; the runtime never calls Process.
	Manual
)

func (m Mode) String() string {
	switch m {
	case Reactive:
		return "reactive"
	case Continuous:
		return "continuous"
	case Manual:
		return "manual"
	default:
		return "unknown"
	}
}

// PortSpec describes one declared input or output port.
type PortSpec struct {
	Name     string
	Schema   string // schema name; resolved against the registered schema set
	Required bool
}

// Descriptor is the static metadata a processor type publishes.
type Descriptor struct {
	TypeTag     string
	Name        string
	Description string
	Inputs      []PortSpec
	Outputs     []PortSpec
	Tags        []string
	Mode        Mode
	// TickRateHz is consulted only when Mode == Continuous.
	TickRateHz float64
	// ClockDomain groups Continuous processors sharing one timer source;
	// empty means "its own private domain at TickRateHz".
	ClockDomain string
}

// Context is the runtime context handed to Setup once, after construction.
type Context struct {
	ID           string
	Device       gpu.Device
	Queue        gpu.Queue
	Pool         gpu.TexturePool
	ShutdownTok  *ShutdownToken
	PubSub       EventPublisher
}

// EventPublisher is the narrow surface of the pub/sub bus a processor needs;
// kept as an interface here so internal/processor never imports
// internal/pubsub (which would create an import cycle through the compiler).
type EventPublisher interface {
	Publish(topic string, payload interface{})
}

// ShutdownToken is a single cooperative cancellation flag plus a channel a
// Manual processor's own loop can select on.
type ShutdownToken struct {
	ch chan struct{}
}

// NewShutdownToken creates an unset token.
func NewShutdownToken() *ShutdownToken {
	return &ShutdownToken{ch: make(chan struct{})}
}

// Trigger sets the token. Idempotent.
func (t *ShutdownToken) Trigger() {
	select {
	case <-t.ch:
		// already triggered
	default:
		close(t.ch)
	}
}

// Done returns a channel that closes when the token is triggered, usable in
// a select alongside a wakeup bus.
func (t *ShutdownToken) Done() <-chan struct{} { return t.ch }

// Triggered reports whether the token has fired.
func (t *ShutdownToken) Triggered() bool {
	select {
	case <-t.ch:
		return true
	default:
		return false
	}
}

// RunUntilShutdown is the cooperative helper: it repeatedly invokes fn until
// the token fires, then returns. fn should itself be a bounded unit of work
// (poll-and-slice), not a blocking call.
func RunUntilShutdown(tok *ShutdownToken, fn func()) {
	for !tok.Triggered() {
		fn()
	}
}

// Processor is the contract every processor type implements. Port wiring is
// a name-based protocol rather than downcasting to a concrete type: the
// processor's own Attach/Detach implementation pattern-matches on port name
// and narrows the endpoint to whatever message type that port declares.
type Processor interface {
	Descriptor() Descriptor

	// Setup is called once after construction with the shared runtime
	// context. Must return promptly; long platform initialization should be
	// modeled as an internal Initializing -> Ready|Failed state advertised
	// over the pub/sub bus, consulted lazily on first Process/loop tick.
	Setup(ctx Context) error

	// Process is invoked on each relevant wakeup (Reactive/Continuous) or
	// never (Manual). Must not block: drain inputs, do bounded work, write
	// outputs, return.
	Process() error

	// Teardown is called once before destruction, after the worker loop has
	// drained.
	Teardown() error

	// UpdateConfig applies a new JSON configuration document. Must be safe
	// to call concurrently with Process.
	UpdateConfig(json json.RawMessage) error

	// AttachOutput/AttachInput install a ring endpoint on a named port.
	// DetachOutput/DetachInput remove it by link id. The compiler has
	// already checked schema compatibility before calling these.
	AttachOutput(port string, l *link.Link) error
	AttachInput(port string, l *link.Link) error
	DetachOutput(port string, id link.ID) error
	DetachInput(port string, id link.ID) error

	// SetWakeupSender installs the bus this processor's worker (if any)
	// will block on; Manual processors receive it too so their own loop can
	// select on it alongside the shutdown token.
	SetWakeupSender(bus *wakeup.Bus)
}

// ConfigFactory constructs a processor from its opaque JSON configuration.
// This is the function type registered in the factory registry under a
// type tag.
type ConfigFactory func(config json.RawMessage) (Processor, error)
