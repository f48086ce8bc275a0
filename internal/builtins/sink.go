package builtins

import (
	"encoding/json"
	"sync"

	"github.com/fluxcore/streamgraph/errs"
	"github.com/fluxcore/streamgraph/internal/link"
	"github.com/fluxcore/streamgraph/internal/processor"
	"github.com/fluxcore/streamgraph/internal/wakeup"
)

// SinkTypeTag is the factory-registry key for Sink.
const SinkTypeTag = "builtins.log.sink"

// Sink is a Reactive-mode processor that drains its single input port "in"
// on every DataAvailable wakeup and appends every received value to an
// in-memory log, in arrival order. It is the "sink that appends to a log"
// referenced by the two-node pipeline scenario.
type Sink struct {
	mu  sync.Mutex
	in  *link.Link
	log []IntMessage
}

// NewSink is the processor.ConfigFactory registered under SinkTypeTag. Sink
// takes no configuration.
func NewSink(raw json.RawMessage) (processor.Processor, error) {
	return &Sink{}, nil
}

// SinkDescriptor returns Sink's static descriptor.
func SinkDescriptor() processor.Descriptor {
	return processor.Descriptor{
		TypeTag:     SinkTypeTag,
		Name:        "Log Sink",
		Description: "appends every received value to an in-memory log",
		Inputs: []processor.PortSpec{
			{Name: "in", Schema: IntSchema.Name, Required: true},
		},
		Mode: processor.Reactive,
	}
}

func (s *Sink) Descriptor() processor.Descriptor { return SinkDescriptor() }

func (s *Sink) Setup(ctx processor.Context) error { return nil }

// Process drains every message currently buffered on "in" using ReadAll so
// no value is skipped between wakeups, regardless of the link's discipline.
func (s *Sink) Process() error {
	s.mu.Lock()
	in := s.in
	s.mu.Unlock()
	if in == nil {
		return nil
	}

	for _, msg := range in.ReadAll() {
		im, ok := msg.(IntMessage)
		if !ok {
			continue
		}
		s.mu.Lock()
		s.log = append(s.log, im)
		s.mu.Unlock()
	}
	return nil
}

func (s *Sink) Teardown() error { return nil }

func (s *Sink) UpdateConfig(raw json.RawMessage) error { return nil }

func (s *Sink) AttachOutput(port string, l *link.Link) error {
	return errs.New(errs.PortError, port, "sink has no output ports")
}

func (s *Sink) AttachInput(port string, l *link.Link) error {
	if port != "in" {
		return errs.New(errs.PortError, port, "unknown input port")
	}
	s.mu.Lock()
	s.in = l
	s.mu.Unlock()
	return nil
}

func (s *Sink) DetachOutput(port string, id link.ID) error {
	return errs.New(errs.PortError, port, "sink has no output ports")
}

func (s *Sink) DetachInput(port string, id link.ID) error {
	if port != "in" {
		return errs.New(errs.PortError, port, "unknown input port")
	}
	s.mu.Lock()
	if s.in != nil && s.in.ID() == id {
		s.in = nil
	}
	s.mu.Unlock()
	return nil
}

func (s *Sink) SetWakeupSender(bus *wakeup.Bus) {}

// Log returns a copy of every value received so far, in arrival order.
func (s *Sink) Log() []IntMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]IntMessage, len(s.log))
	copy(out, s.log)
	return out
}
