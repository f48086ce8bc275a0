package builtins

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/fluxcore/streamgraph/errs"
	"github.com/fluxcore/streamgraph/internal/link"
	"github.com/fluxcore/streamgraph/internal/processor"
	"github.com/fluxcore/streamgraph/internal/wakeup"
)

// SourceTypeTag is the factory-registry key for Source.
const SourceTypeTag = "builtins.counter.source"

// SourceConfig is Source's JSON configuration document. Step may be updated
// live via UpdateConfig; the scenario in the spec's test suite relies on
// this taking effect with no gap in the monotonic index.
type SourceConfig struct {
	Step     int64   `json:"step"`
	RateHz   float64 `json:"rate_hz"`
}

// Source is a Continuous-mode processor that emits an incrementing integer
// on its single output port "out" at its descriptor's tick rate. It is the
// "trivial source type" referenced by the two-node pipeline scenario.
type Source struct {
	mu     sync.Mutex
	step   int64
	rateHz float64

	index atomic.Uint64
	value int64

	out   *link.Link
	wake  *wakeup.Bus
}

// NewSource is the processor.ConfigFactory registered under SourceTypeTag.
func NewSource(raw json.RawMessage) (processor.Processor, error) {
	cfg := SourceConfig{Step: 1, RateHz: 100}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, errs.Wrap(errs.Configuration, SourceTypeTag, "invalid config", err)
		}
	}
	if cfg.Step == 0 {
		cfg.Step = 1
	}
	if cfg.RateHz <= 0 {
		cfg.RateHz = 100
	}
	return &Source{step: cfg.Step, rateHz: cfg.RateHz}, nil
}

// SourceDescriptor returns Source's static descriptor; registered alongside
// NewSource so the registry can describe the type without constructing it.
func SourceDescriptor() processor.Descriptor {
	return processor.Descriptor{
		TypeTag:     SourceTypeTag,
		Name:        "Counter Source",
		Description: "emits an incrementing integer on a timer",
		Outputs: []processor.PortSpec{
			{Name: "out", Schema: IntSchema.Name, Required: false},
		},
		Mode:       processor.Continuous,
		TickRateHz: 100,
	}
}

func (s *Source) Descriptor() processor.Descriptor {
	d := SourceDescriptor()
	s.mu.Lock()
	d.TickRateHz = s.rateHz
	s.mu.Unlock()
	return d
}

func (s *Source) Setup(ctx processor.Context) error { return nil }

// Process emits exactly one message per invocation; the worker invokes it
// once per TimerTick under Continuous mode, so one call == one tick.
func (s *Source) Process() error {
	s.mu.Lock()
	step := s.step
	s.mu.Unlock()

	s.value += step
	idx := s.index.Add(1)

	if s.out != nil {
		s.out.Write(IntMessage{Value: s.value, Index: idx})
	}
	return nil
}

func (s *Source) Teardown() error { return nil }

// UpdateConfig changes the step size (and tick rate) without resetting the
// running value or index, satisfying the config hot-update scenario: later
// values are the prior value plus multiples of the new step, and the index
// keeps counting with no gap.
func (s *Source) UpdateConfig(raw json.RawMessage) error {
	var cfg SourceConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return errs.Wrap(errs.Configuration, SourceTypeTag, "invalid config", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.Step != 0 {
		s.step = cfg.Step
	}
	if cfg.RateHz > 0 {
		s.rateHz = cfg.RateHz
	}
	return nil
}

func (s *Source) AttachOutput(port string, l *link.Link) error {
	if port != "out" {
		return errs.New(errs.PortError, port, "unknown output port")
	}
	s.mu.Lock()
	s.out = l
	s.mu.Unlock()
	return nil
}

func (s *Source) AttachInput(port string, l *link.Link) error {
	return errs.New(errs.PortError, port, "source has no input ports")
}

func (s *Source) DetachOutput(port string, id link.ID) error {
	if port != "out" {
		return errs.New(errs.PortError, port, "unknown output port")
	}
	s.mu.Lock()
	if s.out != nil && s.out.ID() == id {
		s.out = nil
	}
	s.mu.Unlock()
	return nil
}

func (s *Source) DetachInput(port string, id link.ID) error {
	return errs.New(errs.PortError, port, "source has no input ports")
}

func (s *Source) SetWakeupSender(bus *wakeup.Bus) {
	s.mu.Lock()
	s.wake = bus
	s.mu.Unlock()
}
