// Package clock drives TimerTick wakeups for Continuous processors. Each
// clock-domain group id shares one time.Ticker so every processor declaring
// that domain wakes in lockstep; processors with no declared domain get a
// private ticker at their own rate. Modeled on the repeated
// time.Sleep/time.Ticker background-loop idiom the teacher uses for
// pool maintenance and rate-limit window cleanup, generalized from a single
// maintenance loop to many independently-rated domains.
package clock

import (
	"sync"
	"time"

	"github.com/fluxcore/streamgraph/internal/wakeup"
)

// Domain fans one ticker out to every subscribed processor's wakeup bus.
type Domain struct {
	id       string
	rate     time.Duration
	mu       sync.Mutex
	subs     map[string]*wakeup.Bus
	stopOnce sync.Once
	stopCh   chan struct{}
}

// Scheduler owns every clock domain in a compiled graph.
type Scheduler struct {
	mu      sync.Mutex
	domains map[string]*Domain
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{domains: make(map[string]*Domain)}
}

// Subscribe attaches processorID's wakeup bus to the named domain at the
// given rate, creating the domain (and starting its ticker) if this is the
// first subscriber. If the domain already exists its rate is left
// unchanged — the first subscriber to declare a domain owns its rate.
func (s *Scheduler) Subscribe(domainID string, rateHz float64, processorID string, bus *wakeup.Bus) {
	s.mu.Lock()
	d, ok := s.domains[domainID]
	if !ok {
		rate := time.Second
		if rateHz > 0 {
			rate = time.Duration(float64(time.Second) / rateHz)
		}
		d = &Domain{id: domainID, rate: rate, subs: make(map[string]*wakeup.Bus), stopCh: make(chan struct{})}
		s.domains[domainID] = d
		go d.run()
	}
	s.mu.Unlock()

	d.mu.Lock()
	d.subs[processorID] = bus
	d.mu.Unlock()
}

// Unsubscribe detaches a processor from its clock domain. If it was the last
// subscriber, the domain's ticker goroutine stops.
func (s *Scheduler) Unsubscribe(domainID, processorID string) {
	s.mu.Lock()
	d, ok := s.domains[domainID]
	s.mu.Unlock()
	if !ok {
		return
	}

	d.mu.Lock()
	delete(d.subs, processorID)
	empty := len(d.subs) == 0
	d.mu.Unlock()

	if empty {
		d.stopOnce.Do(func() { close(d.stopCh) })
		s.mu.Lock()
		delete(s.domains, domainID)
		s.mu.Unlock()
	}
}

// Stop halts every domain's ticker, used during full runtime shutdown.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.domains {
		d.stopOnce.Do(func() { close(d.stopCh) })
	}
	s.domains = make(map[string]*Domain)
}

func (d *Domain) run() {
	ticker := time.NewTicker(d.rate)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.mu.Lock()
			for _, bus := range d.subs {
				bus.NotifyTick(d.id)
			}
			d.mu.Unlock()
		case <-d.stopCh:
			return
		}
	}
}
