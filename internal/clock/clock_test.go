package clock_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fluxcore/streamgraph/internal/clock"
	"github.com/fluxcore/streamgraph/internal/wakeup"
)

func TestSubscribeDeliversTicksToDomain(t *testing.T) {
	s := clock.NewScheduler()
	defer s.Stop()

	bus := wakeup.NewBus(8)
	s.Subscribe("domain-a", 200, "proc-1", bus)

	select {
	case ev := <-bus.Chan():
		require.Equal(t, wakeup.TimerTick, ev.Kind)
		require.Equal(t, "domain-a", ev.Domain)
	case <-time.After(time.Second):
		t.Fatal("expected a tick")
	}
}

func TestSecondSubscriberDoesNotChangeDomainRate(t *testing.T) {
	s := clock.NewScheduler()
	defer s.Stop()

	bus1 := wakeup.NewBus(8)
	bus2 := wakeup.NewBus(8)
	s.Subscribe("domain-a", 500, "proc-1", bus1)
	s.Subscribe("domain-a", 1, "proc-2", bus2) // ignored: first subscriber owns the rate

	select {
	case <-bus2.Chan():
	case <-time.After(time.Second):
		t.Fatal("expected proc-2 to receive ticks at the domain's existing fast rate, not its own slow one")
	}
}

func TestUnsubscribeLastSubscriberStopsDomain(t *testing.T) {
	s := clock.NewScheduler()
	defer s.Stop()

	bus := wakeup.NewBus(8)
	s.Subscribe("domain-a", 500, "proc-1", bus)
	<-bus.Chan()

	s.Unsubscribe("domain-a", "proc-1")

	for len(bus.Chan()) > 0 {
		<-bus.Chan()
	}
	select {
	case ev := <-bus.Chan():
		t.Fatalf("unexpected tick after unsubscribe: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
