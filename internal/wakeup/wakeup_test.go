package wakeup_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fluxcore/streamgraph/internal/wakeup"
)

func TestNotifyDataCoalescesPerPort(t *testing.T) {
	b := wakeup.NewBus(4)

	b.NotifyData("out")
	b.NotifyData("out")
	b.NotifyData("out")

	require.Len(t, b.Chan(), 1)

	ev := b.Recv()
	require.Equal(t, wakeup.DataAvailable, ev.Kind)
	require.Equal(t, "out", ev.Port)

	// Coalescing marker cleared on Recv, so a new wake can queue again.
	b.NotifyData("out")
	require.Len(t, b.Chan(), 1)
}

func TestNotifyDataCoalescesIndependentlyPerPort(t *testing.T) {
	b := wakeup.NewBus(4)

	b.NotifyData("a")
	b.NotifyData("b")

	require.Len(t, b.Chan(), 2)
}

func TestAckClearsCoalescingMarkerWithoutRecv(t *testing.T) {
	b := wakeup.NewBus(4)

	b.NotifyData("out")
	<-b.Chan() // drain via Chan(), bypassing Recv's bookkeeping
	b.Ack("out")

	b.NotifyData("out")
	require.Len(t, b.Chan(), 1)
}

func TestNotifyTickCarriesDomain(t *testing.T) {
	b := wakeup.NewBus(1)

	b.NotifyTick("domain-a")
	ev := b.Recv()
	require.Equal(t, wakeup.TimerTick, ev.Kind)
	require.Equal(t, "domain-a", ev.Domain)
}

func TestNotifyCustomCarriesPayload(t *testing.T) {
	b := wakeup.NewBus(1)

	b.NotifyCustom(42)
	ev := b.Recv()
	require.Equal(t, wakeup.Custom, ev.Kind)
	require.Equal(t, 42, ev.Payload)
}
