package link_test

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/fluxcore/streamgraph/internal/link"
	"github.com/fluxcore/streamgraph/internal/message"
	"github.com/fluxcore/streamgraph/internal/metrics"
	"github.com/fluxcore/streamgraph/internal/wakeup"
)

type intMsg struct{ v int }

func (intMsg) Schema() message.Schema            { return message.Schema{Name: "test.int"} }
func (intMsg) Category() message.Category        { return message.Data }
func (intMsg) PreferredDiscipline() message.Discipline { return message.Ordered }

func TestLatestWinsDropsOldestAndReadsNewest(t *testing.T) {
	l := link.New(1, message.Schema{Name: "test.int"}, 1, message.LatestWins)

	require.True(t, l.Write(intMsg{1}))
	require.True(t, l.Write(intMsg{2}))
	require.True(t, l.Write(intMsg{3}))

	msg, ok := l.Read()
	require.True(t, ok)
	require.Equal(t, intMsg{3}, msg)

	stats := l.Stats()
	require.Equal(t, uint64(3), stats.Written)
	require.Equal(t, uint64(2), stats.Dropped)
	require.Equal(t, uint64(1), stats.Read)

	_, ok = l.Read()
	require.False(t, ok)
}

func TestOrderedRejectsOnFull(t *testing.T) {
	l := link.New(1, message.Schema{Name: "test.int"}, 2, message.Ordered)

	require.True(t, l.Write(intMsg{1}))
	require.True(t, l.Write(intMsg{2}))
	require.False(t, l.Write(intMsg{3}))

	stats := l.Stats()
	require.Equal(t, uint64(1), stats.Rejected)

	msg, ok := l.Read()
	require.True(t, ok)
	require.Equal(t, intMsg{1}, msg)

	msg, ok = l.Read()
	require.True(t, ok)
	require.Equal(t, intMsg{2}, msg)
}

func TestReadAllDrainsInFIFOOrder(t *testing.T) {
	l := link.New(1, message.Schema{Name: "test.int"}, 4, message.Ordered)
	for i := 1; i <= 3; i++ {
		require.True(t, l.Write(intMsg{i}))
	}

	all := l.ReadAll()
	require.Len(t, all, 3)
	require.Equal(t, intMsg{1}, all[0])
	require.Equal(t, intMsg{2}, all[1])
	require.Equal(t, intMsg{3}, all[2])
	require.Equal(t, 0, l.Len())
}

func TestWriteNotifiesConsumerWakeOnSuccess(t *testing.T) {
	bus := wakeup.NewBus(4)
	l := link.New(1, message.Schema{Name: "test.int"}, 2, message.Ordered)
	l.ConnectConsumer(bus, "out")

	require.True(t, l.Write(intMsg{1}))

	select {
	case ev := <-bus.Chan():
		require.Equal(t, wakeup.DataAvailable, ev.Kind)
		require.Equal(t, "out", ev.Port)
	case <-time.After(time.Second):
		t.Fatal("expected a DataAvailable wakeup")
	}
}

func TestMetricsRecordsWrittenReadDroppedAndRejected(t *testing.T) {
	rec := metrics.NewRecorder()

	dropping := link.New(1, message.Schema{Name: "test.int"}, 1, message.LatestWins)
	dropping.SetMetrics(rec, "drop-link")
	require.True(t, dropping.Write(intMsg{1}))
	require.True(t, dropping.Write(intMsg{2})) // evicts {1}: one drop
	_, ok := dropping.Read()
	require.True(t, ok)

	rejecting := link.New(2, message.Schema{Name: "test.int"}, 1, message.Ordered)
	rejecting.SetMetrics(rec, "reject-link")
	require.True(t, rejecting.Write(intMsg{1}))
	require.False(t, rejecting.Write(intMsg{2})) // rejected: ring full

	mfs, err := rec.Registry().Gather()
	require.NoError(t, err)

	require.Equal(t, float64(2), metricValue(t, mfs, "streamgraph_link_written_total", "link", "drop-link"))
	require.Equal(t, float64(1), metricValue(t, mfs, "streamgraph_link_read_total", "link", "drop-link"))
	require.Equal(t, float64(1), metricValue(t, mfs, "streamgraph_link_dropped_total", "link", "drop-link"))
	require.Equal(t, float64(1), metricValue(t, mfs, "streamgraph_link_rejected_total", "link", "reject-link"))
}

func metricValue(t *testing.T, mfs []*dto.MetricFamily, family, labelName, labelValue string) float64 {
	t.Helper()
	for _, mf := range mfs {
		if mf.GetName() != family {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == labelName && lp.GetValue() == labelValue {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestWriteDoesNotNotifyOnRejectedOrdered(t *testing.T) {
	bus := wakeup.NewBus(4)
	l := link.New(1, message.Schema{Name: "test.int"}, 1, message.Ordered)
	l.ConnectConsumer(bus, "out")

	require.True(t, l.Write(intMsg{1}))
	<-bus.Chan()
	require.False(t, l.Write(intMsg{2}))

	select {
	case ev := <-bus.Chan():
		t.Fatalf("unexpected wakeup on rejected write: %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}
