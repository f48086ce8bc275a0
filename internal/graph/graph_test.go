package graph_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fluxcore/streamgraph/internal/graph"
	"github.com/fluxcore/streamgraph/internal/processor"
)

func outPort(name string) []processor.PortSpec { return []processor.PortSpec{{Name: name}} }
func inPort(name string) []processor.PortSpec  { return []processor.PortSpec{{Name: name}} }

func TestAddLinkRejectsDanglingEndpoints(t *testing.T) {
	g := graph.New()
	_, err := g.AddProcessor("a", "t", json.RawMessage(`{}`), nil, outPort("out"))
	require.NoError(t, err)

	_, err = g.AddLink("l1", graph.Endpoint{Node: "a", Port: "out"}, graph.Endpoint{Node: "missing", Port: "in"})
	require.Error(t, err)
}

func TestAddLinkRejectsUndeclaredPort(t *testing.T) {
	g := graph.New()
	_, err := g.AddProcessor("a", "t", json.RawMessage(`{}`), nil, outPort("out"))
	require.NoError(t, err)
	_, err = g.AddProcessor("b", "t", json.RawMessage(`{}`), inPort("in"), nil)
	require.NoError(t, err)

	_, err = g.AddLink("l1", graph.Endpoint{Node: "a", Port: "wrong"}, graph.Endpoint{Node: "b", Port: "in"})
	require.Error(t, err)
}

func TestAddLinkRejectsCycle(t *testing.T) {
	g := graph.New()
	_, err := g.AddProcessor("a", "t", json.RawMessage(`{}`), inPort("in"), outPort("out"))
	require.NoError(t, err)
	_, err = g.AddProcessor("b", "t", json.RawMessage(`{}`), inPort("in"), outPort("out"))
	require.NoError(t, err)

	_, err = g.AddLink("ab", graph.Endpoint{Node: "a", Port: "out"}, graph.Endpoint{Node: "b", Port: "in"})
	require.NoError(t, err)

	_, err = g.AddLink("ba", graph.Endpoint{Node: "b", Port: "out"}, graph.Endpoint{Node: "a", Port: "in"})
	require.Error(t, err)
}

func TestRemoveProcessorFreesSlotForReuseWithNewGeneration(t *testing.T) {
	g := graph.New()
	_, err := g.AddProcessor("a", "t", json.RawMessage(`{}`), nil, nil)
	require.NoError(t, err)
	_, firstEntity, ok := g.Node("a")
	require.True(t, ok)

	require.NoError(t, g.RemoveProcessor("a"))
	_, _, ok = g.Node("a")
	require.False(t, ok)

	_, err = g.AddProcessor("b", "t", json.RawMessage(`{}`), nil, nil)
	require.NoError(t, err)
	_, secondEntity, ok := g.Node("b")
	require.True(t, ok)

	require.Equal(t, firstEntity.Index, secondEntity.Index)
	require.Greater(t, secondEntity.Generation, firstEntity.Generation)
}

func TestNodeAndLinkComponentsAreTypeErasedPerEntity(t *testing.T) {
	g := graph.New()
	_, err := g.AddProcessor("a", "t", json.RawMessage(`{}`), nil, nil)
	require.NoError(t, err)

	require.NoError(t, g.SetNodeComponent("a", "ThreadHandle", 42))
	v, ok := g.NodeComponent("a", "ThreadHandle")
	require.True(t, ok)
	require.Equal(t, 42, v)

	g.RemoveNodeComponent("a", "ThreadHandle")
	_, ok = g.NodeComponent("a", "ThreadHandle")
	require.False(t, ok)
}

func TestSnapshotAndChecksumAreStableAndOrderIndependent(t *testing.T) {
	g1 := graph.New()
	_, err := g1.AddProcessor("b", "t", json.RawMessage(`{"x":1}`), nil, outPort("out"))
	require.NoError(t, err)
	_, err = g1.AddProcessor("a", "t", json.RawMessage(`{"x":2}`), inPort("in"), nil)
	require.NoError(t, err)
	_, err = g1.AddLink("l1", graph.Endpoint{Node: "b", Port: "out"}, graph.Endpoint{Node: "a", Port: "in"})
	require.NoError(t, err)

	g2 := graph.New()
	_, err = g2.AddProcessor("a", "t", json.RawMessage(`{"x":2}`), inPort("in"), nil)
	require.NoError(t, err)
	_, err = g2.AddProcessor("b", "t", json.RawMessage(`{"x":1}`), nil, outPort("out"))
	require.NoError(t, err)
	_, err = g2.AddLink("l1", graph.Endpoint{Node: "b", Port: "out"}, graph.Endpoint{Node: "a", Port: "in"})
	require.NoError(t, err)

	require.Equal(t, graph.Checksum(g1.Snapshot()), graph.Checksum(g2.Snapshot()))
}

func TestChecksumChangesWithConfig(t *testing.T) {
	g := graph.New()
	_, err := g.AddProcessor("a", "t", json.RawMessage(`{"x":1}`), nil, nil)
	require.NoError(t, err)
	before := graph.Checksum(g.Snapshot())

	require.NoError(t, g.UpdateConfig("a", json.RawMessage(`{"x":2}`)))
	after := graph.Checksum(g.Snapshot())

	require.NotEqual(t, before, after)
}
