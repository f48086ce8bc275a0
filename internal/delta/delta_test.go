package delta_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fluxcore/streamgraph/internal/delta"
	"github.com/fluxcore/streamgraph/internal/graph"
)

func node(id string, cfg string) graph.NodeSnapshot {
	return graph.NodeSnapshot{ID: id, Type: "t", Config: json.RawMessage(cfg)}
}

func TestComputeEmptyForIdenticalSnapshots(t *testing.T) {
	a := graph.Snapshot{Nodes: []graph.NodeSnapshot{node("x", `{}`)}}
	d := delta.Compute(a, a)
	require.True(t, d.Empty())
}

func TestComputeDetectsAddedAndRemovedProcessors(t *testing.T) {
	a := graph.Snapshot{Nodes: []graph.NodeSnapshot{node("x", `{}`)}}
	b := graph.Snapshot{Nodes: []graph.NodeSnapshot{node("y", `{}`)}}

	d := delta.Compute(a, b)
	require.Len(t, d.ProcessorsToAdd, 1)
	require.Equal(t, "y", d.ProcessorsToAdd[0].ID)
	require.Len(t, d.ProcessorsToRemove, 1)
	require.Equal(t, "x", d.ProcessorsToRemove[0].ID)
}

func TestComputeDetectsConfigUpdate(t *testing.T) {
	a := graph.Snapshot{Nodes: []graph.NodeSnapshot{node("x", `{"v":1}`)}}
	b := graph.Snapshot{Nodes: []graph.NodeSnapshot{node("x", `{"v":2}`)}}

	d := delta.Compute(a, b)
	require.Empty(t, d.ProcessorsToAdd)
	require.Empty(t, d.ProcessorsToRemove)
	require.Len(t, d.ProcessorsToUpdate, 1)
	require.Equal(t, "x", d.ProcessorsToUpdate[0].ID)
}

func TestComputeDetectsAddedAndRemovedLinks(t *testing.T) {
	a := graph.Snapshot{Links: []graph.LinkSnapshot{{ID: "l1"}}}
	b := graph.Snapshot{Links: []graph.LinkSnapshot{{ID: "l2"}}}

	d := delta.Compute(a, b)
	require.Len(t, d.LinksToAdd, 1)
	require.Equal(t, "l2", d.LinksToAdd[0].ID)
	require.Len(t, d.LinksToRemove, 1)
	require.Equal(t, "l1", d.LinksToRemove[0].ID)
}
