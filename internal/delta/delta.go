// Package delta computes the add/remove/update sets between two graph
// snapshots, and the checksums the compiler uses to decide whether a
// processor's configuration changed. Grounded on the teacher's
// CaptureState/VerifyState snapshot-hash pattern, generalized from
// single-resource pre/post comparison to whole-graph set difference.
package delta

import "github.com/fluxcore/streamgraph/internal/graph"

// Delta is the difference between a last-compiled snapshot A and a current
// snapshot B.
type Delta struct {
	ProcessorsToAdd    []graph.NodeSnapshot
	ProcessorsToRemove []graph.NodeSnapshot
	ProcessorsToUpdate []graph.NodeSnapshot // from B, new config
	LinksToAdd         []graph.LinkSnapshot
	LinksToRemove      []graph.LinkSnapshot
}

// Empty reports whether all five sets are empty.
func (d Delta) Empty() bool {
	return len(d.ProcessorsToAdd) == 0 && len(d.ProcessorsToRemove) == 0 &&
		len(d.ProcessorsToUpdate) == 0 && len(d.LinksToAdd) == 0 && len(d.LinksToRemove) == 0
}

// Compute builds the delta between a (last compiled) and b (current).
func Compute(a, b graph.Snapshot) Delta {
	aNodes := make(map[string]graph.NodeSnapshot, len(a.Nodes))
	for _, n := range a.Nodes {
		aNodes[n.ID] = n
	}
	bNodes := make(map[string]graph.NodeSnapshot, len(b.Nodes))
	for _, n := range b.Nodes {
		bNodes[n.ID] = n
	}

	var d Delta
	for id, bn := range bNodes {
		an, existed := aNodes[id]
		if !existed {
			d.ProcessorsToAdd = append(d.ProcessorsToAdd, bn)
			continue
		}
		if graph.ConfigChecksum(an.Config) != graph.ConfigChecksum(bn.Config) {
			d.ProcessorsToUpdate = append(d.ProcessorsToUpdate, bn)
		}
	}
	for id, an := range aNodes {
		if _, stillPresent := bNodes[id]; !stillPresent {
			d.ProcessorsToRemove = append(d.ProcessorsToRemove, an)
		}
	}

	aLinks := make(map[string]graph.LinkSnapshot, len(a.Links))
	for _, l := range a.Links {
		aLinks[l.ID] = l
	}
	bLinks := make(map[string]graph.LinkSnapshot, len(b.Links))
	for _, l := range b.Links {
		bLinks[l.ID] = l
	}
	for id, bl := range bLinks {
		if _, existed := aLinks[id]; !existed {
			d.LinksToAdd = append(d.LinksToAdd, bl)
		}
	}
	for id, al := range aLinks {
		if _, stillPresent := bLinks[id]; !stillPresent {
			d.LinksToRemove = append(d.LinksToRemove, al)
		}
	}

	return d
}
