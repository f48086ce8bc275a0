// Package graph implements the Property Graph: topology (nodes + links)
// unified with an ECS-style component store keyed by generational entity
// ids, with a separate stable-string-identifier layer so external callers
// never see the dense ids. Grounded on the corpus's general
// "mutex-guarded map keyed by string id" shape (teacher's
// pkg/plugins.Registry, internal/plan.SOPGraph's Nodes map + Edges list) and
// on spec §4.5/§9's arena+index guidance.
package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/fluxcore/streamgraph/errs"
	"github.com/fluxcore/streamgraph/internal/processor"
)

// EntityID is a generational id: Index identifies a slot, Generation
// invalidates stale references to a reused slot.
type EntityID struct {
	Index      uint32
	Generation uint32
}

func (e EntityID) String() string { return fmt.Sprintf("%d#%d", e.Index, e.Generation) }

var zeroEntity EntityID

// Endpoint is a (node, port) pair.
type Endpoint struct {
	Node string
	Port string
}

// Node is a processor node's topology-level attributes.
type Node struct {
	ID      string
	Type    string
	Config  json.RawMessage
	Inputs  []processor.PortSpec
	Outputs []processor.PortSpec
}

// LinkEdge is a link's topology-level attributes (the ring itself is a
// component, attached separately by the compiler).
type LinkEdge struct {
	ID   string
	From Endpoint
	To   Endpoint
}

type nodeSlot struct {
	entity EntityID
	node   Node
	alive  bool
}

type linkSlot struct {
	entity EntityID
	edge   LinkEdge
	alive  bool
}

// Graph is the property graph: topology plus a type-erased component store,
// protected by a single read-write lock that each method takes for its own
// duration; no lock is held across a whole compile.
type Graph struct {
	mu sync.RWMutex

	nodeByIdent map[string]EntityID
	nodeSlots   []nodeSlot
	nodeFree    []uint32

	linkByIdent map[string]EntityID
	linkSlots   []linkSlot
	linkFree    []uint32

	// components[entity][kind] -> arbitrary component value.
	components map[EntityID]map[string]interface{}
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodeByIdent: make(map[string]EntityID),
		linkByIdent: make(map[string]EntityID),
		components:  make(map[EntityID]map[string]interface{}),
	}
}

// AddProcessor registers a new node. If id is empty, a uuid is minted.
// Fails if id already exists.
func (g *Graph) AddProcessor(id, typeTag string, config json.RawMessage, inputs, outputs []processor.PortSpec) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := g.nodeByIdent[id]; exists {
		return "", errs.New(errs.Configuration, id, "processor id already exists")
	}

	entity := g.allocNode()
	g.nodeSlots[entity.Index] = nodeSlot{
		entity: entity,
		alive:  true,
		node: Node{
			ID:      id,
			Type:    typeTag,
			Config:  config,
			Inputs:  inputs,
			Outputs: outputs,
		},
	}
	g.nodeByIdent[id] = entity
	g.components[entity] = make(map[string]interface{})
	return id, nil
}

func (g *Graph) allocNode() EntityID {
	if n := len(g.nodeFree); n > 0 {
		idx := g.nodeFree[n-1]
		g.nodeFree = g.nodeFree[:n-1]
		gen := g.nodeSlots[idx].entity.Generation + 1
		return EntityID{Index: idx, Generation: gen}
	}
	idx := uint32(len(g.nodeSlots))
	g.nodeSlots = append(g.nodeSlots, nodeSlot{})
	return EntityID{Index: idx, Generation: 1}
}

func (g *Graph) allocLink() EntityID {
	if n := len(g.linkFree); n > 0 {
		idx := g.linkFree[n-1]
		g.linkFree = g.linkFree[:n-1]
		gen := g.linkSlots[idx].entity.Generation + 1
		return EntityID{Index: idx, Generation: gen}
	}
	idx := uint32(len(g.linkSlots))
	g.linkSlots = append(g.linkSlots, linkSlot{})
	return EntityID{Index: idx, Generation: 1}
}

// RemoveProcessor deletes a node and its components. The caller (the
// compiler) is responsible for having already torn down any links and
// component state that reference it.
func (g *Graph) RemoveProcessor(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	entity, ok := g.nodeByIdent[id]
	if !ok {
		return errs.New(errs.NotFound, id, "processor not found")
	}
	g.nodeSlots[entity.Index].alive = false
	delete(g.nodeByIdent, id)
	delete(g.components, entity)
	g.nodeFree = append(g.nodeFree, entity.Index)
	return nil
}

// AddLink declares a new directed link. Rejects dangling endpoints, wrong
// port direction, and anything that would introduce a cycle.
func (g *Graph) AddLink(id string, from, to Endpoint) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := g.linkByIdent[id]; exists {
		return "", errs.New(errs.Configuration, id, "link id already exists")
	}

	fromEntity, ok := g.nodeByIdent[from.Node]
	if !ok {
		return "", errs.New(errs.NotFound, from.Node, "link source node not found")
	}
	toEntity, ok := g.nodeByIdent[to.Node]
	if !ok {
		return "", errs.New(errs.NotFound, to.Node, "link target node not found")
	}

	fromNode := g.nodeSlots[fromEntity.Index].node
	if !hasPort(fromNode.Outputs, from.Port) {
		return "", errs.New(errs.PortError, from.Node+"."+from.Port, "source port is not a declared output")
	}
	toNode := g.nodeSlots[toEntity.Index].node
	if !hasPort(toNode.Inputs, to.Port) {
		return "", errs.New(errs.PortError, to.Node+"."+to.Port, "target port is not a declared input")
	}

	if g.wouldCreateCycle(from.Node, to.Node) {
		return "", errs.New(errs.Configuration, id, "link would introduce a cycle")
	}

	entity := g.allocLink()
	g.linkSlots[entity.Index] = linkSlot{
		entity: entity,
		alive:  true,
		edge:   LinkEdge{ID: id, From: from, To: to},
	}
	g.linkByIdent[id] = entity
	g.components[entity] = make(map[string]interface{})
	return id, nil
}

func hasPort(ports []processor.PortSpec, name string) bool {
	for _, p := range ports {
		if p.Name == name {
			return true
		}
	}
	return false
}

// wouldCreateCycle reports whether adding an edge from->to would create a
// cycle in the current link graph, via DFS from `to` looking for `from`.
func (g *Graph) wouldCreateCycle(from, to string) bool {
	if from == to {
		return true
	}
	visited := make(map[string]bool)
	var dfs func(node string) bool
	dfs = func(node string) bool {
		if node == from {
			return true
		}
		if visited[node] {
			return false
		}
		visited[node] = true
		for _, slot := range g.linkSlots {
			if !slot.alive {
				continue
			}
			if slot.edge.From.Node == node {
				if dfs(slot.edge.To.Node) {
					return true
				}
			}
		}
		return false
	}
	return dfs(to)
}

// RemoveLink deletes a link and its components.
func (g *Graph) RemoveLink(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	entity, ok := g.linkByIdent[id]
	if !ok {
		return errs.New(errs.NotFound, id, "link not found")
	}
	g.linkSlots[entity.Index].alive = false
	delete(g.linkByIdent, id)
	delete(g.components, entity)
	g.linkFree = append(g.linkFree, entity.Index)
	return nil
}

// UpdateConfig replaces a node's stored configuration document. This only
// updates topology-level state; applying it to a live ProcessorInstance is
// the compiler's job (§4.7 step 6).
func (g *Graph) UpdateConfig(id string, config json.RawMessage) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	entity, ok := g.nodeByIdent[id]
	if !ok {
		return errs.New(errs.NotFound, id, "processor not found")
	}
	g.nodeSlots[entity.Index].node.Config = config
	return nil
}

// Node looks up a node's topology record and its dense entity id.
func (g *Graph) Node(id string) (Node, EntityID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	entity, ok := g.nodeByIdent[id]
	if !ok {
		return Node{}, zeroEntity, false
	}
	return g.nodeSlots[entity.Index].node, entity, true
}

// Link looks up a link's topology record and its dense entity id.
func (g *Graph) Link(id string) (LinkEdge, EntityID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	entity, ok := g.linkByIdent[id]
	if !ok {
		return LinkEdge{}, zeroEntity, false
	}
	return g.linkSlots[entity.Index].edge, entity, true
}

// Nodes returns every live node, in stable-id sorted order.
func (g *Graph) Nodes() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Node, 0, len(g.nodeByIdent))
	for _, slot := range g.nodeSlots {
		if slot.alive {
			out = append(out, slot.node)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Links returns every live link, in stable-id sorted order.
func (g *Graph) Links() []LinkEdge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]LinkEdge, 0, len(g.linkByIdent))
	for _, slot := range g.linkSlots {
		if slot.alive {
			out = append(out, slot.edge)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetNodeComponent / NodeComponent / RemoveNodeComponent manage type-erased
// per-node component rows (ProcessorInstance, ThreadHandle, Metrics, ...).
func (g *Graph) SetNodeComponent(id string, kind string, value interface{}) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	entity, ok := g.nodeByIdent[id]
	if !ok {
		return errs.New(errs.NotFound, id, "processor not found")
	}
	g.components[entity][kind] = value
	return nil
}

func (g *Graph) NodeComponent(id string, kind string) (interface{}, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	entity, ok := g.nodeByIdent[id]
	if !ok {
		return nil, false
	}
	v, ok := g.components[entity][kind]
	return v, ok
}

func (g *Graph) RemoveNodeComponent(id string, kind string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	entity, ok := g.nodeByIdent[id]
	if !ok {
		return
	}
	delete(g.components[entity], kind)
}

// SetLinkComponent / LinkComponent / RemoveLinkComponent are the link-side
// equivalents (LinkRingHandles, LinkTypeInfo, LinkState).
func (g *Graph) SetLinkComponent(id string, kind string, value interface{}) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	entity, ok := g.linkByIdent[id]
	if !ok {
		return errs.New(errs.NotFound, id, "link not found")
	}
	g.components[entity][kind] = value
	return nil
}

func (g *Graph) LinkComponent(id string, kind string) (interface{}, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	entity, ok := g.linkByIdent[id]
	if !ok {
		return nil, false
	}
	v, ok := g.components[entity][kind]
	return v, ok
}

func (g *Graph) RemoveLinkComponent(id string, kind string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	entity, ok := g.linkByIdent[id]
	if !ok {
		return
	}
	delete(g.components[entity], kind)
}

// Snapshot is the structural, comparable form of the graph used by the
// delta engine and the persisted-state document.
type Snapshot struct {
	Nodes []NodeSnapshot `json:"nodes"`
	Links []LinkSnapshot `json:"links"`
}

type NodeSnapshot struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config"`
}

type LinkSnapshot struct {
	ID   string   `json:"id"`
	From Endpoint `json:"from"`
	To   Endpoint `json:"to"`
}

// Snapshot captures the current topology in sorted, comparable form.
func (g *Graph) Snapshot() Snapshot {
	nodes := g.Nodes()
	links := g.Links()

	snap := Snapshot{
		Nodes: make([]NodeSnapshot, 0, len(nodes)),
		Links: make([]LinkSnapshot, 0, len(links)),
	}
	for _, n := range nodes {
		snap.Nodes = append(snap.Nodes, NodeSnapshot{ID: n.ID, Type: n.Type, Config: n.Config})
	}
	for _, l := range links {
		snap.Links = append(snap.Links, LinkSnapshot{ID: l.ID, From: l.From, To: l.To})
	}
	return snap
}

// Checksum computes a structural hash over sorted node and link ids, node
// type/config, and link endpoints. Equal checksums imply equal structure.
// Grounded on the teacher's GenerateStateSnapshot (sha256-over-marshaled-JSON).
func Checksum(s Snapshot) string {
	data, _ := json.Marshal(s)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ConfigChecksum hashes a single node's configuration document, used by the
// delta engine to detect processors_to_update.
func ConfigChecksum(config json.RawMessage) string {
	sum := sha256.Sum256(config)
	return hex.EncodeToString(sum[:])
}
