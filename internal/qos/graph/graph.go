package graph

import (
	"github.com/streamworks/qosmanager/internal/qos/ids"
)

// memberIndex, gateIndex and edgeIndex are stable, non-owning references into
// the graph's arenas. The gate/edge/vertex structural cycle is modeled with
// these indices rather than bidirectional owning pointers, so nothing in
// this package needs a finalizer or explicit cycle-breaking teardown.
type memberIndex int
type gateIndex int
type edgeIndex int

const noIndex = -1

type groupNode struct {
	id            ids.GroupVertexID
	members       []memberIndex // ordered by arrival == member-index order
	forwardEdges  []GroupEdge
	backwardEdges []GroupEdge
}

type memberNode struct {
	id          ids.VertexID
	group       ids.GroupVertexID
	ordinal     int // position within the owning group's members slice
	inputGates  []gateIndex
	outputGates []gateIndex
	qos         map[GateCombo]*VertexQosData
}

type gateNode struct {
	id        ids.GateID
	owner     memberIndex
	direction GateDirection
	index     int // gate-index within the owning vertex
	edges     []edgeIndex
}

type edgeNode struct {
	channel    ids.ChannelID
	sourceGate gateIndex
	targetGate gateIndex
	qos        *EdgeQosData
}

// Graph is the in-memory sparse QoS graph: group vertices, member vertices,
// gates and edges, plus the constraint set and the secondary indices used
// to resolve IDs to arena slots.
type Graph struct {
	groups map[ids.GroupVertexID]*groupNode

	members         []memberNode
	memberByID      map[ids.VertexID]memberIndex

	gates      []gateNode
	gateByID   map[ids.GateID]gateIndex

	edges           []edgeNode
	edgeByChannel   map[ids.ChannelID]edgeIndex

	constraints map[ids.ConstraintID]*Constraint
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		groups:        make(map[ids.GroupVertexID]*groupNode),
		memberByID:    make(map[ids.VertexID]memberIndex),
		gateByID:      make(map[ids.GateID]gateIndex),
		edgeByChannel: make(map[ids.ChannelID]edgeIndex),
		constraints:   make(map[ids.ConstraintID]*Constraint),
	}
}

// ShallowGraphFragment is the group-level payload merged by MergeShallow:
// group vertices (possibly still memberless), group edges and constraints,
// as announced by the coordinator that elected this worker as QoS manager.
type ShallowGraphFragment struct {
	GroupVertices []ids.GroupVertexID
	ForwardEdges  map[ids.GroupVertexID][]GroupEdge
	BackwardEdges map[ids.GroupVertexID][]GroupEdge
	Constraints   []Constraint
}

// ensureGroup returns the groupNode for id, creating an empty (shallow)
// placeholder if it does not exist yet.
func (g *Graph) ensureGroup(id ids.GroupVertexID) *groupNode {
	gn, ok := g.groups[id]
	if !ok {
		gn = &groupNode{id: id}
		g.groups[id] = gn
	}
	return gn
}

// MergeShallow unions a group-level fragment into the graph. It is
// idempotent on already-known IDs and never overwrites concrete member data
// with a shallow placeholder: an already-populated group's member list is
// left untouched.
func (g *Graph) MergeShallow(fragment ShallowGraphFragment) {
	for _, gid := range fragment.GroupVertices {
		g.ensureGroup(gid)
	}
	for gid, edges := range fragment.ForwardEdges {
		gn := g.ensureGroup(gid)
		gn.forwardEdges = mergeGroupEdges(gn.forwardEdges, edges)
	}
	for gid, edges := range fragment.BackwardEdges {
		gn := g.ensureGroup(gid)
		gn.backwardEdges = mergeGroupEdges(gn.backwardEdges, edges)
	}
	for i := range fragment.Constraints {
		c := fragment.Constraints[i]
		if _, exists := g.constraints[c.ID]; !exists {
			cc := c
			g.constraints[c.ID] = &cc
		}
	}
}

// mergeGroupEdges appends edges not already present (by value) to existing,
// keeping MergeShallow idempotent on repeated fragments.
func mergeGroupEdges(existing []GroupEdge, incoming []GroupEdge) []GroupEdge {
outer:
	for _, e := range incoming {
		for _, have := range existing {
			if have == e {
				continue outer
			}
		}
		existing = append(existing, e)
	}
	return existing
}

// IsShallow reports whether at least one group vertex currently has zero
// members. A graph with no group vertices at all also counts as shallow.
func (g *Graph) IsShallow() bool {
	if len(g.groups) == 0 {
		return true
	}
	for _, gn := range g.groups {
		if len(gn.members) == 0 {
			return true
		}
	}
	return false
}

// HasGroups reports whether the graph has seen at least one group vertex,
// the precondition for leaving the empty state.
func (g *Graph) HasGroups() bool { return len(g.groups) > 0 }

// GroupExists reports whether gid names a known group vertex.
func (g *Graph) GroupExists(gid ids.GroupVertexID) bool {
	_, ok := g.groups[gid]
	return ok
}

// ConstraintIDs returns the IDs of every constraint currently known to the
// graph, in unspecified order.
func (g *Graph) ConstraintIDs() []ids.ConstraintID {
	out := make([]ids.ConstraintID, 0, len(g.constraints))
	for id := range g.constraints {
		out = append(out, id)
	}
	return out
}

// Constraint returns the constraint with the given ID, if any.
func (g *Graph) Constraint(id ids.ConstraintID) (*Constraint, bool) {
	c, ok := g.constraints[id]
	return c, ok
}

// createMember lazily creates a member vertex (and lazily-sized gate
// placeholders are created separately, on demand, by ensureGate) inside the
// group identified by gid. It is a no-op if the vertex already exists.
func (g *Graph) createMember(gid ids.GroupVertexID, vid ids.VertexID) memberIndex {
	if idx, ok := g.memberByID[vid]; ok {
		return idx
	}
	gn := g.ensureGroup(gid)
	idx := memberIndex(len(g.members))
	g.members = append(g.members, memberNode{
		id:      vid,
		group:   gid,
		ordinal: len(gn.members),
		qos:     make(map[GateCombo]*VertexQosData),
	})
	g.memberByID[vid] = idx
	gn.members = append(gn.members, idx)
	return idx
}

// ensureGate lazily creates the gate at the given direction/index on member
// vid, allocating a stable GateID for it on first creation.
func (g *Graph) ensureGate(vidx memberIndex, direction GateDirection, gateIdx int, newID func() ids.GateID) gateIndex {
	m := &g.members[vidx]
	list := &m.inputGates
	if direction == Output {
		list = &m.outputGates
	}
	for _, gi := range *list {
		if g.gates[gi].index == gateIdx {
			return gi
		}
	}
	idx := gateIndex(len(g.gates))
	g.gates = append(g.gates, gateNode{
		id:        newID(),
		owner:     vidx,
		direction: direction,
		index:     gateIdx,
	})
	g.gateByID[g.gates[idx].id] = idx
	*list = append(*list, idx)
	return idx
}

// gateAt returns the gate index for (vid, direction, gateIdx) if the member
// and gate already exist.
func (g *Graph) gateAt(vid ids.VertexID, direction GateDirection, gateIdx int) (gateIndex, bool) {
	midx, ok := g.memberByID[vid]
	if !ok {
		return 0, false
	}
	m := &g.members[midx]
	list := m.inputGates
	if direction == Output {
		list = m.outputGates
	}
	for _, gi := range list {
		if g.gates[gi].index == gateIdx {
			return gi, true
		}
	}
	return 0, false
}

// memberAtOrdinal resolves the VertexID of the member at ordinal position
// within group gid, used by the violation finder's member enumeration in
// member-index order.
func (g *Graph) memberAtOrdinal(gid ids.GroupVertexID, ordinal int) (ids.VertexID, bool) {
	gn, ok := g.groups[gid]
	if !ok || ordinal < 0 || ordinal >= len(gn.members) {
		return ids.VertexID{}, false
	}
	return g.members[gn.members[ordinal]].id, true
}

// groupMemberCount returns how many member vertices a group currently has.
func (g *Graph) groupMemberCount(gid ids.GroupVertexID) int {
	gn, ok := g.groups[gid]
	if !ok {
		return 0
	}
	return len(gn.members)
}

// createEdge wires a directed edge between two already-existing gates and
// indexes it by source channel. It does not check group ownership of the
// gates; callers do that first with validateGateOwnership.
func (g *Graph) createEdge(channel ids.ChannelID, srcGate, dstGate gateIndex) edgeIndex {
	idx := edgeIndex(len(g.edges))
	g.edges = append(g.edges, edgeNode{
		channel:    channel,
		sourceGate: srcGate,
		targetGate: dstGate,
		qos:        &EdgeQosData{},
	})
	g.gates[srcGate].edges = append(g.gates[srcGate].edges, idx)
	g.gates[dstGate].edges = append(g.gates[dstGate].edges, idx)
	g.edgeByChannel[channel] = idx
	return idx
}

// edgeIndexByChannel resolves an edge index from its source channel ID.
func (g *Graph) edgeIndexByChannel(ch ids.ChannelID) (edgeIndex, bool) {
	idx, ok := g.edgeByChannel[ch]
	return idx, ok
}

// Snapshot is a read-only summary of the graph's current shape, used by
// tests that want to assert on size without reaching into package
// internals.
type Snapshot struct {
	Groups      int
	Members     int
	Gates       int
	Edges       int
	Constraints int
	Shallow     bool
}

// Snapshot returns the current graph shape summary.
func (g *Graph) Snapshot() Snapshot {
	return Snapshot{
		Groups:      len(g.groups),
		Members:     len(g.members),
		Gates:       len(g.gates),
		Edges:       len(g.edges),
		Constraints: len(g.constraints),
		Shallow:     g.IsShallow(),
	}
}

// EdgeExists reports whether an edge with the given source channel has been
// fully assembled.
func (g *Graph) EdgeExists(ch ids.ChannelID) bool {
	_, ok := g.edgeByChannel[ch]
	return ok
}

// validateGateOwnership checks that an edge's endpoints actually belong to
// the declared source/target groups. Returns false (and logs are the
// caller's responsibility) when the invariant is violated.
func (g *Graph) validateGateOwnership(srcGate, dstGate gateIndex, srcGroup, dstGroup ids.GroupVertexID) bool {
	srcMember := g.members[g.gates[srcGate].owner]
	dstMember := g.members[g.gates[dstGate].owner]
	return srcMember.group == srcGroup && dstMember.group == dstGroup
}
