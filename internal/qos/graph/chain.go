package graph

import (
	"github.com/streamworks/qosmanager/internal/qos/ids"
)

// groupEdgePattern resolves the distribution pattern declared for the group
// edge connecting (srcGroup, outputGateIndex) to (dstGroup, inputGateIndex),
// as announced in a shallow graph fragment.
func (g *Graph) groupEdgePattern(srcGroup ids.GroupVertexID, outputGateIndex int, dstGroup ids.GroupVertexID, inputGateIndex int) (DistributionPattern, bool) {
	gn, ok := g.groups[srcGroup]
	if !ok {
		return 0, false
	}
	for _, e := range gn.forwardEdges {
		if e.TargetGroup == dstGroup && e.OutputGateIndex == outputGateIndex && e.InputGateIndex == inputGateIndex {
			return e.Pattern, true
		}
	}
	return 0, false
}

// ProcessChainAnnounce walks forward along single-output-gate POINTWISE
// edges from begin to end, marking each traversed edge's QoS data as
// in-chain. It fails with ErrInvalidChain (and marks nothing) if any
// intermediate vertex has more than one output gate, has zero outgoing
// edges, or the next edge is not POINTWISE.
func (m *Model) ProcessChainAnnounce(begin, end ids.VertexID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var traversed []edgeIndex
	current := begin
	visited := map[ids.VertexID]bool{current: true}

	for current != end {
		vidx, ok := m.graph.memberByID[current]
		if !ok {
			return ErrInvalidChain
		}
		member := &m.graph.members[vidx]
		if len(member.outputGates) != 1 {
			return ErrInvalidChain
		}
		gate := &m.graph.gates[member.outputGates[0]]
		if len(gate.edges) != 1 {
			return ErrInvalidChain
		}
		eidx := gate.edges[0]
		edge := &m.graph.edges[eidx]

		dstGate := &m.graph.gates[edge.targetGate]
		dstMember := &m.graph.members[dstGate.owner]

		pattern, known := m.graph.groupEdgePattern(member.group, gate.index, dstMember.group, dstGate.index)
		if !known || pattern != Pointwise {
			return ErrInvalidChain
		}

		traversed = append(traversed, eidx)
		current = dstMember.id
		if visited[current] {
			return ErrInvalidChain // cyclic chain; cannot reach end deterministically
		}
		visited[current] = true
	}

	for _, eidx := range traversed {
		m.graph.edges[eidx].qos.InChain = true
	}
	return nil
}
