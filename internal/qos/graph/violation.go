package graph

import (
	"time"

	"github.com/streamworks/qosmanager/internal/qos/ids"
)

// PathStep is one concrete step of an enumerated path: a member vertex (for
// a vertex-step) or a channel (for an edge-step).
type PathStep struct {
	Kind      ElementKind
	VertexID  ids.VertexID
	ChannelID ids.ChannelID
}

// Violation is a fully-enumerated path whose summed latency falls outside
// the constraint's 5% tolerance band.
type Violation struct {
	ConstraintID ids.ConstraintID
	Path         []PathStep
	SumMs        float64
	BudgetMs     float64
	ExcessMs     float64
}

// SequenceLogger receives every fully-enumerated sequence for a constraint,
// violating or not, to support offline analysis.
type SequenceLogger func(constraintID ids.ConstraintID, path []PathStep, sumMs float64)

// ViolationListener is notified for every violation exceeding the 5%
// tolerance band.
type ViolationListener func(Violation)

const violationToleranceFraction = 0.05

// FindViolations runs the constraint-violation finder over every constraint
// currently known to the graph, notifying listener for each path whose
// absolute excess exceeds 5% of the constraint's budget. seqLogger, if
// non-nil, is invoked for every fully-enumerated path regardless of whether
// it violates its budget.
func (m *Model) FindViolations(listener ViolationListener, seqLogger SequenceLogger) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for cid, c := range m.graph.constraints {
		m.findConstraintViolationsLocked(cid, c, now, listener, seqLogger)
	}
}

func (m *Model) findConstraintViolationsLocked(cid ids.ConstraintID, c *Constraint, now time.Time, listener ViolationListener, seqLogger SequenceLogger) {
	if len(c.Sequence) == 0 {
		return
	}
	startGroup := c.Sequence[0].GroupVertexID
	if c.Sequence[0].Kind == EdgeStep {
		startGroup = c.Sequence[0].SourceGroupVertexID
	}

	memberCount := m.graph.groupMemberCount(startGroup)
	for ordinal := 0; ordinal < memberCount; ordinal++ {
		startVertex, ok := m.graph.memberAtOrdinal(startGroup, ordinal)
		if !ok {
			continue
		}
		visited := map[ids.VertexID]map[GateCombo]bool{}
		m.walkSequenceLocked(cid, c, now, 0, startVertex, nil, 0, visited, listener, seqLogger)
	}
}

// walkSequenceLocked performs the constrained depth-first traversal. frontier
// is the vertex the traversal is currently positioned at; path/sumMs
// accumulate the concrete path built so far.
func (m *Model) walkSequenceLocked(
	cid ids.ConstraintID,
	c *Constraint,
	now time.Time,
	seqPos int,
	frontier ids.VertexID,
	path []PathStep,
	sumMs float64,
	visited map[ids.VertexID]map[GateCombo]bool,
	listener ViolationListener,
	seqLogger SequenceLogger,
) {
	elem := c.Sequence[seqPos]

	switch elem.Kind {
	case VertexStep:
		vidx, ok := m.graph.memberByID[frontier]
		if !ok {
			return
		}
		member := &m.graph.members[vidx]
		if member.group != elem.GroupVertexID {
			return
		}
		combo := GateCombo{InputGateIndex: elem.InputGateIndex, OutputGateIndex: elem.OutputGateIndex}
		if visited[frontier][combo] {
			return
		}
		qos, ok := member.qos[combo]
		if !ok || !qos.Active(now, m.window) {
			return
		}

		nextVisited := copyVisited(visited)
		if nextVisited[frontier] == nil {
			nextVisited[frontier] = map[GateCombo]bool{}
		}
		nextVisited[frontier][combo] = true

		nextPath := append(append([]PathStep{}, path...), PathStep{Kind: VertexStep, VertexID: frontier})
		nextSum := sumMs + qos.Sample.Millis

		if seqPos == len(c.Sequence)-1 {
			m.recordPathLocked(cid, c, nextPath, nextSum, listener, seqLogger)
			return
		}
		m.walkSequenceLocked(cid, c, now, seqPos+1, frontier, nextPath, nextSum, nextVisited, listener, seqLogger)

	case EdgeStep:
		vidx, ok := m.graph.memberByID[frontier]
		if !ok {
			return
		}
		member := &m.graph.members[vidx]
		outGate, ok := m.graph.gateAt(frontier, Output, elem.OutputGateIndex)
		if !ok {
			return
		}
		gate := &m.graph.gates[outGate]
		for _, eidx := range gate.edges { // gate-local index order == arrival order
			edge := &m.graph.edges[eidx]
			dstGate := &m.graph.gates[edge.targetGate]
			if dstGate.index != elem.InputGateIndex {
				continue
			}
			dstMember := &m.graph.members[dstGate.owner]
			if dstMember.group != elem.TargetGroupVertexID || member.group != elem.SourceGroupVertexID {
				continue
			}
			if !edge.qos.Active(now, m.window) {
				continue
			}

			nextPath := append(append([]PathStep{}, path...), PathStep{Kind: EdgeStep, ChannelID: edge.channel})
			nextSum := sumMs + edge.qos.Latency.Millis

			if seqPos == len(c.Sequence)-1 {
				m.recordPathLocked(cid, c, nextPath, nextSum, listener, seqLogger)
				continue
			}
			m.walkSequenceLocked(cid, c, now, seqPos+1, dstMember.id, nextPath, nextSum, copyVisited(visited), listener, seqLogger)
		}
	}
}

func (m *Model) recordPathLocked(cid ids.ConstraintID, c *Constraint, path []PathStep, sumMs float64, listener ViolationListener, seqLogger SequenceLogger) {
	if seqLogger != nil {
		seqLogger(cid, path, sumMs)
	}
	excess := sumMs - c.BudgetMs
	if c.BudgetMs == 0 {
		return
	}
	if absFloat(excess)/c.BudgetMs > violationToleranceFraction {
		if listener != nil {
			listener(Violation{
				ConstraintID: cid,
				Path:         path,
				SumMs:        sumMs,
				BudgetMs:     c.BudgetMs,
				ExcessMs:     excess,
			})
		}
	}
}

func copyVisited(v map[ids.VertexID]map[GateCombo]bool) map[ids.VertexID]map[GateCombo]bool {
	out := make(map[ids.VertexID]map[GateCombo]bool, len(v))
	for vid, combos := range v {
		inner := make(map[GateCombo]bool, len(combos))
		for k := range combos {
			inner[k] = true
		}
		out[vid] = inner
	}
	return out
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
