package graph

import (
	"time"

	"github.com/streamworks/qosmanager/internal/qos/ids"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(ViolationTestSuite))

type ViolationTestSuite struct{}

// buildTwoHopGraph assembles a READY model with one G1 -> G2 edge and a
// latency-budget constraint spanning it, returning the identifiers needed to
// deliver samples and inspect results.
func buildTwoHopGraph(c *gc.C, budgetMs float64) (m *Model, v1, v2 ids.VertexID, channel ids.ChannelID) {
	m = NewModel(time.Minute)

	g1 := ids.NewGroupVertexID()
	g2 := ids.NewGroupVertexID()
	v1 = ids.NewVertexID()
	v2 = ids.NewVertexID()
	channel = ids.NewChannelID()

	state := m.ProcessReport(Report{
		VertexAnnouncements: []VertexReporterAnnouncement{
			{GroupVertexID: g1, VertexID: v1, InputGateIndex: gatePtr(0), OutputGateIndex: gatePtr(0)},
			{GroupVertexID: g2, VertexID: v2, InputGateIndex: gatePtr(0), OutputGateIndex: gatePtr(0)},
		},
		EdgeAnnouncements: []EdgeReporterAnnouncement{
			{SourceChannelID: channel, SourceGroupVertexID: g1, SourceVertexID: v1, SourceOutputGateIndex: 0,
				TargetGroupVertexID: g2, TargetVertexID: v2, TargetInputGateIndex: 0},
		},
	})
	c.Assert(state, gc.Equals, Ready)

	m.MergeShallow(ShallowGraphFragment{
		Constraints: []Constraint{{
			ID: ids.NewConstraintID(),
			Sequence: []SequenceElement{
				{Kind: VertexStep, GroupVertexID: g1, InputGateIndex: 0, OutputGateIndex: 0},
				{Kind: EdgeStep, SourceGroupVertexID: g1, TargetGroupVertexID: g2, OutputGateIndex: 0, InputGateIndex: 0},
				{Kind: VertexStep, GroupVertexID: g2, InputGateIndex: 0, OutputGateIndex: 0},
			},
			BudgetMs: budgetMs,
		}},
	})
	return m, v1, v2, channel
}

func deliverSamples(m *Model, v1, v2 ids.VertexID, channel ids.ChannelID, g1Ms, edgeMs, g2Ms float64) {
	now := time.Now()
	m.ProcessReport(Report{
		VertexLatencies: []VertexLatencySample{
			{VertexID: v1, InputGateIndex: 0, OutputGateIndex: 0, Timestamp: now, Millis: g1Ms},
			{VertexID: v2, InputGateIndex: 0, OutputGateIndex: 0, Timestamp: now, Millis: g2Ms},
		},
		EdgeLatencies: []EdgeLatencySample{
			{SourceChannelID: channel, Timestamp: now, Millis: edgeMs},
		},
		EdgeStatistics: []EdgeStatisticsSample{
			{SourceChannelID: channel, Timestamp: now, ThroughputBytesPerSec: 1000, OutputBufferLatencyMs: 1},
		},
	})
}

// TestFindViolationsReportsExcessOverThreshold asserts that a path summing
// to 105ms against an 80ms budget (31.25% excess) is reported.
func (s *ViolationTestSuite) TestFindViolationsReportsExcessOverThreshold(c *gc.C) {
	m, v1, v2, channel := buildTwoHopGraph(c, 80)
	deliverSamples(m, v1, v2, channel, 30, 50, 25)

	var violations []Violation
	m.FindViolations(func(v Violation) { violations = append(violations, v) }, nil)

	c.Assert(violations, gc.HasLen, 1)
	c.Assert(violations[0].ExcessMs, gc.Equals, 25.0)
}

// TestFindViolationsSuppressesWithinThreshold asserts that a path summing
// to 83ms against an 80ms budget (3.75% excess) stays below the 5%
// tolerance and is not reported.
func (s *ViolationTestSuite) TestFindViolationsSuppressesWithinThreshold(c *gc.C) {
	m, v1, v2, channel := buildTwoHopGraph(c, 80)
	deliverSamples(m, v1, v2, channel, 30, 30, 23)

	var violations []Violation
	m.FindViolations(func(v Violation) { violations = append(violations, v) }, nil)

	c.Assert(violations, gc.HasLen, 0)
}

// buildChain assembles a three-group A->B->C topology whose A->B hop uses
// the given distribution pattern and whose B->C hop is always POINTWISE.
func buildChain(c *gc.C, firstHop DistributionPattern) (m *Model, va, vc ids.VertexID, cAB, cBC ids.ChannelID) {
	m = NewModel(time.Minute)

	ga := ids.NewGroupVertexID()
	gb := ids.NewGroupVertexID()
	gcID := ids.NewGroupVertexID()
	va = ids.NewVertexID()
	vb := ids.NewVertexID()
	vc = ids.NewVertexID()
	cAB = ids.NewChannelID()
	cBC = ids.NewChannelID()

	m.MergeShallow(ShallowGraphFragment{
		GroupVertices: []ids.GroupVertexID{ga, gb, gcID},
		ForwardEdges: map[ids.GroupVertexID][]GroupEdge{
			ga: {{SourceGroup: ga, TargetGroup: gb, OutputGateIndex: 0, InputGateIndex: 0, Pattern: firstHop}},
			gb: {{SourceGroup: gb, TargetGroup: gcID, OutputGateIndex: 0, InputGateIndex: 0, Pattern: Pointwise}},
		},
	})

	m.ProcessReport(Report{
		VertexAnnouncements: []VertexReporterAnnouncement{
			{GroupVertexID: ga, VertexID: va, InputGateIndex: gatePtr(0), OutputGateIndex: gatePtr(0)},
			{GroupVertexID: gb, VertexID: vb, InputGateIndex: gatePtr(0), OutputGateIndex: gatePtr(0)},
			{GroupVertexID: gcID, VertexID: vc, InputGateIndex: gatePtr(0), OutputGateIndex: gatePtr(0)},
		},
		EdgeAnnouncements: []EdgeReporterAnnouncement{
			{SourceChannelID: cAB, SourceGroupVertexID: ga, SourceVertexID: va, SourceOutputGateIndex: 0,
				TargetGroupVertexID: gb, TargetVertexID: vb, TargetInputGateIndex: 0},
			{SourceChannelID: cBC, SourceGroupVertexID: gb, SourceVertexID: vb, SourceOutputGateIndex: 0,
				TargetGroupVertexID: gcID, TargetVertexID: vc, TargetInputGateIndex: 0},
		},
	})

	return m, va, vc, cAB, cBC
}

// TestProcessChainAnnouncePointwise asserts that a two-hop POINTWISE chain
// marks both edges in-chain.
func (s *ViolationTestSuite) TestProcessChainAnnouncePointwise(c *gc.C) {
	m, va, vc, cAB, cBC := buildChain(c, Pointwise)

	err := m.ProcessChainAnnounce(va, vc)
	c.Assert(err, gc.IsNil)

	idxAB, _ := m.graph.edgeIndexByChannel(cAB)
	idxBC, _ := m.graph.edgeIndexByChannel(cBC)
	c.Assert(m.graph.edges[idxAB].qos.InChain, gc.Equals, true)
	c.Assert(m.graph.edges[idxBC].qos.InChain, gc.Equals, true)
}

// TestProcessChainAnnounceRejectsBipartiteHop asserts that a BIPARTITE
// first hop is rejected with no partial marking.
func (s *ViolationTestSuite) TestProcessChainAnnounceRejectsBipartiteHop(c *gc.C) {
	m, va, vc, cAB, cBC := buildChain(c, Bipartite)

	err := m.ProcessChainAnnounce(va, vc)
	c.Assert(err, gc.Equals, ErrInvalidChain)

	idxAB, _ := m.graph.edgeIndexByChannel(cAB)
	idxBC, _ := m.graph.edgeIndexByChannel(cBC)
	c.Assert(m.graph.edges[idxAB].qos.InChain, gc.Equals, false)
	c.Assert(m.graph.edges[idxBC].qos.InChain, gc.Equals, false)
}
