package graph

import (
	"time"

	"github.com/streamworks/qosmanager/internal/qos/ids"
)

// DistributionPattern describes how a group edge fans its traffic out across
// the member vertices of the connected groups.
type DistributionPattern int

const (
	// Pointwise connects exactly one upstream member to one downstream member.
	Pointwise DistributionPattern = iota
	// Bipartite connects every upstream member to every downstream member.
	Bipartite
)

func (p DistributionPattern) String() string {
	if p == Bipartite {
		return "BIPARTITE"
	}
	return "POINTWISE"
}

// GateDirection distinguishes input gates from output gates.
type GateDirection int

const (
	Input GateDirection = iota
	Output
)

// GroupEdge describes how two group vertices connect at the group level. It
// is carried verbatim from shallow-graph fragments and does not reference
// any concrete member; concrete connectivity is established lazily once
// edge reporter announcements resolve against existing gates.
type GroupEdge struct {
	SourceGroup     ids.GroupVertexID
	TargetGroup     ids.GroupVertexID
	OutputGateIndex int
	InputGateIndex  int
	Pattern         DistributionPattern
}

// GateCombo identifies one active (input-gate, output-gate) combination on a
// member vertex, i.e. one "through" path a vertex's processing latency is
// measured against.
type GateCombo struct {
	InputGateIndex  int
	OutputGateIndex int
}

// LatencySample is a single timestamped latency observation in milliseconds.
type LatencySample struct {
	Timestamp time.Time
	Millis    float64
}

// ChannelStatisticsSample captures the latest output-channel behavior
// observed for an edge: throughput and output-buffer occupancy.
type ChannelStatisticsSample struct {
	Timestamp             time.Time
	ThroughputBytesPerSec float64
	OutputBufferLatencyMs float64
}

// VertexQosData is the per-(inputGate,outputGate) record: it exists iff a
// reporter has ever been announced for that combination, and carries the
// latest latency sample once one arrives.
type VertexQosData struct {
	Armed  bool
	Sample *LatencySample
}

// Active reports whether the combination has received a sample within the
// given aggregation window, measured against now.
func (d *VertexQosData) Active(now time.Time, window time.Duration) bool {
	if d == nil || d.Sample == nil {
		return false
	}
	return now.Sub(d.Sample.Timestamp) <= window
}

// EdgeQosData is the per-edge record: the latest channel-latency sample and
// the latest output-channel statistics sample.
type EdgeQosData struct {
	Latency    *LatencySample
	Statistics *ChannelStatisticsSample
	InChain    bool
}

// Active reports whether both the latency and statistics samples are
// present and fresh, the admissibility rule the violation finder gates
// edge traversal on.
func (d *EdgeQosData) Active(now time.Time, window time.Duration) bool {
	if d == nil || d.Latency == nil || d.Statistics == nil {
		return false
	}
	return now.Sub(d.Latency.Timestamp) <= window && now.Sub(d.Statistics.Timestamp) <= window
}

// SequenceElement is one step of a constraint's sequence: either a
// vertex-step or an edge-step.
type SequenceElement struct {
	Kind ElementKind

	// Vertex-step fields.
	GroupVertexID   ids.GroupVertexID
	InputGateIndex  int
	OutputGateIndex int

	// Edge-step fields.
	SourceGroupVertexID ids.GroupVertexID
	TargetGroupVertexID ids.GroupVertexID
	// OutputGateIndex/InputGateIndex above double as the edge-step's
	// source-output and target-input gate indices.
}

// ElementKind distinguishes vertex-steps from edge-steps in a sequence.
type ElementKind int

const (
	VertexStep ElementKind = iota
	EdgeStep
)

// Constraint is a latency budget over a non-empty, alternating sequence of
// vertex-steps and edge-steps.
type Constraint struct {
	ID          ids.ConstraintID
	Sequence    []SequenceElement
	BudgetMs    float64
}
