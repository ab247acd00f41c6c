package graph

import (
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/streamworks/qosmanager/internal/qos/ids"
)

// State is the QoS model's assembly state.
type State int

const (
	Empty State = iota
	Shallow
	Ready
)

func (s State) String() string {
	switch s {
	case Shallow:
		return "SHALLOW"
	case Ready:
		return "READY"
	default:
		return "EMPTY"
	}
}

// announcementBuffer holds unresolved vertex and edge reporter
// announcements, keyed by group vertex and source channel respectively.
type announcementBuffer struct {
	vertices map[ids.GroupVertexID][]VertexReporterAnnouncement
	edges    map[ids.ChannelID]EdgeReporterAnnouncement
}

func newAnnouncementBuffer() announcementBuffer {
	return announcementBuffer{
		vertices: make(map[ids.GroupVertexID][]VertexReporterAnnouncement),
		edges:    make(map[ids.ChannelID]EdgeReporterAnnouncement),
	}
}

func (b *announcementBuffer) addVertex(ann VertexReporterAnnouncement) {
	b.vertices[ann.GroupVertexID] = append(b.vertices[ann.GroupVertexID], ann)
}

func (b *announcementBuffer) addEdge(ann EdgeReporterAnnouncement) {
	b.edges[ann.SourceChannelID] = ann
}

// Model merges incoming shallow graph fragments and reporter announcements
// into a Graph and advances the EMPTY -> SHALLOW -> READY assembly state
// machine. All graph mutation for one job runs through a single Model
// instance, matching the single-manager-worker resource policy.
type Model struct {
	mu     sync.Mutex
	graph  *Graph
	buffer announcementBuffer
	window time.Duration

	// invariantErrs accumulates ErrInternalInvariant occurrences detected
	// during the most recent try-process pass, for the caller to log.
	invariantErrs error
}

// NewModel creates an empty model. window bounds how long a sample remains
// "active" for violation-finding purposes after its own timestamp.
func NewModel(window time.Duration) *Model {
	return &Model{
		graph:  NewGraph(),
		buffer: newAnnouncementBuffer(),
		window: window,
	}
}

// Graph exposes the underlying graph for read-only inspection (metrics,
// tests). Mutation must go through Model's methods so that state transitions
// stay consistent.
func (m *Model) Graph() *Graph {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.graph
}

// State returns the model's current assembly state. State is always derived
// from the graph's shape rather than tracked incrementally, which is what
// makes the fall-back READY->SHALLOW transition automatic instead of a
// special case.
func (m *Model) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Model) stateLocked() State {
	if !m.graph.HasGroups() {
		return Empty
	}
	if m.graph.IsShallow() {
		return Shallow
	}
	return Ready
}

// MergeShallow unions a group-level fragment into the graph and tries to
// resolve any buffered announcements against it.
func (m *Model) MergeShallow(fragment ShallowGraphFragment) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.graph.MergeShallow(fragment)
	m.tryProcessBufferLocked()
	return m.stateLocked()
}

// ProcessReport ingests one QosReport's worth of announcements and samples.
// Samples referring to unknown members/edges, or arriving before the graph
// is READY, are dropped silently: their reporter announcement will
// eventually resolve them.
func (m *Model) ProcessReport(report Report) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ann := range report.VertexAnnouncements {
		m.graph.ensureGroup(ann.GroupVertexID)
		m.buffer.addVertex(ann)
	}
	for _, ann := range report.EdgeAnnouncements {
		m.graph.ensureGroup(ann.SourceGroupVertexID)
		m.graph.ensureGroup(ann.TargetGroupVertexID)
		m.buffer.addEdge(ann)
	}
	if report.HasAnnouncements() {
		m.tryProcessBufferLocked()
	}

	state := m.stateLocked()
	if state == Ready {
		m.ingestSamplesLocked(report)
	}
	return state
}

// InvariantErrors returns (and clears) any ErrInternalInvariant occurrences
// accumulated since the last call, for the caller to log at WARN/ERROR.
func (m *Model) InvariantErrors() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.invariantErrs
	m.invariantErrs = nil
	return err
}

// tryProcessBufferLocked performs the two buffer sweeps: vertex
// announcements first, then edge announcements. Both sweeps are
// re-entrant-safe and idempotent on repeated announcements: resolved
// entries are removed, unresolved ones stay put for a future pass. Caller
// must hold m.mu.
func (m *Model) tryProcessBufferLocked() {
	m.sweepVertexAnnouncementsLocked()
	m.sweepEdgeAnnouncementsLocked()
}

func (m *Model) sweepVertexAnnouncementsLocked() {
	for gid, pending := range m.buffer.vertices {
		if !m.graph.GroupExists(gid) {
			continue
		}
		for _, ann := range pending {
			vidx := m.graph.createMember(gid, ann.VertexID)
			if ann.InputGateIndex != nil {
				m.graph.ensureGate(vidx, Input, *ann.InputGateIndex, ids.NewGateID)
			}
			if ann.OutputGateIndex != nil {
				m.graph.ensureGate(vidx, Output, *ann.OutputGateIndex, ids.NewGateID)
			}
			if ann.InputGateIndex != nil && ann.OutputGateIndex != nil {
				combo := GateCombo{InputGateIndex: *ann.InputGateIndex, OutputGateIndex: *ann.OutputGateIndex}
				member := &m.graph.members[vidx]
				if _, exists := member.qos[combo]; !exists {
					member.qos[combo] = &VertexQosData{Armed: true}
				}
			}
		}
		delete(m.buffer.vertices, gid)
	}
}

func (m *Model) sweepEdgeAnnouncementsLocked() {
	for channel, ann := range m.buffer.edges {
		srcGate, srcOK := m.graph.gateAt(ann.SourceVertexID, Output, ann.SourceOutputGateIndex)
		dstGate, dstOK := m.graph.gateAt(ann.TargetVertexID, Input, ann.TargetInputGateIndex)
		if !srcOK || !dstOK {
			continue // one endpoint not assembled yet; retry on a later pass
		}
		if !m.graph.validateGateOwnership(srcGate, dstGate, ann.SourceGroupVertexID, ann.TargetGroupVertexID) {
			m.invariantErrs = multierror.Append(m.invariantErrs, ErrInternalInvariant)
			delete(m.buffer.edges, channel)
			continue
		}
		m.graph.createEdge(channel, srcGate, dstGate)
		delete(m.buffer.edges, channel)
	}
}

// ingestSamplesLocked applies the latency/statistics samples from a report
// to the graph. Only called once the graph is READY. Caller must hold m.mu.
func (m *Model) ingestSamplesLocked(report Report) {
	for _, s := range report.VertexLatencies {
		vidx, ok := m.graph.memberByID[s.VertexID]
		if !ok {
			continue
		}
		combo := GateCombo{InputGateIndex: s.InputGateIndex, OutputGateIndex: s.OutputGateIndex}
		qos, ok := m.graph.members[vidx].qos[combo]
		if !ok {
			continue
		}
		qos.Sample = &LatencySample{Timestamp: s.Timestamp, Millis: s.Millis}
	}
	for _, s := range report.EdgeLatencies {
		idx, ok := m.graph.edgeIndexByChannel(s.SourceChannelID)
		if !ok {
			continue
		}
		m.graph.edges[idx].qos.Latency = &LatencySample{Timestamp: s.Timestamp, Millis: s.Millis}
	}
	for _, s := range report.EdgeStatistics {
		idx, ok := m.graph.edgeIndexByChannel(s.SourceChannelID)
		if !ok {
			continue
		}
		m.graph.edges[idx].qos.Statistics = &ChannelStatisticsSample{
			Timestamp:             s.Timestamp,
			ThroughputBytesPerSec: s.ThroughputBytesPerSec,
			OutputBufferLatencyMs: s.OutputBufferLatencyMs,
		}
	}
}

// Snapshot returns the current graph shape summary.
func (m *Model) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.graph.Snapshot()
}

// EdgeExists reports whether an edge with the given source channel has been
// fully assembled. Exposed for tests asserting directly on assembly progress.
func (m *Model) EdgeExists(ch ids.ChannelID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.graph.EdgeExists(ch)
}

// BufferEmpty reports whether the announcement buffer has no pending
// entries, used by tests asserting that late-arriving fragments fully
// drain the buffer.
func (m *Model) BufferEmpty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buffer.vertices) == 0 && len(m.buffer.edges) == 0
}
