package graph

import (
	"time"

	"github.com/streamworks/qosmanager/internal/qos/ids"
)

// VertexLatencySample is a single per-vertex processing-latency observation,
// as carried inside a QosReport.
type VertexLatencySample struct {
	VertexID        ids.VertexID
	InputGateIndex  int
	OutputGateIndex int
	Timestamp       time.Time
	Millis          float64
}

// EdgeLatencySample is a single per-edge channel-latency observation.
type EdgeLatencySample struct {
	SourceChannelID ids.ChannelID
	Timestamp       time.Time
	Millis          float64
}

// EdgeStatisticsSample is a single per-edge output-channel statistics
// observation (throughput and output-buffer behavior).
type EdgeStatisticsSample struct {
	SourceChannelID       ids.ChannelID
	Timestamp             time.Time
	ThroughputBytesPerSec float64
	OutputBufferLatencyMs float64
}

// VertexReporterAnnouncement piggybacks the description of a newly-activated
// vertex reporter inside a QosReport. InputGateIndex/OutputGateIndex are
// optional: a combination is armed for incoming samples only once both are
// present in the same announcement.
type VertexReporterAnnouncement struct {
	GroupVertexID   ids.GroupVertexID
	VertexID        ids.VertexID
	InputGateIndex  *int
	OutputGateIndex *int
}

// EdgeReporterAnnouncement piggybacks the description of a newly-activated
// edge reporter inside a QosReport.
type EdgeReporterAnnouncement struct {
	SourceChannelID       ids.ChannelID
	SourceGroupVertexID   ids.GroupVertexID
	SourceVertexID        ids.VertexID
	SourceOutputGateIndex int
	TargetGroupVertexID   ids.GroupVertexID
	TargetVertexID        ids.VertexID
	TargetInputGateIndex  int
}

// Report is the graph-facing content of a QosReport message: the report
// envelope's JobID lives one layer up, in the message package.
type Report struct {
	VertexLatencies     []VertexLatencySample
	EdgeLatencies       []EdgeLatencySample
	EdgeStatistics      []EdgeStatisticsSample
	VertexAnnouncements []VertexReporterAnnouncement
	EdgeAnnouncements   []EdgeReporterAnnouncement
}

// HasAnnouncements reports whether the report carries any reporter
// announcements, used by the model to decide whether a try-process pass is
// worthwhile.
func (r Report) HasAnnouncements() bool {
	return len(r.VertexAnnouncements) > 0 || len(r.EdgeAnnouncements) > 0
}
