// Package message defines the wire messages consumed and produced by the
// QoS subsystem's sendData boundary. They are plain Go structs rather than
// code-generated protobuf types: the wire codec and the cross-worker RPC
// transport are both external collaborators of this subsystem, and no
// .proto toolchain is available here to generate real message types
// without fabricating them.
package message

import (
	"github.com/streamworks/qosmanager/internal/qos/graph"
	"github.com/streamworks/qosmanager/internal/qos/ids"
)

// Envelope is implemented by every message dispatched through sendData; JobID
// is the sole field dispatch is keyed on.
type Envelope interface {
	JobID() ids.JobID
}

// QosReport bundles one forwarder's batch of samples and reporter
// announcements for delivery to the elected QoS manager.
type QosReport struct {
	Job     ids.JobID
	Content graph.Report
}

func (m QosReport) JobID() ids.JobID { return m.Job }

// QosManagerAssignment names the worker elected as QoS manager for a job and
// carries the shallow graph fragment and constraint set it should seed its
// model with.
type QosManagerAssignment struct {
	ManagerWorker string
	ShallowGraph  graph.ShallowGraphFragment
	Constraints   []graph.Constraint
}

// VertexQosReporterConfig names a member/gate-combination reporter that a
// forwarder should start tagging samples for.
type VertexQosReporterConfig struct {
	GroupVertexID   ids.GroupVertexID
	VertexID        ids.VertexID
	InputGateIndex  *int
	OutputGateIndex *int
}

// EdgeQosReporterConfig names an edge reporter that a forwarder should start
// tagging samples for.
type EdgeQosReporterConfig struct {
	SourceChannelID       ids.ChannelID
	SourceGroupVertexID   ids.GroupVertexID
	SourceVertexID        ids.VertexID
	SourceOutputGateIndex int
	TargetGroupVertexID   ids.GroupVertexID
	TargetVertexID        ids.VertexID
	TargetInputGateIndex  int
}

// DeployInstanceQosRolesAction reconfigures a per-job environment: which
// reporters to activate, at what intervals, and (optionally) which worker
// is now the elected QoS manager.
type DeployInstanceQosRolesAction struct {
	Job                 ids.JobID
	ManagerAssignment   *QosManagerAssignment
	VertexQosReporters  []VertexQosReporterConfig
	EdgeQosReporters    []EdgeQosReporterConfig
	AggregationInterval int64 // millis
	TaggingInterval     int   // records
}

func (m DeployInstanceQosRolesAction) JobID() ids.JobID { return m.Job }

// LimitBufferSizeAction instructs the worker hosting targetVertexID to
// shrink the output buffer feeding sourceChannelID.
type LimitBufferSizeAction struct {
	Job             ids.JobID
	TargetVertexID  ids.VertexID
	SourceChannelID ids.ChannelID
	BufferSizeBytes int64
}

func (m LimitBufferSizeAction) JobID() ids.JobID { return m.Job }

// ConstructStreamChainAction requests that the worker hosting chainBegin
// construct a stream chain up to chainEnd. The task-manager plugin treats
// this as a no-op on receipt: chains are only actually announced in-band
// via StreamChainAnnounce.
type ConstructStreamChainAction struct {
	Job              ids.JobID
	ChainBeginVertex ids.VertexID
	ChainEndVertex   ids.VertexID
}

func (m ConstructStreamChainAction) JobID() ids.JobID { return m.Job }

// StreamChainAnnounce notifies the QoS manager's graph that chainBegin
// through chainEnd has been chained by the runtime and should be marked
// in-chain.
type StreamChainAnnounce struct {
	Job        ids.JobID
	ChainBegin ids.VertexID
	ChainEnd   ids.VertexID
}

func (m StreamChainAnnounce) JobID() ids.JobID { return m.Job }
