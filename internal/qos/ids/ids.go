// Package ids defines the opaque, fixed-width identifier types shared by the
// QoS graph, the report/action messages and the per-job environment. Every
// identifier is backed by a uuid.UUID: 16 bytes, comparable and hashable,
// which is all the data model requires of them.
package ids

import "github.com/google/uuid"

// JobID identifies a streaming job.
type JobID uuid.UUID

// GroupVertexID identifies a logical operator (group vertex).
type GroupVertexID uuid.UUID

// VertexID identifies one parallel instance of a group vertex.
type VertexID uuid.UUID

// GateID identifies an input or output gate on a member vertex.
type GateID uuid.UUID

// ChannelID identifies the source side of a directed edge.
type ChannelID uuid.UUID

// ConstraintID identifies a latency constraint over a sequence.
type ConstraintID uuid.UUID

// New allocates a fresh random, untyped UUID; convert it to the identifier
// type needed, or use the typed constructors below. Production identifiers
// are handed down by the host engine.
func New() uuid.UUID { return uuid.New() }

func (id JobID) String() string         { return uuid.UUID(id).String() }
func (id GroupVertexID) String() string { return uuid.UUID(id).String() }
func (id VertexID) String() string      { return uuid.UUID(id).String() }
func (id GateID) String() string        { return uuid.UUID(id).String() }
func (id ChannelID) String() string     { return uuid.UUID(id).String() }
func (id ConstraintID) String() string  { return uuid.UUID(id).String() }

// Nil reports whether id is the zero-value UUID, the value of a GateID that
// has not been assigned.
func (id GateID) Nil() bool { return id == GateID{} }

// NewGateID allocates a fresh GateID, used when the graph lazily creates a
// gate on first reporter announcement.
func NewGateID() GateID { return GateID(uuid.New()) }

// NewJobID, NewGroupVertexID, NewVertexID, NewChannelID and NewConstraintID
// are convenience constructors used by producers (tests, the host engine
// adapter) that need to mint fresh identifiers.
func NewJobID() JobID                 { return JobID(uuid.New()) }
func NewGroupVertexID() GroupVertexID { return GroupVertexID(uuid.New()) }
func NewVertexID() VertexID           { return VertexID(uuid.New()) }
func NewChannelID() ChannelID         { return ChannelID(uuid.New()) }
func NewConstraintID() ConstraintID   { return ConstraintID(uuid.New()) }
