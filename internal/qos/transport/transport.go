// Package transport supplies the dispatcher's Sender boundary: the actual
// cross-worker RPC transport is an external collaborator, reached only
// through the Sender interface. GRPCSender is a concrete,
// genuinely-functioning adapter over a real *grpc.ClientConn for callers
// that want one; it uses a generic JSON codec via grpc's codec-subtype
// mechanism instead of code-generated protobuf stubs, since the wire schema
// here is advisory (outbound QoS messages are never required for
// correctness) and no .proto toolchain is available to this build.
package transport

import (
	"context"
	"encoding/json"

	"github.com/streamworks/qosmanager/internal/qos/message"
	"golang.org/x/xerrors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

const jsonCodecName = "qos-json"

// jsonCodec implements google.golang.org/grpc/encoding.Codec using
// encoding/json, letting Sender.Send use grpc.ClientConn.Invoke without a
// generated protobuf service definition.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// Sender is the dispatcher's transport boundary: send one envelope to the
// worker named by targetWorker. Implementations must not block
// indefinitely; ctx carries whatever deadline the caller wants enforced.
type Sender interface {
	Send(ctx context.Context, targetWorker string, env message.Envelope) error
}

// envelopeFrame is the wire frame used by GRPCSender: Kind lets an eventual
// receiver dispatch to the right Go type without relying on gRPC's own type
// registry, which JSON framing does not provide.
type envelopeFrame struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

const dispatchMethod = "/qos.Dispatch/Send"

// GRPCSender sends envelopes over an established gRPC connection to a
// single peer worker.
type GRPCSender struct {
	conn *grpc.ClientConn
}

// NewGRPCSender wraps an already-dialed connection to a peer worker.
func NewGRPCSender(conn *grpc.ClientConn) *GRPCSender {
	return &GRPCSender{conn: conn}
}

// Send marshals env as a JSON frame and invokes the peer's generic dispatch
// method. targetWorker is informational only here: one GRPCSender owns a
// single peer connection, chosen by the caller ahead of time. The dispatcher
// holds one Sender for every target, so a GRPCSender given to it delivers
// all messages to its one peer whatever targetWorker says.
func (s *GRPCSender) Send(ctx context.Context, targetWorker string, env message.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return xerrors.Errorf("encoding envelope for worker %q: %w", targetWorker, err)
	}
	frame := envelopeFrame{Kind: kindOf(env), Payload: payload}

	var reply envelopeFrame
	if err := s.conn.Invoke(ctx, dispatchMethod, &frame, &reply, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return xerrors.Errorf("dispatching to worker %q: %w", targetWorker, err)
	}
	return nil
}

func kindOf(env message.Envelope) string {
	switch env.(type) {
	case message.QosReport:
		return "QosReport"
	case message.DeployInstanceQosRolesAction:
		return "DeployInstanceQosRolesAction"
	case message.LimitBufferSizeAction:
		return "LimitBufferSizeAction"
	case message.ConstructStreamChainAction:
		return "ConstructStreamChainAction"
	case message.StreamChainAnnounce:
		return "StreamChainAnnounce"
	default:
		return "Unknown"
	}
}
