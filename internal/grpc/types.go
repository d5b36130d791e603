package grpc

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"google.golang.org/protobuf/encoding/protowire"

	"hamsterball/coordinator/internal/command"
)

// CodecName is the content subtype both ends force on the session stream.
const CodecName = "coordinator-wire"

// ClientFrame travels from a client to the server. The first frame of a stream is a
// hello carrying the protocol version; every later frame is one command.
type ClientFrame struct {
	Hello           bool
	ProtocolVersion float64
	Kind            string
	PlayerID        string
	Vector          mgl64.Vec3
	Flag            bool
	Sequence        uint64
}

// FrameFromCommand wraps cmd for the wire.
func FrameFromCommand(cmd command.Command) *ClientFrame {
	return &ClientFrame{
		Kind:     string(cmd.Kind),
		PlayerID: cmd.PlayerID,
		Vector:   cmd.Vector,
		Flag:     cmd.Flag,
		Sequence: cmd.Sequence,
	}
}

// Command unwraps the frame.
func (f *ClientFrame) Command() command.Command {
	return command.Command{
		Kind:     command.Kind(f.Kind),
		PlayerID: f.PlayerID,
		Vector:   f.Vector,
		Flag:     f.Flag,
		Sequence: f.Sequence,
	}
}

// ServerFrame travels from the server to a client. The first frame is a welcome naming
// the assigned player; every later frame carries one compressed sync batch.
type ServerFrame struct {
	PlayerID        string
	Slot            int64
	ProtocolVersion float64
	Tick            uint64
	Encoding        string
	Payload         []byte
}

const (
	clientHello    protowire.Number = 1
	clientVersion  protowire.Number = 2
	clientKind     protowire.Number = 3
	clientPlayer   protowire.Number = 4
	clientVectorX  protowire.Number = 5
	clientVectorY  protowire.Number = 6
	clientVectorZ  protowire.Number = 7
	clientFlag     protowire.Number = 8
	clientSequence protowire.Number = 9

	serverPlayer   protowire.Number = 1
	serverSlot     protowire.Number = 2
	serverTick     protowire.Number = 3
	serverEncoding protowire.Number = 4
	serverPayload  protowire.Number = 5
	serverVersion  protowire.Number = 6
)

// Codec encodes frames with the protobuf wire format so non Go peers can speak the
// stream from a plain .proto description.
type Codec struct{}

// Name implements encoding.Codec.
func (Codec) Name() string { return CodecName }

// Marshal implements encoding.Codec.
func (Codec) Marshal(v any) ([]byte, error) {
	switch frame := v.(type) {
	case *ClientFrame:
		return frame.marshal(), nil
	case *ServerFrame:
		return frame.marshal(), nil
	default:
		return nil, fmt.Errorf("codec: cannot marshal %T", v)
	}
}

// Unmarshal implements encoding.Codec.
func (Codec) Unmarshal(data []byte, v any) error {
	switch frame := v.(type) {
	case *ClientFrame:
		*frame = ClientFrame{}
		return frame.unmarshal(data)
	case *ServerFrame:
		*frame = ServerFrame{}
		return frame.unmarshal(data)
	default:
		return fmt.Errorf("codec: cannot unmarshal into %T", v)
	}
}

func (f *ClientFrame) marshal() []byte {
	var b []byte
	if f.Hello {
		b = appendVarint(b, clientHello, 1)
		b = appendDouble(b, clientVersion, f.ProtocolVersion)
	}
	if f.Kind != "" {
		b = protowire.AppendTag(b, clientKind, protowire.BytesType)
		b = protowire.AppendString(b, f.Kind)
	}
	if f.PlayerID != "" {
		b = protowire.AppendTag(b, clientPlayer, protowire.BytesType)
		b = protowire.AppendString(b, f.PlayerID)
	}
	b = appendDouble(b, clientVectorX, f.Vector.X())
	b = appendDouble(b, clientVectorY, f.Vector.Y())
	b = appendDouble(b, clientVectorZ, f.Vector.Z())
	if f.Flag {
		b = appendVarint(b, clientFlag, 1)
	}
	if f.Sequence != 0 {
		b = appendVarint(b, clientSequence, f.Sequence)
	}
	return b
}

func (f *ClientFrame) unmarshal(b []byte) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == clientHello && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			f.Hello = v != 0
			return n, nil
		case num == clientVersion && typ == protowire.Fixed64Type:
			return consumeDouble(b, &f.ProtocolVersion)
		case num == clientKind && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			f.Kind = v
			return n, nil
		case num == clientPlayer && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			f.PlayerID = v
			return n, nil
		case num == clientVectorX && typ == protowire.Fixed64Type:
			return consumeDouble(b, &f.Vector[0])
		case num == clientVectorY && typ == protowire.Fixed64Type:
			return consumeDouble(b, &f.Vector[1])
		case num == clientVectorZ && typ == protowire.Fixed64Type:
			return consumeDouble(b, &f.Vector[2])
		case num == clientFlag && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			f.Flag = v != 0
			return n, nil
		case num == clientSequence && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			f.Sequence = v
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

func (f *ServerFrame) marshal() []byte {
	var b []byte
	if f.PlayerID != "" {
		b = protowire.AppendTag(b, serverPlayer, protowire.BytesType)
		b = protowire.AppendString(b, f.PlayerID)
		b = appendVarint(b, serverSlot, uint64(f.Slot))
		b = appendDouble(b, serverVersion, f.ProtocolVersion)
	}
	if f.Tick != 0 {
		b = appendVarint(b, serverTick, f.Tick)
	}
	if f.Encoding != "" {
		b = protowire.AppendTag(b, serverEncoding, protowire.BytesType)
		b = protowire.AppendString(b, f.Encoding)
	}
	if len(f.Payload) > 0 {
		b = protowire.AppendTag(b, serverPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Payload)
	}
	return b
}

func (f *ServerFrame) unmarshal(b []byte) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == serverPlayer && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			f.PlayerID = v
			return n, nil
		case num == serverSlot && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			f.Slot = int64(v)
			return n, nil
		case num == serverVersion && typ == protowire.Fixed64Type:
			return consumeDouble(b, &f.ProtocolVersion)
		case num == serverTick && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			f.Tick = v
			return n, nil
		case num == serverEncoding && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			f.Encoding = v
			return n, nil
		case num == serverPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			f.Payload = append([]byte(nil), v...)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

// walk iterates the fields of a message; field consumes one value and reports its size.
func walk(b []byte, field func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := field(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 && !math.Signbit(v) {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func consumeDouble(b []byte, target *float64) (int, error) {
	v, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return n, nil
	}
	*target = math.Float64frombits(v)
	return n, nil
}
