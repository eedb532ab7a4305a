package protocol

import (
	"encoding/binary"
	"fmt"
)

const (
	// HeaderLength is the fixed size of a frame header in bytes.
	HeaderLength = 16

	// MaxFrameSize bounds a single frame and the output of one decompression.
	MaxFrameSize = 10 * 1024 * 1024 // 10MB
)

// Version is the protocol version field of a frame header. It doubles as the
// payload encoding tag.
type Version uint16

const (
	VersionPlain            Version = 0 // UTF-8 JSON payload
	VersionPopularityBinary Version = 1 // 4-byte big-endian count
	VersionZlibBatch        Version = 2 // zlib-compressed frames
	VersionBrotliBatch      Version = 3 // brotli-compressed frames
)

// String returns the metrics label of v.
func (v Version) String() string {
	switch v {
	case VersionPlain:
		return "plain"
	case VersionPopularityBinary:
		return "popularity"
	case VersionZlibBatch:
		return "zlib"
	case VersionBrotliBatch:
		return "brotli"
	default:
		return fmt.Sprintf("version(%d)", uint16(v))
	}
}

// Operation is the operation field of a frame header.
type Operation uint32

const (
	OpHeartbeat    Operation = 2 // client heartbeat
	OpHeartbeatAck Operation = 3 // server heartbeat, carries popularity
	OpCommand      Operation = 5 // command documents
	OpAuth         Operation = 7 // client auth handshake
	OpAuthAck      Operation = 8 // server auth reply
)

// String returns a readable name of o.
func (o Operation) String() string {
	switch o {
	case OpHeartbeat:
		return "heartbeat"
	case OpHeartbeatAck:
		return "heartbeat_ack"
	case OpCommand:
		return "command"
	case OpAuth:
		return "auth"
	case OpAuthAck:
		return "auth_ack"
	default:
		return fmt.Sprintf("op(%d)", uint32(o))
	}
}

// Frame is one length-prefixed unit on the wire.
//
// Layout (big-endian):
//
//	[4 bytes: total length][2 bytes: header length][2 bytes: version]
//	[4 bytes: operation][4 bytes: sequence id][N bytes: payload]
type Frame struct {
	TotalLength  uint32
	HeaderLength uint16
	Version      Version
	Operation    Operation
	Sequence     uint32
	// Payload references the decoded buffer - do not modify it.
	Payload []byte
}

// Encode builds a plain frame for the given operation and payload text.
// Outbound traffic (auth and heartbeat) is never compressed.
func Encode(op Operation, sequence uint32, payload string) []byte {
	total := HeaderLength + len(payload)

	out := make([]byte, total)
	binary.BigEndian.PutUint32(out[0:4], uint32(total))
	binary.BigEndian.PutUint16(out[4:6], HeaderLength)
	binary.BigEndian.PutUint16(out[6:8], uint16(VersionPlain))
	binary.BigEndian.PutUint32(out[8:12], uint32(op))
	binary.BigEndian.PutUint32(out[12:16], sequence)
	copy(out[HeaderLength:], payload)
	return out
}

// FrameLength reads the declared total length from the first 4 bytes of a header.
func FrameLength(header []byte) (uint32, error) {
	if len(header) < 4 {
		return 0, newFrameError(ErrTruncated, nil, "need 4 length bytes, have %d", len(header))
	}
	return binary.BigEndian.Uint32(header[:4]), nil
}

// DecodeOne decodes the frame at the start of data and returns it together with
// the number of bytes it occupies. The payload slice references data.
func DecodeOne(data []byte) (Frame, int, error) {
	if len(data) < HeaderLength {
		return Frame{}, 0, newFrameError(ErrTruncated, nil, "header needs %d bytes, have %d", HeaderLength, len(data))
	}

	f := Frame{
		TotalLength:  binary.BigEndian.Uint32(data[0:4]),
		HeaderLength: binary.BigEndian.Uint16(data[4:6]),
		Version:      Version(binary.BigEndian.Uint16(data[6:8])),
		Operation:    Operation(binary.BigEndian.Uint32(data[8:12])),
		Sequence:     binary.BigEndian.Uint32(data[12:16]),
	}

	if f.HeaderLength < HeaderLength || uint32(f.HeaderLength) > f.TotalLength {
		return Frame{}, 0, newFrameError(ErrMalformed, nil, "header length %d, total length %d", f.HeaderLength, f.TotalLength)
	}
	if f.TotalLength > MaxFrameSize {
		return Frame{}, 0, newFrameError(ErrMalformed, nil, "total length %d exceeds maximum %d bytes", f.TotalLength, MaxFrameSize)
	}
	if uint64(len(data)) < uint64(f.TotalLength) {
		return Frame{}, 0, newFrameError(ErrTruncated, nil, "declared %d bytes, have %d", f.TotalLength, len(data))
	}

	f.Payload = data[f.HeaderLength:f.TotalLength]
	return f, int(f.TotalLength), nil
}

// DecodeAll decodes back-to-back frames until data is exhausted. On error it
// returns the frames decoded before the offending bytes.
func DecodeAll(data []byte) ([]Frame, error) {
	var frames []Frame
	for len(data) > 0 {
		f, n, err := DecodeOne(data)
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
		data = data[n:]
	}
	return frames, nil
}
