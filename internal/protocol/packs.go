package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/andybalholm/brotli"
	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/zlib"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxBatchDepth bounds how many compressed layers a batch may nest.
const maxBatchDepth = 8

// PackType tags the variants of a LogicalPack.
type PackType int

const (
	PackPopularity PackType = iota + 1
	PackCommand
	PackHeartbeatAck
)

func (t PackType) String() string {
	switch t {
	case PackPopularity:
		return "popularity"
	case PackCommand:
		return "command"
	case PackHeartbeatAck:
		return "heartbeat_ack"
	default:
		return "unknown"
	}
}

// LogicalPack is a decoded unit derived from a frame.
type LogicalPack interface {
	Type() PackType
}

// PopularityPack carries the current viewer count. The service overloads the
// heartbeat acknowledgement to deliver it.
type PopularityPack struct {
	Count uint32
}

// Type returns PackPopularity.
func (PopularityPack) Type() PackType { return PackPopularity }

// CommandPack carries one JSON command document.
type CommandPack struct {
	// Cmd is the "cmd" field of the document, empty if absent.
	Cmd string
	// Raw is the undecoded document.
	Raw []byte
	// Document is the parsed document.
	Document map[string]any
}

// Type returns PackCommand.
func (CommandPack) Type() PackType { return PackCommand }

// HeartbeatAckPack signals that the server acknowledged the session.
type HeartbeatAckPack struct{}

// Type returns PackHeartbeatAck.
func (HeartbeatAckPack) Type() PackType { return PackHeartbeatAck }

// ToLogicalPacks translates a frame into logical packs, flattening compressed
// batches in the order their frames appear. Operations the client does not act
// on yield no packs and no error.
//
// The returned packs are always usable: a non-nil error describes the frames
// that were skipped. A bad sub-frame is skipped on its own; only a sub-frame
// whose length prefix is unusable ends the batch.
func ToLogicalPacks(f Frame) ([]LogicalPack, error) {
	return toLogicalPacks(f, 0)
}

func toLogicalPacks(f Frame, depth int) ([]LogicalPack, error) {
	switch f.Version {
	case VersionPlain, VersionPopularityBinary:
		return plainPacks(f)
	case VersionZlibBatch, VersionBrotliBatch:
		if depth >= maxBatchDepth {
			return nil, newFrameError(ErrMalformed, nil, "batch nested deeper than %d", maxBatchDepth)
		}
		buf, err := decompress(f.Version, f.Payload)
		if err != nil {
			return nil, err
		}
		return batchPacks(buf, depth+1)
	default:
		return nil, nil
	}
}

func plainPacks(f Frame) ([]LogicalPack, error) {
	switch f.Operation {
	case OpHeartbeatAck:
		if len(f.Payload) < 4 {
			return nil, newFrameError(ErrTruncated, nil, "popularity needs 4 bytes, have %d", len(f.Payload))
		}
		return []LogicalPack{PopularityPack{Count: binary.BigEndian.Uint32(f.Payload[:4])}}, nil
	case OpCommand:
		pack, err := parseCommand(f.Payload)
		if err != nil {
			return nil, err
		}
		return []LogicalPack{pack}, nil
	case OpAuthAck:
		return []LogicalPack{HeartbeatAckPack{}}, nil
	default:
		return nil, nil
	}
}

func parseCommand(payload []byte) (CommandPack, error) {
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return CommandPack{}, newFrameError(ErrInvalidDocument, err, "")
	}

	raw := make([]byte, len(payload))
	copy(raw, payload)

	cmd, _ := doc["cmd"].(string)
	return CommandPack{Cmd: cmd, Raw: raw, Document: doc}, nil
}

func batchPacks(buf []byte, depth int) ([]LogicalPack, error) {
	var (
		packs   []LogicalPack
		skipped []error
	)
	for len(buf) > 0 {
		f, n, err := DecodeOne(buf)
		if err != nil {
			skipped = append(skipped, err)
			next, ok := nextBoundary(buf)
			if !ok {
				break
			}
			buf = buf[next:]
			continue
		}
		buf = buf[n:]

		inner, err := toLogicalPacks(f, depth)
		packs = append(packs, inner...)
		if err != nil {
			skipped = append(skipped, err)
		}
	}
	return packs, errors.Join(skipped...)
}

// nextBoundary returns the offset of the frame after a bad one, when its
// length prefix is still usable.
func nextBoundary(buf []byte) (int, bool) {
	total, err := FrameLength(buf)
	if err != nil || total < HeaderLength || uint64(total) > uint64(len(buf)) {
		return 0, false
	}
	return int(total), true
}

func decompress(v Version, payload []byte) ([]byte, error) {
	var r io.Reader
	switch v {
	case VersionZlibBatch:
		zr, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, newFrameError(ErrDecompressionFailed, err, "%s", v)
		}
		defer zr.Close()
		r = zr
	case VersionBrotliBatch:
		r = brotli.NewReader(bytes.NewReader(payload))
	default:
		return nil, newFrameError(ErrMalformed, nil, "%s is not a batch version", v)
	}

	out, err := io.ReadAll(io.LimitReader(r, MaxFrameSize+1))
	if err != nil {
		return nil, newFrameError(ErrDecompressionFailed, err, "%s", v)
	}
	if len(out) > MaxFrameSize {
		return nil, newFrameError(ErrDecompressionFailed, nil, "%s output exceeds %d bytes", v, MaxFrameSize)
	}
	return out, nil
}
