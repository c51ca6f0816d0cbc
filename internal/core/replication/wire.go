package replication

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/zeusync/framesync/internal/core/snapshot"
)

// Markers open every message on the wire.
const (
	FullFrameMarker  uint32 = 0x0F011FA3
	DeltaFrameMarker uint32 = 0xDE17AFA3
	AckMarker        uint32 = 0xACC0FA73
	ResyncMarker     uint32 = 0x5EC0FA73
)

const (
	// InvalidFrame means "no frame".
	InvalidFrame uint64 = math.MaxUint64
	// DefaultHistory is the number of frames a sender retains.
	DefaultHistory = 16

	markerSize      = 4
	fullHeaderSize  = markerSize + 8
	deltaHeaderSize = markerSize + 8 + 8
	ackSize         = markerSize + 8
)

// Kind identifies a decoded message.
type Kind uint8

const (
	KindFull Kind = iota + 1
	KindDelta
	KindAck
	KindResync
)

func (k Kind) String() string {
	switch k {
	case KindFull:
		return "full"
	case KindDelta:
		return "delta"
	case KindAck:
		return "ack"
	case KindResync:
		return "resync"
	default:
		return "unknown"
	}
}

// Message is a decoded transmission or control message. Payload aliases the
// input buffer.
type Message struct {
	Kind    Kind
	Frame   uint64
	Base    uint64
	Payload []byte
}

// EncodeFull builds a full-frame transmission.
func EncodeFull(frame uint64, snap *snapshot.Snapshot) []byte {
	out := make([]byte, 0, fullHeaderSize+snap.Len())
	out = binary.LittleEndian.AppendUint32(out, FullFrameMarker)
	out = binary.LittleEndian.AppendUint64(out, frame)
	return append(out, snap.Bytes()...)
}

// EncodeDelta builds a delta-frame transmission against base.
func EncodeDelta(frame, base uint64, delta []byte) []byte {
	out := make([]byte, 0, deltaHeaderSize+len(delta))
	out = binary.LittleEndian.AppendUint32(out, DeltaFrameMarker)
	out = binary.LittleEndian.AppendUint64(out, frame)
	out = binary.LittleEndian.AppendUint64(out, base)
	return append(out, delta...)
}

// EncodeAck builds the acknowledgement an observer returns for frame.
func EncodeAck(frame uint64) []byte {
	out := make([]byte, 0, ackSize)
	out = binary.LittleEndian.AppendUint32(out, AckMarker)
	return binary.LittleEndian.AppendUint64(out, frame)
}

// EncodeResync builds a request for the next transmission to be a full frame.
func EncodeResync() []byte {
	return binary.LittleEndian.AppendUint32(nil, ResyncMarker)
}

// Decode parses the header of any message.
func Decode(data []byte) (Message, error) {
	if len(data) < markerSize {
		return Message{}, errors.Wrap(snapshot.ErrDataTooShort, "marker")
	}

	marker := binary.LittleEndian.Uint32(data)
	switch marker {
	case FullFrameMarker:
		if len(data) < fullHeaderSize {
			return Message{}, errors.Wrap(snapshot.ErrDataTooShort, "full frame header")
		}
		return Message{
			Kind:    KindFull,
			Frame:   binary.LittleEndian.Uint64(data[4:]),
			Base:    InvalidFrame,
			Payload: data[fullHeaderSize:],
		}, nil
	case DeltaFrameMarker:
		if len(data) < deltaHeaderSize {
			return Message{}, errors.Wrap(snapshot.ErrDataTooShort, "delta frame header")
		}
		return Message{
			Kind:    KindDelta,
			Frame:   binary.LittleEndian.Uint64(data[4:]),
			Base:    binary.LittleEndian.Uint64(data[12:]),
			Payload: data[deltaHeaderSize:],
		}, nil
	case AckMarker:
		if len(data) < ackSize {
			return Message{}, errors.Wrap(snapshot.ErrDataTooShort, "acknowledgement")
		}
		return Message{Kind: KindAck, Frame: binary.LittleEndian.Uint64(data[4:]), Base: InvalidFrame}, nil
	case ResyncMarker:
		return Message{Kind: KindResync, Frame: InvalidFrame, Base: InvalidFrame}, nil
	default:
		return Message{}, errors.Wrapf(ErrUnknownMarker, "0x%08X", marker)
	}
}
