package replication

import (
	"github.com/pkg/errors"

	"github.com/zeusync/framesync/internal/core/observability/log"
	"github.com/zeusync/framesync/internal/core/snapshot"
	"github.com/zeusync/framesync/internal/core/storage/component"
)

// StateSink is handed every snapshot the receiver applies.
type StateSink func(frame uint64, snap *snapshot.Snapshot)

// ReceiverConfig configures a Receiver.
type ReceiverConfig struct {
	// History is the number of applied frames kept for inspection.
	History int
	Sink    StateSink
}

// Receiver is the observer side of replication. It is not safe for
// concurrent use.
type Receiver struct {
	registry *component.Registry
	codec    DeltaCodec
	sink     StateSink
	hwm      uint64
	current  *snapshot.Snapshot
	history  *frameRing
	logger   log.Log
}

func NewReceiver(reg *component.Registry, codec DeltaCodec, cfg ReceiverConfig, logger log.Log) *Receiver {
	if cfg.History <= 0 {
		cfg.History = DefaultHistory
	}
	return &Receiver{
		registry: reg,
		codec:    codec,
		sink:     cfg.Sink,
		hwm:      InvalidFrame,
		history:  newFrameRing(cfg.History),
		logger:   log.OrProvide(logger).With(log.String("component", "replication_receiver")),
	}
}

// ReceiveTransmission decodes and applies one transmission and returns the
// applied frame index. On error the receiver's state is unchanged.
func (r *Receiver) ReceiveTransmission(data []byte) (uint64, error) {
	msg, err := Decode(data)
	if err != nil {
		return InvalidFrame, err
	}
	if msg.Kind != KindFull && msg.Kind != KindDelta {
		return InvalidFrame, errors.Wrap(ErrUnexpectedMessage, msg.Kind.String())
	}
	if msg.Frame == InvalidFrame {
		return InvalidFrame, ErrInvalidFrameIndex
	}
	if r.hwm != InvalidFrame && msg.Frame <= r.hwm {
		return InvalidFrame, errors.Wrapf(ErrStaleOrDuplicateFrame, "frame %d, high-water mark %d", msg.Frame, r.hwm)
	}

	var next *snapshot.Snapshot
	if msg.Kind == KindFull {
		next, err = snapshot.Deserialize(msg.Payload, r.registry)
	} else {
		if r.hwm == InvalidFrame || msg.Base != r.hwm {
			return InvalidFrame, errors.Wrapf(snapshot.ErrOutOfOrder, "delta base %d, high-water mark %d", msg.Base, r.hwm)
		}
		next, err = r.codec.Apply(r.current, msg.Payload)
	}
	if err != nil {
		return InvalidFrame, errors.Wrapf(err, "%s frame %d", msg.Kind, msg.Frame)
	}

	r.hwm = msg.Frame
	r.current = next
	r.history.push(FrameRecord{Index: msg.Frame, Snapshot: next})
	if r.sink != nil {
		r.sink(msg.Frame, next)
	}
	return msg.Frame, nil
}

// HighWaterMark returns the highest applied frame, or InvalidFrame.
func (r *Receiver) HighWaterMark() uint64 { return r.hwm }

// Snapshot returns the current state, nil before the first frame.
func (r *Receiver) Snapshot() *snapshot.Snapshot { return r.current }

// Acknowledgement encodes the ack for the high-water mark. It reports false
// before any frame was applied.
func (r *Receiver) Acknowledgement() ([]byte, bool) {
	if r.hwm == InvalidFrame {
		return nil, false
	}
	return EncodeAck(r.hwm), true
}

// History returns the retained applied frames, oldest first.
func (r *Receiver) History() []FrameRecord { return r.history.all() }

// Reset forgets all state, e.g. after reconnecting to a restarted authority
// whose frame indices start over.
func (r *Receiver) Reset() {
	r.hwm = InvalidFrame
	r.current = nil
	r.history.reset()
}
