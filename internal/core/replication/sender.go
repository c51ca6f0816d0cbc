package replication

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/zeusync/framesync/internal/core/observability/log"
	"github.com/zeusync/framesync/internal/core/snapshot"
)

// ObserverID identifies a connected observer.
type ObserverID = uuid.UUID

// DeltaCodec computes and applies snapshot deltas.
type DeltaCodec interface {
	Compute(base, target *snapshot.Snapshot) []byte
	Apply(base *snapshot.Snapshot, delta []byte) (*snapshot.Snapshot, error)
}

// SenderConfig configures a Sender.
type SenderConfig struct {
	// History is the number of frames retained for delta bases.
	History int
}

type observerState struct {
	// acked is the highest frame the observer has acknowledged.
	acked uint64
	// reported is the most recent acknowledgement, which may be lower than
	// acked when acknowledgements arrive out of order.
	reported uint64
}

// Sender is the authoritative side of replication. It is not safe for
// concurrent use; one network goroutine owns it.
type Sender struct {
	codec     DeltaCodec
	frames    *frameRing
	frame     uint64
	observers map[ObserverID]*observerState
	logger    log.Log
}

func NewSender(cfg SenderConfig, codec DeltaCodec, logger log.Log) *Sender {
	if cfg.History <= 0 {
		cfg.History = DefaultHistory
	}
	return &Sender{
		codec:     codec,
		frames:    newFrameRing(cfg.History),
		observers: make(map[ObserverID]*observerState),
		logger:    log.OrProvide(logger).With(log.String("component", "replication_sender")),
	}
}

// AddFrame records snap as the next frame and returns its index. The first
// frame is 1.
func (s *Sender) AddFrame(snap *snapshot.Snapshot) uint64 {
	s.frame++
	s.frames.push(FrameRecord{Index: s.frame, Snapshot: snap})
	return s.frame
}

// CurrentFrame returns the newest frame index, 0 before any frame.
func (s *Sender) CurrentFrame() uint64 { return s.frame }

// OldestFrame returns the oldest retained frame index, or InvalidFrame.
func (s *Sender) OldestFrame() uint64 {
	rec, ok := s.frames.oldest()
	if !ok {
		return InvalidFrame
	}
	return rec.Index
}

// Frame returns a retained frame.
func (s *Sender) Frame(index uint64) (FrameRecord, bool) {
	return s.frames.at(index)
}

func (s *Sender) NotifyObserverConnected(id ObserverID) {
	if _, ok := s.observers[id]; ok {
		s.logger.Warn("observer connected twice, resetting its state", log.Stringer("observer", id))
	}
	s.observers[id] = &observerState{acked: InvalidFrame, reported: InvalidFrame}
	s.logger.Debug("observer connected", log.Stringer("observer", id))
}

// NotifyObserverDisconnected drops the observer's state. Disconnecting an
// observer that is not connected is fatal.
func (s *Sender) NotifyObserverDisconnected(id ObserverID) {
	if _, ok := s.observers[id]; !ok {
		s.logger.Panic("disconnect of unknown observer", log.Stringer("observer", id))
	}
	delete(s.observers, id)
	s.logger.Debug("observer disconnected", log.Stringer("observer", id))
}

// NotifyAcknowledgement records that the observer applied frame. A report
// that is not above the current acknowledgement is recorded but does not
// move it back.
func (s *Sender) NotifyAcknowledgement(id ObserverID, frame uint64) error {
	st, ok := s.observers[id]
	if !ok {
		return errors.Wrap(ErrUnknownObserver, id.String())
	}
	if frame == InvalidFrame || frame > s.frame {
		return errors.Wrapf(ErrInvalidFrameIndex, "ack %d, current frame %d", frame, s.frame)
	}

	st.reported = frame
	if st.acked == InvalidFrame || frame > st.acked {
		st.acked = frame
	}
	return nil
}

// NotifyResyncRequested forgets the observer's acknowledgement so the next
// transmission is a full frame.
func (s *Sender) NotifyResyncRequested(id ObserverID) error {
	st, ok := s.observers[id]
	if !ok {
		return errors.Wrap(ErrUnknownObserver, id.String())
	}
	st.acked = InvalidFrame
	st.reported = InvalidFrame
	return nil
}

// Acknowledged returns the observer's effective and most recently reported
// acknowledgements.
func (s *Sender) Acknowledged(id ObserverID) (acked, reported uint64, ok bool) {
	st, ok := s.observers[id]
	if !ok {
		return InvalidFrame, InvalidFrame, false
	}
	return st.acked, st.reported, true
}

// Observers returns the number of connected observers.
func (s *Sender) Observers() int { return len(s.observers) }

// BuildTransmission encodes the newest frame for the observer: a delta
// against its acknowledged frame while that frame is retained, a full frame
// otherwise.
func (s *Sender) BuildTransmission(id ObserverID) ([]byte, error) {
	st, ok := s.observers[id]
	if !ok {
		return nil, errors.Wrap(ErrUnknownObserver, id.String())
	}
	newest, ok := s.frames.newest()
	if !ok {
		return nil, ErrNoFrames
	}

	if st.acked != InvalidFrame {
		if base, ok := s.frames.at(st.acked); ok {
			return EncodeDelta(newest.Index, base.Index, s.codec.Compute(base.Snapshot, newest.Snapshot)), nil
		}
		s.logger.Debug("acknowledged frame evicted, sending full frame",
			log.Stringer("observer", id),
			log.Uint64("acked", st.acked),
			log.Uint64("oldest", s.OldestFrame()),
		)
	}

	return EncodeFull(newest.Index, newest.Snapshot), nil
}
