package replication

import (
	"github.com/pkg/errors"

	"github.com/zeusync/framesync/internal/core/snapshot"
)

var (
	// ErrStaleOrDuplicateFrame means the frame index is not above the
	// receiver's high-water mark.
	ErrStaleOrDuplicateFrame = errors.New("stale or duplicate frame")
	ErrUnknownMarker         = errors.New("unknown message marker")
	ErrUnexpectedMessage     = errors.New("unexpected message kind")
	ErrInvalidFrameIndex     = errors.New("invalid frame index")
	ErrNoFrames              = errors.New("no frame has been added")
	ErrUnknownObserver       = errors.New("unknown observer")
)

// Status is the tagged outcome of decoding or applying a transmission.
type Status uint8

const (
	StatusSuccess Status = iota
	StatusDataTooShort
	StatusUnrecognizedComponentType
	StatusOutOfOrder
	StatusStaleOrDuplicateFrame
	StatusMalformed
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusDataTooShort:
		return "data too short"
	case StatusUnrecognizedComponentType:
		return "unrecognized component type"
	case StatusOutOfOrder:
		return "out of order"
	case StatusStaleOrDuplicateFrame:
		return "stale or duplicate frame"
	default:
		return "malformed"
	}
}

// StatusOf classifies err. Anything not recognised is StatusMalformed.
func StatusOf(err error) Status {
	var unrecognized *snapshot.UnrecognizedTypeError
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, snapshot.ErrDataTooShort):
		return StatusDataTooShort
	case errors.As(err, &unrecognized):
		return StatusUnrecognizedComponentType
	case errors.Is(err, snapshot.ErrOutOfOrder):
		return StatusOutOfOrder
	case errors.Is(err, ErrStaleOrDuplicateFrame):
		return StatusStaleOrDuplicateFrame
	default:
		return StatusMalformed
	}
}

// RequiresResync reports whether an observer should ask for a full frame
// after a transmission failed with err. Stale frames are harmless duplicates.
func RequiresResync(err error) bool {
	return err != nil && StatusOf(err) != StatusStaleOrDuplicateFrame
}
