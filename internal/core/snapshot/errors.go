package snapshot

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/zeusync/framesync/internal/core/storage/component"
)

var (
	// ErrDataTooShort means a header or payload runs past the end of the buffer.
	ErrDataTooShort = errors.New("snapshot data too short")
	// ErrOutOfOrder means entity or component ids violate the canonical ordering,
	// or a component is referenced twice.
	ErrOutOfOrder = errors.New("snapshot id ordering violation")
	// ErrBadPayload means a component record does not decode as its registered type.
	ErrBadPayload = errors.New("component payload does not decode")
	// ErrMissingComponent means an entity lists a component its store does not hold.
	ErrMissingComponent = errors.New("component listed by entity is not in its store")
)

// UnrecognizedTypeError reports a type tag with no registered type or no store.
type UnrecognizedTypeError struct {
	Tag  component.TypeTag
	Name string
}

func (e *UnrecognizedTypeError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("unrecognized component type %s (%s)", e.Name, e.Tag)
	}
	return fmt.Sprintf("unrecognized component type %s", e.Tag)
}
