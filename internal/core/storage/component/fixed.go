package component

import (
	"encoding/binary"
	"unsafe"

	"github.com/pkg/errors"
)

// Fixed describes a plain-data type T whose payload is its little-endian
// encoding/binary form. Emplace accepts an optional T as initial value.
// A T without a fixed binary size yields a non-positive Size, which
// Register rejects.
func Fixed[T any](name string) TypeInfo {
	var zero T

	return TypeInfo{
		Name:  name,
		Size:  binary.Size(zero),
		Align: int(unsafe.Alignof(zero)),
		Construct: func(payload []byte, args ...any) error {
			if len(args) == 0 {
				return nil
			}
			v, ok := args[0].(T)
			if !ok {
				return errors.Wrapf(ErrConstruct, "%s from %T, want %T", name, args[0], zero)
			}
			if _, err := binary.Encode(payload, binary.LittleEndian, v); err != nil {
				return errors.Wrapf(ErrConstruct, "%s: %v", name, err)
			}
			return nil
		},
		Deserialize: func(payload, src []byte) error {
			var v T
			if _, err := binary.Decode(src, binary.LittleEndian, &v); err != nil {
				return errors.Wrapf(err, "decode %s", name)
			}
			copy(payload, src)
			return nil
		},
	}
}

// Get decodes a component payload as T.
func Get[T any](c Component) (T, error) {
	var v T
	if _, err := binary.Decode(c.Data, binary.LittleEndian, &v); err != nil {
		return v, errors.Wrapf(err, "decode %s", c.ID)
	}
	return v, nil
}

// Set encodes v into the component payload.
func Set[T any](c Component, v T) error {
	if _, err := binary.Encode(c.Data, binary.LittleEndian, v); err != nil {
		return errors.Wrapf(err, "encode %s", c.ID)
	}
	return nil
}
