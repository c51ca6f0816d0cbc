package snapshot

import (
	"io"

	"github.com/pkg/errors"

	"github.com/zeusync/framesync/internal/core/storage/component"
)

// Save writes the snapshot buffer as is; save files share the wire layout.
func Save(w io.Writer, s *Snapshot) error {
	if _, err := w.Write(s.buf); err != nil {
		return errors.Wrap(err, "write snapshot")
	}
	return nil
}

// Load reads a snapshot written by Save.
func Load(r io.Reader, reg *component.Registry) (*Snapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read snapshot")
	}
	return Deserialize(data, reg)
}
