// Package delta encodes the difference between two snapshots as a list of
// copy and literal operations over the target buffer.
//
// Body layout (little-endian):
//
//	target length u32 | xxhash64(target) u64 | op count u32 | ops
//	copy    0x01 | base offset u32 | length u32
//	literal 0x02 | length u32 | bytes
//
// A target segment (entity block or component record) that is byte-identical
// to the same-keyed base segment becomes a copy; everything else is literal.
package delta

import (
	"bytes"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"github.com/zeusync/framesync/internal/core/snapshot"
	"github.com/zeusync/framesync/internal/core/storage/component"
	"github.com/zeusync/framesync/pkg/generic"
)

const (
	opCopy    byte = 0x01
	opLiteral byte = 0x02

	headerSize = 4 + 8 + 4
)

var (
	ErrChecksumMismatch = errors.New("delta checksum mismatch")
	ErrMalformed        = errors.New("malformed delta")
)

type segmentIndex = map[snapshot.SegmentKey]snapshot.Range

var indexPool = generic.NewPool(
	func() segmentIndex { return make(segmentIndex) },
	func(m segmentIndex) segmentIndex { clear(m); return m },
)

type op struct {
	kind   byte
	offset int // base offset for copies, target offset for literals
	length int
}

// Codec computes and applies deltas between snapshots of one registry.
type Codec struct {
	registry *component.Registry
}

func NewCodec(reg *component.Registry) *Codec {
	return &Codec{registry: reg}
}

// Compute returns the delta that turns base into target.
func (c *Codec) Compute(base, target *snapshot.Snapshot) []byte {
	baseIndex := indexPool.Get()
	defer indexPool.Put(baseIndex)
	for _, seg := range base.Segments() {
		baseIndex[seg.Key] = seg.Range
	}

	baseBuf, targetBuf := base.Bytes(), target.Bytes()
	var ops []op
	literalBytes := 0

	for _, seg := range target.Segments() {
		want := targetBuf[seg.Offset:seg.End()]
		r, found := baseIndex[seg.Key]
		if found && r.Length == seg.Length && bytes.Equal(baseBuf[r.Offset:r.End()], want) {
			if n := len(ops); n > 0 && ops[n-1].kind == opCopy && ops[n-1].offset+ops[n-1].length == r.Offset {
				ops[n-1].length += r.Length
			} else {
				ops = append(ops, op{kind: opCopy, offset: r.Offset, length: r.Length})
			}
			continue
		}

		literalBytes += seg.Length
		if n := len(ops); n > 0 && ops[n-1].kind == opLiteral {
			ops[n-1].length += seg.Length
		} else {
			ops = append(ops, op{kind: opLiteral, offset: seg.Offset, length: seg.Length})
		}
	}

	out := make([]byte, 0, headerSize+len(ops)*9+literalBytes)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(targetBuf)))
	out = binary.LittleEndian.AppendUint64(out, xxhash.Sum64(targetBuf))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(ops)))
	for _, o := range ops {
		out = append(out, o.kind)
		switch o.kind {
		case opCopy:
			out = binary.LittleEndian.AppendUint32(out, uint32(o.offset))
			out = binary.LittleEndian.AppendUint32(out, uint32(o.length))
		case opLiteral:
			out = binary.LittleEndian.AppendUint32(out, uint32(o.length))
			out = append(out, targetBuf[o.offset:o.offset+o.length]...)
		}
	}
	return out
}

// Apply rebuilds the target snapshot from base and a delta produced by
// Compute. base is not modified.
func (c *Codec) Apply(base *snapshot.Snapshot, delta []byte) (*snapshot.Snapshot, error) {
	if len(delta) < headerSize {
		return nil, errors.Wrap(snapshot.ErrDataTooShort, "delta header")
	}
	targetLen := int(binary.LittleEndian.Uint32(delta[0:]))
	checksum := binary.LittleEndian.Uint64(delta[4:])
	count := int(binary.LittleEndian.Uint32(delta[12:]))
	rest := delta[headerSize:]

	baseBuf := base.Bytes()
	out := make([]byte, 0, min(targetLen, len(baseBuf)+len(delta)))

	for i := 0; i < count; i++ {
		if len(rest) < 1 {
			return nil, errors.Wrapf(snapshot.ErrDataTooShort, "delta op %d", i)
		}
		kind := rest[0]
		rest = rest[1:]

		switch kind {
		case opCopy:
			if len(rest) < 8 {
				return nil, errors.Wrapf(snapshot.ErrDataTooShort, "delta copy %d", i)
			}
			off := int(binary.LittleEndian.Uint32(rest[0:]))
			n := int(binary.LittleEndian.Uint32(rest[4:]))
			rest = rest[8:]
			if off+n > len(baseBuf) {
				return nil, errors.Wrapf(snapshot.ErrDataTooShort, "delta copy %d reads past base (%d+%d > %d)", i, off, n, len(baseBuf))
			}
			if len(out)+n > targetLen {
				return nil, errors.Wrapf(ErrMalformed, "delta copy %d overruns target", i)
			}
			out = append(out, baseBuf[off:off+n]...)
		case opLiteral:
			if len(rest) < 4 {
				return nil, errors.Wrapf(snapshot.ErrDataTooShort, "delta literal %d", i)
			}
			n := int(binary.LittleEndian.Uint32(rest))
			rest = rest[4:]
			if len(rest) < n {
				return nil, errors.Wrapf(snapshot.ErrDataTooShort, "delta literal %d", i)
			}
			if len(out)+n > targetLen {
				return nil, errors.Wrapf(ErrMalformed, "delta literal %d overruns target", i)
			}
			out = append(out, rest[:n]...)
			rest = rest[n:]
		default:
			return nil, errors.Wrapf(ErrMalformed, "unknown delta op 0x%02x", kind)
		}
	}

	if len(rest) != 0 {
		return nil, errors.Wrapf(ErrMalformed, "%d trailing bytes", len(rest))
	}
	if len(out) != targetLen {
		return nil, errors.Wrapf(ErrMalformed, "target is %d bytes, want %d", len(out), targetLen)
	}
	if xxhash.Sum64(out) != checksum {
		return nil, ErrChecksumMismatch
	}

	return snapshot.Deserialize(out, c.registry)
}
