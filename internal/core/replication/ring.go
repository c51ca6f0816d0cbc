package replication

import "github.com/zeusync/framesync/internal/core/snapshot"

// FrameRecord is one retained frame.
type FrameRecord struct {
	Index    uint64
	Snapshot *snapshot.Snapshot
}

// frameRing keeps the most recent frames in increasing index order and
// overwrites the oldest once full. Indices pushed must be strictly increasing.
type frameRing struct {
	records []FrameRecord
	head    int
	size    int
}

func newFrameRing(capacity int) *frameRing {
	return &frameRing{records: make([]FrameRecord, max(capacity, 1))}
}

func (r *frameRing) push(rec FrameRecord) {
	if r.size < len(r.records) {
		r.records[(r.head+r.size)%len(r.records)] = rec
		r.size++
		return
	}
	r.records[r.head] = rec
	r.head = (r.head + 1) % len(r.records)
}

func (r *frameRing) len() int { return r.size }

func (r *frameRing) oldest() (FrameRecord, bool) {
	if r.size == 0 {
		return FrameRecord{}, false
	}
	return r.records[r.head], true
}

func (r *frameRing) newest() (FrameRecord, bool) {
	if r.size == 0 {
		return FrameRecord{}, false
	}
	return r.records[(r.head+r.size-1)%len(r.records)], true
}

// at finds a retained frame by index arithmetic from the oldest record.
// Indices pushed through a Sender are contiguous; the Receiver's history may
// have gaps after a full frame, so a mismatch falls back to a scan.
func (r *frameRing) at(index uint64) (FrameRecord, bool) {
	oldest, ok := r.oldest()
	if !ok || index < oldest.Index {
		return FrameRecord{}, false
	}
	if off := index - oldest.Index; off < uint64(r.size) {
		if rec := r.records[(r.head+int(off))%len(r.records)]; rec.Index == index {
			return rec, true
		}
	}
	for i := 0; i < r.size; i++ {
		if rec := r.records[(r.head+i)%len(r.records)]; rec.Index == index {
			return rec, true
		}
	}
	return FrameRecord{}, false
}

func (r *frameRing) all() []FrameRecord {
	out := make([]FrameRecord, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.records[(r.head+i)%len(r.records)])
	}
	return out
}

func (r *frameRing) reset() {
	clear(r.records)
	r.head, r.size = 0, 0
}
