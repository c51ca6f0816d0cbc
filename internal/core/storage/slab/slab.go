// Package slab provides a fixed-size slot allocator backed by blocks of 64
// slots. Each block tracks its free slots in a single 64-bit vacancy mask.
package slab

import (
	"iter"
	"math/bits"
	"sync"
	"unsafe"

	"github.com/zeusync/framesync/internal/core/observability/log"
)

// SlotsPerBlock is the number of slots in every block; one bit of the vacancy mask per slot.
const SlotsPerBlock = 64

const allVacant = ^uint64(0)

// Ref addresses one slot: the owning block serial in the high bits, the slot
// index in the low six. The zero Ref is never handed out.
type Ref uint64

func makeRef(serial uint32, slot int) Ref {
	return Ref(uint64(serial)<<6 | uint64(slot))
}

func (r Ref) serial() uint32 { return uint32(r >> 6) }
func (r Ref) slot() int      { return int(r & (SlotsPerBlock - 1)) }

// Valid reports whether r could have been returned by Alloc.
func (r Ref) Valid() bool { return r.serial() != 0 }

type block struct {
	serial  uint32
	mem     []byte
	base    int
	vacancy uint64 // bit set = slot free
}

// Allocator hands out equally sized, equally aligned slots.
type Allocator struct {
	mu         sync.Mutex
	size       int
	align      int
	stride     int
	blocks     []*block
	position   map[uint32]int // block serial -> index in blocks
	nextSerial uint32
	live       int
	logger     log.Log
}

// New creates an allocator for elements of elementSize bytes aligned to
// alignment, which must be a power of two.
func New(elementSize, alignment int, logger log.Log) *Allocator {
	logger = log.OrProvide(logger).With(log.String("component", "slab"))
	if elementSize <= 0 {
		logger.Panic("element size must be positive", log.Int("size", elementSize))
	}
	if alignment <= 0 || alignment&(alignment-1) != 0 {
		logger.Panic("alignment must be a power of two", log.Int("alignment", alignment))
	}

	return &Allocator{
		size:       elementSize,
		align:      alignment,
		stride:     (elementSize + alignment - 1) &^ (alignment - 1),
		position:   make(map[uint32]int),
		nextSerial: 1,
		logger:     logger,
	}
}

// ElementSize returns the usable size of every slot.
func (a *Allocator) ElementSize() int { return a.size }

// Alignment returns the configured slot alignment.
func (a *Allocator) Alignment() int { return a.align }

// Alloc returns a free slot, adding a block when the newest one is full.
// The slot's bytes are zeroed.
func (a *Allocator) Alloc() Ref {
	a.mu.Lock()
	defer a.mu.Unlock()

	var b *block
	if n := len(a.blocks); n > 0 && a.blocks[n-1].vacancy != 0 {
		b = a.blocks[n-1]
	} else {
		b = a.addBlock()
	}

	slot := bits.TrailingZeros64(b.vacancy)
	b.vacancy &^= 1 << uint(slot)
	a.live++

	mem := a.slotBytes(b, slot)
	clear(mem)
	return makeRef(b.serial, slot)
}

// Free returns the slot to its block. Freeing a slot twice, or a Ref this
// allocator never produced, is fatal.
func (a *Allocator) Free(ref Ref) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pos, ok := a.position[ref.serial()]
	if !ok {
		a.logger.Panic("free of a slot outside any live block", log.Uint64("ref", uint64(ref)))
	}

	b := a.blocks[pos]
	bit := uint64(1) << uint(ref.slot())
	if b.vacancy&bit != 0 {
		a.logger.Panic("double free", log.Uint64("ref", uint64(ref)), log.Uint32("block", b.serial))
	}

	b.vacancy |= bit
	a.live--

	if b.vacancy == allVacant {
		a.releaseBlock(pos)
	}
}

// Bytes returns the slot's memory. The slice aliases allocator memory and
// stays valid until the slot is freed.
func (a *Allocator) Bytes(ref Ref) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	pos, ok := a.position[ref.serial()]
	if !ok {
		a.logger.Panic("access to a slot outside any live block", log.Uint64("ref", uint64(ref)))
	}
	b := a.blocks[pos]
	if b.vacancy&(uint64(1)<<uint(ref.slot())) != 0 {
		a.logger.Panic("access to a free slot", log.Uint64("ref", uint64(ref)))
	}
	return a.slotBytes(b, ref.slot())
}

// Len returns the number of outstanding allocations.
func (a *Allocator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live
}

// NumBlocks returns the number of blocks currently held.
func (a *Allocator) NumBlocks() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.blocks)
}

// All yields every occupied slot. The set of slots is taken when iteration
// starts, so the caller may free slots while iterating.
func (a *Allocator) All() iter.Seq2[Ref, []byte] {
	return func(yield func(Ref, []byte) bool) {
		type occupied struct {
			ref Ref
			mem []byte
		}

		a.mu.Lock()
		slots := make([]occupied, 0, a.live)
		for _, b := range a.blocks {
			used := ^b.vacancy
			for used != 0 {
				slot := bits.TrailingZeros64(used)
				used &= used - 1
				slots = append(slots, occupied{ref: makeRef(b.serial, slot), mem: a.slotBytes(b, slot)})
			}
		}
		a.mu.Unlock()

		for _, s := range slots {
			if !yield(s.ref, s.mem) {
				return
			}
		}
	}
}

// Close checks that nothing is still allocated. Outstanding slots mean a
// leaked component and are fatal.
func (a *Allocator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.live != 0 {
		a.logger.Panic("allocator closed with live slots", log.Int("live", a.live), log.Int("blocks", len(a.blocks)))
	}
	a.blocks = nil
	clear(a.position)
}

func (a *Allocator) addBlock() *block {
	mem := make([]byte, a.stride*SlotsPerBlock+a.align-1)
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(mem)))
	base := int((uintptr(a.align) - addr%uintptr(a.align)) % uintptr(a.align))

	b := &block{
		serial:  a.nextSerial,
		mem:     mem,
		base:    base,
		vacancy: allVacant,
	}
	a.advanceSerial()

	a.position[b.serial] = len(a.blocks)
	a.blocks = append(a.blocks, b)

	a.logger.Debug("block added", log.Uint32("block", b.serial), log.Int("blocks", len(a.blocks)))
	return b
}

func (a *Allocator) advanceSerial() {
	for {
		a.nextSerial++
		if a.nextSerial == 0 {
			a.nextSerial = 1
		}
		if _, used := a.position[a.nextSerial]; !used {
			return
		}
	}
}

// releaseBlock drops the block at pos by swapping the last block into its place.
func (a *Allocator) releaseBlock(pos int) {
	b := a.blocks[pos]
	last := len(a.blocks) - 1
	if pos != last {
		moved := a.blocks[last]
		a.blocks[pos] = moved
		a.position[moved.serial] = pos
	}
	a.blocks[last] = nil
	a.blocks = a.blocks[:last]
	delete(a.position, b.serial)

	a.logger.Debug("block released", log.Uint32("block", b.serial), log.Int("blocks", len(a.blocks)))
}

func (a *Allocator) slotBytes(b *block, slot int) []byte {
	off := b.base + slot*a.stride
	return b.mem[off : off+a.size : off+a.size]
}
