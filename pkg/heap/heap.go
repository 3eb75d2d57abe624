// Package heap implements the program heap: a byte-addressable array of
// 16-bit opcode/operand words (code) plus a side table mapping allocation
// handles to (offset, info) pairs, with mark-compact compaction that
// reclaims freed regions.
package heap

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/templatevm/core/pkg/chunked"
)

// State is the allocation state of a handle's table entry.
type State uint8

const (
	Allocated State = iota
	Freed
	Purged
	Pointer
)

func (s State) String() string {
	switch s {
	case Allocated:
		return "Allocated"
	case Freed:
		return "Freed"
	case Purged:
		return "Purged"
	case Pointer:
		return "Pointer"
	default:
		return "Unknown"
	}
}

// ErrInvalidHandle is wrapped with the offending handle id when FreeHandle
// addresses a handle that was never allocated or already purged.
var ErrInvalidHandle = errors.New("heap: invalid handle")

// ErrHeapCorruption is wrapped whenever compaction observes a table entry
// whose state byte doesn't decode to one of the four known states.
var ErrHeapCorruption = errors.New("heap: corrupt table entry")

const (
	sizeBits      = 16
	scopeSizeBits = 14
	sizeMask      = uint32(1)<<sizeBits - 1
	scopeSizeMask = uint32(1)<<scopeSizeBits - 1
	scopeShift    = sizeBits
	stateShift    = sizeBits + scopeSizeBits
)

func encodeInfo(size, scopeSize uint16, state State) uint32 {
	return uint32(size)&sizeMask | (uint32(scopeSize)&scopeSizeMask)<<scopeShift | uint32(state)<<stateShift
}

func decodeInfo(info uint32) (size, scopeSize uint16, state State) {
	size = uint16(info & sizeMask)
	scopeSize = uint16((info >> scopeShift) & scopeSizeMask)
	state = State(info >> stateShift)
	return
}

// placeholderWord is the sentinel value written by PushPlaceholder, later
// overwritten once the real jump target or handle address is known.
const placeholderWord = 0xFFFF

// Heap is the program heap. The zero value is not usable; use New.
type Heap struct {
	code       []uint16
	table      *chunked.List[uint32] // two words per handle: table[h]=offset, table[h+1]=info
	nextHandle uint32
	log        *zap.Logger
}

// Option configures a Heap at construction time.
type Option func(*Heap)

// WithLogger attaches a structured logger; the default is a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(h *Heap) { h.log = log }
}

// New returns an empty program heap.
func New(opts ...Option) *Heap {
	h := &Heap{
		table: chunked.New[uint32](),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Push appends word to the code array.
func (h *Heap) Push(word uint16) {
	h.code = append(h.code, word)
}

// PushPlaceholder writes the 0xFFFF sentinel at the current offset and
// returns that address so the caller can patch it in later.
func (h *Heap) PushPlaceholder() int32 {
	addr := int32(len(h.code))
	h.Push(placeholderWord)
	return addr
}

// MallocHandle allocates a fresh, even handle id recording the current code
// offset as its start. FinishMalloc must be called once the corresponding
// code region has been fully written.
func (h *Heap) MallocHandle() uint32 {
	handle := h.nextHandle
	h.nextHandle += 2
	h.table.Set(int(handle), uint32(len(h.code)))
	h.table.Set(int(handle)+1, encodeInfo(0, 0, Allocated))
	return handle
}

// FinishMalloc records the final size of handle's region: the difference
// between the current code offset and the offset recorded at MallocHandle.
func (h *Heap) FinishMalloc(handle uint32, scopeSize uint16) {
	offset, _ := h.table.Get(int(handle))
	size := uint16(uint32(len(h.code)) - offset)
	h.table.Set(int(handle)+1, encodeInfo(size, scopeSize, Allocated))
}

// GetHandle allocates a "pointer" handle that aliases an existing code
// address without owning a fresh region.
func (h *Heap) GetHandle(addr int32) uint32 {
	handle := h.nextHandle
	h.nextHandle += 2
	h.table.Set(int(handle), uint32(addr))
	h.table.Set(int(handle)+1, encodeInfo(0, 0, Pointer))
	return handle
}

// GetAddr returns the code offset recorded for handle, as a signed value so
// callers (the VM) can use -1 as an "exit" sentinel when appropriate.
func (h *Heap) GetAddr(handle uint32) int32 {
	offset, ok := h.table.Get(int(handle))
	if !ok {
		h.log.Warn("heap: address lookup on unknown handle", zap.Uint32("handle", handle))
		return -1
	}
	return int32(offset)
}

// GetByAddr reads the code word at addr. Out-of-range reads degrade to 0
// (Op::Bug when interpreted as an opcode) rather than panicking; the heap
// itself has no opinion on debug vs release policy, that lives in pkg/tvm.
func (h *Heap) GetByAddr(addr int32) uint16 {
	if addr < 0 || int(addr) >= len(h.code) {
		return 0
	}
	return h.code[addr]
}

// SetByAddr overwrites the code word at addr, used to patch a placeholder
// or an earlier forward reference.
func (h *Heap) SetByAddr(addr int32, word uint16) {
	if addr < 0 || int(addr) >= len(h.code) {
		return
	}
	h.code[addr] = word
}

// FreeHandle marks handle as Freed. The code region is not reclaimed until
// the next Compact.
func (h *Heap) FreeHandle(handle uint32) error {
	info, ok := h.table.Get(int(handle) + 1)
	if !ok || handle >= h.nextHandle {
		return errors.Wrapf(ErrInvalidHandle, "free: handle %d", handle)
	}
	size, scopeSize, state := decodeInfo(info)
	if state == Purged {
		return errors.Wrapf(ErrInvalidHandle, "free: handle %d already purged", handle)
	}
	h.table.Set(int(handle)+1, encodeInfo(size, scopeSize, Freed))
	return nil
}

// SizeOf returns the recorded size, in words, of handle's code region.
func (h *Heap) SizeOf(handle uint32) uint16 {
	info, _ := h.table.Get(int(handle) + 1)
	size, _, _ := decodeInfo(info)
	return size
}

// ScopeSizeOf returns the recorded scope size for handle.
func (h *Heap) ScopeSizeOf(handle uint32) uint16 {
	info, _ := h.table.Get(int(handle) + 1)
	_, scopeSize, _ := decodeInfo(info)
	return scopeSize
}

// StateOf returns the current allocation state of handle.
func (h *Heap) StateOf(handle uint32) State {
	info, _ := h.table.Get(int(handle) + 1)
	_, _, state := decodeInfo(info)
	return state
}

// Len returns the current length of the code array.
func (h *Heap) Len() int32 { return int32(len(h.code)) }

// Code returns a copy of the raw code array, for serialization by
// pkg/heapio; callers must not assume it stays in sync with further
// mutation of h.
func (h *Heap) Code() []uint16 {
	out := make([]uint16, len(h.code))
	copy(out, h.code)
	return out
}

// NextHandle returns the next handle id that would be assigned, i.e. twice
// the number of handles allocated so far.
func (h *Heap) NextHandle() uint32 { return h.nextHandle }

// TableEntry returns the raw (offset, info) pair for handle, for
// serialization by pkg/heapio.
func (h *Heap) TableEntry(handle uint32) (offset, info uint32, ok bool) {
	offset, ok = h.table.Get(int(handle))
	if !ok {
		return 0, 0, false
	}
	info, _ = h.table.Get(int(handle) + 1)
	return offset, info, true
}

// Load reconstructs a Heap from a previously serialized code array and
// table, as produced by pkg/heapio.Decode.
func Load(code []uint16, table map[uint32][2]uint32, nextHandle uint32, opts ...Option) *Heap {
	h := New(opts...)
	h.code = make([]uint16, len(code))
	copy(h.code, code)
	for handle, pair := range table {
		h.table.Set(int(handle), pair[0])
		h.table.Set(int(handle)+1, pair[1])
	}
	h.nextHandle = nextHandle
	return h
}

// Compact performs a mark-compact pass: Freed regions are dropped from the
// code array and every surviving Allocated/Pointer handle's offset is
// rewritten to account for the space reclaimed before it. Handles are
// visited in increasing id order, which (since handles are allocated
// sequentially as code is appended) is also increasing original-offset
// order, making the forward in-place shift below safe.
func (h *Heap) Compact() error {
	var compactedSize uint32
	for handle := uint32(0); handle < h.nextHandle; handle += 2 {
		offset, ok := h.table.Get(int(handle))
		if !ok {
			continue
		}
		info, _ := h.table.Get(int(handle) + 1)
		size, scopeSize, state := decodeInfo(info)

		switch state {
		case Purged:
			continue
		case Freed:
			compactedSize += uint32(size)
			h.table.Set(int(handle)+1, encodeInfo(size, scopeSize, Purged))
		case Allocated:
			newOffset := offset - compactedSize
			if compactedSize > 0 {
				copy(h.code[newOffset:newOffset+uint32(size)], h.code[offset:offset+uint32(size)])
			}
			h.table.Set(int(handle), newOffset)
		case Pointer:
			h.table.Set(int(handle), offset-compactedSize)
		default:
			return errors.Wrapf(ErrHeapCorruption, "handle %d has invalid state %d", handle, state)
		}
	}
	h.code = h.code[:uint32(len(h.code))-compactedSize]
	h.log.Debug("heap: compacted",
		zap.Uint32("reclaimed_words", compactedSize),
		zap.Int32("new_length", h.Len()),
	)
	return nil
}
