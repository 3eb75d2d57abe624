// Package stack implements the VM's operand stack: a chunk-linked sequence
// of 32-bit slots addressed by absolute index, with frame (fp) and stack
// (sp) pointers maintained alongside it.
package stack

import (
	"github.com/pkg/errors"

	"github.com/templatevm/core/pkg/chunked"
	"github.com/templatevm/core/pkg/gbox"
)

// ErrOutOfRange is returned by Copy when the source slot lies in a chunk
// that was never allocated.
var ErrOutOfRange = errors.New("stack: slot out of range")

// Stack is the VM's operand stack. The zero value is not usable; use New.
type Stack struct {
	slots *chunked.List[uint32]
	fp    int32
	sp    int32
}

// New returns an empty stack with fp and sp both at -1.
func New() *Stack {
	return &Stack{slots: chunked.New[uint32](), fp: -1, sp: -1}
}

// FP returns the frame pointer.
func (s *Stack) FP() int32 { return s.fp }

// SetFP sets the frame pointer.
func (s *Stack) SetFP(fp int32) { s.fp = fp }

// SP returns the stack pointer.
func (s *Stack) SP() int32 { return s.sp }

// SetSP sets the stack pointer.
func (s *Stack) SetSP(sp int32) { s.sp = sp }

// Push writes v at sp+1 and advances sp.
func (s *Stack) Push(v gbox.GBox) {
	s.sp++
	s.slots.Set(int(s.sp), v.Bits())
}

// Pop returns the value at sp, then decrements sp by count. A negative
// slot, or one whose chunk was never allocated, reads as null rather than
// failing; an unwritten slot inside an allocated chunk reads as the zero
// word (integer 0).
func (s *Stack) Pop(count int32) gbox.GBox {
	v := s.readOrNull(s.sp)
	s.sp -= count
	return v
}

// Dup copies the slot at the absolute index from to sp+1.
func (s *Stack) Dup(from int32) {
	v := s.readOrNull(from)
	s.sp++
	s.slots.Set(int(s.sp), v.Bits())
}

// Get reads the slot at fp+offset, returning null if it is negative or its
// chunk was never allocated.
func (s *Stack) Get(offset int32) gbox.GBox {
	return s.readOrNull(s.fp + offset)
}

// Copy copies the value at slot from to slot to. It fails with
// ErrOutOfRange if from is negative or its chunk was never allocated; an
// unwritten slot inside an allocated chunk is copied as the zero word.
func (s *Stack) Copy(from, to int32) error {
	raw, ok := s.slots.Get(int(from))
	if !ok {
		return errors.Wrapf(ErrOutOfRange, "copy: source slot %d unallocated", from)
	}
	s.slots.Set(int(to), raw)
	return nil
}

// Write stores v at the absolute index at, allocating intermediate chunks
// on demand. It does not move sp.
func (s *Stack) Write(at int32, v gbox.GBox) {
	s.slots.Set(int(at), v.Bits())
}

// Read returns the value at the absolute index at and whether its chunk
// has been allocated. Slots are not tracked individually: an unwritten slot
// inside an allocated chunk reports true with the zero word.
func (s *Stack) Read(at int32) (gbox.GBox, bool) {
	raw, ok := s.slots.Get(int(at))
	if !ok {
		return gbox.GBox(0), false
	}
	return gbox.FromBits(raw), true
}

// Reset discards all chunks. fp and sp are left untouched; callers that
// want a fully empty stack should also reset them.
func (s *Stack) Reset() {
	s.slots.Reset()
}

func (s *Stack) readOrNull(at int32) gbox.GBox {
	raw, ok := s.slots.Get(int(at))
	if !ok {
		return gbox.Null()
	}
	return gbox.FromBits(raw)
}
