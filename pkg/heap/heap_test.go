package heap_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/templatevm/core/pkg/heap"
)

// TestCompaction allocates H1 (3 words), H2 (2 words), H3 (1 word), frees
// H2, then compacts. H1 and H3 should survive contiguously, with H2's
// region reclaimed and its handle marked Purged.
func TestCompaction(t *testing.T) {
	h := heap.New()

	h1 := h.MallocHandle()
	h.Push(0xAA)
	h.Push(0xBB)
	h.Push(0xCC)
	h.FinishMalloc(h1, 0)

	h2 := h.MallocHandle()
	h.Push(0xDD)
	h.Push(0xEE)
	h.FinishMalloc(h2, 0)

	h3 := h.MallocHandle()
	h.Push(0xFF)
	h.FinishMalloc(h3, 0)

	require.NoError(t, h.FreeHandle(h2))
	require.NoError(t, h.Compact())

	assert.EqualValues(t, 0xAA, h.GetByAddr(0))
	assert.EqualValues(t, 0xBB, h.GetByAddr(1))
	assert.EqualValues(t, 0xCC, h.GetByAddr(2))
	assert.EqualValues(t, 0xFF, h.GetByAddr(3))
	assert.Equal(t, int32(4), h.Len())

	assert.Equal(t, int32(0), h.GetAddr(h1))
	assert.Equal(t, int32(3), h.GetAddr(h3))
	assert.Equal(t, heap.Purged, h.StateOf(h2))
}

func TestCompactionPreservesLiveDataAcrossMultipleFrees(t *testing.T) {
	h := heap.New()

	handles := make([]uint32, 5)
	words := [][]uint16{{1}, {2, 2}, {3, 3, 3}, {4}, {5, 5}}
	for i, ws := range words {
		handles[i] = h.MallocHandle()
		for _, w := range ws {
			h.Push(w)
		}
		h.FinishMalloc(handles[i], 0)
	}

	require.NoError(t, h.FreeHandle(handles[1]))
	require.NoError(t, h.FreeHandle(handles[3]))
	require.NoError(t, h.Compact())

	want := []uint16{1, 3, 3, 3, 5, 5}
	for i, w := range want {
		assert.EqualValues(t, w, h.GetByAddr(int32(i)), "word at %d", i)
	}

	assert.Equal(t, int32(0), h.GetAddr(handles[0]))
	assert.Equal(t, int32(1), h.GetAddr(handles[2]))
	assert.Equal(t, int32(4), h.GetAddr(handles[4]))
	assert.Equal(t, heap.Purged, h.StateOf(handles[1]))
	assert.Equal(t, heap.Purged, h.StateOf(handles[3]))
}

func TestFreeUnknownHandleFails(t *testing.T) {
	h := heap.New()
	err := h.FreeHandle(42)
	assert.ErrorIs(t, err, heap.ErrInvalidHandle)
}

func TestOutOfBoundsReadDegradesToZero(t *testing.T) {
	h := heap.New()
	h.Push(0x1234)
	assert.EqualValues(t, 0, h.GetByAddr(5))
	assert.EqualValues(t, 0, h.GetByAddr(-1))
}

func TestPlaceholderPatching(t *testing.T) {
	h := heap.New()
	h.Push(0x01)
	addr := h.PushPlaceholder()
	h.Push(0x02)
	h.SetByAddr(addr, 0x99)
	assert.EqualValues(t, 0x99, h.GetByAddr(addr))
}

func TestGetHandleAliasesExistingAddress(t *testing.T) {
	h := heap.New()
	h.Push(0x11)
	h.Push(0x22)
	ptr := h.GetHandle(1)
	assert.Equal(t, int32(1), h.GetAddr(ptr))
	assert.Equal(t, heap.Pointer, h.StateOf(ptr))
}

func TestScopeSizeRoundTrips(t *testing.T) {
	h := heap.New()
	handle := h.MallocHandle()
	h.Push(1)
	h.Push(2)
	h.FinishMalloc(handle, 7)
	assert.EqualValues(t, 2, h.SizeOf(handle))
	assert.EqualValues(t, 7, h.ScopeSizeOf(handle))
}
