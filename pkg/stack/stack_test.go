package stack_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/templatevm/core/pkg/chunked"
	"github.com/templatevm/core/pkg/gbox"
	"github.com/templatevm/core/pkg/stack"
)

// TestArithmeticRoundTrip pushes 5, -3, 7, dups the top slot (sp), then pops
// five times. Expected pops: 7, 7, -3, 5, then null once the stack is empty.
func TestArithmeticRoundTrip(t *testing.T) {
	s := stack.New()
	s.Push(gbox.I32(5))
	s.Push(gbox.I32(-3))
	s.Push(gbox.I32(7))

	s.Dup(s.SP())

	for _, want := range []int32{7, 7, -3} {
		v := s.Pop(1)
		got, err := v.UnwrapI32()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	v := s.Pop(1)
	got, err := v.UnwrapI32()
	require.NoError(t, err)
	assert.Equal(t, int32(5), got)

	assert.True(t, s.Pop(1).IsNull())
}

// TestPushPopFrameDiscipline verifies a push-frame/pop-frame pair restores
// the caller's return address and frame pointer.
func TestPushPopFrameDiscipline(t *testing.T) {
	s := stack.New()
	s.SetFP(-1)
	s.SetSP(-1)
	ra := int32(0)

	s.Push(gbox.I32(10))
	s.Push(gbox.I32(11))
	s.Push(gbox.I32(12))

	// PushFrame
	s.Push(gbox.I32(ra))
	s.Push(gbox.I32(s.FP()))
	s.SetFP(s.SP() - 1)

	s.Push(gbox.I32(99))

	// PopFrame
	s.SetSP(s.FP() - 1)
	raBack, err := s.Get(0).UnwrapI32()
	require.NoError(t, err)
	fpBack, err := s.Get(1).UnwrapI32()
	require.NoError(t, err)
	s.SetFP(fpBack)

	assert.Equal(t, int32(2), s.SP())
	assert.Equal(t, int32(-1), s.FP())
	assert.Equal(t, int32(0), raBack)
}

func TestLIFOBalance(t *testing.T) {
	s := stack.New()
	startSP := s.SP()
	for i := int32(0); i < 50; i++ {
		s.Push(gbox.I32(i))
	}
	for i := int32(49); i >= 0; i-- {
		got, err := s.Pop(1).UnwrapI32()
		require.NoError(t, err)
		assert.Equal(t, i, got)
	}
	assert.Equal(t, startSP, s.SP())
}

func TestChunkTransparency(t *testing.T) {
	s := stack.New()
	lo := int32(chunked.DefaultChunkSize - 2)
	hi := int32(chunked.DefaultChunkSize + 2)
	s.Write(lo, gbox.I32(123))
	s.Write(hi, gbox.I32(456))

	got, ok := s.Read(lo)
	require.True(t, ok)
	v, _ := got.UnwrapI32()
	assert.Equal(t, int32(123), v)

	got, ok = s.Read(hi)
	require.True(t, ok)
	v, _ = got.UnwrapI32()
	assert.Equal(t, int32(456), v)
}

func TestCopyFailsOnUnallocatedSource(t *testing.T) {
	s := stack.New()
	err := s.Copy(5, 6)
	assert.ErrorIs(t, err, stack.ErrOutOfRange)
}

func TestResetDropsChunksKeepsPointers(t *testing.T) {
	s := stack.New()
	s.Push(gbox.I32(1))
	fp, sp := s.FP(), s.SP()
	s.Reset()
	assert.Equal(t, fp, s.FP())
	assert.Equal(t, sp, s.SP())
	assert.True(t, s.Pop(1).IsNull())
}
