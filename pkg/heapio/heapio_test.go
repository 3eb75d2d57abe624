package heapio_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/templatevm/core/pkg/heap"
	"github.com/templatevm/core/pkg/heapio"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	h := heap.New()
	handle := h.MallocHandle()
	h.Push(0x1111)
	h.Push(0x2222)
	h.FinishMalloc(handle, 3)

	encoded := heapio.Encode(h)

	decoded, err := heapio.Decode(encoded)
	require.NoError(t, err)

	assert.Equal(t, h.Code(), decoded.Code())
	assert.Equal(t, h.GetAddr(handle), decoded.GetAddr(handle))
	assert.Equal(t, h.SizeOf(handle), decoded.SizeOf(handle))
	assert.Equal(t, h.ScopeSizeOf(handle), decoded.ScopeSizeOf(handle))
	assert.Equal(t, h.NextHandle(), decoded.NextHandle())
}

func TestDecodeTruncatedInputFails(t *testing.T) {
	_, err := heapio.Decode([]byte{0x01, 0x00})
	assert.ErrorIs(t, err, heapio.ErrTruncated)
}
