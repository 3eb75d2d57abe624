package chunked_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/templatevm/core/pkg/chunked"
)

func TestSetGetWithinSingleChunk(t *testing.T) {
	l := chunked.New[uint32]()
	l.Set(0, 111)
	l.Set(10, 222)
	v, ok := l.Get(10)
	assert.True(t, ok)
	assert.EqualValues(t, 222, v)
}

func TestSpanningMultipleChunksRoundTrips(t *testing.T) {
	l := chunked.New[uint32]()
	lo := chunked.DefaultChunkSize - 1
	hi := chunked.DefaultChunkSize*2 + 5
	l.Set(lo, 1)
	l.Set(hi, 2)
	v1, ok1 := l.Get(lo)
	v2, ok2 := l.Get(hi)
	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.EqualValues(t, 1, v1)
	assert.EqualValues(t, 2, v2)
}

func TestGetUnwrittenReturnsFalse(t *testing.T) {
	l := chunked.New[uint32]()
	_, ok := l.Get(5)
	assert.False(t, ok)

	l.Set(0, 9)
	_, ok = l.Get(chunked.DefaultChunkSize + 1)
	assert.False(t, ok)
}

func TestGetNegativeIndexReturnsFalse(t *testing.T) {
	l := chunked.New[uint32]()
	_, ok := l.Get(-1)
	assert.False(t, ok)
}

func TestReset(t *testing.T) {
	l := chunked.New[uint32]()
	l.Set(0, 1)
	l.Reset()
	_, ok := l.Get(0)
	assert.False(t, ok)
}
