package gbox_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/templatevm/core/pkg/gbox"
)

func TestIntegerRoundTrip(t *testing.T) {
	cases := []int32{0, 1, -1, gbox.MaxInt, gbox.MinInt, 12345, -98765}
	for _, n := range cases {
		box := gbox.I32(n)
		got, err := gbox.FromBits(box.Bits()).UnwrapI32()
		require.NoError(t, err)
		assert.Equal(t, n, got)
	}
}

func TestIntegerOverflowPanics(t *testing.T) {
	assert.Panics(t, func() { gbox.I32(gbox.MaxInt + 1) })
	assert.Panics(t, func() { gbox.I32(gbox.MinInt - 1) })
}

func TestImmediates(t *testing.T) {
	assert.Equal(t, gbox.Value{Kind: gbox.KindNull}, gbox.Null().Value())
	assert.Equal(t, gbox.Value{Kind: gbox.KindUndefined}, gbox.Undefined().Value())
	assert.Equal(t, gbox.Value{Kind: gbox.KindBool, Bool: true}, gbox.Bool(true).Value())
	assert.Equal(t, gbox.Value{Kind: gbox.KindBool, Bool: false}, gbox.Bool(false).Value())
}

func TestComponentRoundTrip(t *testing.T) {
	box := gbox.Component(42)
	v := gbox.FromBits(box.Bits()).Value()
	require.Equal(t, gbox.KindComponent, v.Kind)
	assert.EqualValues(t, 42, v.Index)
}

func TestOtherRoundTripAndConstFlag(t *testing.T) {
	for _, isConst := range []bool{true, false} {
		box := gbox.Other(7, isConst)
		v := gbox.FromBits(box.Bits()).Value()
		require.Equal(t, gbox.KindOther, v.Kind)
		assert.EqualValues(t, 7, v.Index)
		assert.Equal(t, isConst, v.IsConst)
		assert.Equal(t, isConst, box.IsConst())
	}
}

func TestConstantPoolRoundTrip(t *testing.T) {
	str := gbox.ConstantString(9)
	num := gbox.ConstantNumber(9)
	assert.NotEqual(t, str.Bits(), num.Bits())

	sv := gbox.FromBits(str.Bits()).Value()
	require.Equal(t, gbox.KindConstantString, sv.Kind)
	assert.EqualValues(t, 9, sv.Index)

	nv := gbox.FromBits(num.Bits()).Value()
	require.Equal(t, gbox.KindConstantNumber, nv.Kind)
	assert.EqualValues(t, 9, nv.Index)
}

func TestUnwrapI32FailsOnNonInteger(t *testing.T) {
	_, err := gbox.Null().UnwrapI32()
	assert.Error(t, err)
}

func TestIsConstFalseForNonOther(t *testing.T) {
	assert.False(t, gbox.Null().IsConst())
	assert.False(t, gbox.I32(3).IsConst())
	assert.False(t, gbox.Component(1).IsConst())
}
