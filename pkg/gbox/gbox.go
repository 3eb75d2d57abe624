// Package gbox implements the tagged 32-bit value representation shared by
// every other package in this module: the operand stack, the VM's register
// file, the encoder, and the component table all move GBox words
// around without ever unpacking them until a consumer actually needs the
// underlying kind.
package gbox

import "fmt"

// GBox is a tagged 32-bit word. The low 3 bits are the primary tag; for the
// Immediate and ConstantPool tags, bits 3 and 4 carry a sub-tag, and for the
// Other tag, bit 3 is the is-const flag.
type GBox uint32

const (
	tagPosInt    = 0b000
	tagNegInt    = 0b100
	tagImmediate = 0b011
	tagOther     = 0b101
	tagComponent = 0b110
	tagConstant  = 0b111

	tagMask  = 0b111
	tagShift = 3
)

// Immediate sub-tags, read from bits [3:5) when the primary tag is 011.
const (
	subFalse = 0b00
	subTrue  = 0b01
	subNull  = 0b10
	subUndef = 0b11
)

// Constant-pool sub-tags, read from bits [3:5) when the primary tag is 111.
const (
	subConstString = 0b00
	subConstNumber = 0b01
)

const (
	isConstBit = 1 << 3

	// MaxInt and MinInt bound the 29-bit signed payload an Integer GBox can carry.
	MaxInt = 1<<29 - 1
	MinInt = -MaxInt
)

// Kind identifies which variant of Value a GBox decodes to.
type Kind int

const (
	KindInteger Kind = iota
	KindNull
	KindUndefined
	KindBool
	KindComponent
	KindOther
	KindConstantString
	KindConstantNumber
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "Integer"
	case KindNull:
		return "Null"
	case KindUndefined:
		return "Undefined"
	case KindBool:
		return "Bool"
	case KindComponent:
		return "Component"
	case KindOther:
		return "Other"
	case KindConstantString:
		return "ConstantString"
	case KindConstantNumber:
		return "ConstantNumber"
	default:
		return "Unknown"
	}
}

// Value is the decoded sum-type view of a GBox, suitable for a type switch
// on Kind without re-deriving the bit layout at every call site.
type Value struct {
	Kind    Kind
	Int     int32
	Bool    bool
	Index   uint32
	IsConst bool
}

func (v Value) String() string {
	switch v.Kind {
	case KindInteger:
		return fmt.Sprintf("Integer(%d)", v.Int)
	case KindBool:
		return fmt.Sprintf("Bool(%v)", v.Bool)
	case KindComponent:
		return fmt.Sprintf("Component(%d)", v.Index)
	case KindOther:
		return fmt.Sprintf("Other(%d, const=%v)", v.Index, v.IsConst)
	case KindConstantString:
		return fmt.Sprintf("ConstantString(%d)", v.Index)
	case KindConstantNumber:
		return fmt.Sprintf("ConstantNumber(%d)", v.Index)
	default:
		return v.Kind.String()
	}
}

// Null returns the null immediate.
func Null() GBox { return GBox(tagImmediate | (subNull << tagShift)) }

// Undefined returns the undefined immediate.
func Undefined() GBox { return GBox(tagImmediate | (subUndef << tagShift)) }

// Bool returns the boolean immediate for b.
func Bool(b bool) GBox {
	if b {
		return GBox(tagImmediate | (subTrue << tagShift))
	}
	return GBox(tagImmediate | (subFalse << tagShift))
}

// I32 packs a signed integer into a GBox. It panics if n does not fit in the
// 29-bit payload; unlike a Rust debug_assert, this check has no release-mode
// escape hatch since Go has no separate debug build mode (see DESIGN.md).
func I32(n int32) GBox {
	if n > MaxInt || n < MinInt {
		panic(fmt.Sprintf("gbox: integer %d out of range [%d, %d]", n, MinInt, MaxInt))
	}
	if n >= 0 {
		return GBox(uint32(n)<<tagShift | tagPosInt)
	}
	return GBox(uint32(-n)<<tagShift | tagNegInt)
}

// Component packs a Components-table index into a GBox.
func Component(idx uint32) GBox {
	if idx > (1<<29)-1 {
		panic(fmt.Sprintf("gbox: component index %d out of range", idx))
	}
	return GBox(idx<<tagShift | tagComponent)
}

// Other packs an opaque host object handle into a GBox. isConst marks the
// reference as a compile-time constant, read by the encoder when deciding
// whether a reference needs a runtime update_with_reference instruction.
func Other(idx uint32, isConst bool) GBox {
	if idx > (1<<28)-1 {
		panic(fmt.Sprintf("gbox: object index %d out of range", idx))
	}
	bits := idx<<4 | tagOther
	if isConst {
		bits |= isConstBit
	}
	return GBox(bits)
}

// ConstantString packs a constant-pool string index into a GBox.
func ConstantString(idx uint32) GBox {
	if idx > (1<<27)-1 {
		panic(fmt.Sprintf("gbox: constant string index %d out of range", idx))
	}
	return GBox(idx<<5 | subConstString<<tagShift | tagConstant)
}

// ConstantNumber packs a constant-pool number index into a GBox.
func ConstantNumber(idx uint32) GBox {
	if idx > (1<<27)-1 {
		panic(fmt.Sprintf("gbox: constant number index %d out of range", idx))
	}
	return GBox(idx<<5 | subConstNumber<<tagShift | tagConstant)
}

// FromBits reinterprets a raw 32-bit word as a GBox without validation; the
// caller is asserting that bits was produced by one of the constructors
// above (or round-tripped from Bits()).
func FromBits(bits uint32) GBox { return GBox(bits) }

// Bits returns the raw 32-bit word.
func (g GBox) Bits() uint32 { return uint32(g) }

// Value decodes g into its sum-type view. The default branch handles the
// ConstantPool tag (111); the two unassigned patterns 001 and 010 also fall
// through to it and decode as constant-pool references.
func (g GBox) Value() Value {
	bits := uint32(g)
	switch bits & tagMask {
	case tagPosInt:
		return Value{Kind: KindInteger, Int: int32(bits >> tagShift)}
	case tagNegInt:
		return Value{Kind: KindInteger, Int: -int32(bits >> tagShift)}
	case tagImmediate:
		switch (bits >> tagShift) & 0b11 {
		case subFalse:
			return Value{Kind: KindBool, Bool: false}
		case subTrue:
			return Value{Kind: KindBool, Bool: true}
		case subNull:
			return Value{Kind: KindNull}
		default:
			return Value{Kind: KindUndefined}
		}
	case tagOther:
		return Value{
			Kind:    KindOther,
			Index:   bits >> 4,
			IsConst: bits&isConstBit != 0,
		}
	case tagComponent:
		return Value{Kind: KindComponent, Index: bits >> tagShift}
	default: // tagConstant
		idx := bits >> 5
		if (bits>>tagShift)&0b11 == subConstNumber {
			return Value{Kind: KindConstantNumber, Index: idx}
		}
		return Value{Kind: KindConstantString, Index: idx}
	}
}

// UnwrapI32 returns the integer payload, failing if g is not an Integer.
func (g GBox) UnwrapI32() (int32, error) {
	v := g.Value()
	if v.Kind != KindInteger {
		return 0, fmt.Errorf("gbox: expected Integer, got %s", v.Kind)
	}
	return v.Int, nil
}

// IsConst reports the is-const-reference bit. It is only meaningful for
// Other-tagged values; every other kind reports false.
func (g GBox) IsConst() bool {
	v := g.Value()
	return v.Kind == KindOther && v.IsConst
}

// IsNull reports whether g is the null immediate.
func (g GBox) IsNull() bool { return g.Value().Kind == KindNull }

func (g GBox) String() string { return g.Value().String() }
