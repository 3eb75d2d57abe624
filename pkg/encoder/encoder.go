// Package encoder implements the rendering-instruction encoder: a
// write-only stream of fixed [op, a, b] triples consumed by the host DOM
// layer once a VM step (or batch of steps) finishes.
package encoder

import "github.com/templatevm/core/pkg/gbox"

// RenderOp identifies a rendering instruction within the encoded stream.
// Values are shared wire format between host and VM and must not be
// renumbered.
type RenderOp uint32

const (
	Push RenderOp = iota
	AppendText
	AppendComment
	OpenElement
	PushRemoteElement
	PopRemoteElement
	UpdateWithReference
	OpenDynamicElement
	FlushElementOperations
	FlushElement
	CloseElement
	StaticAttr
	DynamicAttr
)

// initialCapacity matches the reference implementation's initial buffer
// size of 2048 words (roughly 682 triples).
const initialCapacity = 2048

// Encoder is an append-only buffer of rendering-instruction triples. The
// zero value is not usable; use New.
type Encoder struct {
	buf    []uint32
	cursor int
}

// New returns an Encoder pre-sized to the reference implementation's
// initial capacity.
func New() *Encoder {
	return &Encoder{buf: make([]uint32, 0, initialCapacity)}
}

// Encode appends one [op, a, b] triple. The buffer grows geometrically
// (doubling) rather than failing on overflow: capacity is a performance
// tuning knob, not a hard limit on renderable output.
func (e *Encoder) Encode(op RenderOp, a, b gbox.GBox) {
	e.buf = append(e.buf, uint32(op), a.Bits(), b.Bits())
	e.cursor += 3
}

// AsSlice exposes the written portion of the buffer for the host to read.
// The returned slice aliases internal storage and is only valid until the
// next Encode or Finalize call.
func (e *Encoder) AsSlice() []uint32 {
	return e.buf[:e.cursor]
}

// Finalize returns the write-cursor word count and resets the cursor to
// zero, ready for the next batch of instructions.
func (e *Encoder) Finalize() int {
	n := e.cursor
	e.buf = e.buf[:0]
	e.cursor = 0
	return n
}

// AppendText emits a Text instruction for the given constant-pool string.
func (e *Encoder) AppendText(text gbox.GBox) {
	e.Encode(AppendText, text, gbox.Undefined())
}

// AppendComment emits a Comment instruction for the given constant-pool
// string.
func (e *Encoder) AppendComment(text gbox.GBox) {
	e.Encode(AppendComment, text, gbox.Undefined())
}

// OpenElementTag emits an OpenElement instruction for a static tag name.
func (e *Encoder) OpenElementTag(tag gbox.GBox) {
	e.Encode(OpenElement, tag, gbox.Undefined())
}

// OpenDynamicElementTag emits an OpenDynamicElement instruction for a
// runtime-computed tag name.
func (e *Encoder) OpenDynamicElementTag(tag gbox.GBox) {
	e.Encode(OpenDynamicElement, tag, gbox.Undefined())
}

// FlushElementOps emits a FlushElementOperations instruction for the
// deferred attribute/modifier operations recorded against t0. It emits
// unconditionally; whether t0 holds any is checked by the caller.
func (e *Encoder) FlushElementOps(t0 gbox.GBox) {
	e.Encode(FlushElementOperations, t0, gbox.Undefined())
}

// FlushElementTag emits the unconditional FlushElement instruction closing
// out an element's opening tag.
func (e *Encoder) FlushElementTag() {
	e.Encode(FlushElement, gbox.Undefined(), gbox.Undefined())
}

// CloseElementTag emits a CloseElement instruction.
func (e *Encoder) CloseElementTag() {
	e.Encode(CloseElement, gbox.Undefined(), gbox.Undefined())
}

// PushRemoteElementTag emits a PushRemoteElement instruction for a
// portal/in-element render target, followed by an UpdateWithReference for
// each of element, guid, and nextSibling that isn't a compile-time constant.
func (e *Encoder) PushRemoteElementTag(element, guid, nextSibling gbox.GBox) {
	e.Encode(PushRemoteElement, element, guid)
	for _, ref := range [3]gbox.GBox{element, guid, nextSibling} {
		if !ref.IsConst() {
			e.Encode(UpdateWithReference, ref, gbox.Undefined())
		}
	}
}

// PopRemoteElementTag emits a PopRemoteElement instruction.
func (e *Encoder) PopRemoteElementTag() {
	e.Encode(PopRemoteElement, gbox.Undefined(), gbox.Undefined())
}

// StaticAttrTag emits a StaticAttr instruction; namespace may be
// gbox.Null() when the attribute has no namespace, otherwise it is emitted
// in a following UpdateWithReference triple.
func (e *Encoder) StaticAttrTag(name, value, namespace gbox.GBox) {
	e.Encode(StaticAttr, name, value)
	if !namespace.IsNull() {
		e.Encode(UpdateWithReference, namespace, gbox.Undefined())
	}
}

// DynamicAttrTag emits a DynamicAttr instruction for a runtime-computed
// attribute value, or a StaticAttr when reference turns out to be a
// compile-time constant (no namespace, since DynamicAttr carries none).
func (e *Encoder) DynamicAttrTag(name, reference gbox.GBox) {
	if reference.IsConst() {
		e.StaticAttrTag(name, reference, gbox.Null())
		return
	}
	e.Encode(DynamicAttr, name, reference)
}
