// Package heapio serializes a program heap to and from the on-disk wire
// format the CLI reads out of an ELF section. This format, and the ELF
// section it lives in, are ambient concerns of the tooling around the
// core, not part of the core's own semantics.
package heapio

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/templatevm/core/pkg/heap"
)

// ErrTruncated is wrapped when a buffer ends before a declared field is
// fully readable.
var ErrTruncated = errors.New("heapio: truncated input")

const byteOrder = binary.LittleEndian

// Encode serializes h as: a uint32 code-word count, that many uint16 code
// words, a uint32 handle-table entry count, then that many
// (handle uint32, offset uint32, info uint32) triples, and finally a
// uint32 giving the heap's next-handle counter.
func Encode(h *heap.Heap) []byte {
	code := h.Code()
	var buf bytes.Buffer

	writeUint32(&buf, uint32(len(code)))
	for _, w := range code {
		writeUint16(&buf, w)
	}

	var entries [][3]uint32
	for handle := uint32(0); handle < h.NextHandle(); handle += 2 {
		if offset, info, ok := h.TableEntry(handle); ok {
			entries = append(entries, [3]uint32{handle, offset, info})
		}
	}

	writeUint32(&buf, uint32(len(entries)))
	for _, e := range entries {
		writeUint32(&buf, e[0])
		writeUint32(&buf, e[1])
		writeUint32(&buf, e[2])
	}

	writeUint32(&buf, h.NextHandle())

	return buf.Bytes()
}

// Decode parses the format Encode produces and reconstructs a heap.Heap.
func Decode(data []byte, opts ...heap.Option) (*heap.Heap, error) {
	r := bytes.NewReader(data)

	codeLen, err := readUint32(r)
	if err != nil {
		return nil, errors.Wrap(err, "heapio: code length")
	}
	code := make([]uint16, codeLen)
	for i := range code {
		w, err := readUint16(r)
		if err != nil {
			return nil, errors.Wrapf(err, "heapio: code word %d", i)
		}
		code[i] = w
	}

	entryCount, err := readUint32(r)
	if err != nil {
		return nil, errors.Wrap(err, "heapio: table entry count")
	}
	table := make(map[uint32][2]uint32, entryCount)
	for i := uint32(0); i < entryCount; i++ {
		handle, err := readUint32(r)
		if err != nil {
			return nil, errors.Wrapf(err, "heapio: handle at entry %d", i)
		}
		offset, err := readUint32(r)
		if err != nil {
			return nil, errors.Wrapf(err, "heapio: offset at entry %d", i)
		}
		info, err := readUint32(r)
		if err != nil {
			return nil, errors.Wrapf(err, "heapio: info at entry %d", i)
		}
		table[handle] = [2]uint32{offset, info}
	}

	nextHandle, err := readUint32(r)
	if err != nil {
		return nil, errors.Wrap(err, "heapio: next-handle counter")
	}

	return heap.Load(code, table, nextHandle, opts...), nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	byteOrder.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var tmp [2]byte
	byteOrder.PutUint16(tmp[:], v)
	buf.Write(tmp[:])
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, errors.Wrap(ErrTruncated, err.Error())
	}
	return byteOrder.Uint32(tmp[:]), nil
}

func readUint16(r *bytes.Reader) (uint16, error) {
	var tmp [2]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, errors.Wrap(ErrTruncated, err.Error())
	}
	return byteOrder.Uint16(tmp[:]), nil
}
