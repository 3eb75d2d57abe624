// Package component implements the VM's component table: a chunk-linked,
// index-addressed array of in-flight component field records.
package component

import (
	"github.com/templatevm/core/pkg/chunked"
	"github.com/templatevm/core/pkg/gbox"
)

// Component is a single five-slot component record. All fields are tagged
// values; the VM and host agree on their interpretation out of band.
type Component struct {
	Definition gbox.GBox
	Manager    gbox.GBox
	State      gbox.GBox
	Handle     gbox.GBox
	Table      gbox.GBox
}

// Table is the index-addressed component store. Indices are stable for the
// lifetime of the VM; the table never shrinks during a run. The zero value
// is not usable; use New.
type Table struct {
	rows *chunked.List[Component]
	len  uint32
}

// New returns an empty component table.
func New() *Table {
	return &Table{rows: chunked.New[Component]()}
}

// Add appends c and returns its new, stable index.
func (t *Table) Add(c Component) uint32 {
	idx := t.len
	t.rows.Set(int(idx), c)
	t.len++
	return idx
}

// Get returns the component at idx, if it has been added.
func (t *Table) Get(idx uint32) (Component, bool) {
	if idx >= t.len {
		return Component{}, false
	}
	return t.rows.Get(int(idx))
}

// GetMut applies fn to the component at idx in place and reports whether
// idx had been added.
func (t *Table) GetMut(idx uint32, fn func(*Component)) bool {
	if idx >= t.len {
		return false
	}
	c, ok := t.rows.Get(int(idx))
	if !ok {
		return false
	}
	fn(&c)
	t.rows.Set(int(idx), c)
	return true
}

// Len returns the monotonically growing fill count.
func (t *Table) Len() uint32 { return t.len }

// Reset discards the whole table.
func (t *Table) Reset() {
	t.rows.Reset()
	t.len = 0
}
