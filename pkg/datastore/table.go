package datastore

import (
	"github.com/tidwall/btree"
)

// cell is the in-memory value of one keypoint at one frame. The flavor codec
// decides how a cell maps to a skeleton.Part and back.
type cell struct {
	vec        []float64
	likelihood float64
	set        bool
}

// row holds every keypoint cell of one frame, parallel to the body part list.
type row struct {
	index     int
	cells     []cell
	behaviour []string
}

// rowLess orders rows by frame index, which keeps the index strictly
// increasing no matter in which order sparse rows are inserted.
func rowLess(a, b *row) bool {
	return a.index < b.index
}

// Table is the row-indexed storage shared by every flavor.
type Table struct {
	tree  *btree.BTreeG[*row]
	width int
}

// NewTable creates an empty table with width cells per row.
// Locking is done by the owning datastore.
func NewTable(width int) *Table {
	return &Table{
		tree:  btree.NewBTreeGOptions[*row](rowLess, btree.Options{NoLocks: true}),
		width: width,
	}
}

func (t *Table) get(index int) (*row, bool) {
	return t.tree.Get(&row{index: index})
}

// upsert returns the row at index, creating an empty one if needed.
func (t *Table) upsert(index int) *row {
	if r, ok := t.get(index); ok {
		return r
	}
	r := &row{index: index, cells: make([]cell, t.width)}
	t.tree.Set(r)
	return r
}

func (t *Table) delete(index int) {
	t.tree.Delete(&row{index: index})
}

// Len returns the number of stored rows.
func (t *Table) Len() int {
	return t.tree.Len()
}

// Indices returns every stored frame index in increasing order.
func (t *Table) Indices() []int {
	out := make([]int, 0, t.tree.Len())
	t.tree.Scan(func(r *row) bool {
		out = append(out, r.index)
		return true
	})
	return out
}

// last returns the highest stored index, or -1 for an empty table.
func (t *Table) last() int {
	r, ok := t.tree.Max()
	if !ok {
		return -1
	}
	return r.index
}

// ascend visits rows with index >= from in increasing order.
func (t *Table) ascend(from int, fn func(r *row) bool) {
	t.tree.Ascend(&row{index: from}, fn)
}

func (t *Table) scan(fn func(r *row) bool) {
	t.tree.Scan(fn)
}
