package datastore

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

// ContentHash digests every stored cell and behaviour label. Any mutation of
// the table changes the result, which is what invalidates cached statistics.
// Cells that read back as unset hash as unset, and a row with nothing in it
// hashes like a missing row, so a table and its saved-then-loaded copy agree.
func (b *base) ContentHash() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	d := xxhash.New()
	var buf [8]byte
	putU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = d.Write(buf[:])
	}

	b.table.scan(func(r *row) bool {
		if b.blankRow(r) {
			return true
		}
		putU64(uint64(int64(r.index)))
		for _, c := range r.cells {
			if b.codec.blank(c) {
				_, _ = d.Write([]byte{0})
				continue
			}
			_, _ = d.Write([]byte{1})
			putU64(uint64(len(c.vec)))
			for _, x := range c.vec {
				putU64(math.Float64bits(x))
			}
			lik := c.likelihood
			if math.IsNaN(lik) {
				// Unparseable likelihoods load as 0.
				lik = 0
			}
			putU64(math.Float64bits(lik))
		}
		_, _ = d.WriteString(joinBehaviour(r.behaviour))
		_, _ = d.Write([]byte{0xFF})
		return true
	})
	return d.Sum64()
}

func (b *base) blankRow(r *row) bool {
	if joinBehaviour(r.behaviour) != "" {
		return false
	}
	for _, c := range r.cells {
		if !b.codec.blank(c) {
			return false
		}
	}
	return true
}

func hasNaN(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) {
			return true
		}
	}
	return false
}
