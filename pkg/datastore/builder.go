package datastore

import (
	"github.com/sanonone/cvkit/pkg/skeleton"
)

// DefaultFlushEvery is the builder batch size used when none is given.
const DefaultFlushEvery = 1000

type pendingRow struct {
	index int
	s     skeleton.Skeleton
}

// SequentialBuilder appends frames to a datastore in batches. Frames are held
// in memory until FlushEvery of them are pending, then written in one go.
type SequentialBuilder struct {
	ds         DataStore
	FlushEvery int
	pending    []pendingRow
	next       int
}

// NewSequentialBuilder wraps ds. Appended frames start after its last stored index.
func NewSequentialBuilder(ds DataStore, flushEvery int) *SequentialBuilder {
	if flushEvery <= 0 {
		flushEvery = DefaultFlushEvery
	}
	return &SequentialBuilder{
		ds:         ds,
		FlushEvery: flushEvery,
		pending:    make([]pendingRow, 0, flushEvery),
		next:       ds.LastIndex() + 1,
	}
}

// Append queues s as the next frame and returns its index.
func (b *SequentialBuilder) Append(s skeleton.Skeleton) int {
	index := b.next
	b.AppendAt(index, s)
	return index
}

// AppendAt queues s at index. Indices must be appended in increasing order.
func (b *SequentialBuilder) AppendAt(index int, s skeleton.Skeleton) {
	b.pending = append(b.pending, pendingRow{index: index, s: s})
	b.next = index + 1
	if len(b.pending) >= b.FlushEvery {
		b.Flush()
	}
}

// Flush writes every pending frame into the datastore. Frames are force
// inserted so empty rows keep the output dense.
func (b *SequentialBuilder) Flush() {
	for _, p := range b.pending {
		b.ds.SetSkeleton(p.index, p.s, true)
	}
	b.pending = b.pending[:0]
}

// Datastore flushes pending frames and returns the datastore.
func (b *SequentialBuilder) Datastore() DataStore {
	b.Flush()
	return b.ds
}
