// Package datastore provides row-indexed, per-keypoint storage of pose data
// with pluggable on-disk layouts ("flavors"), together with the cluster
// statistics that filters use to locate missing and accurate data.
//
// A DataStore owns its in-memory table. Callers read and mutate it only
// through the declared operations, and every write keeps the frame index
// strictly increasing.
package datastore

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/sanonone/cvkit/pkg/skeleton"
)

// BehaviourSep joins multiple behaviour labels inside one cell.
const BehaviourSep = "~"

var (
	// ErrUnknownFlavor is wrapped by UnknownFlavorError.
	ErrUnknownFlavor = errors.New("unknown datastore flavor")
	// ErrStatsRegistered is returned by SetStats for statistics that were already registered.
	ErrStatsRegistered = errors.New("statistics already registered")
	// ErrFileExists is returned when a conversion target already exists.
	ErrFileExists = errors.New("target file already exists")
	// ErrMalformedFile is returned when a data file does not follow its flavor layout.
	ErrMalformedFile = errors.New("malformed data file")
)

// UnknownFlavorError reports a flavor id that no registered factory matches.
type UnknownFlavorError struct {
	Flavor    string
	Available []string
}

func (e *UnknownFlavorError) Error() string {
	return fmt.Sprintf("unknown datastore flavor %q (available: %s)", e.Flavor, strings.Join(e.Available, ", "))
}

func (e *UnknownFlavorError) Unwrap() error { return ErrUnknownFlavor }

// DataStore is the contract every flavor implements.
type DataStore interface {
	Flavor() string
	Dimensions() int
	BodyParts() []string
	Path() string
	// BasePath is Path without its extension; sidecar files hang off it.
	BasePath() string

	Len() int
	Indices() []int
	// LastIndex returns the highest stored frame index, or -1 when empty.
	LastIndex() int
	Has(index int) bool

	GetPart(index int, name string) skeleton.Part
	SetPart(index int, p skeleton.Part)
	GetSkeleton(index int) skeleton.Skeleton
	// SetSkeleton writes every part of s. Unless forceInsert is set, a frame
	// that does not exist yet is only created when some part has likelihood > 0.
	SetSkeleton(index int, s skeleton.Skeleton, forceInsert bool)
	// GetPartSlice returns one Part per index in [begin, end).
	GetPartSlice(begin, end int, name string) []skeleton.Part
	// SetPartSlice writes parts to consecutive indices starting at begin.
	SetPartSlice(begin int, name string, parts []skeleton.Part)
	// DeletePart invalidates a cell. Without forceRemove it only acts on
	// existing frames; with it the cell is cleared even if the frame is new.
	DeletePart(index int, name string, forceRemove bool)
	DeleteSkeleton(index int)
	GetBehaviour(index int) []string
	SetBehaviour(index int, behaviour []string)

	RowIterator() iter.Seq2[int, skeleton.Skeleton]
	PartIterator(name string) iter.Seq2[int, skeleton.Part]

	Stats() *Stats
	// SetStats registers stats against the current content hash and
	// persists the sidecar.
	SetStats(stats *Stats) error
	// VerifyStats reports whether the cached statistics still describe the table.
	VerifyStats() bool
	ContentHash() uint64

	// Save writes the table to path, or to Path() when path is empty.
	Save(path string) error
	HeaderRows() [][]string
	// ConvertRow renders a skeleton in this flavor's row layout. Flavors
	// without a likelihood column write parts at or below threshold as missing.
	ConvertRow(index int, s skeleton.Skeleton, threshold float64) []string
}

// cellCodec is the flavor-specific mapping between cells and Parts.
type cellCodec interface {
	decode(c cell, name string, dims int) skeleton.Part
	encode(p skeleton.Part, dims int) cell
	softDelete(c *cell)
	// blank reports whether c reads back like a cell that was never written.
	// Save writes such cells as empty, so they hash as unset.
	blank(c cell) bool
}

// base implements the flavor independent half of DataStore.
type base struct {
	mu        sync.RWMutex
	flavor    string
	bodyParts []string
	columns   map[string]int
	dims      int
	path      string
	basePath  string
	table     *Table
	stats     *Stats
	codec     cellCodec
	logger    *slog.Logger
}

func newBase(flavor string, bodyParts []string, path string, dims int, codec cellCodec) *base {
	b := &base{
		flavor:    flavor,
		bodyParts: append([]string(nil), bodyParts...),
		columns:   make(map[string]int, len(bodyParts)),
		dims:      dims,
		path:      path,
		table:     NewTable(len(bodyParts)),
		stats:     NewStats(bodyParts),
		codec:     codec,
		logger:    slog.Default(),
	}
	for i, name := range bodyParts {
		b.columns[name] = i
	}
	if path != "" {
		b.basePath = strings.TrimSuffix(path, filepath.Ext(path))
	}
	return b
}

// loadSidecar picks up a previously saved statistics file, if any.
func (b *base) loadSidecar() {
	if b.basePath == "" {
		return
	}
	stats, err := LoadStats(StatsPath(b.basePath))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			b.logger.Warn("[Stats] Ignoring unreadable sidecar", "path", StatsPath(b.basePath), "error", err)
		}
		return
	}
	b.stats = stats
}

func (b *base) Flavor() string      { return b.flavor }
func (b *base) Dimensions() int     { return b.dims }
func (b *base) BodyParts() []string { return b.bodyParts }
func (b *base) Path() string        { return b.path }
func (b *base) BasePath() string    { return b.basePath }

func (b *base) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.table.Len()
}

func (b *base) Indices() []int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.table.Indices()
}

func (b *base) LastIndex() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.table.last()
}

func (b *base) Has(index int) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.table.get(index)
	return ok
}

func (b *base) GetPart(index int, name string) skeleton.Part {
	b.mu.RLock()
	defer b.mu.RUnlock()
	col, ok := b.columns[name]
	if !ok {
		return skeleton.EmptyPart(name, b.dims)
	}
	r, ok := b.table.get(index)
	if !ok {
		return skeleton.EmptyPart(name, b.dims)
	}
	return b.codec.decode(r.cells[col], name, b.dims)
}

func (b *base) SetPart(index int, p skeleton.Part) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setPartLocked(index, p)
}

func (b *base) setPartLocked(index int, p skeleton.Part) {
	col, ok := b.columns[p.Name]
	if !ok {
		return
	}
	r := b.table.upsert(index)
	r.cells[col] = b.codec.encode(p, b.dims)
}

func (b *base) GetSkeleton(index int) skeleton.Skeleton {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.table.get(index)
	if !ok {
		return skeleton.Empty(b.bodyParts, b.dims)
	}
	return b.buildSkeleton(r)
}

func (b *base) buildSkeleton(r *row) skeleton.Skeleton {
	parts := make([]skeleton.Part, len(b.bodyParts))
	for i, name := range b.bodyParts {
		parts[i] = b.codec.decode(r.cells[i], name, b.dims)
	}
	return skeleton.FromParts(b.bodyParts, parts, r.behaviour, b.dims)
}

func (b *base) SetSkeleton(index int, s skeleton.Skeleton, forceInsert bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !forceInsert {
		if _, exists := b.table.get(index); !exists {
			insert := false
			for _, name := range b.bodyParts {
				if s.Part(name).ConfidenceAbove(0) {
					insert = true
					break
				}
			}
			if !insert {
				return
			}
		}
	}
	for _, name := range b.bodyParts {
		p := s.Part(name)
		p.Name = name
		b.setPartLocked(index, p)
	}
	b.table.upsert(index).behaviour = append([]string(nil), s.Behaviour...)
}

func (b *base) GetPartSlice(begin, end int, name string) []skeleton.Part {
	if end <= begin {
		return nil
	}
	out := make([]skeleton.Part, 0, end-begin)
	for i := begin; i < end; i++ {
		out = append(out, b.GetPart(i, name))
	}
	return out
}

func (b *base) SetPartSlice(begin int, name string, parts []skeleton.Part) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, p := range parts {
		p.Name = name
		b.setPartLocked(begin+i, p)
	}
}

func (b *base) DeletePart(index int, name string, forceRemove bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deletePartLocked(index, name, forceRemove)
}

func (b *base) deletePartLocked(index int, name string, forceRemove bool) {
	col, ok := b.columns[name]
	if !ok {
		return
	}
	r, exists := b.table.get(index)
	if !exists {
		if !forceRemove {
			return
		}
		r = b.table.upsert(index)
	}
	b.codec.softDelete(&r.cells[col])
}

func (b *base) DeleteSkeleton(index int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.table.get(index); !ok {
		return
	}
	for _, name := range b.bodyParts {
		b.deletePartLocked(index, name, true)
	}
}

func (b *base) GetBehaviour(index int) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.table.get(index)
	if !ok {
		return []string{}
	}
	return slices.Clone(r.behaviour)
}

func (b *base) SetBehaviour(index int, behaviour []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.table.upsert(index).behaviour = slices.Clone(behaviour)
}

// RowIterator yields every stored frame in increasing index order. The
// index list is captured up front so callers may write to the store while
// iterating.
func (b *base) RowIterator() iter.Seq2[int, skeleton.Skeleton] {
	return func(yield func(int, skeleton.Skeleton) bool) {
		for _, index := range b.Indices() {
			if !yield(index, b.GetSkeleton(index)) {
				return
			}
		}
	}
}

// PartIterator yields one keypoint's column in increasing index order.
func (b *base) PartIterator(name string) iter.Seq2[int, skeleton.Part] {
	return func(yield func(int, skeleton.Part) bool) {
		for _, index := range b.Indices() {
			if !yield(index, b.GetPart(index, name)) {
				return
			}
		}
	}
}

func (b *base) Stats() *Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stats
}

func (b *base) SetStats(stats *Stats) error {
	hash := b.ContentHash()
	if !stats.Register(hash) {
		return ErrStatsRegistered
	}
	b.mu.Lock()
	b.stats = stats
	b.mu.Unlock()
	if b.basePath == "" {
		return nil
	}
	if err := SaveStats(StatsPath(b.basePath), stats); err != nil {
		return fmt.Errorf("persist statistics: %w", err)
	}
	return nil
}

func (b *base) VerifyStats() bool {
	hash := b.ContentHash()
	b.mu.RLock()
	stats := b.stats
	b.mu.RUnlock()
	if stats == nil {
		return false
	}
	if !stats.Registered() || stats.Hash() != hash || !slices.Equal(stats.BodyParts(), b.bodyParts) {
		stats.Invalidate()
		return false
	}
	return true
}

// materialize returns every row as a skeleton, dense from frame 0 to the last
// stored index so that row position equals frame number on disk.
func (b *base) materialize() []skeleton.Skeleton {
	b.mu.RLock()
	defer b.mu.RUnlock()
	last := b.table.last()
	out := make([]skeleton.Skeleton, last+1)
	next := 0
	b.table.scan(func(r *row) bool {
		for ; next < r.index; next++ {
			out[next] = skeleton.Empty(b.bodyParts, b.dims)
		}
		if r.index >= 0 {
			out[r.index] = b.buildSkeleton(r)
			next = r.index + 1
		}
		return true
	})
	return out
}

func (b *base) resolvePath(path string) (string, error) {
	if path == "" {
		path = b.path
	}
	if path == "" {
		return "", errors.New("datastore has no path")
	}
	return path, nil
}

func joinBehaviour(b []string) string {
	return strings.Join(b, BehaviourSep)
}

func splitBehaviour(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Split(s, BehaviourSep)
}
