// Package processor defines the pipeline stages that transform pose
// datastores: the Processor contract, the Pipeline that chains them and the
// built-in filters, reconstruction and utility steps.
//
// A processor either mutates its input datastore in place and returns it
// from Output, or builds a new datastore and returns that. Output is nil
// until Process has completed.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sanonone/cvkit/pkg/datastore"
	"github.com/sanonone/cvkit/pkg/metrics"
)

var (
	// ErrStatsRequired is wrapped by StatsRequiredError.
	ErrStatsRequired = errors.New("datastore statistics are missing or stale")
	// ErrNoInput is returned by processors that need an input datastore and got nil.
	ErrNoInput = errors.New("processor needs an input datastore")
	// ErrInvalidParams is wrapped by every parameter validation failure.
	ErrInvalidParams = errors.New("invalid processor parameters")
)

// StatsRequiredError is returned by a processor that needs up to date
// statistics when the input datastore has none.
type StatsRequiredError struct {
	Processor string
}

func (e *StatsRequiredError) Error() string {
	return fmt.Sprintf("%s needs datastore statistics: run cluster analysis first", e.Processor)
}

func (e *StatsRequiredError) Unwrap() error { return ErrStatsRequired }

// Processor is one pipeline stage.
type Processor interface {
	ID() string
	Name() string
	// RequiresStats reports whether Process fails on a datastore whose
	// statistics do not match its content.
	RequiresStats() bool
	Process(ctx context.Context, ds datastore.DataStore) error
	// Output returns the resulting datastore, or nil before completion.
	Output() datastore.DataStore
	// Progress returns the completion percentage of the current run.
	Progress() int
}

// AuxProcessor is a processor that writes into a second datastore.
type AuxProcessor interface {
	Processor
	ProcessWithAux(ctx context.Context, ds, aux datastore.DataStore) error
}

// Base carries the bookkeeping shared by every processor.
type Base struct {
	id            string
	name          string
	requiresStats bool

	progress atomic.Int32
	ready    atomic.Bool

	mu     sync.RWMutex
	output datastore.DataStore
	logger *slog.Logger
}

func newBase(id, name string, requiresStats bool) *Base {
	return &Base{id: id, name: name, requiresStats: requiresStats, logger: slog.Default()}
}

func (b *Base) ID() string          { return b.id }
func (b *Base) Name() string        { return b.name }
func (b *Base) RequiresStats() bool { return b.requiresStats }
func (b *Base) Progress() int       { return int(b.progress.Load()) }

func (b *Base) Output() datastore.DataStore {
	if !b.ready.Load() {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.output
}

// SetLogger replaces the logger used for this processor's messages.
func (b *Base) SetLogger(l *slog.Logger) {
	if l != nil {
		b.logger = l
	}
}

// CheckStats fails with a *StatsRequiredError when the processor needs
// statistics and ds does not carry valid ones.
func (b *Base) CheckStats(ds datastore.DataStore) error {
	if !b.requiresStats {
		return nil
	}
	if ds == nil || !ds.VerifyStats() {
		return &StatsRequiredError{Processor: b.name}
	}
	return nil
}

// begin resets the run state.
func (b *Base) begin() {
	b.ready.Store(false)
	b.progress.Store(0)
	b.mu.Lock()
	b.output = nil
	b.mu.Unlock()
	metrics.ProcessorProgress.WithLabelValues(b.id).Set(0)
}

// setProgress raises the progress to percent. Lower values are ignored.
func (b *Base) setProgress(percent int) {
	percent = max(0, min(100, percent))
	for {
		cur := b.progress.Load()
		if int32(percent) <= cur {
			return
		}
		if b.progress.CompareAndSwap(cur, int32(percent)) {
			metrics.ProcessorProgress.WithLabelValues(b.id).Set(float64(percent))
			return
		}
	}
}

// tick reports done out of total as progress.
func (b *Base) tick(done, total int) {
	if total <= 0 {
		return
	}
	b.setProgress(done * 100 / total)
}

// finish publishes out and marks the run complete.
func (b *Base) finish(out datastore.DataStore) {
	b.mu.Lock()
	b.output = out
	b.mu.Unlock()
	b.setProgress(100)
	b.ready.Store(true)
}

// start is the common preamble of Process: it resets state, rejects a nil
// input and enforces the statistics precondition.
func (b *Base) start(ds datastore.DataStore) error {
	b.begin()
	if ds == nil {
		return fmt.Errorf("%s: %w", b.name, ErrNoInput)
	}
	return b.CheckStats(ds)
}
