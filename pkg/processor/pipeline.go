package processor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sanonone/cvkit/pkg/datastore"
	"github.com/sanonone/cvkit/pkg/metrics"
)

// RunStatus is the state of a pipeline run.
type RunStatus string

const (
	RunStatusStarted   RunStatus = "started"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run records the progress of one pipeline execution. It is safe to poll
// from another goroutine while the pipeline runs.
type Run struct {
	ID     string    `json:"id"`
	Status RunStatus `json:"status"`
	Step   string    `json:"step,omitempty"`
	Error  string    `json:"error,omitempty"`

	mu      sync.RWMutex
	current Processor
	done    int
	total   int
}

func newRun(total int) *Run {
	return &Run{ID: uuid.New().String(), Status: RunStatusStarted, total: total}
}

// Snapshot returns the status, the current step id and the overall progress
// in percent, where every step counts equally.
func (r *Run) Snapshot() (RunStatus, string, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.total == 0 {
		return r.Status, r.Step, 100
	}
	step := 0
	if r.current != nil {
		step = r.current.Progress()
	}
	return r.Status, r.Step, (r.done*100 + step) / r.total
}

func (r *Run) enter(p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Status = RunStatusRunning
	r.Step = p.ID()
	r.current = p
}

func (r *Run) leave() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done++
	r.current = nil
}

func (r *Run) complete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Status = RunStatusCompleted
	r.Step = ""
}

func (r *Run) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Status = RunStatusFailed
	r.Error = err.Error()
}

// Pipeline runs processors in sequence, feeding each step's output to the
// next. A step without output leaves the current datastore in place.
type Pipeline struct {
	steps  []Processor
	logger *slog.Logger
}

// NewPipeline chains steps. A nil logger means slog.Default.
func NewPipeline(logger *slog.Logger, steps ...Processor) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{steps: steps, logger: logger}
}

// Steps returns the processors in execution order.
func (p *Pipeline) Steps() []Processor { return p.steps }

// Start creates the Run record for a subsequent RunWith call, so callers can
// poll it while the pipeline executes.
func (p *Pipeline) Start() *Run { return newRun(len(p.steps)) }

// Run executes every step on ds and returns the final datastore.
func (p *Pipeline) Run(ctx context.Context, ds datastore.DataStore) (datastore.DataStore, *Run, error) {
	run := p.Start()
	out, err := p.RunWith(ctx, run, ds)
	return out, run, err
}

// RunWith executes every step, recording progress in run. Cancellation is
// honored between steps and by processors that iterate frames.
func (p *Pipeline) RunWith(ctx context.Context, run *Run, ds datastore.DataStore) (datastore.DataStore, error) {
	log := p.logger.With("run_id", run.ID)
	log.Info("[Pipeline] Starting run", "steps", len(p.steps))
	current := ds

	for i, step := range p.steps {
		if err := ctx.Err(); err != nil {
			run.fail(err)
			return current, err
		}
		if lp, ok := step.(interface{ SetLogger(*slog.Logger) }); ok {
			lp.SetLogger(log.With("processor", step.ID()))
		}
		run.enter(step)
		log.Info("[Pipeline] Running step", "index", i, "processor", step.ID())

		start := time.Now()
		err := step.Process(ctx, current)
		metrics.ProcessorDuration.WithLabelValues(step.ID()).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.ProcessorRunsTotal.WithLabelValues(step.ID(), string(RunStatusFailed)).Inc()
			err = fmt.Errorf("step %d (%s): %w", i, step.ID(), err)
			run.fail(err)
			log.Error("[Pipeline] Step failed", "processor", step.ID(), "error", err)
			return current, err
		}
		metrics.ProcessorRunsTotal.WithLabelValues(step.ID(), string(RunStatusCompleted)).Inc()

		if out := step.Output(); out != nil {
			current = out
			metrics.DatastoreFrames.WithLabelValues(out.Flavor()).Set(float64(out.Len()))
		}
		run.leave()
		log.Info("[Pipeline] Step done", "processor", step.ID(), "elapsed", time.Since(start).Round(time.Millisecond))
	}

	run.complete()
	log.Info("[Pipeline] Run completed")
	return current, nil
}
