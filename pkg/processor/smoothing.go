package processor

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/sanonone/cvkit/pkg/datastore"
	"github.com/sanonone/cvkit/pkg/skeleton"
	"github.com/sanonone/cvkit/pkg/tracker"
)

// Processor ids of the smoothing filters.
const (
	IDInterpolation = "cvkit_interpolation"
	IDKalmanFilter  = "cvkit_kalman_filter"
	IDMovingAverage = "cvkit_moving_average"
)

// LinearInterpolation fills short runs of missing frames of one keypoint by
// interpolating between the frames on either side. Runs touching the first
// or last frame are left alone. It needs registered statistics.
type LinearInterpolation struct {
	*Base
	Target string
	// Threshold is the likelihood given to filled frames.
	Threshold      float64
	MaxClusterSize int
}

// NewLinearInterpolation returns the interpolation filter for target.
func NewLinearInterpolation(target string, threshold float64, maxClusterSize int) *LinearInterpolation {
	return &LinearInterpolation{
		Base:           newBase(IDInterpolation, "Linear Interpolation", true),
		Target:         target,
		Threshold:      threshold,
		MaxClusterSize: maxClusterSize,
	}
}

func (p *LinearInterpolation) Process(ctx context.Context, ds datastore.DataStore) error {
	if err := p.start(ds); err != nil {
		return err
	}
	clusters := ds.Stats().NAClusters(p.Target)
	last := ds.LastIndex()
	filled := 0
	for i, c := range clusters {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.tick(i, len(clusters))
		if c.Begin == 0 || c.End == last || c.Len() > p.MaxClusterSize {
			continue
		}
		begin := ds.GetPart(c.Begin-1, p.Target)
		end := ds.GetPart(c.End+1, p.Target)
		delta, err := end.Sub(skeleton.PartOperand(begin))
		if err != nil {
			return fmt.Errorf("interpolate %s at %v: %w", p.Target, c, err)
		}
		step := delta.Div(float64(c.Len() + 1))
		current := begin
		for index := c.Begin; index <= c.End; index++ {
			if current, err = current.Add(skeleton.PartOperand(step)); err != nil {
				return fmt.Errorf("interpolate %s at %v: %w", p.Target, c, err)
			}
			current.Likelihood = p.Threshold
			ds.SetPart(index, current)
		}
		filled++
	}
	p.logger.Debug("[Interpolate] Clusters filled", "part", p.Target, "filled", filled, "clusters", len(clusters))
	p.finish(ds)
	return nil
}

// KalmanFilter smooths one keypoint with a constant acceleration Kalman
// filter. In skip mode low-confidence frames reset the filter; in predict
// mode they are replaced by the filter's extrapolation.
type KalmanFilter struct {
	*Base
	Target    string
	Framerate float64
	Mode      tracker.Mode
	Threshold float64
}

// NewKalmanFilter returns the Kalman filter step for target.
func NewKalmanFilter(target string, framerate float64, mode tracker.Mode, threshold float64) *KalmanFilter {
	return &KalmanFilter{
		Base:      newBase(IDKalmanFilter, "Kalman Filtering", false),
		Target:    target,
		Framerate: framerate,
		Mode:      mode,
		Threshold: threshold,
	}
}

func (p *KalmanFilter) Process(ctx context.Context, ds datastore.DataStore) error {
	if err := p.start(ds); err != nil {
		return err
	}
	if p.Framerate <= 0 {
		return fmt.Errorf("%w: framerate must be positive", ErrInvalidParams)
	}
	f := tracker.NewPartFilter(p.Mode, 1/p.Framerate, p.Threshold)
	total := ds.Len()
	done := 0
	for index, part := range ds.PartIterator(p.Target) {
		if err := ctx.Err(); err != nil {
			return err
		}
		out, write, err := f.Step(part)
		if err != nil {
			return fmt.Errorf("frame %d: %w", index, err)
		}
		if write {
			ds.SetPart(index, out)
		}
		done++
		p.tick(done, total)
	}
	p.finish(ds)
	return nil
}

// MovingAverage replaces each confident frame of one keypoint by the
// weighted mean of the current frame and the smoothed values of the
// preceding ones, WindowSize in all, the newest weighing most. A
// low-confidence frame empties the window.
type MovingAverage struct {
	*Base
	Target     string
	WindowSize int
	Threshold  float64
}

// NewMovingAverage returns the moving average step for target.
func NewMovingAverage(target string, windowSize int, threshold float64) *MovingAverage {
	return &MovingAverage{
		Base:       newBase(IDMovingAverage, "Moving Average", false),
		Target:     target,
		WindowSize: windowSize,
		Threshold:  threshold,
	}
}

func (p *MovingAverage) Process(ctx context.Context, ds datastore.DataStore) error {
	if err := p.start(ds); err != nil {
		return err
	}
	if p.WindowSize < 1 {
		return fmt.Errorf("%w: window size must be at least 1", ErrInvalidParams)
	}
	var window []skeleton.Part
	total := ds.Len()
	done := 0
	for index, part := range ds.PartIterator(p.Target) {
		if err := ctx.Err(); err != nil {
			return err
		}
		done++
		p.tick(done, total)
		if part.ConfidenceBelow(p.Threshold) {
			window = window[:0]
			continue
		}
		window = append(window, part)
		if len(window) > p.WindowSize {
			window = window[1:]
		}
		smoothed := weightedMean(part, window)
		window[len(window)-1] = smoothed
		ds.SetPart(index, smoothed)
	}
	p.finish(ds)
	return nil
}

// weightedMean averages window with weights 1², 2², ..., n² and returns it
// under the name and likelihood of p.
func weightedMean(p skeleton.Part, window []skeleton.Part) skeleton.Part {
	weights := make([]float64, len(window))
	for i := range weights {
		weights[i] = float64((i + 1) * (i + 1))
	}
	out := p.Clone()
	column := make([]float64, len(window))
	for d := range out.Vec {
		for i, w := range window {
			column[i] = w.Vec[d]
		}
		out.Vec[d] = stat.Mean(column, weights)
	}
	return out
}
