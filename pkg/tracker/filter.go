package tracker

import (
	"fmt"

	"github.com/sanonone/cvkit/pkg/skeleton"
)

// Mode selects how a PartFilter treats low-confidence frames.
type Mode int

const (
	// ModeSkip drops the tracker on a low-confidence frame and re-seeds it on
	// the next confident one. Nothing is extrapolated across gaps.
	ModeSkip Mode = iota
	// ModePredict feeds the tracker's own prediction back as the observation
	// of a low-confidence frame, extrapolating across gaps.
	ModePredict
)

func (m Mode) String() string {
	switch m {
	case ModeSkip:
		return "skip"
	case ModePredict:
		return "predict"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// PartFilter smooths the time series of one keypoint.
type PartFilter struct {
	mode      Mode
	dt        float64
	threshold float64
	tr        *Tracker
}

// NewPartFilter returns a filter for frames dt apart. Parts whose likelihood
// is below threshold count as low confidence.
func NewPartFilter(mode Mode, dt, threshold float64) *PartFilter {
	return &PartFilter{mode: mode, dt: dt, threshold: threshold}
}

// Step consumes the next frame. It returns the filtered part and true when the
// frame should be rewritten, or false when the stored value stays as it is:
// the first frame after a (re)seed keeps its raw observation.
func (f *PartFilter) Step(p skeleton.Part) (skeleton.Part, bool, error) {
	if p.ConfidenceBelow(f.threshold) {
		if f.mode == ModeSkip || f.tr == nil {
			f.tr = nil
			return p, false, nil
		}
		pos := f.tr.Update(f.tr.NextPrediction(), 1, 0)
		return withPosition(p, pos), true, nil
	}

	if f.tr == nil {
		tr, err := New(p.Vec, f.dt)
		if err != nil {
			return p, false, err
		}
		f.tr = tr
		return p, false, nil
	}
	pos := f.tr.Update(p.Vec, 1, 0)
	return withPosition(p, pos), true, nil
}

// Reset forgets the current tracker.
func (f *PartFilter) Reset() { f.tr = nil }

func withPosition(p skeleton.Part, pos []float64) skeleton.Part {
	out := p.Clone()
	copy(out.Vec, pos)
	return out
}
