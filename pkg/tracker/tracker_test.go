package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/cvkit/pkg/skeleton"
)

func TestTrackerFollowsConstantVelocity(t *testing.T) {
	dt := 0.1
	tr, err := New([]float64{0, 0, 0}, dt)
	require.NoError(t, err)

	var pos []float64
	for i := 1; i <= 60; i++ {
		x := float64(i) * dt * 2 // 2 units per second along x
		pos = tr.Update([]float64{x, 1, -1}, 1, 0.5)
	}
	assert.InDelta(t, 12.0, pos[0], 0.05)
	assert.InDelta(t, 1.0, pos[1], 0.05)
	assert.InDelta(t, -1.0, pos[2], 0.05)

	next := tr.NextPrediction()
	assert.InDelta(t, 12.2, next[0], 0.05)
	assert.Equal(t, pos, tr.Position(), "NextPrediction must not advance the state")
}

func TestTrackerLowConfidenceOnlyPredicts(t *testing.T) {
	tr, err := New([]float64{5, 5}, 1)
	require.NoError(t, err)
	pos := tr.Update([]float64{100, 100}, 0.1, 0.8)
	assert.Equal(t, []float64{5, 5}, pos)
}

func TestTrackerRejectsScalar(t *testing.T) {
	_, err := New([]float64{1}, 0.1)
	assert.ErrorIs(t, err, ErrDimension)
}

func part(x, lik float64) skeleton.Part {
	return skeleton.NewPart([]float64{x, x, x}, "snout", lik)
}

func TestSkipModeResetsAcrossGaps(t *testing.T) {
	f := NewPartFilter(ModeSkip, 0.1, 0.6)
	frames := []skeleton.Part{part(1, 0.9), part(2, 0.9), part(3, 0.1), part(4, 0.2), part(10, 0.9)}

	written := make([]bool, len(frames))
	values := make([]skeleton.Part, len(frames))
	for i, p := range frames {
		out, write, err := f.Step(p)
		require.NoError(t, err)
		written[i] = write
		values[i] = out
	}

	assert.Equal(t, []bool{false, true, false, false, false}, written)
	assert.NotEqual(t, frames[1].Vec, values[1].Vec, "frame 1 is smoothed")
	assert.Equal(t, frames[4].Vec, values[4].Vec, "frame 4 is a fresh seed")
	assert.Equal(t, 0.9, values[1].Likelihood)
}

func TestPredictModeExtrapolates(t *testing.T) {
	f := NewPartFilter(ModePredict, 0.1, 0.6)
	frames := []skeleton.Part{part(1, 0.9), part(2, 0.9), part(3, 0.1), part(4, 0.2)}

	var written []bool
	for _, p := range frames {
		out, write, err := f.Step(p)
		require.NoError(t, err)
		written = append(written, write)
		if write && p.Likelihood < 0.6 {
			assert.NotEqual(t, p.Vec, out.Vec)
			assert.Equal(t, p.Likelihood, out.Likelihood)
		}
	}
	assert.Equal(t, []bool{false, true, true, true}, written)

	g := NewPartFilter(ModePredict, 0.1, 0.6)
	_, write, err := g.Step(part(1, 0.1))
	require.NoError(t, err)
	assert.False(t, write, "nothing to extrapolate from")
}

func TestSkeletonTracker(t *testing.T) {
	parts := []string{"a", "b"}
	s := skeleton.New(parts, map[string][]float64{"a": {0, 0}, "b": {1, 1}}, map[string]float64{"a": 1, "b": 1}, nil, 2)
	st, err := NewSkeletonTracker(s, 0.5)
	require.NoError(t, err)

	next := skeleton.New(parts, map[string][]float64{"a": {1, 1}, "b": {50, 50}}, map[string]float64{"a": 1, "b": 0.1}, nil, 2)
	out := st.Update(next, 0.8)
	assert.Greater(t, out.Part("a").Vec[0], 0.5)
	assert.Equal(t, []float64{1, 1}, out.Part("b").Vec)

	pred, ok := st.NextPrediction("a")
	require.True(t, ok)
	assert.Len(t, pred, 2)
	_, ok = st.NextPrediction("zzz")
	assert.False(t, ok)
}
