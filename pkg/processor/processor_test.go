package processor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/sanonone/cvkit/pkg/config"
	"github.com/sanonone/cvkit/pkg/datastore"
	"github.com/sanonone/cvkit/pkg/dlt"
	"github.com/sanonone/cvkit/pkg/skeleton"
	"github.com/sanonone/cvkit/pkg/tracker"
)

// camera returns normalized DLT coefficients of K[R|t].
func camera(f float64, r [9]float64, t [3]float64) []float64 {
	k := mat.NewDense(3, 3, []float64{f, 0, 640, 0, f, 480, 0, 0, 1})
	rt := mat.NewDense(3, 4, []float64{
		r[0], r[1], r[2], t[0],
		r[3], r[4], r[5], t[1],
		r[6], r[7], r[8], t[2],
	})
	var p mat.Dense
	p.Mul(k, rt)
	out := make([]float64, 0, 12)
	for i := range 3 {
		for j := range 4 {
			out = append(out, p.At(i, j)/p.At(2, 3))
		}
	}
	return out
}

var cams = [][]float64{
	camera(1000, [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}, [3]float64{0, 0, 10}),
	camera(900, [9]float64{0, 0, -1, 0, 1, 0, 1, 0, 0}, [3]float64{0, 0, 10}),
	camera(1100, [9]float64{1, 0, 0, 0, 0, -1, 0, 1, 0}, [3]float64{0, 0, 12}),
}

var viewNames = []string{"front", "side", "top"}

func identity(t *testing.T) *dlt.Transform {
	t.Helper()
	tr, err := dlt.NewTransform([][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}, [3]float64{1, 1, 1}, [3]float64{}, 1)
	require.NoError(t, err)
	return tr
}

func project(t *testing.T, point []float64) [][]float64 {
	t.Helper()
	uv, err := dlt.Project(cams, [][]float64{point})
	require.NoError(t, err)
	out := make([][]float64, len(cams))
	for i := range cams {
		out[i] = []float64{uv[0][2*i], uv[0][2*i+1]}
	}
	return out
}

func testConfig(bodyParts ...string) *config.Config {
	cfg := config.Default()
	cfg.BodyParts = bodyParts
	for i, name := range viewNames {
		cfg.AddView(name, &config.CameraView{DLTCoefficients: cams[i]})
	}
	return &cfg
}

func TestReconstructKeypointViewSubset(t *testing.T) {
	point := []float64{0.4, -0.3, 0.2}
	uv := project(t, point)
	// The unconfident side view is deliberately wrong.
	uv[1] = []float64{5, 5}
	observed := []skeleton.Part{
		skeleton.NewPart(uv[0], "snout", 0.9),
		skeleton.NewPart(uv[1], "snout", 0.3),
		skeleton.NewPart(uv[2], "snout", 0.8),
	}

	strict := ReconstructKeypoint("snout", observed, cams, 0.6, false, identity(t))
	assert.Nil(t, strict.Views)
	assert.True(t, strict.Part.IsSentinel())
	assert.Equal(t, 0.0, strict.Part.Likelihood)

	subset := ReconstructKeypoint("snout", observed, cams, 0.6, true, identity(t))
	assert.Equal(t, []int{0, 2}, subset.Views)
	assert.Equal(t, 0.8, subset.Part.Likelihood)
	for i := range point {
		assert.InDelta(t, point[i], subset.Part.Vec[i], 1e-3)
	}
}

func TestReconstructKeypointNeedsTwoViews(t *testing.T) {
	uv := project(t, []float64{0, 0, 0})
	observed := []skeleton.Part{
		skeleton.NewPart(uv[0], "snout", 0.9),
		skeleton.NewPart(uv[1], "snout", 0.1),
		skeleton.NewPart(uv[2], "snout", 0.1),
	}
	res := ReconstructKeypoint("snout", observed, cams, 0.6, true, identity(t))
	assert.Nil(t, res.Views)
	assert.True(t, res.Part.IsSentinel())
}

func dlcStore(t *testing.T, parts []string) datastore.DataStore {
	t.Helper()
	ds, err := datastore.NewDeepLabCut(parts, "")
	require.NoError(t, err)
	return ds
}

func TestReconstructDeconstructPipeline(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig("snout", "tail")
	cfg.OutputFolder = dir

	points := [][]float64{{0, 0, 0}, {0.5, 0.25, -0.5}, {1, -1, 0.5}}
	readers := map[string]datastore.DataStore{}
	for i, view := range viewNames {
		ds := dlcStore(t, cfg.BodyParts)
		for frame, pt := range points {
			uv := project(t, pt)
			ds.SetPart(frame, skeleton.NewPart(uv[i], "snout", 0.95))
			ds.SetPart(frame, skeleton.NewPart(uv[i], "tail", 0.2))
		}
		readers[view] = ds
	}

	recon := NewReconstruction(cfg, viewNames, readers, 0.6)
	recon.Workers = 2
	decon := NewDeconstruction(cfg, []string{"front", "top"}, "reprojected")
	out3D := filepath.Join(dir, "recon.csv")
	pipe := NewPipeline(nil, recon, NewClusterAnalysis(0.6), NewSaveFile(out3D), decon)

	out, run, err := pipe.Run(context.Background(), nil)
	require.NoError(t, err)
	status, _, progress := run.Snapshot()
	assert.Equal(t, RunStatusCompleted, status)
	assert.Equal(t, 100, progress)
	assert.NotEmpty(t, run.ID)

	require.NotNil(t, out)
	assert.Equal(t, datastore.FlavorCVKit3D, out.Flavor())
	assert.Equal(t, len(points), out.Len())
	assert.True(t, out.VerifyStats())
	for frame, pt := range points {
		got := out.GetPart(frame, "snout")
		for i := range pt {
			assert.InDelta(t, pt[i], got.Vec[i], 1e-3)
		}
		assert.True(t, out.GetPart(frame, "tail").IsSentinel())
	}
	_, err = os.Stat(out3D)
	require.NoError(t, err)

	assert.Nil(t, decon.Output())
	front, err := datastore.NewDeepLabCut(cfg.BodyParts, filepath.Join(dir, "reprojected_front.csv"))
	require.NoError(t, err)
	for frame, pt := range points {
		uv := project(t, pt)
		got := front.GetPart(frame, "snout")
		assert.InDelta(t, uv[0][0], got.Vec[0], 1)
		assert.InDelta(t, uv[0][1], got.Vec[1], 1)
		assert.Equal(t, 1.0, got.Likelihood)
		assert.Equal(t, 0.0, front.GetPart(frame, "tail").Likelihood)
	}
	assert.Contains(t, decon.Views(), "top")
}

func TestReconstructionRefusesExistingOutput(t *testing.T) {
	cfg := testConfig("snout")
	path := filepath.Join(t.TempDir(), "exists.csv")
	require.NoError(t, os.WriteFile(path, []byte("snout;behaviour\n"), 0o644))
	readers := map[string]datastore.DataStore{}
	for _, v := range viewNames {
		readers[v] = dlcStore(t, cfg.BodyParts)
	}
	p := NewReconstruction(cfg, viewNames, readers, 0.6)
	p.OutputPath = path
	assert.ErrorIs(t, p.Process(context.Background(), nil), datastore.ErrFileExists)
}

// seriesStore builds a one-keypoint 2D store with x = y = frame number.
func seriesStore(t *testing.T, likelihoods []float64) datastore.DataStore {
	t.Helper()
	ds := dlcStore(t, []string{"snout"})
	for i, lik := range likelihoods {
		ds.SetPart(i, skeleton.NewPart([]float64{float64(i), float64(i)}, "snout", lik))
	}
	return ds
}

func TestInterpolationBoundaryRule(t *testing.T) {
	liks := []float64{0.1, 0.1, 0.1, 0.9, 0.1, 0.1, 0.1, 0.9, 0.9, 0.1}
	ds := seriesStore(t, liks)
	// Displace the gap so that filling is observable.
	for i := 4; i <= 6; i++ {
		ds.SetPart(i, skeleton.NewPart([]float64{100, 100}, "snout", 0.1))
	}
	ctx := context.Background()
	require.NoError(t, NewClusterAnalysis(0.6).Process(ctx, ds))

	p := NewLinearInterpolation("snout", 0.55, 3)
	require.NoError(t, p.Process(ctx, ds))
	assert.Same(t, ds, p.Output())
	assert.Equal(t, 100, p.Progress())

	for i := 4; i <= 6; i++ {
		got := ds.GetPart(i, "snout")
		assert.InDelta(t, float64(i), got.Vec[0], 1e-9, "frame %d", i)
		assert.Equal(t, 0.55, got.Likelihood)
	}
	for _, i := range []int{0, 1, 2, 9} {
		assert.Equal(t, 0.1, ds.GetPart(i, "snout").Likelihood, "frame %d stays missing", i)
	}
}

func TestInterpolationSkipsLongClusters(t *testing.T) {
	ds := seriesStore(t, []float64{0.9, 0.1, 0.1, 0.1, 0.1, 0.9})
	ctx := context.Background()
	require.NoError(t, NewClusterAnalysis(0.6).Process(ctx, ds))
	require.NoError(t, NewLinearInterpolation("snout", 0.6, 3).Process(ctx, ds))
	assert.Equal(t, 0.1, ds.GetPart(2, "snout").Likelihood)
}

func TestStatsRequired(t *testing.T) {
	ds := seriesStore(t, []float64{0.9, 0.1, 0.9})
	ctx := context.Background()

	for _, p := range []Processor{
		NewLinearInterpolation("snout", 0.6, 10),
		NewRegionFilter2D([]Region{{X: [2]float64{0, 1}, Y: [2]float64{0, 1}}}),
		NewVelocityFilter(dlcStore(t, []string{"snout"}), 1),
	} {
		err := p.Process(ctx, ds)
		require.ErrorIs(t, err, ErrStatsRequired, p.ID())
		var sre *StatsRequiredError
		require.ErrorAs(t, err, &sre)
		assert.Contains(t, err.Error(), "run cluster analysis first")
		assert.Nil(t, p.Output())
	}

	require.NoError(t, NewClusterAnalysis(0.6).Process(ctx, ds))
	interp := NewLinearInterpolation("snout", 0.6, 10)
	require.NoError(t, interp.Process(ctx, ds))

	// Interpolation changed the content, so the statistics are stale again.
	assert.ErrorIs(t, interp.Process(ctx, ds), ErrStatsRequired)
}

func TestKalmanFilterSkipMode(t *testing.T) {
	ds := seriesStore(t, []float64{0.9, 0.9, 0.1, 0.1, 0.9})
	ds.SetPart(4, skeleton.NewPart([]float64{20, 20}, "snout", 0.9))
	p := NewKalmanFilter("snout", 30, tracker.ModeSkip, 0.6)
	require.NoError(t, p.Process(context.Background(), ds))

	assert.Equal(t, []float64{0, 0}, ds.GetPart(0, "snout").Vec)
	assert.NotEqual(t, []float64{1, 1}, ds.GetPart(1, "snout").Vec)
	assert.Equal(t, []float64{2, 2}, ds.GetPart(2, "snout").Vec)
	assert.Equal(t, []float64{20, 20}, ds.GetPart(4, "snout").Vec)
}

func TestMovingAverageWeights(t *testing.T) {
	ds := seriesStore(t, []float64{0.9, 0.9, 0.9, 0.1, 0.9})
	ds.SetPart(0, skeleton.NewPart([]float64{1, 1}, "snout", 0.9))
	ds.SetPart(1, skeleton.NewPart([]float64{2, 2}, "snout", 0.9))
	ds.SetPart(2, skeleton.NewPart([]float64{4, 4}, "snout", 0.9))

	require.NoError(t, NewMovingAverage("snout", 2, 0.6).Process(context.Background(), ds))

	assert.InDelta(t, 1.0, ds.GetPart(0, "snout").Vec[0], 1e-9)
	assert.InDelta(t, 1.8, ds.GetPart(1, "snout").Vec[0], 1e-9)
	// The window holds the smoothed frame 1 and raw frame 2.
	assert.InDelta(t, (1.8+4*4)/5, ds.GetPart(2, "snout").Vec[0], 1e-9)
	assert.InDelta(t, 4.0, ds.GetPart(4, "snout").Vec[0], 1e-9, "window restarts after a gap")
}

func TestMedianDistanceCulling(t *testing.T) {
	parts := []string{"a", "b", "c", "far"}
	ds := dlcStore(t, parts)
	ds.SetPart(0, skeleton.NewPart([]float64{0, 0}, "a", 1))
	ds.SetPart(0, skeleton.NewPart([]float64{1, 0}, "b", 1))
	ds.SetPart(0, skeleton.NewPart([]float64{0, 1}, "c", 1))
	ds.SetPart(0, skeleton.NewPart([]float64{1000, 1000}, "far", 1))

	require.NoError(t, NewMedianDistanceCulling(0.6, 400).Process(context.Background(), ds))
	assert.Equal(t, 0.0, ds.GetPart(0, "far").Likelihood)
	for _, name := range []string{"a", "b", "c"} {
		assert.Equal(t, 1.0, ds.GetPart(0, name).Likelihood, name)
	}
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 2.0, median([]float64{3, 1, 2}))
	assert.Equal(t, 2.5, median([]float64{4, 1, 3, 2}))
}

func TestDistanceOutliers(t *testing.T) {
	s := skeleton.New([]string{"a", "b", "c"},
		map[string][]float64{"a": {0, 0}, "b": {3, 4}, "c": {100, 0}},
		map[string]float64{"a": 1, "b": 1, "c": 1}, nil, 2)
	mean := [][]float64{{0, 5, 5}, {5, 0, 5}, {5, 5, 0}}
	sd := [][]float64{{1, 1, 1}, {1, 1, 1}, {1, 1, 1}}

	// a and b match the expected distances except towards c; c matches nothing but itself.
	assert.Equal(t, []int{2}, DistanceOutliers(s, mean, sd, 1, 0.5))
	assert.Empty(t, DistanceOutliers(s, mean, sd, 1000, 0.5))
}

func TestRegionFilter(t *testing.T) {
	ds := seriesStore(t, []float64{0.9, 0.9, 0.9})
	ctx := context.Background()
	require.NoError(t, NewClusterAnalysis(0.6).Process(ctx, ds))

	p := NewRegionFilter2D([]Region{{X: [2]float64{0.5, 1.5}, Y: [2]float64{0.5, 1.5}}})
	require.NoError(t, p.Process(ctx, ds))
	assert.Equal(t, 0.0, ds.GetPart(1, "snout").Likelihood)
	assert.Equal(t, 0.9, ds.GetPart(0, "snout").Likelihood)
	assert.Equal(t, 0.9, ds.GetPart(2, "snout").Likelihood)
}

func TestGenerateVelocityThenFilter(t *testing.T) {
	ds, err := datastore.NewCVKit3D([]string{"snout"}, "")
	require.NoError(t, err)
	for i, x := range []float64{0, 1, 2, 50, 4} {
		ds.SetPart(i, skeleton.NewPart([]float64{x, 0, 0}, "snout", 1))
	}
	aux, err := datastore.NewCVKit3D([]string{"snout"}, "")
	require.NoError(t, err)

	ctx := context.Background()
	gen := NewGenerateVelocity("snout", 10, 100, 0.6, aux)
	require.NoError(t, gen.Process(ctx, ds))
	assert.Same(t, ds, gen.Output())

	assert.Equal(t, []float64{0, 0, 0}, aux.GetPart(0, "snout").Vec)
	assert.InDeltaSlice(t, []float64{10, 0, 0}, aux.GetPart(1, "snout").Vec, 1e-9)
	assert.True(t, aux.GetPart(3, "snout").IsSentinel(), "a 480 units/s jump is rejected")
	// Frame 4 is measured against frame 2, the last accepted one.
	assert.InDeltaSlice(t, []float64{10, 0, 0}, aux.GetPart(4, "snout").Vec, 1e-9)

	require.NoError(t, NewClusterAnalysis(0.6).Process(ctx, ds))
	require.NoError(t, NewVelocityFilter(aux, 50).Process(ctx, ds))
	assert.True(t, ds.GetPart(3, "snout").IsSentinel())
	assert.Equal(t, []float64{4, 0, 0}, ds.GetPart(4, "snout").Vec)
}

func TestUndistortInvertsDistortion(t *testing.T) {
	cfg := testConfig("snout")
	view := cfg.Views["front"]
	view.FPx = 800
	view.PrincipalPoint = []float64{320, 240}
	view.Distortion = []float64{-0.2, 0.05, 0.001, -0.001}

	k := dlt.Intrinsic(800, [2]float64{320, 240})
	clean := [2]float64{500, 100}
	distorted := dlt.Distort(clean, k, view.Distortion)

	ds := dlcStore(t, []string{"snout"})
	ds.SetPart(0, skeleton.NewPart(distorted[:], "snout", 0.9))
	ds.SetPart(1, skeleton.NewPart([]float64{-1, -1}, "snout", 0))

	require.NoError(t, NewUndistort(cfg, "front").Process(context.Background(), ds))
	got := ds.GetPart(0, "snout")
	assert.InDelta(t, clean[0], got.Vec[0], 1e-3)
	assert.InDelta(t, clean[1], got.Vec[1], 1e-3)
	assert.Equal(t, []float64{-1, -1}, ds.GetPart(1, "snout").Vec)
}

func TestUndistortNeedsIntrinsics(t *testing.T) {
	err := NewUndistort(testConfig("snout"), "front").Process(context.Background(), dlcStore(t, []string{"snout"}))
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestProgressIsMonotonic(t *testing.T) {
	b := newBase("x", "X", false)
	b.setProgress(50)
	b.setProgress(30)
	assert.Equal(t, 50, b.Progress())
	b.setProgress(250)
	assert.Equal(t, 100, b.Progress())
	b.begin()
	assert.Equal(t, 0, b.Progress())
}

func TestPipelineCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ds := seriesStore(t, []float64{0.9})
	out, run, err := NewPipeline(nil, NewClusterAnalysis(0.6)).Run(ctx, ds)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Same(t, ds, out)
	status, _, _ := run.Snapshot()
	assert.Equal(t, RunStatusFailed, status)
	assert.NotEmpty(t, run.Error)
}

func TestPipelineStopsAtFailingStep(t *testing.T) {
	ds := seriesStore(t, []float64{0.9, 0.1, 0.9})
	save := NewSaveFile(filepath.Join(t.TempDir(), "never.csv"))
	_, run, err := NewPipeline(nil, NewLinearInterpolation("snout", 0.6, 5), save).Run(context.Background(), ds)
	require.ErrorIs(t, err, ErrStatsRequired)
	_, step, _ := run.Snapshot()
	assert.Equal(t, IDInterpolation, step)
	assert.Nil(t, save.Output())
}
