package processor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/cvkit/pkg/datastore"
	"github.com/sanonone/cvkit/pkg/skeleton"
)

func TestRegistryBuiltins(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{
		IDRegionFilter2D,
		IDDeconstruct,
		IDReconstruct,
		IDClusterAnalysis,
		IDDistanceStats,
		IDGenerateVelocity,
		IDInterpolation,
		IDKalmanFilter,
		IDLoadFile,
		IDMedianDistanceCulling,
		IDMovingAverage,
		IDSaveFile,
		IDUndistort,
		IDVelocityFilter,
	}, r.IDs())

	_, err := r.Build("cvkit_nope", Env{}, nil)
	assert.ErrorIs(t, err, ErrUnknownProcessor)
}

func TestRegistryParams(t *testing.T) {
	r := NewRegistry()
	env := Env{Config: testConfig("snout")}

	p, err := r.Build(IDInterpolation, env, Params{"target_column": "snout"})
	require.NoError(t, err)
	interp := p.(*LinearInterpolation)
	assert.Equal(t, 10, interp.MaxClusterSize)
	assert.Equal(t, 0.6, interp.Threshold)

	tests := map[string]struct {
		id     string
		params Params
	}{
		"missing target":  {IDInterpolation, nil},
		"unknown key":     {IDMovingAverage, Params{"target_column": "snout", "window_size": 3, "bogus": 1}},
		"zero window":     {IDMovingAverage, Params{"target_column": "snout", "window_size": 0}},
		"threshold range": {IDClusterAnalysis, Params{"threshold": 2}},
		"no regions":      {IDRegionFilter2D, Params{}},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := r.Build(tc.id, env, tc.params)
			assert.ErrorIs(t, err, ErrInvalidParams)
		})
	}

	_, err = r.Build(IDReconstruct, Env{}, nil)
	assert.ErrorIs(t, err, ErrInvalidParams, "reconstruction needs a configuration")
}

func TestRegistryCustomProcessor(t *testing.T) {
	r := NewRegistry(WithoutBuiltinProcessors(), WithProcessor("noop", func(Env, Params) (Processor, error) {
		return NewSaveFile(""), nil
	}))
	assert.Equal(t, []string{"noop"}, r.IDs())
}

func TestRegionsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regions.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"x": [0, 10], "y": [5, 6]}]`), 0o644))

	p, err := NewRegistry().Build(IDRegionFilter2D, Env{}, Params{"uncertainty_regions_file": path})
	require.NoError(t, err)
	assert.Equal(t, []Region{{X: [2]float64{0, 10}, Y: [2]float64{5, 6}}}, p.(*RegionFilter2D).Regions)
}

func TestLoadMatrixJSON(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	require.NoError(t, os.WriteFile(good, []byte(`[[0, 1], [1, 0]]`), 0o644))
	m, err := LoadMatrixJSON(good)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0, 1}, {1, 0}}, m)

	ragged := filepath.Join(dir, "ragged.json")
	require.NoError(t, os.WriteFile(ragged, []byte(`[[0, 1], [1]]`), 0o644))
	_, err = LoadMatrixJSON(ragged)
	assert.Error(t, err)
}

func TestPlanRunsFromFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "input.csv")
	ds, err := datastore.NewDeepLabCut([]string{"snout"}, src)
	require.NoError(t, err)
	for i, lik := range []float64{0.9, 0.1, 0.9} {
		ds.SetPart(i, skeleton.NewPart([]float64{float64(i), 0}, "snout", lik))
	}
	require.NoError(t, ds.Save(""))

	out := filepath.Join(dir, "filled.csv")
	plan := `steps:
  - processor: cvkit_load_file
    params: {path: ` + src + `, flavor: deeplabcut}
  - processor: cvkit_cluster_analysis
  - processor: cvkit_interpolation
    params: {target_column: snout, threshold: 0.7}
  - processor: cvkit_save_file
    params: {path: ` + out + `}
`
	planPath := filepath.Join(dir, "plan.yaml")
	require.NoError(t, os.WriteFile(planPath, []byte(plan), 0o644))

	loaded, err := LoadPlan(planPath)
	require.NoError(t, err)
	require.Len(t, loaded.Steps, 4)

	pipe, err := NewRegistry().Pipeline(Env{Config: testConfig("snout")}, loaded, nil)
	require.NoError(t, err)
	result, _, err := pipe.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0.7, result.GetPart(1, "snout").Likelihood)

	back, err := datastore.NewDeepLabCut([]string{"snout"}, out)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, back.GetPart(1, "snout").Vec[0], 1e-9)
	assert.Equal(t, 0.7, back.GetPart(1, "snout").Likelihood)
}

func TestLoadPlanRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte("steps: []\n"), 0o644))
	_, err := LoadPlan(path)
	assert.ErrorIs(t, err, ErrInvalidParams)
}
