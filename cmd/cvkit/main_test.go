package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/cvkit/pkg/config"
	"github.com/sanonone/cvkit/pkg/datastore"
	"github.com/sanonone/cvkit/pkg/skeleton"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log-level", "error", "--log-format", "text"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// writeProject writes a one-view project whose annotation has a gap at frame 2.
func writeProject(t *testing.T) (dir, cfgPath, annotation string) {
	t.Helper()
	dir = t.TempDir()
	annotation = filepath.Join(dir, "front.csv")
	ds, err := datastore.NewDeepLabCut([]string{"snout", "tail"}, annotation)
	require.NoError(t, err)
	for i := range 6 {
		lik := 0.95
		if i == 2 {
			lik = 0.2
		}
		ds.SetPart(i, skeleton.NewPart([]float64{float64(10 * i), 5}, "snout", lik))
		ds.SetPart(i, skeleton.NewPart([]float64{float64(10*i) + 3, 8}, "tail", 0.9))
	}
	require.NoError(t, ds.Save(""))

	cfg := config.Default()
	cfg.Name = "arena"
	cfg.OutputFolder = dir
	cfg.BodyParts = []string{"snout", "tail"}
	cfg.AddView("front", &config.CameraView{DLTCoefficients: []float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 1}})
	cfg.Annotation = map[string]*config.Annotation{
		"front": {AnnotationFile: annotation, Flavor: datastore.FlavorDeepLabCut},
	}
	cfgPath = filepath.Join(dir, "config.yaml")
	require.NoError(t, cfg.Save(cfgPath))
	return dir, cfgPath, annotation
}

func TestStatsCommand(t *testing.T) {
	_, cfgPath, annotation := writeProject(t)

	out, err := execute(t, "--config", cfgPath, "stats", annotation)
	require.NoError(t, err)
	assert.Contains(t, out, "6 frames")
	assert.Contains(t, out, "snout")
	assert.Contains(t, out, "2 accurate clusters")

	ds, err := datastore.NewDeepLabCut([]string{"snout", "tail"}, annotation)
	require.NoError(t, err)
	_, err = os.Stat(datastore.StatsPath(ds.BasePath()))
	assert.NoError(t, err, "statistics sidecar is written")
}

func TestStatsCommandNeedsParts(t *testing.T) {
	_, _, annotation := writeProject(t)
	_, err := execute(t, "stats", annotation)
	assert.Error(t, err)

	out, err := execute(t, "stats", "--parts", "snout,tail", "--threshold", "0.1", annotation)
	require.NoError(t, err)
	assert.Contains(t, out, "1 accurate clusters")
}

func TestConvertCommand(t *testing.T) {
	dir, _, annotation := writeProject(t)
	target := filepath.Join(dir, "front_3d.csv")

	_, err := execute(t, "convert", "--parts", "snout,tail", "--to", datastore.FlavorFlattened, annotation, target)
	require.NoError(t, err)
	_, err = os.Stat(target)
	require.NoError(t, err)

	_, err = execute(t, "convert", "--parts", "snout,tail", "--to", datastore.FlavorFlattened, annotation, target)
	assert.ErrorIs(t, err, datastore.ErrFileExists)
}

func TestRunCommand(t *testing.T) {
	dir, cfgPath, annotation := writeProject(t)
	filled := filepath.Join(dir, "filled.csv")
	plan := `steps:
  - processor: cvkit_load_file
    params: {path: ` + annotation + `, flavor: deeplabcut}
  - processor: cvkit_cluster_analysis
  - processor: cvkit_interpolation
    params: {target_column: snout, threshold: 0.7}
  - processor: cvkit_save_file
    params: {path: ` + filled + `}
`
	planPath := filepath.Join(dir, "plan.yaml")
	require.NoError(t, os.WriteFile(planPath, []byte(plan), 0o644))

	out, err := execute(t, "--config", cfgPath, "run", planPath)
	require.NoError(t, err)
	assert.Contains(t, out, "completed")

	ds, err := datastore.NewDeepLabCut([]string{"snout", "tail"}, filled)
	require.NoError(t, err)
	p := ds.GetPart(2, "snout")
	assert.Equal(t, 0.7, p.Likelihood)
	assert.InDelta(t, 20.0, p.Vec[0], 1e-9)
}

func TestRunCommandReportsFailedStep(t *testing.T) {
	dir, cfgPath, annotation := writeProject(t)
	plan := `steps:
  - processor: cvkit_load_file
    params: {path: ` + annotation + `, flavor: deeplabcut}
  - processor: cvkit_interpolation
    params: {target_column: snout}
`
	planPath := filepath.Join(dir, "plan.yaml")
	require.NoError(t, os.WriteFile(planPath, []byte(plan), 0o644))

	out, err := execute(t, "--config", cfgPath, "run", planPath)
	require.Error(t, err)
	assert.Contains(t, out, "failed")
}
