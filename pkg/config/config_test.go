package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `name: mouse
output_folder: %s
body_parts: [snout, left_ear, tail]
skeleton:
  - [snout, left_ear]
views:
  top:
    dlt_coefficients: [1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 1]
    f_px: 800
    principal_point: [320, 240]
    resolution: [640, 480]
  side:
    dlt_coefficients: [0, 0, 1, 0, 0, 1, 0, 0, 1, 0, 0, 1]
    axes:
      origin: [10, 10]
      x_max: [100, 10]
      y_max: [10, 100]
  front:
    dlt_coefficients: [1, 1, 0, 0, 0, 1, 1, 0, 0, 0, 1, 1]
Reconstruction:
  framerate: 60
  scale: 2
  reconstruction_algorithm: auto_subset
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func sample(t *testing.T) string {
	return writeConfig(t, "project.yaml", fmt.Sprintf(sampleYAML, t.TempDir()))
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(sample(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"snout", "left_ear", "tail"}, cfg.BodyParts)
	assert.Equal(t, DefaultThreshold, cfg.Threshold())
	assert.Equal(t, 2.0, cfg.Reconstruction.ComputedScale)
	assert.Equal(t, []float64{0, 0, 0}, cfg.Reconstruction.Translation)
	assert.Equal(t, [3]float64{1, 1, 1}, cfg.Axis())
	assert.True(t, cfg.AutoSubset())
	assert.Equal(t, []string{"top", "side", "front"}, cfg.ViewNames())

	side, err := cfg.View("side")
	require.NoError(t, err)
	assert.True(t, side.Axes.Complete())
	_, err = cfg.View("missing")
	assert.ErrorIs(t, err, ErrUnknownView)

	tr, err := cfg.Transform()
	require.NoError(t, err)
	assert.Equal(t, 2.0, tr.Scale)
}

func TestLoadRejectsShapeErrors(t *testing.T) {
	out := t.TempDir()
	tests := map[string]string{
		"short dlt": `body_parts: [a]
views:
  v: {dlt_coefficients: [1, 2, 3]}
Reconstruction: {framerate: 30}
`,
		"bad rotation": `body_parts: [a]
Reconstruction:
  framerate: 30
  rotation_matrix: [[1, 0], [0, 1]]
`,
		"bad axis flip": `body_parts: [a]
Reconstruction:
  framerate: 30
  axis_rotation_3D: [1, 2, 1]
`,
		"bad algorithm": `body_parts: [a]
Reconstruction:
  framerate: 30
  reconstruction_algorithm: magic
`,
		"threshold out of range": `body_parts: [a]
Reconstruction:
  framerate: 30
  threshold: 1.5
`,
		"unknown skeleton part": `body_parts: [a]
skeleton: [[a, b]]
Reconstruction: {framerate: 30}
`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "c.yaml", "output_folder: "+out+"\n"+body))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "c.yaml", "body_parts: [a]\nbogus: 1\nReconstruction: {framerate: 30}\n"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadMissingAnnotationFile(t *testing.T) {
	body := `body_parts: [a]
annotation:
  cam1:
    annotation_file: /definitely/not/here.csv
    annotation_file_flavor: deeplabcut
Reconstruction: {framerate: 30}
`
	_, err := Load(writeConfig(t, "c.yaml", body))
	assert.ErrorIs(t, err, ErrMissingFile)
}

func TestLoadTOML(t *testing.T) {
	body := `body_parts = ["a", "b"]

[views.v2]
dlt_coefficients = [1.0, 0.0, 0.0, 0.0, 0.0, 1.0, 0.0, 0.0, 0.0, 0.0, 0.0, 1.0]

[views.v1]
dlt_coefficients = [1.0, 0.0, 0.0, 0.0, 0.0, 1.0, 0.0, 0.0, 0.0, 0.0, 0.0, 1.0]

[Reconstruction]
framerate = 100.0
threshold = 0.8
translation_matrix = [1.0, 2.0, 3.0]
`
	cfg, err := Load(writeConfig(t, "c.toml", body))
	require.NoError(t, err)
	assert.Equal(t, 0.8, cfg.Threshold())
	assert.Equal(t, []float64{1, 2, 3}, cfg.Reconstruction.Translation)
	assert.Equal(t, []string{"v1", "v2"}, cfg.ViewNames())
}

func TestSaveRoundTrip(t *testing.T) {
	cfg, err := Load(sample(t))
	require.NoError(t, err)
	cfg.SetAlignment([][]float64{{0, 1, 0}, {1, 0, 0}, {0, 0, 1}}, [3]float64{-1, -2, -3}, 0.5)

	path := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, cfg.Save(path))
	back, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, cfg.ViewNames(), back.ViewNames())
	assert.Equal(t, []float64{-1, -2, -3}, back.Reconstruction.Translation)
	assert.Equal(t, 0.5, back.Reconstruction.ComputedScale)
	assert.Equal(t, [][]float64{{0, 1, 0}, {1, 0, 0}, {0, 0, 1}}, back.Reconstruction.RotationMatrix)
}

func TestCloneIsIndependent(t *testing.T) {
	cfg, err := Load(sample(t))
	require.NoError(t, err)
	cp := cfg.Clone()
	cp.Reconstruction.RotationMatrix[0][0] = 9
	cp.Views["top"].DLTCoefficients[0] = 9
	assert.Equal(t, 1.0, cfg.Reconstruction.RotationMatrix[0][0])
	assert.Equal(t, 1.0, cfg.Views["top"].DLTCoefficients[0])
}
