// Package config holds the project-level pose estimation configuration: the
// keypoint list, per-camera calibration and the reconstruction transform.
package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/sanonone/cvkit/pkg/dlt"
)

// DefaultThreshold is the likelihood a keypoint needs to count as confident.
const DefaultThreshold = 0.6

// Reconstruction algorithms.
const (
	AlgorithmDefault    = "default"
	AlgorithmAutoSubset = "auto_subset"
)

var (
	// ErrInvalidConfig wraps every validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrMissingFile is returned when a file referenced by the configuration does not exist.
	ErrMissingFile = errors.New("referenced file not found")
	// ErrUnknownView is returned when a view name is not declared under views.
	ErrUnknownView = errors.New("unknown camera view")
)

// Axes are the 2D image positions of the world axis reference points.
type Axes struct {
	Origin []float64 `yaml:"origin,omitempty" toml:"origin,omitempty" validate:"omitempty,len=2"`
	XMax   []float64 `yaml:"x_max,omitempty" toml:"x_max,omitempty" validate:"omitempty,len=2"`
	YMax   []float64 `yaml:"y_max,omitempty" toml:"y_max,omitempty" validate:"omitempty,len=2"`
}

// Complete reports whether all three reference points are set.
func (a Axes) Complete() bool {
	return len(a.Origin) == 2 && len(a.XMax) == 2 && len(a.YMax) == 2
}

// CameraView is the calibration of one camera.
type CameraView struct {
	Axes            Axes      `yaml:"axes,omitempty" toml:"axes,omitempty"`
	DLTCoefficients []float64 `yaml:"dlt_coefficients" toml:"dlt_coefficients" validate:"len=12"`
	Pos             []float64 `yaml:"pos,omitempty" toml:"pos,omitempty"`
	Resolution      []int     `yaml:"resolution,omitempty" toml:"resolution,omitempty" validate:"omitempty,len=2,dive,gt=0"`
	PrincipalPoint  []float64 `yaml:"principal_point,omitempty" toml:"principal_point,omitempty" validate:"omitempty,len=2"`
	FPx             float64   `yaml:"f_px" toml:"f_px"`
	Distortion      []float64 `yaml:"distortion,omitempty" toml:"distortion,omitempty" validate:"omitempty,min=4"`
}

// Intrinsics reports whether the focal length and principal point are known.
func (v *CameraView) Intrinsics() bool {
	return v.FPx > 0 && len(v.PrincipalPoint) == 2
}

// Center returns the principal point.
func (v *CameraView) Center() [2]float64 {
	return [2]float64{v.PrincipalPoint[0], v.PrincipalPoint[1]}
}

// Annotation points a view at its keypoint file and video.
type Annotation struct {
	View           string `yaml:"view,omitempty" toml:"view,omitempty"`
	AnnotationFile string `yaml:"annotation_file" toml:"annotation_file" validate:"required"`
	Flavor         string `yaml:"annotation_file_flavor" toml:"annotation_file_flavor" validate:"required"`
	VideoFile      string `yaml:"video_file,omitempty" toml:"video_file,omitempty"`
	VideoReader    string `yaml:"video_reader,omitempty" toml:"video_reader,omitempty"`
}

// Reconstruction is the world-frame transform and the triangulation policy.
type Reconstruction struct {
	Threshold      float64     `yaml:"threshold" toml:"threshold" validate:"gte=0,lt=1"`
	Framerate      float64     `yaml:"framerate" toml:"framerate" validate:"gt=0"`
	RotationMatrix [][]float64 `yaml:"rotation_matrix" toml:"rotation_matrix" validate:"len=3,dive,len=3"`
	Scale          float64     `yaml:"scale" toml:"scale" validate:"gt=0"`
	ComputedScale  float64     `yaml:"computed_scale" toml:"computed_scale" validate:"gte=0"`
	Translation    []float64   `yaml:"translation_vector" toml:"translation_vector" validate:"len=3"`
	// LegacyTranslation is the older key for Translation; it is folded into
	// Translation on load and never written back.
	LegacyTranslation []float64 `yaml:"translation_matrix,omitempty" toml:"translation_matrix,omitempty" validate:"omitempty,len=3"`
	AxisRotation      []int     `yaml:"axis_rotation_3D" toml:"axis_rotation_3D" validate:"len=3,dive,oneof=-1 1"`
	// AxisLengths are the physical lengths of the x and y reference axes.
	AxisLengths []float64 `yaml:"axis_lengths,omitempty" toml:"axis_lengths,omitempty" validate:"omitempty,len=2,dive,gt=0"`
	Algorithm   string    `yaml:"reconstruction_algorithm" toml:"reconstruction_algorithm" validate:"oneof=default auto_subset"`
}

// Config is a pose estimation project.
type Config struct {
	Name           string                 `yaml:"name" toml:"name"`
	OutputFolder   string                 `yaml:"output_folder" toml:"output_folder"`
	BodyParts      []string               `yaml:"body_parts" toml:"body_parts" validate:"required,min=1,unique,dive,required"`
	Skeleton       [][]string             `yaml:"skeleton" toml:"skeleton" validate:"dive,len=2"`
	Behaviours     []string               `yaml:"behaviours,omitempty" toml:"behaviours,omitempty"`
	Colors         [][]int                `yaml:"colors,omitempty" toml:"colors,omitempty"`
	Annotation     map[string]*Annotation `yaml:"annotation,omitempty" toml:"annotation,omitempty" validate:"dive"`
	Views          map[string]*CameraView `yaml:"views" toml:"views" validate:"dive,required"`
	Reconstruction Reconstruction         `yaml:"Reconstruction" toml:"Reconstruction"`

	path      string
	viewOrder []string
}

// Default returns a configuration with every optional field at its default.
func Default() Config {
	return Config{
		Name:  "unnamed",
		Views: map[string]*CameraView{},
		Reconstruction: Reconstruction{
			Threshold:      DefaultThreshold,
			Framerate:      30,
			RotationMatrix: [][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
			Scale:          1,
			Translation:    []float64{0, 0, 0},
			AxisRotation:   []int{1, 1, 1},
			Algorithm:      AlgorithmDefault,
		},
	}
}

// Path returns the file the configuration was loaded from.
func (c *Config) Path() string { return c.path }

// ViewNames returns the camera views in declaration order.
func (c *Config) ViewNames() []string {
	if len(c.viewOrder) == len(c.Views) {
		return slices.Clone(c.viewOrder)
	}
	names := make([]string, 0, len(c.Views))
	for _, name := range c.viewOrder {
		if _, ok := c.Views[name]; ok {
			names = append(names, name)
		}
	}
	for _, name := range sortedKeys(c.Views) {
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	return names
}

// AddView declares a new view, or replaces an existing one in place.
func (c *Config) AddView(name string, v *CameraView) {
	if c.Views == nil {
		c.Views = map[string]*CameraView{}
	}
	if _, ok := c.Views[name]; !ok {
		c.viewOrder = append(c.ViewNames(), name)
	}
	c.Views[name] = v
}

// View returns the calibration of name.
func (c *Config) View(name string) (*CameraView, error) {
	v, ok := c.Views[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownView, name)
	}
	return v, nil
}

// DLTCoefficients returns the coefficient rows of views in order.
func (c *Config) DLTCoefficients(views []string) ([][]float64, error) {
	out := make([][]float64, len(views))
	for i, name := range views {
		v, err := c.View(name)
		if err != nil {
			return nil, err
		}
		out[i] = v.DLTCoefficients
	}
	return out, nil
}

// AnnotationFor returns the annotation of view: the entry whose view field
// names it, or else the entry keyed by it.
func (c *Config) AnnotationFor(view string) (*Annotation, bool) {
	for _, key := range sortedKeys(c.Annotation) {
		if a := c.Annotation[key]; a.View == view {
			return a, true
		}
	}
	a, ok := c.Annotation[view]
	return a, ok
}

// AutoSubset reports whether keypoints may be triangulated from any two or
// more confident views.
func (c *Config) AutoSubset() bool {
	return c.Reconstruction.Algorithm == AlgorithmAutoSubset
}

// Threshold returns the reconstruction likelihood threshold.
func (c *Config) Threshold() float64 { return c.Reconstruction.Threshold }

// Axis returns the axis flip vector as floats.
func (c *Config) Axis() [3]float64 {
	var out [3]float64
	for i := range out {
		out[i] = float64(c.Reconstruction.AxisRotation[i])
	}
	return out
}

// Transform builds the world-frame transform used for reconstruction. The
// computed scale is used when set, the configured scale otherwise.
func (c *Config) Transform() (*dlt.Transform, error) {
	r := c.Reconstruction
	var t [3]float64
	copy(t[:], r.Translation)
	scale := r.ComputedScale
	if scale == 0 {
		scale = r.Scale
	}
	return dlt.NewTransform(r.RotationMatrix, c.Axis(), t, scale)
}

// SetAlignment stores the result of an alignment pass.
func (c *Config) SetAlignment(rotation [][]float64, translation [3]float64, computedScale float64) {
	c.Reconstruction.RotationMatrix = rotation
	c.Reconstruction.Translation = translation[:]
	c.Reconstruction.ComputedScale = computedScale
}

// Clone returns a deep copy, sufficient to roll back a failed update.
func (c *Config) Clone() *Config {
	out := *c
	out.BodyParts = slices.Clone(c.BodyParts)
	out.viewOrder = slices.Clone(c.viewOrder)
	out.Views = make(map[string]*CameraView, len(c.Views))
	for k, v := range c.Views {
		cp := *v
		cp.DLTCoefficients = slices.Clone(v.DLTCoefficients)
		out.Views[k] = &cp
	}
	r := c.Reconstruction
	out.Reconstruction.RotationMatrix = make([][]float64, len(r.RotationMatrix))
	for i, row := range r.RotationMatrix {
		out.Reconstruction.RotationMatrix[i] = slices.Clone(row)
	}
	out.Reconstruction.Translation = slices.Clone(r.Translation)
	out.Reconstruction.AxisRotation = slices.Clone(r.AxisRotation)
	return &out
}
