package processor

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/sanonone/cvkit/pkg/config"
	"github.com/sanonone/cvkit/pkg/datastore"
	"github.com/sanonone/cvkit/pkg/tracker"
)

// ErrUnknownProcessor is returned for a processor id with no registered factory.
var ErrUnknownProcessor = errors.New("unknown processor")

// Env is what factories may draw on besides their own parameters.
type Env struct {
	Config *config.Config
	Stores *datastore.Registry
	// Readers supplies already opened per-view datastores. Views missing
	// here are opened from the configured annotation files.
	Readers map[string]datastore.DataStore
}

func (e Env) config() (*config.Config, error) {
	if e.Config == nil {
		return nil, fmt.Errorf("%w: a project configuration is required", ErrInvalidParams)
	}
	return e.Config, nil
}

func (e Env) stores() *datastore.Registry {
	if e.Stores == nil {
		return datastore.DefaultRegistry()
	}
	return e.Stores
}

func (e Env) threshold() float64 {
	if e.Config != nil {
		return e.Config.Threshold()
	}
	return config.DefaultThreshold
}

func (e Env) framerate() float64 {
	if e.Config != nil {
		return e.Config.Reconstruction.Framerate
	}
	return 0
}

func (e Env) readers(views []string) (map[string]datastore.DataStore, error) {
	cfg, err := e.config()
	if err != nil {
		return nil, err
	}
	out := make(map[string]datastore.DataStore, len(views))
	var missing []string
	for _, v := range views {
		if ds, ok := e.Readers[v]; ok {
			out[v] = ds
			continue
		}
		missing = append(missing, v)
	}
	opened, err := openAnnotations(e.stores(), cfg, missing)
	if err != nil {
		return nil, err
	}
	maps.Copy(out, opened)
	return out, nil
}

// Factory builds a processor from its parameters.
type Factory func(env Env, params Params) (Processor, error)

// Registry maps processor ids to factories. It is built once and read-only
// afterwards.
type Registry struct {
	factories map[string]Factory
}

// RegistryOption customizes a Registry under construction.
type RegistryOption func(map[string]Factory)

// WithProcessor adds or replaces the factory for id.
func WithProcessor(id string, f Factory) RegistryOption {
	return func(m map[string]Factory) { m[id] = f }
}

// WithoutBuiltinProcessors drops the built-in processors.
func WithoutBuiltinProcessors() RegistryOption {
	return func(m map[string]Factory) { clear(m) }
}

// NewRegistry returns a registry with the built-in processors plus those
// added by opts.
func NewRegistry(opts ...RegistryOption) *Registry {
	m := builtins()
	for _, opt := range opts {
		opt(m)
	}
	return &Registry{factories: m}
}

// IDs lists the registered processor ids in sorted order.
func (r *Registry) IDs() []string {
	return slices.Sorted(maps.Keys(r.factories))
}

// Build creates the processor id.
func (r *Registry) Build(id string, env Env, params Params) (Processor, error) {
	f, ok := r.factories[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProcessor, id)
	}
	p, err := f(env, params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}
	return p, nil
}

// Step is one entry of a pipeline file.
type Step struct {
	Processor string `yaml:"processor" validate:"required"`
	Params    Params `yaml:"params,omitempty"`
}

// Plan is a pipeline file: the processors to run, in order.
type Plan struct {
	Steps []Step `yaml:"steps" validate:"min=1,dive"`
}

// LoadPlan reads a YAML pipeline file.
func LoadPlan(path string) (*Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pipeline: %w", err)
	}
	var plan Plan
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&plan); err != nil {
		return nil, fmt.Errorf("YAML syntax error in pipeline: %w", err)
	}
	if err := validate.Struct(&plan); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return &plan, nil
}

// Pipeline builds every step of plan.
func (r *Registry) Pipeline(env Env, plan *Plan, logger *slog.Logger) (*Pipeline, error) {
	steps := make([]Processor, 0, len(plan.Steps))
	for i, s := range plan.Steps {
		p, err := r.Build(s.Processor, env, s.Params)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		steps = append(steps, p)
	}
	return NewPipeline(logger, steps...), nil
}

func builtins() map[string]Factory {
	return map[string]Factory{
		IDClusterAnalysis:       newClusterAnalysisFactory,
		IDLoadFile:              newLoadFileFactory,
		IDSaveFile:              newSaveFileFactory,
		IDReconstruct:           newReconstructionFactory,
		IDDeconstruct:           newDeconstructionFactory,
		IDInterpolation:         newInterpolationFactory,
		IDKalmanFilter:          newKalmanFactory,
		IDMovingAverage:         newMovingAverageFactory,
		IDMedianDistanceCulling: newMedianDistanceFactory,
		IDDistanceStats:         newDistanceStatsFactory,
		IDRegionFilter2D:        newRegionFilterFactory,
		IDVelocityFilter:        newVelocityFilterFactory,
		IDGenerateVelocity:      newGenerateVelocityFactory,
		IDUndistort:             newUndistortFactory,
	}
}

func newClusterAnalysisFactory(env Env, params Params) (Processor, error) {
	opts := struct {
		Threshold float64 `yaml:"threshold" validate:"gte=0,lte=1"`
	}{Threshold: env.threshold()}
	if err := params.Decode(&opts); err != nil {
		return nil, err
	}
	return NewClusterAnalysis(opts.Threshold), nil
}

func newLoadFileFactory(env Env, params Params) (Processor, error) {
	cfg, err := env.config()
	if err != nil {
		return nil, err
	}
	var opts struct {
		Path   string `yaml:"path" validate:"required"`
		Flavor string `yaml:"flavor" validate:"required"`
	}
	if err := params.Decode(&opts); err != nil {
		return nil, err
	}
	return NewLoadFile(env.stores(), cfg.BodyParts, opts.Path, opts.Flavor), nil
}

func newSaveFileFactory(_ Env, params Params) (Processor, error) {
	var opts struct {
		Path string `yaml:"path"`
	}
	if err := params.Decode(&opts); err != nil {
		return nil, err
	}
	return NewSaveFile(opts.Path), nil
}

func newReconstructionFactory(env Env, params Params) (Processor, error) {
	cfg, err := env.config()
	if err != nil {
		return nil, err
	}
	opts := struct {
		SourceViews []string `yaml:"source_views" validate:"min=1"`
		Threshold   float64  `yaml:"threshold" validate:"gte=0,lte=1"`
		Output      string   `yaml:"output"`
		Workers     int      `yaml:"workers" validate:"gte=0"`
	}{SourceViews: cfg.ViewNames(), Threshold: cfg.Threshold()}
	if err := params.Decode(&opts); err != nil {
		return nil, err
	}
	readers, err := env.readers(opts.SourceViews)
	if err != nil {
		return nil, err
	}
	p := NewReconstruction(cfg, opts.SourceViews, readers, opts.Threshold)
	p.OutputPath = opts.Output
	p.Workers = opts.Workers
	return p, nil
}

func newDeconstructionFactory(env Env, params Params) (Processor, error) {
	cfg, err := env.config()
	if err != nil {
		return nil, err
	}
	opts := struct {
		TargetViews []string `yaml:"target_views" validate:"min=1"`
		FilePrefix  string   `yaml:"file_prefix"`
	}{TargetViews: cfg.ViewNames()}
	if err := params.Decode(&opts); err != nil {
		return nil, err
	}
	return NewDeconstruction(cfg, opts.TargetViews, opts.FilePrefix), nil
}

func newInterpolationFactory(_ Env, params Params) (Processor, error) {
	opts := struct {
		Target         string  `yaml:"target_column" validate:"required"`
		Threshold      float64 `yaml:"threshold" validate:"gte=0,lte=1"`
		MaxClusterSize int     `yaml:"max_cluster_size" validate:"gte=1"`
	}{Threshold: config.DefaultThreshold, MaxClusterSize: 10}
	if err := params.Decode(&opts); err != nil {
		return nil, err
	}
	return NewLinearInterpolation(opts.Target, opts.Threshold, opts.MaxClusterSize), nil
}

func newKalmanFactory(env Env, params Params) (Processor, error) {
	opts := struct {
		Target    string  `yaml:"target_column" validate:"required"`
		Framerate float64 `yaml:"framerate" validate:"gt=0"`
		Skip      bool    `yaml:"skip"`
		Threshold float64 `yaml:"threshold" validate:"gte=0,lte=1"`
	}{Framerate: env.framerate(), Skip: true, Threshold: config.DefaultThreshold}
	if err := params.Decode(&opts); err != nil {
		return nil, err
	}
	mode := tracker.ModePredict
	if opts.Skip {
		mode = tracker.ModeSkip
	}
	return NewKalmanFilter(opts.Target, opts.Framerate, mode, opts.Threshold), nil
}

func newMovingAverageFactory(_ Env, params Params) (Processor, error) {
	opts := struct {
		Target     string  `yaml:"target_column" validate:"required"`
		WindowSize int     `yaml:"window_size" validate:"gte=1"`
		Threshold  float64 `yaml:"threshold" validate:"gte=0,lte=1"`
	}{Threshold: config.DefaultThreshold}
	if err := params.Decode(&opts); err != nil {
		return nil, err
	}
	return NewMovingAverage(opts.Target, opts.WindowSize, opts.Threshold), nil
}

func newMedianDistanceFactory(_ Env, params Params) (Processor, error) {
	opts := struct {
		Threshold         float64 `yaml:"threshold" validate:"gte=0,lte=1"`
		DistanceThreshold float64 `yaml:"distance_threshold" validate:"gt=0"`
	}{Threshold: config.DefaultThreshold, DistanceThreshold: 400}
	if err := params.Decode(&opts); err != nil {
		return nil, err
	}
	return NewMedianDistanceCulling(opts.Threshold, opts.DistanceThreshold), nil
}

func newDistanceStatsFactory(_ Env, params Params) (Processor, error) {
	opts := struct {
		Mean      string  `yaml:"distance_matrix_mean" validate:"required"`
		SD        string  `yaml:"distance_matrix_sd" validate:"required"`
		Threshold float64 `yaml:"threshold" validate:"gte=0,lte=1"`
		SDFactor  float64 `yaml:"sd_factor" validate:"gte=0"`
	}{Threshold: 0.5, SDFactor: 1.25}
	if err := params.Decode(&opts); err != nil {
		return nil, err
	}
	mean, err := LoadMatrixJSON(opts.Mean)
	if err != nil {
		return nil, err
	}
	sd, err := LoadMatrixJSON(opts.SD)
	if err != nil {
		return nil, err
	}
	return NewDistanceStatistics(mean, sd, opts.Threshold, opts.SDFactor), nil
}

func newRegionFilterFactory(_ Env, params Params) (Processor, error) {
	var opts struct {
		Regions     []Region `yaml:"uncertainty_regions"`
		RegionsFile string   `yaml:"uncertainty_regions_file"`
	}
	if err := params.Decode(&opts); err != nil {
		return nil, err
	}
	if opts.RegionsFile != "" {
		regions, err := LoadJSON[[]Region](opts.RegionsFile)
		if err != nil {
			return nil, err
		}
		opts.Regions = append(opts.Regions, regions...)
	}
	if len(opts.Regions) == 0 {
		return nil, fmt.Errorf("%w: no uncertainty regions", ErrInvalidParams)
	}
	return NewRegionFilter2D(opts.Regions), nil
}

func newVelocityFilterFactory(env Env, params Params) (Processor, error) {
	cfg, err := env.config()
	if err != nil {
		return nil, err
	}
	opts := struct {
		Path      string  `yaml:"velocity_path" validate:"required"`
		Flavor    string  `yaml:"velocity_flavor" validate:"required"`
		Threshold float64 `yaml:"threshold_velocity" validate:"gt=0"`
	}{Flavor: datastore.FlavorCVKit3D}
	if err := params.Decode(&opts); err != nil {
		return nil, err
	}
	velocity, err := env.stores().Open(opts.Flavor, cfg.BodyParts, opts.Path)
	if err != nil {
		return nil, err
	}
	return NewVelocityFilter(velocity, opts.Threshold), nil
}

func newGenerateVelocityFactory(env Env, params Params) (Processor, error) {
	cfg, err := env.config()
	if err != nil {
		return nil, err
	}
	opts := struct {
		Target            string  `yaml:"target_column" validate:"required"`
		Framerate         float64 `yaml:"framerate" validate:"gt=0"`
		VelocityThreshold float64 `yaml:"velocity_threshold" validate:"gt=0"`
		Threshold         float64 `yaml:"threshold" validate:"gte=0,lte=1"`
		Output            string  `yaml:"output"`
		Flavor            string  `yaml:"output_flavor" validate:"required"`
	}{Framerate: env.framerate(), Threshold: config.DefaultThreshold, Flavor: datastore.FlavorCVKit3D}
	if err := params.Decode(&opts); err != nil {
		return nil, err
	}
	aux, err := env.stores().Open(opts.Flavor, cfg.BodyParts, opts.Output)
	if err != nil {
		return nil, err
	}
	return NewGenerateVelocity(opts.Target, opts.Framerate, opts.VelocityThreshold, opts.Threshold, aux), nil
}

func newUndistortFactory(env Env, params Params) (Processor, error) {
	cfg, err := env.config()
	if err != nil {
		return nil, err
	}
	var opts struct {
		SourceView string `yaml:"source_view" validate:"required"`
	}
	if err := params.Decode(&opts); err != nil {
		return nil, err
	}
	if _, err := cfg.View(opts.SourceView); err != nil {
		return nil, err
	}
	return NewUndistort(cfg, opts.SourceView), nil
}
