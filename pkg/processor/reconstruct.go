package processor

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/sanonone/cvkit/pkg/config"
	"github.com/sanonone/cvkit/pkg/datastore"
	"github.com/sanonone/cvkit/pkg/dlt"
	"github.com/sanonone/cvkit/pkg/metrics"
	"github.com/sanonone/cvkit/pkg/skeleton"
)

// IDReconstruct is the processor id of 3D reconstruction.
const IDReconstruct = "cvkit_3d_reconstruct"

// reconstructChunk is the number of frames one worker triangulates per task.
const reconstructChunk = 256

// Reconstruction triangulates the 2D keypoints of several views into a new
// 3D datastore. Its input datastore is ignored.
type Reconstruction struct {
	*Base
	cfg         *config.Config
	sourceViews []string
	readers     map[string]datastore.DataStore
	Threshold   float64
	// OutputPath is the file of the produced CVKit3D store. It may be empty.
	OutputPath string
	// Workers bounds the frames triangulated in parallel. Zero means GOMAXPROCS.
	Workers int
}

// NewReconstruction returns a reconstruction from sourceViews, reading view
// v from readers[v].
func NewReconstruction(cfg *config.Config, sourceViews []string, readers map[string]datastore.DataStore, threshold float64) *Reconstruction {
	return &Reconstruction{
		Base:        newBase(IDReconstruct, "Reconstruction", false),
		cfg:         cfg,
		sourceViews: sourceViews,
		readers:     readers,
		Threshold:   threshold,
	}
}

// KeypointResult is the outcome of triangulating one keypoint.
type KeypointResult struct {
	Part skeleton.Part
	// Views are the positions of the views that contributed, nil when the
	// keypoint was not reconstructed.
	Views []int
}

// ReconstructKeypoint triangulates one keypoint from its per-view
// observations. A view takes part when its likelihood reaches threshold.
// Without autoSubset every view must take part; with it any two suffice.
// The result is mapped through tr and carries the lowest likelihood among
// the contributing views. Keypoints that cannot be reconstructed come back
// as the sentinel with zero likelihood.
func ReconstructKeypoint(name string, observed []skeleton.Part, coeffs [][]float64, threshold float64, autoSubset bool, tr *dlt.Transform) KeypointResult {
	var views []int
	for i, p := range observed {
		if p.ConfidenceAtLeast(threshold) {
			views = append(views, i)
		}
	}
	empty := KeypointResult{Part: skeleton.EmptyPart(name, 3)}
	if len(views) == 0 || (len(views) != len(observed) && !(autoSubset && len(views) >= 2)) {
		return empty
	}

	l := make([][]float64, len(views))
	uv := make([][]float64, len(views))
	likelihood := observed[views[0]].Likelihood
	for k, i := range views {
		l[k] = coeffs[i]
		uv[k] = observed[i].Vec
		likelihood = min(likelihood, observed[i].Likelihood)
	}
	xyz, err := dlt.Triangulate(3, len(views), l, uv)
	if err != nil {
		return empty
	}
	return KeypointResult{Part: skeleton.NewPart(tr.Apply(xyz), name, likelihood), Views: views}
}

func (p *Reconstruction) Process(ctx context.Context, _ datastore.DataStore) error {
	p.begin()
	if len(p.sourceViews) == 0 {
		return fmt.Errorf("%w: no source views", ErrInvalidParams)
	}
	if p.OutputPath != "" {
		if _, err := os.Stat(p.OutputPath); err == nil {
			return fmt.Errorf("%w: %s", datastore.ErrFileExists, p.OutputPath)
		}
	}
	coeffs, err := p.cfg.DLTCoefficients(p.sourceViews)
	if err != nil {
		return err
	}
	tr, err := p.cfg.Transform()
	if err != nil {
		return err
	}
	readers := make([]datastore.DataStore, len(p.sourceViews))
	length := -1
	for i, view := range p.sourceViews {
		r, ok := p.readers[view]
		if !ok {
			return fmt.Errorf("%w: no datastore for view %q", ErrInvalidParams, view)
		}
		readers[i] = r
		if length < 0 || r.Len() < length {
			length = r.Len()
		}
	}

	bodyParts := p.cfg.BodyParts
	autoSubset := p.cfg.AutoSubset()
	frames := make([]skeleton.Skeleton, length)
	var done, rebuilt, skipped atomic.Int64

	workers := p.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for begin := 0; begin < length; begin += reconstructChunk {
		end := min(begin+reconstructChunk, length)
		g.Go(func() error {
			observed := make([]skeleton.Part, len(readers))
			for index := begin; index < end; index++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				views := make([]skeleton.Skeleton, len(readers))
				for i, r := range readers {
					views[i] = r.GetSkeleton(index)
				}
				parts := make([]skeleton.Part, len(bodyParts))
				for k, name := range bodyParts {
					for i := range views {
						observed[i] = views[i].Part(name)
					}
					res := ReconstructKeypoint(name, observed, coeffs, p.Threshold, autoSubset, tr)
					if res.Views == nil {
						skipped.Add(1)
					} else {
						rebuilt.Add(1)
					}
					parts[k] = res.Part
				}
				frames[index] = skeleton.FromParts(bodyParts, parts, nil, 3)
				p.tick(int(done.Add(1)), length)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	out, err := datastore.NewCVKit3D(bodyParts, p.OutputPath)
	if err != nil {
		return err
	}
	builder := datastore.NewSequentialBuilder(out, datastore.DefaultFlushEvery)
	for _, s := range frames {
		builder.Append(s)
	}
	metrics.ReconstructedKeypoints.WithLabelValues("reconstructed").Add(float64(rebuilt.Load()))
	metrics.ReconstructedKeypoints.WithLabelValues("skipped").Add(float64(skipped.Load()))
	p.logger.Info("[Reconstruct] Frames triangulated",
		"frames", length, "views", p.sourceViews, "reconstructed", rebuilt.Load(), "skipped", skipped.Load())
	p.finish(builder.Datastore())
	return nil
}
