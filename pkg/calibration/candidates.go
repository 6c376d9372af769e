package calibration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/sanonone/cvkit/pkg/config"
	"github.com/sanonone/cvkit/pkg/datastore"
)

// ErrInvalidOptions is returned for unusable candidate selection options.
var ErrInvalidOptions = errors.New("invalid candidate options")

// CandidateOptions tune PickCalibrationCandidates.
type CandidateOptions struct {
	// Resolution is the image size in pixels. Zero means the resolution of
	// the first configured view.
	Resolution [2]int
	BinSize    int
	// MinFrameGap is the number of frames a bin must lie past its previous
	// pick. Zero means a tenth of a second at the configured framerate.
	MinFrameGap int
	// MaxCandidates caps the result by uniform sampling. Zero keeps all.
	MaxCandidates int
	Seed          int64
}

func (o CandidateOptions) withDefaults(cfg *config.Config) (CandidateOptions, error) {
	if o.Resolution == [2]int{} {
		for _, name := range cfg.ViewNames() {
			if v := cfg.Views[name]; len(v.Resolution) == 2 {
				o.Resolution = [2]int{v.Resolution[0], v.Resolution[1]}
				break
			}
		}
	}
	if o.Resolution[0] <= 0 || o.Resolution[1] <= 0 {
		return o, fmt.Errorf("%w: resolution %v", ErrInvalidOptions, o.Resolution)
	}
	if o.BinSize <= 0 {
		return o, fmt.Errorf("%w: bin size must be positive", ErrInvalidOptions)
	}
	if o.MinFrameGap <= 0 {
		o.MinFrameGap = int(cfg.Reconstruction.Framerate * 0.1)
	}
	if o.MaxCandidates < 0 {
		return o, fmt.Errorf("%w: negative candidate limit", ErrInvalidOptions)
	}
	return o, nil
}

// PickCalibrationCandidates selects frames suitable as wand points: frames
// where every store is accurate, spread over the image by binning the first
// keypoint of the first store into BinSize squares and keeping at most one
// frame per square. Stale statistics are recomputed first. The result is in
// ascending frame order.
func PickCalibrationCandidates(ctx context.Context, cfg *config.Config, stores []datastore.DataStore, opts CandidateOptions) ([]int, error) {
	if len(stores) < 2 {
		return nil, fmt.Errorf("%w: need at least two datastores, got %d", ErrInvalidOptions, len(stores))
	}
	opts, err := opts.withDefaults(cfg)
	if err != nil {
		return nil, err
	}

	var accurate []datastore.Cluster
	for i, ds := range stores {
		stats, err := datastore.EnsureStats(ds, cfg.Threshold())
		if err != nil {
			return nil, fmt.Errorf("store %d: %w", i, err)
		}
		if i == 0 {
			accurate = stats.AccurateClusters()
			continue
		}
		accurate = datastore.Intersect(accurate, stats.AccurateClusters())
	}

	first := stores[0]
	part := first.BodyParts()[0]
	nx, ny := opts.Resolution[0]/opts.BinSize, opts.Resolution[1]/opts.BinSize
	taken := make([]bool, nx*ny)
	lastFrame := make([]int, nx*ny)

	var candidates []int
	for _, c := range accurate {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for index := c.Begin; index <= c.End; index++ {
			pos := first.GetPart(index, part).Vec
			bx := int(math.Floor(pos[0] / float64(opts.BinSize)))
			by := int(math.Floor(pos[1] / float64(opts.BinSize)))
			if bx < 0 || bx >= nx || by < 0 || by >= ny {
				continue
			}
			bin := bx*ny + by
			if taken[bin] || index-lastFrame[bin] <= opts.MinFrameGap {
				continue
			}
			taken[bin] = true
			lastFrame[bin] = index
			candidates = append(candidates, index)
		}
	}

	found := len(candidates)
	if opts.MaxCandidates > 0 && len(candidates) > opts.MaxCandidates {
		rng := rand.New(rand.NewPCG(uint64(opts.Seed), 0))
		rng.Shuffle(len(candidates), func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})
		candidates = candidates[:opts.MaxCandidates]
	}
	slices.Sort(candidates)
	slog.Info("[Calibration] Candidates picked", "accurate_clusters", len(accurate), "found", found, "kept", len(candidates))
	return candidates, nil
}
