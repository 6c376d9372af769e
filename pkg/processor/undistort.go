package processor

import (
	"context"
	"fmt"

	"github.com/sanonone/cvkit/pkg/config"
	"github.com/sanonone/cvkit/pkg/datastore"
	"github.com/sanonone/cvkit/pkg/dlt"
)

// IDUndistort is the processor id of lens undistortion.
const IDUndistort = "cvkit_undistort_pts"

// Undistort removes lens distortion from the 2D keypoints of one view using
// its focal length, principal point and distortion coefficients. Missing
// keypoints are left untouched.
type Undistort struct {
	*Base
	cfg        *config.Config
	SourceView string
}

// NewUndistort returns the undistortion step for view.
func NewUndistort(cfg *config.Config, view string) *Undistort {
	return &Undistort{Base: newBase(IDUndistort, "Undistort Points", false), cfg: cfg, SourceView: view}
}

func (p *Undistort) Process(ctx context.Context, ds datastore.DataStore) error {
	if err := p.start(ds); err != nil {
		return err
	}
	camera, err := p.cfg.View(p.SourceView)
	if err != nil {
		return err
	}
	if !camera.Intrinsics() {
		return fmt.Errorf("%w: view %s has no focal length or principal point", ErrInvalidParams, p.SourceView)
	}
	k := dlt.Intrinsic(camera.FPx, camera.Center())

	total := ds.Len()
	done := 0
	for index, s := range ds.RowIterator() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var names []string
		var pts [][2]float64
		for _, part := range s.Parts() {
			if !part.ConfidenceAbove(0) || part.IsSentinel() || part.Dims() < 2 {
				continue
			}
			names = append(names, part.Name)
			pts = append(pts, [2]float64{part.Vec[0], part.Vec[1]})
		}
		for i, pt := range dlt.UndistortPoints(pts, k, camera.Distortion) {
			part := s.Part(names[i]).Clone()
			part.Vec[0], part.Vec[1] = pt[0], pt[1]
			s.Set(part)
		}
		ds.SetSkeleton(index, s, false)
		done++
		p.tick(done, total)
	}
	p.finish(ds)
	return nil
}
