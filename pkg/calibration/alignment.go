// Package calibration refines the camera setup of a project: it aligns the
// reconstruction frame to the axis reference points, selects wand frames
// for calibration and moves calibration data in and out of EasyWand.
package calibration

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/sanonone/cvkit/pkg/config"
	"github.com/sanonone/cvkit/pkg/dlt"
)

var errNonFinite = errors.New("non-finite alignment result")

// UpdateAlignmentMatrices triangulates the origin, x-max and y-max reference
// points of sourceViews and stores in cfg the rotation, translation and
// computed scale mapping them onto the canonical axes. It returns false, with
// cfg untouched, when the views cannot produce an alignment.
func UpdateAlignmentMatrices(cfg *config.Config, sourceViews []string) bool {
	if len(sourceViews) < 2 {
		slog.Warn("[Calibration] Alignment needs at least two views", "views", len(sourceViews))
		return false
	}
	a, err := computeAlignment(cfg, sourceViews)
	if err != nil {
		slog.Warn("[Calibration] Alignment failed", "views", sourceViews, "error", err)
		return false
	}
	cfg.SetAlignment(a.rotation, a.translation, a.computedScale)
	slog.Info("[Calibration] Alignment updated", "views", sourceViews, "computed_scale", a.computedScale)
	return true
}

type alignment struct {
	rotation      [][]float64
	translation   [3]float64
	computedScale float64
}

func computeAlignment(cfg *config.Config, views []string) (out alignment, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("numeric failure: %v", r)
		}
	}()

	coeffs, err := cfg.DLTCoefficients(views)
	if err != nil {
		return out, err
	}
	origin2D := make([][]float64, len(views))
	xMax2D := make([][]float64, len(views))
	yMax2D := make([][]float64, len(views))
	for i, name := range views {
		v, err := cfg.View(name)
		if err != nil {
			return out, err
		}
		if !v.Axes.Complete() {
			return out, fmt.Errorf("view %s has no axis reference points", name)
		}
		pts := [][2]float64{
			{v.Axes.Origin[0], v.Axes.Origin[1]},
			{v.Axes.XMax[0], v.Axes.XMax[1]},
			{v.Axes.YMax[0], v.Axes.YMax[1]},
		}
		if v.Intrinsics() && len(v.Distortion) > 0 {
			pts = dlt.UndistortPoints(pts, dlt.Intrinsic(v.FPx, v.Center()), v.Distortion)
		}
		origin2D[i] = pts[0][:]
		xMax2D[i] = pts[1][:]
		yMax2D[i] = pts[2][:]
	}

	origin, err := dlt.Triangulate(3, len(views), coeffs, origin2D)
	if err != nil {
		return out, fmt.Errorf("origin: %w", err)
	}
	xMax, err := dlt.Triangulate(3, len(views), coeffs, xMax2D)
	if err != nil {
		return out, fmt.Errorf("x_max: %w", err)
	}
	yMax, err := dlt.Triangulate(3, len(views), coeffs, yMax2D)
	if err != nil {
		return out, fmt.Errorf("y_max: %w", err)
	}

	rot, err := dlt.AlignVectors(
		[][3]float64{sub3(xMax, origin), sub3(yMax, origin)},
		[][3]float64{{1, 0, 0}, {0, 1, 0}},
	)
	if err != nil {
		return out, err
	}

	axis := cfg.Axis()
	o := dlt.Rotate(origin, rot, 1, axis)
	x := dlt.Rotate(xMax, rot, 1, axis)
	y := dlt.Rotate(yMax, rot, 1, axis)
	measured := [2]float64{norm3(sub3(x, o)), norm3(sub3(y, o))}
	if measured[0] == 0 || measured[1] == 0 {
		return out, errors.New("zero-length reference axis")
	}

	r := cfg.Reconstruction
	out.computedScale = r.Scale
	if len(r.AxisLengths) == 2 {
		out.computedScale = (r.AxisLengths[0]/measured[0] + r.AxisLengths[1]/measured[1]) / 2 * r.Scale
	}
	out.translation = [3]float64{-o[0], -o[1], -o[2]}
	out.rotation = dlt.Rows(rot)

	if !finite(out.computedScale) || out.computedScale <= 0 || !finite(out.translation[:]...) {
		return out, errNonFinite
	}
	for _, row := range out.rotation {
		if !finite(row...) {
			return out, errNonFinite
		}
	}
	return out, nil
}

func sub3(a, b []float64) [3]float64 {
	return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func norm3(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
