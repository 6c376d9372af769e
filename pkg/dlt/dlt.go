// Package dlt implements Direct Linear Transform reconstruction and
// re-projection together with the rigid transforms applied to reconstructed
// points.
//
// A 3D camera is described by 12 coefficients, the row-major flattening of a
// 3x4 projection matrix whose last entry is normalized to 1:
//
//	[ u ]   [ L1  L2  L3  L4 ] [ X ]
//	[ v ] = [ L5  L6  L7  L8 ] [ Y ]
//	[ 1 ]   [ L9 L10 L11 L12 ] [ Z ]
//	                           [ 1 ]
//
// A 2D (planar) camera uses 9 coefficients, a 3x3 homography.
package dlt

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Coefficients is the number of DLT coefficients of a 3D camera.
const Coefficients = 12

var (
	// ErrCameraCount is returned when the number of coefficient sets differs from nc.
	ErrCameraCount = errors.New("number of cameras and coefficient sets differ")
	// ErrTooFewCameras is returned for 3D reconstruction from a single camera.
	ErrTooFewCameras = errors.New("3D reconstruction needs at least two cameras")
	// ErrDimension is returned for an object space dimension other than 2 or 3.
	ErrDimension = errors.New("object space dimension must be 2 or 3")
	// ErrSingular is returned when the linear system cannot be solved.
	ErrSingular = errors.New("singular DLT system")
)

// Triangulate reconstructs the nd-dimensional point observed at uv[i] by
// camera L[i]. Coordinates are rounded to 4 decimals.
//
// With a single planar camera the homography is inverted directly. Otherwise
// every camera contributes two rows to a 2nc x (nd+1) system whose solution is
// the right singular vector of the smallest singular value.
func Triangulate(nd, nc int, L [][]float64, uv [][]float64) ([]float64, error) {
	if nd != 2 && nd != 3 {
		return nil, ErrDimension
	}
	if len(L) != nc || len(uv) != nc {
		return nil, fmt.Errorf("%w: nc=%d, coefficients=%d, observations=%d", ErrCameraCount, nc, len(L), len(uv))
	}
	if nd == 3 && nc < 2 {
		return nil, ErrTooFewCameras
	}
	need := 3 * (nd + 1)
	for i, l := range L {
		if len(l) < need {
			return nil, fmt.Errorf("camera %d: need %d coefficients, got %d", i, need, len(l))
		}
		if len(uv[i]) < 2 {
			return nil, fmt.Errorf("camera %d: observation needs 2 coordinates", i)
		}
	}

	if nc == 1 {
		return homography(L[0], uv[0])
	}

	m := mat.NewDense(2*nc, nd+1, nil)
	for i := range nc {
		l := L[i]
		u, v := uv[i][0], uv[i][1]
		if nd == 2 {
			m.SetRow(2*i, []float64{l[0] - u*l[6], l[1] - u*l[7], l[2] - u*l[8]})
			m.SetRow(2*i+1, []float64{l[3] - v*l[6], l[4] - v*l[7], l[5] - v*l[8]})
			continue
		}
		m.SetRow(2*i, []float64{l[0] - u*l[8], l[1] - u*l[9], l[2] - u*l[10], l[3] - u*l[11]})
		m.SetRow(2*i+1, []float64{l[4] - v*l[8], l[5] - v*l[9], l[6] - v*l[10], l[7] - v*l[11]})
	}

	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok {
		return nil, ErrSingular
	}
	var v mat.Dense
	svd.VTo(&v)
	_, cols := v.Dims()
	last := cols - 1
	w := v.At(last, last)
	if w == 0 {
		return nil, ErrSingular
	}
	out := make([]float64, nd)
	for i := range out {
		out[i] = round4(v.At(i, last) / w)
	}
	return out, nil
}

func homography(l []float64, uv []float64) ([]float64, error) {
	h := mat.NewDense(3, 3, append([]float64(nil), l[:9]...))
	var inv mat.Dense
	if err := inv.Inverse(h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	var xyz mat.VecDense
	xyz.MulVec(&inv, mat.NewVecDense(3, []float64{uv[0], uv[1], 1}))
	if xyz.AtVec(2) == 0 {
		return nil, ErrSingular
	}
	return []float64{xyz.AtVec(0) / xyz.AtVec(2), xyz.AtVec(1) / xyz.AtVec(2)}, nil
}

// Project forward-projects every point of xyz into each camera of L. Row i of
// the result is [u0, v0, u1, v1, ...] for point i.
func Project(L [][]float64, xyz [][]float64) ([][]float64, error) {
	for i, l := range L {
		if len(l) < Coefficients {
			return nil, fmt.Errorf("camera %d: need %d coefficients, got %d", i, Coefficients, len(l))
		}
	}
	out := make([][]float64, len(xyz))
	for p, point := range xyz {
		if len(point) < 3 {
			return nil, fmt.Errorf("point %d: need 3 coordinates, got %d", p, len(point))
		}
		x, y, z := point[0], point[1], point[2]
		row := make([]float64, 2*len(L))
		for c, l := range L {
			d := l[8]*x + l[9]*y + l[10]*z + l[11]
			row[2*c] = (l[0]*x + l[1]*y + l[2]*z + l[3]) / d
			row[2*c+1] = (l[4]*x + l[5]*y + l[6]*z + l[7]) / d
		}
		out[p] = row
	}
	return out, nil
}

func round4(x float64) float64 {
	return math.Round(x*1e4) / 1e4
}
