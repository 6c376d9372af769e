package dlt

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrDegenerate is returned when the input vectors do not determine a rotation.
var ErrDegenerate = errors.New("degenerate vector configuration")

// Transform maps raw triangulated points into the project's world frame:
// rotate (row vector times Rotation), flip axes, scale, then translate by the
// scaled translation.
type Transform struct {
	Rotation    *mat.Dense
	Axis        [3]float64
	Scale       float64
	Translation [3]float64

	inverse *mat.Dense
}

// NewTransform validates rotation as a 3x3 matrix and precomputes its inverse.
func NewTransform(rotation [][]float64, axis, translation [3]float64, scale float64) (*Transform, error) {
	r, err := Matrix3(rotation)
	if err != nil {
		return nil, err
	}
	if scale == 0 {
		return nil, errors.New("transform scale must be non-zero")
	}
	var inv mat.Dense
	if err := inv.Inverse(r); err != nil {
		return nil, fmt.Errorf("rotation matrix is not invertible: %w", err)
	}
	return &Transform{Rotation: r, Axis: axis, Scale: scale, Translation: translation, inverse: &inv}, nil
}

// Matrix3 converts a row-major 3x3 slice into a gonum matrix.
func Matrix3(rows [][]float64) (*mat.Dense, error) {
	if len(rows) != 3 {
		return nil, fmt.Errorf("rotation matrix must be 3x3, got %d rows", len(rows))
	}
	data := make([]float64, 0, 9)
	for i, r := range rows {
		if len(r) != 3 {
			return nil, fmt.Errorf("rotation matrix must be 3x3, row %d has %d columns", i, len(r))
		}
		data = append(data, r...)
	}
	return mat.NewDense(3, 3, data), nil
}

// Rows returns m as a row-major slice.
func Rows(m mat.Matrix) [][]float64 {
	r, c := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = make([]float64, c)
		for j := range out[i] {
			out[i][j] = m.At(i, j)
		}
	}
	return out
}

// Apply returns (v·R) ⊙ axis · scale + translation · scale.
func (t *Transform) Apply(v []float64) []float64 {
	out := Rotate(v, t.Rotation, t.Scale, t.Axis)
	for i := range out {
		out[i] += t.Translation[i] * t.Scale
	}
	return out
}

// Invert undoes Apply: ((v - translation·scale) / scale ⊙ axis) · R⁻¹.
func (t *Transform) Invert(v []float64) []float64 {
	shifted := make([]float64, 3)
	for i := range shifted {
		shifted[i] = v[i] - t.Translation[i]*t.Scale
	}
	return Unrotate(shifted, t.inverse, t.Scale, t.Axis)
}

// Rotate returns (v·R) ⊙ axis · scale for a 3-vector v.
func Rotate(v []float64, r mat.Matrix, scale float64, axis [3]float64) []float64 {
	var out mat.VecDense
	out.MulVec(r.T(), mat.NewVecDense(3, []float64{v[0], v[1], v[2]}))
	res := make([]float64, 3)
	for i := range res {
		res[i] = out.AtVec(i) * axis[i] * scale
	}
	return res
}

// Unrotate returns ((v / scale) ⊙ axis) · rInv. Axis flips are their own
// inverse, so passing the inverse rotation undoes Rotate.
func Unrotate(v []float64, rInv mat.Matrix, scale float64, axis [3]float64) []float64 {
	in := make([]float64, 3)
	for i := range in {
		in[i] = v[i] / scale * axis[i]
	}
	var out mat.VecDense
	out.MulVec(rInv.T(), mat.NewVecDense(3, in))
	return []float64{out.AtVec(0), out.AtVec(1), out.AtVec(2)}
}

// AlignVectors returns the rotation R minimizing Σ|a_i - R b_i|², the Kabsch
// solution. Two non-parallel pairs are enough to fix the rotation.
func AlignVectors(a, b [][3]float64) (*mat.Dense, error) {
	if len(a) != len(b) || len(a) == 0 {
		return nil, fmt.Errorf("%w: %d and %d vectors", ErrDegenerate, len(a), len(b))
	}
	h := mat.NewDense(3, 3, nil)
	for k := range a {
		for i := range 3 {
			for j := range 3 {
				h.Set(i, j, h.At(i, j)+a[k][i]*b[k][j])
			}
		}
	}
	var svd mat.SVD
	if ok := svd.Factorize(h, mat.SVDFull); !ok {
		return nil, ErrDegenerate
	}
	values := svd.Values(nil)
	if len(values) < 2 || values[1] < 1e-12*math.Max(values[0], 1) {
		return nil, ErrDegenerate
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var uvt mat.Dense
	uvt.Mul(&u, v.T())
	d := 1.0
	if mat.Det(&uvt) < 0 {
		d = -1
	}
	diag := mat.NewDiagDense(3, []float64{1, 1, d})
	var ud, r mat.Dense
	ud.Mul(&u, diag)
	r.Mul(&ud, v.T())
	return &r, nil
}

// Intrinsic builds the pinhole camera matrix for focal length f (pixels) and
// principal point center.
func Intrinsic(f float64, center [2]float64) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		f, 0, center[0],
		0, f, center[1],
		0, 0, 1,
	})
}

const undistortIterations = 20

// UndistortPoints removes Brown–Conrady lens distortion (k1, k2, p1, p2[, k3])
// from pixel coordinates by fixed-point iteration and returns pixel
// coordinates under the same camera matrix k.
func UndistortPoints(pts [][2]float64, k mat.Matrix, dist []float64) [][2]float64 {
	var k1, k2, p1, p2, k3 float64
	coeffs := []*float64{&k1, &k2, &p1, &p2, &k3}
	for i := range min(len(dist), len(coeffs)) {
		*coeffs[i] = dist[i]
	}
	fx, fy := k.At(0, 0), k.At(1, 1)
	cx, cy := k.At(0, 2), k.At(1, 2)

	out := make([][2]float64, len(pts))
	for i, pt := range pts {
		x0 := (pt[0] - cx) / fx
		y0 := (pt[1] - cy) / fy
		x, y := x0, y0
		for range undistortIterations {
			r2 := x*x + y*y
			icdist := 1 / (1 + ((k3*r2+k2)*r2+k1)*r2)
			dx := 2*p1*x*y + p2*(r2+2*x*x)
			dy := p1*(r2+2*y*y) + 2*p2*x*y
			x = (x0 - dx) * icdist
			y = (y0 - dy) * icdist
		}
		out[i] = [2]float64{x*fx + cx, y*fy + cy}
	}
	return out
}

// Distort applies the Brown–Conrady model to pixel coordinates. It is the
// forward model that UndistortPoints inverts.
func Distort(pt [2]float64, k mat.Matrix, dist []float64) [2]float64 {
	var k1, k2, p1, p2, k3 float64
	coeffs := []*float64{&k1, &k2, &p1, &p2, &k3}
	for i := range min(len(dist), len(coeffs)) {
		*coeffs[i] = dist[i]
	}
	fx, fy := k.At(0, 0), k.At(1, 1)
	cx, cy := k.At(0, 2), k.At(1, 2)
	x := (pt[0] - cx) / fx
	y := (pt[1] - cy) / fy
	r2 := x*x + y*y
	radial := 1 + ((k3*r2+k2)*r2+k1)*r2
	xd := x*radial + 2*p1*x*y + p2*(r2+2*x*x)
	yd := y*radial + p1*(r2+2*y*y) + 2*p2*x*y
	return [2]float64{xd*fx + cx, yd*fy + cy}
}
