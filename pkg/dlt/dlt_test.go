package dlt

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// camera builds normalized DLT coefficients for K[R|t].
func camera(f, cx, cy float64, r [9]float64, t [3]float64) []float64 {
	k := mat.NewDense(3, 3, []float64{f, 0, cx, 0, f, cy, 0, 0, 1})
	rt := mat.NewDense(3, 4, []float64{
		r[0], r[1], r[2], t[0],
		r[3], r[4], r[5], t[1],
		r[6], r[7], r[8], t[2],
	})
	var p mat.Dense
	p.Mul(k, rt)
	out := make([]float64, 0, 12)
	norm := p.At(2, 3)
	for i := range 3 {
		for j := range 4 {
			out = append(out, p.At(i, j)/norm)
		}
	}
	return out
}

var (
	camFront = camera(1000, 640, 480, [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}, [3]float64{0, 0, 10})
	camSide  = camera(900, 640, 480, [9]float64{0, 0, -1, 0, 1, 0, 1, 0, 0}, [3]float64{0, 0, 10})
	camTop   = camera(1100, 640, 480, [9]float64{1, 0, 0, 0, 0, -1, 0, 1, 0}, [3]float64{0, 0, 12})
)

func TestProjectTriangulateRoundTrip(t *testing.T) {
	points := [][]float64{{1, 2, 3}, {0, 0, 0}, {-2.5, 1.25, 0.5}}
	cams := [][]float64{camFront, camSide}

	uv, err := Project(cams, points)
	require.NoError(t, err)
	for i, p := range points {
		obs := [][]float64{uv[i][0:2], uv[i][2:4]}
		got, err := Triangulate(3, 2, cams, obs)
		require.NoError(t, err)
		for d := range 3 {
			assert.InDelta(t, p[d], got[d], 1e-3, "point %d dim %d", i, d)
		}
	}
}

func TestTriangulateThreeCameras(t *testing.T) {
	cams := [][]float64{camFront, camSide, camTop}
	uv, err := Project(cams, [][]float64{{0.3, -0.7, 1.1}})
	require.NoError(t, err)
	got, err := Triangulate(3, 3, cams, [][]float64{uv[0][0:2], uv[0][2:4], uv[0][4:6]})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.3, -0.7, 1.1}, got, 1e-3)
}

func TestTriangulateValidation(t *testing.T) {
	_, err := Triangulate(3, 1, [][]float64{camFront}, [][]float64{{1, 1}})
	assert.ErrorIs(t, err, ErrTooFewCameras)

	_, err = Triangulate(3, 3, [][]float64{camFront, camSide}, [][]float64{{1, 1}, {1, 1}})
	assert.ErrorIs(t, err, ErrCameraCount)

	_, err = Triangulate(4, 2, [][]float64{camFront, camSide}, [][]float64{{1, 1}, {1, 1}})
	assert.ErrorIs(t, err, ErrDimension)
}

func TestTriangulatePlanarHomography(t *testing.T) {
	h := []float64{2, 0, 5, 0, 3, 7, 0, 0, 1}
	got, err := Triangulate(2, 1, [][]float64{h}, [][]float64{{2*4 + 5, 3*6 + 7}})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{4, 6}, got, 1e-9)
}

func TestTransformRoundTrip(t *testing.T) {
	c, s := math.Cos(0.4), math.Sin(0.4)
	rot := [][]float64{{c, -s, 0}, {s, c, 0}, {0, 0, 1}}
	tr, err := NewTransform(rot, [3]float64{1, -1, 1}, [3]float64{0.5, 1, -2}, 2.5)
	require.NoError(t, err)

	v := []float64{3, -4, 5}
	w := tr.Apply(v)
	assert.InDeltaSlice(t, v, tr.Invert(w), 1e-9)
}

func TestTransformRejectsBadRotation(t *testing.T) {
	_, err := NewTransform([][]float64{{1, 0}, {0, 1}}, [3]float64{1, 1, 1}, [3]float64{}, 1)
	assert.Error(t, err)
}

func TestRotateRowVectorConvention(t *testing.T) {
	r := mat.NewDense(3, 3, []float64{0, 1, 0, -1, 0, 0, 0, 0, 1})
	// [1,0,0]·R is the first row of R
	assert.InDeltaSlice(t, []float64{0, 2, 0}, Rotate([]float64{1, 0, 0}, r, 2, [3]float64{1, 1, 1}), 1e-12)
	assert.InDeltaSlice(t, []float64{0, -2, 0}, Rotate([]float64{1, 0, 0}, r, 2, [3]float64{1, -1, 1}), 1e-12)
}

func TestAlignVectors(t *testing.T) {
	c, s := math.Cos(0.7), math.Sin(0.7)
	truth := mat.NewDense(3, 3, []float64{c, 0, s, 0, 1, 0, -s, 0, c})
	b := [][3]float64{{1, 0, 0}, {0, 1, 0}}
	a := make([][3]float64, len(b))
	for i, v := range b {
		var out mat.VecDense
		out.MulVec(truth, mat.NewVecDense(3, v[:]))
		a[i] = [3]float64{out.AtVec(0), out.AtVec(1), out.AtVec(2)}
	}

	r, err := AlignVectors(a, b)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(truth, r, 1e-9))
	assert.InDelta(t, 1, mat.Det(r), 1e-9)

	_, err = AlignVectors([][3]float64{{1, 0, 0}, {2, 0, 0}}, [][3]float64{{1, 0, 0}, {2, 0, 0}})
	assert.ErrorIs(t, err, ErrDegenerate)
}

func TestUndistortInvertsDistort(t *testing.T) {
	k := Intrinsic(800, [2]float64{320, 240})
	dist := []float64{-0.12, 0.03, 0.001, -0.0005, 0.002}
	clean := [][2]float64{{100, 50}, {320, 240}, {600, 400}}
	distorted := make([][2]float64, len(clean))
	for i, p := range clean {
		distorted[i] = Distort(p, k, dist)
	}
	got := UndistortPoints(distorted, k, dist)
	for i := range clean {
		assert.InDelta(t, clean[i][0], got[i][0], 1e-3)
		assert.InDelta(t, clean[i][1], got[i][1], 1e-3)
	}
}
