// Package tracker implements a constant-acceleration Kalman filter for one
// keypoint and a skeleton-wide wrapper keeping one filter per keypoint.
//
// The state of a d-dimensional keypoint is ordered by derivative:
// [position(d), velocity(d), acceleration(d)].
package tracker

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/sanonone/cvkit/pkg/skeleton"
)

const (
	initialCovariance = 100.0
	measurementNoise  = 0.8
)

// ErrDimension is returned for an initial observation with fewer than two coordinates.
var ErrDimension = errors.New("tracker needs at least two dimensions")

// Tracker is a constant-acceleration Kalman filter.
type Tracker struct {
	dims int
	dt   float64

	x *mat.VecDense // state
	f *mat.Dense    // transition
	h *mat.Dense    // observation
	p *mat.Dense    // state covariance
	r *mat.Dense    // measurement noise
	q *mat.Dense    // process noise
}

// New seeds a tracker at initial with zero velocity and acceleration. dt is
// the time between frames.
func New(initial []float64, dt float64) (*Tracker, error) {
	d := len(initial)
	if d < 2 {
		return nil, ErrDimension
	}
	if dt <= 0 {
		return nil, fmt.Errorf("tracker: invalid time step %g", dt)
	}
	n := 3 * d

	x := mat.NewVecDense(n, nil)
	for i, v := range initial {
		x.SetVec(i, v)
	}

	h := mat.NewDense(d, n, nil)
	for i := range d {
		h.Set(i, i, 1)
	}

	p := mat.NewDense(n, n, nil)
	for i := range n {
		p.Set(i, i, initialCovariance)
	}
	r := mat.NewDense(d, d, nil)
	for i := range d {
		r.Set(i, i, measurementNoise)
	}

	return &Tracker{
		dims: d,
		dt:   dt,
		x:    x,
		f:    transition(d, dt),
		h:    h,
		p:    p,
		r:    r,
		q:    processNoise(d, dt),
	}, nil
}

// transition encodes p += v·dt + ½·a·dt², v += a·dt for every axis.
func transition(d int, dt float64) *mat.Dense {
	n := 3 * d
	f := mat.NewDense(n, n, nil)
	for i := range d {
		f.Set(i, i, 1)
		f.Set(i, i+d, dt)
		f.Set(i, i+2*d, 0.5*dt*dt)
		f.Set(i+d, i+d, 1)
		f.Set(i+d, i+2*d, dt)
		f.Set(i+2*d, i+2*d, 1)
	}
	return f
}

// processNoise is the third order discrete white noise model with unit
// variance for each axis, laid out by derivative.
func processNoise(d int, dt float64) *mat.Dense {
	dt2 := dt * dt
	dt3 := dt2 * dt
	dt4 := dt3 * dt
	block := [3][3]float64{
		{0.25 * dt4, 0.5 * dt3, 0.5 * dt2},
		{0.5 * dt3, dt2, dt},
		{0.5 * dt2, dt, 1},
	}
	n := 3 * d
	q := mat.NewDense(n, n, nil)
	for axis := range d {
		for a := range 3 {
			for b := range 3 {
				q.Set(a*d+axis, b*d+axis, block[a][b])
			}
		}
	}
	return q
}

// Dims returns the keypoint dimension.
func (t *Tracker) Dims() int { return t.dims }

// Position returns the current position estimate.
func (t *Tracker) Position() []float64 {
	out := make([]float64, t.dims)
	for i := range out {
		out[i] = t.x.AtVec(i)
	}
	return out
}

// Predict advances the state by one frame without an observation.
func (t *Tracker) Predict() {
	var x mat.VecDense
	x.MulVec(t.f, t.x)
	t.x = &x

	var fp, p mat.Dense
	fp.Mul(t.f, t.p)
	p.Mul(&fp, t.f.T())
	p.Add(&p, t.q)
	t.p = &p
}

// NextPrediction returns the position the next Predict would reach, leaving
// the state untouched.
func (t *Tracker) NextPrediction() []float64 {
	var x mat.VecDense
	x.MulVec(t.f, t.x)
	out := make([]float64, t.dims)
	for i := range out {
		out[i] = x.AtVec(i)
	}
	return out
}

// Update predicts one frame ahead and, when likelihood reaches threshold,
// corrects the state with obs. A low-confidence observation only predicts.
// It returns the new position estimate.
func (t *Tracker) Update(obs []float64, likelihood, threshold float64) []float64 {
	t.Predict()
	if likelihood >= threshold && len(obs) >= t.dims {
		t.correct(obs[:t.dims])
	}
	return t.Position()
}

// correct applies the measurement update in Joseph form.
func (t *Tracker) correct(z []float64) {
	n := 3 * t.dims

	var hx mat.VecDense
	hx.MulVec(t.h, t.x)
	var y mat.VecDense
	y.SubVec(mat.NewVecDense(t.dims, append([]float64(nil), z...)), &hx)

	var pht, s mat.Dense
	pht.Mul(t.p, t.h.T())
	s.Mul(t.h, &pht)
	s.Add(&s, t.r)

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		return
	}
	var k mat.Dense
	k.Mul(&pht, &sInv)

	var ky, x mat.VecDense
	ky.MulVec(&k, &y)
	x.AddVec(t.x, &ky)
	t.x = &x

	ikh := eye(n)
	var kh mat.Dense
	kh.Mul(&k, t.h)
	ikh.Sub(ikh, &kh)

	var a, p, krk, kr mat.Dense
	a.Mul(ikh, t.p)
	p.Mul(&a, ikh.T())
	kr.Mul(&k, t.r)
	krk.Mul(&kr, k.T())
	p.Add(&p, &krk)
	t.p = &p
}

func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := range n {
		m.Set(i, i, 1)
	}
	return m
}

// SkeletonTracker keeps one Tracker per keypoint.
type SkeletonTracker struct {
	dt    float64
	parts map[string]*Tracker
	order []string
}

// NewSkeletonTracker seeds one tracker per keypoint of s.
func NewSkeletonTracker(s skeleton.Skeleton, dt float64) (*SkeletonTracker, error) {
	st := &SkeletonTracker{dt: dt, parts: make(map[string]*Tracker, s.Len()), order: s.Names()}
	for _, name := range s.Names() {
		tr, err := New(s.Part(name).Vec, dt)
		if err != nil {
			return nil, fmt.Errorf("keypoint %s: %w", name, err)
		}
		st.parts[name] = tr
	}
	return st, nil
}

// NextPrediction returns the next predicted position of part.
func (st *SkeletonTracker) NextPrediction(part string) ([]float64, bool) {
	tr, ok := st.parts[part]
	if !ok {
		return nil, false
	}
	return tr.NextPrediction(), true
}

// Update filters every keypoint of s and returns the filtered skeleton.
// Keypoints below threshold are predicted instead of corrected.
func (st *SkeletonTracker) Update(s skeleton.Skeleton, threshold float64) skeleton.Skeleton {
	out := s.Clone()
	for _, name := range st.order {
		tr := st.parts[name]
		p := s.Part(name)
		pos := tr.Update(p.Vec, p.Likelihood, threshold)
		out.Set(skeleton.NewPart(pos, name, p.Likelihood))
	}
	return out
}
