package skeleton

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var parts3 = []string{"snout", "head", "tail"}

func TestNewFillsMissingPartsWithSentinel(t *testing.T) {
	s := New(parts3, map[string][]float64{"snout": {1, 2, 3}}, map[string]float64{"snout": 0.9}, nil, 3)

	require.Equal(t, 3, s.Len())
	snout := s.Part("snout")
	assert.Equal(t, []float64{1, 2, 3}, snout.Vec)
	assert.Equal(t, 0.9, snout.Likelihood)

	head := s.Part("head")
	assert.True(t, head.IsSentinel())
	assert.Zero(t, head.Likelihood)

	var names []string
	for name, p := range s.Iter() {
		names = append(names, name)
		assert.Equal(t, name, p.Name)
	}
	assert.Equal(t, parts3, names)
}

func TestPartArithmeticKeepsLeftMetadata(t *testing.T) {
	a := NewPart([]float64{1, 2, 3}, "a", 0.7)
	b := NewPart([]float64{10, 20, 30}, "b", 0.1)

	sum, err := a.Add(PartOperand(b))
	require.NoError(t, err)
	assert.Equal(t, []float64{11, 22, 33}, sum.Vec)
	assert.Equal(t, "a", sum.Name)
	assert.Equal(t, 0.7, sum.Likelihood)

	diff, err := b.Sub(Scalar(1))
	require.NoError(t, err)
	assert.Equal(t, []float64{9, 19, 29}, diff.Vec)
	assert.Equal(t, "b", diff.Name)

	prod, err := a.Mul(Vector([]float64{2, 0, -1}))
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 0, -3}, prod.Vec)

	assert.Equal(t, []float64{-1, -2, -3}, a.Neg().Vec)
	assert.Equal(t, []float64{0.5, 1, 1.5}, a.Div(2).Vec)

	// Operands are never mutated.
	assert.Equal(t, []float64{1, 2, 3}, a.Vec)
}

func TestPartArithmeticRejectsDimensionMismatch(t *testing.T) {
	a := NewPart([]float64{1, 2, 3}, "a", 1)

	_, err := a.Add(Vector([]float64{1, 2}))
	assert.ErrorIs(t, err, ErrShape)
	_, err = a.Mul(Vector([]float64{1, 2, 3, 4}))
	assert.ErrorIs(t, err, ErrShape)
	_, err = a.Sub(PartOperand(NewPart([]float64{1, 1}, "b", 1)))
	assert.ErrorIs(t, err, ErrShape)

	s := Empty(parts3, 3)
	_, err = s.Add(Vector([]float64{1, 2}))
	assert.ErrorIs(t, err, ErrShape)
	_, err = s.Add(SkeletonOperand(Empty(parts3, 2)))
	assert.ErrorIs(t, err, ErrShape)
}

func TestConfidenceComparisonsUseLikelihood(t *testing.T) {
	p := NewPart([]float64{100, 100}, "x", 0.5)

	assert.True(t, p.ConfidenceAtLeast(0.5))
	assert.False(t, p.ConfidenceAbove(0.5))
	assert.True(t, p.ConfidenceBelow(0.6))
	assert.True(t, p.ConfidenceAtMost(0.5))
	assert.False(t, p.ConfidenceBelow(0.5))
}

func TestSkeletonArithmeticPropagatesMinimumLikelihood(t *testing.T) {
	a := New(parts3,
		map[string][]float64{"snout": {1, 1, 1}, "head": {2, 2, 2}, "tail": {3, 3, 3}},
		map[string]float64{"snout": 0.9, "head": 0.2, "tail": 1},
		[]string{"walk"}, 3)
	b := New(parts3,
		map[string][]float64{"snout": {1, 0, 0}, "head": {0, 1, 0}, "tail": {0, 0, 1}},
		map[string]float64{"snout": 0.4, "head": 0.8, "tail": 1},
		nil, 3)

	sum, err := a.Add(SkeletonOperand(b))
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 1, 1}, sum.Part("snout").Vec)
	assert.Equal(t, 0.4, sum.Part("snout").Likelihood)
	assert.Equal(t, 0.2, sum.Part("head").Likelihood)
	assert.Equal(t, []string{"walk"}, sum.Behaviour)

	scaled, err := a.Mul(Scalar(2))
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 4, 4}, scaled.Part("head").Vec)
	assert.Equal(t, 0.2, scaled.Part("head").Likelihood)

	rsub, err := a.RSub(Scalar(10))
	require.NoError(t, err)
	assert.Equal(t, []float64{7, 7, 7}, rsub.Part("tail").Vec)
}

func TestSkeletonArithmeticRejectsMismatchedParts(t *testing.T) {
	a := Empty(parts3, 3)
	b := Empty([]string{"snout"}, 3)

	_, err := a.Sub(SkeletonOperand(b))
	assert.ErrorIs(t, err, ErrMismatchedParts)
}

func TestDistanceMatrix(t *testing.T) {
	s := New([]string{"a", "b", "c"},
		map[string][]float64{"a": {0, 0}, "b": {3, 4}},
		map[string]float64{"a": 1, "b": 1}, nil, 2)

	m := DistanceMatrix(s)
	assert.Equal(t, 5.0, m[0][1])
	assert.Equal(t, 0.0, m[0][0])
	assert.Equal(t, -1.0, m[0][2])
	assert.Equal(t, -1.0, m[2][2])
}

func TestNormalize(t *testing.T) {
	s := New([]string{"a"}, map[string][]float64{"a": {5, 10}}, map[string]float64{"a": 1}, nil, 2)

	n, err := s.Normalize([]float64{10, 20}, []float64{0, 0})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.5}, n.Part("a").Vec)

	_, err = s.Normalize([]float64{1}, []float64{0})
	assert.ErrorIs(t, err, ErrShape)
}

func TestParseVector(t *testing.T) {
	cases := []struct {
		in   string
		want []float64
	}{
		{"[1.5, 2, -3]", []float64{1.5, 2, -3}},
		{"[1.5 2 -3]", []float64{1.5, 2, -3}},
		{"", SentinelVector(3)},
		{"nan", SentinelVector(3)},
	}
	for _, tc := range cases {
		got, err := ParseVector(tc.in, 3)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, err := ParseVector("[a, b]", 2)
	assert.Error(t, err)
	_, err = ParseVector("[1, 2]", 3)
	assert.ErrorIs(t, err, ErrShape)
	_, err = ParseVector("[1, 2, 3, 4]", 3)
	assert.ErrorIs(t, err, ErrShape)

	assert.Equal(t, "[1.5, -2, 0]", FormatVector([]float64{1.5, -2, 0}))
}
