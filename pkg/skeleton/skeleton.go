package skeleton

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"strings"
)

var (
	// ErrMismatchedParts is returned when two skeletons do not declare the same keypoints.
	ErrMismatchedParts = errors.New("skeletons declare different body parts")
	// ErrShape is returned when a limit, operand or vector does not match the expected dimension.
	ErrShape = errors.New("shape does not match skeleton dimension")
)

// Skeleton is an ordered mapping from keypoint name to Part plus the
// behaviour labels of the frame.
type Skeleton struct {
	order     []string
	parts     map[string]Part
	Behaviour []string
	Dims      int
}

// New builds a Skeleton declaring bodyParts. Every declared name gets exactly
// one Part: positions come from parts, likelihoods from likelihoods, and
// names absent from parts default to the sentinel vector with likelihood 0.
func New(bodyParts []string, parts map[string][]float64, likelihoods map[string]float64, behaviour []string, dims int) Skeleton {
	s := Skeleton{
		order:     append([]string(nil), bodyParts...),
		parts:     make(map[string]Part, len(bodyParts)),
		Behaviour: append([]string(nil), behaviour...),
		Dims:      dims,
	}
	for _, name := range bodyParts {
		vec, ok := parts[name]
		if !ok {
			s.parts[name] = EmptyPart(name, dims)
			continue
		}
		s.parts[name] = NewPart(vec, name, likelihoods[name])
	}
	return s
}

// Empty returns a Skeleton where every keypoint is the sentinel.
func Empty(bodyParts []string, dims int) Skeleton {
	return New(bodyParts, nil, nil, nil, dims)
}

// FromParts builds a Skeleton from already constructed Parts. Declared names
// without a Part are filled with the sentinel.
func FromParts(bodyParts []string, parts []Part, behaviour []string, dims int) Skeleton {
	s := Empty(bodyParts, dims)
	s.Behaviour = append([]string(nil), behaviour...)
	for _, p := range parts {
		if _, ok := s.parts[p.Name]; ok {
			s.parts[p.Name] = p.Clone()
		}
	}
	return s
}

// Names returns the declared keypoints in order.
func (s Skeleton) Names() []string { return s.order }

// Len returns the number of declared keypoints.
func (s Skeleton) Len() int { return len(s.order) }

// Get returns the Part for name.
func (s Skeleton) Get(name string) (Part, bool) {
	p, ok := s.parts[name]
	return p, ok
}

// Part returns the Part for name, or the sentinel when name is not declared.
func (s Skeleton) Part(name string) Part {
	if p, ok := s.parts[name]; ok {
		return p
	}
	return EmptyPart(name, s.Dims)
}

// Set replaces the Part stored under p.Name. Names that are not declared are ignored.
func (s Skeleton) Set(p Part) {
	if _, ok := s.parts[p.Name]; ok {
		s.parts[p.Name] = p
	}
}

// Parts returns the Parts in declaration order.
func (s Skeleton) Parts() []Part {
	out := make([]Part, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.parts[name])
	}
	return out
}

// Iter yields name and Part pairs in declaration order.
func (s Skeleton) Iter() iter.Seq2[string, Part] {
	return func(yield func(string, Part) bool) {
		for _, name := range s.order {
			if !yield(name, s.parts[name]) {
				return
			}
		}
	}
}

// Clone returns a deep copy.
func (s Skeleton) Clone() Skeleton {
	return FromParts(s.order, s.Parts(), s.Behaviour, s.Dims)
}

// Matrix returns the n x d matrix of positions in declaration order.
func (s Skeleton) Matrix() [][]float64 {
	out := make([][]float64, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, append([]float64(nil), s.parts[name].Vec...))
	}
	return out
}

// Equal reports whether both skeletons hold identical vectors for every
// keypoint declared by s.
func (s Skeleton) Equal(o Skeleton) bool {
	for _, name := range s.order {
		a := s.parts[name]
		b, ok := o.parts[name]
		if !ok || len(a.Vec) != len(b.Vec) {
			return false
		}
		for i := range a.Vec {
			if a.Vec[i] != b.Vec[i] {
				return false
			}
		}
	}
	return true
}

// Add returns s + o elementwise.
func (s Skeleton) Add(o Operand) (Skeleton, error) {
	return s.combine(o, Part.Add)
}

// Sub returns s - o elementwise.
func (s Skeleton) Sub(o Operand) (Skeleton, error) {
	return s.combine(o, Part.Sub)
}

// RSub returns o - s elementwise.
func (s Skeleton) RSub(o Operand) (Skeleton, error) {
	neg := s.Clone()
	for _, name := range s.order {
		neg.parts[name] = s.parts[name].Neg()
	}
	return neg.combine(o, Part.Add)
}

// Mul returns the elementwise product s * o.
func (s Skeleton) Mul(o Operand) (Skeleton, error) {
	return s.combine(o, Part.Mul)
}

// combine applies fn per keypoint. With a Skeleton operand the resulting
// likelihood is the minimum of both parts; otherwise the likelihood of s is kept.
func (s Skeleton) combine(o Operand, fn func(Part, Operand) (Part, error)) (Skeleton, error) {
	out := s.Clone()
	for _, name := range s.order {
		p := s.parts[name]
		if o.Kind != KindSkeleton {
			r, err := fn(p, o)
			if err != nil {
				return Skeleton{}, err
			}
			out.parts[name] = r
			continue
		}
		q, ok := o.skeleton.parts[name]
		if !ok {
			return Skeleton{}, fmt.Errorf("%w: %q missing from operand", ErrMismatchedParts, name)
		}
		r, err := fn(p, PartOperand(q))
		if err != nil {
			return Skeleton{}, err
		}
		r.Likelihood = math.Min(p.Likelihood, q.Likelihood)
		out.parts[name] = r
	}
	return out, nil
}

// Normalize maps every keypoint into [0,1] per axis using the given limits.
func (s Skeleton) Normalize(maxLim, minLim []float64) (Skeleton, error) {
	if len(maxLim) != s.Dims || len(minLim) != s.Dims {
		return Skeleton{}, fmt.Errorf("%w: limits must have %d components", ErrShape, s.Dims)
	}
	out := s.Clone()
	for _, name := range s.order {
		p := s.parts[name]
		vec := make([]float64, len(p.Vec))
		for i := range p.Vec {
			vec[i] = (p.Vec[i] - minLim[i]) / (maxLim[i] - minLim[i])
		}
		out.parts[name] = Part{Vec: vec, Name: name, Likelihood: p.Likelihood}
	}
	return out, nil
}

func (s Skeleton) String() string {
	var b strings.Builder
	for _, name := range s.order {
		p := s.parts[name]
		fmt.Fprintf(&b, "%-10s: %s (%.2f)\n", name, FormatVector(p.Vec), p.Likelihood)
	}
	return b.String()
}

// DistanceMatrix returns the n x n Euclidean distances between every pair of
// keypoints. Entries involving a part with likelihood <= 0 are -1.
func DistanceMatrix(s Skeleton) [][]float64 {
	n := s.Len()
	out := make([][]float64, n)
	parts := s.Parts()
	for i := range parts {
		out[i] = make([]float64, n)
		for j := range parts {
			if parts[i].ConfidenceAbove(0) && parts[j].ConfidenceAbove(0) {
				out[i][j] = parts[i].Distance(parts[j])
			} else {
				out[i][j] = -1
			}
		}
	}
	return out
}
