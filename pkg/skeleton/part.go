// Package skeleton defines the keypoint value model shared by every other package:
// a Part is a named, confidence-weighted position vector and a Skeleton is the
// ordered set of Parts that make up one frame of a tracked subject.
//
// Unknown or unreconstructed keypoints are not represented by a null flag.
// Every coordinate is filled with MagicNumber instead, and downstream code
// tests for its presence.
package skeleton

import (
	"fmt"
	"math"
	"strings"
)

// MagicNumber marks a coordinate with no valid data.
const MagicNumber = -4668.0

// SentinelVector returns a vector of the given dimension filled with MagicNumber.
func SentinelVector(dims int) []float64 {
	v := make([]float64, dims)
	for i := range v {
		v[i] = MagicNumber
	}
	return v
}

// Part is the position of a single keypoint together with its identity and the
// confidence of the estimate.
type Part struct {
	Vec        []float64
	Name       string
	Likelihood float64
}

// NewPart copies vec into a new Part.
func NewPart(vec []float64, name string, likelihood float64) Part {
	v := make([]float64, len(vec))
	copy(v, vec)
	return Part{Vec: v, Name: name, Likelihood: likelihood}
}

// EmptyPart returns the sentinel Part for name with zero likelihood.
func EmptyPart(name string, dims int) Part {
	return Part{Vec: SentinelVector(dims), Name: name, Likelihood: 0}
}

// Dims returns the dimension of the position vector.
func (p Part) Dims() int { return len(p.Vec) }

// Clone returns a deep copy of the Part.
func (p Part) Clone() Part {
	return NewPart(p.Vec, p.Name, p.Likelihood)
}

// IsSentinel reports whether every coordinate equals MagicNumber.
func (p Part) IsSentinel() bool {
	if len(p.Vec) == 0 {
		return true
	}
	for _, x := range p.Vec {
		if x != MagicNumber {
			return false
		}
	}
	return true
}

// HasNaN reports whether any coordinate is NaN.
func (p Part) HasNaN() bool {
	for _, x := range p.Vec {
		if math.IsNaN(x) {
			return true
		}
	}
	return false
}

// ConfidenceAbove reports whether the likelihood is strictly greater than x.
func (p Part) ConfidenceAbove(x float64) bool { return p.Likelihood > x }

// ConfidenceAtLeast reports whether the likelihood is greater than or equal to x.
func (p Part) ConfidenceAtLeast(x float64) bool { return p.Likelihood >= x }

// ConfidenceBelow reports whether the likelihood is strictly lower than x.
func (p Part) ConfidenceBelow(x float64) bool { return p.Likelihood < x }

// ConfidenceAtMost reports whether the likelihood is lower than or equal to x.
func (p Part) ConfidenceAtMost(x float64) bool { return p.Likelihood <= x }

// Add returns p + o. The result keeps the name and likelihood of p. A vector
// or part operand of another dimension fails with ErrShape.
func (p Part) Add(o Operand) (Part, error) {
	return p.apply(o, func(a, b float64) float64 { return a + b })
}

// Sub returns p - o. The result keeps the name and likelihood of p.
func (p Part) Sub(o Operand) (Part, error) {
	return p.apply(o, func(a, b float64) float64 { return a - b })
}

// Mul returns the elementwise product p * o. The result keeps the name and
// likelihood of p.
func (p Part) Mul(o Operand) (Part, error) {
	return p.apply(o, func(a, b float64) float64 { return a * b })
}

// Div divides every coordinate by s.
func (p Part) Div(s float64) Part {
	return p.scale(func(x float64) float64 { return x / s })
}

// Neg returns -p.
func (p Part) Neg() Part {
	return p.scale(func(x float64) float64 { return -x })
}

// Distance returns the Euclidean distance between p and o.
func (p Part) Distance(o Part) float64 {
	if len(o.Vec) != len(p.Vec) {
		panic(fmt.Sprintf("skeleton: distance between %d and %d dimensional parts", len(p.Vec), len(o.Vec)))
	}
	var sum float64
	for i := range p.Vec {
		d := o.Vec[i] - p.Vec[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Magnitude returns the Euclidean norm of the position vector.
func (p Part) Magnitude() float64 {
	return Norm(p.Vec)
}

// String formats the part as "name [x y z] (likelihood)".
func (p Part) String() string {
	var b strings.Builder
	b.WriteString(p.Name)
	b.WriteString(" ")
	b.WriteString(FormatVector(p.Vec))
	fmt.Fprintf(&b, " (%.2f)", p.Likelihood)
	return b.String()
}

func (p Part) apply(o Operand, fn func(a, b float64) float64) (Part, error) {
	rhs, err := o.vectorFor(p.Name, len(p.Vec))
	if err != nil {
		return Part{}, err
	}
	out := make([]float64, len(p.Vec))
	for i := range p.Vec {
		out[i] = fn(p.Vec[i], rhs[i])
	}
	return Part{Vec: out, Name: p.Name, Likelihood: p.Likelihood}, nil
}

func (p Part) scale(fn func(x float64) float64) Part {
	out := make([]float64, len(p.Vec))
	for i, x := range p.Vec {
		out[i] = fn(x)
	}
	return Part{Vec: out, Name: p.Name, Likelihood: p.Likelihood}
}

// Norm returns the Euclidean norm of v.
func Norm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// FormatVector renders v as "[a, b, c]", the cell format of CVKit3D files.
func FormatVector(v []float64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(formatFloat(x))
	}
	b.WriteByte(']')
	return b.String()
}
