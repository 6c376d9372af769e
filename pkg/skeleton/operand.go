package skeleton

import "fmt"

// OperandKind tags the variant held by an Operand.
type OperandKind int

const (
	KindScalar OperandKind = iota
	KindVector
	KindPart
	KindSkeleton
)

// Operand is the right-hand side of Part and Skeleton arithmetic.
// Exactly one variant is set, selected by Kind.
type Operand struct {
	Kind     OperandKind
	scalar   float64
	vector   []float64
	part     Part
	skeleton *Skeleton
}

// Scalar wraps a scalar broadcast to every coordinate.
func Scalar(s float64) Operand { return Operand{Kind: KindScalar, scalar: s} }

// Vector wraps a vector applied elementwise.
func Vector(v []float64) Operand { return Operand{Kind: KindVector, vector: v} }

// PartOperand wraps a Part; only its vector takes part in the arithmetic.
func PartOperand(p Part) Operand { return Operand{Kind: KindPart, part: p} }

// SkeletonOperand wraps a Skeleton; its parts are matched by keypoint name.
func SkeletonOperand(s Skeleton) Operand { return Operand{Kind: KindSkeleton, skeleton: &s} }

// vectorFor resolves the operand into a vector of length dims for the keypoint
// name. Vector and part operands must already have dims components.
func (o Operand) vectorFor(name string, dims int) ([]float64, error) {
	var src []float64
	switch o.Kind {
	case KindScalar:
		out := make([]float64, dims)
		for i := range out {
			out[i] = o.scalar
		}
		return out, nil
	case KindVector:
		src = o.vector
	case KindPart:
		src = o.part.Vec
	case KindSkeleton:
		p, ok := o.skeleton.Get(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q missing from operand", ErrMismatchedParts, name)
		}
		src = p.Vec
	}
	if len(src) != dims {
		return nil, fmt.Errorf("%w: operand of %q has %d components, want %d", ErrShape, name, len(src), dims)
	}
	return src, nil
}
