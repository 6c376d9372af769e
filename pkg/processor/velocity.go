package processor

import (
	"context"
	"fmt"
	"math"

	"github.com/sanonone/cvkit/pkg/datastore"
	"github.com/sanonone/cvkit/pkg/skeleton"
)

// IDGenerateVelocity is the processor id of velocity generation.
const IDGenerateVelocity = "cvkit_generate_velocity"

// GenerateVelocity writes the velocity of one keypoint into an auxiliary
// datastore. A confident frame gets the displacement from the previous
// accepted frame divided by the elapsed time, and likelihood 1 when no
// component exceeds VelocityThreshold. Every other frame gets the sentinel
// with likelihood 0. The input datastore is returned unchanged.
type GenerateVelocity struct {
	*Base
	Target            string
	Framerate         float64
	VelocityThreshold float64
	Threshold         float64

	aux datastore.DataStore
}

var _ AuxProcessor = (*GenerateVelocity)(nil)

// NewGenerateVelocity returns the velocity generator. aux is the store Process
// writes to; ProcessWithAux overrides it.
func NewGenerateVelocity(target string, framerate, velocityThreshold, threshold float64, aux datastore.DataStore) *GenerateVelocity {
	return &GenerateVelocity{
		Base:              newBase(IDGenerateVelocity, "Generate Velocity", false),
		Target:            target,
		Framerate:         framerate,
		VelocityThreshold: velocityThreshold,
		Threshold:         threshold,
		aux:               aux,
	}
}

// Aux returns the velocity datastore.
func (p *GenerateVelocity) Aux() datastore.DataStore { return p.aux }

func (p *GenerateVelocity) Process(ctx context.Context, ds datastore.DataStore) error {
	return p.ProcessWithAux(ctx, ds, p.aux)
}

func (p *GenerateVelocity) ProcessWithAux(ctx context.Context, ds, aux datastore.DataStore) error {
	if err := p.start(ds); err != nil {
		return err
	}
	if aux == nil {
		return fmt.Errorf("%w: no velocity datastore", ErrInvalidParams)
	}
	if p.Framerate <= 0 {
		return fmt.Errorf("%w: framerate must be positive", ErrInvalidParams)
	}
	p.aux = aux
	dt := 1 / p.Framerate
	dims := ds.Dimensions()

	var previous *skeleton.Part
	previousIndex := -1
	total := ds.Len()
	done := 0
	for index, point := range ds.PartIterator(p.Target) {
		if err := ctx.Err(); err != nil {
			return err
		}
		velocity := skeleton.SentinelVector(dims)
		accepted := false
		if point.ConfidenceAbove(p.Threshold) {
			v := make([]float64, dims)
			if previous != nil {
				elapsed := float64(index-previousIndex) * dt
				for i := range v {
					v[i] = (point.Vec[i] - previous.Vec[i]) / elapsed
				}
			}
			if maxAbs(v) <= p.VelocityThreshold {
				velocity = v
				accepted = true
				cp := point.Clone()
				previous = &cp
				previousIndex = index
			}
		}
		likelihood := 0.0
		if accepted {
			likelihood = 1
		}
		aux.SetPart(index, skeleton.NewPart(velocity, p.Target, likelihood))
		done++
		p.tick(done, total)
	}
	p.finish(ds)
	return nil
}

func maxAbs(v []float64) float64 {
	var m float64
	for _, x := range v {
		m = max(m, math.Abs(x))
	}
	return m
}
