package processor

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/sanonone/cvkit/pkg/datastore"
	"github.com/sanonone/cvkit/pkg/skeleton"
)

// Processor ids of the outlier filters.
const (
	IDMedianDistanceCulling = "cvkit_median_distance_culling"
	IDDistanceStats         = "cvkit_distance_stats"
	IDRegionFilter2D        = "cvkit_2d_region_filter"
	IDVelocityFilter        = "cvkit_velocity_filter"
)

// MedianDistanceCulling deletes a confident keypoint when the median of its
// distances to the other confident keypoints of the frame exceeds
// DistanceThreshold.
type MedianDistanceCulling struct {
	*Base
	Threshold         float64
	DistanceThreshold float64
}

// NewMedianDistanceCulling returns the median distance filter.
func NewMedianDistanceCulling(threshold, distanceThreshold float64) *MedianDistanceCulling {
	return &MedianDistanceCulling{
		Base:              newBase(IDMedianDistanceCulling, "Median Distance Culling", false),
		Threshold:         threshold,
		DistanceThreshold: distanceThreshold,
	}
}

func (p *MedianDistanceCulling) Process(ctx context.Context, ds datastore.DataStore) error {
	if err := p.start(ds); err != nil {
		return err
	}
	bodyParts := ds.BodyParts()
	total := ds.Len()
	done, removed := 0, 0
	distances := make([]float64, 0, len(bodyParts))
	for index, s := range ds.RowIterator() {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, name := range bodyParts {
			part := s.Part(name)
			if part.ConfidenceBelow(p.Threshold) {
				continue
			}
			distances = distances[:0]
			for _, other := range bodyParts {
				o := s.Part(other)
				if o.ConfidenceBelow(p.Threshold) {
					continue
				}
				if d := part.Distance(o); d != 0 {
					distances = append(distances, d)
				}
			}
			if len(distances) > 0 && median(distances) > p.DistanceThreshold {
				ds.DeletePart(index, name, false)
				removed++
			}
		}
		done++
		p.tick(done, total)
	}
	p.logger.Info("[Filter] Median distance culling done", "removed", removed)
	p.finish(ds)
	return nil
}

// median sorts values in place and returns their median, averaging the two
// middle values of an even count.
func median(values []float64) float64 {
	slices.Sort(values)
	n := len(values)
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}

// DistanceStatistics scores every keypoint of a frame by how many of its
// pairwise distances fall outside the expected mean ± SD·SDFactor, and
// deletes the keypoints whose score exceeds Threshold.
type DistanceStatistics struct {
	*Base
	Mean      [][]float64
	SD        [][]float64
	Threshold float64
	SDFactor  float64
}

// NewDistanceStatistics returns the distance statistics filter. mean and sd
// are n x n matrices over the datastore's body parts.
func NewDistanceStatistics(mean, sd [][]float64, threshold, sdFactor float64) *DistanceStatistics {
	return &DistanceStatistics{
		Base:      newBase(IDDistanceStats, "Distance Statistics Filter", false),
		Mean:      mean,
		SD:        sd,
		Threshold: threshold,
		SDFactor:  sdFactor,
	}
}

func (p *DistanceStatistics) Process(ctx context.Context, ds datastore.DataStore) error {
	if err := p.start(ds); err != nil {
		return err
	}
	bodyParts := ds.BodyParts()
	n := len(bodyParts)
	if p.SDFactor < 0 {
		return fmt.Errorf("%w: sd factor must not be negative", ErrInvalidParams)
	}
	if !square(p.Mean, n) || !square(p.SD, n) {
		return fmt.Errorf("%w: distance matrices must be %dx%d", ErrInvalidParams, n, n)
	}

	removed := make(map[string]int, n)
	total := ds.Len()
	done := 0
	for index, s := range ds.RowIterator() {
		if err := ctx.Err(); err != nil {
			return err
		}
		done++
		p.tick(done, total)
		for _, i := range DistanceOutliers(s, p.Mean, p.SD, p.SDFactor, p.Threshold) {
			ds.DeletePart(index, bodyParts[i], false)
			removed[bodyParts[i]]++
		}
	}
	p.logger.Info("[Filter] Distance statistics done", "removed", removed)
	p.finish(ds)
	return nil
}

// DistanceOutliers returns the positions of the keypoints of s whose
// fraction of distances within mean ± sd·sdFactor, counted against the
// number of valid keypoints, leaves a score above threshold.
func DistanceOutliers(s skeleton.Skeleton, mean, sd [][]float64, sdFactor, threshold float64) []int {
	dm := skeleton.DistanceMatrix(s)
	n := len(dm)
	valid := 0
	for i := range n {
		if dm[i][i] != -1 {
			valid++
		}
	}
	if valid == 0 {
		return nil
	}
	var out []int
	for i := range n {
		if dm[i][i] == -1 {
			continue
		}
		score := valid
		for j := range n {
			if dm[i][j] != -1 && math.Abs(mean[i][j]-dm[i][j]) < sd[i][j]*sdFactor {
				score--
			}
		}
		if threshold < float64(score)/float64(valid) {
			out = append(out, i)
		}
	}
	return out
}

func square(m [][]float64, n int) bool {
	if len(m) != n {
		return false
	}
	for _, row := range m {
		if len(row) != n {
			return false
		}
	}
	return true
}

// Region is an open axis-aligned rectangle, X[0] < x < X[1] and Y[0] < y < Y[1].
type Region struct {
	X [2]float64 `json:"x" yaml:"x"`
	Y [2]float64 `json:"y" yaml:"y"`
}

// Contains reports whether the first two coordinates of v lie inside r.
func (r Region) Contains(v []float64) bool {
	return len(v) >= 2 && r.X[0] < v[0] && v[0] < r.X[1] && r.Y[0] < v[1] && v[1] < r.Y[1]
}

// RegionFilter2D removes keypoints lying inside any of the given regions of
// uncertainty. It needs registered statistics.
type RegionFilter2D struct {
	*Base
	Regions []Region
}

// NewRegionFilter2D returns the region filter.
func NewRegionFilter2D(regions []Region) *RegionFilter2D {
	return &RegionFilter2D{Base: newBase(IDRegionFilter2D, "2D Region Filter", true), Regions: regions}
}

func (p *RegionFilter2D) Process(ctx context.Context, ds datastore.DataStore) error {
	if err := p.start(ds); err != nil {
		return err
	}
	total := ds.Len()
	done := 0
	for index, s := range ds.RowIterator() {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, name := range ds.BodyParts() {
			vec := s.Part(name).Vec
			for _, r := range p.Regions {
				if r.Contains(vec) {
					ds.DeletePart(index, name, true)
					break
				}
			}
		}
		done++
		p.tick(done, total)
	}
	p.finish(ds)
	return nil
}

// VelocityFilter removes keypoints whose speed, read from a companion
// velocity datastore, exceeds ThresholdVelocity. Frames without a velocity
// carry the sentinel and are removed too. It needs registered statistics.
type VelocityFilter struct {
	*Base
	velocity          datastore.DataStore
	ThresholdVelocity float64
}

// NewVelocityFilter returns the velocity filter reading speeds from velocity.
func NewVelocityFilter(velocity datastore.DataStore, thresholdVelocity float64) *VelocityFilter {
	return &VelocityFilter{
		Base:              newBase(IDVelocityFilter, "Velocity Filter", true),
		velocity:          velocity,
		ThresholdVelocity: thresholdVelocity,
	}
}

func (p *VelocityFilter) Process(ctx context.Context, ds datastore.DataStore) error {
	if err := p.start(ds); err != nil {
		return err
	}
	if p.velocity == nil {
		return fmt.Errorf("%w: no velocity datastore", ErrInvalidParams)
	}
	indices := ds.Indices()
	removed := 0
	for done, index := range indices {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, name := range ds.BodyParts() {
			if p.velocity.GetPart(index, name).Magnitude() > p.ThresholdVelocity {
				ds.DeletePart(index, name, true)
				removed++
			}
		}
		p.tick(done+1, len(indices))
	}
	p.logger.Info("[Filter] Velocity filter done", "removed", removed)
	p.finish(ds)
	return nil
}
