package datastore

import (
	"fmt"
	"slices"
	"sync"
)

// Cluster is a maximal run of consecutive frame indices, both ends inclusive.
type Cluster struct {
	Begin int
	End   int
}

// Len returns the number of frames covered.
func (c Cluster) Len() int { return c.End - c.Begin + 1 }

func (c Cluster) String() string { return fmt.Sprintf("{%d,%d}", c.Begin, c.End) }

// noCluster marks an open cluster that has not started yet.
const noCluster = -2

// clusterBuilder grows a cluster while indices stay contiguous and closes it
// on the first gap.
type clusterBuilder struct {
	current Cluster
	done    []Cluster
}

func newClusterBuilder() *clusterBuilder {
	return &clusterBuilder{current: Cluster{Begin: noCluster, End: noCluster}}
}

func (b *clusterBuilder) add(index int) {
	if b.current.End+1 == index {
		b.current.End = index
		return
	}
	if b.current.Begin != noCluster {
		b.done = append(b.done, b.current)
	}
	b.current = Cluster{Begin: index, End: index}
}

func (b *clusterBuilder) flush() []Cluster {
	if b.current.Begin != noCluster {
		b.done = append(b.done, b.current)
		b.current = Cluster{Begin: noCluster, End: noCluster}
	}
	return b.done
}

// Stats tracks, for one datastore, the low-confidence clusters of every
// keypoint, the clusters where all keypoints are accurate at once, and the
// per-frame occupancy fraction.
//
// Stats is filled by a single sequential pass and then registered against the
// content hash of the table. A registered Stats is read-only; it stays valid
// until the datastore's hash changes.
type Stats struct {
	mu         sync.RWMutex
	bodyParts  []string
	na         map[string]*clusterBuilder
	accurate   *clusterBuilder
	occupancy  []FrameOccupancy
	hash       uint64
	registered bool
	sealed     bool
}

// NewStats returns empty statistics for the given keypoints.
func NewStats(bodyParts []string) *Stats {
	s := &Stats{
		bodyParts: slices.Clone(bodyParts),
		na:        make(map[string]*clusterBuilder, len(bodyParts)),
		accurate:  newClusterBuilder(),
	}
	for _, name := range bodyParts {
		s.na[name] = newClusterBuilder()
	}
	return s
}

// UpdateCluster records that part is below threshold at index.
func (s *Stats) UpdateCluster(index int, part string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return
	}
	b, ok := s.na[part]
	if !ok {
		return
	}
	b.add(index)
}

// UpdateAccurate records that every keypoint is above threshold at index.
func (s *Stats) UpdateAccurate(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return
	}
	s.accurate.add(index)
}

// FrameOccupancy is the share of confident keypoints at one frame.
type FrameOccupancy struct {
	Index    int
	Fraction float64
}

// AddOccupancy records the share of confident keypoints at index. Frames are
// expected in increasing index order.
func (s *Stats) AddOccupancy(index int, fraction float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return
	}
	s.occupancy = append(s.occupancy, FrameOccupancy{Index: index, Fraction: fraction})
}

// Register closes every open cluster and binds the statistics to hash. It
// returns false when the statistics were already registered; a Stats is
// registered once for its lifetime.
func (s *Stats) Register(hash uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return false
	}
	for _, b := range s.na {
		b.flush()
	}
	s.accurate.flush()
	s.hash = hash
	s.registered = true
	s.sealed = true
	return true
}

// Registered reports whether the statistics are registered and not invalidated.
func (s *Stats) Registered() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registered
}

// Invalidate marks the statistics stale. The data is kept; a fresh pass is
// needed to produce valid statistics again.
func (s *Stats) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registered = false
}

// Hash returns the content hash the statistics were registered against.
func (s *Stats) Hash() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hash
}

// BodyParts returns the keypoints the statistics were computed for.
func (s *Stats) BodyParts() []string { return s.bodyParts }

// NAClusters returns the low-confidence clusters of part.
func (s *Stats) NAClusters(part string) []Cluster {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.na[part]
	if !ok {
		return nil
	}
	return slices.Clone(b.done)
}

// AccurateClusters returns the clusters where all keypoints are confident.
func (s *Stats) AccurateClusters() []Cluster {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.accurate.done)
}

// Occupancy returns the per-frame confident share in frame order.
func (s *Stats) Occupancy() []FrameOccupancy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.occupancy)
}

// OccupancyClusters returns contiguous runs of frames whose occupancy lies in
// [minOccupancy, maxOccupancy]. A frame with no recorded occupancy ends a run.
func (s *Stats) OccupancyClusters(minOccupancy, maxOccupancy float64) ([]Cluster, error) {
	if minOccupancy < 0 || minOccupancy > maxOccupancy || maxOccupancy > 1 {
		return nil, fmt.Errorf("invalid occupancy band [%g, %g]", minOccupancy, maxOccupancy)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b := newClusterBuilder()
	for _, occ := range s.occupancy {
		if occ.Fraction >= minOccupancy && occ.Fraction <= maxOccupancy {
			b.add(occ.Index)
		}
	}
	return b.flush(), nil
}

// HistogramBin counts accurate clusters whose width is below UpperBound and
// at least the previous bin's bound. The last bin also collects wider clusters.
type HistogramBin struct {
	UpperBound int
	Count      int
}

// AccurateClusterInfo summarizes accurate cluster widths. It returns the
// number of clusters, a width histogram with bins of binWidth up to maxBin,
// and the summed width.
func (s *Stats) AccurateClusterInfo(binWidth, maxBin int) (int, []HistogramBin, int) {
	if binWidth <= 0 {
		binWidth = 20
	}
	if maxBin < binWidth {
		maxBin = binWidth
	}
	var hist []HistogramBin
	for bound := binWidth; bound <= maxBin; bound += binWidth {
		hist = append(hist, HistogramBin{UpperBound: bound})
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, c := range s.accurate.done {
		width := c.End - c.Begin
		total += width
		target := len(hist) - 1
		for i, bin := range hist {
			if width < bin.UpperBound {
				target = i
				break
			}
		}
		hist[target].Count++
	}
	return len(s.accurate.done), hist, total
}

// IntersectAccurate intersects these accurate clusters with other.
func (s *Stats) IntersectAccurate(other []Cluster) []Cluster {
	return Intersect(s.AccurateClusters(), other)
}

// Intersect returns the overlap of two index-sorted, non-overlapping cluster
// lists in O(len(a)+len(b)).
func Intersect(a, b []Cluster) []Cluster {
	var out []Cluster
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		begin := max(a[i].Begin, b[j].Begin)
		end := min(a[i].End, b[j].End)
		if begin <= end {
			out = append(out, Cluster{Begin: begin, End: end})
		}
		if a[i].End < b[j].End {
			i++
		} else {
			j++
		}
	}
	return out
}

// statsSnapshot is the gob form of Stats.
type statsSnapshot struct {
	BodyParts  []string
	NA         map[string][]Cluster
	Accurate   []Cluster
	Occupancy  []FrameOccupancy
	Hash       uint64
	Registered bool
}

func (s *Stats) snapshot() statsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := statsSnapshot{
		BodyParts:  slices.Clone(s.bodyParts),
		NA:         make(map[string][]Cluster, len(s.na)),
		Accurate:   slices.Clone(s.accurate.done),
		Occupancy:  slices.Clone(s.occupancy),
		Hash:       s.hash,
		Registered: s.registered,
	}
	for name, b := range s.na {
		snap.NA[name] = slices.Clone(b.done)
	}
	return snap
}

func statsFromSnapshot(snap statsSnapshot) *Stats {
	s := NewStats(snap.BodyParts)
	for name, clusters := range snap.NA {
		if b, ok := s.na[name]; ok {
			b.done = clusters
		}
	}
	s.accurate.done = snap.Accurate
	s.occupancy = snap.Occupancy
	s.hash = snap.Hash
	s.registered = snap.Registered
	s.sealed = true
	return s
}
