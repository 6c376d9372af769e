package datastore

// ComputeStats runs the cluster statistics pass over every stored frame of ds.
// A keypoint is low confidence when its likelihood is below threshold; a frame
// is accurate when no keypoint is. progress, when not nil, receives the
// completed percentage after each frame. The returned Stats is not registered.
func ComputeStats(ds DataStore, threshold float64, progress func(percent int)) *Stats {
	bodyParts := ds.BodyParts()
	stats := NewStats(bodyParts)
	total := ds.Len()
	if total == 0 || len(bodyParts) == 0 {
		return stats
	}

	done := 0
	for index, s := range ds.RowIterator() {
		accurate := 0
		for _, name := range bodyParts {
			if s.Part(name).ConfidenceBelow(threshold) {
				stats.UpdateCluster(index, name)
				continue
			}
			accurate++
		}
		stats.AddOccupancy(index, float64(accurate)/float64(len(bodyParts)))
		if accurate == len(bodyParts) {
			stats.UpdateAccurate(index)
		}
		done++
		if progress != nil {
			progress(done * 100 / total)
		}
	}
	return stats
}

// EnsureStats returns the cached statistics of ds when they still match its
// content, and otherwise computes, registers and persists fresh ones.
func EnsureStats(ds DataStore, threshold float64) (*Stats, error) {
	if ds.VerifyStats() {
		return ds.Stats(), nil
	}
	stats := ComputeStats(ds, threshold, nil)
	if err := ds.SetStats(stats); err != nil {
		return nil, err
	}
	return stats, nil
}
