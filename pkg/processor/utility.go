package processor

import (
	"context"
	"fmt"

	"github.com/sanonone/cvkit/pkg/config"
	"github.com/sanonone/cvkit/pkg/datastore"
)

// Processor ids of the utility steps.
const (
	IDClusterAnalysis = "cvkit_cluster_analysis"
	IDLoadFile        = "cvkit_load_file"
	IDSaveFile        = "cvkit_save_file"
)

// ClusterAnalysis computes the cluster statistics of a datastore, registers
// them and writes the sidecar. Valid statistics are kept as they are.
type ClusterAnalysis struct {
	*Base
	Threshold float64
}

// NewClusterAnalysis returns the statistics step.
func NewClusterAnalysis(threshold float64) *ClusterAnalysis {
	return &ClusterAnalysis{Base: newBase(IDClusterAnalysis, "Data Analysis", false), Threshold: threshold}
}

func (p *ClusterAnalysis) Process(ctx context.Context, ds datastore.DataStore) error {
	if err := p.start(ds); err != nil {
		return err
	}
	if ds.VerifyStats() {
		p.logger.Debug("[Stats] Cached statistics are current", "path", ds.Path())
		p.finish(ds)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	stats := datastore.ComputeStats(ds, p.Threshold, p.setProgress)
	if err := ds.SetStats(stats); err != nil {
		return fmt.Errorf("register statistics: %w", err)
	}
	p.logger.Info("[Stats] Statistics registered", "frames", ds.Len(), "accurate_clusters", len(stats.AccurateClusters()))
	p.finish(ds)
	return nil
}

// LoadFile opens a datastore through the flavor registry. Its input is
// ignored, so it usually starts a pipeline.
type LoadFile struct {
	*Base
	stores    *datastore.Registry
	bodyParts []string
	Path      string
	Flavor    string
}

// NewLoadFile returns a loader for path in flavor.
func NewLoadFile(stores *datastore.Registry, bodyParts []string, path, flavor string) *LoadFile {
	return &LoadFile{
		Base:      newBase(IDLoadFile, "File Loader", false),
		stores:    stores,
		bodyParts: bodyParts,
		Path:      path,
		Flavor:    flavor,
	}
}

func (p *LoadFile) Process(_ context.Context, _ datastore.DataStore) error {
	p.begin()
	ds, err := p.stores.Open(p.Flavor, p.bodyParts, p.Path)
	if err != nil {
		return fmt.Errorf("load %s: %w", p.Path, err)
	}
	p.logger.Info("[Load] Datastore opened", "path", p.Path, "flavor", p.Flavor, "frames", ds.Len())
	p.finish(ds)
	return nil
}

// SaveFile persists its input, to Path when set or to the datastore's own
// path otherwise.
type SaveFile struct {
	*Base
	Path string
}

// NewSaveFile returns the save step.
func NewSaveFile(path string) *SaveFile {
	return &SaveFile{Base: newBase(IDSaveFile, "Save File", false), Path: path}
}

func (p *SaveFile) Process(_ context.Context, ds datastore.DataStore) error {
	if err := p.start(ds); err != nil {
		return err
	}
	if err := ds.Save(p.Path); err != nil {
		return err
	}
	p.logger.Info("[Save] Datastore written", "path", firstNonEmpty(p.Path, ds.Path()), "frames", ds.Len())
	p.finish(ds)
	return nil
}

// openAnnotations opens the annotation file of every view, keyed by view name.
func openAnnotations(stores *datastore.Registry, cfg *config.Config, views []string) (map[string]datastore.DataStore, error) {
	out := make(map[string]datastore.DataStore, len(views))
	for _, view := range views {
		a, ok := cfg.AnnotationFor(view)
		if !ok {
			return nil, fmt.Errorf("%w: no annotation for view %q", ErrInvalidParams, view)
		}
		ds, err := stores.Open(a.Flavor, cfg.BodyParts, a.AnnotationFile)
		if err != nil {
			return nil, fmt.Errorf("view %s: %w", view, err)
		}
		out[view] = ds
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
