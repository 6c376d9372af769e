package processor

import (
	"context"
	"fmt"
	"math"
	"path/filepath"

	"github.com/sanonone/cvkit/pkg/config"
	"github.com/sanonone/cvkit/pkg/datastore"
	"github.com/sanonone/cvkit/pkg/dlt"
	"github.com/sanonone/cvkit/pkg/skeleton"
)

// IDDeconstruct is the processor id of 2D re-projection.
const IDDeconstruct = "cvkit_3d_deconstruct"

// Deconstruction re-projects a 3D datastore into 2D target views and writes
// one deeplabcut file per view. It has no single output datastore; the
// per-view stores are available from Views after completion.
type Deconstruction struct {
	*Base
	cfg         *config.Config
	targetViews []string
	// FilePrefix, when set, replaces the input's base path. It is resolved
	// against the configured output folder.
	FilePrefix string

	views map[string]datastore.DataStore
}

// NewDeconstruction returns a re-projection into targetViews.
func NewDeconstruction(cfg *config.Config, targetViews []string, filePrefix string) *Deconstruction {
	return &Deconstruction{
		Base:        newBase(IDDeconstruct, "Deconstruction Process", false),
		cfg:         cfg,
		targetViews: targetViews,
		FilePrefix:  filePrefix,
	}
}

// ViewPath returns the file written for view.
func (p *Deconstruction) ViewPath(ds datastore.DataStore, view string) string {
	base := ds.BasePath()
	if p.FilePrefix != "" {
		base = filepath.Join(p.cfg.OutputFolder, p.FilePrefix)
	}
	return fmt.Sprintf("%s_%s.csv", base, view)
}

// Views returns the written per-view datastores, keyed by view name.
func (p *Deconstruction) Views() map[string]datastore.DataStore { return p.views }

func (p *Deconstruction) Process(ctx context.Context, ds datastore.DataStore) error {
	if err := p.start(ds); err != nil {
		return err
	}
	if len(p.targetViews) == 0 {
		return fmt.Errorf("%w: no target views", ErrInvalidParams)
	}
	coeffs, err := p.cfg.DLTCoefficients(p.targetViews)
	if err != nil {
		return err
	}
	tr, err := p.cfg.Transform()
	if err != nil {
		return err
	}
	if ds.BasePath() == "" && p.FilePrefix == "" {
		return fmt.Errorf("%w: input has no path and no file prefix is set", ErrInvalidParams)
	}

	outs := make([]datastore.DataStore, len(p.targetViews))
	for i := range p.targetViews {
		out, err := datastore.NewDeepLabCut(ds.BodyParts(), "")
		if err != nil {
			return err
		}
		outs[i] = out
	}

	total := ds.Len()
	done := 0
	for index, s := range ds.RowIterator() {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, name := range ds.BodyParts() {
			part := s.Part(name)
			if !part.ConfidenceAbove(0) || part.IsSentinel() {
				continue
			}
			raw := tr.Invert(part.Vec)
			uv, err := dlt.Project(coeffs, [][]float64{raw})
			if err != nil {
				return err
			}
			for i, out := range outs {
				u, v := math.Round(uv[0][2*i]), math.Round(uv[0][2*i+1])
				out.SetPart(index, skeleton.NewPart([]float64{u, v}, name, 1))
			}
		}
		done++
		p.tick(done, total)
	}

	p.views = make(map[string]datastore.DataStore, len(outs))
	for i, view := range p.targetViews {
		path := p.ViewPath(ds, view)
		if err := outs[i].Save(path); err != nil {
			return fmt.Errorf("view %s: %w", view, err)
		}
		p.views[view] = outs[i]
		p.logger.Info("[Deconstruct] View written", "view", view, "path", path)
	}
	p.finish(nil)
	return nil
}
