package datastore

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/sanonone/cvkit/pkg/skeleton"
)

// FlavorCVKit3D is the native 3D layout: ';' separated, one stringified
// coordinate list per keypoint and a behaviour column.
const FlavorCVKit3D = "CVKit3D"

const behaviourColumn = "behaviour"

// CVKit3D stores 3D keypoints as "[x, y, z]" cells. The format carries no
// likelihood: a cell is fully confident unless it is empty or the sentinel.
type CVKit3D struct {
	*base
}

var _ DataStore = (*CVKit3D)(nil)

// NewCVKit3D opens path, or creates an empty store when the file does not exist.
func NewCVKit3D(bodyParts []string, path string) (*CVKit3D, error) {
	ds := &CVKit3D{}
	ds.base = newBase(FlavorCVKit3D, bodyParts, path, 3, vectorCodec{})
	if path != "" {
		if err := ds.load(path); err != nil {
			return nil, err
		}
	}
	ds.loadSidecar()
	return ds, nil
}

func (ds *CVKit3D) load(path string) error {
	records, err := readCSV(path, ';')
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	header := records[0]
	cols := make([]int, len(ds.bodyParts))
	for i, name := range ds.bodyParts {
		cols[i] = slices.Index(header, name)
	}
	behaviourCol := slices.Index(header, behaviourColumn)

	for index, rec := range records[1:] {
		r := ds.table.upsert(index)
		for i, name := range ds.bodyParts {
			raw := cellAt(rec, cols[i])
			if raw == "" {
				continue
			}
			vec, err := skeleton.ParseVector(raw, ds.dims)
			if err != nil {
				return fmt.Errorf("%w: %s row %d column %s: %v", ErrMalformedFile, path, index, name, err)
			}
			r.cells[i] = cell{vec: vec, set: true}
		}
		r.behaviour = splitBehaviour(cellAt(rec, behaviourCol))
	}
	return nil
}

// Save writes the table densely from frame 0 so row position equals frame index.
func (ds *CVKit3D) Save(path string) error {
	path, err := ds.resolvePath(path)
	if err != nil {
		return err
	}
	records := ds.HeaderRows()
	for index, s := range ds.materialize() {
		records = append(records, ds.encodeRow(index, s))
	}
	return writeCSV(path, ';', records)
}

func (ds *CVKit3D) encodeRow(_ int, s skeleton.Skeleton) []string {
	out := make([]string, 0, len(ds.bodyParts)+1)
	for _, name := range ds.bodyParts {
		p := s.Part(name)
		if p.IsSentinel() || p.HasNaN() {
			out = append(out, "")
			continue
		}
		out = append(out, skeleton.FormatVector(p.Vec))
	}
	return append(out, joinBehaviour(s.Behaviour))
}

func (ds *CVKit3D) HeaderRows() [][]string {
	header := append(slices.Clone(ds.bodyParts), behaviourColumn)
	return [][]string{header}
}

func (ds *CVKit3D) ConvertRow(_ int, s skeleton.Skeleton, threshold float64) []string {
	out := make([]string, 0, len(ds.bodyParts)+1)
	for _, name := range ds.bodyParts {
		p := s.Part(name)
		if p.ConfidenceAbove(threshold) {
			out = append(out, skeleton.FormatVector(p.Vec))
		} else {
			out = append(out, "")
		}
	}
	return append(out, joinBehaviour(s.Behaviour))
}

// vectorCodec derives likelihood from the coordinates: 1 for a real position,
// 0 for an empty or sentinel cell. Shared by CVKit3D and flattened.
type vectorCodec struct{}

func (vectorCodec) decode(c cell, name string, dims int) skeleton.Part {
	if !c.set || len(c.vec) == 0 {
		return skeleton.EmptyPart(name, dims)
	}
	p := skeleton.NewPart(c.vec, name, 0)
	if p.HasNaN() {
		return skeleton.EmptyPart(name, dims)
	}
	if !p.IsSentinel() {
		p.Likelihood = 1
	}
	return p
}

// encode stores sentinel and NaN parts as unset cells, which is how Save
// writes them.
func (vectorCodec) encode(p skeleton.Part, _ int) cell {
	if p.IsSentinel() || p.HasNaN() {
		return cell{}
	}
	return cell{vec: slices.Clone(p.Vec), set: true}
}

func (vectorCodec) softDelete(c *cell) {
	*c = cell{}
}

func (vectorCodec) blank(c cell) bool {
	if !c.set {
		return true
	}
	return skeleton.NewPart(c.vec, "", 0).IsSentinel() || hasNaN(c.vec)
}
