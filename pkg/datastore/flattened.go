package datastore

import (
	"errors"
	"fmt"
	"math"
	"os"
	"slices"

	"github.com/sanonone/cvkit/pkg/skeleton"
)

// FlavorFlattened spreads every keypoint over DIMENSIONS numeric columns
// named {keypoint}_{1..D}.
const FlavorFlattened = "flattened"

// Flattened is the ',' separated layout with one column per coordinate.
// An empty component makes the whole keypoint missing.
type Flattened struct {
	*base
}

var _ DataStore = (*Flattened)(nil)

// NewFlattened opens path with the given dimension, or creates an empty store.
func NewFlattened(bodyParts []string, path string, dims int) (*Flattened, error) {
	if dims < 1 {
		return nil, fmt.Errorf("flattened datastore: invalid dimension %d", dims)
	}
	ds := &Flattened{}
	ds.base = newBase(FlavorFlattened, bodyParts, path, dims, vectorCodec{})
	if path != "" {
		if err := ds.load(path); err != nil {
			return nil, err
		}
	}
	ds.loadSidecar()
	return ds, nil
}

func columnName(part string, dim int) string {
	return fmt.Sprintf("%s_%d", part, dim)
}

func (ds *Flattened) load(path string) error {
	records, err := readCSV(path, ',')
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
	cols := make([][]int, len(ds.bodyParts))
	for i, name := range ds.bodyParts {
		cols[i] = make([]int, ds.dims)
		for d := range ds.dims {
			cols[i][d] = slices.Index(header, columnName(name, d+1))
		}
	}
	behaviourCol := slices.Index(header, behaviourColumn)

	for index, rec := range records[1:] {
		r := ds.table.upsert(index)
		for i := range ds.bodyParts {
			vec := make([]float64, ds.dims)
			present := false
			for d, col := range cols[i] {
				v, ok := skeleton.ParseFloat(cellAt(rec, col))
				if !ok {
					vec[d] = math.NaN()
					continue
				}
				vec[d] = v
				present = true
			}
			if present {
				r.cells[i] = cell{vec: vec, set: true}
			}
		}
		r.behaviour = splitBehaviour(cellAt(rec, behaviourCol))
	}
	return nil
}

func (ds *Flattened) Save(path string) error {
	path, err := ds.resolvePath(path)
	if err != nil {
		return err
	}
	records := ds.HeaderRows()
	for _, s := range ds.materialize() {
		out := make([]string, 0, len(ds.bodyParts)*ds.dims+1)
		for _, name := range ds.bodyParts {
			p := s.Part(name)
			for d := range ds.dims {
				out = append(out, flattenedComponent(p, d))
			}
		}
		records = append(records, append(out, joinBehaviour(s.Behaviour)))
	}
	return writeCSV(path, ',', records)
}

func flattenedComponent(p skeleton.Part, d int) string {
	if d >= len(p.Vec) {
		return ""
	}
	x := p.Vec[d]
	if x == skeleton.MagicNumber || math.IsNaN(x) {
		return ""
	}
	return skeleton.FormatFloat(x)
}

func (ds *Flattened) HeaderRows() [][]string {
	header := make([]string, 0, len(ds.bodyParts)*ds.dims+1)
	for _, name := range ds.bodyParts {
		for d := range ds.dims {
			header = append(header, columnName(name, d+1))
		}
	}
	return [][]string{append(header, behaviourColumn)}
}

func (ds *Flattened) ConvertRow(_ int, s skeleton.Skeleton, threshold float64) []string {
	out := make([]string, 0, len(ds.bodyParts)*ds.dims+1)
	for _, name := range ds.bodyParts {
		p := s.Part(name)
		for d := range ds.dims {
			if p.ConfidenceAbove(threshold) && d < len(p.Vec) {
				out = append(out, skeleton.FormatFloat(p.Vec[d]))
			} else {
				out = append(out, "")
			}
		}
	}
	return append(out, joinBehaviour(s.Behaviour))
}
