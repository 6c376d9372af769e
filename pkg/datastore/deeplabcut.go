package datastore

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sanonone/cvkit/pkg/skeleton"
)

const (
	// FlavorDeepLabCut is the 2D layout produced by DeepLabCut.
	FlavorDeepLabCut = "deeplabcut"

	// DefaultScorer names the scorer level of files created from scratch.
	DefaultScorer = "CVKit3D"

	dlcHeaderRows = 3
)

// DeepLabCut reads and writes the three-row hierarchical header layout
// (scorer / bodyparts / coords). The first column carries the frame index, so
// rows may be sparse on disk.
type DeepLabCut struct {
	*base
	scorer string
}

var _ DataStore = (*DeepLabCut)(nil)

// NewDeepLabCut opens path, or creates an empty store when the file does not exist.
func NewDeepLabCut(bodyParts []string, path string) (*DeepLabCut, error) {
	ds := &DeepLabCut{scorer: DefaultScorer}
	ds.base = newBase(FlavorDeepLabCut, bodyParts, path, 2, dlcCodec{})
	if path != "" {
		if err := ds.load(path); err != nil {
			return nil, err
		}
	}
	ds.loadSidecar()
	return ds, nil
}

// Scorer returns the value of the scorer header level.
func (ds *DeepLabCut) Scorer() string { return ds.scorer }

func (ds *DeepLabCut) load(path string) error {
	records, err := readCSV(path, ',')
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(records) < dlcHeaderRows {
		return fmt.Errorf("%w: %s: expected %d header rows", ErrMalformedFile, path, dlcHeaderRows)
	}
	scorers, parts, coords := records[0], records[1], records[2]
	if s := cellAt(scorers, 1); s != "" {
		ds.scorer = s
	}

	// (bodypart, coord) -> column
	lookup := make(map[[2]string]int, len(parts))
	for col := 1; col < len(parts); col++ {
		lookup[[2]string{parts[col], cellAt(coords, col)}] = col
	}
	col := func(part, coord string) int {
		if c, ok := lookup[[2]string{part, coord}]; ok {
			return c
		}
		return -1
	}
	behaviourCol := col(behaviourColumn, "name")

	for n, rec := range records[dlcHeaderRows:] {
		raw := strings.TrimSpace(cellAt(rec, 0))
		if raw == "" {
			continue
		}
		index, err := strconv.Atoi(raw)
		if err != nil {
			f, ferr := strconv.ParseFloat(raw, 64)
			if ferr != nil {
				return fmt.Errorf("%w: %s row %d: bad index %q", ErrMalformedFile, path, n+dlcHeaderRows, raw)
			}
			index = int(f)
		}
		r := ds.table.upsert(index)
		for i, name := range ds.bodyParts {
			xc, yc, lc := col(name, "x"), col(name, "y"), col(name, "likelihood")
			if xc < 0 {
				continue
			}
			x, okX := skeleton.ParseFloat(cellAt(rec, xc))
			y, okY := skeleton.ParseFloat(cellAt(rec, yc))
			if !okX || !okY {
				continue
			}
			lik, _ := skeleton.ParseFloat(cellAt(rec, lc))
			r.cells[i] = cell{vec: []float64{x, y}, likelihood: lik, set: true}
		}
		r.behaviour = splitBehaviour(cellAt(rec, behaviourCol))
	}
	return nil
}

// Save writes only stored frames; the index column keeps them addressable.
func (ds *DeepLabCut) Save(path string) error {
	path, err := ds.resolvePath(path)
	if err != nil {
		return err
	}
	records := ds.HeaderRows()
	for index, s := range ds.RowIterator() {
		records = append(records, ds.ConvertRow(index, s, 0))
	}
	return writeCSV(path, ',', records)
}

func (ds *DeepLabCut) HeaderRows() [][]string {
	n := len(ds.bodyParts)*3 + 2
	scorer := make([]string, 0, n)
	parts := make([]string, 0, n)
	coords := make([]string, 0, n)
	scorer = append(scorer, "scorer")
	parts = append(parts, "bodyparts")
	coords = append(coords, "coords")
	for _, name := range ds.bodyParts {
		for _, c := range []string{"x", "y", "likelihood"} {
			scorer = append(scorer, ds.scorer)
			parts = append(parts, name)
			coords = append(coords, c)
		}
	}
	scorer = append(scorer, ds.scorer)
	parts = append(parts, behaviourColumn)
	coords = append(coords, "name")
	return [][]string{scorer, parts, coords}
}

// ConvertRow writes every part as-is. The likelihood column carries the
// confidence, so threshold is not applied.
func (ds *DeepLabCut) ConvertRow(index int, s skeleton.Skeleton, _ float64) []string {
	out := make([]string, 0, len(ds.bodyParts)*3+2)
	out = append(out, strconv.Itoa(index))
	for _, name := range ds.bodyParts {
		p := s.Part(name)
		x, y := -1.0, -1.0
		if len(p.Vec) >= 2 {
			x, y = p.Vec[0], p.Vec[1]
		}
		out = append(out, skeleton.FormatFloat(x), skeleton.FormatFloat(y), skeleton.FormatFloat(p.Likelihood))
	}
	return append(out, joinBehaviour(s.Behaviour))
}

// dlcCodec keeps the stored likelihood. A column that was never written reads
// as (-1, -1) with likelihood 0, like a freshly created DeepLabCut column.
type dlcCodec struct{}

func (dlcCodec) decode(c cell, name string, dims int) skeleton.Part {
	if !c.set {
		return skeleton.NewPart([]float64{-1, -1}, name, 0)
	}
	vec := make([]float64, dims)
	copy(vec, c.vec)
	return skeleton.NewPart(vec, name, c.likelihood)
}

func (dlcCodec) encode(p skeleton.Part, dims int) cell {
	vec := make([]float64, dims)
	for i := range vec {
		if i < len(p.Vec) {
			vec[i] = p.Vec[i]
		} else {
			vec[i] = skeleton.MagicNumber
		}
	}
	return cell{vec: vec, likelihood: p.Likelihood, set: true}
}

// blank matches cells that save as (-1, -1, 0) or fail to parse back.
func (dlcCodec) blank(c cell) bool {
	if !c.set || hasNaN(c.vec) {
		return true
	}
	return len(c.vec) == 2 && c.vec[0] == -1 && c.vec[1] == -1 && c.likelihood == 0
}

// softDelete zeroes the likelihood and leaves the coordinates for inspection.
func (dlcCodec) softDelete(c *cell) {
	if !c.set {
		*c = cell{vec: []float64{-1, -1}, set: true}
		return
	}
	c.likelihood = 0
}
