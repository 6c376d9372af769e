package datastore

import (
	"errors"
	"fmt"
	"os"

	"github.com/sanonone/cvkit/pkg/skeleton"
)

// Convert writes every row of src to dst.Path() in dst's layout. Parts at or
// below threshold are written as missing where the target layout has no
// likelihood column. An existing target file is never overwritten.
func Convert(src, dst DataStore, threshold float64) error {
	path := dst.Path()
	if path == "" {
		return errors.New("convert: target datastore has no path")
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrFileExists, path)
	}

	records := dst.HeaderRows()
	// Layouts without an index column are positional, so gaps become empty rows.
	dense := dst.Flavor() != FlavorDeepLabCut
	next := 0
	for index, s := range src.RowIterator() {
		for ; dense && next < index; next++ {
			empty := skeleton.Empty(dst.BodyParts(), dst.Dimensions())
			records = append(records, dst.ConvertRow(next, empty, threshold))
		}
		records = append(records, dst.ConvertRow(index, s, threshold))
		next = index + 1
	}
	return writeCSV(path, separatorFor(dst.Flavor()), records)
}

func separatorFor(flavor string) rune {
	if flavor == FlavorCVKit3D {
		return ';'
	}
	return ','
}
