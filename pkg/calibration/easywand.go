package calibration

import (
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sanonone/cvkit/pkg/config"
	"github.com/sanonone/cvkit/pkg/datastore"
)

// EasyWandFiles are the paths written by WriteEasyWand.
type EasyWandFiles struct {
	CameraOrder    string
	CameraProfiles string
	WandPoints     string
	Background     string
}

// EasyWandPaths returns where WriteEasyWand puts its files for cfg.
func EasyWandPaths(cfg *config.Config) EasyWandFiles {
	dir := filepath.Join(cfg.OutputFolder, "calibration")
	prefix := filepath.Join(dir, cfg.Name)
	return EasyWandFiles{
		CameraOrder:    prefix + "_calibration_camera_order.txt",
		CameraProfiles: prefix + "_calibration_camera_profiles.txt",
		WandPoints:     prefix + "_WandPoints.csv",
		Background:     prefix + "_background.csv",
	}
}

// WriteEasyWand exports the inputs of an EasyWand calibration under
// <output_folder>/calibration: the camera order, one profile per camera,
// the rounded pixel positions of every keypoint at indices (keypoint major,
// camera minor) and the static background points of each camera.
func WriteEasyWand(cfg *config.Config, stores map[string]datastore.DataStore, indices []int, staticPoints map[string][][2]float64) (EasyWandFiles, error) {
	files := EasyWandPaths(cfg)
	views := cfg.ViewNames()
	for _, name := range views {
		if _, ok := stores[name]; !ok {
			return files, fmt.Errorf("no datastore for view %q", name)
		}
	}
	if err := os.MkdirAll(filepath.Dir(files.CameraOrder), 0o755); err != nil {
		return files, err
	}

	var order, profiles strings.Builder
	for i, name := range views {
		v := cfg.Views[name]
		if len(v.Resolution) != 2 || len(v.PrincipalPoint) != 2 {
			return files, fmt.Errorf("view %s needs resolution and principal point", name)
		}
		fmt.Fprintf(&order, "%s ", name)
		fmt.Fprintf(&profiles, "%d %s %d %d %s %s 1 0 0 0 0 0\n", i+1,
			formatFloat(v.FPx), v.Resolution[0], v.Resolution[1],
			formatFloat(v.PrincipalPoint[0]), formatFloat(v.PrincipalPoint[1]))
	}
	if err := os.WriteFile(files.CameraOrder, []byte(order.String()), 0o644); err != nil {
		return files, err
	}
	if err := os.WriteFile(files.CameraProfiles, []byte(profiles.String()), 0o644); err != nil {
		return files, err
	}

	wand := make([][]string, 0, len(indices))
	for _, index := range indices {
		row := make([]string, 0, len(cfg.BodyParts)*len(views)*2)
		for _, part := range cfg.BodyParts {
			for _, name := range views {
				p := stores[name].GetPart(index, part)
				row = append(row,
					strconv.Itoa(int(math.RoundToEven(p.Vec[0]))),
					strconv.Itoa(int(math.RoundToEven(p.Vec[1]))))
			}
		}
		wand = append(wand, row)
	}
	if err := writeRecords(files.WandPoints, wand); err != nil {
		return files, err
	}

	var background [][]string
	for _, name := range views {
		for i, pt := range staticPoints[name] {
			if len(background) == i {
				background = append(background, nil)
			}
			background[i] = append(background[i], formatFloat(pt[0]), formatFloat(pt[1]))
		}
	}
	return files, writeRecords(files.Background, background)
}

// UpdateDLTCoefficients loads EasyWand's DLT coefficient export: a headerless
// CSV of 11 rows with one column per camera in order. Each camera gets its
// column plus the trailing 1. Nothing is changed unless the whole file is valid.
func UpdateDLTCoefficients(cfg *config.Config, path string, order []string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if len(records) != 11 {
		return fmt.Errorf("%s: want 11 coefficient rows, got %d", path, len(records))
	}

	coeffs := make(map[string][]float64, len(order))
	for col, name := range order {
		if _, err := cfg.View(name); err != nil {
			return err
		}
		c := make([]float64, 0, 12)
		for r, rec := range records {
			if col >= len(rec) {
				return fmt.Errorf("%s: row %d has no column for camera %s", path, r, name)
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[col]), 64)
			if err != nil {
				return fmt.Errorf("%s: row %d camera %s: %w", path, r, name, err)
			}
			c = append(c, v)
		}
		coeffs[name] = append(c, 1)
	}
	if len(coeffs) == 0 {
		return errors.New("no cameras to update")
	}
	for name, c := range coeffs {
		cfg.Views[name].DLTCoefficients = c
	}
	return nil
}

func writeRecords(path string, records [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
