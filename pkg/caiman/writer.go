package caiman

import (
	"fmt"

	"imagingloader/pkg/fitsarray"
)

// PlaneData is everything one analysis run exports for a plane.
//
// Images are flat row-major arrays of ImageShape: (height, width) for 2D
// results, (depth, height, width) for volumetric ones. Matrices are given
// row by row.
type PlaneData struct {
	Params Params

	ImageShape       []int
	ReferenceImage   []float64
	AverageImage     []float64
	MaxImage         []float64
	CorrelationImage []float64

	// ShiftsRig is frames x 2 (x, y) or frames x 3 (x, y, z)
	ShiftsRig [][]float64

	// XShiftsEls, YShiftsEls and ZShiftsEls are frames x blocks
	XShiftsEls [][]float64
	YShiftsEls [][]float64
	ZShiftsEls [][]float64

	// CoordShiftsEls is blocks x 4 (x0, x1, y0, y1) or blocks x 6 with z0, z1
	CoordShiftsEls [][]int

	// A is components x pixels, each component raveled with rows fastest
	A [][]float64

	// C, FDff and S are components x frames
	C    [][]float64
	FDff [][]float64
	S    [][]float64

	// IdxComponents is the curated good-component index; nil when uncurated
	IdxComponents []int
}

// matrix flattens rows into a 2D array, rejecting ragged input
func matrix(name string, rows [][]float64) (*fitsarray.Array, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for i, r := range rows {
		if len(r) != cols {
			return nil, fmt.Errorf("%s: row %d has %d columns, expected %d", name, i, len(r), cols)
		}
		data = append(data, r...)
	}
	return fitsarray.NewArray(name, data, len(rows), cols)
}

func intMatrix(name string, rows [][]int) (*fitsarray.Array, error) {
	fl := make([][]float64, len(rows))
	for i, r := range rows {
		fl[i] = make([]float64, len(r))
		for j, v := range r {
			fl[i][j] = float64(v)
		}
	}
	return matrix(name, fl)
}

// WritePlane writes d as a plane result file at path
func WritePlane(path string, d *PlaneData) error {
	var arrays []*fitsarray.Array

	images := []struct {
		name string
		data []float64
	}{
		{FieldReferenceImage, d.ReferenceImage},
		{FieldCorrelationImage, d.CorrelationImage},
		{FieldAverageImage, d.AverageImage},
		{FieldMaxImage, d.MaxImage},
	}
	for _, img := range images {
		arr, err := fitsarray.NewArray(img.name, img.data, d.ImageShape...)
		if err != nil {
			return err
		}
		arrays = append(arrays, arr)
	}

	matrices := []struct {
		name string
		rows [][]float64
	}{
		{FieldA, d.A},
		{FieldC, d.C},
		{FieldFDff, d.FDff},
		{FieldS, d.S},
		{FieldShiftsRig, d.ShiftsRig},
		{FieldXShiftsEls, d.XShiftsEls},
		{FieldYShiftsEls, d.YShiftsEls},
		{FieldZShiftsEls, d.ZShiftsEls},
	}
	for _, m := range matrices {
		arr, err := matrix(m.name, m.rows)
		if err != nil {
			return err
		}
		if arr != nil {
			arrays = append(arrays, arr)
		}
	}

	coords, err := intMatrix(FieldCoordShiftsEls, d.CoordShiftsEls)
	if err != nil {
		return err
	}
	if coords != nil {
		arrays = append(arrays, coords)
	}

	if len(d.IdxComponents) > 0 {
		idx := make([]float64, len(d.IdxComponents))
		for i, v := range d.IdxComponents {
			idx[i] = float64(v)
		}
		arr, err := fitsarray.NewArray(FieldIdxComponents, idx, len(idx))
		if err != nil {
			return err
		}
		arrays = append(arrays, arr)
	}

	return fitsarray.Write(path, d.Params.header(), arrays)
}
