package caiman

import (
	"os"
	"path/filepath"
	"testing"
)

// Field of view used by every fixture plane
const (
	testRows  = 4
	testCols  = 5
	testDepth = 3
)

// planeFixture describes a synthetic plane result
type planeFixture struct {
	is3D    bool
	pwRigid bool
	frames  int
	masks   int
	blocks  int
	base    float64

	// curated is the good-component index; nil leaves the plane uncurated
	curated []int
}

// writeTestPlane writes a plane result described by s into dir and returns the file path
func writeTestPlane(t *testing.T, dir string, s planeFixture) string {
	t.Helper()

	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create plane dir: %v", err)
	}

	d := &PlaneData{
		Params: Params{
			Is3D:     s.is3D,
			PwRigid:  s.pwRigid,
			Dims:     []int{testRows, testCols},
			Strides:  []int{2, 2},
			Overlaps: []int{1, 1},
		},
		ImageShape: []int{testRows, testCols},
	}
	pixels := testRows * testCols
	if s.is3D {
		d.Params.Dims = append(d.Params.Dims, testDepth)
		d.Params.Strides = append(d.Params.Strides, 1)
		d.Params.Overlaps = append(d.Params.Overlaps, 1)
		d.ImageShape = []int{testDepth, testRows, testCols}
		pixels *= testDepth
	}

	// every voxel gets a distinct value; each image kind is offset differently
	n := pixels
	for i, img := range []*[]float64{&d.ReferenceImage, &d.AverageImage, &d.MaxImage, &d.CorrelationImage} {
		*img = make([]float64, n)
		for j := range *img {
			(*img)[j] = s.base + float64(i*1000+j)
		}
	}

	// component k covers (x=k, y=0) with weight 1 and (x=k, y=1) with weight 3
	for k := 0; k < s.masks; k++ {
		row := make([]float64, pixels)
		row[k] = 1
		row[k+testRows] = 3
		d.A = append(d.A, row)

		c := make([]float64, s.frames)
		dff := make([]float64, s.frames)
		for f := range c {
			c[f] = float64(k*100 + f)
			dff[f] = float64(k) + 0.5
		}
		d.C = append(d.C, c)
		d.FDff = append(d.FDff, dff)
	}
	d.IdxComponents = s.curated

	if s.pwRigid {
		for f := 0; f < s.frames; f++ {
			xr := make([]float64, s.blocks)
			yr := make([]float64, s.blocks)
			zr := make([]float64, s.blocks)
			for b := 0; b < s.blocks; b++ {
				xr[b] = s.base + float64(b) + 0.1*float64(f)
				yr[b] = -xr[b]
				zr[b] = 0.5 * float64(f)
			}
			d.XShiftsEls = append(d.XShiftsEls, xr)
			d.YShiftsEls = append(d.YShiftsEls, yr)
			if s.is3D {
				d.ZShiftsEls = append(d.ZShiftsEls, zr)
			}
		}
		for b := 0; b < s.blocks; b++ {
			x0, y0 := (b%2)*2, (b/2)*2
			c := []int{x0, x0 + 3, y0, y0 + 3}
			if s.is3D {
				c = append(c, b%2, b%2+2)
			}
			d.CoordShiftsEls = append(d.CoordShiftsEls, c)
		}
	} else {
		for f := 0; f < s.frames; f++ {
			row := []float64{s.base + float64(f), -(s.base + float64(f))}
			if s.is3D {
				row = append(row, 0.5*float64(f))
			}
			d.ShiftsRig = append(d.ShiftsRig, row)
		}
	}

	path := filepath.Join(dir, "caiman_analysis.fits")
	if err := WritePlane(path, d); err != nil {
		t.Fatalf("Failed to write plane result: %v", err)
	}
	return path
}

// loadTest loads root, failing the test on error
func loadTest(t *testing.T, root string) *Aggregator {
	t.Helper()
	a, err := Load(root)
	if err != nil {
		t.Fatalf("Failed to load caiman results: %v", err)
	}
	return a
}
