package caiman

import (
	"fmt"

	"imagingloader/pkg/fitsarray"
)

// Params is the subset of the analysis parameters the loader relies on.
// Slices hold one entry per field-of-view axis, rows first.
type Params struct {
	// Is3D marks a volumetric analysis
	Is3D bool

	// PwRigid marks piecewise-rigid motion correction
	PwRigid bool

	// Dims is the field of view (rows, cols[, depth])
	Dims []int

	// Strides and Overlaps describe the piecewise-rigid patch grid
	Strides  []int
	Overlaps []int
}

// Primary header keywords
const (
	keyIs3D    = "IS3D"
	keyPwRigid = "PWRIGID"
	keyDims    = "DIMS"
	keyStride  = "STRIDE"
	keyOverlap = "OVERLAP"
)

func readAxes(hdr fitsarray.Header, prefix string) []int {
	var out []int
	for i := 1; i <= 3; i++ {
		v, ok := hdr.Int(fmt.Sprintf("%s%d", prefix, i))
		if !ok {
			break
		}
		out = append(out, v)
	}
	return out
}

func paramsFromHeader(hdr fitsarray.Header) Params {
	return Params{
		Is3D:     hdr.Bool(keyIs3D),
		PwRigid:  hdr.Bool(keyPwRigid),
		Dims:     readAxes(hdr, keyDims),
		Strides:  readAxes(hdr, keyStride),
		Overlaps: readAxes(hdr, keyOverlap),
	}
}

func (p Params) header() fitsarray.Header {
	hdr := fitsarray.Header{
		keyIs3D:    p.Is3D,
		keyPwRigid: p.PwRigid,
	}
	for i, v := range p.Dims {
		hdr[fmt.Sprintf("%s%d", keyDims, i+1)] = v
	}
	for i, v := range p.Strides {
		hdr[fmt.Sprintf("%s%d", keyStride, i+1)] = v
	}
	for i, v := range p.Overlaps {
		hdr[fmt.Sprintf("%s%d", keyOverlap, i+1)] = v
	}
	return hdr
}

// blockSize returns strides[axis]+overlaps[axis], the extent of one patch
func (p Params) blockSize(axis int) (int, error) {
	if axis >= len(p.Strides) || axis >= len(p.Overlaps) {
		return 0, fmt.Errorf("%w: piecewise-rigid strides/overlaps missing axis %d", ErrConfiguration, axis)
	}
	return p.Strides[axis] + p.Overlaps[axis], nil
}
