package caiman

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"imagingloader/internal/models"
	"imagingloader/pkg/fitsarray"
)

// nanStd is the population standard deviation ignoring NaNs; NaN when empty
func nanStd(x []float64) float64 {
	vals := make([]float64, 0, len(x))
	for _, v := range x {
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return math.NaN()
	}
	_, variance := stat.PopMeanVariance(vals, nil)
	return math.Sqrt(variance)
}

// MotionCorrection returns the merged rigid or piecewise-rigid record
func (a *Aggregator) MotionCorrection() (models.MotionCorrection, error) {
	return a.motion.get(func() (models.MotionCorrection, error) {
		if a.mode.IsPiecewiseRigid() {
			return a.extractPwRigid()
		}
		return a.extractRigid()
	})
}

// RigidCorrection is MotionCorrection for rigid loads
func (a *Aggregator) RigidCorrection() (*models.RigidCorrection, error) {
	if a.mode.IsPiecewiseRigid() {
		return nil, fmt.Errorf("%w: rigid correction requested for %s load", ErrUnsupported, a.mode)
	}
	mc, err := a.MotionCorrection()
	if err != nil {
		return nil, err
	}
	return mc.(*models.RigidCorrection), nil
}

// PiecewiseRigidCorrection is MotionCorrection for piecewise-rigid loads
func (a *Aggregator) PiecewiseRigidCorrection() (*models.PiecewiseRigidCorrection, error) {
	if !a.mode.IsPiecewiseRigid() {
		return nil, fmt.Errorf("%w: piecewise-rigid correction requested for %s load", ErrUnsupported, a.mode)
	}
	mc, err := a.MotionCorrection()
	if err != nil {
		return nil, err
	}
	return mc.(*models.PiecewiseRigidCorrection), nil
}

// extractRigid stacks each plane's per-frame shifts into (planes, frames)
// matrices
func (a *Aggregator) extractRigid() (*models.RigidCorrection, error) {
	var xs, ys []float64
	var frames int
	var first *fitsarray.Array

	for i, p := range a.planes {
		shifts, err := p.Array(FieldShiftsRig)
		if err != nil {
			return nil, err
		}
		if shifts.Cols() < 2 {
			return nil, fmt.Errorf("%w: %s rigid shifts have %d axes", ErrConfiguration, p.Path, shifts.Cols())
		}
		if i == 0 {
			frames = shifts.Rows()
			first = shifts
		} else if shifts.Rows() != frames {
			return nil, fmt.Errorf("%w: %s has %d frames, plane %d has %d",
				ErrConfiguration, p.Path, shifts.Rows(), a.planes[0].Index, frames)
		}
		xs = append(xs, shifts.Column(0)...)
		ys = append(ys, shifts.Column(1)...)
	}
	if frames == 0 {
		return nil, fmt.Errorf("%w: no rigid shifts under %s", ErrNotFound, a.Dir)
	}

	n := len(a.planes)
	rc := &models.RigidCorrection{
		XShifts: mat.NewDense(n, frames, xs),
		YShifts: mat.NewDense(n, frames, ys),
		XStd:    nanStd(xs),
		YStd:    nanStd(ys),
	}

	if a.mode.Is3D() {
		if first.Cols() < 3 {
			return nil, fmt.Errorf("%w: %s is 3D but has no z shifts", ErrNotFound, a.planes[0].Path)
		}
		zs := first.Column(2)
		rc.ZShifts = mat.NewDense(1, frames, zs)
		rc.ZStd = nanStd(zs)
	} else {
		rc.ZShifts = mat.NewDense(n, frames, nil)
		rc.ZStd = math.NaN()
	}

	return rc, nil
}

// arange lists the integers in [start, stop)
func arange(start, stop int) []int {
	if stop <= start {
		return nil
	}
	out := make([]int, 0, stop-start)
	for v := start; v < stop; v++ {
		out = append(out, v)
	}
	return out
}

func distinct(vals []float64) int {
	set := make(map[float64]struct{}, len(vals))
	for _, v := range vals {
		set[v] = struct{}{}
	}
	return len(set)
}

// extractPwRigid concatenates every plane's blocks. Block ids continue from
// the running count of blocks in earlier planes.
func (a *Aggregator) extractPwRigid() (*models.PiecewiseRigidCorrection, error) {
	first := a.planes[0]
	height, err := first.Params.blockSize(0)
	if err != nil {
		return nil, err
	}
	width, err := first.Params.blockSize(1)
	if err != nil {
		return nil, err
	}
	firstCoords, err := first.Array(FieldCoordShiftsEls)
	if err != nil {
		return nil, err
	}

	pc := &models.PiecewiseRigidCorrection{
		BlockHeight: height,
		BlockWidth:  width,
		BlockDepth:  1,
		BlockCountX: distinct(firstCoords.Column(0)),
		BlockCountY: distinct(firstCoords.Column(2)),
		BlockCountZ: len(a.planes),
	}

	offset := 0
	for _, p := range a.planes {
		blocks, err := a.planeBlocks(p, offset)
		if err != nil {
			return nil, err
		}
		pc.Blocks = append(pc.Blocks, blocks...)
		offset += len(blocks)
	}

	if a.mode.Is3D() {
		depth, err := first.Params.blockSize(2)
		if err != nil {
			return nil, err
		}
		if firstCoords.Cols() < 6 {
			return nil, fmt.Errorf("%w: %s is 3D but block coordinates have no z extent", ErrNotFound, first.Path)
		}
		pc.BlockDepth = depth
		pc.BlockCountZ = distinct(firstCoords.Column(4))
	}

	return pc, nil
}

// planeBlocks reads one plane's block registry, numbering blocks from offset
func (a *Aggregator) planeBlocks(p *Plane, offset int) ([]models.Block, error) {
	xEls, err := p.Array(FieldXShiftsEls)
	if err != nil {
		return nil, err
	}
	yEls, err := p.Array(FieldYShiftsEls)
	if err != nil {
		return nil, err
	}
	coords, err := p.Array(FieldCoordShiftsEls)
	if err != nil {
		return nil, err
	}

	var zEls *fitsarray.Array
	if a.mode.Is3D() {
		if zEls, err = p.Array(FieldZShiftsEls); err != nil {
			return nil, err
		}
		if coords.Cols() < 6 {
			return nil, fmt.Errorf("%w: %s block coordinates have no z extent", ErrNotFound, p.Path)
		}
	}

	nBlocks := xEls.Cols()
	if coords.Rows() != nBlocks || yEls.Cols() != nBlocks || coords.Cols() < 4 {
		return nil, fmt.Errorf("%w: %s has %d x-shift blocks, %d y-shift blocks and %d coordinate rows",
			ErrConfiguration, p.Path, nBlocks, yEls.Cols(), coords.Rows())
	}
	if zEls != nil && zEls.Cols() != nBlocks {
		return nil, fmt.Errorf("%w: %s has %d z-shift blocks, expected %d",
			ErrConfiguration, p.Path, zEls.Cols(), nBlocks)
	}

	blocks := make([]models.Block, 0, nBlocks)
	for b := 0; b < nBlocks; b++ {
		c := coords.Row(b)
		blk := models.Block{
			ID:      offset + b,
			X:       arange(int(c[0]), int(c[1])),
			Y:       arange(int(c[2]), int(c[3])),
			XShifts: xEls.Column(b),
			YShifts: yEls.Column(b),
		}
		blk.XStd = nanStd(blk.XShifts)
		blk.YStd = nanStd(blk.YShifts)

		if zEls != nil {
			blk.Z = arange(int(c[4]), int(c[5]))
			blk.ZShifts = zEls.Column(b)
			blk.ZStd = nanStd(blk.ZShifts)
		} else {
			// a 2D block sits at its plane's position in the stack
			blk.Z = make([]int, len(blk.X))
			for i := range blk.Z {
				blk.Z[i] = p.Index
			}
			blk.ZShifts = make([]float64, len(blk.XShifts))
			blk.ZStd = math.NaN()
		}
		blocks = append(blocks, blk)
	}

	return blocks, nil
}
