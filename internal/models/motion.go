package models

import (
	"gonum.org/v1/gonum/mat"
)

// MotionCorrection is either a *RigidCorrection or a *PiecewiseRigidCorrection
type MotionCorrection interface {
	// PiecewiseRigid reports which variant the record is
	PiecewiseRigid() bool
}

// RigidCorrection holds one global shift per frame, stacked per plane.
// Each shift matrix has shape (planes, frames).
type RigidCorrection struct {
	XShifts *mat.Dense
	YShifts *mat.Dense

	// ZShifts is all zero unless the load is a single volumetric plane
	ZShifts *mat.Dense

	XStd float64
	YStd float64

	// ZStd is NaN when there is no z axis
	ZStd float64

	OutlierFrames []int
}

// PiecewiseRigid implements MotionCorrection
func (*RigidCorrection) PiecewiseRigid() bool { return false }

// Block is one piecewise-rigid correction patch
type Block struct {
	// ID is unique across all planes of the load
	ID int

	// X, Y and Z list the voxel coordinates the block spans
	X []int
	Y []int
	Z []int

	XShifts []float64
	YShifts []float64
	ZShifts []float64

	XStd float64
	YStd float64
	ZStd float64
}

// PiecewiseRigidCorrection holds per-block shifts plus the block geometry
type PiecewiseRigidCorrection struct {
	BlockHeight int
	BlockWidth  int
	BlockDepth  int

	BlockCountX int
	BlockCountY int
	BlockCountZ int

	OutlierFrames []int

	// Blocks are ordered by plane, then by the plane's own block order
	Blocks []Block
}

// PiecewiseRigid implements MotionCorrection
func (*PiecewiseRigidCorrection) PiecewiseRigid() bool { return true }
