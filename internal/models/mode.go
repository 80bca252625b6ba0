package models

// Mode is the combination of motion-correction type and dimensionality of
// one load. It is resolved once when the results are opened.
type Mode int

const (
	// Rigid2D is one two-dimensional plane with rigid correction
	Rigid2D Mode = iota
	// Rigid3D is one volumetric plane with rigid correction
	Rigid3D
	// PiecewiseRigid2D is one two-dimensional plane with piecewise-rigid correction
	PiecewiseRigid2D
	// PiecewiseRigid3DSinglePlane is one volumetric plane with piecewise-rigid correction
	PiecewiseRigid3DSinglePlane
	// MultiPlane2DRigid is several stacked two-dimensional planes, rigid
	MultiPlane2DRigid
	// MultiPlane2DPiecewiseRigid is several stacked two-dimensional planes, piecewise-rigid
	MultiPlane2DPiecewiseRigid
)

var modeNames = map[Mode]string{
	Rigid2D:                     "Rigid2D",
	Rigid3D:                     "Rigid3D",
	PiecewiseRigid2D:            "PiecewiseRigid2D",
	PiecewiseRigid3DSinglePlane: "PiecewiseRigid3DSinglePlane",
	MultiPlane2DRigid:           "MultiPlane2DRigid",
	MultiPlane2DPiecewiseRigid:  "MultiPlane2DPiecewiseRigid",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return "Mode(unknown)"
}

// Is3D reports whether the load is a single volumetric plane
func (m Mode) Is3D() bool {
	return m == Rigid3D || m == PiecewiseRigid3DSinglePlane
}

// IsMultiplane reports whether the load stacks several 2D planes
func (m Mode) IsMultiplane() bool {
	return m == MultiPlane2DRigid || m == MultiPlane2DPiecewiseRigid
}

// IsPiecewiseRigid reports whether blocks rather than global shifts are used
func (m Mode) IsPiecewiseRigid() bool {
	return m == PiecewiseRigid2D || m == PiecewiseRigid3DSinglePlane || m == MultiPlane2DPiecewiseRigid
}
