package caiman

import (
	"errors"
	"time"

	"go.uber.org/zap"
)

// PlaneSummary identifies one plane of a summary
type PlaneSummary struct {
	Index int    `yaml:"index" json:"index"`
	Path  string `yaml:"path" json:"path"`
}

// Summary is a compact description of a loaded results directory
type Summary struct {
	Dir    string         `yaml:"dir" json:"dir"`
	Mode   string         `yaml:"mode" json:"mode"`
	Planes []PlaneSummary `yaml:"planes" json:"planes"`

	// ImageShape is the (height, width, depth) of the summary images
	ImageShape []int `yaml:"imageShape" json:"image_shape"`

	// Frames is the number of motion-corrected frames
	Frames int `yaml:"frames" json:"frames"`

	// Blocks is the number of piecewise-rigid blocks, zero for rigid modes
	Blocks int `yaml:"blocks" json:"blocks"`

	// MasksSupported is false when masks cannot be extracted for the mode
	MasksSupported bool `yaml:"masksSupported" json:"masks_supported"`
	Masks          int  `yaml:"masks" json:"masks"`
	AcceptedMasks  int  `yaml:"acceptedMasks" json:"accepted_masks"`

	CreationTime time.Time `yaml:"creationTime" json:"creation_time"`
	CurationTime time.Time `yaml:"curationTime" json:"curation_time"`
}

// Summarize reads everything the aggregator exposes and condenses it.
// An unsupported mask request is recorded rather than returned.
func (a *Aggregator) Summarize() (*Summary, error) {
	s := &Summary{
		Dir:          a.Dir,
		Mode:         a.mode.String(),
		CreationTime: a.creationTime,
		CurationTime: a.curationTime,
	}
	for _, p := range a.planes {
		s.Planes = append(s.Planes, PlaneSummary{Index: p.Index, Path: p.Path})
	}

	img, err := a.MeanImage()
	if err != nil {
		return nil, err
	}
	s.ImageShape = []int{img.Height, img.Width, img.Depth}

	if a.IsPiecewiseRigid() {
		pc, err := a.PiecewiseRigidCorrection()
		if err != nil {
			return nil, err
		}
		s.Blocks = len(pc.Blocks)
		if len(pc.Blocks) > 0 {
			s.Frames = len(pc.Blocks[0].XShifts)
		}
	} else {
		rc, err := a.RigidCorrection()
		if err != nil {
			return nil, err
		}
		_, s.Frames = rc.XShifts.Dims()
	}

	masks, err := a.Masks()
	switch {
	case errors.Is(err, ErrUnsupported):
		a.log.Debug("masks not available", zap.Stringer("mode", a.mode))
	case err != nil:
		return nil, err
	default:
		s.MasksSupported = true
		s.Masks = len(masks)
		for _, m := range masks {
			if m.Accepted {
				s.AcceptedMasks++
			}
		}
	}

	return s, nil
}
