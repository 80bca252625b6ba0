package models

// Mask is one segmented region of interest with its traces.
//
// Pixel indices follow the analysis tool's convention: XPix is the first
// field-of-view axis (rows), YPix the second (columns) and ZPix the plane.
type Mask struct {
	// ID is the collection-wide id (local id plus the running offset)
	ID int `json:"mask_id" yaml:"mask_id"`

	// OrigID is the id the mask had inside its own plane
	OrigID int `json:"orig_mask_id" yaml:"orig_mask_id"`

	NPix    int       `json:"mask_npix" yaml:"mask_npix"`
	Weights []float64 `json:"mask_weights" yaml:"mask_weights"`

	XPix []int `json:"mask_xpix" yaml:"mask_xpix"`
	YPix []int `json:"mask_ypix" yaml:"mask_ypix"`
	ZPix []int `json:"mask_zpix" yaml:"mask_zpix"`

	CenterX int `json:"mask_center_x" yaml:"mask_center_x"`
	CenterY int `json:"mask_center_y" yaml:"mask_center_y"`
	CenterZ int `json:"mask_center_z" yaml:"mask_center_z"`

	InferredTrace []float64 `json:"inferred_trace" yaml:"inferred_trace"`

	// DFF and Spikes are nil when the tool did not produce them
	DFF    []float64 `json:"dff,omitempty" yaml:"dff,omitempty"`
	Spikes []float64 `json:"spikes,omitempty" yaml:"spikes,omitempty"`

	// Accepted reports whether the mask is in the curated good-component index
	Accepted bool `json:"accepted" yaml:"accepted"`
}

// Clone returns a copy of m that shares no slices with it
func (m Mask) Clone() Mask {
	m.Weights = cloneFloats(m.Weights)
	m.XPix = cloneInts(m.XPix)
	m.YPix = cloneInts(m.YPix)
	m.ZPix = cloneInts(m.ZPix)
	m.InferredTrace = cloneFloats(m.InferredTrace)
	m.DFF = cloneFloats(m.DFF)
	m.Spikes = cloneFloats(m.Spikes)
	return m
}

// CloneMasks copies every mask of ms
func CloneMasks(ms []Mask) []Mask {
	if ms == nil {
		return nil
	}
	out := make([]Mask, len(ms))
	for i, m := range ms {
		out[i] = m.Clone()
	}
	return out
}

func cloneFloats(v []float64) []float64 {
	if v == nil {
		return nil
	}
	return append([]float64(nil), v...)
}

func cloneInts(v []int) []int {
	if v == nil {
		return nil
	}
	return append([]int(nil), v...)
}
