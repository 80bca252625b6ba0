package models

// Image is an aggregated summary image in (height, width, depth) layout.
// Two-dimensional images have Depth 1.
type Image struct {
	// Height is the number of rows (first field-of-view axis)
	Height int

	// Width is the number of columns (second field-of-view axis)
	Width int

	// Depth is the number of planes, or the z extent of a volumetric plane
	Depth int

	// Pix holds the voxels with depth varying fastest:
	// index = (y*Width + x)*Depth + z
	Pix []float64
}

// NewImage allocates a zero-filled image of the given dimensions
func NewImage(height, width, depth int) *Image {
	return &Image{
		Height: height,
		Width:  width,
		Depth:  depth,
		Pix:    make([]float64, height*width*depth),
	}
}

func (im *Image) offset(y, x, z int) int {
	return (y*im.Width+x)*im.Depth + z
}

// At returns the voxel at row y, column x, depth z
func (im *Image) At(y, x, z int) float64 {
	return im.Pix[im.offset(y, x, z)]
}

// Set stores v at row y, column x, depth z
func (im *Image) Set(y, x, z int, v float64) {
	im.Pix[im.offset(y, x, z)] = v
}

// Plane copies depth z out as a row-major height*width slice
func (im *Image) Plane(z int) []float64 {
	out := make([]float64, im.Height*im.Width)
	for y := 0; y < im.Height; y++ {
		for x := 0; x < im.Width; x++ {
			out[y*im.Width+x] = im.At(y, x, z)
		}
	}
	return out
}
