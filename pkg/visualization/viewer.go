// Package visualization renders aggregated summary images as grayscale
// slices and writes them out as JPEG previews.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"imagingloader/internal/models"
)

// Viewer extracts 2D slices from a summary image.
// Intensities are rescaled to the full 16-bit range using the image's own
// minimum and maximum, NaN voxels render black.
type Viewer struct {
	img *models.Image

	lo, hi float64
}

// NewViewer creates a viewer over img
func NewViewer(img *models.Image) *Viewer {
	v := &Viewer{img: img, lo: math.Inf(1), hi: math.Inf(-1)}
	for _, p := range img.Pix {
		if math.IsNaN(p) {
			continue
		}
		v.lo = math.Min(v.lo, p)
		v.hi = math.Max(v.hi, p)
	}
	return v
}

// gray maps a voxel onto the 16-bit range
func (v *Viewer) gray(p float64) color.Gray16 {
	if math.IsNaN(p) || v.hi <= v.lo {
		return color.Gray16{}
	}
	scaled := (p - v.lo) / (v.hi - v.lo) * 65535
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, scaled)))}
}

// ExtractSlice extracts a 2D slice along the given axis.
// z slices span the field of view, x slices are depth by height and
// y slices are width by depth.
func (v *Viewer) ExtractSlice(axis string, position int) (*image.Gray16, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	im := v.img

	var out *image.Gray16
	switch axis {
	case "x", "X":
		if position >= im.Width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, im.Width)
		}
		out = image.NewGray16(image.Rect(0, 0, im.Depth, im.Height))
		for y := 0; y < im.Height; y++ {
			for z := 0; z < im.Depth; z++ {
				out.SetGray16(z, y, v.gray(im.At(y, position, z)))
			}
		}

	case "y", "Y":
		if position >= im.Height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, im.Height)
		}
		out = image.NewGray16(image.Rect(0, 0, im.Width, im.Depth))
		for z := 0; z < im.Depth; z++ {
			for x := 0; x < im.Width; x++ {
				out.SetGray16(x, z, v.gray(im.At(position, x, z)))
			}
		}

	case "z", "Z":
		if position >= im.Depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, im.Depth)
		}
		out = image.NewGray16(image.Rect(0, 0, im.Width, im.Height))
		for y := 0; y < im.Height; y++ {
			for x := 0; x < im.Width; x++ {
				out.SetGray16(x, y, v.gray(im.At(y, x, position)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return out, nil
}

// ExtractRegion copies a sub-volume starting at (startY, startX, startZ)
func (v *Viewer) ExtractRegion(startY, startX, startZ, sizeY, sizeX, sizeZ int) (*models.Image, error) {
	if startX < 0 || startY < 0 || startZ < 0 {
		return nil, fmt.Errorf("start coordinates must be non-negative")
	}
	if sizeX <= 0 || sizeY <= 0 || sizeZ <= 0 {
		return nil, fmt.Errorf("size dimensions must be positive")
	}
	im := v.img
	if startY+sizeY > im.Height || startX+sizeX > im.Width || startZ+sizeZ > im.Depth {
		return nil, fmt.Errorf("region extends beyond image boundaries")
	}

	region := models.NewImage(sizeY, sizeX, sizeZ)
	for y := 0; y < sizeY; y++ {
		for x := 0; x < sizeX; x++ {
			for z := 0; z < sizeZ; z++ {
				region.Set(y, x, z, im.At(startY+y, startX+x, startZ+z))
			}
		}
	}
	return region, nil
}

// SaveSlice saves an extracted slice as a JPEG image
func SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence writes every slice along axis as prefix_<axis>_NNN.jpg
// and returns the written paths
func (v *Viewer) SaveSliceSequence(axis, prefix, outputDir string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.img.Width
	case "y", "Y":
		maxPos = v.img.Height
	case "z", "Z":
		maxPos = v.img.Depth
	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	paths := make([]string, 0, maxPos)
	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return nil, err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("%s_%s_%03d.jpg", prefix, axis, pos))
		if err := SaveSlice(img, filename); err != nil {
			return nil, err
		}
		paths = append(paths, filename)
	}

	return paths, nil
}

// SavePreviews writes the z slices of each named image into outputDir
func SavePreviews(images map[string]*models.Image, outputDir string) ([]string, error) {
	var written []string
	for name, img := range images {
		if img == nil {
			continue
		}
		paths, err := NewViewer(img).SaveSliceSequence("z", name, outputDir)
		if err != nil {
			return written, fmt.Errorf("error saving %s preview: %w", name, err)
		}
		written = append(written, paths...)
	}
	return written, nil
}
