package caiman

import (
	"fmt"

	"imagingloader/internal/models"
)

// RefImage is the motion-correction template
func (a *Aggregator) RefImage() (*models.Image, error) {
	return a.refImage.get(func() (*models.Image, error) { return a.image(FieldReferenceImage) })
}

// MeanImage is the average of the corrected movie
func (a *Aggregator) MeanImage() (*models.Image, error) {
	return a.meanImage.get(func() (*models.Image, error) { return a.image(FieldAverageImage) })
}

// MaxProjImage is the maximum projection of the corrected movie
func (a *Aggregator) MaxProjImage() (*models.Image, error) {
	return a.maxProjImage.get(func() (*models.Image, error) { return a.image(FieldMaxImage) })
}

// CorrelationMap is the local pairwise-correlation image
func (a *Aggregator) CorrelationMap() (*models.Image, error) {
	return a.correlationMap.get(func() (*models.Image, error) { return a.image(FieldCorrelationImage) })
}

// image builds a (height, width, depth) image from the named dataset. A
// volumetric plane is transposed from its stored (depth, height, width)
// layout; 2D planes are stacked along depth in plane order.
func (a *Aggregator) image(field string) (*models.Image, error) {
	if a.mode.Is3D() {
		p := a.planes[0]
		arr, err := p.Array(field)
		if err != nil {
			return nil, err
		}
		if len(arr.Shape) != 3 {
			return nil, fmt.Errorf("%w: %s %s has shape %v, expected (depth, height, width)",
				ErrConfiguration, p.Path, field, arr.Shape)
		}
		d, h, w := arr.Shape[0], arr.Shape[1], arr.Shape[2]
		img := models.NewImage(h, w, d)
		for z := 0; z < d; z++ {
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					img.Set(y, x, z, arr.Data[(z*h+y)*w+x])
				}
			}
		}
		return img, nil
	}

	var img *models.Image
	for z, p := range a.planes {
		arr, err := p.Array(field)
		if err != nil {
			return nil, err
		}
		if len(arr.Shape) != 2 {
			return nil, fmt.Errorf("%w: %s %s has shape %v, expected (height, width)",
				ErrConfiguration, p.Path, field, arr.Shape)
		}
		h, w := arr.Shape[0], arr.Shape[1]
		if img == nil {
			img = models.NewImage(h, w, len(a.planes))
		} else if h != img.Height || w != img.Width {
			return nil, fmt.Errorf("%w: %s %s is %dx%d, other planes are %dx%d",
				ErrConfiguration, p.Path, field, h, w, img.Height, img.Width)
		}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.Set(y, x, z, arr.Data[y*w+x])
			}
		}
	}
	return img, nil
}
