package caiman

import (
	"path/filepath"
	"testing"

	"imagingloader/internal/models"
)

func TestMultiplaneImages(t *testing.T) {
	root := t.TempDir()
	bases := []float64{0, 100000}
	for i, b := range bases {
		writeTestPlane(t, filepath.Join(root, "pln"+string(rune('0'+i))+"_run"), planeFixture{frames: 2, masks: 1, base: b})
	}

	a := loadTest(t, root)

	getters := []struct {
		name   string
		get    func() (*models.Image, error)
		offset float64
	}{
		{"RefImage", a.RefImage, 0},
		{"MeanImage", a.MeanImage, 1000},
		{"MaxProjImage", a.MaxProjImage, 2000},
		{"CorrelationMap", a.CorrelationMap, 3000},
	}

	for _, g := range getters {
		t.Run(g.name, func(t *testing.T) {
			img, err := g.get()
			if err != nil {
				t.Fatalf("%s failed: %v", g.name, err)
			}
			if img.Height != testRows || img.Width != testCols || img.Depth != len(bases) {
				t.Fatalf("Expected %dx%dx%d image, got %dx%dx%d",
					testRows, testCols, len(bases), img.Height, img.Width, img.Depth)
			}
			for z, b := range bases {
				want := b + g.offset + float64(1*testCols+3)
				if got := img.At(1, 3, z); got != want {
					t.Errorf("Pixel (1, 3, %d): expected %f, got %f", z, want, got)
				}
			}

			again, err := g.get()
			if err != nil {
				t.Fatalf("Second %s call failed: %v", g.name, err)
			}
			if again != img {
				t.Errorf("Expected %s to be computed once", g.name)
			}
		})
	}
}

func TestVolumetricImageTranspose(t *testing.T) {
	root := t.TempDir()
	writeTestPlane(t, filepath.Join(root, "volume"), planeFixture{frames: 2, masks: 1, is3D: true})

	a := loadTest(t, root)
	img, err := a.MeanImage()
	if err != nil {
		t.Fatalf("MeanImage failed: %v", err)
	}

	if img.Height != testRows || img.Width != testCols || img.Depth != testDepth {
		t.Fatalf("Expected %dx%dx%d image, got %dx%dx%d",
			testRows, testCols, testDepth, img.Height, img.Width, img.Depth)
	}

	// stored as (depth, height, width)
	for z := 0; z < testDepth; z++ {
		for y := 0; y < testRows; y++ {
			for x := 0; x < testCols; x++ {
				want := 1000 + float64((z*testRows+y)*testCols+x)
				if got := img.At(y, x, z); got != want {
					t.Fatalf("Voxel (%d, %d, %d): expected %f, got %f", y, x, z, want, got)
				}
			}
		}
	}

	plane := img.Plane(2)
	if plane[0] != 1000+float64(2*testRows*testCols) {
		t.Errorf("Unexpected first pixel of depth 2: %f", plane[0])
	}
}
