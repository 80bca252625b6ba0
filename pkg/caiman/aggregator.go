// Package caiman loads CaImAn analysis results and merges per-plane outputs
// into one multi-plane dataset: motion correction, masks with collection-wide
// ids, and summary images.
package caiman

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"imagingloader/internal/models"
)

// planeIndexPattern extracts the plane index from a result directory name
var planeIndexPattern = regexp.MustCompile(`pln(\d+)_.*`)

// Aggregator is the top-level view over every plane found under one
// results directory.
//
// The mode is resolved when the aggregator is built, so inconsistent planes
// fail at Load rather than on first access. Everything else is computed on
// first access and kept for the life of the aggregator.
type Aggregator struct {
	// Dir is the directory the planes were discovered under
	Dir string

	planes []*Plane
	mode   models.Mode
	log    *zap.Logger

	creationTime time.Time
	curationTime time.Time

	motion lazy[models.MotionCorrection]
	masks  lazy[[]models.Mask]

	refImage       lazy[*models.Image]
	meanImage      lazy[*models.Image]
	maxProjImage   lazy[*models.Image]
	correlationMap lazy[*models.Image]
}

// Load discovers every plane result under dir and resolves the load mode.
//
// A directory is a plane when it directly contains a result file with all
// RequiredFields. Planes are ordered by the N of a "plnN_" directory name,
// or by their position in lexicographic order when the name has none.
func Load(dir string, opts ...Option) (*Aggregator, error) {
	o := newOptions(opts)

	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("%w: caiman directory not found: %s", ErrNotFound, dir)
	}

	planeDirs, err := discoverPlaneDirs(dir)
	if err != nil {
		return nil, err
	}
	if len(planeDirs) == 0 {
		return nil, fmt.Errorf("%w: no caiman output file found at %s containing all required fields (%s)",
			ErrNotFound, dir, strings.Join(RequiredFields, ", "))
	}

	planes := make([]*Plane, 0, len(planeDirs))
	seen := make(map[int]string)
	for pos, pd := range planeDirs {
		p, err := LoadPlaneDir(pd, opts...)
		if err != nil {
			return nil, err
		}
		p.Index = planeIndex(pd, pos)
		if prev, dup := seen[p.Index]; dup {
			return nil, fmt.Errorf("%w: plane index %d claimed by both %s and %s",
				ErrConfiguration, p.Index, prev, pd)
		}
		seen[p.Index] = pd
		planes = append(planes, p)
	}
	sort.SliceStable(planes, func(i, j int) bool {
		return planes[i].Index < planes[j].Index
	})

	mode, err := resolveMode(planes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dir, err)
	}

	a := &Aggregator{
		Dir:    dir,
		planes: planes,
		mode:   mode,
		log:    o.log,
	}
	for i, p := range planes {
		if i == 0 || p.CreationTime().Before(a.creationTime) {
			a.creationTime = p.CreationTime()
		}
		if i == 0 || p.CurationTime().After(a.curationTime) {
			a.curationTime = p.CurationTime()
		}
	}

	a.log.Info("loaded caiman results",
		zap.String("dir", dir),
		zap.Int("planes", len(planes)),
		zap.Stringer("mode", mode))

	return a, nil
}

// discoverPlaneDirs walks root for directories holding a valid result file.
// Each directory is listed once, in lexicographic order.
func discoverPlaneDirs(root string) ([]string, error) {
	found := make(map[string]bool)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ResultExt) {
			return nil
		}
		if found[filepath.Dir(path)] {
			return nil
		}
		ok, err := isPlaneResult(path)
		if err != nil {
			// not every .fits file under the tree is ours
			return nil
		}
		if ok {
			found[filepath.Dir(path)] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	dirs := make([]string, 0, len(found))
	for d := range found {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs, nil
}

// planeIndex parses "plnN_" from the directory name, falling back to pos
func planeIndex(dir string, pos int) int {
	m := planeIndexPattern.FindStringSubmatch(filepath.Base(dir))
	if m == nil {
		return pos
	}
	idx, err := strconv.Atoi(m[1])
	if err != nil {
		return pos
	}
	return idx
}

// resolveMode checks the planes agree with each other and picks the mode
func resolveMode(planes []*Plane) (models.Mode, error) {
	pwRigid := planes[0].Params.PwRigid
	for _, p := range planes[1:] {
		if p.Params.PwRigid != pwRigid {
			return 0, fmt.Errorf("%w: results mixed between rigid and piecewise-rigid motion correction (%s)",
				ErrConfiguration, p.Path)
		}
	}

	if len(planes) > 1 {
		for _, p := range planes {
			if p.Params.Is3D {
				return 0, fmt.Errorf("%w: results mixed between 3D and multi-plane analysis (%s is 3D)",
					ErrConfiguration, p.Path)
			}
		}
		if pwRigid {
			return models.MultiPlane2DPiecewiseRigid, nil
		}
		return models.MultiPlane2DRigid, nil
	}

	switch is3D := planes[0].Params.Is3D; {
	case is3D && pwRigid:
		return models.PiecewiseRigid3DSinglePlane, nil
	case is3D:
		return models.Rigid3D, nil
	case pwRigid:
		return models.PiecewiseRigid2D, nil
	default:
		return models.Rigid2D, nil
	}
}

// Mode is the motion-correction and dimensionality combination of the load
func (a *Aggregator) Mode() models.Mode { return a.mode }

// Is3D reports a single volumetric plane
func (a *Aggregator) Is3D() bool { return a.mode.Is3D() }

// IsMultiplane reports several stacked 2D planes
func (a *Aggregator) IsMultiplane() bool { return a.mode.IsMultiplane() }

// IsPiecewiseRigid reports piecewise-rigid motion correction
func (a *Aggregator) IsPiecewiseRigid() bool { return a.mode.IsPiecewiseRigid() }

// Planes returns the planes in plane-index order
func (a *Aggregator) Planes() []*Plane {
	out := make([]*Plane, len(a.planes))
	copy(out, a.planes)
	return out
}

// CreationTime is the earliest creation time over all planes
func (a *Aggregator) CreationTime() time.Time { return a.creationTime }

// CurationTime is the most recent curation time over all planes
func (a *Aggregator) CurationTime() time.Time { return a.curationTime }

// AlignmentChannel is the channel motion correction ran on
func (a *Aggregator) AlignmentChannel() int { return 0 }

// SegmentationChannel is the channel segmentation ran on
func (a *Aggregator) SegmentationChannel() int { return 0 }
