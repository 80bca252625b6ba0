package caiman

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"imagingloader/internal/models"
	"imagingloader/pkg/fitsarray"
)

// Dataset names inside a plane result file
const (
	FieldReferenceImage   = "/motion_correction/reference_image"
	FieldCorrelationImage = "/motion_correction/correlation_image"
	FieldAverageImage     = "/motion_correction/average_image"
	FieldMaxImage         = "/motion_correction/max_image"
	FieldShiftsRig        = "/motion_correction/shifts_rig"
	FieldXShiftsEls       = "/motion_correction/x_shifts_els"
	FieldYShiftsEls       = "/motion_correction/y_shifts_els"
	FieldZShiftsEls       = "/motion_correction/z_shifts_els"
	FieldCoordShiftsEls   = "/motion_correction/coord_shifts_els"
	FieldA                = "/estimates/A"
	FieldC                = "/estimates/C"
	FieldFDff             = "/estimates/F_dff"
	FieldS                = "/estimates/S"
	FieldIdxComponents    = "/estimates/idx_components"
)

// RequiredFields must all be present for a file to count as a plane result
var RequiredFields = []string{
	FieldReferenceImage,
	FieldCorrelationImage,
	FieldAverageImage,
	FieldMaxImage,
	FieldA,
}

// ResultExt is the extension of plane result files
const ResultExt = ".fits"

// Plane is the result of one analysis run: a single 2D plane or one volume.
//
// Parameters and timestamps are read when the plane is opened. Arrays are
// read from disk the first time they are asked for and kept afterwards.
type Plane struct {
	// Path is the plane result file
	Path string

	// Index is the plane's position in the stack; the z coordinate of its masks
	Index int

	// Params are the analysis parameters stored with the result
	Params Params

	creationTime time.Time
	curationTime time.Time

	log *zap.Logger

	mu     sync.Mutex
	arrays map[string]*fitsarray.Array
	absent map[string]bool

	masks lazy[[]models.Mask]
}

// OpenPlane opens the plane result file at path
func OpenPlane(path string, opts ...Option) (*Plane, error) {
	o := newOptions(opts)

	ix, err := fitsarray.Scan(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if missing := ix.Missing(RequiredFields...); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s is missing required fields (%s)",
			ErrNotFound, path, strings.Join(missing, ", "))
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	p := &Plane{
		Path:         path,
		Params:       paramsFromHeader(ix.Primary),
		creationTime: info.ModTime(),
		curationTime: info.ModTime(),
		log:          o.log,
		arrays:       make(map[string]*fitsarray.Array),
		absent:       make(map[string]bool),
	}

	p.log.Debug("opened plane result",
		zap.String("path", path),
		zap.Bool("is3D", p.Params.Is3D),
		zap.Bool("pwRigid", p.Params.PwRigid))

	return p, nil
}

// LoadPlaneDir opens the first valid plane result file directly inside dir
func LoadPlaneDir(dir string, opts ...Option) (*Plane, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("%w: directory %s: %v", ErrNotFound, dir, err)
	}

	files, err := resultFiles(dir)
	if err != nil {
		return nil, err
	}
	for _, fp := range files {
		if ok, _ := isPlaneResult(fp); ok {
			return OpenPlane(fp, opts...)
		}
	}

	return nil, fmt.Errorf("%w: no result file at %s containing all required fields (%s)",
		ErrNotFound, dir, strings.Join(RequiredFields, ", "))
}

// resultFiles lists the result files directly inside dir in lexicographic order
func resultFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ResultExt) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// isPlaneResult reports whether the file holds every required field
func isPlaneResult(path string) (bool, error) {
	ix, err := fitsarray.Scan(path)
	if err != nil {
		return false, err
	}
	return ix.Has(RequiredFields...), nil
}

// CreationTime is the modification time of the result file
func (p *Plane) CreationTime() time.Time { return p.creationTime }

// CurationTime is the modification time of the result file
func (p *Plane) CurationTime() time.Time { return p.curationTime }

// Array returns the named dataset, reading it on first use.
// Missing datasets return an error wrapping ErrNotFound.
func (p *Plane) Array(name string) (*fitsarray.Array, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if arr, ok := p.arrays[name]; ok {
		return arr, nil
	}
	if p.absent[name] {
		return nil, fmt.Errorf("%w: %s in %s", ErrNotFound, name, p.Path)
	}

	arr, err := fitsarray.ReadArray(p.Path, name)
	if errors.Is(err, fitsarray.ErrNoArray) {
		p.absent[name] = true
		return nil, fmt.Errorf("%w: %s in %s", ErrNotFound, name, p.Path)
	}
	if err != nil {
		return nil, err
	}
	p.arrays[name] = arr
	return arr, nil
}

// optionalArray is Array with a missing dataset reported as nil
func (p *Plane) optionalArray(name string) (*fitsarray.Array, error) {
	arr, err := p.Array(name)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return arr, err
}

// GoodComponents returns the curated component index. ok is false when the
// result carries no curation.
func (p *Plane) GoodComponents() (idx []int, ok bool, err error) {
	arr, err := p.optionalArray(FieldIdxComponents)
	if err != nil || arr == nil {
		return nil, false, err
	}
	idx = make([]int, len(arr.Data))
	for i, v := range arr.Data {
		idx[i] = int(v)
	}
	return idx, true, nil
}

// Masks extracts the plane's masks, numbered by component index.
// Extraction runs once; each call returns a fresh copy.
func (p *Plane) Masks() ([]models.Mask, error) {
	masks, err := p.masks.get(p.extractMasks)
	if err != nil {
		return nil, err
	}
	return models.CloneMasks(masks), nil
}

func (p *Plane) extractMasks() ([]models.Mask, error) {
	if p.Params.Is3D {
		return nil, fmt.Errorf("%w: mask extraction for volumetric data (%s)", ErrUnsupported, p.Path)
	}
	if len(p.Params.Dims) < 2 {
		return nil, fmt.Errorf("%w: %s has no field-of-view dimensions", ErrConfiguration, p.Path)
	}
	rows := p.Params.Dims[0]

	a, err := p.Array(FieldA)
	if err != nil {
		return nil, err
	}
	if a.Cols() != rows*p.Params.Dims[1] {
		return nil, fmt.Errorf("%w: %s spatial components hold %d pixels, field of view is %v",
			ErrConfiguration, p.Path, a.Cols(), p.Params.Dims)
	}

	c, err := p.Array(FieldC)
	if err != nil {
		return nil, err
	}
	dff, err := p.optionalArray(FieldFDff)
	if err != nil {
		return nil, err
	}
	spikes, err := p.optionalArray(FieldS)
	if err != nil {
		return nil, err
	}

	masks := make([]models.Mask, 0, a.Rows())
	for k := 0; k < a.Rows(); k++ {
		m := models.Mask{ID: k, OrigID: k, CenterZ: p.Index}

		var sumW, sumX, sumY float64
		for ind, w := range a.Row(k) {
			if w == 0 {
				continue
			}
			// components are raveled in Fortran order: rows vary fastest
			x, y := ind%rows, ind/rows
			m.Weights = append(m.Weights, w)
			m.XPix = append(m.XPix, x)
			m.YPix = append(m.YPix, y)
			m.ZPix = append(m.ZPix, p.Index)
			sumW += w
			sumX += w * float64(x)
			sumY += w * float64(y)
		}
		m.NPix = len(m.Weights)
		if sumW != 0 {
			m.CenterX = int(sumX / sumW)
			m.CenterY = int(sumY / sumW)
		}

		if k < c.Rows() {
			m.InferredTrace = append([]float64(nil), c.Row(k)...)
		}
		if dff != nil && k < dff.Rows() {
			m.DFF = append([]float64(nil), dff.Row(k)...)
		}
		if spikes != nil && k < spikes.Rows() {
			m.Spikes = append([]float64(nil), spikes.Row(k)...)
		}
		masks = append(masks, m)
	}

	p.log.Debug("extracted masks", zap.String("path", p.Path), zap.Int("count", len(masks)))
	return masks, nil
}
