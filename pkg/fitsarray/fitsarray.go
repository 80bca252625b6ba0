// Package fitsarray stores named float64 arrays as image HDUs of a FITS file.
// Each HDU carries its array name in the EXTNAME card, so a single file can
// hold the same named datasets the analysis tools write to HDF5.
package fitsarray

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/astrogo/fitsio"
)

// ErrNoArray is returned when a named array is not present in a file
var ErrNoArray = errors.New("array not found")

// Array is an n-dimensional float64 array in row-major order.
// Shape lists the axes slowest first, the way numpy reports them.
type Array struct {
	Name  string
	Shape []int
	Data  []float64
}

// NewArray wraps data with the given shape. The product of shape must equal len(data).
func NewArray(name string, data []float64, shape ...int) (*Array, error) {
	n := 1
	for _, s := range shape {
		n *= s
	}
	if n != len(data) {
		return nil, fmt.Errorf("array %s: shape %v does not hold %d elements", name, shape, len(data))
	}
	return &Array{Name: name, Shape: shape, Data: data}, nil
}

// Rows is the size of the slowest axis
func (a *Array) Rows() int {
	if len(a.Shape) == 0 {
		return 0
	}
	return a.Shape[0]
}

// Cols is the product of every axis except the slowest
func (a *Array) Cols() int {
	if len(a.Shape) == 0 {
		return 0
	}
	n := 1
	for _, s := range a.Shape[1:] {
		n *= s
	}
	return n
}

// Row returns row i of the array viewed as Rows() x Cols()
func (a *Array) Row(i int) []float64 {
	c := a.Cols()
	return a.Data[i*c : (i+1)*c]
}

// Column copies column j of the array viewed as Rows() x Cols()
func (a *Array) Column(j int) []float64 {
	r, c := a.Rows(), a.Cols()
	out := make([]float64, r)
	for i := 0; i < r; i++ {
		out[i] = a.Data[i*c+j]
	}
	return out
}

// Header holds the primary-header keyword values of a file
type Header map[string]interface{}

// Bool returns the boolean keyword k, false when absent
func (h Header) Bool(k string) bool {
	switch v := h[k].(type) {
	case bool:
		return v
	case string:
		return v == "T" || v == "true"
	}
	return false
}

// Int returns the integer keyword k and whether it was present
func (h Header) Int(k string) (int, bool) {
	switch v := h[k].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case int32:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// Index describes the contents of a FITS file without loading array data
type Index struct {
	Path    string
	Names   []string
	Primary Header
}

// Has reports whether every name is present in the file
func (ix *Index) Has(names ...string) bool {
	for _, name := range names {
		found := false
		for _, n := range ix.Names {
			if n == name {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Missing returns the names not present in the file
func (ix *Index) Missing(names ...string) []string {
	var missing []string
	for _, name := range names {
		if !ix.Has(name) {
			missing = append(missing, name)
		}
	}
	return missing
}

func hduName(hdu fitsio.HDU) string {
	card := hdu.Header().Get("EXTNAME")
	if card == nil {
		return ""
	}
	if s, ok := card.Value.(string); ok {
		return s
	}
	return fmt.Sprint(card.Value)
}

// withFile opens path and hands the decoded FITS file to fn
func withFile(path string, fn func(f *fitsio.File) error) error {
	r, err := os.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	f, err := fitsio.Open(r)
	if err != nil {
		return fmt.Errorf("error decoding FITS file %s: %w", path, err)
	}
	defer f.Close()

	return fn(f)
}

// Scan reads the HDU names and primary header of the file at path
func Scan(path string) (*Index, error) {
	ix := &Index{Path: path, Primary: Header{}}
	err := withFile(path, func(f *fitsio.File) error {
		hdus := f.HDUs()
		if len(hdus) == 0 {
			return fmt.Errorf("FITS file %s has no HDUs", path)
		}
		hdr := hdus[0].Header()
		for _, k := range hdr.Keys() {
			if card := hdr.Get(k); card != nil {
				ix.Primary[k] = card.Value
			}
		}
		for _, hdu := range hdus {
			if name := hduName(hdu); name != "" {
				ix.Names = append(ix.Names, name)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ix, nil
}

// ReadArray loads the array called name from the file at path.
// It returns an error wrapping ErrNoArray when the file has no such HDU.
func ReadArray(path, name string) (*Array, error) {
	var arr *Array
	err := withFile(path, func(f *fitsio.File) error {
		for _, hdu := range f.HDUs() {
			if hduName(hdu) != name {
				continue
			}
			img, ok := hdu.(fitsio.Image)
			if !ok {
				return fmt.Errorf("HDU %s in %s is not an image", name, path)
			}

			// FITS lists the fastest axis first, numpy the slowest
			axes := img.Header().Axes()
			shape := make([]int, len(axes))
			n := 1
			for i, ax := range axes {
				shape[len(axes)-1-i] = ax
				n *= ax
			}

			data := make([]float64, n)
			if err := img.Read(&data); err != nil {
				return fmt.Errorf("error reading %s from %s: %w", name, path, err)
			}
			arr = &Array{Name: name, Shape: shape, Data: data}
			return nil
		}
		return fmt.Errorf("%w: %s in %s", ErrNoArray, name, path)
	})
	if err != nil {
		return nil, err
	}
	return arr, nil
}

// Write creates the file at path holding arrays in order. The primary
// keywords are written to the first HDU's header. Arrays with no elements
// are skipped since FITS cannot name an empty data unit. On failure the
// partial file is removed.
func Write(path string, primary Header, arrays []*Array) error {
	var nonEmpty []*Array
	for _, a := range arrays {
		if a != nil && len(a.Data) > 0 {
			nonEmpty = append(nonEmpty, a)
		}
	}
	if len(nonEmpty) == 0 {
		return fmt.Errorf("nothing to write to %s", path)
	}

	w, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := encode(w, primary, nonEmpty); err != nil {
		w.Close()
		os.Remove(path)
		return fmt.Errorf("error writing FITS file %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("error closing FITS file %s: %w", path, err)
	}
	return nil
}

// encode writes one image HDU per array to w and flushes the FITS stream
func encode(w io.Writer, primary Header, arrays []*Array) error {
	f, err := fitsio.Create(w)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(primary))
	for k := range primary {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for i, a := range arrays {
		if err := writeHDU(f, a, primary, keys, i == 0); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

func writeHDU(f *fitsio.File, a *Array, primary Header, keys []string, first bool) error {
	axes := make([]int, len(a.Shape))
	for j, s := range a.Shape {
		axes[len(a.Shape)-1-j] = s
	}

	im := fitsio.NewImage(-64, axes)
	cards := []fitsio.Card{{Name: "EXTNAME", Value: a.Name}}
	if first {
		for _, k := range keys {
			cards = append(cards, fitsio.Card{Name: k, Value: primary[k]})
		}
	}
	if err := im.Header().Append(cards...); err != nil {
		im.Close()
		return err
	}
	if err := im.Write(a.Data); err != nil {
		im.Close()
		return err
	}
	if err := f.Write(im); err != nil {
		im.Close()
		return err
	}
	return im.Close()
}
