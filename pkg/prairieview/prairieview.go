// Package prairieview reads the scan metadata Prairie View writes next to its
// per-frame .ome.tif files.
//
// One .xml file per acquisition describes every frame: which tiff holds it,
// the plane (Frame index) and channel it belongs to, and the scanner state.
// Frames in the XML are image planes at one depth and time step; Meta reports
// NumFrames as time steps.
package prairieview

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrNotFound means no metadata file with a scan sequence exists
	ErrNotFound = errors.New("no Prairie View metadata found")

	// ErrInvalid means the metadata lacks or garbles a required value
	ErrInvalid = errors.New("invalid Prairie View metadata")

	// ErrAmbiguous means a plane or channel must be named explicitly
	ErrAmbiguous = errors.New("ambiguous Prairie View selection")
)

// Any selects the single plane or channel when only one exists
const Any = -1

// dateLayout is the root element's date attribute, e.g. "3/16/2023 1:23:45 PM"
const dateLayout = "1/2/2006 3:04:05 PM"

type pvScan struct {
	Date      string       `xml:"date,attr"`
	State     []stateValue `xml:"PVStateShard>PVStateValue"`
	Sequences []sequence   `xml:"Sequence"`
}

type stateValue struct {
	Key        string             `xml:"key,attr"`
	Value      string             `xml:"value,attr"`
	Indexed    []indexedValue     `xml:"IndexedValue"`
	Subindexed []subindexedValues `xml:"SubindexedValues"`
}

type indexedValue struct {
	Index string `xml:"index,attr"`
	Value string `xml:"value,attr"`
}

type subindexedValues struct {
	Index  string            `xml:"index,attr"`
	Values []subindexedValue `xml:"SubindexedValue"`
}

type subindexedValue struct {
	Subindex string `xml:"subindex,attr"`
	Value    string `xml:"value,attr"`
}

type sequence struct {
	Cycle          string  `xml:"cycle,attr"`
	Time           string  `xml:"time,attr"`
	BidirectionalZ string  `xml:"bidirectionalZ,attr"`
	Frames         []frame `xml:"Frame"`
}

type frame struct {
	Index        string       `xml:"index,attr"`
	RelativeTime string       `xml:"relativeTime,attr"`
	Files        []frameFile  `xml:"File"`
	State        []stateValue `xml:"PVStateShard>PVStateValue"`
}

type frameFile struct {
	Channel  string `xml:"channel,attr"`
	Filename string `xml:"filename,attr"`
}

// Meta is the scan description of one acquisition
type Meta struct {
	NumFields   int `yaml:"numFields"`
	NumChannels int `yaml:"numChannels"`
	NumPlanes   int `yaml:"numPlanes"`

	// NumFrames counts time steps, not per-depth images
	NumFrames int `yaml:"numFrames"`

	// NumROIs is always 0; ROIs are not described in the file
	NumROIs int `yaml:"numRois"`

	FrameRate float64 `yaml:"frameRate"`

	// Bidirectional is always false; Prairie View scans one way in x and y
	Bidirectional  bool `yaml:"bidirectional"`
	BidirectionalZ bool `yaml:"bidirectionalZ"`

	ScanDatetime time.Time `yaml:"scanDatetime"`
	UsecsPerLine float64   `yaml:"usecsPerLine"`

	// ScanDuration is the relative time of the last frame in seconds
	ScanDuration float64 `yaml:"scanDuration"`

	// Images are square: width equals height
	HeightInPixels int     `yaml:"heightInPixels"`
	WidthInPixels  int     `yaml:"widthInPixels"`
	HeightInUM     float64 `yaml:"heightInUm"`
	WidthInUM      float64 `yaml:"widthInUm"`

	FieldX float64 `yaml:"fieldX"`
	FieldY float64 `yaml:"fieldY"`

	// FieldZ holds one depth per plane
	FieldZ []float64 `yaml:"fieldZ"`

	// RecordingTime is the time attribute of the first cycle
	RecordingTime string `yaml:"recordingTime"`

	Channels     []int `yaml:"channels"`
	PlaneIndices []int `yaml:"planeIndices"`
}

// Option configures Load
type Option func(*Scan)

// WithLogger sets the logger for discovery messages
func WithLogger(l *zap.Logger) Option {
	return func(s *Scan) {
		if l != nil {
			s.log = l
		}
	}
}

// Scan is one Prairie View acquisition directory
type Scan struct {
	// Dir holds the tiff files and the metadata file
	Dir string

	// XMLFile is the metadata file in use
	XMLFile string

	root *pvScan
	log  *zap.Logger

	once sync.Once
	meta *Meta
	err  error
}

// Load finds the metadata file in dir: the first .xml file, in lexicographic
// order, that describes a scan sequence
func Load(dir string, opts ...Option) (*Scan, error) {
	s := &Scan{Dir: dir, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.xml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	for _, f := range files {
		root, err := parseFile(f)
		if err != nil {
			return nil, err
		}
		if !root.hasSequence() {
			s.log.Debug("skipping xml without scan sequence", zap.String("file", f))
			continue
		}
		s.XMLFile = f
		s.root = root
		s.log.Debug("found prairie view metadata", zap.String("file", f))
		return s, nil
	}

	return nil, fmt.Errorf("%w at %s", ErrNotFound, dir)
}

// LoadForTiff locates the metadata beside one of the acquisition's tiff files
func LoadForTiff(tiffPath string, opts ...Option) (*Scan, error) {
	return Load(filepath.Dir(tiffPath), opts...)
}

func parseFile(path string) (*pvScan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var root pvScan
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", path, err)
	}
	return &root, nil
}

func (r *pvScan) hasSequence() bool {
	for _, seq := range r.Sequences {
		if len(seq.Frames) > 0 {
			return true
		}
	}
	return false
}

// Meta extracts the scan description, once
func (s *Scan) Meta() (*Meta, error) {
	s.once.Do(func() {
		s.meta, s.err = extractMeta(s.root)
		if s.err != nil {
			s.err = fmt.Errorf("%s: %w", s.XMLFile, s.err)
		}
	})
	return s.meta, s.err
}

// Filenames lists the tiff files of one plane and channel in acquisition
// order. Pass Any to select the only plane or channel; it fails with
// ErrAmbiguous when there are several.
func (s *Scan) Filenames(plane, channel int) ([]string, error) {
	meta, err := s.Meta()
	if err != nil {
		return nil, err
	}

	plane, err = pick("plane", plane, meta.PlaneIndices)
	if err != nil {
		return nil, err
	}
	channel, err = pick("channel", channel, meta.Channels)
	if err != nil {
		return nil, err
	}

	// single-plane frames carry no index to match on
	matchPlane := meta.NumPlanes > 1
	var names []string
	for _, seq := range s.root.Sequences {
		for _, fr := range seq.Frames {
			if matchPlane && fr.Index != strconv.Itoa(plane) {
				continue
			}
			for _, f := range fr.Files {
				if f.Channel == strconv.Itoa(channel) {
					names = append(names, f.Filename)
				}
			}
		}
	}
	return names, nil
}

func pick(what string, v int, valid []int) (int, error) {
	if v == Any {
		if len(valid) != 1 {
			return 0, fmt.Errorf("%w: specify a %s, available %v", ErrAmbiguous, what, valid)
		}
		return valid[0], nil
	}
	for _, ok := range valid {
		if ok == v {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: %s %d not in %v", ErrInvalid, what, v, valid)
}

// stateValues lists every PVStateValue in document order
func (r *pvScan) stateValues() []stateValue {
	out := append([]stateValue(nil), r.State...)
	for _, seq := range r.Sequences {
		for _, fr := range seq.Frames {
			out = append(out, fr.State...)
		}
	}
	return out
}

func (r *pvScan) state(key string) (stateValue, bool) {
	for _, v := range r.stateValues() {
		if v.Key == key {
			return v, true
		}
	}
	return stateValue{}, false
}

func (r *pvScan) stateFloat(key string) (float64, error) {
	v, ok := r.state(key)
	if !ok {
		return 0, fmt.Errorf("%w: missing %s", ErrInvalid, key)
	}
	return parseFloat(key, v.Value)
}

func (r *pvScan) indexedFloat(key, index string) (float64, error) {
	v, ok := r.state(key)
	if ok {
		for _, iv := range v.Indexed {
			if iv.Index == index {
				return parseFloat(key+"/"+index, iv.Value)
			}
		}
	}
	return 0, fmt.Errorf("%w: missing %s/%s", ErrInvalid, key, index)
}

func (r *pvScan) cycle(n string) *sequence {
	for i := range r.Sequences {
		if r.Sequences[i].Cycle == n {
			return &r.Sequences[i]
		}
	}
	return nil
}

func parseFloat(name, s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalid, name, s)
	}
	return v, nil
}

// zAxis returns the ZAxis values of a frame's positionCurrent state
func zAxis(state []stateValue) []subindexedValue {
	for _, v := range state {
		if v.Key != "positionCurrent" {
			continue
		}
		for _, sv := range v.Subindexed {
			if sv.Index == "ZAxis" {
				return sv.Values
			}
		}
	}
	return nil
}

func sortedKeys(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

func extractMeta(r *pvScan) (*Meta, error) {
	m := &Meta{}

	first := r.cycle("1")
	if first == nil {
		return nil, fmt.Errorf("%w: no first cycle", ErrInvalid)
	}
	m.RecordingTime = first.Time

	channels := make(map[int]bool)
	var nFrames int
	var last *frame
	for si := range r.Sequences {
		for fi := range r.Sequences[si].Frames {
			fr := &r.Sequences[si].Frames[fi]
			nFrames++
			last = fr
			for _, f := range fr.Files {
				if f.Channel == "" {
					continue
				}
				ch, err := strconv.Atoi(f.Channel)
				if err != nil {
					return nil, fmt.Errorf("%w: channel %q", ErrInvalid, f.Channel)
				}
				channels[ch] = true
			}
		}
	}
	m.Channels = sortedKeys(channels)
	m.NumChannels = len(m.Channels)

	period, err := r.stateFloat("framePeriod")
	if err != nil {
		return nil, err
	}
	if period == 0 {
		return nil, fmt.Errorf("%w: zero framePeriod", ErrInvalid)
	}
	m.FrameRate = 1 / period

	linePeriod, err := r.stateFloat("scanLinePeriod")
	if err != nil {
		return nil, err
	}
	m.UsecsPerLine = linePeriod * 1e6

	if m.ScanDatetime, err = time.Parse(dateLayout, r.Date); err != nil {
		return nil, fmt.Errorf("%w: date %q", ErrInvalid, r.Date)
	}

	if m.ScanDuration, err = parseFloat("relativeTime", last.RelativeTime); err != nil {
		return nil, err
	}

	pixels, err := r.stateFloat("pixelsPerLine")
	if err != nil {
		return nil, err
	}
	m.HeightInPixels = int(pixels)
	m.WidthInPixels = m.HeightInPixels

	umPerPixel, err := r.indexedFloat("micronsPerPixel", "XAxis")
	if err != nil {
		return nil, err
	}
	m.HeightInUM = float64(m.HeightInPixels) * umPerPixel
	m.WidthInUM = m.HeightInUM

	if m.FieldX, err = r.indexedFloat("currentScanCenter", "XAxis"); err != nil {
		return nil, err
	}
	if m.FieldY, err = r.indexedFloat("currentScanCenter", "YAxis"); err != nil {
		return nil, err
	}

	if err := extractDepths(r, first, m); err != nil {
		return nil, err
	}

	m.NumFields = m.NumPlanes
	m.NumFrames = nFrames / m.NumPlanes
	return m, nil
}

// extractDepths fills the plane layout. Without per-frame z positions in the
// second cycle the scan is a single plane at the global z position.
func extractDepths(r *pvScan, first *sequence, m *Meta) error {
	second := r.cycle("2")

	var multi bool
	if second != nil {
		for _, fr := range second.Frames {
			if zAxis(fr.State) != nil {
				multi = true
				break
			}
		}
	}

	if !multi {
		var z []subindexedValue
		for _, v := range r.stateValues() {
			if v.Key == "positionCurrent" {
				if z = zAxis([]stateValue{v}); z != nil {
					break
				}
			}
		}
		if len(z) == 0 {
			return fmt.Errorf("%w: missing positionCurrent/ZAxis", ErrInvalid)
		}
		depth, err := parseFloat("positionCurrent/ZAxis", z[0].Value)
		if err != nil {
			return err
		}
		m.FieldZ = []float64{depth}
		m.NumPlanes = 1
		m.PlaneIndices = []int{0}
		return nil
	}

	m.BidirectionalZ = r.Sequences[0].BidirectionalZ == "True"

	planes := make(map[int]bool)
	for _, fr := range first.Frames {
		idx, err := strconv.Atoi(fr.Index)
		if err != nil {
			return fmt.Errorf("%w: frame index %q", ErrInvalid, fr.Index)
		}
		planes[idx] = true
	}
	m.PlaneIndices = sortedKeys(planes)
	m.NumPlanes = len(m.PlaneIndices)

	// z positions per controller, over the second cycle's frames
	var controllers []string
	for _, fr := range second.Frames {
		if fr.Index == "1" {
			for _, v := range zAxis(fr.State) {
				controllers = append(controllers, v.Subindex)
			}
			break
		}
	}
	values := func(subindex string) ([]float64, error) {
		var out []float64
		for _, fr := range second.Frames {
			for _, v := range zAxis(fr.State) {
				if v.Subindex != subindex {
					continue
				}
				z, err := parseFloat("positionCurrent/ZAxis", v.Value)
				if err != nil {
					return nil, err
				}
				out = append(out, z)
			}
		}
		return out, nil
	}

	var depths []float64
	if len(controllers) > 1 {
		moving := 0
		for _, c := range controllers {
			zs, err := values(c)
			if err != nil {
				return err
			}
			if varies(zs) {
				moving++
				depths = zs
			}
		}
		if moving != 1 {
			return fmt.Errorf("%w: %d z controllers change depth, exactly one is supported", ErrInvalid, moving)
		}
	} else {
		var err error
		if depths, err = values("0"); err != nil {
			return err
		}
	}

	if len(depths) != m.NumPlanes {
		return fmt.Errorf("%w: %d z positions for %d planes", ErrInvalid, len(depths), m.NumPlanes)
	}
	m.FieldZ = depths
	return nil
}

func varies(zs []float64) bool {
	for _, z := range zs {
		if z != zs[0] {
			return true
		}
	}
	return false
}
