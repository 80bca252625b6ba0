package memo

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gonum.org/v1/gonum/mat"

	"imagingloader/internal/models"
)

type result struct {
	Value int    `json:"value"`
	Label string `json:"label"`
}

// counter wraps a computation that writes output.txt and counts its calls
type counter struct {
	dir   string
	calls int
}

func (c *counter) run() (result, error) {
	c.calls++
	if err := os.WriteFile(filepath.Join(c.dir, "output.txt"), []byte("abc"), 0644); err != nil {
		return result{}, err
	}
	return result{Value: c.calls * 10, Label: "run"}, nil
}

func TestDictToUUIDOrderIndependent(t *testing.T) {
	a := DictToUUID(map[string]interface{}{"subject": "mouse1", "session": 3, "paramset": 0})
	b := DictToUUID(map[string]interface{}{"paramset": 0, "session": 3, "subject": "mouse1"})
	if a != b {
		t.Errorf("Expected identical hashes, got %s and %s", a, b)
	}

	c := DictToUUID(map[string]interface{}{"subject": "mouse1", "session": 4, "paramset": 0})
	if a == c {
		t.Error("Expected different descriptors to hash differently")
	}
}

func TestFingerprint(t *testing.T) {
	dir := t.TempDir()

	empty, err := Fingerprint(dir)
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	missing, err := Fingerprint(filepath.Join(dir, "does-not-exist"))
	if err != nil {
		t.Fatalf("Fingerprint of missing dir failed: %v", err)
	}
	if empty != missing {
		t.Error("Expected a missing directory to fingerprint like an empty one")
	}

	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatalf("Failed to create subdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "a.bin"), []byte("1234"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	first, _ := Fingerprint(dir)
	if first == empty {
		t.Error("Expected fingerprint to change after adding a file")
	}

	// same size, different content: not detected
	if err := os.WriteFile(filepath.Join(dir, "sub", "a.bin"), []byte("abcd"), 0644); err != nil {
		t.Fatalf("Failed to rewrite file: %v", err)
	}
	sameSize, _ := Fingerprint(dir)
	if sameSize != first {
		t.Error("Expected same-size rewrite to keep the fingerprint")
	}

	if err := os.WriteFile(filepath.Join(dir, "sub", "a.bin"), []byte("abcde"), 0644); err != nil {
		t.Fatalf("Failed to rewrite file: %v", err)
	}
	resized, _ := Fingerprint(dir)
	if resized == first {
		t.Error("Expected fingerprint to change after resizing a file")
	}

	excluded, _ := Fingerprint(dir, "a.bin")
	if excluded != empty {
		t.Error("Expected excluded files to be ignored")
	}
}

func TestMemoizeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c := &counter{dir: dir}
	desc := map[string]interface{}{"subject": "mouse1", "task": "segmentation"}

	fn := Memoize(desc, dir, c.run)

	r1, err := fn()
	if err != nil {
		t.Fatalf("First call failed: %v", err)
	}
	if c.calls != 1 || r1.Value != 10 {
		t.Fatalf("Expected one execution returning 10, got %d calls and %d", c.calls, r1.Value)
	}

	cache := New(desc, dir)
	if _, err := os.Stat(filepath.Join(dir, cache.MetadataFile())); err != nil {
		t.Fatalf("Expected metadata file: %v", err)
	}
	blob1, err := os.ReadFile(filepath.Join(dir, cache.ResultFile()))
	if err != nil {
		t.Fatalf("Expected result file: %v", err)
	}

	// unchanged directory: served from cache
	r2, err := fn()
	if err != nil {
		t.Fatalf("Second call failed: %v", err)
	}
	if c.calls != 1 {
		t.Errorf("Expected no re-execution, got %d calls", c.calls)
	}
	if r2 != r1 {
		t.Errorf("Expected cached result %+v, got %+v", r1, r2)
	}
	blob2, _ := os.ReadFile(filepath.Join(dir, cache.ResultFile()))
	if !bytes.Equal(blob1, blob2) {
		t.Error("Expected persisted result to be unchanged after a cache hit")
	}

	// resized output file: executes again
	if err := os.WriteFile(filepath.Join(dir, "output.txt"), []byte("abcdef"), 0644); err != nil {
		t.Fatalf("Failed to rewrite output file: %v", err)
	}
	r3, err := fn()
	if err != nil {
		t.Fatalf("Third call failed: %v", err)
	}
	if c.calls != 2 || r3.Value != 20 {
		t.Errorf("Expected re-execution returning 20, got %d calls and %d", c.calls, r3.Value)
	}

	// new file in the output directory: executes again
	if err := os.WriteFile(filepath.Join(dir, "extra.txt"), []byte("more data"), 0644); err != nil {
		t.Fatalf("Failed to write extra file: %v", err)
	}
	if _, err := fn(); err != nil {
		t.Fatalf("Fourth call failed: %v", err)
	}
	if c.calls != 3 {
		t.Errorf("Expected re-execution after adding a file, got %d calls", c.calls)
	}

	// new descriptor: executes regardless of the directory state
	other := Memoize(map[string]interface{}{"subject": "mouse2", "task": "segmentation"}, dir, c.run)
	if _, err := other(); err != nil {
		t.Fatalf("Call with new descriptor failed: %v", err)
	}
	if c.calls != 4 {
		t.Errorf("Expected execution for new descriptor, got %d calls", c.calls)
	}
}

func TestMemoizeDoesNotCacheFailures(t *testing.T) {
	dir := t.TempDir()
	boom := errors.New("tool crashed")
	calls := 0

	fn := Memoize(map[string]interface{}{"k": "v"}, dir, func() (int, error) {
		calls++
		return 0, boom
	})

	for i := 0; i < 2; i++ {
		if _, err := fn(); !errors.Is(err, boom) {
			t.Fatalf("Expected the wrapped error, got %v", err)
		}
	}
	if calls != 2 {
		t.Errorf("Expected failing calls to re-execute, got %d calls", calls)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Failed to list dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected nothing persisted after failures, found %d entries", len(entries))
	}
}

func TestLookupCorruptMetadata(t *testing.T) {
	dir := t.TempDir()
	c := New(map[string]interface{}{"k": "v"}, dir)
	if err := os.WriteFile(filepath.Join(dir, c.MetadataFile()), []byte("{not json"), 0644); err != nil {
		t.Fatalf("Failed to write metadata: %v", err)
	}

	var out int
	hit, err := c.Lookup(&out)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if hit {
		t.Error("Expected corrupt metadata to be a miss")
	}
}

func TestLookupCorruptResult(t *testing.T) {
	dir := t.TempDir()
	desc := map[string]interface{}{"k": "v"}
	calls := 0
	fn := Memoize(desc, dir, func() (int, error) {
		calls++
		return 7, nil
	})
	if _, err := fn(); err != nil {
		t.Fatalf("First call failed: %v", err)
	}

	// same size, undecodable content keeps the fingerprint valid
	c := New(desc, dir)
	path := filepath.Join(dir, c.ResultFile())
	blob, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read result: %v", err)
	}
	if err := os.WriteFile(path, bytes.Repeat([]byte{0xff}, len(blob)), 0644); err != nil {
		t.Fatalf("Failed to corrupt result: %v", err)
	}

	var out int
	hit, err := c.Lookup(&out)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if hit {
		t.Error("Expected corrupt result to be a miss")
	}

	v, err := fn()
	if err != nil || v != 7 {
		t.Fatalf("Expected recomputed 7, got %d (%v)", v, err)
	}
	if calls != 2 {
		t.Errorf("Expected re-execution after a corrupt result, got %d calls", calls)
	}
}

// sameFloats compares element-wise, treating NaN as equal to NaN
func sameFloats(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] && !(math.IsNaN(a[i]) && math.IsNaN(b[i])) {
			return false
		}
	}
	return true
}

func sameFloat(a, b float64) bool {
	return sameFloats([]float64{a}, []float64{b})
}

func sameInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestMemoizeRigidCorrection(t *testing.T) {
	dir := t.TempDir()
	want := &models.RigidCorrection{
		XShifts:       mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6}),
		YShifts:       mat.NewDense(2, 3, []float64{-1, -2, -3, -4, -5, -6}),
		ZShifts:       mat.NewDense(2, 3, nil),
		XStd:          1.5,
		YStd:          1.5,
		ZStd:          math.NaN(),
		OutlierFrames: []int{4},
	}
	calls := 0
	fn := Memoize(map[string]interface{}{"task": "rigid"}, dir, func() (*models.RigidCorrection, error) {
		calls++
		return want, nil
	})

	if _, err := fn(); err != nil {
		t.Fatalf("First call failed: %v", err)
	}
	got, err := fn()
	if err != nil {
		t.Fatalf("Second call failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("Expected a cache hit, got %d calls", calls)
	}
	if got == want {
		t.Fatal("Expected the result to come from the cache")
	}

	for _, m := range []struct {
		name      string
		got, want *mat.Dense
	}{
		{"x", got.XShifts, want.XShifts},
		{"y", got.YShifts, want.YShifts},
		{"z", got.ZShifts, want.ZShifts},
	} {
		if m.got == nil || !mat.Equal(m.got, m.want) {
			t.Errorf("%s shifts: expected %v, got %v", m.name, mat.Formatted(m.want), m.got)
		}
	}
	if !sameFloat(got.XStd, want.XStd) || !sameFloat(got.YStd, want.YStd) || !math.IsNaN(got.ZStd) {
		t.Errorf("Unexpected std devs %f %f %f", got.XStd, got.YStd, got.ZStd)
	}
	if !sameInts(got.OutlierFrames, want.OutlierFrames) {
		t.Errorf("Expected outlier frames %v, got %v", want.OutlierFrames, got.OutlierFrames)
	}
}

func TestMemoizePiecewiseRigidCorrection(t *testing.T) {
	dir := t.TempDir()
	want := &models.PiecewiseRigidCorrection{
		BlockHeight: 3,
		BlockWidth:  3,
		BlockDepth:  1,
		BlockCountX: 2,
		BlockCountY: 1,
		BlockCountZ: 1,
		Blocks: []models.Block{
			{ID: 0, X: []int{0, 1, 2}, Y: []int{0, 1, 2}, Z: []int{0, 0, 0},
				XShifts: []float64{0.1, 0.2}, YShifts: []float64{-0.1, -0.2}, ZShifts: []float64{0, 0},
				XStd: 0.05, YStd: 0.05, ZStd: math.NaN()},
			{ID: 1, X: []int{2, 3, 4}, Y: []int{0, 1, 2}, Z: []int{0, 0, 0},
				XShifts: []float64{1, math.NaN()}, YShifts: []float64{2, 3}, ZShifts: []float64{0, 0},
				XStd: 0, YStd: 0.5, ZStd: math.NaN()},
		},
	}
	calls := 0
	fn := Memoize(map[string]interface{}{"task": "pw_rigid"}, dir, func() (*models.PiecewiseRigidCorrection, error) {
		calls++
		return want, nil
	})

	if _, err := fn(); err != nil {
		t.Fatalf("First call failed: %v", err)
	}
	got, err := fn()
	if err != nil {
		t.Fatalf("Second call failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("Expected a cache hit, got %d calls", calls)
	}

	if got.BlockHeight != want.BlockHeight || got.BlockWidth != want.BlockWidth || got.BlockDepth != want.BlockDepth ||
		got.BlockCountX != want.BlockCountX || got.BlockCountY != want.BlockCountY || got.BlockCountZ != want.BlockCountZ {
		t.Errorf("Unexpected geometry %+v", got)
	}
	if len(got.Blocks) != len(want.Blocks) {
		t.Fatalf("Expected %d blocks, got %d", len(want.Blocks), len(got.Blocks))
	}
	for i, w := range want.Blocks {
		g := got.Blocks[i]
		if g.ID != w.ID || !sameInts(g.X, w.X) || !sameInts(g.Y, w.Y) || !sameInts(g.Z, w.Z) {
			t.Errorf("Block %d: unexpected extents %+v", i, g)
		}
		if !sameFloats(g.XShifts, w.XShifts) || !sameFloats(g.YShifts, w.YShifts) || !sameFloats(g.ZShifts, w.ZShifts) {
			t.Errorf("Block %d: unexpected shifts %v %v %v", i, g.XShifts, g.YShifts, g.ZShifts)
		}
		if !sameFloat(g.XStd, w.XStd) || !sameFloat(g.YStd, w.YStd) || !sameFloat(g.ZStd, w.ZStd) {
			t.Errorf("Block %d: unexpected std devs %f %f %f", i, g.XStd, g.YStd, g.ZStd)
		}
	}
}

func TestStoreTimestamps(t *testing.T) {
	dir := t.TempDir()
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	fn := Memoize(map[string]interface{}{"k": "v"}, dir, func() (string, error) {
		return "done", nil
	}, WithClock(func() time.Time { return ts }))
	if _, err := fn(); err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	c := New(map[string]interface{}{"k": "v"}, dir)
	var s string
	hit, err := c.Lookup(&s)
	if err != nil || !hit || s != "done" {
		t.Fatalf("Expected hit with 'done', got hit=%v value=%q err=%v", hit, s, err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, c.MetadataFile()))
	if err != nil {
		t.Fatalf("Failed to read metadata: %v", err)
	}
	if !bytes.Contains(raw, []byte(`"start_time":"2025-03-01T12:00:00Z"`)) {
		t.Errorf("Expected start time in metadata, got %s", raw)
	}
}
