// Package memo caches the result of an expensive call inside the directory
// the call writes to.
//
// An entry is keyed by a hash of a caller-supplied uniqueness descriptor and
// is valid while the output directory's fingerprint is unchanged. The
// fingerprint covers the relative path and byte size of every file, not the
// file contents: a same-size edit goes unnoticed. Callers must not share one
// output directory between unrelated invocations, and must serialize calls
// against the same directory since no lock is taken.
package memo

import (
	"bytes"
	"crypto/md5"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DictToUUID hashes a descriptor into a UUID. Keys are visited in sorted
// order, so the result does not depend on map iteration order.
func DictToUUID(key map[string]interface{}) uuid.UUID {
	keys := make([]string, 0, len(key))
	for k := range key {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := md5.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte(fmt.Sprint(key[k])))
	}

	// md5 always yields 16 bytes
	id, _ := uuid.FromBytes(h.Sum(nil))
	return id
}

// Fingerprint hashes {relative path: size} over every regular file under dir.
// Paths use forward slashes; files whose base name is in exclude are skipped.
func Fingerprint(dir string, exclude ...string) (uuid.UUID, error) {
	skip := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		skip[e] = true
	}

	sizes := make(map[string]interface{})
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return DictToUUID(sizes), nil
	}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || skip[d.Name()] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		sizes[filepath.ToSlash(rel)] = strconv.FormatInt(info.Size(), 10)
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return DictToUUID(sizes), nil
}

// Metadata is the record persisted next to a cached result
type Metadata struct {
	OutputHash string    `json:"output_hash"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
}

// Option configures a Cache
type Option func(*Cache)

// WithLogger sets the logger for hit and miss messages
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.log = l
		}
	}
}

// WithClock replaces time.Now for the persisted timestamps
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// Cache is one memoized entry: a descriptor bound to an output directory
type Cache struct {
	// InputHash is the descriptor hash naming the entry's files
	InputHash uuid.UUID

	// OutputDir is the directory fingerprinted and holding the entry
	OutputDir string

	log *zap.Logger
	now func() time.Time
}

// New binds the uniqueness descriptor to outputDir
func New(uniqueness map[string]interface{}, outputDir string, opts ...Option) *Cache {
	c := &Cache{
		InputHash: DictToUUID(uniqueness),
		OutputDir: outputDir,
		log:       zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MetadataFile is the base name of the entry's metadata file
func (c *Cache) MetadataFile() string {
	return fmt.Sprintf(".%s.json", c.InputHash)
}

// ResultFile is the base name of the entry's gob-encoded result
func (c *Cache) ResultFile() string {
	return fmt.Sprintf(".%s_results.gob", c.InputHash)
}

// Fingerprint hashes the output directory without the entry's own files
func (c *Cache) Fingerprint() (uuid.UUID, error) {
	return Fingerprint(c.OutputDir, c.MetadataFile(), c.ResultFile())
}

// Lookup decodes the cached result into ptr when the entry exists and the
// output directory is unchanged since it was stored. It reports whether ptr
// was filled. A metadata file or result that cannot be decoded counts as a
// miss.
func (c *Cache) Lookup(ptr interface{}) (bool, error) {
	raw, err := os.ReadFile(filepath.Join(c.OutputDir, c.MetadataFile()))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		c.log.Warn("ignoring unreadable cache metadata",
			zap.String("file", c.MetadataFile()), zap.Error(err))
		return false, nil
	}

	fp, err := c.Fingerprint()
	if err != nil {
		return false, err
	}
	if fp.String() != meta.OutputHash {
		c.log.Debug("output directory changed since last run",
			zap.String("dir", c.OutputDir),
			zap.String("stored", meta.OutputHash),
			zap.String("current", fp.String()))
		return false, nil
	}

	blob, err := os.ReadFile(filepath.Join(c.OutputDir, c.ResultFile()))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(ptr); err != nil {
		c.log.Warn("ignoring undecodable cached result",
			zap.String("file", c.ResultFile()), zap.Error(err))
		return false, nil
	}
	return true, nil
}

// Store persists value with gob and a JSON metadata record carrying the
// current fingerprint. The result is written first so a metadata file never
// points at a missing result. Values holding interfaces need their concrete
// types registered with gob.Register.
func (c *Cache) Store(value interface{}, start, end time.Time) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(value); err != nil {
		return fmt.Errorf("error encoding result: %w", err)
	}
	blob := buf.Bytes()
	if err := os.MkdirAll(c.OutputDir, 0755); err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(c.OutputDir, c.ResultFile()), blob); err != nil {
		return err
	}

	fp, err := c.Fingerprint()
	if err != nil {
		return err
	}
	meta, err := json.Marshal(Metadata{OutputHash: fp.String(), StartTime: start, EndTime: end})
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(c.OutputDir, c.MetadataFile()), meta)
}

// writeFileAtomic writes data beside path and renames it into place
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// Memoize wraps fn so it only runs when no valid entry exists for the
// descriptor in outputDir. Errors from fn are returned unchanged and leave
// nothing behind, so the next call runs fn again.
func Memoize[T any](uniqueness map[string]interface{}, outputDir string, fn func() (T, error), opts ...Option) func() (T, error) {
	return func() (T, error) {
		var zero T
		c := New(uniqueness, outputDir, opts...)

		var cached T
		hit, err := c.Lookup(&cached)
		if err != nil {
			return zero, err
		}
		if hit {
			c.log.Info("existing results found, skipping execution",
				zap.String("dir", outputDir), zap.Stringer("input", c.InputHash))
			return cached, nil
		}

		start := c.now().UTC()
		result, err := fn()
		if err != nil {
			return zero, err
		}
		end := c.now().UTC()

		if err := c.Store(result, start, end); err != nil {
			return zero, fmt.Errorf("error caching result in %s: %w", outputDir, err)
		}
		return result, nil
	}
}
