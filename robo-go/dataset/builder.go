package dataset

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"github.com/robomosaic/robomosaic/robo-go/trajectory"
	"github.com/robomosaic/robomosaic/robo-go/trajectory/sources"
	"github.com/robomosaic/robomosaic/robo-golib/errors"
	"github.com/robomosaic/robomosaic/robo-golib/fileutil"
)

// defaultCacheSize is the number of decoded part files kept in memory per source.
const defaultCacheSize = 4

// Builder constructs a source Dataset from a named collection stored at a builder dir
// (a local path or an s3:// location holding part-%05d.json.gz files).
type Builder struct {
	Name       string
	BuilderDir string
	// TimeSequenceLength is the fixed window length episodes are chunked into.
	TimeSequenceLength int
	// CacheSize overrides the decoded part-file cache size (0 means default).
	CacheSize int
}

// Open lists the part files, resolves the source's registered step mapper, and decodes
// the first part to establish the source's step spec. Construction fails fast if the
// source has no mapper, no data, or steps that do not agree on one spec.
func (b Builder) Open() (*SourceDataset, error) {
	if b.TimeSequenceLength <= 0 {
		return nil, errors.Errorf("time sequence length must be positive, got %d", b.TimeSequenceLength)
	}

	mapFn, err := sources.Get(b.Name)
	if err != nil {
		return nil, err
	}

	listing, err := fileutil.ListDir(b.BuilderDir)
	if err != nil {
		return nil, errors.Wrapf(err, "error listing builder dir %s", b.BuilderDir)
	}

	var paths []string
	for _, p := range listing {
		if strings.HasSuffix(p, ".json.gz") {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return nil, errors.Errorf("no part files found for source %s under %s", b.Name, b.BuilderDir)
	}

	cacheSize := b.CacheSize
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}

	d := &SourceDataset{
		name:   b.Name,
		mapFn:  mapFn,
		paths:  paths,
		seqLen: b.TimeSequenceLength,
		cache:  cache,
	}

	// establish the spec from the first mapped step; every later step is checked
	// against it
	first, err := d.decodePart(paths[0])
	if err != nil {
		return nil, err
	}
	if len(first) == 0 {
		return nil, errors.Errorf(
			"source %s has no complete window of length %d in its first part file", b.Name, b.TimeSequenceLength)
	}
	d.spec = first[0].Steps[0].Spec()

	return d, nil
}

// SourceDataset streams fixed-length windows of one source collection, mapped into the
// canonical schema. Iteration is single-threaded; see Loader for prefetching.
type SourceDataset struct {
	name   string
	mapFn  sources.MapFn
	paths  []string
	seqLen int
	cache  *lru.Cache
	spec   trajectory.StepSpec

	pathIdx int
	windows []trajectory.Window
	winIdx  int
}

// Name implements Dataset.
func (d *SourceDataset) Name() string {
	return d.name
}

// Spec implements Dataset.
func (d *SourceDataset) Spec() trajectory.StepSpec {
	return d.spec
}

// Reset implements Dataset.
func (d *SourceDataset) Reset() error {
	d.pathIdx = 0
	d.windows = nil
	d.winIdx = 0
	return nil
}

// Next implements Dataset.
func (d *SourceDataset) Next() (trajectory.Window, error) {
	for d.winIdx >= len(d.windows) {
		if d.pathIdx >= len(d.paths) {
			return trajectory.Window{}, io.EOF
		}
		windows, err := d.decodePart(d.paths[d.pathIdx])
		if err != nil {
			return trajectory.Window{}, err
		}
		d.pathIdx++
		d.windows = windows
		d.winIdx = 0
	}

	w := d.windows[d.winIdx]
	d.winIdx++
	return w, nil
}

// Count returns the total number of windows in the collection. This is a full pass
// over all part files; it is intended for size-weighted sampling setups, not for the
// training hot path.
func (d *SourceDataset) Count() (int, error) {
	var total int
	for _, p := range d.paths {
		windows, err := d.decodePart(p)
		if err != nil {
			return 0, err
		}
		total += len(windows)
	}
	return total, nil
}

func (d *SourceDataset) decodePart(path string) ([]trajectory.Window, error) {
	if cached, ok := d.cache.Get(path); ok {
		return cached.([]trajectory.Window), nil
	}

	episodes, err := readEpisodes(path)
	if err != nil {
		return nil, err
	}

	var windows []trajectory.Window
	for _, episode := range episodes {
		ws, err := d.windowEpisode(episode)
		if err != nil {
			return nil, errors.Wrapf(err, "error windowing episode from %s", path)
		}
		windows = append(windows, ws...)
	}

	d.cache.Add(path, windows)
	return windows, nil
}

// windowEpisode maps an episode's native steps through the source mapper and chunks
// the result into non-overlapping fixed-length windows, dropping the ragged tail.
func (d *SourceDataset) windowEpisode(episode []trajectory.NativeStep) ([]trajectory.Window, error) {
	steps := make([]trajectory.Step, 0, len(episode))
	for _, native := range episode {
		step, err := d.mapFn(native)
		if err != nil {
			return nil, errors.Wrapf(err, "error mapping step for source %s", d.name)
		}
		if d.spec.Image.Shape != nil {
			if err := d.spec.Validate(step); err != nil {
				return nil, errors.Wrapf(err, "source %s emitted an off-spec step", d.name)
			}
		}
		steps = append(steps, step)
	}

	var windows []trajectory.Window
	for at := 0; at+d.seqLen <= len(steps); at += d.seqLen {
		windows = append(windows, trajectory.Window{
			Source: d.name,
			Steps:  steps[at : at+d.seqLen],
		})
	}
	return windows, nil
}

// readEpisodes splits the step stream of one part file into episodes on the is_first /
// is_last flags.
func readEpisodes(path string) ([][]trajectory.NativeStep, error) {
	r, err := fileutil.NewCachedReader(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening part file %s", path)
	}
	defer r.Close()

	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, errors.Wrapf(err, "error decompressing part file %s", path)
	}
	defer gz.Close()

	var episodes [][]trajectory.NativeStep
	var current []trajectory.NativeStep

	dec := json.NewDecoder(gz)
	for {
		var step trajectory.NativeStep
		if err := dec.Decode(&step); err == io.EOF {
			break
		} else if err != nil {
			return nil, errors.Wrapf(err, "malformed step record in %s", path)
		}

		if step.IsFirst && len(current) > 0 {
			episodes = append(episodes, current)
			current = nil
		}
		current = append(current, step)
		if step.IsLast {
			episodes = append(episodes, current)
			current = nil
		}
	}
	if len(current) > 0 {
		episodes = append(episodes, current)
	}

	return episodes, nil
}
