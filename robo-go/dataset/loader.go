package dataset

import (
	"io"

	"github.com/robomosaic/robomosaic/robo-go/trajectory"
	"github.com/robomosaic/robomosaic/robo-golib/errors"
)

// LoaderOptions control batch assembly.
type LoaderOptions struct {
	BatchSize int
	// Rank and WorldSize partition the batch stream across trainer processes: rank r
	// keeps every WorldSize-th batch starting at r, so ranks see disjoint data.
	Rank      int
	WorldSize int
	// Prefetch is how many assembled batches to buffer ahead on a background
	// goroutine. Zero disables prefetching.
	Prefetch int
}

type loaded struct {
	batch trajectory.Batch
	err   error
}

// Loader assembles windows from a dataset into fixed-size training batches. An
// incomplete final batch is dropped rather than padded.
type Loader struct {
	ds   Dataset
	opts LoaderOptions

	n int64

	prefetched chan loaded
	stop       chan struct{}
}

// NewLoader validates the options and, if prefetching is enabled, starts the
// background assembly goroutine. Callers using prefetch must Stop the loader when
// done with it.
func NewLoader(ds Dataset, opts LoaderOptions) (*Loader, error) {
	if opts.BatchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", opts.BatchSize)
	}
	if opts.WorldSize <= 0 {
		opts.WorldSize = 1
	}
	if opts.Rank < 0 || opts.Rank >= opts.WorldSize {
		return nil, errors.Errorf("rank %d out of range for world size %d", opts.Rank, opts.WorldSize)
	}

	l := &Loader{
		ds:   ds,
		opts: opts,
	}

	if opts.Prefetch > 0 {
		l.prefetched = make(chan loaded, opts.Prefetch)
		l.stop = make(chan struct{})
		go l.fill()
	}

	return l, nil
}

// NextBatch returns the next batch for this loader's rank, or io.EOF once the
// underlying dataset is exhausted.
func (l *Loader) NextBatch() (trajectory.Batch, error) {
	if l.prefetched != nil {
		next, ok := <-l.prefetched
		if !ok {
			return trajectory.Batch{}, io.EOF
		}
		return next.batch, next.err
	}
	return l.assemble()
}

// Stop shuts down the prefetch goroutine. It is a no-op for non-prefetching loaders.
func (l *Loader) Stop() {
	if l.stop != nil {
		close(l.stop)
		l.stop = nil
	}
}

func (l *Loader) fill() {
	defer close(l.prefetched)
	for {
		batch, err := l.assemble()
		if err == io.EOF {
			return
		}
		select {
		case l.prefetched <- loaded{batch: batch, err: err}:
		case <-l.stop:
			return
		}
		if err != nil {
			return
		}
	}
}

func (l *Loader) assemble() (trajectory.Batch, error) {
	for {
		windows := make([]trajectory.Window, 0, l.opts.BatchSize)
		for len(windows) < l.opts.BatchSize {
			w, err := l.ds.Next()
			if err == io.EOF {
				// drop the incomplete tail
				return trajectory.Batch{}, io.EOF
			} else if err != nil {
				return trajectory.Batch{}, err
			}
			windows = append(windows, w)
		}

		n := l.n
		l.n++
		if n%int64(l.opts.WorldSize) != int64(l.opts.Rank) {
			continue
		}

		batch, err := trajectory.NewBatch(windows)
		if err != nil {
			return trajectory.Batch{}, errors.Wrapf(err, "error assembling batch %d", n)
		}
		return batch, nil
	}
}
