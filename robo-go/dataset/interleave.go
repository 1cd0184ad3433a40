package dataset

import (
	"io"
	"math/rand"

	"github.com/robomosaic/robomosaic/robo-go/trajectory"
	"github.com/robomosaic/robomosaic/robo-golib/errors"
)

// Interleaved merges several source datasets into one stream by sampling a source per
// window with probability proportional to its weight. Exhausted sources rewind in
// place, so the merged stream never ends on its own; Len reports the sentinel bound
// that epoch-based consumers divide into steps.
type Interleaved struct {
	datasets []Dataset
	weights  []float64
	total    float64
	rng      *rand.Rand
}

// NewInterleaved validates that every dataset shares one step spec and that weights
// are usable, then returns the merged stream. A spec mismatch here is a construction
// error rather than a runtime surprise mid-training.
func NewInterleaved(datasets []Dataset, weights []float64, seed int64) (*Interleaved, error) {
	if len(datasets) == 0 {
		return nil, errors.New("at least one dataset is required")
	}
	if len(weights) != len(datasets) {
		return nil, errors.Errorf("got %d weights for %d datasets", len(weights), len(datasets))
	}

	spec := datasets[0].Spec()
	for _, d := range datasets[1:] {
		if !spec.Equal(d.Spec()) {
			return nil, errors.Errorf("dataset %s spec %s does not match %s spec %s",
				d.Name(), d.Spec(), datasets[0].Name(), spec)
		}
	}

	var total float64
	for i, w := range weights {
		if w <= 0 {
			return nil, errors.Errorf("weight for dataset %s must be positive, got %f", datasets[i].Name(), w)
		}
		total += w
	}

	return &Interleaved{
		datasets: datasets,
		weights:  weights,
		total:    total,
		rng:      rand.New(rand.NewSource(seed)),
	}, nil
}

// Name implements Dataset.
func (in *Interleaved) Name() string {
	return "interleaved"
}

// Spec implements Dataset.
func (in *Interleaved) Spec() trajectory.StepSpec {
	return in.datasets[0].Spec()
}

// Len is the sentinel stream length.
func (in *Interleaved) Len() int {
	return SentinelLen
}

// Reset implements Dataset. The sampling RNG is left alone so a reset stream does not
// replay the exact same source sequence.
func (in *Interleaved) Reset() error {
	for _, d := range in.datasets {
		if err := d.Reset(); err != nil {
			return errors.Wrapf(err, "error resetting dataset %s", d.Name())
		}
	}
	return nil
}

// Next draws a source by weight and yields its next window, rewinding the source when
// it runs out.
func (in *Interleaved) Next() (trajectory.Window, error) {
	d := in.datasets[in.draw()]

	w, err := d.Next()
	if err == io.EOF {
		if err := d.Reset(); err != nil {
			return trajectory.Window{}, errors.Wrapf(err, "error rewinding dataset %s", d.Name())
		}
		w, err = d.Next()
		if err == io.EOF {
			return trajectory.Window{}, errors.Errorf("dataset %s is empty after a rewind", d.Name())
		}
	}
	if err != nil {
		return trajectory.Window{}, err
	}
	return w, nil
}

func (in *Interleaved) draw() int {
	at := in.rng.Float64() * in.total
	for i, w := range in.weights {
		at -= w
		if at < 0 {
			return i
		}
	}
	return len(in.weights) - 1
}

// UniformWeights gives every dataset the same draw probability.
func UniformWeights(n int) []float64 {
	weights := make([]float64, n)
	for i := range weights {
		weights[i] = 1
	}
	return weights
}
