package trajectory

import (
	"github.com/robomosaic/robomosaic/robo-golib/errors"
	"gorgonia.org/tensor"
)

// Batch stacks B windows of T steps each. Tensor fields carry leading (B, T) axes
// followed by the per-step field axes from the canonical spec.
type Batch struct {
	Image             *tensor.Dense // uint8 (B, T, 3, TargetHeight, TargetWidth)
	LangEmbedding     *tensor.Dense // float32 (B, T, EmbeddingSize)
	WorldVector       *tensor.Dense // float32 (B, T, 3)
	RotationDelta     *tensor.Dense // float32 (B, T, 3)
	GripperClosedness *tensor.Dense // float32 (B, T, 1)

	IsFirst    *tensor.Dense // bool (B, T)
	IsLast     *tensor.Dense // bool (B, T)
	IsTerminal *tensor.Dense // bool (B, T)

	// Sources records the origin dataset of each window in the batch.
	Sources []string
}

// Timestep is a batch with the time axis removed: field tensors carry a leading (B,)
// axis followed by the per-step field axes.
type Timestep struct {
	Image             *tensor.Dense // uint8 (B, 3, TargetHeight, TargetWidth)
	LangEmbedding     *tensor.Dense // float32 (B, EmbeddingSize)
	WorldVector       *tensor.Dense // float32 (B, 3)
	RotationDelta     *tensor.Dense // float32 (B, 3)
	GripperClosedness *tensor.Dense // float32 (B, 1)

	IsFirst    *tensor.Dense // bool (B,)
	IsLast     *tensor.Dense // bool (B,)
	IsTerminal *tensor.Dense // bool (B,)
}

// NewBatch stacks the provided windows. All windows must have the same length and all
// steps must match the spec of the first step.
func NewBatch(windows []Window) (Batch, error) {
	if len(windows) == 0 {
		return Batch{}, errors.Errorf("cannot build a batch from zero windows")
	}

	t := windows[0].Len()
	if t == 0 {
		return Batch{}, errors.Errorf("cannot build a batch from empty windows")
	}
	spec := windows[0].Steps[0].Spec()

	b := len(windows)
	var (
		images   = make([]uint8, 0, b*t*spec.Image.Shape.TotalSize())
		langs    = make([]float32, 0, b*t*spec.LangEmbedding.Shape.TotalSize())
		worlds   = make([]float32, 0, b*t*3)
		rots     = make([]float32, 0, b*t*3)
		grippers = make([]float32, 0, b*t*1)
		firsts   = make([]bool, 0, b*t)
		lasts    = make([]bool, 0, b*t)
		terms    = make([]bool, 0, b*t)
		sources  = make([]string, 0, b)
	)

	for _, w := range windows {
		if w.Len() != t {
			return Batch{}, errors.Errorf("window from %s has %d steps, expected %d", w.Source, w.Len(), t)
		}
		sources = append(sources, w.Source)

		for _, s := range w.Steps {
			if err := spec.Validate(s); err != nil {
				return Batch{}, errors.Wrapf(err, "step from %s does not match batch spec", w.Source)
			}

			images = append(images, s.Observation.Image.Data().([]uint8)...)
			langs = append(langs, s.Observation.LangEmbedding.Data().([]float32)...)
			worlds = append(worlds, s.Action.WorldVector.Data().([]float32)...)
			rots = append(rots, s.Action.RotationDelta.Data().([]float32)...)
			grippers = append(grippers, s.Action.GripperClosedness.Data().([]float32)...)
			firsts = append(firsts, s.IsFirst)
			lasts = append(lasts, s.IsLast)
			terms = append(terms, s.IsTerminal)
		}
	}

	withTime := func(fieldShape tensor.Shape) []int {
		return append([]int{b, t}, fieldShape...)
	}

	return Batch{
		Image:             tensor.New(tensor.WithShape(withTime(spec.Image.Shape)...), tensor.WithBacking(images)),
		LangEmbedding:     tensor.New(tensor.WithShape(withTime(spec.LangEmbedding.Shape)...), tensor.WithBacking(langs)),
		WorldVector:       tensor.New(tensor.WithShape(withTime(spec.WorldVector.Shape)...), tensor.WithBacking(worlds)),
		RotationDelta:     tensor.New(tensor.WithShape(withTime(spec.RotationDelta.Shape)...), tensor.WithBacking(rots)),
		GripperClosedness: tensor.New(tensor.WithShape(withTime(spec.GripperClosedness.Shape)...), tensor.WithBacking(grippers)),
		IsFirst:           tensor.New(tensor.WithShape(b, t), tensor.WithBacking(firsts)),
		IsLast:            tensor.New(tensor.WithShape(b, t), tensor.WithBacking(lasts)),
		IsTerminal:        tensor.New(tensor.WithShape(b, t), tensor.WithBacking(terms)),
		Sources:           sources,
	}, nil
}

// Dims returns the batch size and the number of time steps.
func (b Batch) Dims() (batchSize, timeSteps int) {
	shape := b.Image.Shape()
	return shape[0], shape[1]
}

// SingleTimestep returns all field tensors at time index i with the time axis removed
// and all other axes unchanged.
func (b Batch) SingleTimestep(i int) (Timestep, error) {
	batchSize, timeSteps := b.Dims()
	if i < 0 || i >= timeSteps {
		return Timestep{}, errors.Errorf("timestep index %d out of range [0, %d)", i, timeSteps)
	}

	u8 := func(d *tensor.Dense) *tensor.Dense {
		row := d.Shape().TotalSize() / (batchSize * timeSteps)
		data := d.Data().([]uint8)
		out := make([]uint8, 0, batchSize*row)
		for n := 0; n < batchSize; n++ {
			at := (n*timeSteps + i) * row
			out = append(out, data[at:at+row]...)
		}
		return tensor.New(tensor.WithShape(dropTime(d.Shape())...), tensor.WithBacking(out))
	}
	f32 := func(d *tensor.Dense) *tensor.Dense {
		row := d.Shape().TotalSize() / (batchSize * timeSteps)
		data := d.Data().([]float32)
		out := make([]float32, 0, batchSize*row)
		for n := 0; n < batchSize; n++ {
			at := (n*timeSteps + i) * row
			out = append(out, data[at:at+row]...)
		}
		return tensor.New(tensor.WithShape(dropTime(d.Shape())...), tensor.WithBacking(out))
	}
	bl := func(d *tensor.Dense) *tensor.Dense {
		data := d.Data().([]bool)
		out := make([]bool, 0, batchSize)
		for n := 0; n < batchSize; n++ {
			out = append(out, data[n*timeSteps+i])
		}
		return tensor.New(tensor.WithShape(batchSize), tensor.WithBacking(out))
	}

	return Timestep{
		Image:             u8(b.Image),
		LangEmbedding:     f32(b.LangEmbedding),
		WorldVector:       f32(b.WorldVector),
		RotationDelta:     f32(b.RotationDelta),
		GripperClosedness: f32(b.GripperClosedness),
		IsFirst:           bl(b.IsFirst),
		IsLast:            bl(b.IsLast),
		IsTerminal:        bl(b.IsTerminal),
	}, nil
}

func dropTime(s tensor.Shape) []int {
	out := []int{s[0]}
	return append(out, s[2:]...)
}
