package policy

import (
	"math"

	"github.com/robomosaic/robomosaic/robo-go/trajectory"
	"github.com/robomosaic/robomosaic/robo-golib/errors"
	"gorgonia.org/tensor"
)

// VocabSize is the number of discretization bins used for continuous action dimensions.
const VocabSize = 256

// Dim is one scalar action dimension. Continuous dimensions span [Low, High] split
// into Bins uniform buckets; Discrete dimensions carry the raw index itself.
type Dim struct {
	Name     string  `json:"name"`
	Low      float32 `json:"low"`
	High     float32 `json:"high"`
	Bins     int     `json:"bins"`
	Discrete bool    `json:"discrete,omitempty"`
}

// Tokenize maps a value to its bin, clamping out-of-range values to the edge bins.
// Discrete dimensions round to the nearest index, so 0 stays 0 and 1 stays 1.
func (d Dim) Tokenize(v float32) int {
	if d.Discrete {
		bin := int(math.Round(float64(v)))
		if bin < 0 {
			return 0
		}
		if bin > d.Bins-1 {
			return d.Bins - 1
		}
		return bin
	}
	if v <= d.Low {
		return 0
	}
	if v >= d.High {
		return d.Bins - 1
	}
	bin := int(float32(d.Bins) * (v - d.Low) / (d.High - d.Low))
	if bin > d.Bins-1 {
		bin = d.Bins - 1
	}
	return bin
}

// Detokenize maps a bin back to the center of its value range. Discrete dimensions
// return the index unchanged.
func (d Dim) Detokenize(bin int) float32 {
	if d.Discrete {
		return float32(bin)
	}
	return d.Low + (float32(bin)+0.5)*(d.High-d.Low)/float32(d.Bins)
}

// ActionSpace is the discretized command vocabulary the policy predicts over: three
// world displacement dimensions in [-1, 1], three rotation dimensions in [-pi, pi],
// and a binary gripper closedness dimension predicted as a raw 0/1 index.
type ActionSpace struct {
	Dims []Dim `json:"dims"`
}

// DefaultActionSpace builds the seven-dimension space shared by all sources.
func DefaultActionSpace() ActionSpace {
	dims := []Dim{
		{Name: "world_vector_0", Low: -1, High: 1, Bins: VocabSize},
		{Name: "world_vector_1", Low: -1, High: 1, Bins: VocabSize},
		{Name: "world_vector_2", Low: -1, High: 1, Bins: VocabSize},
		{Name: "rotation_delta_0", Low: -math.Pi, High: math.Pi, Bins: VocabSize},
		{Name: "rotation_delta_1", Low: -math.Pi, High: math.Pi, Bins: VocabSize},
		{Name: "rotation_delta_2", Low: -math.Pi, High: math.Pi, Bins: VocabSize},
		{Name: "gripper_closedness", Low: 0, High: 1, Bins: 2, Discrete: true},
	}
	return ActionSpace{Dims: dims}
}

// NumDims is the number of scalar action dimensions.
func (s ActionSpace) NumDims() int {
	return len(s.Dims)
}

// flatten orders a step's action values to match s.Dims.
func flatten(world, rotation, gripper []float32) []float32 {
	out := make([]float32, 0, len(world)+len(rotation)+len(gripper))
	out = append(out, world...)
	out = append(out, rotation...)
	out = append(out, gripper...)
	return out
}

// TokenizeBatch discretizes every action in the batch. The result is row-major over
// (batch, time, dim) with length B*T*NumDims.
func (s ActionSpace) TokenizeBatch(b trajectory.Batch) ([]int, error) {
	batchSize, timeSteps := b.Dims()

	world := b.WorldVector.Data().([]float32)
	rotation := b.RotationDelta.Data().([]float32)
	gripper := b.GripperClosedness.Data().([]float32)

	if len(world) != batchSize*timeSteps*3 || len(rotation) != batchSize*timeSteps*3 ||
		len(gripper) != batchSize*timeSteps {
		return nil, errors.Errorf("batch action tensors do not cover %d dims per step", s.NumDims())
	}

	tokens := make([]int, 0, batchSize*timeSteps*s.NumDims())
	for n := 0; n < batchSize*timeSteps; n++ {
		vals := flatten(world[n*3:n*3+3], rotation[n*3:n*3+3], gripper[n:n+1])
		for i, d := range s.Dims {
			tokens = append(tokens, d.Tokenize(vals[i]))
		}
	}
	return tokens, nil
}

// DetokenizeAction rebuilds a continuous action from one bin per dimension.
func (s ActionSpace) DetokenizeAction(tokens []int) (trajectory.Action, error) {
	if len(tokens) != s.NumDims() {
		return trajectory.Action{}, errors.Errorf("got %d tokens for %d action dims", len(tokens), s.NumDims())
	}

	vals := make([]float32, s.NumDims())
	for i, d := range s.Dims {
		if tokens[i] < 0 || tokens[i] >= d.Bins {
			return trajectory.Action{}, errors.Errorf("token %d out of range for %s", tokens[i], d.Name)
		}
		vals[i] = d.Detokenize(tokens[i])
	}

	return trajectory.Action{
		WorldVector:       tensor.New(tensor.WithShape(3), tensor.WithBacking(vals[0:3])),
		RotationDelta:     tensor.New(tensor.WithShape(3), tensor.WithBacking(vals[3:6])),
		GripperClosedness: tensor.New(tensor.WithShape(1), tensor.WithBacking(vals[6:7])),
	}, nil
}
