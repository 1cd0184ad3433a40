package policy

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/robomosaic/robomosaic/robo-go/trajectory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func testStep(world, rotation, gripper float32) trajectory.Step {
	vec := func(vals ...float32) *tensor.Dense {
		return tensor.New(tensor.WithShape(len(vals)), tensor.WithBacking(vals))
	}
	img := make([]uint8, 3*trajectory.TargetHeight*trajectory.TargetWidth)
	for i := range img {
		img[i] = uint8(i % 251)
	}
	return trajectory.Step{
		Observation: trajectory.Observation{
			Image: tensor.New(
				tensor.WithShape(3, trajectory.TargetHeight, trajectory.TargetWidth),
				tensor.WithBacking(img)),
			LangEmbedding: tensor.New(
				tensor.WithShape(trajectory.EmbeddingSize),
				tensor.WithBacking(make([]float32, trajectory.EmbeddingSize))),
		},
		Action: trajectory.Action{
			WorldVector:       vec(world, world, world),
			RotationDelta:     vec(rotation, rotation, rotation),
			GripperClosedness: vec(gripper),
		},
	}
}

func testBatch(t *testing.T, batchSize, timeSteps int) trajectory.Batch {
	var windows []trajectory.Window
	for b := 0; b < batchSize; b++ {
		w := trajectory.Window{Source: "toto"}
		for ts := 0; ts < timeSteps; ts++ {
			w.Steps = append(w.Steps, testStep(0.1*float32(b), -0.5, 1))
		}
		windows = append(windows, w)
	}
	batch, err := trajectory.NewBatch(windows)
	require.NoError(t, err)
	return batch
}

func smallConfig() NetworkConfig {
	return NetworkConfig{
		TokenEmbeddingSize: 16,
		HiddenSize:         16,
		ImagePatchRows:     2,
		ImagePatchCols:     2,
		Seed:               3407,
	}
}

func TestDimTokenizeRoundTrip(t *testing.T) {
	d := Dim{Name: "x", Low: -1, High: 1, Bins: VocabSize}

	assert.Equal(t, 0, d.Tokenize(-1))
	assert.Equal(t, 0, d.Tokenize(-5))
	assert.Equal(t, VocabSize-1, d.Tokenize(1))
	assert.Equal(t, VocabSize-1, d.Tokenize(5))

	for _, v := range []float32{-0.99, -0.3, 0, 0.42, 0.99} {
		bin := d.Tokenize(v)
		back := d.Detokenize(bin)
		assert.InDelta(t, float64(v), float64(back), 2.0/VocabSize)
	}
}

func TestDimTokenizeDiscrete(t *testing.T) {
	d := DefaultActionSpace().Dims[6]
	require.True(t, d.Discrete)

	// open gripper (0) and closed gripper (1) keep their raw indices
	assert.Equal(t, 0, d.Tokenize(0))
	assert.Equal(t, 1, d.Tokenize(1))
	assert.Equal(t, 0, d.Tokenize(-1))
	assert.Equal(t, 1, d.Tokenize(5))

	assert.Equal(t, float32(0), d.Detokenize(0))
	assert.Equal(t, float32(1), d.Detokenize(1))
}

func TestDefaultActionSpace(t *testing.T) {
	space := DefaultActionSpace()
	require.Equal(t, 7, space.NumDims())
	assert.Equal(t, "gripper_closedness", space.Dims[6].Name)
	assert.Equal(t, 2, space.Dims[6].Bins)
	assert.InDelta(t, math.Pi, float64(space.Dims[3].High), 1e-6)
}

func TestTokenizeBatch(t *testing.T) {
	space := DefaultActionSpace()
	batch := testBatch(t, 2, 3)

	tokens, err := space.TokenizeBatch(batch)
	require.NoError(t, err)
	require.Len(t, tokens, 2*3*7)

	// row 0 has world value 0, the midpoint bin
	assert.Equal(t, VocabSize/2, tokens[0])
	// gripper value 1 lands in the closed bin
	assert.Equal(t, 1, tokens[6])
}

func TestDetokenizeAction(t *testing.T) {
	space := DefaultActionSpace()

	tokens := []int{128, 128, 128, 128, 128, 128, 1}
	action, err := space.DetokenizeAction(tokens)
	require.NoError(t, err)
	assert.True(t, action.WorldVector.Shape().Eq(tensor.Shape{3}))
	assert.True(t, action.RotationDelta.Shape().Eq(tensor.Shape{3}))
	assert.True(t, action.GripperClosedness.Shape().Eq(tensor.Shape{1}))

	_, err = space.DetokenizeAction([]int{1, 2})
	require.Error(t, err)

	tokens[0] = VocabSize
	_, err = space.DetokenizeAction(tokens)
	require.Error(t, err)
}

func TestNetwork_Forward(t *testing.T) {
	net := NewNetwork(smallConfig(), DefaultActionSpace())
	batch := testBatch(t, 2, 3)

	res, err := net.Forward(batch, net.ZeroState(2))
	require.NoError(t, err)

	// an untrained net scores near uniform: mostly 256-way, one 2-way dimension
	assert.Greater(t, res.Loss(), 1.0)
	assert.Less(t, res.Loss(), 10.0)
	assert.Len(t, res.FinalState().h, 2)

	_, err = net.Forward(batch, net.ZeroState(3))
	require.Error(t, err)
}

func TestNetwork_ForwardIsDeterministic(t *testing.T) {
	batch := testBatch(t, 1, 2)

	a := NewNetwork(smallConfig(), DefaultActionSpace())
	b := NewNetwork(smallConfig(), DefaultActionSpace())

	ra, err := a.Forward(batch, a.ZeroState(1))
	require.NoError(t, err)
	rb, err := b.Forward(batch, b.ZeroState(1))
	require.NoError(t, err)
	assert.Equal(t, ra.Loss(), rb.Loss())
}

func TestNetwork_TrainingReducesLoss(t *testing.T) {
	net := NewNetwork(smallConfig(), DefaultActionSpace())
	batch := testBatch(t, 2, 2)

	first, err := net.Forward(batch, net.ZeroState(2))
	require.NoError(t, err)

	loss := first.Loss()
	const lr = 0.5
	for i := 0; i < 60; i++ {
		res, err := net.Forward(batch, net.ZeroState(2))
		require.NoError(t, err)
		loss = res.Loss()

		net.ZeroGrad()
		net.Backward(res)
		for _, p := range net.Params() {
			for j := range p.Data {
				p.Data[j] -= lr * p.Grad[j]
			}
		}
	}

	assert.Less(t, loss, first.Loss())
}

// finite differences against the backward pass on a handful of coordinates.
func TestNetwork_GradientCheck(t *testing.T) {
	net := NewNetwork(smallConfig(), DefaultActionSpace())
	batch := testBatch(t, 1, 2)

	res, err := net.Forward(batch, net.ZeroState(1))
	require.NoError(t, err)
	net.ZeroGrad()
	net.Backward(res)

	lossAt := func() float64 {
		r, err := net.Forward(batch, net.ZeroState(1))
		require.NoError(t, err)
		return r.Loss()
	}

	check := func(p *Param, j int) {
		const eps = 1e-2
		orig := p.Data[j]
		p.Data[j] = orig + eps
		up := lossAt()
		p.Data[j] = orig - eps
		down := lossAt()
		p.Data[j] = orig

		numeric := (up - down) / (2 * eps)
		analytic := float64(p.Grad[j])
		tol := math.Max(5e-4, 0.2*math.Abs(analytic))
		assert.InDelta(t, numeric, analytic, tol, "param %s[%d]", p.Name, j)
	}

	for _, p := range net.Params() {
		switch p.Name {
		case "rnn_b", "encoder_b", "head_gripper_closedness_b":
			check(p, 0)
			check(p, len(p.Data)/2)
		}
	}
}

func TestNetwork_Act(t *testing.T) {
	net := NewNetwork(smallConfig(), DefaultActionSpace())
	batch := testBatch(t, 2, 3)

	ts, err := batch.SingleTimestep(0)
	require.NoError(t, err)

	state := net.ZeroState(2)
	actions, next, err := net.Act(ts, state)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.True(t, actions[0].WorldVector.Shape().Eq(tensor.Shape{3}))

	// the hidden state advanced
	var moved bool
	for _, v := range next.h[0] {
		if v != 0 {
			moved = true
		}
	}
	assert.True(t, moved)
	// and the input state was left alone
	for _, v := range state.h[0] {
		assert.Equal(t, float32(0), v)
	}
}

func TestNetwork_StateDictRoundTrip(t *testing.T) {
	a := NewNetwork(smallConfig(), DefaultActionSpace())

	other := smallConfig()
	other.Seed = 99
	b := NewNetwork(other, DefaultActionSpace())

	buf, err := json.Marshal(a.StateDict())
	require.NoError(t, err)
	var sd map[string][]float32
	require.NoError(t, json.Unmarshal(buf, &sd))
	require.NoError(t, b.LoadStateDict(sd))

	batch := testBatch(t, 1, 2)
	ra, err := a.Forward(batch, a.ZeroState(1))
	require.NoError(t, err)
	rb, err := b.Forward(batch, b.ZeroState(1))
	require.NoError(t, err)
	assert.Equal(t, ra.Loss(), rb.Loss())
}

func TestNetwork_LoadStateDictMismatch(t *testing.T) {
	net := NewNetwork(smallConfig(), DefaultActionSpace())

	err := net.LoadStateDict(map[string][]float32{"encoder_w": {1}})
	require.Error(t, err)

	sd := net.StateDict()
	sd["encoder_w"] = sd["encoder_w"][:3]
	err = net.LoadStateDict(sd)
	require.Error(t, err)
}
