package trajectory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

// canonicalStep builds a spec-conformant step whose action values encode (id, ts) so
// stacking order can be asserted.
func canonicalStep(id, ts int) Step {
	f := func(n int, fill float32) *tensor.Dense {
		data := make([]float32, n)
		for i := range data {
			data[i] = fill
		}
		return tensor.New(tensor.WithShape(n), tensor.WithBacking(data))
	}

	return Step{
		Observation: Observation{
			Image:         tensor.New(tensor.WithShape(3, TargetHeight, TargetWidth), tensor.WithBacking(make([]uint8, 3*TargetHeight*TargetWidth))),
			LangEmbedding: f(EmbeddingSize, 0),
		},
		Action: Action{
			WorldVector:       f(3, float32(id*100+ts)),
			RotationDelta:     f(3, float32(id)),
			GripperClosedness: f(1, float32(ts)),
		},
		IsFirst: ts == 0,
	}
}

func canonicalWindow(source string, id, steps int) Window {
	w := Window{Source: source}
	for ts := 0; ts < steps; ts++ {
		w.Steps = append(w.Steps, canonicalStep(id, ts))
	}
	return w
}

func TestNewBatch_Shapes(t *testing.T) {
	windows := []Window{
		canonicalWindow("toto", 0, 6),
		canonicalWindow("bridge", 1, 6),
	}

	b, err := NewBatch(windows)
	require.NoError(t, err)

	batchSize, timeSteps := b.Dims()
	assert.Equal(t, 2, batchSize)
	assert.Equal(t, 6, timeSteps)

	assert.True(t, b.Image.Shape().Eq(tensor.Shape{2, 6, 3, TargetHeight, TargetWidth}))
	assert.True(t, b.LangEmbedding.Shape().Eq(tensor.Shape{2, 6, EmbeddingSize}))
	assert.True(t, b.WorldVector.Shape().Eq(tensor.Shape{2, 6, 3}))
	assert.True(t, b.RotationDelta.Shape().Eq(tensor.Shape{2, 6, 3}))
	assert.True(t, b.GripperClosedness.Shape().Eq(tensor.Shape{2, 6, 1}))
	assert.True(t, b.IsFirst.Shape().Eq(tensor.Shape{2, 6}))
	assert.Equal(t, []string{"toto", "bridge"}, b.Sources)
}

func TestNewBatch_RaggedWindows(t *testing.T) {
	_, err := NewBatch([]Window{
		canonicalWindow("toto", 0, 6),
		canonicalWindow("bridge", 1, 4),
	})
	require.Error(t, err)
}

func TestNewBatch_Empty(t *testing.T) {
	_, err := NewBatch(nil)
	require.Error(t, err)
}

func TestSingleTimestep(t *testing.T) {
	const timeSteps = 5
	b, err := NewBatch([]Window{
		canonicalWindow("toto", 0, timeSteps),
		canonicalWindow("bridge", 1, timeSteps),
		canonicalWindow("jaco_play", 2, timeSteps),
	})
	require.NoError(t, err)

	for i := 0; i < timeSteps; i++ {
		ts, err := b.SingleTimestep(i)
		require.NoError(t, err)

		// time axis removed, all other axes unchanged
		assert.True(t, ts.Image.Shape().Eq(tensor.Shape{3, 3, TargetHeight, TargetWidth}))
		assert.True(t, ts.LangEmbedding.Shape().Eq(tensor.Shape{3, EmbeddingSize}))
		assert.True(t, ts.WorldVector.Shape().Eq(tensor.Shape{3, 3}))
		assert.True(t, ts.RotationDelta.Shape().Eq(tensor.Shape{3, 3}))
		assert.True(t, ts.GripperClosedness.Shape().Eq(tensor.Shape{3, 1}))
		assert.True(t, ts.IsFirst.Shape().Eq(tensor.Shape{3}))

		// values come from the right (window, timestep) cell
		world := ts.WorldVector.Data().([]float32)
		for id := 0; id < 3; id++ {
			assert.Equal(t, float32(id*100+i), world[id*3])
		}
		gripper := ts.GripperClosedness.Data().([]float32)
		assert.Equal(t, float32(i), gripper[0])
	}
}

func TestSingleTimestep_OutOfRange(t *testing.T) {
	b, err := NewBatch([]Window{canonicalWindow("toto", 0, 4)})
	require.NoError(t, err)

	_, err = b.SingleTimestep(-1)
	require.Error(t, err)
	_, err = b.SingleTimestep(4)
	require.Error(t, err)
}
