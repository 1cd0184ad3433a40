package trajectory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func TestCanonicalSpec(t *testing.T) {
	spec := CanonicalSpec()
	assert.True(t, spec.Image.Shape.Eq(tensor.Shape{3, 128, 160}))
	assert.Equal(t, tensor.Uint8, spec.Image.Dtype)
	assert.True(t, spec.WorldVector.Shape.Eq(tensor.Shape{3}))
	assert.True(t, spec.RotationDelta.Shape.Eq(tensor.Shape{3}))
	assert.True(t, spec.GripperClosedness.Shape.Eq(tensor.Shape{1}))
}

func TestStepSpecEqual(t *testing.T) {
	step := canonicalStep(0, 0)
	require.True(t, CanonicalSpec().Equal(step.Spec()))

	other := step.Spec()
	other.WorldVector.Shape = tensor.Shape{4}
	assert.False(t, CanonicalSpec().Equal(other))

	wrongType := step.Spec()
	wrongType.LangEmbedding.Dtype = tensor.Float64
	assert.False(t, CanonicalSpec().Equal(wrongType))
}

func TestValidate(t *testing.T) {
	step := canonicalStep(0, 0)
	require.NoError(t, CanonicalSpec().Validate(step))

	step.Action.WorldVector = tensor.New(tensor.WithShape(2), tensor.WithBacking([]float32{1, 2}))
	err := CanonicalSpec().Validate(step)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "world_vector")
}

func TestValidate_MissingField(t *testing.T) {
	step := canonicalStep(0, 0)
	step.Observation.LangEmbedding = nil
	require.Error(t, CanonicalSpec().Validate(step))
}
