package trajectory

import (
	"fmt"

	"github.com/robomosaic/robomosaic/robo-golib/errors"
	"gorgonia.org/tensor"
)

// Canonical observation geometry. Every source image is resized (with padding) to this
// resolution before merging, so that all sources produce identically shaped steps.
const (
	TargetWidth  = 160
	TargetHeight = 128

	// EmbeddingSize is the length of the natural-language instruction embedding.
	EmbeddingSize = 512
)

// TensorSpec describes the shape and dtype of a single step field.
type TensorSpec struct {
	Shape tensor.Shape
	Dtype tensor.Dtype
}

// Equal returns true if the two specs have the same shape and dtype.
func (s TensorSpec) Equal(o TensorSpec) bool {
	return s.Dtype == o.Dtype && s.Shape.Eq(o.Shape)
}

func (s TensorSpec) String() string {
	return fmt.Sprintf("%v%v", s.Dtype, s.Shape)
}

// SpecOf returns the TensorSpec of the provided tensor.
func SpecOf(t *tensor.Dense) TensorSpec {
	return TensorSpec{Shape: t.Shape().Clone(), Dtype: t.Dtype()}
}

// StepSpec describes the full layout of a canonical step: one spec per tensor field.
type StepSpec struct {
	Image             TensorSpec
	LangEmbedding     TensorSpec
	WorldVector       TensorSpec
	RotationDelta     TensorSpec
	GripperClosedness TensorSpec
}

// CanonicalSpec is the layout all sources must map into before merging.
func CanonicalSpec() StepSpec {
	return StepSpec{
		Image:             TensorSpec{Shape: tensor.Shape{3, TargetHeight, TargetWidth}, Dtype: tensor.Uint8},
		LangEmbedding:     TensorSpec{Shape: tensor.Shape{EmbeddingSize}, Dtype: tensor.Float32},
		WorldVector:       TensorSpec{Shape: tensor.Shape{3}, Dtype: tensor.Float32},
		RotationDelta:     TensorSpec{Shape: tensor.Shape{3}, Dtype: tensor.Float32},
		GripperClosedness: TensorSpec{Shape: tensor.Shape{1}, Dtype: tensor.Float32},
	}
}

// Equal returns true if every field spec matches.
func (s StepSpec) Equal(o StepSpec) bool {
	return s.Image.Equal(o.Image) &&
		s.LangEmbedding.Equal(o.LangEmbedding) &&
		s.WorldVector.Equal(o.WorldVector) &&
		s.RotationDelta.Equal(o.RotationDelta) &&
		s.GripperClosedness.Equal(o.GripperClosedness)
}

func (s StepSpec) String() string {
	return fmt.Sprintf("image=%v lang_embedding=%v world_vector=%v rotation_delta=%v gripper_closedness=%v",
		s.Image, s.LangEmbedding, s.WorldVector, s.RotationDelta, s.GripperClosedness)
}

// Validate checks the given step against this spec, field by field.
func (s StepSpec) Validate(step Step) error {
	checks := []struct {
		name string
		want TensorSpec
		got  *tensor.Dense
	}{
		{"observation/image", s.Image, step.Observation.Image},
		{"observation/natural_language_embedding", s.LangEmbedding, step.Observation.LangEmbedding},
		{"action/world_vector", s.WorldVector, step.Action.WorldVector},
		{"action/rotation_delta", s.RotationDelta, step.Action.RotationDelta},
		{"action/gripper_closedness", s.GripperClosedness, step.Action.GripperClosedness},
	}

	for _, c := range checks {
		if c.got == nil {
			return errors.Errorf("step field %s is missing", c.name)
		}
		if got := SpecOf(c.got); !got.Equal(c.want) {
			return errors.Errorf("step field %s has spec %v, expected %v", c.name, got, c.want)
		}
	}
	return nil
}
