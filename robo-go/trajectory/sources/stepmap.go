package sources

import (
	"github.com/robomosaic/robomosaic/robo-go/trajectory"
	"github.com/robomosaic/robomosaic/robo-go/trajectory/vision"
	"github.com/robomosaic/robomosaic/robo-golib/errors"
	"gorgonia.org/tensor"
)

// mapObservation normalizes the observation group, which is shared by all sources:
// decode the frame, resize with padding to the target resolution, reorder to
// channel-first, and carry the instruction embedding through.
func mapObservation(native trajectory.NativeObservation) (trajectory.Observation, error) {
	img, err := vision.NormalizeFrame(native.ImagePNG, trajectory.TargetWidth, trajectory.TargetHeight)
	if err != nil {
		return trajectory.Observation{}, err
	}

	if len(native.NaturalLanguageEmbedding) != trajectory.EmbeddingSize {
		return trajectory.Observation{}, errors.Errorf(
			"natural_language_embedding has length %d, expected %d",
			len(native.NaturalLanguageEmbedding), trajectory.EmbeddingSize)
	}
	emb := make([]float32, trajectory.EmbeddingSize)
	copy(emb, native.NaturalLanguageEmbedding)

	return trajectory.Observation{
		Image:         img,
		LangEmbedding: tensor.New(tensor.WithShape(trajectory.EmbeddingSize), tensor.WithBacking(emb)),
	}, nil
}

// actionField pulls a named native action vector and checks its length.
func actionField(s trajectory.NativeStep, name string, length int) (*tensor.Dense, error) {
	vals, ok := s.Action[name]
	if !ok {
		return nil, errors.Errorf("native step has no action field %q", name)
	}
	if len(vals) != length {
		return nil, errors.Errorf("native action field %q has length %d, expected %d", name, len(vals), length)
	}
	out := make([]float32, length)
	copy(out, vals)
	return tensor.New(tensor.WithShape(length), tensor.WithBacking(out)), nil
}

// scalarActionField pulls a scalar native action field and reshapes it to (1,).
func scalarActionField(s trajectory.NativeStep, name string) (*tensor.Dense, error) {
	vals, ok := s.Action[name]
	if !ok {
		return nil, errors.Errorf("native step has no action field %q", name)
	}
	if len(vals) != 1 {
		return nil, errors.Errorf("native action field %q has length %d, expected a scalar", name, len(vals))
	}
	return tensor.New(tensor.WithShape(1), tensor.WithBacking([]float32{vals[0]})), nil
}

func mapStep(s trajectory.NativeStep, world, rotation, gripper *tensor.Dense) (trajectory.Step, error) {
	obs, err := mapObservation(s.Observation)
	if err != nil {
		return trajectory.Step{}, err
	}

	return trajectory.Step{
		Observation: obs,
		Action: trajectory.Action{
			WorldVector:       world,
			RotationDelta:     rotation,
			GripperClosedness: gripper,
		},
		IsFirst:    s.IsFirst,
		IsLast:     s.IsLast,
		IsTerminal: s.IsTerminal,
	}, nil
}

// TotoStepMap harmonizes steps recorded by the toto arm.
func TotoStepMap(s trajectory.NativeStep) (trajectory.Step, error) {
	world, err := actionField(s, "world_vector", 3)
	if err != nil {
		return trajectory.Step{}, errors.Wrapf(err, "toto")
	}
	rotation, err := actionField(s, "rotation_delta", 3)
	if err != nil {
		return trajectory.Step{}, errors.Wrapf(err, "toto")
	}
	gripper, err := scalarActionField(s, "open_gripper")
	if err != nil {
		return trajectory.Step{}, errors.Wrapf(err, "toto")
	}
	return mapStep(s, world, rotation, gripper)
}

// BridgeStepMap harmonizes steps from the bridge collection.
func BridgeStepMap(s trajectory.NativeStep) (trajectory.Step, error) {
	world, err := actionField(s, "world_vector", 3)
	if err != nil {
		return trajectory.Step{}, errors.Wrapf(err, "bridge")
	}
	rotation, err := actionField(s, "rotation_delta", 3)
	if err != nil {
		return trajectory.Step{}, errors.Wrapf(err, "bridge")
	}
	gripper, err := scalarActionField(s, "open_gripper")
	if err != nil {
		return trajectory.Step{}, errors.Wrapf(err, "bridge")
	}
	return mapStep(s, world, rotation, gripper)
}

// JacoPlayStepMap harmonizes steps from the jaco arm. The jaco collection has no
// rotation command; its one-hot terminate_episode vector fills the rotation slot and
// the gripper slot carries gripper_closedness_action.
func JacoPlayStepMap(s trajectory.NativeStep) (trajectory.Step, error) {
	world, err := actionField(s, "world_vector", 3)
	if err != nil {
		return trajectory.Step{}, errors.Wrapf(err, "jaco_play")
	}
	rotation, err := actionField(s, "terminate_episode", 3)
	if err != nil {
		return trajectory.Step{}, errors.Wrapf(err, "jaco_play")
	}
	gripper, err := scalarActionField(s, "gripper_closedness_action")
	if err != nil {
		return trajectory.Step{}, errors.Wrapf(err, "jaco_play")
	}
	return mapStep(s, world, rotation, gripper)
}

// BerkeleyCableRoutingStepMap harmonizes steps from the berkeley cable-routing
// collection. Its scalar terminate_episode signal is reshaped into the (1,) gripper slot.
func BerkeleyCableRoutingStepMap(s trajectory.NativeStep) (trajectory.Step, error) {
	world, err := actionField(s, "world_vector", 3)
	if err != nil {
		return trajectory.Step{}, errors.Wrapf(err, "berkeley_cable_routing")
	}
	rotation, err := actionField(s, "rotation_delta", 3)
	if err != nil {
		return trajectory.Step{}, errors.Wrapf(err, "berkeley_cable_routing")
	}
	gripper, err := scalarActionField(s, "terminate_episode")
	if err != nil {
		return trajectory.Step{}, errors.Wrapf(err, "berkeley_cable_routing")
	}
	return mapStep(s, world, rotation, gripper)
}
