package trajectory

import (
	"gorgonia.org/tensor"
)

// Observation is the visual + language half of a canonical step.
type Observation struct {
	// Image is uint8 in channel-first layout (3, TargetHeight, TargetWidth).
	Image *tensor.Dense
	// LangEmbedding is the float32 instruction embedding (EmbeddingSize,).
	LangEmbedding *tensor.Dense
}

// Action is the robot command half of a canonical step, decomposed into the three
// semantic groups shared by all sources.
type Action struct {
	// WorldVector is the float32 translation command (3,).
	WorldVector *tensor.Dense
	// RotationDelta is the float32 rotation (or source-specific substitute) command (3,).
	RotationDelta *tensor.Dense
	// GripperClosedness is the float32 terminal/gripper command (1,).
	GripperClosedness *tensor.Dense
}

// Step is one time-step record after harmonization into the canonical schema.
type Step struct {
	Observation Observation
	Action      Action

	IsFirst    bool
	IsLast     bool
	IsTerminal bool
}

// Spec returns the per-field tensor spec of this step.
func (s Step) Spec() StepSpec {
	return StepSpec{
		Image:             SpecOf(s.Observation.Image),
		LangEmbedding:     SpecOf(s.Observation.LangEmbedding),
		WorldVector:       SpecOf(s.Action.WorldVector),
		RotationDelta:     SpecOf(s.Action.RotationDelta),
		GripperClosedness: SpecOf(s.Action.GripperClosedness),
	}
}

// Window is a fixed-length sub-trajectory of consecutive steps from a single episode.
type Window struct {
	// Source is the name of the dataset the episode was drawn from.
	Source string
	Steps  []Step
}

// Len returns the number of time steps in the window.
func (w Window) Len() int {
	return len(w.Steps)
}
