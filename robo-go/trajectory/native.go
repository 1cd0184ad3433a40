package trajectory

// NativeObservation is the observation group of a step as stored by a source
// collection, before harmonization.
type NativeObservation struct {
	// ImagePNG is the PNG-encoded camera frame at whatever resolution the source
	// robot recorded.
	ImagePNG []byte `json:"image_png"`
	// NaturalLanguageEmbedding is the instruction embedding vector.
	NaturalLanguageEmbedding []float32 `json:"natural_language_embedding"`
}

// NativeStep is one time-step record in a source's native schema. The action group is a
// map of source-specific field names (world_vector, rotation_delta, terminate_episode,
// open_gripper, gripper_closedness_action, ...) to vectors; which fields exist and how
// they decompose differs per source, which is why every source registers its own mapper.
type NativeStep struct {
	Observation NativeObservation    `json:"observation"`
	Action      map[string][]float32 `json:"action"`

	IsFirst    bool `json:"is_first"`
	IsLast     bool `json:"is_last"`
	IsTerminal bool `json:"is_terminal"`
}
