package train

import (
	"compress/gzip"
	"encoding/json"

	"github.com/robomosaic/robomosaic/robo-go/policy/optim"
	"github.com/robomosaic/robomosaic/robo-golib/errors"
	"github.com/robomosaic/robomosaic/robo-golib/fileutil"
)

// Checkpoint bundles everything a resumed run needs to continue exactly where this
// one stopped. It is written as gzipped JSON.
type Checkpoint struct {
	ModelStateDict     map[string][]float32 `json:"model_state_dict"`
	OptimizerStateDict optim.AdamWState     `json:"optimizer_state_dict"`
	SchedulerStateDict optim.SchedulerState `json:"scheduler_state_dict"`
	Epoch              int                  `json:"epoch"`
}

// SaveCheckpoint writes the bundle to a local or S3 path.
func SaveCheckpoint(path string, c Checkpoint) error {
	w, err := fileutil.NewBufferedWriter(path)
	if err != nil {
		return errors.Wrapf(err, "error opening checkpoint %s", path)
	}

	gz := gzip.NewWriter(w)
	if err := json.NewEncoder(gz).Encode(c); err != nil {
		w.Close()
		return errors.Wrapf(err, "error encoding checkpoint %s", path)
	}
	if err := gz.Close(); err != nil {
		w.Close()
		return errors.Wrapf(err, "error compressing checkpoint %s", path)
	}
	return w.Close()
}

// LoadCheckpoint reads a bundle back. A missing or malformed checkpoint is an error;
// callers treat it as fatal.
func LoadCheckpoint(path string) (Checkpoint, error) {
	r, err := fileutil.NewCachedReader(path)
	if err != nil {
		return Checkpoint{}, errors.Wrapf(err, "error opening checkpoint %s", path)
	}
	defer r.Close()

	gz, err := gzip.NewReader(r)
	if err != nil {
		return Checkpoint{}, errors.Wrapf(err, "error decompressing checkpoint %s", path)
	}
	defer gz.Close()

	var c Checkpoint
	if err := json.NewDecoder(gz).Decode(&c); err != nil {
		return Checkpoint{}, errors.Wrapf(err, "error decoding checkpoint %s", path)
	}
	return c, nil
}
