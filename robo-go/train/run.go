package train

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/robomosaic/robomosaic/robo-golib/awsutil"
	"github.com/robomosaic/robomosaic/robo-golib/errors"
	"github.com/robomosaic/robomosaic/robo-golib/fileutil"
)

// Run is a training run's directory layout: checkpoints and the frozen config under
// Dir, scalar metrics under TensorboardDir.
type Run struct {
	ID             string
	Dir            string
	TensorboardDir string
}

// ConfigPath is the frozen copy of the run's config.
func (r Run) ConfigPath() string {
	return fileutil.Join(r.Dir, r.ID+".json")
}

// CheckpointPath names the checkpoint written after the given epoch.
func (r Run) CheckpointPath(epoch int) string {
	return fileutil.Join(r.Dir, fmt.Sprintf("%d-checkpoint.pth", epoch))
}

// NewRun lays out a fresh run under cfg.LogDir, named by the current unix time, and
// freezes the config into it. Only the elected writer should call this; other ranks
// attach with AttachRun.
func NewRun(cfg Config) (Run, error) {
	return newRunWithID(cfg, strconv.FormatInt(time.Now().Unix(), 10))
}

func newRunWithID(cfg Config, id string) (Run, error) {
	run := AttachRun(cfg.LogDir, id)

	for _, dir := range []string{run.Dir, run.TensorboardDir} {
		if awsutil.IsS3URI(dir) {
			continue
		}
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return Run{}, errors.Wrapf(err, "error creating run dir %s", dir)
		}
	}

	w, err := fileutil.NewBufferedWriter(run.ConfigPath())
	if err != nil {
		return Run{}, errors.Wrapf(err, "error freezing run config")
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		w.Close()
		return Run{}, errors.Wrapf(err, "error encoding run config")
	}
	if err := w.Close(); err != nil {
		return Run{}, errors.Wrapf(err, "error writing run config")
	}

	return run, nil
}

// AttachRun points at an existing run's layout without creating anything.
func AttachRun(logDir, id string) Run {
	return Run{
		ID:             id,
		Dir:            fileutil.Join(logDir, id),
		TensorboardDir: fileutil.Join(logDir, "tensorboard_logs", id),
	}
}

// LoadRunConfig reads the frozen config of an existing run.
func LoadRunConfig(run Run) (Config, error) {
	r, err := fileutil.NewCachedReader(run.ConfigPath())
	if err != nil {
		return Config{}, errors.Wrapf(err, "error opening frozen config for run %s", run.ID)
	}
	defer r.Close()

	var cfg Config
	if err := json.NewDecoder(r).Decode(&cfg); err != nil {
		return Config{}, errors.Wrapf(err, "error decoding frozen config for run %s", run.ID)
	}
	return cfg, nil
}
