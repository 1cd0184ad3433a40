// Package train runs the supervised policy training loop: epochs over interleaved
// trajectory batches, AdamW updates under a cosine warm-restart schedule, scalar
// metric logging, and periodic checkpoints that training can resume from.
package train

import (
	"encoding/json"

	"github.com/robomosaic/robomosaic/robo-go/policy"
	"github.com/robomosaic/robomosaic/robo-go/policy/optim"
	"github.com/robomosaic/robomosaic/robo-golib/envutil"
	"github.com/robomosaic/robomosaic/robo-golib/errors"
	"github.com/robomosaic/robomosaic/robo-golib/fileutil"
)

// DatasetConfig names one source collection and its sampling weight.
type DatasetConfig struct {
	Name       string  `json:"name"`
	BuilderDir string  `json:"builder_dir"`
	Weight     float64 `json:"weight"`
}

// DistributedConfig describes this process's place in a multi-process run.
// Coordinator is the barrier service endpoint; empty means single-process.
type DistributedConfig struct {
	Rank        int    `json:"rank"`
	WorldSize   int    `json:"world_size"`
	Coordinator string `json:"coordinator"`
}

// WithEnv lets ROBO_RANK and ROBO_WORLD_SIZE override the config, so one config
// file can serve every replica of a run.
func (d DistributedConfig) WithEnv() DistributedConfig {
	d.Rank = envutil.GetenvDefaultInt("ROBO_RANK", d.Rank)
	d.WorldSize = envutil.GetenvDefaultInt("ROBO_WORLD_SIZE", d.WorldSize)
	return d
}

// IsMain reports whether this process is the elected writer.
func (d DistributedConfig) IsMain() bool {
	return d.Rank == 0
}

// Config is the run configuration document, one JSON file read once at startup. It
// may live on local disk or S3.
type Config struct {
	Mode string `json:"mode"`

	BatchSize          int     `json:"batch_size"`
	Epochs             int     `json:"epochs"`
	StepsPerEpoch      int     `json:"steps_per_epoch"`
	LR                 float64 `json:"lr"`
	WeightDecay        float64 `json:"weight_decay"`
	TimeSequenceLength int     `json:"time_sequence_length"`
	ValInterval        int     `json:"val_interval"`
	Seed               int64   `json:"seed"`

	Resume               bool   `json:"resume"`
	ResumeFromCheckpoint string `json:"resume_from_checkpoint"`
	LogDir               string `json:"log_dir"`

	Scheduler optim.SchedulerOptions `json:"scheduler_configs"`
	Network   policy.NetworkConfig   `json:"network_configs"`

	Datasets    []DatasetConfig   `json:"datasets"`
	Distributed DistributedConfig `json:"distributed"`
}

// LoadConfig reads and validates a config document.
func LoadConfig(path string) (Config, error) {
	r, err := fileutil.NewCachedReader(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "error opening config %s", path)
	}
	defer r.Close()

	var cfg Config
	if err := json.NewDecoder(r).Decode(&cfg); err != nil {
		return Config{}, errors.Wrapf(err, "error decoding config %s", path)
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.Mode == "" {
		c.Mode = "train"
	}
	if c.ValInterval == 0 {
		c.ValInterval = 1
	}
	if c.StepsPerEpoch == 0 {
		c.StepsPerEpoch = 100
	}
	if c.Seed == 0 {
		c.Seed = 3407
	}
	if c.Scheduler.T0 == 0 {
		c.Scheduler.T0 = 10
	}
	if c.Scheduler.TMult == 0 {
		c.Scheduler.TMult = 2
	}
	if c.Distributed.WorldSize == 0 {
		c.Distributed.WorldSize = 1
	}
	return c
}

// Validate fails fast on an unusable config.
func (c Config) Validate() error {
	if c.Mode != "train" && c.Mode != "evaluate" {
		return errors.Errorf("unknown mode %q", c.Mode)
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.Epochs <= 0 {
		return errors.Errorf("epochs must be positive, got %d", c.Epochs)
	}
	if c.LR <= 0 {
		return errors.Errorf("lr must be positive, got %f", c.LR)
	}
	if c.TimeSequenceLength <= 0 {
		return errors.Errorf("time_sequence_length must be positive, got %d", c.TimeSequenceLength)
	}
	if len(c.Datasets) == 0 {
		return errors.New("at least one dataset is required")
	}
	for _, d := range c.Datasets {
		if d.Name == "" || d.BuilderDir == "" {
			return errors.Errorf("dataset entries need both name and builder_dir, got %+v", d)
		}
	}
	if c.Resume && c.ResumeFromCheckpoint == "" {
		return errors.New("resume is set but resume_from_checkpoint is empty")
	}
	if c.Mode == "evaluate" && c.ResumeFromCheckpoint == "" {
		return errors.New("evaluate mode requires resume_from_checkpoint")
	}
	if c.LogDir == "" {
		return errors.New("log_dir is required")
	}
	return nil
}

// Compatible reports whether a checkpoint produced under c can be loaded into a run
// configured by other: everything that shapes the model or the meaning of its state
// must match. Schedule and logging knobs may differ.
func (c Config) Compatible(other Config) error {
	if c.Network != other.Network {
		return errors.Errorf("network_configs differ: %+v vs %+v", c.Network, other.Network)
	}
	if c.TimeSequenceLength != other.TimeSequenceLength {
		return errors.Errorf("time_sequence_length differs: %d vs %d",
			c.TimeSequenceLength, other.TimeSequenceLength)
	}
	return nil
}
