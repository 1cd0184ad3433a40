package train

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/robomosaic/robomosaic/robo-go/dataset"
	"github.com/robomosaic/robomosaic/robo-go/policy"
	"github.com/robomosaic/robomosaic/robo-go/policy/optim"
	"github.com/robomosaic/robomosaic/robo-go/train/tblog"
	"github.com/robomosaic/robomosaic/robo-go/trajectory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(logDir string) Config {
	return Config{
		BatchSize:          1,
		Epochs:             1,
		StepsPerEpoch:      4,
		LR:                 0.01,
		TimeSequenceLength: 2,
		Seed:               1,
		LogDir:             logDir,
		Network: policy.NetworkConfig{
			TokenEmbeddingSize: 8,
			HiddenSize:         8,
			ImagePatchRows:     2,
			ImagePatchCols:     2,
			Seed:               3407,
		},
		Datasets: []DatasetConfig{
			{Name: "toto", BuilderDir: "/data/toto", Weight: 1},
		},
	}.WithDefaults()
}

func TestConfigValidate(t *testing.T) {
	cfg := validConfig("/tmp/runs")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "train", cfg.Mode)
	assert.Equal(t, 1, cfg.ValInterval)
	assert.Equal(t, 1, cfg.Distributed.WorldSize)

	bad := cfg
	bad.BatchSize = 0
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Datasets = nil
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Resume = true
	require.Error(t, bad.Validate())

	bad = cfg
	bad.LogDir = ""
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Mode = "predict"
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Mode = "evaluate"
	require.Error(t, bad.Validate())
	bad.ResumeFromCheckpoint = "/data/runs/1/0-checkpoint.pth"
	require.NoError(t, bad.Validate())
}

func TestConfigCompatible(t *testing.T) {
	a := validConfig("/tmp/runs")
	b := a
	b.LR = 99
	b.Epochs = 50
	require.NoError(t, a.Compatible(b))

	b = a
	b.Network.HiddenSize = 32
	require.Error(t, a.Compatible(b))

	b = a
	b.TimeSequenceLength = 9
	require.Error(t, a.Compatible(b))
}

func TestRunLayout(t *testing.T) {
	logDir, err := ioutil.TempDir("", "train-test")
	require.NoError(t, err)
	defer os.RemoveAll(logDir)

	cfg := validConfig(logDir)
	run, err := newRunWithID(cfg, "12345")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(logDir, "12345"), run.Dir)
	assert.Equal(t, filepath.Join(logDir, "tensorboard_logs", "12345"), run.TensorboardDir)
	assert.Equal(t, filepath.Join(logDir, "12345", "0-checkpoint.pth"), run.CheckpointPath(0))

	frozen, err := LoadRunConfig(run)
	require.NoError(t, err)
	assert.Equal(t, cfg, frozen)

	attached := AttachRun(logDir, "12345")
	assert.Equal(t, run, attached)
}

func TestCheckpointRoundTrip(t *testing.T) {
	dir, err := ioutil.TempDir("", "train-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	net := policy.NewNetwork(validConfig(dir).Network, policy.DefaultActionSpace())
	opt, err := optim.NewAdamW(net.Params(), optim.AdamWOptions{LR: 0.01})
	require.NoError(t, err)
	sched, err := optim.NewCosineAnnealingWarmRestarts(0.01, optim.SchedulerOptions{T0: 5, TMult: 2})
	require.NoError(t, err)
	sched.Step()

	want := Checkpoint{
		ModelStateDict:     net.StateDict(),
		OptimizerStateDict: opt.StateDict(),
		SchedulerStateDict: sched.StateDict(),
		Epoch:              7,
	}

	path := filepath.Join(dir, "7-checkpoint.pth")
	require.NoError(t, SaveCheckpoint(path, want))

	got, err := LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadCheckpoint_Missing(t *testing.T) {
	_, err := LoadCheckpoint("/tmp/no-such-checkpoint.pth")
	require.Error(t, err)
}

func trainFrame(t *testing.T) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(3 * x), G: uint8(5 * y), B: 11, A: 0xff})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func writeCollection(t *testing.T, dir string, gripperField string, steps int) {
	w := dataset.NewEpisodeWriter(dir, "", steps)
	for i := 0; i < steps; i++ {
		require.NoError(t, w.WriteStep(trajectory.NativeStep{
			Observation: trajectory.NativeObservation{
				ImagePNG:                 trainFrame(t),
				NaturalLanguageEmbedding: make([]float32, trajectory.EmbeddingSize),
			},
			Action: map[string][]float32{
				"world_vector":   {0.1, 0.2, 0.3},
				"rotation_delta": {0, 0, 0},
				gripperField:     {1},
			},
			IsFirst: i == 0,
			IsLast:  i == steps-1,
		}))
	}
	require.NoError(t, w.Flush())
}

func testLoader(t *testing.T, cfg Config, root string) *dataset.Loader {
	var sources []dataset.Dataset
	for _, dc := range cfg.Datasets {
		ds, err := dataset.Builder{
			Name:               dc.Name,
			BuilderDir:         dc.BuilderDir,
			TimeSequenceLength: cfg.TimeSequenceLength,
		}.Open()
		require.NoError(t, err)
		sources = append(sources, ds)
	}

	inter, err := dataset.NewInterleaved(sources, dataset.UniformWeights(len(sources)), cfg.Seed)
	require.NoError(t, err)

	loader, err := dataset.NewLoader(inter, dataset.LoaderOptions{
		BatchSize: cfg.BatchSize,
		Rank:      cfg.Distributed.Rank,
		WorldSize: cfg.Distributed.WorldSize,
	})
	require.NoError(t, err)
	return loader
}

// two sources, one epoch, batch size one: exactly one checkpoint and one loss_ce
// scalar per consumed batch.
func TestTrainer_EndToEnd(t *testing.T) {
	root, err := ioutil.TempDir("", "train-test")
	require.NoError(t, err)
	defer os.RemoveAll(root)

	totoDir := filepath.Join(root, "toto")
	bridgeDir := filepath.Join(root, "bridge")
	writeCollection(t, totoDir, "open_gripper", 4)
	writeCollection(t, bridgeDir, "open_gripper", 4)

	cfg := validConfig(filepath.Join(root, "runs"))
	cfg.Datasets = []DatasetConfig{
		{Name: "toto", BuilderDir: totoDir, Weight: 1},
		{Name: "bridge", BuilderDir: bridgeDir, Weight: 1},
	}
	require.NoError(t, cfg.Validate())

	run, err := newRunWithID(cfg, "e2e")
	require.NoError(t, err)
	metrics, err := tblog.NewWriter(run.TensorboardDir)
	require.NoError(t, err)

	trainer, err := NewTrainer(Params{
		Config:  cfg,
		Run:     run,
		Loader:  testLoader(t, cfg, root),
		Metrics: metrics,
	})
	require.NoError(t, err)

	results, err := trainer.Train()
	require.NoError(t, err)
	require.NoError(t, metrics.Close())

	require.Len(t, results.Checkpoints, 1)
	assert.Equal(t, run.CheckpointPath(0), results.Checkpoints[0])
	_, err = os.Stat(results.Checkpoints[0])
	require.NoError(t, err)

	assert.Equal(t, cfg.StepsPerEpoch, results.GlobalSteps)
	assert.Greater(t, results.FinalLoss, 0.0)

	events, err := tblog.ReadEvents(run.TensorboardDir)
	require.NoError(t, err)
	counts := make(map[string]int)
	for _, ev := range events {
		counts[ev.Tag]++
	}
	assert.Equal(t, results.GlobalSteps, counts["loss_ce"])
	assert.Equal(t, results.GlobalSteps, counts["epoch"])
	assert.Equal(t, results.GlobalSteps, counts["lr"])
}

func TestTrainer_Resume(t *testing.T) {
	root, err := ioutil.TempDir("", "train-test")
	require.NoError(t, err)
	defer os.RemoveAll(root)

	totoDir := filepath.Join(root, "toto")
	writeCollection(t, totoDir, "open_gripper", 4)

	cfg := validConfig(filepath.Join(root, "runs"))
	cfg.StepsPerEpoch = 2
	cfg.Datasets = []DatasetConfig{{Name: "toto", BuilderDir: totoDir, Weight: 1}}

	run, err := newRunWithID(cfg, "first")
	require.NoError(t, err)
	trainer, err := NewTrainer(Params{Config: cfg, Run: run, Loader: testLoader(t, cfg, root)})
	require.NoError(t, err)
	results, err := trainer.Train()
	require.NoError(t, err)
	require.Len(t, results.Checkpoints, 1)

	resumed := cfg
	resumed.Epochs = 2
	resumed.Resume = true
	resumed.ResumeFromCheckpoint = results.Checkpoints[0]
	require.NoError(t, resumed.Validate())

	run2, err := newRunWithID(resumed, "second")
	require.NoError(t, err)
	trainer2, err := NewTrainer(Params{Config: resumed, Run: run2, Loader: testLoader(t, resumed, root)})
	require.NoError(t, err)

	results2, err := trainer2.Train()
	require.NoError(t, err)

	// resuming from the epoch-0 checkpoint re-enters epoch 0, so both epochs run
	require.Len(t, results2.Checkpoints, 2)
	assert.Equal(t, run2.CheckpointPath(0), results2.Checkpoints[0])
	assert.Equal(t, run2.CheckpointPath(1), results2.Checkpoints[1])
	assert.Equal(t, 2*resumed.StepsPerEpoch, results2.GlobalSteps)

	ckpt, err := LoadCheckpoint(results2.Checkpoints[1])
	require.NoError(t, err)
	assert.Equal(t, 1, ckpt.Epoch)
}

func TestTrainer_Evaluate(t *testing.T) {
	root, err := ioutil.TempDir("", "train-test")
	require.NoError(t, err)
	defer os.RemoveAll(root)

	totoDir := filepath.Join(root, "toto")
	writeCollection(t, totoDir, "open_gripper", 4)

	cfg := validConfig(filepath.Join(root, "runs"))
	cfg.Datasets = []DatasetConfig{{Name: "toto", BuilderDir: totoDir, Weight: 1}}

	run, err := newRunWithID(cfg, "eval-train")
	require.NoError(t, err)
	trainer, err := NewTrainer(Params{Config: cfg, Run: run, Loader: testLoader(t, cfg, root)})
	require.NoError(t, err)
	results, err := trainer.Train()
	require.NoError(t, err)
	require.Len(t, results.Checkpoints, 1)

	eval := cfg
	eval.Mode = "evaluate"
	eval.ResumeFromCheckpoint = results.Checkpoints[0]
	require.NoError(t, eval.Validate())

	run2, err := newRunWithID(eval, "eval")
	require.NoError(t, err)
	trainer2, err := NewTrainer(Params{Config: eval, Run: run2, Loader: testLoader(t, eval, root)})
	require.NoError(t, err)

	loss, err := trainer2.Evaluate()
	require.NoError(t, err)
	assert.Greater(t, loss, 0.0)

	// evaluate without a checkpoint to load is rejected up front
	bare := cfg
	bare.Mode = "evaluate"
	require.Error(t, bare.Validate())
}
