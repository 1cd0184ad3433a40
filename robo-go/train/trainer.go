package train

import (
	"fmt"
	"io"
	"log"
	"math/rand"

	humanize "github.com/dustin/go-humanize"
	"github.com/robomosaic/robomosaic/robo-go/dataset"
	"github.com/robomosaic/robomosaic/robo-go/policy"
	"github.com/robomosaic/robomosaic/robo-go/policy/optim"
	"github.com/robomosaic/robomosaic/robo-go/train/tblog"
	"github.com/robomosaic/robomosaic/robo-golib/errors"
	"github.com/sbwhitecap/tqdm"
	"github.com/sbwhitecap/tqdm/iterators"
)

// BarrierFunc blocks until every rank reaches the named synchronization point.
type BarrierFunc func(name string) error

// Params are the inputs to a Trainer.
type Params struct {
	Config Config
	Run    Run
	Loader *dataset.Loader
	// Metrics is nil on ranks that are not the elected writer.
	Metrics *tblog.Writer
	// Barrier is nil in single-process mode.
	Barrier BarrierFunc
}

// Results summarize a completed run.
type Results struct {
	Checkpoints []string
	FinalLoss   float64
	GlobalSteps int
}

// Trainer drives the supervised loop: forward, cross-entropy loss, backward,
// optimizer step, with the scheduler advanced once per epoch and a checkpoint every
// val_interval epochs.
type Trainer struct {
	params Params

	net   *policy.Network
	opt   *optim.AdamW
	sched *optim.CosineAnnealingWarmRestarts

	startEpoch int
	globalStep int
}

// NewTrainer builds the network, optimizer, and schedule from the config, restoring
// all three from the resume checkpoint when the config asks for it.
func NewTrainer(p Params) (*Trainer, error) {
	cfg := p.Config

	net := policy.NewNetwork(cfg.Network, policy.DefaultActionSpace())
	opt, err := optim.NewAdamW(net.Params(), optim.AdamWOptions{
		LR:          cfg.LR,
		WeightDecay: cfg.WeightDecay,
	})
	if err != nil {
		return nil, err
	}
	sched, err := optim.NewCosineAnnealingWarmRestarts(cfg.LR, cfg.Scheduler)
	if err != nil {
		return nil, err
	}

	t := &Trainer{
		params: p,
		net:    net,
		opt:    opt,
		sched:  sched,
	}

	// evaluate mode always scores a checkpointed model, never a fresh one
	if cfg.Resume || cfg.Mode == "evaluate" {
		ckpt, err := LoadCheckpoint(cfg.ResumeFromCheckpoint)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot resume")
		}
		if err := net.LoadStateDict(ckpt.ModelStateDict); err != nil {
			return nil, errors.Wrapf(err, "cannot resume")
		}
		if err := opt.LoadStateDict(ckpt.OptimizerStateDict); err != nil {
			return nil, errors.Wrapf(err, "cannot resume")
		}
		if err := sched.LoadStateDict(ckpt.SchedulerStateDict); err != nil {
			return nil, errors.Wrapf(err, "cannot resume")
		}
		// re-enter the stored epoch rather than the one after it
		t.startEpoch = ckpt.Epoch
		t.globalStep = t.startEpoch * cfg.StepsPerEpoch
		log.Printf("resuming from %s at epoch %d", cfg.ResumeFromCheckpoint, t.startEpoch)
	}

	numParams := net.NumParams()
	log.Printf("model has %s parameters (%.2f MB)",
		humanize.Comma(int64(numParams)), float64(numParams*4)/(1<<20))

	return t, nil
}

// Network exposes the policy being trained.
func (t *Trainer) Network() *policy.Network {
	return t.net
}

// Train runs the configured epochs and returns once they complete or the loader is
// exhausted. Any per-batch failure aborts the run; recovery is restarting from the
// last checkpoint.
func (t *Trainer) Train() (Results, error) {
	cfg := t.params.Config
	rand.Seed(cfg.Seed)

	var results Results
	var exhausted bool
	for epoch := t.startEpoch; epoch < cfg.Epochs && !exhausted; epoch++ {
		lr := t.sched.LR()
		t.opt.SetLR(lr)

		var stepsThisEpoch int
		var loopErr error
		err := tqdm.With(iterators.Interval(0, cfg.StepsPerEpoch), fmt.Sprintf("epoch %d", epoch), func(c interface{}) (brk bool) {
			batch, err := t.params.Loader.NextBatch()
			if err == io.EOF {
				exhausted = true
				return true
			} else if err != nil {
				loopErr = err
				return true
			}

			batchSize, _ := batch.Dims()
			res, err := t.net.Forward(batch, t.net.ZeroState(batchSize))
			if err != nil {
				loopErr = err
				return true
			}

			t.net.ZeroGrad()
			t.net.Backward(res)
			t.opt.Step()

			results.FinalLoss = res.Loss()
			if t.params.Metrics != nil {
				if err := t.logScalars(res.Loss(), epoch, lr); err != nil {
					loopErr = err
					return true
				}
			}

			t.globalStep++
			stepsThisEpoch++
			return false
		})
		if err != nil {
			return results, err
		}
		if loopErr != nil {
			return results, loopErr
		}

		t.sched.Step()

		if stepsThisEpoch > 0 && (epoch+1)%cfg.ValInterval == 0 {
			if cfg.Distributed.IsMain() {
				path := t.params.Run.CheckpointPath(epoch)
				if err := SaveCheckpoint(path, t.checkpoint(epoch)); err != nil {
					return results, err
				}
				results.Checkpoints = append(results.Checkpoints, path)
				log.Printf("wrote checkpoint %s", path)
			}
			if t.params.Barrier != nil {
				if err := t.params.Barrier(fmt.Sprintf("checkpoint-%d", epoch)); err != nil {
					return results, err
				}
			}
		}
	}

	results.GlobalSteps = t.globalStep
	return results, nil
}

func (t *Trainer) logScalars(loss float64, epoch int, lr float64) error {
	m := t.params.Metrics
	if err := m.AddScalar("loss_ce", t.globalStep, loss); err != nil {
		return err
	}
	if err := m.AddScalar("epoch", t.globalStep, float64(epoch)); err != nil {
		return err
	}
	return m.AddScalar("lr", t.globalStep, lr)
}

func (t *Trainer) checkpoint(epoch int) Checkpoint {
	return Checkpoint{
		ModelStateDict:     t.net.StateDict(),
		OptimizerStateDict: t.opt.StateDict(),
		SchedulerStateDict: t.sched.StateDict(),
		Epoch:              epoch,
	}
}

// Evaluate streams up to steps_per_epoch batches without updating anything and
// returns the mean loss.
func (t *Trainer) Evaluate() (float64, error) {
	cfg := t.params.Config

	var total float64
	var batches int
	for batches < cfg.StepsPerEpoch {
		batch, err := t.params.Loader.NextBatch()
		if err == io.EOF {
			break
		} else if err != nil {
			return 0, err
		}

		batchSize, _ := batch.Dims()
		res, err := t.net.Forward(batch, t.net.ZeroState(batchSize))
		if err != nil {
			return 0, err
		}
		total += res.Loss()
		batches++
	}
	if batches == 0 {
		return 0, errors.New("no batches to evaluate")
	}
	return total / float64(batches), nil
}
