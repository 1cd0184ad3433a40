package main

import (
	"context"
	"log"

	arg "github.com/alexflint/go-arg"
	"github.com/robomosaic/robomosaic/robo-go/dataset"
	"github.com/robomosaic/robomosaic/robo-go/train"
	"github.com/robomosaic/robomosaic/robo-go/train/coord"
	"github.com/robomosaic/robomosaic/robo-go/train/tblog"
	"github.com/robomosaic/robomosaic/robo-golib/robolog"
)

func fail(err error) {
	if err != nil {
		panic(err)
	}
}

func buildLoader(cfg train.Config) (*dataset.Loader, error) {
	var sources []dataset.Dataset
	var weights []float64
	for _, dc := range cfg.Datasets {
		ds, err := dataset.Builder{
			Name:               dc.Name,
			BuilderDir:         dc.BuilderDir,
			TimeSequenceLength: cfg.TimeSequenceLength,
		}.Open()
		if err != nil {
			return nil, err
		}
		sources = append(sources, ds)

		w := dc.Weight
		if w == 0 {
			w = 1
		}
		weights = append(weights, w)
	}

	merged, err := dataset.NewInterleaved(sources, weights, cfg.Seed)
	if err != nil {
		return nil, err
	}

	return dataset.NewLoader(merged, dataset.LoaderOptions{
		BatchSize: cfg.BatchSize,
		Rank:      cfg.Distributed.Rank,
		WorldSize: cfg.Distributed.WorldSize,
		Prefetch:  2,
	})
}

func main() {
	args := struct {
		Config string `arg:"positional,required"`
		// RunID attaches to an existing run layout instead of creating one; every
		// non-writer rank of a distributed run must pass the writer's run id.
		RunID string
	}{}
	arg.MustParse(&args)

	cfg, err := train.LoadConfig(args.Config)
	fail(err)
	cfg.Distributed = cfg.Distributed.WithEnv()

	var run train.Run
	if args.RunID != "" {
		run = train.AttachRun(cfg.LogDir, args.RunID)
	} else if cfg.Distributed.IsMain() {
		run, err = train.NewRun(cfg)
		fail(err)
	} else {
		log.Fatalln("non-writer ranks must pass --runid")
	}

	logger := robolog.NewForRun(run.ID)
	logger.Printf("run %s -> %s", run.ID, run.Dir)

	loader, err := buildLoader(cfg)
	fail(err)
	defer loader.Stop()

	params := train.Params{
		Config: cfg,
		Run:    run,
		Loader: loader,
	}

	if cfg.Distributed.IsMain() {
		metrics, err := tblog.NewWriter(run.TensorboardDir)
		fail(err)
		defer func() { fail(metrics.Close()) }()
		params.Metrics = metrics
	}

	if cfg.Distributed.Coordinator != "" {
		client := coord.NewClient(cfg.Distributed.Coordinator, cfg.Distributed.Rank, cfg.Distributed.WorldSize)
		params.Barrier = func(name string) error {
			return client.Barrier(context.Background(), name)
		}
	}

	trainer, err := train.NewTrainer(params)
	fail(err)

	switch cfg.Mode {
	case "train":
		results, err := trainer.Train()
		fail(err)
		logger.Printf("trained %d steps, final loss %.4f, %d checkpoints",
			results.GlobalSteps, results.FinalLoss, len(results.Checkpoints))
	case "evaluate":
		loss, err := trainer.Evaluate()
		fail(err)
		logger.Printf("mean loss %.4f", loss)
	}
}
