package main

import (
	"log"

	arg "github.com/alexflint/go-arg"
	"github.com/robomosaic/robomosaic/robo-go/train"
	"github.com/robomosaic/robomosaic/robo-golib/fileutil"
)

func main() {
	args := struct {
		// ResumeFrom is the checkpoint to continue from, e.g.
		// <log_dir>/<run_id>/4-checkpoint.pth.
		ResumeFrom string `arg:"positional,required"`
		Config     string `arg:"positional,required"`
	}{}
	arg.MustParse(&args)

	cfg, err := train.LoadConfig(args.Config)
	if err != nil {
		log.Fatalln(err)
	}

	oldRunDir := fileutil.Dir(args.ResumeFrom)
	oldRun := train.AttachRun(fileutil.Dir(oldRunDir), fileutil.Base(oldRunDir))
	frozen, err := train.LoadRunConfig(oldRun)
	if err != nil {
		log.Fatalln(err)
	}

	if err := frozen.Compatible(cfg); err != nil {
		log.Fatalf("model configurations are incompatible: %v\ncurrent: %+v\ncheckpoint run: %+v",
			err, cfg, frozen)
	}

	ckpt, err := train.LoadCheckpoint(args.ResumeFrom)
	if err != nil {
		log.Fatalln(err)
	}

	cfg.Resume = true
	cfg.ResumeFromCheckpoint = args.ResumeFrom
	run, err := train.NewRun(cfg)
	if err != nil {
		log.Fatalln(err)
	}

	// carry the checkpoint into the new run dir so its artifacts are self-contained
	dst := run.CheckpointPath(ckpt.Epoch)
	if err := fileutil.CopyFile(dst, args.ResumeFrom); err != nil {
		log.Fatalln(err)
	}

	log.Printf("run %s resumes from epoch %d", run.ID, ckpt.Epoch)
	log.Printf("config: %s", run.ConfigPath())
	log.Printf("checkpoint: %s", dst)
}
