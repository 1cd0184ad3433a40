package main

import (
	"fmt"
	"log"

	arg "github.com/alexflint/go-arg"
	"github.com/montanaflynn/stats"
	"github.com/robomosaic/robomosaic/robo-go/dataset"
	"github.com/robomosaic/robomosaic/robo-go/train"
)

func fail(err error) {
	if err != nil {
		panic(err)
	}
}

func summarize(name string, vals []float64) {
	mean, err := stats.Mean(vals)
	fail(err)
	std, err := stats.StandardDeviation(vals)
	fail(err)
	min, err := stats.Min(vals)
	fail(err)
	max, err := stats.Max(vals)
	fail(err)
	fmt.Printf("  %-22s mean=%+.4f std=%.4f min=%+.4f max=%+.4f\n", name, mean, std, min, max)
}

func main() {
	args := struct {
		Config  string `arg:"positional,required"`
		Samples int
	}{
		Samples: 1000,
	}
	arg.MustParse(&args)

	cfg, err := train.LoadConfig(args.Config)
	fail(err)

	var datasets []dataset.Dataset
	var weights []float64
	for _, dc := range cfg.Datasets {
		ds, err := dataset.Builder{
			Name:               dc.Name,
			BuilderDir:         dc.BuilderDir,
			TimeSequenceLength: cfg.TimeSequenceLength,
		}.Open()
		fail(err)
		datasets = append(datasets, ds)

		w := dc.Weight
		if w == 0 {
			w = 1
		}
		weights = append(weights, w)

		count, err := ds.Count()
		fail(err)
		fmt.Printf("%s: %d windows of %d steps (weight %.2f)\n", dc.Name, count, cfg.TimeSequenceLength, w)
	}

	merged, err := dataset.NewInterleaved(datasets, weights, cfg.Seed)
	fail(err)

	fmt.Printf("\nstep spec:\n%s\n", merged.Spec())

	counts := make(map[string]int)
	world := make([][]float64, 3)
	var gripper []float64
	for i := 0; i < args.Samples; i++ {
		w, err := merged.Next()
		if err != nil {
			log.Fatalln(err)
		}
		counts[w.Source]++

		for _, step := range w.Steps {
			wv := step.Action.WorldVector.Data().([]float32)
			for c := 0; c < 3; c++ {
				world[c] = append(world[c], float64(wv[c]))
			}
			gripper = append(gripper, float64(step.Action.GripperClosedness.Data().([]float32)[0]))
		}
	}

	fmt.Printf("\ndraw frequencies over %d samples:\n", args.Samples)
	for _, dc := range cfg.Datasets {
		fmt.Printf("  %-22s %d (%.3f)\n", dc.Name, counts[dc.Name], float64(counts[dc.Name])/float64(args.Samples))
	}

	fmt.Printf("\naction channels:\n")
	for c := 0; c < 3; c++ {
		summarize(fmt.Sprintf("world_vector[%d]", c), world[c])
	}
	summarize("gripper_closedness", gripper)
}
