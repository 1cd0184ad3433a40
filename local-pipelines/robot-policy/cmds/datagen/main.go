package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"log"
	"math/rand"
	"runtime"
	"sync"

	arg "github.com/alexflint/go-arg"
	"github.com/robomosaic/robomosaic/robo-go/dataset"
	"github.com/robomosaic/robomosaic/robo-go/trajectory"
	"github.com/robomosaic/robomosaic/robo-go/trajectory/sources"
	"github.com/robomosaic/robomosaic/robo-golib/errors"
	_ "github.com/robomosaic/robomosaic/robo-golib/robolog"
	"github.com/robomosaic/robomosaic/robo-golib/workerpool"
)

func fail(err error) {
	if err != nil {
		panic(err)
	}
}

// nativeActions emits an action map in the named source's native field layout.
func nativeActions(source string, rng *rand.Rand, terminal bool) (map[string][]float32, error) {
	vec := func(n int, lo, hi float32) []float32 {
		out := make([]float32, n)
		for i := range out {
			out[i] = lo + rng.Float32()*(hi-lo)
		}
		return out
	}
	oneHot := func(n, at int) []float32 {
		out := make([]float32, n)
		out[at] = 1
		return out
	}
	boolVal := func(b bool) float32 {
		if b {
			return 1
		}
		return 0
	}

	switch source {
	case "toto", "bridge":
		return map[string][]float32{
			"world_vector":   vec(3, -1, 1),
			"rotation_delta": vec(3, -1.5, 1.5),
			"open_gripper":   {float32(rng.Intn(2))},
		}, nil
	case "jaco_play":
		at := 1
		if terminal {
			at = 0
		}
		return map[string][]float32{
			"world_vector":              vec(3, -1, 1),
			"terminate_episode":         oneHot(3, at),
			"gripper_closedness_action": vec(1, -1, 1),
		}, nil
	case "berkeley_cable_routing":
		return map[string][]float32{
			"world_vector":      vec(3, -1, 1),
			"rotation_delta":    vec(3, -1.5, 1.5),
			"terminate_episode": {boolVal(terminal)},
		}, nil
	}
	return nil, errors.Errorf("no native layout for source %q", source)
}

func frame(rng *rand.Rand, width, height int) ([]byte, error) {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: 0xff,
			})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func episode(source string, seed int64, steps, width, height int) ([]trajectory.NativeStep, error) {
	rng := rand.New(rand.NewSource(seed))

	embedding := make([]float32, trajectory.EmbeddingSize)
	for i := range embedding {
		embedding[i] = rng.Float32()*2 - 1
	}

	out := make([]trajectory.NativeStep, 0, steps)
	for i := 0; i < steps; i++ {
		encoded, err := frame(rng, width, height)
		if err != nil {
			return nil, err
		}
		terminal := i == steps-1
		actions, err := nativeActions(source, rng, terminal)
		if err != nil {
			return nil, err
		}
		out = append(out, trajectory.NativeStep{
			Observation: trajectory.NativeObservation{
				ImagePNG:                 encoded,
				NaturalLanguageEmbedding: embedding,
			},
			Action:     actions,
			IsFirst:    i == 0,
			IsLast:     terminal,
			IsTerminal: terminal,
		})
	}
	return out, nil
}

func main() {
	args := struct {
		Output          string `arg:"positional,required"`
		Source          string `arg:"positional,required"`
		Episodes        int
		StepsPerEpisode int
		StepsPerFile    int
		FrameWidth      int
		FrameHeight     int
		Seed            int64
		Workers         int
	}{
		Episodes:        100,
		StepsPerEpisode: 24,
		StepsPerFile:    500,
		FrameWidth:      320,
		FrameHeight:     240,
		Seed:            1,
		Workers:         runtime.NumCPU(),
	}
	arg.MustParse(&args)

	// fail fast on unknown sources before generating anything
	if _, err := sources.Get(args.Source); err != nil {
		log.Fatalln(err)
	}

	writer := dataset.NewEpisodeWriter(args.Output, "", args.StepsPerFile)
	// episodes must land contiguously in the part stream
	var writeM sync.Mutex

	pool := workerpool.New(args.Workers)
	defer pool.Stop()

	var jobs []workerpool.Job
	for ep := 0; ep < args.Episodes; ep++ {
		seed := args.Seed + int64(ep)
		jobs = append(jobs, func() error {
			steps, err := episode(args.Source, seed, args.StepsPerEpisode, args.FrameWidth, args.FrameHeight)
			if err != nil {
				return err
			}

			writeM.Lock()
			defer writeM.Unlock()
			for _, step := range steps {
				if err := writer.WriteStep(step); err != nil {
					return err
				}
			}
			return nil
		})
	}

	pool.Add(jobs)
	fail(pool.Wait())
	fail(writer.Flush())

	log.Printf("wrote %d %s episodes to %s", args.Episodes, args.Source, args.Output)
}
