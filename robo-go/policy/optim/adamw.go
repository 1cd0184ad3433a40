// Package optim implements the training-side update rules for the policy network:
// a decoupled-weight-decay Adam optimizer and a cosine annealing schedule with warm
// restarts. Both round-trip their full state through JSON-able snapshots so training
// can resume bit-for-bit from a checkpoint.
package optim

import (
	"math"

	"github.com/robomosaic/robomosaic/robo-go/policy"
	"github.com/robomosaic/robomosaic/robo-golib/errors"
)

// AdamWOptions parameterize the optimizer. Zero value fields fall back to the usual
// defaults; LR must be set.
type AdamWOptions struct {
	LR          float64 `json:"lr"`
	Beta1       float64 `json:"beta1"`
	Beta2       float64 `json:"beta2"`
	Eps         float64 `json:"eps"`
	WeightDecay float64 `json:"weight_decay"`
}

func (o AdamWOptions) withDefaults() AdamWOptions {
	if o.Beta1 == 0 {
		o.Beta1 = 0.9
	}
	if o.Beta2 == 0 {
		o.Beta2 = 0.999
	}
	if o.Eps == 0 {
		o.Eps = 1e-8
	}
	return o
}

// AdamW updates parameters with Adam moment estimates and weight decay applied
// directly to the weights rather than through the gradient.
type AdamW struct {
	params []*policy.Param
	opts   AdamWOptions
	step   int
	m, v   [][]float32
}

// NewAdamW allocates moment buffers for every parameter.
func NewAdamW(params []*policy.Param, opts AdamWOptions) (*AdamW, error) {
	opts = opts.withDefaults()
	if opts.LR <= 0 {
		return nil, errors.Errorf("learning rate must be positive, got %f", opts.LR)
	}

	a := &AdamW{params: params, opts: opts}
	for _, p := range params {
		a.m = append(a.m, make([]float32, len(p.Data)))
		a.v = append(a.v, make([]float32, len(p.Data)))
	}
	return a, nil
}

// LR is the current learning rate.
func (a *AdamW) LR() float64 {
	return a.opts.LR
}

// SetLR installs a new learning rate, typically from the scheduler at an epoch edge.
func (a *AdamW) SetLR(lr float64) {
	a.opts.LR = lr
}

// Step applies one update from the accumulated gradients.
func (a *AdamW) Step() {
	a.step++
	c1 := 1 - math.Pow(a.opts.Beta1, float64(a.step))
	c2 := 1 - math.Pow(a.opts.Beta2, float64(a.step))

	for i, p := range a.params {
		m, v := a.m[i], a.v[i]
		for j := range p.Data {
			g := float64(p.Grad[j])

			if a.opts.WeightDecay != 0 {
				p.Data[j] -= float32(a.opts.LR * a.opts.WeightDecay * float64(p.Data[j]))
			}

			mj := a.opts.Beta1*float64(m[j]) + (1-a.opts.Beta1)*g
			vj := a.opts.Beta2*float64(v[j]) + (1-a.opts.Beta2)*g*g
			m[j] = float32(mj)
			v[j] = float32(vj)

			update := a.opts.LR * (mj / c1) / (math.Sqrt(vj/c2) + a.opts.Eps)
			p.Data[j] -= float32(update)
		}
	}
}

// AdamWState is the optimizer's serializable state.
type AdamWState struct {
	Step int         `json:"step"`
	LR   float64     `json:"lr"`
	M    [][]float32 `json:"m"`
	V    [][]float32 `json:"v"`
}

// StateDict snapshots the step counter, learning rate, and both moment buffers.
func (a *AdamW) StateDict() AdamWState {
	sd := AdamWState{Step: a.step, LR: a.opts.LR}
	for i := range a.params {
		sd.M = append(sd.M, append([]float32(nil), a.m[i]...))
		sd.V = append(sd.V, append([]float32(nil), a.v[i]...))
	}
	return sd
}

// LoadStateDict restores a snapshot taken from an optimizer over the same parameters.
func (a *AdamW) LoadStateDict(sd AdamWState) error {
	if len(sd.M) != len(a.params) || len(sd.V) != len(a.params) {
		return errors.Errorf("state dict covers %d parameters, optimizer has %d", len(sd.M), len(a.params))
	}
	for i, p := range a.params {
		if len(sd.M[i]) != len(p.Data) || len(sd.V[i]) != len(p.Data) {
			return errors.Errorf("state dict moments for %s have the wrong length", p.Name)
		}
	}

	a.step = sd.Step
	a.opts.LR = sd.LR
	for i := range a.params {
		copy(a.m[i], sd.M[i])
		copy(a.v[i], sd.V[i])
	}
	return nil
}
