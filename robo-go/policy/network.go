package policy

import (
	"math"
	"math/rand"

	"github.com/robomosaic/robomosaic/robo-go/trajectory"
	"github.com/robomosaic/robomosaic/robo-golib/errors"
)

// NetworkConfig sizes the policy network. Zero fields fall back to defaults, so a
// config file only needs to name what it overrides.
type NetworkConfig struct {
	// TokenEmbeddingSize is the width of the fused image+instruction embedding.
	TokenEmbeddingSize int `json:"token_embedding_size_per_image"`
	// HiddenSize is the recurrent state width.
	HiddenSize int `json:"hidden_size"`
	// ImagePatchRows and ImagePatchCols set the average-pooling grid that turns the
	// camera frame into a fixed-size feature vector.
	ImagePatchRows int `json:"image_patch_rows"`
	ImagePatchCols int `json:"image_patch_cols"`
	// Seed drives parameter initialization.
	Seed int64 `json:"seed"`
}

func (c NetworkConfig) withDefaults() NetworkConfig {
	if c.TokenEmbeddingSize == 0 {
		c.TokenEmbeddingSize = 512
	}
	if c.HiddenSize == 0 {
		c.HiddenSize = 512
	}
	if c.ImagePatchRows == 0 {
		c.ImagePatchRows = 8
	}
	if c.ImagePatchCols == 0 {
		c.ImagePatchCols = 10
	}
	if c.Seed == 0 {
		c.Seed = 3407
	}
	return c
}

// Param is one named weight matrix (or bias vector, cols == 1) with its gradient
// accumulator.
type Param struct {
	Name string
	Rows int
	Cols int
	Data []float32
	Grad []float32
}

// Network is the trajectory policy: camera frames are average-pooled into patch
// features, fused with the instruction embedding through a tanh encoder, rolled
// through a recurrent state, and read out as one softmax head per action dimension.
type Network struct {
	cfg   NetworkConfig
	space ActionSpace

	inputSize int
	// binOffsets[d] is where dimension d's logits start in a concatenated logit row.
	binOffsets []int
	totalBins  int

	encW, encB         *Param
	rnnWx, rnnWh, rnnB *Param
	headW, headB       []*Param

	params []*Param
}

// NewNetwork initializes all parameters from the config seed.
func NewNetwork(cfg NetworkConfig, space ActionSpace) *Network {
	cfg = cfg.withDefaults()
	rng := rand.New(rand.NewSource(cfg.Seed))

	n := &Network{
		cfg:       cfg,
		space:     space,
		inputSize: 3*cfg.ImagePatchRows*cfg.ImagePatchCols + trajectory.EmbeddingSize,
	}

	for _, d := range space.Dims {
		n.binOffsets = append(n.binOffsets, n.totalBins)
		n.totalBins += d.Bins
	}

	n.encW = n.newParam("encoder_w", cfg.TokenEmbeddingSize, n.inputSize, rng)
	n.encB = n.newParam("encoder_b", cfg.TokenEmbeddingSize, 1, rng)
	n.rnnWx = n.newParam("rnn_wx", cfg.HiddenSize, cfg.TokenEmbeddingSize, rng)
	n.rnnWh = n.newParam("rnn_wh", cfg.HiddenSize, cfg.HiddenSize, rng)
	n.rnnB = n.newParam("rnn_b", cfg.HiddenSize, 1, rng)
	for _, d := range space.Dims {
		n.headW = append(n.headW, n.newParam("head_"+d.Name+"_w", d.Bins, cfg.HiddenSize, rng))
		n.headB = append(n.headB, n.newParam("head_"+d.Name+"_b", d.Bins, 1, rng))
	}

	return n
}

func (n *Network) newParam(name string, rows, cols int, rng *rand.Rand) *Param {
	p := &Param{
		Name: name,
		Rows: rows,
		Cols: cols,
		Data: make([]float32, rows*cols),
		Grad: make([]float32, rows*cols),
	}
	if cols > 1 {
		scale := float32(1 / math.Sqrt(float64(cols)))
		for i := range p.Data {
			p.Data[i] = (rng.Float32()*2 - 1) * scale
		}
	}
	n.params = append(n.params, p)
	return p
}

// Config returns the resolved config, defaults applied.
func (n *Network) Config() NetworkConfig {
	return n.cfg
}

// Space returns the action space the network predicts over.
func (n *Network) Space() ActionSpace {
	return n.space
}

// Params exposes the parameters in a fixed order for the optimizer.
func (n *Network) Params() []*Param {
	return n.params
}

// NumParams is the total scalar parameter count.
func (n *Network) NumParams() int {
	var total int
	for _, p := range n.params {
		total += len(p.Data)
	}
	return total
}

// ZeroGrad clears every gradient accumulator.
func (n *Network) ZeroGrad() {
	for _, p := range n.params {
		for i := range p.Grad {
			p.Grad[i] = 0
		}
	}
}

// State is the recurrent hidden state, one vector per batch row.
type State struct {
	h [][]float32
}

// ZeroState returns a fresh hidden state for a batch of the given size.
func (n *Network) ZeroState(batchSize int) *State {
	s := &State{h: make([][]float32, batchSize)}
	for i := range s.h {
		s.h[i] = make([]float32, n.cfg.HiddenSize)
	}
	return s
}

func (s *State) clone() *State {
	out := &State{h: make([][]float32, len(s.h))}
	for i, h := range s.h {
		out.h[i] = append([]float32(nil), h...)
	}
	return out
}

// featureRows pools frames into patch averages, scales to [0, 1], and appends the
// instruction embedding. image holds rows*3*H*W channel-first bytes.
func (n *Network) featureRows(image []uint8, lang []float32, rows int) [][]float32 {
	const (
		height = trajectory.TargetHeight
		width  = trajectory.TargetWidth
	)
	pr, pc := n.cfg.ImagePatchRows, n.cfg.ImagePatchCols

	out := make([][]float32, rows)
	for r := 0; r < rows; r++ {
		x := make([]float32, n.inputSize)
		frame := image[r*3*height*width:]
		at := 0
		for c := 0; c < 3; c++ {
			channel := frame[c*height*width:]
			for py := 0; py < pr; py++ {
				y0, y1 := py*height/pr, (py+1)*height/pr
				for px := 0; px < pc; px++ {
					x0, x1 := px*width/pc, (px+1)*width/pc
					var sum float64
					for y := y0; y < y1; y++ {
						for xx := x0; xx < x1; xx++ {
							sum += float64(channel[y*width+xx])
						}
					}
					x[at] = float32(sum / (255 * float64((y1-y0)*(x1-x0))))
					at++
				}
			}
		}
		copy(x[at:], lang[r*trajectory.EmbeddingSize:(r+1)*trajectory.EmbeddingSize])
		out[r] = x
	}
	return out
}

// matVec computes out += W * v for a (rows x cols) matrix.
func matVec(out []float32, w []float32, v []float32, rows, cols int) {
	for i := 0; i < rows; i++ {
		row := w[i*cols : (i+1)*cols]
		var sum float32
		for j, x := range v {
			sum += row[j] * x
		}
		out[i] += sum
	}
}

// matVecT computes out += W^T * v.
func matVecT(out []float32, w []float32, v []float32, rows, cols int) {
	for i := 0; i < rows; i++ {
		row := w[i*cols : (i+1)*cols]
		for j := range out {
			out[j] += row[j] * v[i]
		}
	}
}

// outer accumulates grad += v ⊗ u into a (rows x cols) gradient.
func outer(grad []float32, v []float32, u []float32, cols int) {
	for i, vi := range v {
		if vi == 0 {
			continue
		}
		row := grad[i*cols : (i+1)*cols]
		for j, uj := range u {
			row[j] += vi * uj
		}
	}
}

func tanhVec(v []float32) {
	for i, x := range v {
		v[i] = float32(math.Tanh(float64(x)))
	}
}

// ForwardResult caches everything Backward and Loss need from one forward pass.
type ForwardResult struct {
	net                  *Network
	batchSize, timeSteps int

	x     [][]float32 // encoder inputs, indexed b*T+t
	e     [][]float32 // encoder activations
	h     [][]float32 // hidden states
	h0    [][]float32 // hidden state entering t=0, per batch row
	probs [][]float32 // concatenated per-dim softmax rows

	targets []int
	loss    float64
	state   *State
}

// Loss is the mean cross entropy over every (step, action dimension) cell.
func (r *ForwardResult) Loss() float64 {
	return r.loss
}

// FinalState is the hidden state after the last timestep.
func (r *ForwardResult) FinalState() *State {
	return r.state
}

// Forward runs the batch through the network starting from the given hidden state and
// scores the predicted action distributions against the batch's recorded actions. The
// input state is not mutated.
func (n *Network) Forward(batch trajectory.Batch, state *State) (*ForwardResult, error) {
	batchSize, timeSteps := batch.Dims()
	if state == nil || len(state.h) != batchSize {
		return nil, errors.Errorf("hidden state does not cover batch size %d", batchSize)
	}

	targets, err := n.space.TokenizeBatch(batch)
	if err != nil {
		return nil, err
	}

	res := &ForwardResult{
		net:       n,
		batchSize: batchSize,
		timeSteps: timeSteps,
		x:         n.featureRows(batch.Image.Data().([]uint8), batch.LangEmbedding.Data().([]float32), batchSize*timeSteps),
		e:         make([][]float32, batchSize*timeSteps),
		h:         make([][]float32, batchSize*timeSteps),
		probs:     make([][]float32, batchSize*timeSteps),
		targets:   targets,
		state:     state.clone(),
	}
	res.h0 = state.clone().h

	var totalNLL float64
	cells := batchSize * timeSteps * n.space.NumDims()

	for b := 0; b < batchSize; b++ {
		hPrev := res.h0[b]
		for t := 0; t < timeSteps; t++ {
			at := b*timeSteps + t

			e := append([]float32(nil), n.encB.Data...)
			matVec(e, n.encW.Data, res.x[at], n.cfg.TokenEmbeddingSize, n.inputSize)
			tanhVec(e)
			res.e[at] = e

			h := append([]float32(nil), n.rnnB.Data...)
			matVec(h, n.rnnWx.Data, e, n.cfg.HiddenSize, n.cfg.TokenEmbeddingSize)
			matVec(h, n.rnnWh.Data, hPrev, n.cfg.HiddenSize, n.cfg.HiddenSize)
			tanhVec(h)
			res.h[at] = h
			hPrev = h

			probs := make([]float32, n.totalBins)
			for d, dim := range n.space.Dims {
				logits := probs[n.binOffsets[d] : n.binOffsets[d]+dim.Bins]
				copy(logits, n.headB[d].Data)
				matVec(logits, n.headW[d].Data, h, dim.Bins, n.cfg.HiddenSize)
				totalNLL += softmaxInPlace(logits, targets[at*n.space.NumDims()+d])
			}
			res.probs[at] = probs
		}
		res.state.h[b] = hPrev
	}

	res.loss = totalNLL / float64(cells)
	return res, nil
}

// softmaxInPlace turns logits into probabilities and returns the negative log
// likelihood of the target bin.
func softmaxInPlace(logits []float32, target int) float64 {
	max := logits[0]
	for _, v := range logits[1:] {
		if v > max {
			max = v
		}
	}
	var sum float64
	for i, v := range logits {
		ev := math.Exp(float64(v - max))
		logits[i] = float32(ev)
		sum += ev
	}
	for i := range logits {
		logits[i] = float32(float64(logits[i]) / sum)
	}
	p := float64(logits[target])
	if p < 1e-12 {
		p = 1e-12
	}
	return -math.Log(p)
}

// Backward accumulates gradients of the mean cross entropy into every parameter by
// backpropagation through time. Call ZeroGrad first unless accumulation is intended.
func (n *Network) Backward(res *ForwardResult) {
	hid := n.cfg.HiddenSize
	emb := n.cfg.TokenEmbeddingSize
	scale := float32(1 / float64(res.batchSize*res.timeSteps*n.space.NumDims()))

	for b := 0; b < res.batchSize; b++ {
		// dpre carries the pre-activation gradient from the following timestep
		dpre := make([]float32, hid)
		for t := res.timeSteps - 1; t >= 0; t-- {
			at := b*res.timeSteps + t

			dh := make([]float32, hid)
			if t < res.timeSteps-1 {
				matVecT(dh, n.rnnWh.Data, dpre, hid, hid)
			}

			for d, dim := range n.space.Dims {
				dlogits := append([]float32(nil), res.probs[at][n.binOffsets[d]:n.binOffsets[d]+dim.Bins]...)
				dlogits[res.targets[at*n.space.NumDims()+d]] -= 1
				for i := range dlogits {
					dlogits[i] *= scale
				}
				outer(n.headW[d].Grad, dlogits, res.h[at], hid)
				for i, v := range dlogits {
					n.headB[d].Grad[i] += v
				}
				matVecT(dh, n.headW[d].Data, dlogits, dim.Bins, hid)
			}

			next := make([]float32, hid)
			for i := range next {
				hi := res.h[at][i]
				next[i] = dh[i] * (1 - hi*hi)
			}
			dpre = next

			hPrev := res.h0[b]
			if t > 0 {
				hPrev = res.h[at-1]
			}
			outer(n.rnnWx.Grad, dpre, res.e[at], emb)
			outer(n.rnnWh.Grad, dpre, hPrev, hid)
			for i, v := range dpre {
				n.rnnB.Grad[i] += v
			}

			de := make([]float32, emb)
			matVecT(de, n.rnnWx.Data, dpre, hid, emb)
			for i := range de {
				ei := res.e[at][i]
				de[i] *= 1 - ei*ei
			}
			outer(n.encW.Grad, de, res.x[at], n.inputSize)
			for i, v := range de {
				n.encB.Grad[i] += v
			}
		}
	}
}

// Act greedily decodes one action per batch row from a single timestep and returns
// the advanced hidden state. The input state is not mutated.
func (n *Network) Act(ts trajectory.Timestep, state *State) ([]trajectory.Action, *State, error) {
	rows := ts.IsFirst.Shape()[0]
	if state == nil || len(state.h) != rows {
		return nil, nil, errors.Errorf("hidden state does not cover batch size %d", rows)
	}

	x := n.featureRows(ts.Image.Data().([]uint8), ts.LangEmbedding.Data().([]float32), rows)
	out := state.clone()
	actions := make([]trajectory.Action, rows)

	for r := 0; r < rows; r++ {
		e := append([]float32(nil), n.encB.Data...)
		matVec(e, n.encW.Data, x[r], n.cfg.TokenEmbeddingSize, n.inputSize)
		tanhVec(e)

		h := append([]float32(nil), n.rnnB.Data...)
		matVec(h, n.rnnWx.Data, e, n.cfg.HiddenSize, n.cfg.TokenEmbeddingSize)
		matVec(h, n.rnnWh.Data, state.h[r], n.cfg.HiddenSize, n.cfg.HiddenSize)
		tanhVec(h)
		out.h[r] = h

		tokens := make([]int, n.space.NumDims())
		for d, dim := range n.space.Dims {
			logits := append([]float32(nil), n.headB[d].Data...)
			matVec(logits, n.headW[d].Data, h, dim.Bins, n.cfg.HiddenSize)
			best := 0
			for i, v := range logits {
				if v > logits[best] {
					best = i
				}
			}
			tokens[d] = best
		}

		action, err := n.space.DetokenizeAction(tokens)
		if err != nil {
			return nil, nil, err
		}
		actions[r] = action
	}

	return actions, out, nil
}

// StateDict snapshots every parameter by name.
func (n *Network) StateDict() map[string][]float32 {
	out := make(map[string][]float32, len(n.params))
	for _, p := range n.params {
		out[p.Name] = append([]float32(nil), p.Data...)
	}
	return out
}

// LoadStateDict restores a snapshot taken from a network of the same architecture.
func (n *Network) LoadStateDict(sd map[string][]float32) error {
	if len(sd) != len(n.params) {
		return errors.Errorf("state dict has %d entries, network has %d parameters", len(sd), len(n.params))
	}
	for _, p := range n.params {
		vals, ok := sd[p.Name]
		if !ok {
			return errors.Errorf("state dict is missing parameter %s", p.Name)
		}
		if len(vals) != len(p.Data) {
			return errors.Errorf("parameter %s has %d values in the state dict, expected %d",
				p.Name, len(vals), len(p.Data))
		}
		copy(p.Data, vals)
	}
	return nil
}
