package network

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/atljeremy/Automated-GuitarAmpModelling/tensor"
)

// UnitType selects the recurrent cell used by each block.
type UnitType string

const (
	LSTM UnitType = "LSTM"
	GRU  UnitType = "GRU"
	RNN  UnitType = "RNN"
)

// ModelSpec describes the network architecture. It is persisted alongside the
// weights so a checkpoint can be restored without the original configuration.
type ModelSpec struct {
	InputSize    int      `json:"input_size"`
	OutputSize   int      `json:"output_size"`
	NumBlocks    int      `json:"num_blocks"`
	HiddenSize   int      `json:"hidden_size"`
	UnitType     UnitType `json:"unit_type"`
	SkipChannels int      `json:"skip"`
}

// Parameter is a named weight tensor with its gradient accumulator.
type Parameter struct {
	Name  string
	Shape []int
	Data  []float32
	Grad  []float32
}

// Model is the stateful sequence model contract consumed by the training
// loop. Forward processes a [time, segment, channel] chunk and carries hidden
// state across calls. DetachHidden severs the recorded step history while
// preserving the hidden state's numeric value, bounding the cost of the next
// Backward. ResetHidden returns the hidden state to its initial zero value;
// it must be called between independent batches and between subsets.
type Model interface {
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
	Backward(gradOut *tensor.Tensor) error
	DetachHidden()
	ResetHidden()
	ZeroGrad()
	SetTraining(training bool)
	Parameters() []*Parameter
	Spec() ModelSpec
}

// recurrentCell is one recurrent block, stepped one time frame at a time.
// Implementations record a per-step cache while training; backwardStep
// consumes recorded steps in reverse order, folding in the recurrent carry
// and accumulating parameter gradients.
type recurrentCell interface {
	inputSize() int
	hiddenSize() int
	forwardStep(x []float32, batch int, record bool) []float32
	historyLen() int
	beginBackward(batch int)
	backwardStep(step int, dh []float32, batch int) []float32
	detach()
	reset()
	parameters() []*Parameter
}

// RecNet is a stack of recurrent blocks followed by a linear readout, with
// the leading input channels added onto the output (residual skip). This is
// the standard topology for neural emulation of amplifier and distortion
// circuits, where the network learns the difference from the dry signal.
type RecNet struct {
	spec     ModelSpec
	blocks   []recurrentCell
	readout  *linear
	batch    int
	training bool
}

// NewRecNet builds a network from the given spec, initialising all weights
// uniformly in [-1/sqrt(hidden), 1/sqrt(hidden)].
func NewRecNet(spec ModelSpec, rng *rand.Rand) (*RecNet, error) {
	if spec.InputSize <= 0 || spec.OutputSize <= 0 || spec.HiddenSize <= 0 {
		return nil, fmt.Errorf("invalid model spec: sizes must be positive, got %+v", spec)
	}
	if spec.NumBlocks <= 0 {
		spec.NumBlocks = 1
	}
	if spec.SkipChannels < 0 || spec.SkipChannels > spec.InputSize || spec.SkipChannels > spec.OutputSize {
		return nil, fmt.Errorf("skip channels %d out of range for input %d / output %d",
			spec.SkipChannels, spec.InputSize, spec.OutputSize)
	}

	bound := float32(1.0 / math.Sqrt(float64(spec.HiddenSize)))

	net := &RecNet{spec: spec}
	inSize := spec.InputSize
	for b := 0; b < spec.NumBlocks; b++ {
		prefix := fmt.Sprintf("rec.%d", b)
		var cell recurrentCell
		switch spec.UnitType {
		case LSTM:
			cell = newLSTMCell(prefix, inSize, spec.HiddenSize, bound, rng)
		case GRU:
			cell = newGRUCell(prefix, inSize, spec.HiddenSize, bound, rng)
		case RNN:
			cell = newRNNCell(prefix, inSize, spec.HiddenSize, bound, rng)
		default:
			return nil, fmt.Errorf("unknown unit type %q (want LSTM, GRU or RNN)", spec.UnitType)
		}
		net.blocks = append(net.blocks, cell)
		inSize = spec.HiddenSize
	}
	net.readout = newLinear("lin", spec.HiddenSize, spec.OutputSize, bound, rng)

	return net, nil
}

// Spec returns the architecture description.
func (n *RecNet) Spec() ModelSpec {
	return n.spec
}

// SetTraining switches step-cache recording on or off. Inference runs with
// training off so no history accumulates.
func (n *RecNet) SetTraining(training bool) {
	n.training = training
}

// Forward processes a [time, segment, channel] chunk, carrying hidden state
// from any previous call since the last ResetHidden.
func (n *RecNet) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Dim() != 3 {
		return nil, fmt.Errorf("expected [time, segment, channel] input, got shape %v", x.Shape)
	}
	timeLen, batch, channels := x.Shape[0], x.Shape[1], x.Shape[2]
	if channels != n.spec.InputSize {
		return nil, fmt.Errorf("input has %d channels, model expects %d", channels, n.spec.InputSize)
	}
	if n.batch != 0 && n.batch != batch {
		return nil, fmt.Errorf("batch size changed from %d to %d without ResetHidden", n.batch, batch)
	}
	n.batch = batch

	out, err := tensor.Zeros([]int{timeLen, batch, n.spec.OutputSize})
	if err != nil {
		return nil, err
	}

	for t := 0; t < timeLen; t++ {
		frame := x.Data[t*x.Strides[0] : (t+1)*x.Strides[0]]
		h := frame
		for _, block := range n.blocks {
			h = block.forwardStep(h, batch, n.training)
		}
		outFrame := out.Data[t*out.Strides[0] : (t+1)*out.Strides[0]]
		n.readout.forwardStep(h, outFrame, batch, n.training)

		// Residual skip of the leading input channels.
		for b := 0; b < batch; b++ {
			for c := 0; c < n.spec.SkipChannels; c++ {
				outFrame[b*n.spec.OutputSize+c] += frame[b*channels+c]
			}
		}
	}

	return out, nil
}

// Backward backpropagates gradOut through every step recorded since the last
// DetachHidden or ResetHidden, accumulating parameter gradients. gradOut must
// cover exactly the recorded steps.
func (n *RecNet) Backward(gradOut *tensor.Tensor) error {
	steps := n.readout.historyLen()
	if steps == 0 {
		return fmt.Errorf("no recorded steps to backpropagate; was Forward called in training mode?")
	}
	if gradOut.Dim() != 3 || gradOut.Shape[0] != steps {
		return fmt.Errorf("gradient shape %v does not cover the %d recorded steps", gradOut.Shape, steps)
	}
	batch := gradOut.Shape[1]

	for _, block := range n.blocks {
		block.beginBackward(batch)
	}

	dh := make([]float32, batch*n.spec.HiddenSize)
	for t := steps - 1; t >= 0; t-- {
		gradFrame := gradOut.Data[t*gradOut.Strides[0] : (t+1)*gradOut.Strides[0]]
		n.readout.backwardStep(t, gradFrame, dh, batch)

		grad := dh
		for bi := len(n.blocks) - 1; bi >= 0; bi-- {
			grad = n.blocks[bi].backwardStep(t, grad, batch)
		}
		// grad is now the gradient w.r.t. the network input, which is data.
	}

	return nil
}

// DetachHidden discards the recorded step history while keeping the hidden
// state values, so the next Backward only traverses steps recorded after this
// call. This is the truncation in truncated backpropagation-through-time.
func (n *RecNet) DetachHidden() {
	for _, block := range n.blocks {
		block.detach()
	}
	n.readout.detach()
}

// ResetHidden zeroes the hidden state and discards any recorded history. A
// new mini-batch is an independent set of sequences and must start cold.
func (n *RecNet) ResetHidden() {
	for _, block := range n.blocks {
		block.reset()
	}
	n.readout.detach()
	n.batch = 0
}

// ZeroGrad clears all accumulated parameter gradients.
func (n *RecNet) ZeroGrad() {
	for _, p := range n.Parameters() {
		for i := range p.Grad {
			p.Grad[i] = 0
		}
	}
}

// Parameters returns all trainable parameters in a stable order.
func (n *RecNet) Parameters() []*Parameter {
	var params []*Parameter
	for _, block := range n.blocks {
		params = append(params, block.parameters()...)
	}
	params = append(params, n.readout.parameters()...)
	return params
}

func newParameter(name string, shape []int, bound float32, rng *rand.Rand) *Parameter {
	n := 1
	for _, d := range shape {
		n *= d
	}
	data := make([]float32, n)
	for i := range data {
		data[i] = (rng.Float32()*2 - 1) * bound
	}
	return &Parameter{
		Name:  name,
		Shape: append([]int(nil), shape...),
		Data:  data,
		Grad:  make([]float32, n),
	}
}

func sigmoid32(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(-float64(x))))
}

func tanh32(x float32) float32 {
	return float32(math.Tanh(float64(x)))
}
