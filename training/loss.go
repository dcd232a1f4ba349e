package training

import (
	"fmt"
	"sort"

	"github.com/atljeremy/Automated-GuitarAmpModelling/tensor"
)

const lossEpsilon = 0.00001

// Loss scores a model output against the target and produces the gradient of
// that score with respect to the output. Forward and Backward take the same
// pair so a wrapper can combine several sub-losses behind one interface.
type Loss interface {
	Forward(output, target *tensor.Tensor) (float64, error)
	Backward(output, target *tensor.Tensor) (*tensor.Tensor, error)
}

func checkPair(output, target *tensor.Tensor) error {
	if output.Dim() != len(target.Shape) || output.NumElems != target.NumElems {
		return fmt.Errorf("output shape %v does not match target shape %v", output.Shape, target.Shape)
	}
	for i := range output.Shape {
		if output.Shape[i] != target.Shape[i] {
			return fmt.Errorf("output shape %v does not match target shape %v", output.Shape, target.Shape)
		}
	}
	return nil
}

// signalEnergy returns mean(target^2) + epsilon, the normaliser shared by the
// relative losses.
func signalEnergy(target *tensor.Tensor) float64 {
	var sum float64
	for _, v := range target.Data {
		sum += float64(v) * float64(v)
	}
	return sum/float64(target.NumElems) + lossEpsilon
}

// ESRLoss is the error-to-signal ratio: the mean squared error normalised by
// the target signal's energy, so quiet and loud passages weigh equally.
type ESRLoss struct{}

// NewESRLoss creates an error-to-signal-ratio loss.
func NewESRLoss() *ESRLoss {
	return &ESRLoss{}
}

func (e *ESRLoss) Forward(output, target *tensor.Tensor) (float64, error) {
	if err := checkPair(output, target); err != nil {
		return 0, err
	}

	var sum float64
	for i, y := range output.Data {
		d := float64(target.Data[i]) - float64(y)
		sum += d * d
	}
	return sum / float64(output.NumElems) / signalEnergy(target), nil
}

func (e *ESRLoss) Backward(output, target *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkPair(output, target); err != nil {
		return nil, err
	}

	scale := 2.0 / (float64(output.NumElems) * signalEnergy(target))
	grad := tensor.EmptyLike(output)
	for i, y := range output.Data {
		grad.Data[i] = float32(scale * (float64(y) - float64(target.Data[i])))
	}
	return grad, nil
}

// PreEmphESRLoss applies a causal FIR pre-emphasis filter to both signals
// before computing the error-to-signal ratio, weighting the high-frequency
// content that perceptually dominates amp distortion.
type PreEmphESRLoss struct {
	coeffs []float32
	esr    *ESRLoss
}

// NewPreEmphESRLoss creates a pre-emphasised ESR loss with the given FIR
// coefficients.
func NewPreEmphESRLoss(coeffs []float32) (*PreEmphESRLoss, error) {
	if len(coeffs) == 0 {
		return nil, fmt.Errorf("pre-emphasis filter needs at least one coefficient")
	}
	return &PreEmphESRLoss{
		coeffs: append([]float32(nil), coeffs...),
		esr:    NewESRLoss(),
	}, nil
}

func (p *PreEmphESRLoss) Forward(output, target *tensor.Tensor) (float64, error) {
	if err := checkPair(output, target); err != nil {
		return 0, err
	}
	return p.esr.Forward(p.filter(output), p.filter(target))
}

func (p *PreEmphESRLoss) Backward(output, target *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkPair(output, target); err != nil {
		return nil, err
	}

	fOut, fTgt := p.filter(output), p.filter(target)
	fGrad, err := p.esr.Backward(fOut, fTgt)
	if err != nil {
		return nil, err
	}
	return p.adjoint(fGrad), nil
}

// filter runs the FIR along the time axis with zero initial state, keeping
// the signal length unchanged.
func (p *PreEmphESRLoss) filter(t *tensor.Tensor) *tensor.Tensor {
	out := tensor.EmptyLike(t)
	timeLen := t.Shape[0]
	frame := t.Strides[0]

	for ti := 0; ti < timeLen; ti++ {
		dst := out.Data[ti*frame : (ti+1)*frame]
		for k, c := range p.coeffs {
			src := ti - k
			if src < 0 {
				break
			}
			srcFrame := t.Data[src*frame : (src+1)*frame]
			for i, v := range srcFrame {
				dst[i] += c * v
			}
		}
	}
	return out
}

// adjoint applies the transpose of filter, mapping a gradient on the filtered
// signal back onto the raw signal.
func (p *PreEmphESRLoss) adjoint(g *tensor.Tensor) *tensor.Tensor {
	out := tensor.EmptyLike(g)
	timeLen := g.Shape[0]
	frame := g.Strides[0]

	for ti := 0; ti < timeLen; ti++ {
		dst := out.Data[ti*frame : (ti+1)*frame]
		for k, c := range p.coeffs {
			src := ti + k
			if src >= timeLen {
				break
			}
			srcFrame := g.Data[src*frame : (src+1)*frame]
			for i, v := range srcFrame {
				dst[i] += c * v
			}
		}
	}
	return out
}

// DCLoss penalises a DC offset between output and target: the squared
// difference of their per-segment time means, normalised by signal energy.
type DCLoss struct{}

// NewDCLoss creates a DC-offset loss.
func NewDCLoss() *DCLoss {
	return &DCLoss{}
}

func (d *DCLoss) Forward(output, target *tensor.Tensor) (float64, error) {
	if err := checkPair(output, target); err != nil {
		return 0, err
	}

	diffs := meanDiffs(output, target)
	var sum float64
	for _, v := range diffs {
		sum += v * v
	}
	return sum / float64(len(diffs)) / signalEnergy(target), nil
}

func (d *DCLoss) Backward(output, target *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkPair(output, target); err != nil {
		return nil, err
	}

	diffs := meanDiffs(output, target)
	timeLen := output.Shape[0]
	frame := output.Strides[0]
	scale := 2.0 / (float64(len(diffs)) * float64(timeLen) * signalEnergy(target))

	grad := tensor.EmptyLike(output)
	for ti := 0; ti < timeLen; ti++ {
		dst := grad.Data[ti*frame : (ti+1)*frame]
		for i := range dst {
			dst[i] = float32(scale * diffs[i])
		}
	}
	return grad, nil
}

// meanDiffs returns mean(output) - mean(target) over the time axis per
// (segment, channel) pair.
func meanDiffs(output, target *tensor.Tensor) []float64 {
	timeLen := output.Shape[0]
	frame := output.Strides[0]

	diffs := make([]float64, frame)
	for ti := 0; ti < timeLen; ti++ {
		off := ti * frame
		for i := range diffs {
			diffs[i] += float64(output.Data[off+i]) - float64(target.Data[off+i])
		}
	}
	for i := range diffs {
		diffs[i] /= float64(timeLen)
	}
	return diffs
}

type lossTerm struct {
	name   string
	weight float64
	fn     Loss
}

// LossWrapper combines weighted sub-losses into one scalar used for both
// backpropagation and reporting. Terms are ordered by name so the combination
// is deterministic.
type LossWrapper struct {
	terms []lossTerm
}

// NewLossWrapper builds a weighted loss from name -> weight pairs. Recognised
// names are ESR, ESRPre and DC; preFilt supplies the FIR coefficients for
// ESRPre.
func NewLossWrapper(weights map[string]float64, preFilt []float32) (*LossWrapper, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("no loss functions selected")
	}

	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)

	w := &LossWrapper{}
	for _, name := range names {
		var fn Loss
		switch name {
		case "ESR":
			fn = NewESRLoss()
		case "ESRPre":
			pre, err := NewPreEmphESRLoss(preFilt)
			if err != nil {
				return nil, err
			}
			fn = pre
		case "DC":
			fn = NewDCLoss()
		default:
			return nil, fmt.Errorf("unknown loss function %q (want ESR, ESRPre or DC)", name)
		}
		w.terms = append(w.terms, lossTerm{name: name, weight: weights[name], fn: fn})
	}

	return w, nil
}

func (w *LossWrapper) Forward(output, target *tensor.Tensor) (float64, error) {
	var total float64
	for _, term := range w.terms {
		loss, err := term.fn.Forward(output, target)
		if err != nil {
			return 0, fmt.Errorf("%s loss: %w", term.name, err)
		}
		total += term.weight * loss
	}
	return total, nil
}

func (w *LossWrapper) Backward(output, target *tensor.Tensor) (*tensor.Tensor, error) {
	grad := tensor.EmptyLike(output)
	for _, term := range w.terms {
		g, err := term.fn.Backward(output, target)
		if err != nil {
			return nil, fmt.Errorf("%s loss gradient: %w", term.name, err)
		}
		weight := float32(term.weight)
		for i, v := range g.Data {
			grad.Data[i] += weight * v
		}
	}
	return grad, nil
}
