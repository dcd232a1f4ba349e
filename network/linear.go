package network

import (
	"math/rand"
)

// linear is the readout layer mapping the last block's hidden frame to output
// channels. It keeps its own history of input frames so Backward can form
// weight gradients per recorded step.
type linear struct {
	in, out int
	weight  *Parameter // [out, in]
	bias    *Parameter // [out]
	history [][]float32
}

func newLinear(prefix string, in, out int, bound float32, rng *rand.Rand) *linear {
	return &linear{
		in:     in,
		out:    out,
		weight: newParameter(prefix+".weight", []int{out, in}, bound, rng),
		bias:   newParameter(prefix+".bias", []int{out}, bound, rng),
	}
}

// forwardStep writes weight*h + bias for each batch element into dst, which
// must hold batch*out elements.
func (l *linear) forwardStep(h, dst []float32, batch int, record bool) {
	w, bias := l.weight.Data, l.bias.Data
	for b := 0; b < batch; b++ {
		hRow := h[b*l.in : (b+1)*l.in]
		dstRow := dst[b*l.out : (b+1)*l.out]
		for o := 0; o < l.out; o++ {
			sum := bias[o]
			wRow := w[o*l.in : (o+1)*l.in]
			for i, hv := range hRow {
				sum += wRow[i] * hv
			}
			dstRow[o] = sum
		}
	}
	if record {
		cached := make([]float32, batch*l.in)
		copy(cached, h)
		l.history = append(l.history, cached)
	}
}

func (l *linear) historyLen() int {
	return len(l.history)
}

// backwardStep accumulates weight/bias gradients for recorded step t and
// writes the gradient w.r.t. the hidden frame into dh (batch*in elements).
func (l *linear) backwardStep(step int, gradOut, dh []float32, batch int) {
	h := l.history[step]
	w := l.weight.Data
	gw, gb := l.weight.Grad, l.bias.Grad

	for i := range dh {
		dh[i] = 0
	}
	for b := 0; b < batch; b++ {
		hRow := h[b*l.in : (b+1)*l.in]
		gRow := gradOut[b*l.out : (b+1)*l.out]
		dhRow := dh[b*l.in : (b+1)*l.in]
		for o := 0; o < l.out; o++ {
			g := gRow[o]
			if g == 0 {
				continue
			}
			gb[o] += g
			wRow := w[o*l.in : (o+1)*l.in]
			gwRow := gw[o*l.in : (o+1)*l.in]
			for i, hv := range hRow {
				gwRow[i] += g * hv
				dhRow[i] += g * wRow[i]
			}
		}
	}
}

func (l *linear) detach() {
	l.history = l.history[:0]
}

func (l *linear) parameters() []*Parameter {
	return []*Parameter{l.weight, l.bias}
}
