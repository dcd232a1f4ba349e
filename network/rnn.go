package network

import (
	"math/rand"
)

// rnnCell implements a vanilla tanh recurrent block.
type rnnCell struct {
	in, hidden int
	wih        *Parameter // [H, in]
	whh        *Parameter // [H, hidden]
	bih        *Parameter // [H]
	bhh        *Parameter // [H]

	h       []float32
	history []*rnnStep

	dh []float32
}

type rnnStep struct {
	x, hPrev, h []float32
}

func newRNNCell(prefix string, in, hidden int, bound float32, rng *rand.Rand) *rnnCell {
	return &rnnCell{
		in:     in,
		hidden: hidden,
		wih:    newParameter(prefix+".weight_ih", []int{hidden, in}, bound, rng),
		whh:    newParameter(prefix+".weight_hh", []int{hidden, hidden}, bound, rng),
		bih:    newParameter(prefix+".bias_ih", []int{hidden}, bound, rng),
		bhh:    newParameter(prefix+".bias_hh", []int{hidden}, bound, rng),
	}
}

func (r *rnnCell) inputSize() int  { return r.in }
func (r *rnnCell) hiddenSize() int { return r.hidden }

func (r *rnnCell) forwardStep(x []float32, batch int, record bool) []float32 {
	H := r.hidden
	if len(r.h) != batch*H {
		r.h = make([]float32, batch*H)
	}

	newH := make([]float32, batch*H)
	wih, whh := r.wih.Data, r.whh.Data
	bih, bhh := r.bih.Data, r.bhh.Data

	for b := 0; b < batch; b++ {
		xRow := x[b*r.in : (b+1)*r.in]
		hRow := r.h[b*H : (b+1)*H]
		for k := 0; k < H; k++ {
			sum := bih[k] + bhh[k]
			wiRow := wih[k*r.in : (k+1)*r.in]
			for i, xv := range xRow {
				sum += wiRow[i] * xv
			}
			whRow := whh[k*H : (k+1)*H]
			for i, hv := range hRow {
				sum += whRow[i] * hv
			}
			newH[b*H+k] = tanh32(sum)
		}
	}

	if record {
		r.history = append(r.history, &rnnStep{
			x:     append([]float32(nil), x...),
			hPrev: append([]float32(nil), r.h...),
			h:     append([]float32(nil), newH...),
		})
	}
	r.h = newH
	return r.h
}

func (r *rnnCell) historyLen() int {
	return len(r.history)
}

func (r *rnnCell) beginBackward(batch int) {
	r.dh = make([]float32, batch*r.hidden)
}

func (r *rnnCell) backwardStep(step int, dhIn []float32, batch int) []float32 {
	H := r.hidden
	s := r.history[step]
	wih, whh := r.wih.Data, r.whh.Data
	gwih, gwhh := r.wih.Grad, r.whh.Grad
	gbih, gbhh := r.bih.Grad, r.bhh.Grad

	dx := make([]float32, batch*r.in)
	dhPrev := make([]float32, batch*H)

	for b := 0; b < batch; b++ {
		xRow := s.x[b*r.in : (b+1)*r.in]
		hPrevRow := s.hPrev[b*H : (b+1)*H]
		dxRow := dx[b*r.in : (b+1)*r.in]
		dhPrevRow := dhPrev[b*H : (b+1)*H]
		for k := 0; k < H; k++ {
			idx := b*H + k
			h := s.h[idx]
			dz := (dhIn[idx] + r.dh[idx]) * (1 - h*h)
			if dz == 0 {
				continue
			}

			gbih[k] += dz
			gbhh[k] += dz
			wiRow := wih[k*r.in : (k+1)*r.in]
			gwiRow := gwih[k*r.in : (k+1)*r.in]
			for i, xv := range xRow {
				gwiRow[i] += dz * xv
				dxRow[i] += dz * wiRow[i]
			}
			whRow := whh[k*H : (k+1)*H]
			gwhRow := gwhh[k*H : (k+1)*H]
			for i, hv := range hPrevRow {
				gwhRow[i] += dz * hv
				dhPrevRow[i] += dz * whRow[i]
			}
		}
	}

	r.dh = dhPrev
	return dx
}

func (r *rnnCell) detach() {
	r.history = r.history[:0]
}

func (r *rnnCell) reset() {
	r.h = nil
	r.history = r.history[:0]
}

func (r *rnnCell) parameters() []*Parameter {
	return []*Parameter{r.wih, r.whh, r.bih, r.bhh}
}
