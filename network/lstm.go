package network

import (
	"math/rand"
)

// lstmCell implements a standard LSTM block with gate order i, f, g, o and
// separate input/hidden bias vectors.
type lstmCell struct {
	in, hidden int
	wih        *Parameter // [4H, in]
	whh        *Parameter // [4H, hidden]
	bih        *Parameter // [4H]
	bhh        *Parameter // [4H]

	h, c    []float32 // carried state, [batch*hidden]
	history []*lstmStep

	dh, dc []float32 // recurrent carries during a Backward pass
}

type lstmStep struct {
	x, hPrev, cPrev []float32
	i, f, g, o, c   []float32
}

func newLSTMCell(prefix string, in, hidden int, bound float32, rng *rand.Rand) *lstmCell {
	return &lstmCell{
		in:     in,
		hidden: hidden,
		wih:    newParameter(prefix+".weight_ih", []int{4 * hidden, in}, bound, rng),
		whh:    newParameter(prefix+".weight_hh", []int{4 * hidden, hidden}, bound, rng),
		bih:    newParameter(prefix+".bias_ih", []int{4 * hidden}, bound, rng),
		bhh:    newParameter(prefix+".bias_hh", []int{4 * hidden}, bound, rng),
	}
}

func (l *lstmCell) inputSize() int  { return l.in }
func (l *lstmCell) hiddenSize() int { return l.hidden }

func (l *lstmCell) forwardStep(x []float32, batch int, record bool) []float32 {
	H := l.hidden
	if len(l.h) != batch*H {
		l.h = make([]float32, batch*H)
		l.c = make([]float32, batch*H)
	}

	var step *lstmStep
	if record {
		step = &lstmStep{
			x:     append([]float32(nil), x...),
			hPrev: append([]float32(nil), l.h...),
			cPrev: append([]float32(nil), l.c...),
			i:     make([]float32, batch*H),
			f:     make([]float32, batch*H),
			g:     make([]float32, batch*H),
			o:     make([]float32, batch*H),
			c:     make([]float32, batch*H),
		}
	}

	newH := make([]float32, batch*H)
	newC := make([]float32, batch*H)
	wih, whh := l.wih.Data, l.whh.Data
	bih, bhh := l.bih.Data, l.bhh.Data

	for b := 0; b < batch; b++ {
		xRow := x[b*l.in : (b+1)*l.in]
		hRow := l.h[b*H : (b+1)*H]
		cRow := l.c[b*H : (b+1)*H]
		for k := 0; k < H; k++ {
			var z [4]float32
			for gate := 0; gate < 4; gate++ {
				row := gate*H + k
				sum := bih[row] + bhh[row]
				wiRow := wih[row*l.in : (row+1)*l.in]
				for i, xv := range xRow {
					sum += wiRow[i] * xv
				}
				whRow := whh[row*H : (row+1)*H]
				for i, hv := range hRow {
					sum += whRow[i] * hv
				}
				z[gate] = sum
			}

			ig := sigmoid32(z[0])
			fg := sigmoid32(z[1])
			gg := tanh32(z[2])
			og := sigmoid32(z[3])
			cNew := fg*cRow[k] + ig*gg

			idx := b*H + k
			newC[idx] = cNew
			newH[idx] = og * tanh32(cNew)
			if record {
				step.i[idx] = ig
				step.f[idx] = fg
				step.g[idx] = gg
				step.o[idx] = og
				step.c[idx] = cNew
			}
		}
	}

	l.h, l.c = newH, newC
	if record {
		l.history = append(l.history, step)
	}
	return l.h
}

func (l *lstmCell) historyLen() int {
	return len(l.history)
}

func (l *lstmCell) beginBackward(batch int) {
	l.dh = make([]float32, batch*l.hidden)
	l.dc = make([]float32, batch*l.hidden)
}

func (l *lstmCell) backwardStep(step int, dhIn []float32, batch int) []float32 {
	H := l.hidden
	s := l.history[step]
	wih, whh := l.wih.Data, l.whh.Data
	gwih, gwhh := l.wih.Grad, l.whh.Grad
	gbih, gbhh := l.bih.Grad, l.bhh.Grad

	dx := make([]float32, batch*l.in)
	dhPrev := make([]float32, batch*H)
	dcPrev := make([]float32, batch*H)

	for b := 0; b < batch; b++ {
		xRow := s.x[b*l.in : (b+1)*l.in]
		hPrevRow := s.hPrev[b*H : (b+1)*H]
		dxRow := dx[b*l.in : (b+1)*l.in]
		dhPrevRow := dhPrev[b*H : (b+1)*H]
		for k := 0; k < H; k++ {
			idx := b*H + k
			dh := dhIn[idx] + l.dh[idx]

			tc := tanh32(s.c[idx])
			do := dh * tc
			dct := l.dc[idx] + dh*s.o[idx]*(1-tc*tc)

			di := dct * s.g[idx]
			df := dct * s.cPrev[idx]
			dg := dct * s.i[idx]
			dcPrev[idx] = dct * s.f[idx]

			dz := [4]float32{
				di * s.i[idx] * (1 - s.i[idx]),
				df * s.f[idx] * (1 - s.f[idx]),
				dg * (1 - s.g[idx]*s.g[idx]),
				do * s.o[idx] * (1 - s.o[idx]),
			}

			for gate := 0; gate < 4; gate++ {
				gz := dz[gate]
				if gz == 0 {
					continue
				}
				row := gate*H + k
				gbih[row] += gz
				gbhh[row] += gz

				wiRow := wih[row*l.in : (row+1)*l.in]
				gwiRow := gwih[row*l.in : (row+1)*l.in]
				for i, xv := range xRow {
					gwiRow[i] += gz * xv
					dxRow[i] += gz * wiRow[i]
				}
				whRow := whh[row*H : (row+1)*H]
				gwhRow := gwhh[row*H : (row+1)*H]
				for i, hv := range hPrevRow {
					gwhRow[i] += gz * hv
					dhPrevRow[i] += gz * whRow[i]
				}
			}
		}
	}

	l.dh, l.dc = dhPrev, dcPrev
	return dx
}

func (l *lstmCell) detach() {
	l.history = l.history[:0]
}

func (l *lstmCell) reset() {
	l.h, l.c = nil, nil
	l.history = l.history[:0]
}

func (l *lstmCell) parameters() []*Parameter {
	return []*Parameter{l.wih, l.whh, l.bih, l.bhh}
}
