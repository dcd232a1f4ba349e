package network

import (
	"math/rand"
)

// gruCell implements a GRU block with gate order r, z, n. The candidate gate
// applies the reset gate to the hidden-side affine term before the tanh,
// which is why the hidden bias must stay separate from the input bias.
type gruCell struct {
	in, hidden int
	wih        *Parameter // [3H, in]
	whh        *Parameter // [3H, hidden]
	bih        *Parameter // [3H]
	bhh        *Parameter // [3H]

	h       []float32
	history []*gruStep

	dh []float32
}

type gruStep struct {
	x, hPrev   []float32
	r, z, n    []float32
	hiddenCand []float32 // W_hn*h + b_hn, before the reset gate
}

func newGRUCell(prefix string, in, hidden int, bound float32, rng *rand.Rand) *gruCell {
	return &gruCell{
		in:     in,
		hidden: hidden,
		wih:    newParameter(prefix+".weight_ih", []int{3 * hidden, in}, bound, rng),
		whh:    newParameter(prefix+".weight_hh", []int{3 * hidden, hidden}, bound, rng),
		bih:    newParameter(prefix+".bias_ih", []int{3 * hidden}, bound, rng),
		bhh:    newParameter(prefix+".bias_hh", []int{3 * hidden}, bound, rng),
	}
}

func (g *gruCell) inputSize() int  { return g.in }
func (g *gruCell) hiddenSize() int { return g.hidden }

func (g *gruCell) forwardStep(x []float32, batch int, record bool) []float32 {
	H := g.hidden
	if len(g.h) != batch*H {
		g.h = make([]float32, batch*H)
	}

	var step *gruStep
	if record {
		step = &gruStep{
			x:          append([]float32(nil), x...),
			hPrev:      append([]float32(nil), g.h...),
			r:          make([]float32, batch*H),
			z:          make([]float32, batch*H),
			n:          make([]float32, batch*H),
			hiddenCand: make([]float32, batch*H),
		}
	}

	newH := make([]float32, batch*H)
	wih, whh := g.wih.Data, g.whh.Data
	bih, bhh := g.bih.Data, g.bhh.Data

	for b := 0; b < batch; b++ {
		xRow := x[b*g.in : (b+1)*g.in]
		hRow := g.h[b*H : (b+1)*H]
		for k := 0; k < H; k++ {
			var xAff, hAff [3]float32
			for gate := 0; gate < 3; gate++ {
				row := gate*H + k
				sumX := bih[row]
				wiRow := wih[row*g.in : (row+1)*g.in]
				for i, xv := range xRow {
					sumX += wiRow[i] * xv
				}
				sumH := bhh[row]
				whRow := whh[row*H : (row+1)*H]
				for i, hv := range hRow {
					sumH += whRow[i] * hv
				}
				xAff[gate] = sumX
				hAff[gate] = sumH
			}

			r := sigmoid32(xAff[0] + hAff[0])
			z := sigmoid32(xAff[1] + hAff[1])
			n := tanh32(xAff[2] + r*hAff[2])

			idx := b*H + k
			newH[idx] = (1-z)*n + z*hRow[k]
			if record {
				step.r[idx] = r
				step.z[idx] = z
				step.n[idx] = n
				step.hiddenCand[idx] = hAff[2]
			}
		}
	}

	g.h = newH
	if record {
		g.history = append(g.history, step)
	}
	return g.h
}

func (g *gruCell) historyLen() int {
	return len(g.history)
}

func (g *gruCell) beginBackward(batch int) {
	g.dh = make([]float32, batch*g.hidden)
}

func (g *gruCell) backwardStep(step int, dhIn []float32, batch int) []float32 {
	H := g.hidden
	s := g.history[step]
	wih, whh := g.wih.Data, g.whh.Data
	gwih, gwhh := g.wih.Grad, g.whh.Grad
	gbih, gbhh := g.bih.Grad, g.bhh.Grad

	dx := make([]float32, batch*g.in)
	dhPrev := make([]float32, batch*H)

	for b := 0; b < batch; b++ {
		xRow := s.x[b*g.in : (b+1)*g.in]
		hPrevRow := s.hPrev[b*H : (b+1)*H]
		dxRow := dx[b*g.in : (b+1)*g.in]
		dhPrevRow := dhPrev[b*H : (b+1)*H]
		for k := 0; k < H; k++ {
			idx := b*H + k
			dh := dhIn[idx] + g.dh[idx]

			r, z, n := s.r[idx], s.z[idx], s.n[idx]
			dz := dh * (hPrevRow[k] - n)
			dn := dh * (1 - z)
			dhPrevRow[k] += dh * z

			dnPre := dn * (1 - n*n)
			dr := dnPre * s.hiddenCand[idx]
			dHidCand := dnPre * r

			dzrPre := dr * r * (1 - r)
			dzzPre := dz * z * (1 - z)

			// gates: 0=r, 1=z, 2=n; the n gate's input and hidden sides take
			// different upstream gradients.
			xSide := [3]float32{dzrPre, dzzPre, dnPre}
			hSide := [3]float32{dzrPre, dzzPre, dHidCand}

			for gate := 0; gate < 3; gate++ {
				row := gate*H + k
				gx, gh := xSide[gate], hSide[gate]
				if gx != 0 {
					gbih[row] += gx
					wiRow := wih[row*g.in : (row+1)*g.in]
					gwiRow := gwih[row*g.in : (row+1)*g.in]
					for i, xv := range xRow {
						gwiRow[i] += gx * xv
						dxRow[i] += gx * wiRow[i]
					}
				}
				if gh != 0 {
					gbhh[row] += gh
					whRow := whh[row*H : (row+1)*H]
					gwhRow := gwhh[row*H : (row+1)*H]
					for i, hv := range hPrevRow {
						gwhRow[i] += gh * hv
						dhPrevRow[i] += gh * whRow[i]
					}
				}
			}
		}
	}

	g.dh = dhPrev
	return dx
}

func (g *gruCell) detach() {
	g.history = g.history[:0]
}

func (g *gruCell) reset() {
	g.h = nil
	g.history = g.history[:0]
}

func (g *gruCell) parameters() []*Parameter {
	return []*Parameter{g.wih, g.whh, g.bih, g.bhh}
}
