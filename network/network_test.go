package network

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atljeremy/Automated-GuitarAmpModelling/tensor"
)

func testSpec(unit UnitType) ModelSpec {
	return ModelSpec{
		InputSize:    1,
		OutputSize:   1,
		NumBlocks:    1,
		HiddenSize:   4,
		UnitType:     unit,
		SkipChannels: 1,
	}
}

func randomInput(t *testing.T, timeLen, batch, channels int, rng *rand.Rand) *tensor.Tensor {
	t.Helper()
	data := make([]float32, timeLen*batch*channels)
	for i := range data {
		data[i] = rng.Float32()*2 - 1
	}
	ten, err := tensor.NewTensor([]int{timeLen, batch, channels}, data)
	require.NoError(t, err)
	return ten
}

func TestNewRecNetValidation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	_, err := NewRecNet(ModelSpec{InputSize: 0, OutputSize: 1, HiddenSize: 4, UnitType: LSTM}, rng)
	require.Error(t, err)

	_, err = NewRecNet(ModelSpec{InputSize: 1, OutputSize: 1, HiddenSize: 4, UnitType: "ELMAN"}, rng)
	require.Error(t, err)

	_, err = NewRecNet(ModelSpec{InputSize: 1, OutputSize: 1, HiddenSize: 4, UnitType: GRU, SkipChannels: 2}, rng)
	require.Error(t, err, "skip wider than input must be rejected")
}

// Detaching hidden state must preserve its numeric value exactly: processing
// a sequence in chunks with DetachHidden between them must produce the same
// output as one uninterrupted pass.
func TestDetachPreservesHiddenValue(t *testing.T) {
	for _, unit := range []UnitType{LSTM, GRU, RNN} {
		t.Run(string(unit), func(t *testing.T) {
			rng := rand.New(rand.NewSource(7))
			input := randomInput(t, 30, 2, 1, rng)

			oneShot, err := NewRecNet(testSpec(unit), rand.New(rand.NewSource(3)))
			require.NoError(t, err)
			chunked, err := NewRecNet(testSpec(unit), rand.New(rand.NewSource(3)))
			require.NoError(t, err)

			full, err := oneShot.Forward(input)
			require.NoError(t, err)

			assembled := tensor.EmptyLike(full)
			for start := 0; start < 30; start += 10 {
				x, err := input.TimeSlice(start, start+10)
				require.NoError(t, err)
				out, err := chunked.Forward(x)
				require.NoError(t, err)
				dst, err := assembled.TimeSlice(start, start+10)
				require.NoError(t, err)
				require.NoError(t, dst.CopyFrom(out))
				chunked.DetachHidden()
			}

			require.True(t, full.Equal(assembled),
				"chunked output with detach must match one-shot output exactly")
		})
	}
}

// After ResetHidden the model must behave as if freshly constructed.
func TestResetHiddenRestartsColdState(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	input := randomInput(t, 20, 3, 1, rng)

	net, err := NewRecNet(testSpec(LSTM), rand.New(rand.NewSource(5)))
	require.NoError(t, err)

	first, err := net.Forward(input)
	require.NoError(t, err)
	net.ResetHidden()

	second, err := net.Forward(input)
	require.NoError(t, err)
	require.True(t, first.Equal(second), "same input after reset must give the same output")

	// Without a reset the carried state must change the output.
	third, err := net.Forward(input)
	require.NoError(t, err)
	require.False(t, second.Equal(third), "carried hidden state should alter the output")
}

func TestBackwardRequiresRecordedSteps(t *testing.T) {
	net, err := NewRecNet(testSpec(GRU), rand.New(rand.NewSource(2)))
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(4))
	input := randomInput(t, 5, 1, 1, rng)

	// Inference mode records nothing, so there is no history to traverse.
	net.SetTraining(false)
	_, err = net.Forward(input)
	require.NoError(t, err)
	grad := tensor.EmptyLike(input)
	require.Error(t, net.Backward(grad))

	// After detaching, only newly recorded steps are traversable.
	net.SetTraining(true)
	_, err = net.Forward(input)
	require.NoError(t, err)
	net.DetachHidden()
	require.Error(t, net.Backward(grad), "history severed by detach must not be traversable")
}

// sumSquares is the simple scalar objective used by the gradient checks.
func sumSquares(out *tensor.Tensor) float64 {
	var s float64
	for _, v := range out.Data {
		s += float64(v) * float64(v)
	}
	return s
}

func sumSquaresGrad(out *tensor.Tensor) *tensor.Tensor {
	g := tensor.EmptyLike(out)
	for i, v := range out.Data {
		g.Data[i] = 2 * v
	}
	return g
}

// Analytic gradients from Backward must agree with central-difference
// numerical gradients of the forward pass for every cell type.
func TestParameterGradients(t *testing.T) {
	for _, unit := range []UnitType{LSTM, GRU, RNN} {
		t.Run(string(unit), func(t *testing.T) {
			rng := rand.New(rand.NewSource(13))
			input := randomInput(t, 6, 2, 1, rng)

			net, err := NewRecNet(testSpec(unit), rand.New(rand.NewSource(17)))
			require.NoError(t, err)

			net.SetTraining(true)
			out, err := net.Forward(input)
			require.NoError(t, err)
			net.ZeroGrad()
			require.NoError(t, net.Backward(sumSquaresGrad(out)))

			const eps = 1e-2
			for _, p := range net.Parameters() {
				for j := 0; j < len(p.Data); j++ {
					orig := p.Data[j]

					p.Data[j] = orig + eps
					net.ResetHidden()
					outPlus, err := net.Forward(input)
					require.NoError(t, err)
					net.DetachHidden()

					p.Data[j] = orig - eps
					net.ResetHidden()
					outMinus, err := net.Forward(input)
					require.NoError(t, err)
					net.DetachHidden()

					p.Data[j] = orig
					numeric := (sumSquares(outPlus) - sumSquares(outMinus)) / (2 * eps)
					analytic := float64(p.Grad[j])

					tol := 1e-2 + 0.05*math.Abs(numeric)
					require.InDeltaf(t, numeric, analytic, tol,
						"%s[%d]: analytic %g vs numeric %g", p.Name, j, analytic, numeric)
				}
			}
		})
	}
}

func TestParameterNamesStable(t *testing.T) {
	net, err := NewRecNet(ModelSpec{
		InputSize:  1,
		OutputSize: 1,
		NumBlocks:  2,
		HiddenSize: 3,
		UnitType:   LSTM,
	}, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	var names []string
	for _, p := range net.Parameters() {
		names = append(names, p.Name)
	}
	require.Equal(t, []string{
		"rec.0.weight_ih", "rec.0.weight_hh", "rec.0.bias_ih", "rec.0.bias_hh",
		"rec.1.weight_ih", "rec.1.weight_hh", "rec.1.bias_ih", "rec.1.bias_hh",
		"lin.weight", "lin.bias",
	}, names)
}

func TestSkipConnectionAddsInput(t *testing.T) {
	// Zero all weights: the readout contributes only bias, so the output is
	// bias + skipped input.
	net, err := NewRecNet(testSpec(LSTM), rand.New(rand.NewSource(9)))
	require.NoError(t, err)
	for _, p := range net.Parameters() {
		for i := range p.Data {
			p.Data[i] = 0
		}
	}

	input, err := tensor.NewTensor([]int{2, 1, 1}, []float32{0.25, -0.5})
	require.NoError(t, err)
	out, err := net.Forward(input)
	require.NoError(t, err)
	require.Equal(t, []float32{0.25, -0.5}, out.Data)
}
