package training

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Chunked processing must reproduce one-shot processing exactly, because the
// hidden state carries across chunk boundaries.
func TestProcessChunkedMatchesOneShot(t *testing.T) {
	input, target := rampData(t, 25, 2)

	oneShot := smallModel(t, 6)
	chunked := smallModel(t, 6)
	lossFn := NewESRLoss()

	refOut, refLoss, err := ProcessChunked(input, target, oneShot, lossFn, 25)
	require.NoError(t, err)

	// Chunk length 10 leaves a remainder chunk of 5.
	out, loss, err := ProcessChunked(input, target, chunked, lossFn, 10)
	require.NoError(t, err)

	require.True(t, refOut.Equal(out), "chunked output diverged from one-shot output")
	require.Equal(t, refLoss, loss)
}

func TestProcessChunkedResetsHiddenState(t *testing.T) {
	input, target := rampData(t, 20, 1)
	model := smallModel(t, 6)
	lossFn := NewESRLoss()

	first, _, err := ProcessChunked(input, target, model, lossFn, 7)
	require.NoError(t, err)
	second, _, err := ProcessChunked(input, target, model, lossFn, 7)
	require.NoError(t, err)

	require.True(t, first.Equal(second), "second pass saw stale hidden state")
}

func TestProcessChunkedLeavesInferenceMode(t *testing.T) {
	input, target := rampData(t, 12, 1)
	model := smallModel(t, 4)

	_, _, err := ProcessChunked(input, target, model, NewESRLoss(), 12)
	require.NoError(t, err)

	// No history is recorded in inference mode, so Backward must refuse.
	out, err := model.Forward(input)
	require.NoError(t, err)
	require.Error(t, model.Backward(out))
}

func TestProcessChunkedValidation(t *testing.T) {
	input, target := rampData(t, 12, 1)
	model := smallModel(t, 4)
	lossFn := NewESRLoss()

	_, _, err := ProcessChunked(input, target, model, lossFn, 0)
	require.Error(t, err)

	bad := mustTensor(t, []int{10, 1, 1}, make([]float32, 10))
	_, _, err = ProcessChunked(input, bad, model, lossFn, 5)
	require.Error(t, err)
}

func TestSummarize(t *testing.T) {
	output := mustTensor(t, []int{4, 1, 1}, []float32{1, 2, 3, 4})
	target := mustTensor(t, []int{4, 1, 1}, []float32{1.5, 2.5, 3.5, 4.5})

	summary, err := Summarize(output, target)
	require.NoError(t, err)
	require.InDelta(t, 0.5, summary.MAE, 1e-6)
	require.InDelta(t, 0.5, summary.RMSE, 1e-6)
	require.InDelta(t, 1.0, summary.Correlation, 1e-6)
}
