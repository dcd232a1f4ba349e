package training

import (
	"fmt"

	"github.com/atljeremy/Automated-GuitarAmpModelling/network"
	"github.com/atljeremy/Automated-GuitarAmpModelling/tensor"
)

// ProcessChunked runs the model over a full subset in consecutive time chunks
// without gradient tracking, returning the assembled full-length output and
// the scalar loss over the whole subset.
//
// Hidden state carries continuously across chunk boundaries, so the assembled
// output matches one-shot processing exactly; only peak memory changes.
// If the subset length is not a multiple of chunkLen, the remainder is
// processed in one final shorter chunk. Hidden state is reset once the whole
// subset has been processed.
func ProcessChunked(input, target *tensor.Tensor, model network.Model, lossFn Loss,
	chunkLen int) (*tensor.Tensor, float64, error) {

	if input.Dim() != 3 || target.Dim() != 3 {
		return nil, 0, fmt.Errorf("expected [time, segment, channel] tensors, got %v and %v",
			input.Shape, target.Shape)
	}
	if input.Shape[0] != target.Shape[0] || input.Shape[1] != target.Shape[1] {
		return nil, 0, fmt.Errorf("input %v and target %v disagree on time or segment dimensions",
			input.Shape, target.Shape)
	}
	if chunkLen <= 0 {
		return nil, 0, fmt.Errorf("chunk length must be positive, got %d", chunkLen)
	}

	model.SetTraining(false)

	timeLen := input.Shape[0]
	output, err := tensor.Zeros(target.Shape)
	if err != nil {
		return nil, 0, err
	}

	for start := 0; start < timeLen; start += chunkLen {
		end := start + chunkLen
		if end > timeLen {
			end = timeLen
		}

		x, err := input.TimeSlice(start, end)
		if err != nil {
			return nil, 0, err
		}
		chunkOut, err := model.Forward(x)
		if err != nil {
			return nil, 0, fmt.Errorf("inference at sample %d: %w", start, err)
		}

		dst, err := output.TimeSlice(start, end)
		if err != nil {
			return nil, 0, err
		}
		if err := dst.CopyFrom(chunkOut); err != nil {
			return nil, 0, err
		}

		model.DetachHidden()
	}
	model.ResetHidden()

	loss, err := lossFn.Forward(output, target)
	if err != nil {
		return nil, 0, err
	}

	return output, loss, nil
}
