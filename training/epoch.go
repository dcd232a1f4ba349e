package training

import (
	"fmt"
	"math/rand"

	"github.com/atljeremy/Automated-GuitarAmpModelling/network"
	"github.com/atljeremy/Automated-GuitarAmpModelling/optimizer"
	"github.com/atljeremy/Automated-GuitarAmpModelling/tensor"
)

// TrainEpoch runs one pass of truncated backpropagation-through-time over
// every training segment and returns the mean per-batch loss.
//
// Segments are visited in a fresh random order each epoch and grouped into
// mini-batches of batchSize (the final batch may be smaller). Each batch is
// primed by running the first initLen samples forward purely to populate
// hidden state, then trained in chunks of upFr samples: forward, loss,
// backward, optimizer step, hidden-state detach. Detaching preserves the
// hidden state's value while severing its link to already-updated weights,
// which is what bounds the cost of each backward pass. Hidden state is reset
// between batches because each batch is an independent set of sequences.
func TrainEpoch(input, target *tensor.Tensor, model network.Model, lossFn Loss,
	optim optimizer.Optimizer, batchSize, initLen, upFr int, rng *rand.Rand) (float64, error) {

	if input.Dim() != 3 || target.Dim() != 3 {
		return 0, fmt.Errorf("expected [time, segment, channel] tensors, got %v and %v", input.Shape, target.Shape)
	}
	if input.Shape[0] != target.Shape[0] || input.Shape[1] != target.Shape[1] {
		return 0, fmt.Errorf("input %v and target %v disagree on time or segment dimensions",
			input.Shape, target.Shape)
	}
	if batchSize <= 0 {
		return 0, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if upFr <= 0 {
		return 0, fmt.Errorf("update interval must be positive, got %d", upFr)
	}

	timeLen, segCount := input.Shape[0], input.Shape[1]
	if initLen < 0 || initLen >= timeLen {
		return 0, fmt.Errorf("priming length %d out of range for segment length %d", initLen, timeLen)
	}

	model.SetTraining(true)
	shuffle := rng.Perm(segCount)

	var epochLoss float64
	batches := 0
	for batchStart := 0; batchStart < segCount; batchStart += batchSize {
		batchEnd := batchStart + batchSize
		if batchEnd > segCount {
			batchEnd = segCount
		}
		indices := shuffle[batchStart:batchEnd]

		inputBatch, err := input.GatherSegments(indices)
		if err != nil {
			return 0, err
		}
		targetBatch, err := target.GatherSegments(indices)
		if err != nil {
			return 0, err
		}

		// Priming pass: populate hidden state from a cold start, then drop
		// the recorded history and any gradients before real updates begin.
		if initLen > 0 {
			prime, err := inputBatch.TimeSlice(0, initLen)
			if err != nil {
				return 0, err
			}
			if _, err := model.Forward(prime); err != nil {
				return 0, fmt.Errorf("priming pass: %w", err)
			}
			model.DetachHidden()
		}
		model.ZeroGrad()

		var batchLoss float64
		steps := 0
		for start := initLen; start < timeLen; start += upFr {
			end := start + upFr
			if end > timeLen {
				end = timeLen
			}

			x, err := inputBatch.TimeSlice(start, end)
			if err != nil {
				return 0, err
			}
			y, err := targetBatch.TimeSlice(start, end)
			if err != nil {
				return 0, err
			}

			output, err := model.Forward(x)
			if err != nil {
				return 0, fmt.Errorf("forward at sample %d: %w", start, err)
			}

			loss, err := lossFn.Forward(output, y)
			if err != nil {
				return 0, err
			}
			grad, err := lossFn.Backward(output, y)
			if err != nil {
				return 0, err
			}
			if err := model.Backward(grad); err != nil {
				return 0, fmt.Errorf("backward at sample %d: %w", start, err)
			}
			if err := optim.Step(); err != nil {
				return 0, err
			}

			model.DetachHidden()
			model.ZeroGrad()

			batchLoss += loss
			steps++
		}

		epochLoss += batchLoss / float64(steps)
		batches++
		model.ResetHidden()
	}

	return epochLoss / float64(batches), nil
}
