package optimizer

import (
	"fmt"

	"github.com/atljeremy/Automated-GuitarAmpModelling/checkpoints"
)

// Optimizer defines the common interface for all optimizers. The interface
// includes state save/restore so an interrupted run can resume without losing
// momentum and variance accumulators.
type Optimizer interface {
	// Step applies one update from the gradients currently accumulated on
	// the parameters.
	Step() error

	// GetState extracts optimizer state for checkpointing.
	GetState() (*checkpoints.OptimizerState, error)

	// LoadState restores optimizer state from a checkpoint.
	LoadState(state *checkpoints.OptimizerState) error

	// GetStepCount returns the current optimization step number.
	GetStepCount() uint64

	// UpdateLearningRate updates the learning rate.
	UpdateLearningRate(lr float32)
}

// extractBufferIndex extracts the buffer index from state tensor names like
// "momentum_0" or "variance_1".
func extractBufferIndex(name string) int {
	var idx int
	lastUnderscoreIdx := -1
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '_' {
			lastUnderscoreIdx = i
			break
		}
	}

	if lastUnderscoreIdx == -1 {
		return -1
	}

	if n, err := fmt.Sscanf(name[lastUnderscoreIdx+1:], "%d", &idx); n == 1 && err == nil {
		return idx
	}
	return -1
}

// validateStateType ensures the state type matches the optimizer.
func validateStateType(optimizerType string, state *checkpoints.OptimizerState) error {
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}
