package optimizer

import (
	"fmt"
	"math"

	"github.com/atljeremy/Automated-GuitarAmpModelling/checkpoints"
	"github.com/atljeremy/Automated-GuitarAmpModelling/network"
)

// AdamConfig holds configuration for the Adam optimizer.
type AdamConfig struct {
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32
}

// DefaultAdamConfig returns default Adam optimizer configuration.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// AdamOptimizer keeps a first- and second-moment buffer per parameter tensor
// and applies bias-corrected updates.
type AdamOptimizer struct {
	config AdamConfig
	params []*network.Parameter

	momentum [][]float32
	variance [][]float32

	stepCount uint64
}

// NewAdamOptimizer creates an Adam optimizer over the given parameters.
func NewAdamOptimizer(config AdamConfig, params []*network.Parameter) (*AdamOptimizer, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}
	if config.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %g", config.LearningRate)
	}

	opt := &AdamOptimizer{
		config:   config,
		params:   params,
		momentum: make([][]float32, len(params)),
		variance: make([][]float32, len(params)),
	}
	for i, p := range params {
		opt.momentum[i] = make([]float32, len(p.Data))
		opt.variance[i] = make([]float32, len(p.Data))
	}
	return opt, nil
}

// Step applies one Adam update from the gradients accumulated on the
// parameters.
func (a *AdamOptimizer) Step() error {
	a.stepCount++

	beta1 := float64(a.config.Beta1)
	beta2 := float64(a.config.Beta2)
	corr1 := 1 - math.Pow(beta1, float64(a.stepCount))
	corr2 := 1 - math.Pow(beta2, float64(a.stepCount))
	lr := float64(a.config.LearningRate)
	eps := float64(a.config.Epsilon)
	wd := float64(a.config.WeightDecay)

	for i, p := range a.params {
		m, v := a.momentum[i], a.variance[i]
		for j := range p.Data {
			g := float64(p.Grad[j])
			if wd != 0 {
				g += wd * float64(p.Data[j])
			}

			mj := beta1*float64(m[j]) + (1-beta1)*g
			vj := beta2*float64(v[j]) + (1-beta2)*g*g
			m[j] = float32(mj)
			v[j] = float32(vj)

			mHat := mj / corr1
			vHat := vj / corr2
			p.Data[j] -= float32(lr * mHat / (math.Sqrt(vHat) + eps))
		}
	}

	return nil
}

// GetStepCount returns the current optimization step number.
func (a *AdamOptimizer) GetStepCount() uint64 {
	return a.stepCount
}

// UpdateLearningRate updates the learning rate.
func (a *AdamOptimizer) UpdateLearningRate(lr float32) {
	a.config.LearningRate = lr
}

// GetState extracts optimizer state for checkpointing.
func (a *AdamOptimizer) GetState() (*checkpoints.OptimizerState, error) {
	state := &checkpoints.OptimizerState{
		Type: "Adam",
		Parameters: map[string]interface{}{
			"learning_rate": a.config.LearningRate,
			"beta1":         a.config.Beta1,
			"beta2":         a.config.Beta2,
			"epsilon":       a.config.Epsilon,
			"weight_decay":  a.config.WeightDecay,
			"step_count":    a.stepCount,
		},
	}

	for i, p := range a.params {
		m := make([]float32, len(a.momentum[i]))
		copy(m, a.momentum[i])
		v := make([]float32, len(a.variance[i]))
		copy(v, a.variance[i])

		state.StateData = append(state.StateData,
			checkpoints.OptimizerTensor{
				Name:      fmt.Sprintf("momentum_%d", i),
				Shape:     append([]int(nil), p.Shape...),
				Data:      m,
				StateType: "momentum",
			},
			checkpoints.OptimizerTensor{
				Name:      fmt.Sprintf("variance_%d", i),
				Shape:     append([]int(nil), p.Shape...),
				Data:      v,
				StateType: "variance",
			},
		)
	}

	return state, nil
}

// LoadState restores optimizer state from a checkpoint.
func (a *AdamOptimizer) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("Adam", state); err != nil {
		return err
	}

	if sc, ok := state.Parameters["step_count"]; ok {
		switch v := sc.(type) {
		case float64:
			a.stepCount = uint64(v)
		case uint64:
			a.stepCount = v
		}
	}

	for _, t := range state.StateData {
		idx := extractBufferIndex(t.Name)
		if idx < 0 || idx >= len(a.params) {
			return fmt.Errorf("state tensor %q does not map to a parameter buffer", t.Name)
		}

		var dst []float32
		switch t.StateType {
		case "momentum":
			dst = a.momentum[idx]
		case "variance":
			dst = a.variance[idx]
		default:
			return fmt.Errorf("unknown Adam state type %q", t.StateType)
		}

		if len(t.Data) != len(dst) {
			return fmt.Errorf("state tensor %q has %d elements, buffer has %d", t.Name, len(t.Data), len(dst))
		}
		copy(dst, t.Data)
	}

	return nil
}
