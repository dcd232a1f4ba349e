package optimizer

import (
	"fmt"

	"github.com/atljeremy/Automated-GuitarAmpModelling/checkpoints"
	"github.com/atljeremy/Automated-GuitarAmpModelling/network"
)

// SGDConfig holds configuration for the SGD optimizer.
type SGDConfig struct {
	LearningRate float32
	Momentum     float32
	WeightDecay  float32
}

// DefaultSGDConfig returns default SGD optimizer configuration.
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.0,
		WeightDecay:  0.0,
	}
}

// SGDOptimizer applies plain gradient descent with optional momentum.
type SGDOptimizer struct {
	config SGDConfig
	params []*network.Parameter

	momentum [][]float32

	stepCount uint64
}

// NewSGDOptimizer creates an SGD optimizer over the given parameters.
func NewSGDOptimizer(config SGDConfig, params []*network.Parameter) (*SGDOptimizer, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}
	if config.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %g", config.LearningRate)
	}

	opt := &SGDOptimizer{
		config:   config,
		params:   params,
		momentum: make([][]float32, len(params)),
	}
	for i, p := range params {
		opt.momentum[i] = make([]float32, len(p.Data))
	}
	return opt, nil
}

// Step applies one SGD update from the gradients accumulated on the
// parameters.
func (s *SGDOptimizer) Step() error {
	s.stepCount++

	lr := s.config.LearningRate
	mu := s.config.Momentum
	wd := s.config.WeightDecay

	for i, p := range s.params {
		m := s.momentum[i]
		for j := range p.Data {
			g := p.Grad[j]
			if wd != 0 {
				g += wd * p.Data[j]
			}
			if mu != 0 {
				m[j] = mu*m[j] + g
				g = m[j]
			}
			p.Data[j] -= lr * g
		}
	}

	return nil
}

// GetStepCount returns the current optimization step number.
func (s *SGDOptimizer) GetStepCount() uint64 {
	return s.stepCount
}

// UpdateLearningRate updates the learning rate.
func (s *SGDOptimizer) UpdateLearningRate(lr float32) {
	s.config.LearningRate = lr
}

// GetState extracts optimizer state for checkpointing.
func (s *SGDOptimizer) GetState() (*checkpoints.OptimizerState, error) {
	state := &checkpoints.OptimizerState{
		Type: "SGD",
		Parameters: map[string]interface{}{
			"learning_rate": s.config.LearningRate,
			"momentum":      s.config.Momentum,
			"weight_decay":  s.config.WeightDecay,
			"step_count":    s.stepCount,
		},
	}

	for i, p := range s.params {
		m := make([]float32, len(s.momentum[i]))
		copy(m, s.momentum[i])
		state.StateData = append(state.StateData, checkpoints.OptimizerTensor{
			Name:      fmt.Sprintf("momentum_%d", i),
			Shape:     append([]int(nil), p.Shape...),
			Data:      m,
			StateType: "momentum",
		})
	}

	return state, nil
}

// LoadState restores optimizer state from a checkpoint.
func (s *SGDOptimizer) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("SGD", state); err != nil {
		return err
	}

	if sc, ok := state.Parameters["step_count"]; ok {
		switch v := sc.(type) {
		case float64:
			s.stepCount = uint64(v)
		case uint64:
			s.stepCount = v
		}
	}

	for _, t := range state.StateData {
		idx := extractBufferIndex(t.Name)
		if idx < 0 || idx >= len(s.params) {
			return fmt.Errorf("state tensor %q does not map to a parameter buffer", t.Name)
		}
		if t.StateType != "momentum" {
			return fmt.Errorf("unknown SGD state type %q", t.StateType)
		}
		if len(t.Data) != len(s.momentum[idx]) {
			return fmt.Errorf("state tensor %q has %d elements, buffer has %d",
				t.Name, len(t.Data), len(s.momentum[idx]))
		}
		copy(s.momentum[idx], t.Data)
	}

	return nil
}
