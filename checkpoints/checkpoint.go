package checkpoints

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/atljeremy/Automated-GuitarAmpModelling/network"
)

// Checkpoint represents a complete model state including weights, optimizer
// state, and training metadata. Two named variants are kept concurrently:
// "latest", overwritten after every epoch, and "best", overwritten only when
// validation loss improves.
type Checkpoint struct {
	// Model architecture and weights
	ModelSpec network.ModelSpec `json:"model_spec"`
	Weights   []WeightTensor    `json:"weights"`

	// Training state
	TrainingState TrainingState `json:"training_state"`

	// Optimizer state (if available)
	OptimizerState *OptimizerState `json:"optimizer_state,omitempty"`

	// Metadata
	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor represents a model parameter tensor with its data.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// TrainingState is the training-progress record: the mutable bookkeeping the
// training loop owns across epochs and process restarts. It is mutated once
// per epoch or validation event and persisted with every "latest" checkpoint.
type TrainingState struct {
	CurrentEpoch     int       `json:"current_epoch"`
	TotalHours       float64   `json:"total_time"`
	TrainingLosses   []float64 `json:"training_losses"`
	ValidationLosses []float64 `json:"validation_losses"`
	BestValLoss      float64   `json:"best_val_loss"`
	TrainEpochAvg    float64   `json:"train_epoch_av"`
	ValEpochAvg      float64   `json:"val_epoch_av"`
}

// NewTrainingState returns the record for a fresh model: epoch zero, empty
// loss histories and no best validation loss yet. MaxFloat64 stands in for
// +Inf, which encoding/json cannot represent.
func NewTrainingState() *TrainingState {
	return &TrainingState{
		BestValLoss: math.MaxFloat64,
	}
}

// Improves reports whether loss is strictly better than every validation loss
// recorded so far.
func (ts *TrainingState) Improves(loss float64) bool {
	return loss < ts.BestValLoss
}

// OptimizerState captures optimizer-specific state (momentum, variance, etc.).
type OptimizerState struct {
	Type       string                 `json:"type"`
	Parameters map[string]interface{} `json:"parameters"`
	StateData  []OptimizerTensor      `json:"state_data"`
}

// OptimizerTensor represents optimizer state tensors (momentum, variance, etc.).
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"`
}

// CheckpointMetadata contains checkpoint metadata.
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	RunID       string    `json:"run_id"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// Save writes the checkpoint to path as indented JSON, filling in metadata
// defaults first.
func (cp *Checkpoint) Save(path string) error {
	if cp.Metadata.Framework == "" {
		cp.Metadata.Framework = "amptrain"
		cp.Metadata.Version = "1.0.0"
	}
	if cp.Metadata.RunID == "" {
		cp.Metadata.RunID = uuid.NewString()
	}
	cp.Metadata.CreatedAt = time.Now()

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %v", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(cp); err != nil {
		return fmt.Errorf("failed to encode checkpoint: %v", err)
	}

	return nil
}

// Load reads a checkpoint from path.
func Load(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %v", err)
	}
	defer file.Close()

	var checkpoint Checkpoint
	decoder := json.NewDecoder(file)

	if err := decoder.Decode(&checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}

	return &checkpoint, nil
}

// ExtractWeights copies parameter data into serialisable weight tensors.
func ExtractWeights(params []*network.Parameter) []WeightTensor {
	weights := make([]WeightTensor, 0, len(params))
	for _, p := range params {
		data := make([]float32, len(p.Data))
		copy(data, p.Data)
		weights = append(weights, WeightTensor{
			Name:  p.Name,
			Shape: append([]int(nil), p.Shape...),
			Data:  data,
		})
	}
	return weights
}

// LoadWeights copies weight data back into the matching parameters by name.
func LoadWeights(weights []WeightTensor, params []*network.Parameter) error {
	byName := make(map[string]WeightTensor, len(weights))
	for _, w := range weights {
		byName[w.Name] = w
	}

	for _, p := range params {
		w, ok := byName[p.Name]
		if !ok {
			return fmt.Errorf("checkpoint is missing weight %q", p.Name)
		}
		if len(w.Data) != len(p.Data) {
			return fmt.Errorf("size mismatch for weight %q: checkpoint %d, model %d",
				p.Name, len(w.Data), len(p.Data))
		}
		copy(p.Data, w.Data)
	}

	return nil
}
