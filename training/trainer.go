package training

import (
	"fmt"
	"math/rand"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/atljeremy/Automated-GuitarAmpModelling/checkpoints"
	"github.com/atljeremy/Automated-GuitarAmpModelling/dataset"
	"github.com/atljeremy/Automated-GuitarAmpModelling/network"
	"github.com/atljeremy/Automated-GuitarAmpModelling/optimizer"
)

const (
	TrainSubset = "train"
	ValSubset   = "val"
	TestSubset  = "test"
)

// TrainerConfig holds the orchestration settings for a training run.
type TrainerConfig struct {
	Epochs             int
	ValidationFreq     int
	ValidationPatience int // validations without improvement before stopping; 0 disables
	BatchSize          int
	InitLen            int
	UpdateFreq         int
	ValChunk           int
	TestChunk          int
	Seed               int64
}

// Trainer owns the training-progress record and drives the epoch loop:
// training, periodic validation with early-stopping bookkeeping, latest/best
// checkpointing, and the final test evaluations.
type Trainer struct {
	cfg     TrainerConfig
	model   network.Model
	optim   optimizer.Optimizer
	lossFn  Loss
	data    *dataset.DataSet
	store   *checkpoints.Store
	metrics *MetricsWriter
	log     *logrus.Logger

	state *checkpoints.TrainingState
	rng   *rand.Rand
}

// NewTrainer assembles a trainer with a fresh training-progress record.
// Call Resume before Run to pick up an interrupted run from its latest
// checkpoint.
func NewTrainer(cfg TrainerConfig, model network.Model, optim optimizer.Optimizer,
	lossFn Loss, data *dataset.DataSet, store *checkpoints.Store,
	metrics *MetricsWriter, log *logrus.Logger) (*Trainer, error) {

	if cfg.Epochs <= 0 {
		return nil, fmt.Errorf("epoch count must be positive, got %d", cfg.Epochs)
	}
	if cfg.ValidationFreq <= 0 {
		return nil, fmt.Errorf("validation frequency must be positive, got %d", cfg.ValidationFreq)
	}

	return &Trainer{
		cfg:     cfg,
		model:   model,
		optim:   optim,
		lossFn:  lossFn,
		data:    data,
		store:   store,
		metrics: metrics,
		log:     log,
		state:   checkpoints.NewTrainingState(),
		rng:     rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// State exposes the training-progress record.
func (t *Trainer) State() *checkpoints.TrainingState {
	return t.state
}

// Resume loads the latest checkpoint if one exists at the save path, restoring
// model weights, optimizer state and the training-progress record. It returns
// whether a checkpoint was found; without one, training starts fresh.
func (t *Trainer) Resume() (bool, error) {
	if !t.store.HasLatest() {
		return false, nil
	}

	cp, err := t.store.LoadLatest()
	if err != nil {
		return false, fmt.Errorf("loading checkpoint: %w", err)
	}
	if cp.ModelSpec != t.model.Spec() {
		return false, fmt.Errorf("checkpoint architecture %+v does not match model %+v",
			cp.ModelSpec, t.model.Spec())
	}

	if err := checkpoints.LoadWeights(cp.Weights, t.model.Parameters()); err != nil {
		return false, fmt.Errorf("restoring weights: %w", err)
	}
	if cp.OptimizerState != nil {
		if err := t.optim.LoadState(cp.OptimizerState); err != nil {
			return false, fmt.Errorf("restoring optimizer state: %w", err)
		}
	}

	*t.state = cp.TrainingState
	t.log.WithFields(logrus.Fields{
		"epoch":      t.state.CurrentEpoch,
		"best_vloss": t.state.BestValLoss,
	}).Info("resumed from checkpoint")

	return true, nil
}

// Run executes the full training schedule: epochs with periodic validation,
// per-epoch latest checkpoints, then the final test evaluation twice — once
// with the final weights and once with the best-validation weights reloaded.
func (t *Trainer) Run() error {
	train, ok := t.data.Subsets[TrainSubset]
	if !ok || train.Input == nil {
		return fmt.Errorf("training subset is not loaded")
	}
	val, ok := t.data.Subsets[ValSubset]
	if !ok || val.Input == nil {
		return fmt.Errorf("validation subset is not loaded")
	}
	test, ok := t.data.Subsets[TestSubset]
	if !ok || test.Input == nil {
		return fmt.Errorf("test subset is not loaded")
	}

	// Carry previously elapsed time forward so elapsed-time reporting stays
	// continuous across process restarts.
	runStart := time.Now()
	initHours := t.state.TotalHours

	badValidations := 0
	for epoch := t.state.CurrentEpoch + 1; epoch <= t.cfg.Epochs; epoch++ {
		epochStart := time.Now()

		epochLoss, err := TrainEpoch(train.Input, train.Target, t.model, t.lossFn,
			t.optim, t.cfg.BatchSize, t.cfg.InitLen, t.cfg.UpdateFreq, t.rng)
		if err != nil {
			return fmt.Errorf("epoch %d: %w", epoch, err)
		}

		t.state.TrainingLosses = append(t.state.TrainingLosses, epochLoss)
		if err := t.metrics.AddScalar("Loss/train", epoch, epochLoss); err != nil {
			return err
		}
		updateRunningAverage(&t.state.TrainEpochAvg, time.Since(epochStart).Seconds())

		t.log.WithFields(logrus.Fields{
			"epoch": epoch,
			"loss":  epochLoss,
		}).Info("training epoch complete")

		if epoch%t.cfg.ValidationFreq == 0 {
			stop, err := t.validate(epoch, val, &badValidations)
			if err != nil {
				return err
			}
			if stop {
				t.log.WithField("epoch", epoch).Warn("early stopping: validation loss stopped improving")
				t.state.CurrentEpoch = epoch
				t.state.TotalHours = initHours + time.Since(runStart).Hours()
				if err := t.store.SaveLatest(t.checkpoint()); err != nil {
					return err
				}
				break
			}
		}

		t.state.CurrentEpoch = epoch
		t.state.TotalHours = initHours + time.Since(runStart).Hours()
		if err := t.store.SaveLatest(t.checkpoint()); err != nil {
			return err
		}
	}

	if err := t.finalTest(test); err != nil {
		return err
	}

	// Peak memory report, standing in for accelerator memory counters.
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return t.store.WriteScalar("maxmemusage.txt", float64(mem.Sys))
}

// validate runs chunked inference over the validation subset, updates the
// progress record and conditionally writes the "best" checkpoint plus a
// rendering of the validation output. It reports whether the early-stopping
// patience has run out.
func (t *Trainer) validate(epoch int, val *dataset.Subset, badValidations *int) (bool, error) {
	valStart := time.Now()

	valOutput, valLoss, err := ProcessChunked(val.Input, val.Target, t.model, t.lossFn, t.cfg.ValChunk)
	if err != nil {
		return false, fmt.Errorf("validation at epoch %d: %w", epoch, err)
	}

	t.state.ValidationLosses = append(t.state.ValidationLosses, valLoss)
	if err := t.metrics.AddScalar("Loss/val", epoch, valLoss); err != nil {
		return false, err
	}

	t.log.WithFields(logrus.Fields{
		"epoch": epoch,
		"loss":  valLoss,
	}).Info("validation complete")

	if t.state.Improves(valLoss) {
		t.state.BestValLoss = valLoss
		t.state.CurrentEpoch = epoch
		*badValidations = 0

		if err := t.store.WriteScalar("bestvloss.txt", valLoss); err != nil {
			return false, err
		}
		if err := t.store.SaveBest(t.checkpoint()); err != nil {
			return false, err
		}
		if err := dataset.SaveWaveform(t.store.Path("best_val_out.wav"), valOutput, val.SampleRate); err != nil {
			return false, err
		}
	} else {
		*badValidations++
	}

	updateRunningAverage(&t.state.ValEpochAvg, time.Since(valStart).Seconds())

	return t.cfg.ValidationPatience > 0 && *badValidations >= t.cfg.ValidationPatience, nil
}

// finalTest evaluates the test subset twice: with the weights as trained, and
// with the best-validation checkpoint reloaded. Each evaluation writes its
// own loss report and rendered output.
func (t *Trainer) finalTest(test *dataset.Subset) error {
	testOutput, testLoss, err := ProcessChunked(test.Input, test.Target, t.model, t.lossFn, t.cfg.TestChunk)
	if err != nil {
		return fmt.Errorf("final test evaluation: %w", err)
	}
	if err := t.store.WriteScalar("testloss_final.txt", testLoss); err != nil {
		return err
	}
	if err := dataset.SaveWaveform(t.store.Path("test_out_final.wav"), testOutput, test.SampleRate); err != nil {
		return err
	}
	if summary, err := Summarize(testOutput, test.Target); err == nil {
		t.log.WithFields(logrus.Fields{
			"loss": testLoss,
			"mae":  summary.MAE,
			"rmse": summary.RMSE,
			"corr": summary.Correlation,
		}).Info("final test evaluation complete")
	}

	best, err := t.store.LoadBest()
	if err != nil {
		t.log.WithError(err).Warn("no best checkpoint to evaluate")
		return nil
	}
	if err := checkpoints.LoadWeights(best.Weights, t.model.Parameters()); err != nil {
		return fmt.Errorf("restoring best weights: %w", err)
	}

	bestOutput, bestLoss, err := ProcessChunked(test.Input, test.Target, t.model, t.lossFn, t.cfg.TestChunk)
	if err != nil {
		return fmt.Errorf("best-checkpoint test evaluation: %w", err)
	}
	if err := t.store.WriteScalar("testloss_bestv.txt", bestLoss); err != nil {
		return err
	}
	if err := dataset.SaveWaveform(t.store.Path("test_out_bestv.wav"), bestOutput, test.SampleRate); err != nil {
		return err
	}

	t.log.WithFields(logrus.Fields{
		"loss": bestLoss,
	}).Info("best-checkpoint test evaluation complete")

	return nil
}

// checkpoint snapshots the model parameters, optimizer state and progress
// record for persistence.
func (t *Trainer) checkpoint() *checkpoints.Checkpoint {
	cp := &checkpoints.Checkpoint{
		ModelSpec:     t.model.Spec(),
		Weights:       checkpoints.ExtractWeights(t.model.Parameters()),
		TrainingState: *t.state,
	}
	if state, err := t.optim.GetState(); err == nil {
		cp.OptimizerState = state
	}
	return cp
}

// updateRunningAverage folds a new duration into the running average the same
// way the progress record always has: halfway between the old average and the
// new sample.
func updateRunningAverage(avg *float64, sample float64) {
	if *avg != 0 {
		*avg = (*avg + sample) / 2
	} else {
		*avg = sample
	}
}
