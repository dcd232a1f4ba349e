package training

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/atljeremy/Automated-GuitarAmpModelling/checkpoints"
	"github.com/atljeremy/Automated-GuitarAmpModelling/dataset"
	"github.com/atljeremy/Automated-GuitarAmpModelling/optimizer"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func memoryDataSet(t *testing.T) *dataset.DataSet {
	t.Helper()
	data := dataset.NewDataSet("")
	for _, subset := range []string{TrainSubset, ValSubset, TestSubset} {
		data.CreateSubset(subset, 0)
		input, target := rampData(t, 40, 4)
		sub := data.Subsets[subset]
		sub.Input = input
		sub.Target = target
		sub.SampleRate = 44100
	}
	return data
}

func newTestTrainer(t *testing.T, cfg TrainerConfig, dir string) *Trainer {
	t.Helper()
	model := smallModel(t, 4)
	optim, err := optimizer.NewAdamOptimizer(optimizer.DefaultAdamConfig(), model.Parameters())
	require.NoError(t, err)
	store, err := checkpoints.NewStore(dir)
	require.NoError(t, err)
	metrics, err := NewMetricsWriter(filepath.Join(dir, "metrics.csv"))
	require.NoError(t, err)
	t.Cleanup(func() { metrics.Close() })

	trainer, err := NewTrainer(cfg, model, optim, NewESRLoss(), memoryDataSet(t), store,
		metrics, quietLogger())
	require.NoError(t, err)
	return trainer
}

func defaultTestConfig() TrainerConfig {
	return TrainerConfig{
		Epochs:         4,
		ValidationFreq: 2,
		BatchSize:      2,
		InitLen:        5,
		UpdateFreq:     10,
		ValChunk:       15,
		TestChunk:      15,
		Seed:           1,
	}
}

func TestNewTrainerValidation(t *testing.T) {
	dir := t.TempDir()

	cfg := defaultTestConfig()
	cfg.Epochs = 0
	model := smallModel(t, 4)
	optim, err := optimizer.NewAdamOptimizer(optimizer.DefaultAdamConfig(), model.Parameters())
	require.NoError(t, err)
	store, err := checkpoints.NewStore(dir)
	require.NoError(t, err)

	_, err = NewTrainer(cfg, model, optim, NewESRLoss(), memoryDataSet(t), store, nil, quietLogger())
	require.Error(t, err)

	cfg = defaultTestConfig()
	cfg.ValidationFreq = 0
	_, err = NewTrainer(cfg, model, optim, NewESRLoss(), memoryDataSet(t), store, nil, quietLogger())
	require.Error(t, err)
}

func TestTrainerRunWritesReports(t *testing.T) {
	dir := t.TempDir()
	trainer := newTestTrainer(t, defaultTestConfig(), dir)

	require.NoError(t, trainer.Run())

	state := trainer.State()
	require.Len(t, state.TrainingLosses, 4)
	require.Len(t, state.ValidationLosses, 2)
	require.Equal(t, 4, state.CurrentEpoch)
	require.Less(t, state.BestValLoss, 1e10)
	require.Greater(t, state.TrainEpochAvg, 0.0)
	require.Greater(t, state.ValEpochAvg, 0.0)

	for _, name := range []string{
		"model.json",
		"model_best.json",
		"bestvloss.txt",
		"best_val_out.wav",
		"testloss_final.txt",
		"test_out_final.wav",
		"testloss_bestv.txt",
		"test_out_bestv.wav",
		"maxmemusage.txt",
		"metrics.csv",
	} {
		_, err := os.Stat(filepath.Join(dir, name))
		require.NoErrorf(t, err, "expected %s to be written", name)
	}
}

func TestTrainerResume(t *testing.T) {
	dir := t.TempDir()

	cfg := defaultTestConfig()
	cfg.Epochs = 2
	first := newTestTrainer(t, cfg, dir)
	require.NoError(t, first.Run())
	require.Equal(t, 2, first.State().CurrentEpoch)
	firstHours := first.State().TotalHours

	cfg.Epochs = 4
	second := newTestTrainer(t, cfg, dir)
	resumed, err := second.Resume()
	require.NoError(t, err)
	require.True(t, resumed)
	require.Equal(t, 2, second.State().CurrentEpoch)
	require.Len(t, second.State().TrainingLosses, 2)

	require.NoError(t, second.Run())
	require.Equal(t, 4, second.State().CurrentEpoch)
	require.Len(t, second.State().TrainingLosses, 4)
	require.GreaterOrEqual(t, second.State().TotalHours, firstHours)
}

func TestTrainerResumeWithoutCheckpoint(t *testing.T) {
	trainer := newTestTrainer(t, defaultTestConfig(), t.TempDir())

	resumed, err := trainer.Resume()
	require.NoError(t, err)
	require.False(t, resumed)
}

func TestTrainerResumeRejectsArchitectureChange(t *testing.T) {
	dir := t.TempDir()

	cfg := defaultTestConfig()
	cfg.Epochs = 2
	first := newTestTrainer(t, cfg, dir)
	require.NoError(t, first.Run())

	model := smallModel(t, 8)
	optim, err := optimizer.NewAdamOptimizer(optimizer.DefaultAdamConfig(), model.Parameters())
	require.NoError(t, err)
	store, err := checkpoints.NewStore(dir)
	require.NoError(t, err)
	second, err := NewTrainer(cfg, model, optim, NewESRLoss(), memoryDataSet(t), store, nil, quietLogger())
	require.NoError(t, err)

	_, err = second.Resume()
	require.Error(t, err)
}

func TestTrainerEarlyStopping(t *testing.T) {
	dir := t.TempDir()

	cfg := defaultTestConfig()
	cfg.Epochs = 40
	cfg.ValidationFreq = 1
	cfg.ValidationPatience = 2
	trainer := newTestTrainer(t, cfg, dir)

	// Freeze the weights so validation loss can never improve after the
	// first measurement; patience must then end the run early.
	trainer.optim = &spyOptimizer{}

	require.NoError(t, trainer.Run())
	require.Less(t, trainer.State().CurrentEpoch, 40)
	require.Equal(t, 3, len(trainer.State().ValidationLosses))
}

func TestUpdateRunningAverage(t *testing.T) {
	var avg float64
	updateRunningAverage(&avg, 4)
	require.Equal(t, 4.0, avg)
	updateRunningAverage(&avg, 8)
	require.Equal(t, 6.0, avg)
}
