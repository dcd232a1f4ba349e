// Command amptrain trains a recurrent network to emulate an analog amplifier
// or distortion pedal from paired input/target recordings. It was built to
// recreate the ht1 amplifier and big muff pedal models but works with any
// dataset laid out as <Data>/<subset>/<name>-input.wav / <name>-target.wav.
package main

import (
	"flag"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/atljeremy/Automated-GuitarAmpModelling/checkpoints"
	"github.com/atljeremy/Automated-GuitarAmpModelling/dataset"
	"github.com/atljeremy/Automated-GuitarAmpModelling/network"
	"github.com/atljeremy/Automated-GuitarAmpModelling/optimizer"
	"github.com/atljeremy/Automated-GuitarAmpModelling/training"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := run(log); err != nil {
		log.Fatal(err)
	}
}

func run(log *logrus.Logger) error {
	// A .env next to the binary may relocate the data/results trees.
	_ = godotenv.Load()

	cfg := defaultConfig()
	fs := flag.NewFlagSet("amptrain", flag.ExitOnError)
	registerFlags(fs, &cfg)
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}
	if err := cfg.applyConfigFile(); err != nil {
		return err
	}

	log.Warn("no hardware acceleration available, training on CPU")

	savePath := filepath.Join(cfg.SaveLocation, cfg.Device+"-"+cfg.LoadConfig)
	store, err := checkpoints.NewStore(savePath)
	if err != nil {
		return err
	}

	data := dataset.NewDataSet(filepath.Join(cfg.DataLocation, "Data"))
	data.CreateSubset(training.TrainSubset, cfg.SegmentLength)
	data.CreateSubset(training.ValSubset, 0)
	data.CreateSubset(training.TestSubset, 0)
	if err := data.LoadAll(cfg.FileName); err != nil {
		return err
	}

	batchSize := cfg.BatchSize
	if cfg.IterNum > 0 {
		segCount := data.Subsets[training.TrainSubset].Input.Shape[1]
		batchSize = int(math.Ceil(float64(segCount) / float64(cfg.IterNum)))
		log.WithFields(logrus.Fields{
			"iter_num":   cfg.IterNum,
			"batch_size": batchSize,
		}).Info("derived batch size from iteration count")
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	model, err := network.NewRecNet(network.ModelSpec{
		InputSize:    cfg.InputSize,
		OutputSize:   cfg.OutputSize,
		NumBlocks:    cfg.NumBlocks,
		HiddenSize:   cfg.HiddenSize,
		UnitType:     network.UnitType(cfg.UnitType),
		SkipChannels: cfg.Skip,
	}, rng)
	if err != nil {
		return err
	}

	optim, err := buildOptimizer(cfg, model)
	if err != nil {
		return err
	}

	preFilt := make([]float32, len(cfg.PreFilt))
	for i, c := range cfg.PreFilt {
		preFilt[i] = float32(c)
	}
	lossFn, err := training.NewLossWrapper(cfg.LossFcns, preFilt)
	if err != nil {
		return err
	}

	metrics, err := training.NewMetricsWriter(store.Path("metrics.csv"))
	if err != nil {
		return err
	}
	defer metrics.Close()

	trainer, err := training.NewTrainer(training.TrainerConfig{
		Epochs:             cfg.Epochs,
		ValidationFreq:     cfg.ValidationF,
		ValidationPatience: cfg.ValidationP,
		BatchSize:          batchSize,
		InitLen:            cfg.InitLen,
		UpdateFreq:         cfg.UpFr,
		ValChunk:           cfg.ValChunk,
		TestChunk:          cfg.TestChunk,
		Seed:               cfg.Seed,
	}, model, optim, lossFn, data, store, metrics, log)
	if err != nil {
		return err
	}

	if cfg.LoadModel {
		resumed, err := trainer.Resume()
		if err != nil {
			return err
		}
		if !resumed {
			log.Info("no saved model found, starting fresh")
		}
	}

	return trainer.Run()
}

func buildOptimizer(cfg Config, model network.Model) (optimizer.Optimizer, error) {
	switch cfg.Optimizer {
	case "SGD":
		sgdCfg := optimizer.DefaultSGDConfig()
		sgdCfg.LearningRate = float32(cfg.LearnRate)
		return optimizer.NewSGDOptimizer(sgdCfg, model.Parameters())
	default:
		adamCfg := optimizer.DefaultAdamConfig()
		adamCfg.LearningRate = float32(cfg.LearnRate)
		return optimizer.NewAdamOptimizer(adamCfg, model.Parameters())
	}
}
