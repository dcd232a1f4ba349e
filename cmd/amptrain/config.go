package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config is the flat settings surface for a training run. Defaults recreate
// the ht1 amplifier training; a JSON config file, if supplied, overrides
// whatever was given on the command line, so published configs stay
// reproducible.
type Config struct {
	Device         string `json:"device"`
	DataLocation   string `json:"data_location"`
	FileName       string `json:"file_name"`
	LoadConfig     string `json:"-"`
	ConfigLocation string `json:"config_location"`
	SaveLocation   string `json:"save_location"`
	LoadModel      bool   `json:"load_model"`

	SegmentLength int `json:"segment_length"`

	Epochs      int `json:"epochs"`
	ValidationF int `json:"validation_f"`
	ValidationP int `json:"validation_p"`

	BatchSize int     `json:"batch_size"`
	IterNum   int     `json:"iter_num"`
	LearnRate float64 `json:"learn_rate"`
	InitLen   int     `json:"init_len"`
	UpFr      int     `json:"up_fr"`

	LossFcns map[string]float64 `json:"loss_fcns"`
	PreFilt  []float64          `json:"pre_filt"`

	ValChunk  int `json:"val_chunk"`
	TestChunk int `json:"test_chunk"`

	InputSize  int    `json:"input_size"`
	OutputSize int    `json:"output_size"`
	NumBlocks  int    `json:"num_blocks"`
	HiddenSize int    `json:"hidden_size"`
	UnitType   string `json:"unit_type"`
	Skip       int    `json:"skip"`

	Optimizer string `json:"optimizer"`
	Seed      int64  `json:"seed"`
}

func defaultConfig() Config {
	cfg := Config{
		Device:         "ht1",
		DataLocation:   "..",
		FileName:       "ht1",
		ConfigLocation: "Configs",
		SaveLocation:   "Results",
		LoadModel:      true,
		SegmentLength:  22050,
		Epochs:         4,
		ValidationF:    2,
		ValidationP:    0,
		BatchSize:      50,
		LearnRate:      0.0005,
		InitLen:        200,
		UpFr:           1000,
		LossFcns:       map[string]float64{"ESRPre": 0.5, "DC": 0.5},
		PreFilt:        []float64{1, -0.85},
		ValChunk:       100000,
		TestChunk:      100000,
		InputSize:      1,
		OutputSize:     1,
		NumBlocks:      1,
		HiddenSize:     16,
		UnitType:       "LSTM",
		Skip:           1,
		Optimizer:      "Adam",
		Seed:           42,
	}

	// .env or exported variables relocate the data and results trees, which
	// is how containerised runs mount their volumes.
	if v := os.Getenv("AMPTRAIN_DATA_LOCATION"); v != "" {
		cfg.DataLocation = v
	}
	if v := os.Getenv("AMPTRAIN_SAVE_LOCATION"); v != "" {
		cfg.SaveLocation = v
	}

	return cfg
}

// registerFlags wires every option onto the flag set, mirroring the option
// surface published with the original training configs.
func registerFlags(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.Device, "device", cfg.Device, "label of the device being modelled")
	fs.StringVar(&cfg.DataLocation, "data_location", cfg.DataLocation, "location of the Data directory")
	fs.StringVar(&cfg.FileName, "file_name", cfg.FileName,
		"base name of the wav files; the loader appends -input.wav and -target.wav")
	fs.StringVar(&cfg.LoadConfig, "load_config", cfg.LoadConfig,
		"JSON config file whose settings replace the defaults")
	fs.StringVar(&cfg.ConfigLocation, "config_location", cfg.ConfigLocation, "location of the Configs directory")
	fs.StringVar(&cfg.SaveLocation, "save_location", cfg.SaveLocation, "directory where trained models are saved")
	fs.BoolVar(&cfg.LoadModel, "load_model", cfg.LoadModel, "resume from a saved model if one is found")

	fs.IntVar(&cfg.SegmentLength, "segment_length", cfg.SegmentLength, "training audio segment length in samples")

	fs.IntVar(&cfg.Epochs, "epochs", cfg.Epochs, "max number of training epochs")
	fs.IntVar(&cfg.ValidationF, "validation_f", cfg.ValidationF, "validation frequency in epochs")
	fs.IntVar(&cfg.ValidationP, "validation_p", cfg.ValidationP,
		"validations without improvement before stopping, 0 disables early stopping")

	fs.IntVar(&cfg.BatchSize, "batch_size", cfg.BatchSize, "training mini-batch size")
	fs.IntVar(&cfg.IterNum, "iter_num", cfg.IterNum,
		"overrides batch_size so this many batches are processed per epoch")
	fs.Float64Var(&cfg.LearnRate, "learn_rate", cfg.LearnRate, "initial learning rate")
	fs.IntVar(&cfg.InitLen, "init_len", cfg.InitLen,
		"number of samples processed to prime the hidden state before weight updates")
	fs.IntVar(&cfg.UpFr, "up_fr", cfg.UpFr, "number of samples between weight updates")

	fs.Func("loss_fcns", "loss functions and weights as JSON, e.g. {\"ESRPre\":0.5,\"DC\":0.5}", func(s string) error {
		fcns := make(map[string]float64)
		if err := json.Unmarshal([]byte(s), &fcns); err != nil {
			return err
		}
		cfg.LossFcns = fcns
		return nil
	})
	fs.Func("pre_filt", "comma separated FIR coefficients for the pre-emphasis filter", func(s string) error {
		coeffs, err := parseFloats(s)
		if err != nil {
			return err
		}
		cfg.PreFilt = coeffs
		return nil
	})

	fs.IntVar(&cfg.ValChunk, "val_chunk", cfg.ValChunk, "samples per chunk when processing the validation set")
	fs.IntVar(&cfg.TestChunk, "test_chunk", cfg.TestChunk, "samples per chunk when processing the test set")

	fs.IntVar(&cfg.InputSize, "input_size", cfg.InputSize, "1 for mono input data, 2 for stereo")
	fs.IntVar(&cfg.OutputSize, "output_size", cfg.OutputSize, "1 for mono output data, 2 for stereo")
	fs.IntVar(&cfg.NumBlocks, "num_blocks", cfg.NumBlocks, "number of recurrent blocks")
	fs.IntVar(&cfg.HiddenSize, "hidden_size", cfg.HiddenSize, "recurrent unit hidden state size")
	fs.StringVar(&cfg.UnitType, "unit_type", cfg.UnitType, "LSTM, GRU or RNN")
	fs.IntVar(&cfg.Skip, "skip", cfg.Skip, "input channels added onto the output as a residual")

	fs.StringVar(&cfg.Optimizer, "optimizer", cfg.Optimizer, "Adam or SGD")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "random seed for weight init and segment shuffling")
}

// applyConfigFile merges a JSON config file over the current settings. Only
// keys present in the file are touched.
func (cfg *Config) applyConfigFile() error {
	if cfg.LoadConfig == "" {
		return nil
	}

	name := cfg.LoadConfig
	if !strings.HasSuffix(name, ".json") {
		name += ".json"
	}
	path := filepath.Join(cfg.ConfigLocation, name)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %v", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %v", path, err)
	}
	return nil
}

func parseFloats(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid coefficient %q", p)
		}
		out = append(out, v)
	}
	return out, nil
}
