package training

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/atljeremy/Automated-GuitarAmpModelling/tensor"
)

// MetricsWriter streams scalar metrics to a CSV file, one row per event,
// keyed by tag and epoch number. It is the observability sink the trainer
// feeds training and validation losses into.
type MetricsWriter struct {
	file *os.File
	w    *csv.Writer
}

// NewMetricsWriter creates (or truncates) the metrics file and writes the
// header row.
func NewMetricsWriter(path string) (*MetricsWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics file: %v", err)
	}

	w := csv.NewWriter(file)
	if err := w.Write([]string{"tag", "epoch", "value"}); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write metrics header: %v", err)
	}
	w.Flush()

	return &MetricsWriter{file: file, w: w}, nil
}

// AddScalar records one scalar value for the given tag and epoch. Rows are
// flushed immediately so an interrupted run keeps its metrics.
func (m *MetricsWriter) AddScalar(tag string, epoch int, value float64) error {
	record := []string{
		tag,
		strconv.Itoa(epoch),
		strconv.FormatFloat(value, 'g', -1, 64),
	}
	if err := m.w.Write(record); err != nil {
		return fmt.Errorf("failed to write metric %s: %v", tag, err)
	}
	m.w.Flush()
	return m.w.Error()
}

// Close flushes and closes the metrics file.
func (m *MetricsWriter) Close() error {
	m.w.Flush()
	if err := m.w.Error(); err != nil {
		m.file.Close()
		return err
	}
	return m.file.Close()
}

// RegressionSummary aggregates how closely an output waveform tracks its
// target.
type RegressionSummary struct {
	MAE         float64
	RMSE        float64
	Correlation float64
}

// Summarize computes regression metrics between an output and target tensor
// of identical shape.
func Summarize(output, target *tensor.Tensor) (RegressionSummary, error) {
	if err := checkPair(output, target); err != nil {
		return RegressionSummary{}, err
	}

	y := make([]float64, output.NumElems)
	t := make([]float64, target.NumElems)
	for i := range y {
		y[i] = float64(output.Data[i])
		t[i] = float64(target.Data[i])
	}

	n := float64(len(y))
	return RegressionSummary{
		MAE:         floats.Distance(y, t, 1) / n,
		RMSE:        floats.Distance(y, t, 2) / math.Sqrt(n),
		Correlation: stat.Correlation(y, t, nil),
	}, nil
}
