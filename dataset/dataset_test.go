package dataset

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/unixpickle/wav"

	"github.com/atljeremy/Automated-GuitarAmpModelling/tensor"
)

// writeWAV writes mono 16-bit PCM test fixtures.
func writeWAV(t *testing.T, path string, samples []float32, sampleRate int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	converted := make([]wav.Sample, len(samples))
	for i, s := range samples {
		converted[i] = wav.Sample(s)
	}
	sound := wav.NewPCM16Sound(1, sampleRate)
	sound.SetSamples(converted)
	require.NoError(t, wav.WriteFile(sound, path))
}

func ramp(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		// Stay well inside [-1, 1) so 16-bit quantisation is the only error.
		out[i] = float32(math.Sin(float64(i) * 0.05))
	}
	return out
}

func TestSegmentLayout(t *testing.T) {
	w := &waveform{
		samples:  []float32{0, 1, 2, 3, 4, 5},
		frames:   6,
		channels: 1,
	}

	// Two segments of three samples: tensor[t][s] = sample s*3+t.
	out, err := segment(w, 3, 2)
	require.NoError(t, err)
	require.Equal(t, []int{3, 2, 1}, out.Shape)

	for s := 0; s < 2; s++ {
		for ti := 0; ti < 3; ti++ {
			got, err := out.At(ti, s, 0)
			require.NoError(t, err)
			require.Equal(t, float32(s*3+ti), got)
		}
	}
}

func TestLoadFileSegmentsAndTruncates(t *testing.T) {
	dir := t.TempDir()

	// Target runs 10 frames longer than input; the common length 400 must
	// win, giving four segments of 100.
	writeWAV(t, filepath.Join(dir, "train", "ht1-input.wav"), ramp(400), 44100)
	writeWAV(t, filepath.Join(dir, "train", "ht1-target.wav"), ramp(410), 44100)

	data := NewDataSet(dir)
	data.CreateSubset("train", 100)
	require.NoError(t, data.LoadFile("ht1", "train"))

	sub := data.Subsets["train"]
	require.Equal(t, []int{100, 4, 1}, sub.Input.Shape)
	require.Equal(t, []int{100, 4, 1}, sub.Target.Shape)
	require.Equal(t, 44100, sub.SampleRate)
}

func TestLoadFileWholeFileAsOneSegment(t *testing.T) {
	dir := t.TempDir()
	writeWAV(t, filepath.Join(dir, "val", "ht1-input.wav"), ramp(250), 44100)
	writeWAV(t, filepath.Join(dir, "val", "ht1-target.wav"), ramp(250), 44100)

	data := NewDataSet(dir)
	data.CreateSubset("val", 0)
	require.NoError(t, data.LoadFile("ht1", "val"))

	require.Equal(t, []int{250, 1, 1}, data.Subsets["val"].Input.Shape)
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()
	data := NewDataSet(dir)
	data.CreateSubset("train", 100)

	require.Error(t, data.LoadFile("ht1", "nope"))
	require.Error(t, data.LoadFile("ht1", "train"))

	// A recording shorter than one segment cannot be used.
	writeWAV(t, filepath.Join(dir, "train", "short-input.wav"), ramp(50), 44100)
	writeWAV(t, filepath.Join(dir, "train", "short-target.wav"), ramp(50), 44100)
	require.Error(t, data.LoadFile("short", "train"))

	// Mismatched sample rates are rejected.
	writeWAV(t, filepath.Join(dir, "train", "rate-input.wav"), ramp(200), 44100)
	writeWAV(t, filepath.Join(dir, "train", "rate-target.wav"), ramp(200), 48000)
	require.Error(t, data.LoadFile("rate", "train"))
}

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	for _, subset := range []string{"train", "val", "test"} {
		writeWAV(t, filepath.Join(dir, subset, "ht1-input.wav"), ramp(300), 44100)
		writeWAV(t, filepath.Join(dir, subset, "ht1-target.wav"), ramp(300), 44100)
	}

	data := NewDataSet(dir)
	data.CreateSubset("train", 100)
	data.CreateSubset("val", 0)
	data.CreateSubset("test", 0)
	require.NoError(t, data.LoadAll("ht1"))

	require.Equal(t, []int{100, 3, 1}, data.Subsets["train"].Input.Shape)
	require.Equal(t, []int{300, 1, 1}, data.Subsets["val"].Input.Shape)
	require.Equal(t, []int{300, 1, 1}, data.Subsets["test"].Input.Shape)
}

func TestLoadAllPropagatesErrors(t *testing.T) {
	dir := t.TempDir()
	writeWAV(t, filepath.Join(dir, "train", "ht1-input.wav"), ramp(300), 44100)
	writeWAV(t, filepath.Join(dir, "train", "ht1-target.wav"), ramp(300), 44100)

	data := NewDataSet(dir)
	data.CreateSubset("train", 100)
	data.CreateSubset("val", 0) // no files on disk
	require.Error(t, data.LoadAll("ht1"))
}

func TestSaveWaveformRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")

	samples := ramp(200)
	src, err := tensor.NewTensor([]int{200, 1, 1}, samples)
	require.NoError(t, err)
	require.NoError(t, SaveWaveform(path, src, 44100))

	back, rate, err := readWaveform(path)
	require.NoError(t, err)
	require.Equal(t, 44100, rate)
	require.Equal(t, 200, back.frames)
	require.Equal(t, 1, back.channels)

	// Allow a couple of 16-bit quantisation steps of error.
	for i, want := range samples {
		require.InDeltaf(t, float64(want), float64(back.samples[i]), 2.0/32768.0, "sample %d", i)
	}
}

func TestSaveWaveformRejectsWrongRank(t *testing.T) {
	flat, err := tensor.NewTensor([]int{4}, []float32{0, 0.1, 0.2, 0.3})
	require.NoError(t, err)
	require.Error(t, SaveWaveform(filepath.Join(t.TempDir(), "bad.wav"), flat, 44100))
}
