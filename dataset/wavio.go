package dataset

import (
	"fmt"

	"github.com/unixpickle/wav"

	"github.com/atljeremy/Automated-GuitarAmpModelling/tensor"
)

// waveform is an interleaved multi-channel recording.
type waveform struct {
	samples  []float32
	frames   int
	channels int
}

func readWaveform(path string) (*waveform, int, error) {
	sound, err := wav.ReadSoundFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read %s: %v", path, err)
	}

	channels := sound.Channels()
	raw := sound.Samples()
	if channels <= 0 || len(raw) == 0 {
		return nil, 0, fmt.Errorf("%s contains no audio", path)
	}

	samples := make([]float32, len(raw))
	for i, s := range raw {
		samples[i] = float32(s)
	}

	return &waveform{
		samples:  samples,
		frames:   len(samples) / channels,
		channels: channels,
	}, sound.SampleRate(), nil
}

// SaveWaveform renders the first segment's first channel of a
// [time, segment, channel] tensor to a 16-bit PCM WAV file. This is how
// validation and test outputs are exported for listening.
func SaveWaveform(path string, t *tensor.Tensor, sampleRate int) error {
	if t.Dim() != 3 {
		return fmt.Errorf("expected [time, segment, channel] tensor, got shape %v", t.Shape)
	}

	timeLen := t.Shape[0]
	samples := make([]wav.Sample, timeLen)
	for ti := 0; ti < timeLen; ti++ {
		samples[ti] = wav.Sample(t.Data[ti*t.Strides[0]])
	}

	sound := wav.NewPCM16Sound(1, sampleRate)
	sound.SetSamples(samples)
	if err := wav.WriteFile(sound, path); err != nil {
		return fmt.Errorf("failed to write %s: %v", path, err)
	}
	return nil
}
