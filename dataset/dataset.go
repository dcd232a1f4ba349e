// Package dataset loads paired input/target recordings of an analog audio
// device and slices them into fixed-length segments for training. The file
// layout follows the convention <dir>/<subset>/<name>-input.wav and
// <dir>/<subset>/<name>-target.wav.
package dataset

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/atljeremy/Automated-GuitarAmpModelling/tensor"
)

// Subset holds the input/target waveform tensors for one split. Both tensors
// share shape [time, segment, channel]; a segment length of zero at creation
// keeps the whole recording as a single segment, which is how the validation
// and test splits are handled.
type Subset struct {
	Input      *tensor.Tensor
	Target     *tensor.Tensor
	SampleRate int
	SegmentLen int
}

// DataSet is a collection of named subsets rooted at one data directory.
type DataSet struct {
	dir     string
	Subsets map[string]*Subset
}

// NewDataSet creates an empty dataset rooted at dir.
func NewDataSet(dir string) *DataSet {
	return &DataSet{
		dir:     dir,
		Subsets: make(map[string]*Subset),
	}
}

// CreateSubset registers a subset. segmentLen is the training segment length
// in samples; zero means the whole file becomes one segment.
func (d *DataSet) CreateSubset(name string, segmentLen int) {
	d.Subsets[name] = &Subset{SegmentLen: segmentLen}
}

// LoadFile reads <name>-input.wav and <name>-target.wav from the subset's
// directory and segments them into the subset's tensors. The two recordings
// are truncated to their common length before segmenting so the input and
// target tensors always agree on time and segment dimensions.
func (d *DataSet) LoadFile(name, subset string) error {
	sub, ok := d.Subsets[subset]
	if !ok {
		return fmt.Errorf("unknown subset %q", subset)
	}

	base := filepath.Join(d.dir, subset, name)
	input, inRate, err := readWaveform(base + "-input.wav")
	if err != nil {
		return err
	}
	target, outRate, err := readWaveform(base + "-target.wav")
	if err != nil {
		return err
	}
	if inRate != outRate {
		return fmt.Errorf("sample rate mismatch for %s: input %d Hz, target %d Hz", base, inRate, outRate)
	}
	if input.channels != target.channels {
		return fmt.Errorf("channel count mismatch for %s: input %d, target %d", base, input.channels, target.channels)
	}

	frames := input.frames
	if target.frames < frames {
		frames = target.frames
	}

	segLen := sub.SegmentLen
	if segLen <= 0 {
		segLen = frames
	}
	segCount := frames / segLen
	if segCount == 0 {
		return fmt.Errorf("%s: %d frames is shorter than segment length %d", base, frames, segLen)
	}

	sub.Input, err = segment(input, segLen, segCount)
	if err != nil {
		return err
	}
	sub.Target, err = segment(target, segLen, segCount)
	if err != nil {
		return err
	}
	sub.SampleRate = inRate

	return nil
}

// LoadAll loads the same file name into every registered subset, one
// goroutine per subset. Each subset touches only its own fields, so the
// loads are independent.
func (d *DataSet) LoadAll(name string) error {
	var g errgroup.Group
	for subset := range d.Subsets {
		subset := subset
		g.Go(func() error {
			if err := d.LoadFile(name, subset); err != nil {
				return fmt.Errorf("loading subset %q: %w", subset, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// segment reshapes an interleaved waveform into [segmentLen, segCount,
// channels], discarding any trailing frames that do not fill a segment.
func segment(w *waveform, segLen, segCount int) (*tensor.Tensor, error) {
	out, err := tensor.Zeros([]int{segLen, segCount, w.channels})
	if err != nil {
		return nil, err
	}

	for s := 0; s < segCount; s++ {
		for t := 0; t < segLen; t++ {
			srcOff := (s*segLen + t) * w.channels
			dstOff := t*out.Strides[0] + s*w.channels
			copy(out.Data[dstOff:dstOff+w.channels], w.samples[srcOff:srcOff+w.channels])
		}
	}

	return out, nil
}
