package tensor

import (
	"fmt"
)

// TimeSlice returns a view over the time range [start, end) of a tensor whose
// leading axis is time. The view shares the backing store with t; writes to
// the view are visible in t. This is what makes TBPTT chunking and chunked
// inference allocation-free along the time axis.
func (t *Tensor) TimeSlice(start, end int) (*Tensor, error) {
	if t.Dim() < 1 {
		return nil, fmt.Errorf("cannot time-slice a 0-dimensional tensor")
	}
	if start < 0 || end > t.Shape[0] || start >= end {
		return nil, fmt.Errorf("time slice [%d:%d) out of range for time length %d", start, end, t.Shape[0])
	}

	frame := t.Strides[0]
	shape := append([]int(nil), t.Shape...)
	shape[0] = end - start

	return &Tensor{
		Shape:    shape,
		Strides:  append([]int(nil), t.Strides...),
		Data:     t.Data[start*frame : end*frame],
		NumElems: (end - start) * frame,
	}, nil
}

// CopyFrom copies the data of src into t. Shapes must match exactly.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if !shapesEqual(t.Shape, src.Shape) {
		return fmt.Errorf("shape mismatch: %v vs %v", t.Shape, src.Shape)
	}
	copy(t.Data, src.Data)
	return nil
}

// GatherSegments assembles a new [time, len(indices), channel] tensor from the
// given segment indices of a [time, segment, channel] tensor. Segment content
// is copied in the order the indices appear, which is how an epoch's shuffle
// order selects mini-batches without reordering the dataset in place.
func (t *Tensor) GatherSegments(indices []int) (*Tensor, error) {
	if t.Dim() != 3 {
		return nil, fmt.Errorf("GatherSegments requires a [time, segment, channel] tensor, got shape %v", t.Shape)
	}
	if len(indices) == 0 {
		return nil, fmt.Errorf("empty segment index list")
	}

	timeLen, segCount, channels := t.Shape[0], t.Shape[1], t.Shape[2]
	for _, idx := range indices {
		if idx < 0 || idx >= segCount {
			return nil, fmt.Errorf("segment index %d out of range [0, %d)", idx, segCount)
		}
	}

	out, err := Zeros([]int{timeLen, len(indices), channels})
	if err != nil {
		return nil, err
	}

	for ti := 0; ti < timeLen; ti++ {
		srcFrame := t.Data[ti*t.Strides[0] : (ti+1)*t.Strides[0]]
		dstFrame := out.Data[ti*out.Strides[0] : (ti+1)*out.Strides[0]]
		for bi, idx := range indices {
			copy(dstFrame[bi*channels:(bi+1)*channels], srcFrame[idx*channels:(idx+1)*channels])
		}
	}

	return out, nil
}
