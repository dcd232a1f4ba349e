package tensor

import (
	"fmt"
	"math"
)

// Clone creates a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	return &Tensor{
		Shape:    append([]int(nil), t.Shape...),
		Strides:  append([]int(nil), t.Strides...),
		Data:     data,
		NumElems: t.NumElems,
	}
}

// Equal reports whether two tensors have identical shape and data.
func (t *Tensor) Equal(other *Tensor) bool {
	if !shapesEqual(t.Shape, other.Shape) {
		return false
	}
	for i := range t.Data {
		if t.Data[i] != other.Data[i] {
			return false
		}
	}
	return true
}

// AllClose reports whether two tensors have identical shape and element-wise
// absolute differences no greater than tol.
func (t *Tensor) AllClose(other *Tensor, tol float64) bool {
	if !shapesEqual(t.Shape, other.Shape) {
		return false
	}
	for i := range t.Data {
		if math.Abs(float64(t.Data[i]-other.Data[i])) > tol {
			return false
		}
	}
	return true
}

// At returns the element at the given indices.
func (t *Tensor) At(indices ...int) (float32, error) {
	idx, err := t.flatIndex(indices)
	if err != nil {
		return 0, err
	}
	return t.Data[idx], nil
}

// SetAt sets the element at the given indices.
func (t *Tensor) SetAt(value float32, indices ...int) error {
	idx, err := t.flatIndex(indices)
	if err != nil {
		return err
	}
	t.Data[idx] = value
	return nil
}

func (t *Tensor) flatIndex(indices []int) (int, error) {
	if len(indices) != len(t.Shape) {
		return 0, fmt.Errorf("expected %d indices, got %d", len(t.Shape), len(indices))
	}
	idx := 0
	for i, coord := range indices {
		if coord < 0 || coord >= t.Shape[i] {
			return 0, fmt.Errorf("index %d out of range [0, %d) for dimension %d", coord, t.Shape[i], i)
		}
		idx += coord * t.Strides[i]
	}
	return idx, nil
}
