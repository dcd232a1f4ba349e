package tensor

import (
	"fmt"
)

// NewTensor creates a tensor with the given shape, copying no data; the
// provided slice becomes the backing store and must have exactly
// product(shape) elements.
func NewTensor(shape []int, data []float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	if len(data) != numElems {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(data), shape, numElems)
	}

	return &Tensor{
		Shape:    append([]int(nil), shape...),
		Strides:  calculateStrides(shape),
		Data:     data,
		NumElems: numElems,
	}, nil
}

// Zeros creates a zero-filled tensor with the given shape.
func Zeros(shape []int) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	return &Tensor{
		Shape:    append([]int(nil), shape...),
		Strides:  calculateStrides(shape),
		Data:     make([]float32, numElems),
		NumElems: numElems,
	}, nil
}

// EmptyLike creates a zero-filled tensor with the same shape as t.
func EmptyLike(t *Tensor) *Tensor {
	out, _ := Zeros(t.Shape)
	return out
}
