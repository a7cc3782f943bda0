package tensor

import (
	"fmt"
)

// Reshape returns a copy of the tensor with a new shape holding the same
// number of elements.
func (t *Tensor) Reshape(newShape []int) (*Tensor, error) {
	if err := validateShape(newShape); err != nil {
		return nil, err
	}
	if calculateNumElements(newShape) != t.NumElems {
		return nil, fmt.Errorf("cannot reshape %v (%d elements) to %v", t.Shape, t.NumElems, newShape)
	}
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	return NewTensor(newShape, data)
}

// Clone returns a deep copy of the tensor's shape and data. Autograd state
// (creator, grad) is not copied.
func (t *Tensor) Clone() (*Tensor, error) {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	out, err := NewTensor(append([]int{}, t.Shape...), data)
	if err != nil {
		return nil, err
	}
	out.requiresGrad = t.requiresGrad
	return out, nil
}

// Item returns the value of a single-element tensor.
func (t *Tensor) Item() (float32, error) {
	if t.NumElems != 1 {
		return 0, fmt.Errorf("item requires a single-element tensor, got %d elements", t.NumElems)
	}
	return t.Data[0], nil
}

// At returns the element at the given coordinates.
func (t *Tensor) At(indices ...int) (float32, error) {
	if len(indices) != len(t.Shape) {
		return 0, fmt.Errorf("expected %d indices, got %d", len(t.Shape), len(indices))
	}
	idx := 0
	for i, coord := range indices {
		if coord < 0 || coord >= t.Shape[i] {
			return 0, fmt.Errorf("index %d out of bounds for dimension %d (size %d)", coord, i, t.Shape[i])
		}
		idx += coord * t.Strides[i]
	}
	return t.Data[idx], nil
}

// SetAt assigns the element at the given coordinates.
func (t *Tensor) SetAt(value float32, indices ...int) error {
	if len(indices) != len(t.Shape) {
		return fmt.Errorf("expected %d indices, got %d", len(t.Shape), len(indices))
	}
	idx := 0
	for i, coord := range indices {
		if coord < 0 || coord >= t.Shape[i] {
			return fmt.Errorf("index %d out of bounds for dimension %d (size %d)", coord, i, t.Shape[i])
		}
		idx += coord * t.Strides[i]
	}
	t.Data[idx] = value
	return nil
}

// SetData replaces the tensor's backing data in place.
func (t *Tensor) SetData(data []float32) error {
	if len(data) != t.NumElems {
		return fmt.Errorf("data length %d does not match tensor with %d elements", len(data), t.NumElems)
	}
	copy(t.Data, data)
	return nil
}

// ZeroGrad zeroes the gradient buffers of all given tensors in place.
func ZeroGrad(tensors []*Tensor) {
	for _, t := range tensors {
		if t != nil {
			t.ZeroGradBuffer()
		}
	}
}
