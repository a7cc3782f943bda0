package tensor

import (
	"fmt"
	"math/rand"
)

// NewTensor creates a tensor with the given shape backed by data. The data
// length must match the shape's element count.
func NewTensor(shape []int, data []float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	if len(data) != numElems {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(data), shape, numElems)
	}

	return &Tensor{
		Shape:    append([]int{}, shape...),
		Strides:  calculateStrides(shape),
		Data:     data,
		NumElems: numElems,
	}, nil
}

// Zeros creates a zero-filled tensor.
func Zeros(shape []int) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	return NewTensor(shape, make([]float32, calculateNumElements(shape)))
}

// Ones creates a one-filled tensor.
func Ones(shape []int) (*Tensor, error) {
	return Full(shape, 1.0)
}

// Full creates a tensor filled with value.
func Full(shape []int, value float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	data := make([]float32, calculateNumElements(shape))
	for i := range data {
		data[i] = value
	}
	return NewTensor(shape, data)
}

// FromScalar creates a single-element tensor holding value.
func FromScalar(value float64) *Tensor {
	t, err := NewTensor([]int{1}, []float32{float32(value)})
	if err != nil {
		panic(fmt.Sprintf("scalar tensor creation failed: %v", err))
	}
	return t
}

// Random creates a tensor with elements drawn uniformly from [0, 1).
func Random(rng *rand.Rand, shape []int) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	data := make([]float32, calculateNumElements(shape))
	for i := range data {
		data[i] = rng.Float32()
	}
	return NewTensor(shape, data)
}

// RandomUniform creates a tensor with elements drawn uniformly from [lo, hi).
func RandomUniform(rng *rand.Rand, shape []int, lo, hi float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	data := make([]float32, calculateNumElements(shape))
	for i := range data {
		data[i] = lo + rng.Float32()*(hi-lo)
	}
	return NewTensor(shape, data)
}

// RandomNormal creates a tensor with elements drawn from N(mean, std).
func RandomNormal(rng *rand.Rand, shape []int, mean, std float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	data := make([]float32, calculateNumElements(shape))
	for i := range data {
		data[i] = mean + float32(rng.NormFloat64())*std
	}
	return NewTensor(shape, data)
}
