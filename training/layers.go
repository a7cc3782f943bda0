package training

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/vahidzee/reason-aware-raster/tensor"
)

// Global random source for deterministic initialization and dropout masks.
var globalRng = rand.New(rand.NewSource(1))

// SetRandomSeed resets the global random source used for weight
// initialization, dropout masks and PGD random starts.
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
}

// Linear implements a fully connected layer: y = xW + b.
type Linear struct {
	weight *tensor.Tensor // [in, out]
	bias   *tensor.Tensor // [out], nil when disabled
}

// NewLinear creates a Linear layer with Xavier/Glorot uniform weights and a
// zero bias.
func NewLinear(inputSize, outputSize int, bias bool) (*Linear, error) {
	if inputSize <= 0 || outputSize <= 0 {
		return nil, fmt.Errorf("linear layer sizes must be positive, got %d x %d", inputSize, outputSize)
	}

	bound := math.Sqrt(6.0 / float64(inputSize+outputSize))
	weightData := make([]float32, inputSize*outputSize)
	for i := range weightData {
		weightData[i] = float32((globalRng.Float64()*2.0 - 1.0) * bound)
	}
	weight, err := tensor.NewTensor([]int{inputSize, outputSize}, weightData)
	if err != nil {
		return nil, fmt.Errorf("failed to create weight tensor: %v", err)
	}
	weight.SetRequiresGrad(true)

	l := &Linear{weight: weight}
	if bias {
		b, err := tensor.Zeros([]int{outputSize})
		if err != nil {
			return nil, fmt.Errorf("failed to create bias tensor: %v", err)
		}
		b.SetRequiresGrad(true)
		l.bias = b
	}
	return l, nil
}

// Forward computes y = xW + b for x of shape [N, in].
func (l *Linear) Forward(x *tensor.Tensor) *tensor.Tensor {
	out := tensor.MatMulAutograd(x, l.weight)
	if l.bias != nil {
		out = tensor.AddAutograd(out, l.bias)
	}
	return out
}

// Parameters returns the layer's trainable tensors.
func (l *Linear) Parameters() []*tensor.Tensor {
	if l.bias == nil {
		return []*tensor.Tensor{l.weight}
	}
	return []*tensor.Tensor{l.weight, l.bias}
}

// Dropout implements inverted dropout. It is the stochastic layer that makes
// train/eval mode observable: in eval mode it is the identity.
type Dropout struct {
	p        float64
	training bool
}

// NewDropout creates a dropout layer with drop probability p.
func NewDropout(p float64) (*Dropout, error) {
	if p < 0 || p >= 1 {
		return nil, fmt.Errorf("dropout probability must be in [0,1), got %v", p)
	}
	return &Dropout{p: p, training: true}, nil
}

// SetTraining switches between stochastic (train) and identity (eval) mode.
func (d *Dropout) SetTraining(training bool) {
	d.training = training
}

// Forward applies the dropout mask in training mode.
func (d *Dropout) Forward(x *tensor.Tensor) *tensor.Tensor {
	if !d.training || d.p == 0 {
		return x
	}
	keep := float32(1 - d.p)
	maskData := make([]float32, x.NumElems)
	for i := range maskData {
		if globalRng.Float64() >= d.p {
			maskData[i] = 1 / keep
		}
	}
	mask, err := tensor.NewTensor(append([]int{}, x.Shape...), maskData)
	if err != nil {
		panic(fmt.Sprintf("failed to build dropout mask: %v", err))
	}
	return tensor.DropoutAutograd(x, mask)
}
