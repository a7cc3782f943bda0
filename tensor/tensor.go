package tensor

import (
	"fmt"
)

// Operation is the autograd protocol every differentiable op implements.
// Forward computes the result and records whatever the backward pass needs;
// Backward maps the gradient of the output to gradients of the inputs, in
// the same order Inputs reports them.
type Operation interface {
	Forward(...*Tensor) *Tensor
	Backward(gradOut *Tensor) []*Tensor
	Inputs() []*Tensor
}

// Tensor is a dense float32 tensor in row-major layout.
type Tensor struct {
	Shape        []int
	Strides      []int
	Data         []float32
	NumElems     int
	requiresGrad bool
	grad         *Tensor
	creator      Operation
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, elements=%d)", t.Shape, t.NumElems)
}

func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
}

// Grad returns the accumulated gradient, or nil if Backward has not reached
// this tensor.
func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// ZeroGradBuffer zeroes the accumulated gradient in place. A tensor that
// never received a gradient keeps its nil buffer.
func (t *Tensor) ZeroGradBuffer() {
	if t.grad == nil {
		return
	}
	for i := range t.grad.Data {
		t.grad.Data[i] = 0
	}
}

// Creator returns the operation that produced this tensor, or nil for leaves.
func (t *Tensor) Creator() Operation {
	return t.creator
}

// AttachOp marks t as produced by op so graph traversal can flow through it.
// Ops defined outside this package use it to join the autograd graph.
func (t *Tensor) AttachOp(op Operation) {
	t.creator = op
}

// Detach returns a copy of t that shares no autograd state: no creator, no
// gradient, gradient tracking disabled.
func (t *Tensor) Detach() *Tensor {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	out, err := NewTensor(append([]int{}, t.Shape...), data)
	if err != nil {
		panic(fmt.Sprintf("detach failed: %v", err))
	}
	return out
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}

	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}

	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("invalid shape: must have at least one dimension")
	}
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}

func shapesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
