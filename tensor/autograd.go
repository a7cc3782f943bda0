package tensor

import (
	"fmt"
)

// AddOp implements the Operation interface for tensor addition.
type AddOp struct {
	inputs []*Tensor
}

func (op *AddOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("AddOp requires exactly 2 inputs")
	}
	op.inputs = inputs

	result, err := Add(inputs[0], inputs[1])
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad || inputs[1].requiresGrad
	return result
}

func (op *AddOp) Backward(gradOut *Tensor) []*Tensor {
	// Gradient flows unchanged to both inputs, reduced over any broadcast
	// dimensions.
	gradA, err := reduceGradientToShape(gradOut, op.inputs[0].Shape)
	if err != nil {
		panic(fmt.Sprintf("failed to reduce gradient for input A: %v", err))
	}
	gradB, err := reduceGradientToShape(gradOut, op.inputs[1].Shape)
	if err != nil {
		panic(fmt.Sprintf("failed to reduce gradient for input B: %v", err))
	}
	return []*Tensor{gradA, gradB}
}

func (op *AddOp) Inputs() []*Tensor { return op.inputs }

// SubOp implements the Operation interface for tensor subtraction.
type SubOp struct {
	inputs []*Tensor
}

func (op *SubOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("SubOp requires exactly 2 inputs")
	}
	op.inputs = inputs

	result, err := Sub(inputs[0], inputs[1])
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad || inputs[1].requiresGrad
	return result
}

func (op *SubOp) Backward(gradOut *Tensor) []*Tensor {
	gradA, err := reduceGradientToShape(gradOut, op.inputs[0].Shape)
	if err != nil {
		panic(fmt.Sprintf("failed to reduce gradient for input A: %v", err))
	}

	neg, err := Scale(gradOut, -1)
	if err != nil {
		panic(fmt.Sprintf("failed to negate gradient: %v", err))
	}
	gradB, err := reduceGradientToShape(neg, op.inputs[1].Shape)
	if err != nil {
		panic(fmt.Sprintf("failed to reduce gradient for input B: %v", err))
	}
	return []*Tensor{gradA, gradB}
}

func (op *SubOp) Inputs() []*Tensor { return op.inputs }

// MulOp implements the Operation interface for elementwise multiplication.
type MulOp struct {
	inputs []*Tensor
}

func (op *MulOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("MulOp requires exactly 2 inputs")
	}
	op.inputs = inputs

	result, err := Mul(inputs[0], inputs[1])
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad || inputs[1].requiresGrad
	return result
}

func (op *MulOp) Backward(gradOut *Tensor) []*Tensor {
	a, b := op.inputs[0], op.inputs[1]

	gradAFull, err := Mul(gradOut, b)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed for gradA: %v", err))
	}
	gradA, err := reduceGradientToShape(gradAFull, a.Shape)
	if err != nil {
		panic(fmt.Sprintf("failed to reduce gradient for input A: %v", err))
	}

	gradBFull, err := Mul(gradOut, a)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed for gradB: %v", err))
	}
	gradB, err := reduceGradientToShape(gradBFull, b.Shape)
	if err != nil {
		panic(fmt.Sprintf("failed to reduce gradient for input B: %v", err))
	}
	return []*Tensor{gradA, gradB}
}

func (op *MulOp) Inputs() []*Tensor { return op.inputs }

// MatMulOp implements the Operation interface for matrix multiplication.
type MatMulOp struct {
	inputs []*Tensor
}

func (op *MatMulOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("MatMulOp requires exactly 2 inputs")
	}
	op.inputs = inputs

	result, err := MatMul(inputs[0], inputs[1])
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad || inputs[1].requiresGrad
	return result
}

func (op *MatMulOp) Backward(gradOut *Tensor) []*Tensor {
	a, b := op.inputs[0], op.inputs[1]

	// d(A @ B)/dA = gradOut @ B^T, d(A @ B)/dB = A^T @ gradOut
	bT, err := Transpose(b)
	if err != nil {
		panic(fmt.Sprintf("failed to transpose B: %v", err))
	}
	gradA, err := MatMul(gradOut, bT)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed for gradA: %v", err))
	}

	aT, err := Transpose(a)
	if err != nil {
		panic(fmt.Sprintf("failed to transpose A: %v", err))
	}
	gradB, err := MatMul(aT, gradOut)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed for gradB: %v", err))
	}
	return []*Tensor{gradA, gradB}
}

func (op *MatMulOp) Inputs() []*Tensor { return op.inputs }

// ReLUOp implements the Operation interface for ReLU activation.
type ReLUOp struct {
	inputs []*Tensor
}

func (op *ReLUOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("ReLUOp requires exactly 1 input")
	}
	op.inputs = inputs

	result, err := ReLU(inputs[0])
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad
	return result
}

func (op *ReLUOp) Backward(gradOut *Tensor) []*Tensor {
	a := op.inputs[0]
	grad, err := gradOut.Clone()
	if err != nil {
		panic(fmt.Sprintf("failed to clone gradient: %v", err))
	}
	for i := range grad.Data {
		if a.Data[i] <= 0 {
			grad.Data[i] = 0
		}
	}
	return []*Tensor{grad}
}

func (op *ReLUOp) Inputs() []*Tensor { return op.inputs }

// ReshapeOp implements the Operation interface for shape changes.
type ReshapeOp struct {
	inputs []*Tensor
	shape  []int
}

func (op *ReshapeOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("ReshapeOp requires exactly 1 input")
	}
	op.inputs = inputs

	result, err := inputs[0].Reshape(op.shape)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad
	return result
}

func (op *ReshapeOp) Backward(gradOut *Tensor) []*Tensor {
	grad, err := gradOut.Reshape(op.inputs[0].Shape)
	if err != nil {
		panic(fmt.Sprintf("failed to reshape gradient: %v", err))
	}
	return []*Tensor{grad}
}

func (op *ReshapeOp) Inputs() []*Tensor { return op.inputs }

// ClampOp implements the Operation interface for range clamping. Gradient is
// zero wherever the input fell outside the bounds.
type ClampOp struct {
	inputs []*Tensor
	lo, hi float32
}

func (op *ClampOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("ClampOp requires exactly 1 input")
	}
	op.inputs = inputs

	result, err := Clamp(inputs[0], op.lo, op.hi)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad
	return result
}

func (op *ClampOp) Backward(gradOut *Tensor) []*Tensor {
	a := op.inputs[0]
	grad, err := gradOut.Clone()
	if err != nil {
		panic(fmt.Sprintf("failed to clone gradient: %v", err))
	}
	for i := range grad.Data {
		if a.Data[i] < op.lo || a.Data[i] > op.hi {
			grad.Data[i] = 0
		}
	}
	return []*Tensor{grad}
}

func (op *ClampOp) Inputs() []*Tensor { return op.inputs }

// MeanOp implements the Operation interface for full reduction to the mean.
type MeanOp struct {
	inputs []*Tensor
}

func (op *MeanOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("MeanOp requires exactly 1 input")
	}
	op.inputs = inputs

	result := FromScalar(MeanValue(inputs[0]))
	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad
	return result
}

func (op *MeanOp) Backward(gradOut *Tensor) []*Tensor {
	a := op.inputs[0]
	grad, err := Full(a.Shape, gradOut.Data[0]/float32(a.NumElems))
	if err != nil {
		panic(fmt.Sprintf("failed to build mean gradient: %v", err))
	}
	return []*Tensor{grad}
}

func (op *MeanOp) Inputs() []*Tensor { return op.inputs }

// ScaleOp implements the Operation interface for multiplication by a
// constant.
type ScaleOp struct {
	inputs []*Tensor
	factor float64
}

func (op *ScaleOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("ScaleOp requires exactly 1 input")
	}
	op.inputs = inputs

	result, err := Scale(inputs[0], op.factor)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad
	return result
}

func (op *ScaleOp) Backward(gradOut *Tensor) []*Tensor {
	grad, err := Scale(gradOut, op.factor)
	if err != nil {
		panic(fmt.Sprintf("failed to scale gradient: %v", err))
	}
	return []*Tensor{grad}
}

func (op *ScaleOp) Inputs() []*Tensor { return op.inputs }

// DropoutOp implements the Operation interface for inverted dropout. The
// mask is fixed at forward time and reused in the backward pass.
type DropoutOp struct {
	inputs []*Tensor
	mask   *Tensor
}

func (op *DropoutOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("DropoutOp requires exactly 1 input")
	}
	op.inputs = inputs

	result, err := Mul(inputs[0], op.mask)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad
	return result
}

func (op *DropoutOp) Backward(gradOut *Tensor) []*Tensor {
	grad, err := Mul(gradOut, op.mask)
	if err != nil {
		panic(fmt.Sprintf("failed to mask gradient: %v", err))
	}
	return []*Tensor{grad}
}

func (op *DropoutOp) Inputs() []*Tensor { return op.inputs }

// High-level autograd functions that create and execute operations.

// AddAutograd performs addition with automatic differentiation.
func AddAutograd(a, b *Tensor) *Tensor {
	op := &AddOp{}
	return op.Forward(a, b)
}

// SubAutograd performs subtraction with automatic differentiation.
func SubAutograd(a, b *Tensor) *Tensor {
	op := &SubOp{}
	return op.Forward(a, b)
}

// MulAutograd performs multiplication with automatic differentiation.
func MulAutograd(a, b *Tensor) *Tensor {
	op := &MulOp{}
	return op.Forward(a, b)
}

// MatMulAutograd performs matrix multiplication with automatic differentiation.
func MatMulAutograd(a, b *Tensor) *Tensor {
	op := &MatMulOp{}
	return op.Forward(a, b)
}

// ReLUAutograd performs ReLU activation with automatic differentiation.
func ReLUAutograd(a *Tensor) *Tensor {
	op := &ReLUOp{}
	return op.Forward(a)
}

// ReshapeAutograd changes the shape with automatic differentiation.
func ReshapeAutograd(a *Tensor, shape []int) *Tensor {
	op := &ReshapeOp{shape: append([]int{}, shape...)}
	return op.Forward(a)
}

// ClampAutograd limits values to [lo, hi] with automatic differentiation.
func ClampAutograd(a *Tensor, lo, hi float32) *Tensor {
	op := &ClampOp{lo: lo, hi: hi}
	return op.Forward(a)
}

// MeanAutograd reduces to the mean with automatic differentiation.
func MeanAutograd(a *Tensor) *Tensor {
	op := &MeanOp{}
	return op.Forward(a)
}

// ScaleAutograd multiplies by a constant with automatic differentiation.
func ScaleAutograd(a *Tensor, factor float64) *Tensor {
	op := &ScaleOp{factor: factor}
	return op.Forward(a)
}

// DropoutAutograd applies an inverted dropout mask with automatic
// differentiation.
func DropoutAutograd(a, mask *Tensor) *Tensor {
	op := &DropoutOp{mask: mask}
	return op.Forward(a)
}

// topoOrder collects the gradient-requiring subgraph reachable from root in
// post-order, so reversing it yields a valid backward schedule.
func topoOrder(root *Tensor) []*Tensor {
	visited := make(map[*Tensor]bool)
	var order []*Tensor

	var visit func(t *Tensor)
	visit = func(t *Tensor) {
		if visited[t] || !t.requiresGrad {
			return
		}
		visited[t] = true
		if t.creator != nil {
			for _, in := range t.creator.Inputs() {
				visit(in)
			}
		}
		order = append(order, t)
	}
	visit(root)
	return order
}

func accumulate(table map[*Tensor]*Tensor, key *Tensor, grad *Tensor) error {
	existing := table[key]
	if existing == nil {
		cloned, err := grad.Clone()
		if err != nil {
			return err
		}
		table[key] = cloned
		return nil
	}
	for i := range existing.Data {
		existing.Data[i] += grad.Data[i]
	}
	return nil
}

// backwardPass runs reverse-mode differentiation from root seeded with seed,
// returning the full gradient table.
func backwardPass(root, seed *Tensor) (map[*Tensor]*Tensor, error) {
	if !root.requiresGrad {
		return nil, fmt.Errorf("backward called on a tensor that does not require gradients")
	}
	if !shapesEqual(root.Shape, seed.Shape) {
		return nil, fmt.Errorf("seed shape %v does not match output shape %v", seed.Shape, root.Shape)
	}

	order := topoOrder(root)
	table := make(map[*Tensor]*Tensor)
	if err := accumulate(table, root, seed); err != nil {
		return nil, err
	}

	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		grad := table[node]
		if grad == nil || node.creator == nil {
			continue
		}
		inputGrads := node.creator.Backward(grad)
		inputs := node.creator.Inputs()
		if len(inputGrads) != len(inputs) {
			return nil, fmt.Errorf("operation returned %d gradients for %d inputs", len(inputGrads), len(inputs))
		}
		for j, in := range inputs {
			if !in.requiresGrad {
				continue
			}
			if err := accumulate(table, in, inputGrads[j]); err != nil {
				return nil, err
			}
		}
	}
	return table, nil
}

// Backward runs reverse-mode differentiation from root and accumulates
// gradients into the grad buffer of every gradient-requiring leaf.
func Backward(root, seed *Tensor) error {
	table, err := backwardPass(root, seed)
	if err != nil {
		return err
	}
	for t, g := range table {
		if t.creator != nil || !t.requiresGrad {
			continue
		}
		if t.grad == nil {
			t.grad = g
			continue
		}
		for i := range t.grad.Data {
			t.grad.Data[i] += g.Data[i]
		}
	}
	return nil
}

// Grad computes gradients of root with respect to the wrt tensors without
// touching any grad buffer. Tensors the output does not depend on receive a
// zero gradient.
func Grad(root, seed *Tensor, wrt ...*Tensor) ([]*Tensor, error) {
	table, err := backwardPass(root, seed)
	if err != nil {
		return nil, err
	}
	out := make([]*Tensor, len(wrt))
	for i, t := range wrt {
		if g := table[t]; g != nil {
			out[i] = g
			continue
		}
		zero, err := Zeros(t.Shape)
		if err != nil {
			return nil, err
		}
		out[i] = zero
	}
	return out, nil
}
