package tensor

import (
	"fmt"
)

// broadcastShapes returns the shape two operands broadcast to, following
// trailing-dimension alignment: sizes must match or one of them must be 1.
func broadcastShapes(shape1, shape2 []int) ([]int, error) {
	maxDims := len(shape1)
	if len(shape2) > maxDims {
		maxDims = len(shape2)
	}

	result := make([]int, maxDims)
	for i := 0; i < maxDims; i++ {
		d1, d2 := 1, 1
		if i < len(shape1) {
			d1 = shape1[len(shape1)-1-i]
		}
		if i < len(shape2) {
			d2 = shape2[len(shape2)-1-i]
		}

		switch {
		case d1 == d2:
			result[maxDims-1-i] = d1
		case d1 == 1:
			result[maxDims-1-i] = d2
		case d2 == 1:
			result[maxDims-1-i] = d1
		default:
			return nil, fmt.Errorf("shapes %v and %v are not broadcastable", shape1, shape2)
		}
	}
	return result, nil
}

// broadcastIndex maps a flat index in the broadcast result back to a flat
// index in a tensor of the given (smaller or equal) shape.
func broadcastIndex(flatIdx int, outShape, inShape, inStrides []int) int {
	idx := 0
	remaining := flatIdx
	offset := len(outShape) - len(inShape)
	for i := len(outShape) - 1; i >= 0; i-- {
		coord := remaining % outShape[i]
		remaining /= outShape[i]
		j := i - offset
		if j < 0 {
			continue
		}
		if inShape[j] != 1 {
			idx += coord * inStrides[j]
		}
	}
	return idx
}

// BroadcastTensor materializes t broadcast to shape.
func BroadcastTensor(t *Tensor, shape []int) (*Tensor, error) {
	if shapesEqual(t.Shape, shape) {
		return t.Clone()
	}
	if _, err := broadcastShapes(t.Shape, shape); err != nil {
		return nil, err
	}

	out, err := Zeros(shape)
	if err != nil {
		return nil, err
	}
	for i := 0; i < out.NumElems; i++ {
		out.Data[i] = t.Data[broadcastIndex(i, shape, t.Shape, t.Strides)]
	}
	return out, nil
}

// reduceGradientToShape sums a gradient over broadcast dimensions so it
// matches the shape of the operand that produced it.
func reduceGradientToShape(grad *Tensor, targetShape []int) (*Tensor, error) {
	if shapesEqual(grad.Shape, targetShape) {
		return grad.Clone()
	}

	out, err := Zeros(targetShape)
	if err != nil {
		return nil, err
	}
	for i := 0; i < grad.NumElems; i++ {
		out.Data[broadcastIndex(i, grad.Shape, targetShape, out.Strides)] += grad.Data[i]
	}
	return out, nil
}
