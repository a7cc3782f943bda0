package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

func elementwiseBinary(t1, t2 *Tensor, f func(a, b float32) float32) (*Tensor, error) {
	shape, err := broadcastShapes(t1.Shape, t2.Shape)
	if err != nil {
		return nil, err
	}

	out, err := Zeros(shape)
	if err != nil {
		return nil, err
	}
	for i := 0; i < out.NumElems; i++ {
		a := t1.Data[broadcastIndex(i, shape, t1.Shape, t1.Strides)]
		b := t2.Data[broadcastIndex(i, shape, t2.Shape, t2.Strides)]
		out.Data[i] = f(a, b)
	}
	return out, nil
}

func elementwiseUnary(t *Tensor, f func(v float32) float32) (*Tensor, error) {
	out, err := Zeros(t.Shape)
	if err != nil {
		return nil, err
	}
	for i, v := range t.Data {
		out.Data[i] = f(v)
	}
	return out, nil
}

// Add computes t1 + t2 with broadcasting.
func Add(t1, t2 *Tensor) (*Tensor, error) {
	return elementwiseBinary(t1, t2, func(a, b float32) float32 { return a + b })
}

// Sub computes t1 - t2 with broadcasting.
func Sub(t1, t2 *Tensor) (*Tensor, error) {
	return elementwiseBinary(t1, t2, func(a, b float32) float32 { return a - b })
}

// Mul computes the elementwise product with broadcasting.
func Mul(t1, t2 *Tensor) (*Tensor, error) {
	return elementwiseBinary(t1, t2, func(a, b float32) float32 { return a * b })
}

// Div computes the elementwise quotient with broadcasting.
func Div(t1, t2 *Tensor) (*Tensor, error) {
	return elementwiseBinary(t1, t2, func(a, b float32) float32 { return a / b })
}

// Scale multiplies every element by s.
func Scale(t *Tensor, s float64) (*Tensor, error) {
	f := float32(s)
	return elementwiseUnary(t, func(v float32) float32 { return v * f })
}

// ReLU computes max(0, x) elementwise.
func ReLU(t *Tensor) (*Tensor, error) {
	return elementwiseUnary(t, func(v float32) float32 {
		if v < 0 {
			return 0
		}
		return v
	})
}

// Exp computes e^x elementwise.
func Exp(t *Tensor) (*Tensor, error) {
	return elementwiseUnary(t, func(v float32) float32 { return float32(math.Exp(float64(v))) })
}

// Log computes the natural logarithm elementwise.
func Log(t *Tensor) (*Tensor, error) {
	return elementwiseUnary(t, func(v float32) float32 { return float32(math.Log(float64(v))) })
}

// Sqrt computes the square root elementwise.
func Sqrt(t *Tensor) (*Tensor, error) {
	return elementwiseUnary(t, func(v float32) float32 { return float32(math.Sqrt(float64(v))) })
}

// Abs computes the absolute value elementwise.
func Abs(t *Tensor) (*Tensor, error) {
	return elementwiseUnary(t, func(v float32) float32 {
		if v < 0 {
			return -v
		}
		return v
	})
}

// Sign computes the sign (-1, 0, +1) elementwise.
func Sign(t *Tensor) (*Tensor, error) {
	return elementwiseUnary(t, func(v float32) float32 {
		switch {
		case v > 0:
			return 1
		case v < 0:
			return -1
		default:
			return 0
		}
	})
}

// Clamp limits every element to [lo, hi].
func Clamp(t *Tensor, lo, hi float32) (*Tensor, error) {
	return elementwiseUnary(t, func(v float32) float32 {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	})
}

// MatMul computes the 2D matrix product t1 [m,k] x t2 [k,n]. The kernel runs
// on gonum dense matrices.
func MatMul(t1, t2 *Tensor) (*Tensor, error) {
	if len(t1.Shape) != 2 || len(t2.Shape) != 2 {
		return nil, fmt.Errorf("matmul requires 2D tensors, got %v and %v", t1.Shape, t2.Shape)
	}
	if t1.Shape[1] != t2.Shape[0] {
		return nil, fmt.Errorf("matmul inner dimensions disagree: %v x %v", t1.Shape, t2.Shape)
	}

	a := mat.NewDense(t1.Shape[0], t1.Shape[1], toFloat64(t1.Data))
	b := mat.NewDense(t2.Shape[0], t2.Shape[1], toFloat64(t2.Data))
	var c mat.Dense
	c.Mul(a, b)

	return NewTensor([]int{t1.Shape[0], t2.Shape[1]}, toFloat32(c.RawMatrix().Data))
}

// Transpose swaps the two axes of a 2D tensor.
func Transpose(t *Tensor) (*Tensor, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("transpose requires a 2D tensor, got %v", t.Shape)
	}
	rows, cols := t.Shape[0], t.Shape[1]
	out, err := Zeros([]int{cols, rows})
	if err != nil {
		return nil, err
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Data[j*rows+i] = t.Data[i*cols+j]
		}
	}
	return out, nil
}

// Sum reduces all elements to a scalar tensor.
func Sum(t *Tensor) *Tensor {
	var sum float32
	for _, v := range t.Data {
		sum += v
	}
	return FromScalar(float64(sum))
}

// SumValue returns the sum of all elements.
func SumValue(t *Tensor) float64 {
	var sum float64
	for _, v := range t.Data {
		sum += float64(v)
	}
	return sum
}

// MeanValue returns the mean of all elements.
func MeanValue(t *Tensor) float64 {
	if t.NumElems == 0 {
		return 0
	}
	return SumValue(t) / float64(t.NumElems)
}

func toFloat64(src []float32) []float64 {
	dst := make([]float64, len(src))
	for i, v := range src {
		dst[i] = float64(v)
	}
	return dst
}

func toFloat32(src []float64) []float32 {
	dst := make([]float32, len(src))
	for i, v := range src {
		dst[i] = float32(v)
	}
	return dst
}
