package tensor

import (
	"testing"
)

func leaf(t *testing.T, shape []int, data []float32) *Tensor {
	t.Helper()
	tensor, err := NewTensor(shape, data)
	if err != nil {
		t.Fatalf("failed to build tensor: %v", err)
	}
	tensor.SetRequiresGrad(true)
	return tensor
}

func TestBackwardThroughAdd(t *testing.T) {
	a := leaf(t, []int{3}, []float32{1, 2, 3})
	b := leaf(t, []int{3}, []float32{4, 5, 6})

	out := MeanAutograd(AddAutograd(a, b))
	if err := Backward(out, FromScalar(1)); err != nil {
		t.Fatalf("backward failed: %v", err)
	}

	for _, p := range []*Tensor{a, b} {
		grad := p.Grad()
		if grad == nil {
			t.Fatal("expected gradient on leaf")
		}
		for i := range grad.Data {
			if !almostEqual(float64(grad.Data[i]), 1.0/3, 1e-6) {
				t.Errorf("element %d: expected grad 1/3, got %v", i, grad.Data[i])
			}
		}
	}
}

func TestBackwardThroughMul(t *testing.T) {
	a := leaf(t, []int{2}, []float32{3, -2})
	b := leaf(t, []int{2}, []float32{5, 4})

	out := MulAutograd(a, b)
	seed, _ := Ones([]int{2})
	if err := Backward(out, seed); err != nil {
		t.Fatalf("backward failed: %v", err)
	}

	wantA := []float32{5, 4}
	wantB := []float32{3, -2}
	for i := range wantA {
		if a.Grad().Data[i] != wantA[i] {
			t.Errorf("grad a[%d]: expected %v, got %v", i, wantA[i], a.Grad().Data[i])
		}
		if b.Grad().Data[i] != wantB[i] {
			t.Errorf("grad b[%d]: expected %v, got %v", i, wantB[i], b.Grad().Data[i])
		}
	}
}

func TestBackwardThroughMatMul(t *testing.T) {
	a := leaf(t, []int{1, 2}, []float32{1, 2})
	w := leaf(t, []int{2, 2}, []float32{1, 0, 0, 1})

	out := MeanAutograd(MatMulAutograd(a, w))
	if err := Backward(out, FromScalar(1)); err != nil {
		t.Fatalf("backward failed: %v", err)
	}

	// out = (a0 + a1) / 2, so d out / d a = [0.5, 0.5] under identity W.
	for i := range a.Grad().Data {
		if !almostEqual(float64(a.Grad().Data[i]), 0.5, 1e-6) {
			t.Errorf("grad a[%d]: expected 0.5, got %v", i, a.Grad().Data[i])
		}
	}
	// d out / d w[i][j] = a[i] / 2.
	wantW := []float32{0.5, 0.5, 1, 1}
	for i := range wantW {
		if !almostEqual(float64(w.Grad().Data[i]), float64(wantW[i]), 1e-6) {
			t.Errorf("grad w[%d]: expected %v, got %v", i, wantW[i], w.Grad().Data[i])
		}
	}
}

func TestClampGradient(t *testing.T) {
	a := leaf(t, []int{3}, []float32{-0.5, 0.5, 1.5})

	out := ClampAutograd(a, 0, 1)
	seed, _ := Ones([]int{3})
	if err := Backward(out, seed); err != nil {
		t.Fatalf("backward failed: %v", err)
	}

	// Gradient flows only where the input is strictly inside the range.
	want := []float32{0, 1, 0}
	for i := range want {
		if a.Grad().Data[i] != want[i] {
			t.Errorf("grad[%d]: expected %v, got %v", i, want[i], a.Grad().Data[i])
		}
	}
}

func TestGradDoesNotTouchLeafBuffers(t *testing.T) {
	a := leaf(t, []int{2}, []float32{1, 2})
	b := leaf(t, []int{2}, []float32{3, 4})

	out := MeanAutograd(MulAutograd(a, b))
	grads, err := Grad(out, FromScalar(1), a)
	if err != nil {
		t.Fatalf("grad failed: %v", err)
	}

	want := []float32{1.5, 2}
	for i := range want {
		if !almostEqual(float64(grads[0].Data[i]), float64(want[i]), 1e-6) {
			t.Errorf("grad[%d]: expected %v, got %v", i, want[i], grads[0].Data[i])
		}
	}
	if a.Grad() != nil || b.Grad() != nil {
		t.Error("Grad must not write leaf .grad buffers")
	}
}

func TestGradUnreachedTensorIsZero(t *testing.T) {
	a := leaf(t, []int{2}, []float32{1, 2})
	unrelated := leaf(t, []int{2}, []float32{3, 4})

	out := MeanAutograd(a)
	grads, err := Grad(out, FromScalar(1), unrelated)
	if err != nil {
		t.Fatalf("grad failed: %v", err)
	}
	for i, g := range grads[0].Data {
		if g != 0 {
			t.Errorf("grad[%d]: expected 0 for unreached tensor, got %v", i, g)
		}
	}
}

func TestBackwardAccumulates(t *testing.T) {
	a := leaf(t, []int{2}, []float32{1, 2})

	for pass := 0; pass < 2; pass++ {
		out := MeanAutograd(a)
		if err := Backward(out, FromScalar(1)); err != nil {
			t.Fatalf("backward failed: %v", err)
		}
	}
	for i := range a.Grad().Data {
		if !almostEqual(float64(a.Grad().Data[i]), 1, 1e-6) {
			t.Errorf("grad[%d]: expected accumulated 1.0, got %v", i, a.Grad().Data[i])
		}
	}

	a.ZeroGradBuffer()
	for i := range a.Grad().Data {
		if a.Grad().Data[i] != 0 {
			t.Errorf("grad[%d]: expected 0 after zeroing, got %v", i, a.Grad().Data[i])
		}
	}
}

func TestDiamondGraph(t *testing.T) {
	// out = mean(a*a + a), both paths must accumulate into a.
	a := leaf(t, []int{2}, []float32{3, -1})

	sq := MulAutograd(a, a)
	out := MeanAutograd(AddAutograd(sq, a))
	if err := Backward(out, FromScalar(1)); err != nil {
		t.Fatalf("backward failed: %v", err)
	}

	// d out / d a_i = (2 a_i + 1) / 2
	want := []float64{3.5, -0.5}
	for i := range want {
		if !almostEqual(float64(a.Grad().Data[i]), want[i], 1e-6) {
			t.Errorf("grad[%d]: expected %v, got %v", i, want[i], a.Grad().Data[i])
		}
	}
}
