package training

import (
	"errors"
	"testing"

	"github.com/vahidzee/reason-aware-raster/tensor"
)

func paramWithGrad(t *testing.T, data, grad []float32) *tensor.Tensor {
	t.Helper()
	p, err := tensor.NewTensor([]int{len(data)}, data)
	if err != nil {
		t.Fatal(err)
	}
	p.SetRequiresGrad(true)

	out := tensor.MeanAutograd(p)
	if err := tensor.Backward(out, tensor.FromScalar(0)); err != nil {
		t.Fatalf("failed to seed gradient buffer: %v", err)
	}
	copy(p.Grad().Data, grad)
	return p
}

func TestNewOptimizer(t *testing.T) {
	p := paramWithGrad(t, []float32{1}, []float32{0})

	t.Run("unknown name", func(t *testing.T) {
		if _, err := NewOptimizer("RMSprop", []*tensor.Tensor{p}, 0.1, nil); !errors.Is(err, ErrUnknownComponent) {
			t.Errorf("expected ErrUnknownComponent, got %v", err)
		}
	})

	t.Run("bad learning rate", func(t *testing.T) {
		if _, err := NewOptimizer("SGD", []*tensor.Tensor{p}, 0, nil); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("no parameters", func(t *testing.T) {
		if _, err := NewOptimizer("Adam", nil, 0.1, nil); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestSGDStep(t *testing.T) {
	t.Run("vanilla", func(t *testing.T) {
		p := paramWithGrad(t, []float32{1, 2}, []float32{0.5, -1})
		opt, err := NewOptimizer("SGD", []*tensor.Tensor{p}, 0.1, nil)
		if err != nil {
			t.Fatalf("failed to build optimizer: %v", err)
		}
		if err := opt.Step(); err != nil {
			t.Fatalf("step failed: %v", err)
		}
		want := []float64{0.95, 2.1}
		for i := range want {
			if !almostEqual(float64(p.Data[i]), want[i], 1e-6) {
				t.Errorf("param[%d]: expected %v, got %v", i, want[i], p.Data[i])
			}
		}
	})

	t.Run("momentum accumulates", func(t *testing.T) {
		p := paramWithGrad(t, []float32{0}, []float32{1})
		opt, err := NewOptimizer("SGD", []*tensor.Tensor{p}, 0.1, map[string]string{"momentum": "0.9"})
		if err != nil {
			t.Fatalf("failed to build optimizer: %v", err)
		}
		// First step: v = g = 1, p -= 0.1.
		if err := opt.Step(); err != nil {
			t.Fatalf("step failed: %v", err)
		}
		if !almostEqual(float64(p.Data[0]), -0.1, 1e-6) {
			t.Fatalf("after first step: expected -0.1, got %v", p.Data[0])
		}
		// Second step with the same gradient: v = 0.9 + 1 = 1.9.
		if err := opt.Step(); err != nil {
			t.Fatalf("step failed: %v", err)
		}
		if !almostEqual(float64(p.Data[0]), -0.29, 1e-6) {
			t.Errorf("after second step: expected -0.29, got %v", p.Data[0])
		}
	})

	t.Run("nil gradient is skipped", func(t *testing.T) {
		p, err := tensor.NewTensor([]int{1}, []float32{5})
		if err != nil {
			t.Fatal(err)
		}
		p.SetRequiresGrad(true)
		opt, err := NewOptimizer("SGD", []*tensor.Tensor{p}, 0.1, nil)
		if err != nil {
			t.Fatalf("failed to build optimizer: %v", err)
		}
		if err := opt.Step(); err != nil {
			t.Fatalf("step failed: %v", err)
		}
		if p.Data[0] != 5 {
			t.Errorf("parameter without gradient moved: %v", p.Data[0])
		}
	})
}

func TestAdamStep(t *testing.T) {
	p := paramWithGrad(t, []float32{1}, []float32{0.5})
	opt, err := NewOptimizer("Adam", []*tensor.Tensor{p}, 0.001, nil)
	if err != nil {
		t.Fatalf("failed to build optimizer: %v", err)
	}
	if err := opt.Step(); err != nil {
		t.Fatalf("step failed: %v", err)
	}
	// With bias correction the first Adam step has magnitude close to lr.
	if !almostEqual(float64(p.Data[0]), 1-0.001, 1e-5) {
		t.Errorf("expected first step of roughly lr, got %v", 1-float64(p.Data[0]))
	}

	t.Run("invalid betas", func(t *testing.T) {
		if _, err := NewOptimizer("Adam", []*tensor.Tensor{p}, 0.001, map[string]string{"beta1": "1.5"}); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestOptimizerLRAndZeroGrad(t *testing.T) {
	p := paramWithGrad(t, []float32{1}, []float32{2})
	opt, err := NewOptimizer("SGD", []*tensor.Tensor{p}, 0.1, nil)
	if err != nil {
		t.Fatalf("failed to build optimizer: %v", err)
	}

	opt.SetLR(0.05)
	if opt.GetLR() != 0.05 {
		t.Errorf("expected lr 0.05, got %v", opt.GetLR())
	}

	opt.ZeroGrad()
	for i, v := range p.Grad().Data {
		if v != 0 {
			t.Errorf("grad[%d] not zeroed: %v", i, v)
		}
	}
}
