package training

import (
	"errors"
	"testing"
)

func TestNewScheduler(t *testing.T) {
	t.Run("unknown name", func(t *testing.T) {
		if _, err := NewScheduler("OneCycleLR", nil); !errors.Is(err, ErrUnknownComponent) {
			t.Errorf("expected ErrUnknownComponent, got %v", err)
		}
	})

	t.Run("bad kwarg", func(t *testing.T) {
		if _, err := NewScheduler("StepLR", map[string]string{"gamma": "fast"}); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestStepLR(t *testing.T) {
	sched, err := NewScheduler("StepLR", map[string]string{"step_size": "2", "gamma": "0.5"})
	if err != nil {
		t.Fatalf("failed to build scheduler: %v", err)
	}

	cases := []struct {
		epoch int
		want  float64
	}{
		{0, 1.0},
		{1, 1.0},
		{2, 0.5},
		{3, 0.5},
		{4, 0.25},
	}
	for _, tc := range cases {
		if got := sched.GetLR(tc.epoch, 0, 1.0); !almostEqual(got, tc.want, 1e-9) {
			t.Errorf("epoch %d: expected lr %v, got %v", tc.epoch, tc.want, got)
		}
	}
}

func TestExponentialLR(t *testing.T) {
	sched, err := NewScheduler("ExponentialLR", map[string]string{"gamma": "0.9"})
	if err != nil {
		t.Fatalf("failed to build scheduler: %v", err)
	}
	if got := sched.GetLR(0, 0, 2.0); !almostEqual(got, 2.0, 1e-9) {
		t.Errorf("epoch 0: expected 2.0, got %v", got)
	}
	if got := sched.GetLR(3, 0, 2.0); !almostEqual(got, 2.0*0.9*0.9*0.9, 1e-9) {
		t.Errorf("epoch 3: expected %v, got %v", 2.0*0.9*0.9*0.9, got)
	}
}

func TestCosineAnnealingLR(t *testing.T) {
	sched, err := NewScheduler("CosineAnnealingLR", map[string]string{"t_max": "10", "eta_min": "0.1"})
	if err != nil {
		t.Fatalf("failed to build scheduler: %v", err)
	}
	if got := sched.GetLR(0, 0, 1.0); !almostEqual(got, 1.0, 1e-9) {
		t.Errorf("start of cycle: expected 1.0, got %v", got)
	}
	if got := sched.GetLR(5, 0, 1.0); !almostEqual(got, 0.55, 1e-9) {
		t.Errorf("middle of cycle: expected 0.55, got %v", got)
	}
}

func TestReduceLROnPlateau(t *testing.T) {
	sched, err := NewScheduler("ReduceLROnPlateau", map[string]string{"factor": "0.5", "patience": "1", "threshold": "0.01"})
	if err != nil {
		t.Fatalf("failed to build scheduler: %v", err)
	}
	plateau := sched.(*ReduceLROnPlateau)

	lr := 1.0
	lr = plateau.Step(1.0, lr) // first observation establishes the best
	if lr != 1.0 {
		t.Fatalf("lr changed on first observation: %v", lr)
	}
	lr = plateau.Step(0.99, lr) // within threshold, counts as stalled
	if lr != 1.0 {
		t.Fatalf("lr changed within patience: %v", lr)
	}
	lr = plateau.Step(0.995, lr) // second stall exceeds patience
	if !almostEqual(lr, 0.5, 1e-9) {
		t.Fatalf("expected lr 0.5 after plateau, got %v", lr)
	}

	lr = plateau.Step(0.5, lr) // real improvement resets the counter
	lr = plateau.Step(0.51, lr)
	if !almostEqual(lr, 0.5, 1e-9) {
		t.Fatalf("lr decayed before patience ran out again: %v", lr)
	}
}

func TestNewSchedulerSpec(t *testing.T) {
	t.Run("no scheduler", func(t *testing.T) {
		hp := testHyperparameters()
		spec, err := NewSchedulerSpec(hp)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if spec != nil {
			t.Error("expected nil spec without a scheduler")
		}
	})

	t.Run("plateau defaults to validation loss", func(t *testing.T) {
		hp := testHyperparameters()
		hp.Scheduler = "ReduceLROnPlateau"
		spec, err := NewSchedulerSpec(hp)
		if err != nil {
			t.Fatalf("failed to build spec: %v", err)
		}
		if spec.Plateau == nil {
			t.Fatal("plateau scheduler not detected")
		}
		if spec.Monitor != "loss/val" {
			t.Errorf("expected default monitor loss/val, got %q", spec.Monitor)
		}
	})

	t.Run("stateless scheduler keeps monitor empty", func(t *testing.T) {
		hp := testHyperparameters()
		hp.Scheduler = "StepLR"
		spec, err := NewSchedulerSpec(hp)
		if err != nil {
			t.Fatalf("failed to build spec: %v", err)
		}
		if spec.Plateau != nil {
			t.Error("StepLR misdetected as plateau")
		}
	})
}
