package training

import (
	"fmt"
	"strconv"
)

// Hyperparameters is the immutable snapshot of every tunable the trainer
// module reads. It is built once (from the CLI or a literal), validated in
// NewTrainerModule and never mutated afterwards.
type Hyperparameters struct {
	// Model selection.
	Model     string
	ModelDict map[string]string
	Modes     int

	// Optimization.
	Optimizer     string
	OptimizerDict map[string]string
	LR            float64

	// Scheduling. Scheduler is optional; empty means constant LR.
	Scheduler          string
	SchedulerDict      map[string]string
	SchedulerInterval  string
	SchedulerFrequency int
	SchedulerMonitor   string

	// Adversarial search.
	PGDMode         string
	PGDRegFactor    float64
	PGDIters        int
	PGDRandomStart  bool
	PGDAlpha        float64
	PGDEpsVehicles  float64
	PGDEpsSemantics float64

	// Saliency supervision.
	SaliencyFactor   float64
	SaliencyInterest string
	SaliencyDict     map[string]string

	// Diagnostics.
	TrackGrad bool
}

// DefaultHyperparameters returns the hyperparameter defaults matching the
// CLI surface.
func DefaultHyperparameters() Hyperparameters {
	return Hyperparameters{
		Model:              "Resnet",
		Modes:              1,
		Optimizer:          "Adam",
		LR:                 1e-4,
		SchedulerInterval:  "epoch",
		SchedulerFrequency: 1,
		PGDMode:            "loss",
		PGDAlpha:           0.01,
		PGDEpsVehicles:     0.4,
		PGDEpsSemantics:    0.15625,
		SaliencyInterest:   "simple",
	}
}

func (hp *Hyperparameters) validate() error {
	if hp.Modes <= 0 {
		return fmt.Errorf("%w: modes must be positive, got %d", ErrInvalidConfig, hp.Modes)
	}
	if hp.LR <= 0 {
		return fmt.Errorf("%w: lr must be positive, got %v", ErrInvalidConfig, hp.LR)
	}
	if hp.PGDIters < 0 {
		return fmt.Errorf("%w: pgd iterations must be non-negative, got %d", ErrInvalidConfig, hp.PGDIters)
	}
	if hp.PGDEpsVehicles < 0 || hp.PGDEpsSemantics < 0 {
		return fmt.Errorf("%w: pgd epsilon bounds must be non-negative", ErrInvalidConfig)
	}
	if hp.PGDMode != "loss" && hp.PGDMode != "negative_sample" {
		return fmt.Errorf("%w: pgd mode must be one of [loss, negative_sample], got %q", ErrInvalidConfig, hp.PGDMode)
	}
	if hp.PGDRegFactor < 0 {
		return fmt.Errorf("%w: pgd regularization factor must be non-negative, got %v", ErrInvalidConfig, hp.PGDRegFactor)
	}
	if hp.SaliencyFactor < 0 {
		return fmt.Errorf("%w: saliency factor must be non-negative, got %v", ErrInvalidConfig, hp.SaliencyFactor)
	}
	if hp.SchedulerInterval != "step" && hp.SchedulerInterval != "epoch" {
		return fmt.Errorf("%w: scheduler interval must be one of [step, epoch], got %q", ErrInvalidConfig, hp.SchedulerInterval)
	}
	if hp.SchedulerFrequency <= 0 {
		return fmt.Errorf("%w: scheduler frequency must be positive, got %d", ErrInvalidConfig, hp.SchedulerFrequency)
	}
	return nil
}

// Keyword-argument helpers for the free-form *-dict maps.

func floatKwarg(kwargs map[string]string, key string, def float64) (float64, error) {
	raw, ok := kwargs[key]
	if !ok {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not a number", ErrInvalidConfig, key, raw)
	}
	return v, nil
}

func intKwarg(kwargs map[string]string, key string, def int) (int, error) {
	raw, ok := kwargs[key]
	if !ok {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, key, raw)
	}
	return v, nil
}

func boolKwarg(kwargs map[string]string, key string, def bool) (bool, error) {
	raw, ok := kwargs[key]
	if !ok {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalidConfig, key, raw)
	}
	return v, nil
}

func stringKwarg(kwargs map[string]string, key, def string) string {
	if raw, ok := kwargs[key]; ok {
		return raw
	}
	return def
}
