package training

import (
	"fmt"
	"math"
)

// LRScheduler computes the learning rate for a given position in training.
// Stateless schedules derive the rate from the epoch or step counter;
// metric-driven schedules (ReduceLROnPlateau) keep internal state and are
// driven through their own Step method instead.
type LRScheduler interface {
	GetLR(epoch, step int, baseLR float64) float64
	GetName() string
}

// SchedulerFactory builds a scheduler from free-form keyword arguments.
type SchedulerFactory func(kwargs map[string]string) (LRScheduler, error)

var schedulerRegistry = map[string]SchedulerFactory{
	"StepLR":            newStepLR,
	"ExponentialLR":     newExponentialLR,
	"CosineAnnealingLR": newCosineAnnealingLR,
	"ReduceLROnPlateau": newReduceLROnPlateau,
}

// RegisterScheduler adds a scheduler factory under name.
func RegisterScheduler(name string, factory SchedulerFactory) {
	schedulerRegistry[name] = factory
}

// NewScheduler resolves a scheduler by registry name.
func NewScheduler(name string, kwargs map[string]string) (LRScheduler, error) {
	factory, ok := schedulerRegistry[name]
	if !ok {
		return nil, fmt.Errorf("%w: scheduler %q", ErrUnknownComponent, name)
	}
	return factory(kwargs)
}

// SchedulerSpec pairs a scheduler with its invocation policy: whether it
// advances per optimizer step or per epoch, how often, and which logged
// metric a plateau schedule watches.
type SchedulerSpec struct {
	Scheduler LRScheduler
	Interval  string // "step" or "epoch"
	Frequency int
	Monitor   string

	// Plateau is non-nil when the scheduler is metric-driven.
	Plateau *ReduceLROnPlateau
}

// NewSchedulerSpec assembles the scheduler named in the hyperparameters,
// or returns nil when none is configured.
func NewSchedulerSpec(hp Hyperparameters) (*SchedulerSpec, error) {
	if hp.Scheduler == "" {
		return nil, nil
	}
	sched, err := NewScheduler(hp.Scheduler, hp.SchedulerDict)
	if err != nil {
		return nil, err
	}

	interval := hp.SchedulerInterval
	if interval == "" {
		interval = "epoch"
	}
	if interval != "step" && interval != "epoch" {
		return nil, fmt.Errorf("%w: scheduler interval must be step or epoch, got %q", ErrInvalidConfig, interval)
	}
	frequency := hp.SchedulerFrequency
	if frequency <= 0 {
		frequency = 1
	}

	spec := &SchedulerSpec{
		Scheduler: sched,
		Interval:  interval,
		Frequency: frequency,
		Monitor:   hp.SchedulerMonitor,
	}
	if plateau, ok := sched.(*ReduceLROnPlateau); ok {
		spec.Plateau = plateau
		if spec.Monitor == "" {
			spec.Monitor = "loss/val"
		}
	}
	return spec, nil
}

// StepLR multiplies the learning rate by gamma every stepSize epochs.
type StepLR struct {
	stepSize int
	gamma    float64
}

func newStepLR(kwargs map[string]string) (LRScheduler, error) {
	stepSize, err := intKwarg(kwargs, "step_size", 10)
	if err != nil {
		return nil, err
	}
	gamma, err := floatKwarg(kwargs, "gamma", 0.1)
	if err != nil {
		return nil, err
	}
	if stepSize <= 0 {
		return nil, fmt.Errorf("%w: step_size must be positive, got %d", ErrInvalidConfig, stepSize)
	}
	return &StepLR{stepSize: stepSize, gamma: gamma}, nil
}

func (s *StepLR) GetLR(epoch, step int, baseLR float64) float64 {
	return baseLR * math.Pow(s.gamma, float64(epoch/s.stepSize))
}

func (s *StepLR) GetName() string { return "StepLR" }

// ExponentialLR decays the learning rate by gamma every epoch.
type ExponentialLR struct {
	gamma float64
}

func newExponentialLR(kwargs map[string]string) (LRScheduler, error) {
	gamma, err := floatKwarg(kwargs, "gamma", 0.95)
	if err != nil {
		return nil, err
	}
	return &ExponentialLR{gamma: gamma}, nil
}

func (e *ExponentialLR) GetLR(epoch, step int, baseLR float64) float64 {
	return baseLR * math.Pow(e.gamma, float64(epoch))
}

func (e *ExponentialLR) GetName() string { return "ExponentialLR" }

// CosineAnnealingLR anneals the rate from baseLR to etaMin over tMax epochs
// following a half cosine.
type CosineAnnealingLR struct {
	tMax   int
	etaMin float64
}

func newCosineAnnealingLR(kwargs map[string]string) (LRScheduler, error) {
	tMax, err := intKwarg(kwargs, "t_max", 50)
	if err != nil {
		return nil, err
	}
	etaMin, err := floatKwarg(kwargs, "eta_min", 0)
	if err != nil {
		return nil, err
	}
	if tMax <= 0 {
		return nil, fmt.Errorf("%w: t_max must be positive, got %d", ErrInvalidConfig, tMax)
	}
	return &CosineAnnealingLR{tMax: tMax, etaMin: etaMin}, nil
}

func (c *CosineAnnealingLR) GetLR(epoch, step int, baseLR float64) float64 {
	progress := float64(epoch%c.tMax) / float64(c.tMax)
	return c.etaMin + (baseLR-c.etaMin)*(1+math.Cos(math.Pi*progress))/2
}

func (c *CosineAnnealingLR) GetName() string { return "CosineAnnealingLR" }

// ReduceLROnPlateau shrinks the current rate by factor once a monitored
// metric stops improving for patience evaluations.
type ReduceLROnPlateau struct {
	factor    float64
	patience  int
	threshold float64
	mode      string // "min" or "max"

	best     float64
	hasBest  bool
	badCount int
}

func newReduceLROnPlateau(kwargs map[string]string) (LRScheduler, error) {
	factor, err := floatKwarg(kwargs, "factor", 0.1)
	if err != nil {
		return nil, err
	}
	patience, err := intKwarg(kwargs, "patience", 10)
	if err != nil {
		return nil, err
	}
	threshold, err := floatKwarg(kwargs, "threshold", 1e-4)
	if err != nil {
		return nil, err
	}
	mode := stringKwarg(kwargs, "mode", "min")
	if factor <= 0 || factor >= 1 {
		return nil, fmt.Errorf("%w: plateau factor must be in (0,1), got %v", ErrInvalidConfig, factor)
	}
	if mode != "min" && mode != "max" {
		return nil, fmt.Errorf("%w: plateau mode must be min or max, got %q", ErrInvalidConfig, mode)
	}
	return &ReduceLROnPlateau{factor: factor, patience: patience, threshold: threshold, mode: mode}, nil
}

// Step feeds a new metric observation and returns the learning rate to use
// next, starting from currentLR.
func (r *ReduceLROnPlateau) Step(metric, currentLR float64) float64 {
	improved := !r.hasBest
	if r.hasBest {
		if r.mode == "min" {
			improved = metric < r.best-r.threshold
		} else {
			improved = metric > r.best+r.threshold
		}
	}
	if improved {
		r.best = metric
		r.hasBest = true
		r.badCount = 0
		return currentLR
	}
	r.badCount++
	if r.badCount > r.patience {
		r.badCount = 0
		return currentLR * r.factor
	}
	return currentLR
}

// GetLR keeps the current rate unchanged: plateau schedules are advanced
// through Step with the monitored metric.
func (r *ReduceLROnPlateau) GetLR(epoch, step int, baseLR float64) float64 {
	return baseLR
}

func (r *ReduceLROnPlateau) GetName() string { return "ReduceLROnPlateau" }
