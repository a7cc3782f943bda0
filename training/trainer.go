package training

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/vahidzee/reason-aware-raster/tensor"
)

// Trainer drives the optimization loop: optimizer and scheduler assembly
// from hyperparameters, per-batch train and validation steps, epoch-level
// metric aggregation and learning rate scheduling.
type Trainer struct {
	module    *TrainerModule
	optimizer Optimizer
	scheduler *SchedulerSpec
	logger    MetricLogger

	baseLR     float64
	epoch      int
	globalStep int

	epochAgg map[string][]float64
}

// NewTrainer builds the optimizer and scheduler for module per its
// hyperparameters. A nil logger discards metrics.
func NewTrainer(module *TrainerModule, logger MetricLogger) (*Trainer, error) {
	if logger == nil {
		logger = NopLogger{}
	}
	hp := module.Hyperparameters()

	optimizer, err := NewOptimizer(hp.Optimizer, module.Model().Parameters(), hp.LR, hp.OptimizerDict)
	if err != nil {
		return nil, err
	}
	scheduler, err := NewSchedulerSpec(hp)
	if err != nil {
		return nil, err
	}

	return &Trainer{
		module:    module,
		optimizer: optimizer,
		scheduler: scheduler,
		logger:    logger,
		baseLR:    hp.LR,
		epochAgg:  map[string][]float64{},
	}, nil
}

// Optimizer exposes the assembled optimizer, mainly for checkpointing.
func (t *Trainer) Optimizer() Optimizer { return t.optimizer }

// GlobalStep returns the number of optimizer steps taken so far.
func (t *Trainer) GlobalStep() int { return t.globalStep }

// Epoch returns the number of completed epochs.
func (t *Trainer) Epoch() int { return t.epoch }

// TrainingStep runs one optimization step on a batch: evaluate with the
// adversarial phase and gradient diagnostics enabled, backpropagate the
// composed loss, and step the optimizer. Diagnostics are logged under
// "<key>/train".
func (t *Trainer) TrainingStep(batch Batch) (Diagnostics, error) {
	t.module.Train()
	res, err := t.module.Evaluate(batch.Image, batch.TargetPositions, batch.TargetAvailabilities, true, true)
	if err != nil {
		return nil, err
	}
	t.record(res, "train")

	t.optimizer.ZeroGrad()
	if err := tensor.Backward(res["loss"], tensor.FromScalar(1)); err != nil {
		return nil, fmt.Errorf("backward pass failed: %v", err)
	}
	if err := t.optimizer.Step(); err != nil {
		return nil, err
	}
	t.globalStep++

	if t.scheduler != nil && t.scheduler.Interval == "step" && t.scheduler.Plateau == nil &&
		t.globalStep%t.scheduler.Frequency == 0 {
		t.optimizer.SetLR(t.scheduler.Scheduler.GetLR(t.epoch, t.globalStep, t.baseLR))
	}
	return res, nil
}

// ValidationStep evaluates a batch without the adversarial phase, gradient
// diagnostics or parameter updates. Diagnostics are aggregated under
// "<key>/val" and flushed at the end of the epoch.
func (t *Trainer) ValidationStep(batch Batch) (Diagnostics, error) {
	t.module.Eval()
	res, err := t.module.Evaluate(batch.Image, batch.TargetPositions, batch.TargetAvailabilities, false, false)
	if err != nil {
		return nil, err
	}
	t.record(res, "val")
	return res, nil
}

// Fit runs the full loop: epochs passes over train, each followed by a full
// pass over val (when non-nil), epoch metric flushing, and epoch-interval or
// plateau scheduling.
func (t *Trainer) Fit(train, val *DataLoader, epochs int) error {
	if epochs <= 0 {
		return fmt.Errorf("%w: epochs must be positive, got %d", ErrInvalidConfig, epochs)
	}

	for e := 0; e < epochs; e++ {
		train.Reset()
		for {
			batch, ok, err := train.Next()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if _, err := t.TrainingStep(batch); err != nil {
				return err
			}
		}

		if val != nil {
			val.Reset()
			for {
				batch, ok, err := val.Next()
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				if _, err := t.ValidationStep(batch); err != nil {
					return err
				}
			}
		}

		epochMeans := t.flushEpoch()
		t.epoch++

		if err := t.scheduleEpoch(epochMeans); err != nil {
			return err
		}
	}
	return nil
}

// record queues every diagnostic from a step for the epoch mean. Training
// metrics are logged per step; validation metrics only surface as epoch
// aggregates in flushEpoch.
func (t *Trainer) record(res Diagnostics, phase string) {
	for key, value := range res {
		v := tensor.MeanValue(value)
		name := key + "/" + phase
		if phase == "train" {
			t.logger.Log(name, v, OnStep)
		}
		t.epochAgg[name] = append(t.epochAgg[name], v)
	}
}

// flushEpoch computes the mean of every aggregated metric, emits the
// validation means, and clears the buffers. Training means are returned but
// not logged; they only feed scheduler monitors.
func (t *Trainer) flushEpoch() map[string]float64 {
	means := make(map[string]float64, len(t.epochAgg))
	for name, values := range t.epochAgg {
		if len(values) == 0 {
			continue
		}
		m := stat.Mean(values, nil)
		means[name] = m
		if strings.HasSuffix(name, "/val") {
			t.logger.Log(name, m, OnEpoch)
		}
	}
	t.epochAgg = map[string][]float64{}
	return means
}

// scheduleEpoch advances an epoch-interval scheduler, feeding plateau
// schedules their monitored metric.
func (t *Trainer) scheduleEpoch(epochMeans map[string]float64) error {
	if t.scheduler == nil || t.scheduler.Interval != "epoch" || t.epoch%t.scheduler.Frequency != 0 {
		return nil
	}
	if t.scheduler.Plateau != nil {
		metric, ok := epochMeans[t.scheduler.Monitor]
		if !ok {
			return fmt.Errorf("%w: plateau scheduler monitors %q but no such metric was logged", ErrInvalidConfig, t.scheduler.Monitor)
		}
		t.optimizer.SetLR(t.scheduler.Plateau.Step(metric, t.optimizer.GetLR()))
		return nil
	}
	t.optimizer.SetLR(t.scheduler.Scheduler.GetLR(t.epoch, t.globalStep, t.baseLR))
	return nil
}
