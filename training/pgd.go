package training

import (
	"fmt"

	"github.com/vahidzee/reason-aware-raster/tensor"
)

// PGDConfig holds the adversarial search tunables. Epsilon bounds are
// independent per channel group: vehicle occupancy layers tolerate wider
// perturbations than the semantic map layers.
type PGDConfig struct {
	Mode         string // "loss" or "negative_sample"
	Iters        int
	Alpha        float64
	EpsVehicles  float64
	EpsSemantics float64
	RandomStart  bool
}

// Attacker runs a projected gradient-sign search for a bounded perturbation
// of the input batch that maximizes the prediction loss, while the model's
// parameters are temporarily frozen in evaluation mode.
type Attacker struct {
	model Model
	cfg   PGDConfig
}

// NewAttacker validates the search configuration and binds it to a model.
func NewAttacker(model Model, cfg PGDConfig) (*Attacker, error) {
	if cfg.Mode != "loss" && cfg.Mode != "negative_sample" {
		return nil, fmt.Errorf("%w: pgd mode must be one of [loss, negative_sample], got %q", ErrInvalidConfig, cfg.Mode)
	}
	if cfg.Iters < 0 {
		return nil, fmt.Errorf("%w: pgd iterations must be non-negative, got %d", ErrInvalidConfig, cfg.Iters)
	}
	if cfg.EpsVehicles < 0 || cfg.EpsSemantics < 0 {
		return nil, fmt.Errorf("%w: pgd epsilon bounds must be non-negative", ErrInvalidConfig)
	}
	return &Attacker{model: model, cfg: cfg}, nil
}

// Perturb searches for an adversarial version of inputs [N,C,H,W] within
// the per-channel-group epsilon bounds, clamped to the valid raster range
// [0,1]. In negative_sample mode the search target is the model's own clean
// prediction, captured once with gradients disabled before the loop.
//
// When returnLoss is set, initLoss is the loss at the first iteration and
// finalLoss the loss of the returned adversarial input with gradients
// disabled; with zero iterations the two are equal.
//
// The model's parameter trainability and train/eval mode are restored on
// every exit path, including failures mid-search.
func (a *Attacker) Perturb(inputs, targets, avail *tensor.Tensor, returnLoss bool) (adv *tensor.Tensor, initLoss, finalLoss float64, err error) {
	if len(inputs.Shape) != 4 {
		return nil, 0, 0, fmt.Errorf("%w: pgd inputs must be [N,C,H,W], got %v", ErrShapeMismatch, inputs.Shape)
	}

	base := inputs.Detach()
	delta, err := a.initDelta(base)
	if err != nil {
		return nil, 0, 0, err
	}

	// Freeze: parameter gradient tracking off, stochastic layers off. The
	// deferred restore runs on every return, error paths included.
	params := a.model.Parameters()
	savedGrad := make([]bool, len(params))
	for i, p := range params {
		savedGrad[i] = p.RequiresGrad()
		p.SetRequiresGrad(false)
	}
	wasTraining := a.model.IsTraining()
	a.model.Eval()
	defer func() {
		for i, p := range params {
			p.SetRequiresGrad(savedGrad[i])
		}
		if wasTraining {
			a.model.Train()
		}
	}()

	if a.cfg.Mode == "negative_sample" {
		cleanPred, _, inferErr := a.model.Infer(base)
		if inferErr != nil {
			return nil, 0, 0, inferErr
		}
		targets = cleanPred.Detach()
	}

	one := tensor.FromScalar(1)
	for i := 0; i < a.cfg.Iters; i++ {
		x := tensor.ClampAutograd(tensor.AddAutograd(base, delta), 0, 1)
		loss, lossErr := a.batchLoss(x, targets, avail)
		if lossErr != nil {
			return nil, 0, 0, lossErr
		}
		if i == 0 && returnLoss {
			initLoss = float64(loss.Data[0])
		}

		grads, gradErr := tensor.Grad(loss, one, delta)
		if gradErr != nil {
			return nil, 0, 0, gradErr
		}
		a.stepDelta(delta, grads[0])
	}

	advRaw, err := tensor.Add(base, delta)
	if err != nil {
		return nil, 0, 0, err
	}
	adv, err = tensor.Clamp(advRaw, 0, 1)
	if err != nil {
		return nil, 0, 0, err
	}

	if returnLoss {
		// Reported with gradients disabled: adv carries no graph.
		finalNll, lossErr := a.batchLoss(adv, targets, avail)
		if lossErr != nil {
			return nil, 0, 0, lossErr
		}
		finalLoss = float64(finalNll.Data[0])
		if a.cfg.Iters == 0 {
			initLoss = finalLoss
		}
	}
	return adv, initLoss, finalLoss, nil
}

// initDelta builds the starting perturbation: zero, or uniform noise in
// [-1,1] scaled per channel group by its epsilon bound for random starts and
// negative_sample mode.
func (a *Attacker) initDelta(base *tensor.Tensor) (*tensor.Tensor, error) {
	var delta *tensor.Tensor
	var err error
	if a.cfg.RandomStart || a.cfg.Mode == "negative_sample" {
		delta, err = tensor.RandomUniform(globalRng, base.Shape, -1, 1)
		if err != nil {
			return nil, err
		}
		a.forEachChannelGroup(delta, func(data []float32, eps float32) {
			for i := range data {
				data[i] *= eps
			}
		})
	} else {
		delta, err = tensor.Zeros(base.Shape)
		if err != nil {
			return nil, err
		}
	}
	delta.SetRequiresGrad(true)
	return delta, nil
}

// stepDelta takes one gradient-sign ascent step and projects the
// perturbation back into the per-channel-group epsilon boxes.
func (a *Attacker) stepDelta(delta, grad *tensor.Tensor) {
	alpha := float32(a.cfg.Alpha)
	for i, g := range grad.Data {
		switch {
		case g > 0:
			delta.Data[i] += alpha
		case g < 0:
			delta.Data[i] -= alpha
		}
	}
	a.forEachChannelGroup(delta, func(data []float32, eps float32) {
		for i := range data {
			if data[i] > eps {
				data[i] = eps
			} else if data[i] < -eps {
				data[i] = -eps
			}
		}
	})
}

// forEachChannelGroup applies f to the vehicle occupancy channels with the
// vehicle epsilon and to the trailing semantic channels with the semantic
// epsilon, sample by sample.
func (a *Attacker) forEachChannelGroup(t *tensor.Tensor, f func(data []float32, eps float32)) {
	n, c := t.Shape[0], t.Shape[1]
	plane := t.Shape[2] * t.Shape[3]
	semStart := c - 3
	if semStart < 0 {
		semStart = 0
	}
	for i := 0; i < n; i++ {
		sample := t.Data[i*c*plane : (i+1)*c*plane]
		f(sample[:semStart*plane], float32(a.cfg.EpsVehicles))
		f(sample[semStart*plane:], float32(a.cfg.EpsSemantics))
	}
}

func (a *Attacker) batchLoss(x, targets, avail *tensor.Tensor) (*tensor.Tensor, error) {
	pred, conf, err := a.model.Infer(x)
	if err != nil {
		return nil, err
	}
	nll, err := NegMultiLogLikelihood(targets, pred, conf, avail)
	if err != nil {
		return nil, err
	}
	return tensor.MeanAutograd(nll), nil
}
