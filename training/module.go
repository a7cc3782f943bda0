package training

import (
	"fmt"

	"github.com/vahidzee/reason-aware-raster/scene"
	"github.com/vahidzee/reason-aware-raster/tensor"
)

// Diagnostics is the per-batch result of an evaluation pass. The "loss"
// entry is the autograd root for the backward pass; every other entry is a
// detached scalar or vector metric keyed by name (adv/init_loss, adv/nll,
// saliency, grads/total, ...).
type Diagnostics map[string]*tensor.Tensor

// TrainerModule bundles the predictor with its loss composition: clean
// prediction loss, optional adversarial regularization, and optional
// saliency supervision.
type TrainerModule struct {
	hparams  Hyperparameters
	sceneCfg *scene.Config

	model    Model
	saliency SaliencyStrategy
	attacker *Attacker
}

// NewTrainerModule assembles the model, saliency strategy and adversarial
// attacker from hyperparameters. Component resolution happens here so that a
// typo in a registry name fails before the first batch.
func NewTrainerModule(cfg *scene.Config, hp Hyperparameters) (*TrainerModule, error) {
	if err := hp.validate(); err != nil {
		return nil, err
	}

	model, err := NewModel(hp.Model, cfg, hp.Modes, hp.ModelDict)
	if err != nil {
		return nil, err
	}

	m := &TrainerModule{hparams: hp, sceneCfg: cfg, model: model}

	if hp.SaliencyFactor > 0 {
		m.saliency, err = NewSaliency(hp.SaliencyInterest, hp.SaliencyDict)
		if err != nil {
			return nil, err
		}
	}

	m.attacker, err = NewAttacker(model, PGDConfig{
		Mode:         hp.PGDMode,
		Iters:        hp.PGDIters,
		Alpha:        hp.PGDAlpha,
		EpsVehicles:  hp.PGDEpsVehicles,
		EpsSemantics: hp.PGDEpsSemantics,
		RandomStart:  hp.PGDRandomStart,
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Model exposes the wrapped predictor for optimizer construction and
// checkpointing.
func (m *TrainerModule) Model() Model { return m.model }

// Hyperparameters returns the configuration the module was built with.
func (m *TrainerModule) Hyperparameters() Hyperparameters { return m.hparams }

// SceneConfig returns the raster geometry the module expects.
func (m *TrainerModule) SceneConfig() *scene.Config { return m.sceneCfg }

// Train puts the model in training mode.
func (m *TrainerModule) Train() { m.model.Train() }

// Eval puts the model in evaluation mode.
func (m *TrainerModule) Eval() { m.model.Eval() }

// Evaluate runs one full loss composition over a batch.
//
// attackPhase gates the adversarial search: with a positive iteration count
// the attack runs and reports adv/init_loss and adv/final_loss. When the
// regularization factor is zero the adversarial batch replaces the clean one
// outright; otherwise the clean loss is kept and the adversarial loss is
// added as a scaled extra term (adv/nll).
//
// computeGradients gates input-gradient work: saliency scoring and the
// grads/* magnitude diagnostics both need a gradient of the prediction loss
// with respect to the raster. The gradient is taken without touching any
// parameter .grad buffer, so optimizer state stays clean.
//
// The saliency interest term is a constant in the autograd graph: the score
// is computed from the detached input gradient, so the term raises the
// reported loss and the saliency diagnostic but contributes nothing to the
// parameter gradients, which flow only through the nll and adversarial
// terms. Differentiating through the input-gradient computation itself
// would need a second backward pass the engine does not build.
//
// The returned Diagnostics always contain "nll" and "loss"; "loss" is the
// term to backpropagate.
func (m *TrainerModule) Evaluate(inputs, targets, avail *tensor.Tensor, computeGradients, attackPhase bool) (Diagnostics, error) {
	res := Diagnostics{}

	performAttack := attackPhase && m.hparams.PGDIters > 0
	useReg := performAttack && m.hparams.PGDRegFactor > 0

	var adv *tensor.Tensor
	if performAttack {
		var initLoss, finalLoss float64
		var err error
		adv, initLoss, finalLoss, err = m.attacker.Perturb(inputs, targets, avail, true)
		if err != nil {
			return nil, fmt.Errorf("adversarial search failed: %v", err)
		}
		res["adv/init_loss"] = tensor.FromScalar(initLoss)
		res["adv/final_loss"] = tensor.FromScalar(finalLoss)
		if !useReg {
			inputs = adv
		}
	}

	wantInputGrad := m.saliency != nil || m.hparams.TrackGrad
	if wantInputGrad {
		prior := inputs.RequiresGrad()
		inputs.SetRequiresGrad(true)
		defer inputs.SetRequiresGrad(prior)
	}

	pred, conf, err := m.model.Infer(inputs)
	if err != nil {
		return nil, err
	}
	nll, err := NegMultiLogLikelihood(targets, pred, conf, avail)
	if err != nil {
		return nil, err
	}

	var inputGrad *tensor.Tensor
	if wantInputGrad && computeGradients {
		seed, err := tensor.Ones(nll.Shape)
		if err != nil {
			return nil, err
		}
		grads, err := tensor.Grad(nll, seed, inputs)
		if err != nil {
			return nil, fmt.Errorf("input gradient failed: %v", err)
		}
		inputGrad = grads[0]

		semStart := inputGrad.Shape[1] - scene.SemanticChannels
		if semStart < 0 {
			semStart = 0
		}
		plane := inputGrad.Shape[2] * inputGrad.Shape[3]
		n, c := inputGrad.Shape[0], inputGrad.Shape[1]
		var vehicles, semantics float64
		for i := 0; i < n; i++ {
			sample := inputGrad.Data[i*c*plane : (i+1)*c*plane]
			for j, v := range sample {
				a := float64(v)
				if a < 0 {
					a = -a
				}
				if j < semStart*plane {
					vehicles += a
				} else {
					semantics += a
				}
			}
		}
		res["grads/vehicles"] = tensor.FromScalar(vehicles)
		res["grads/semantics"] = tensor.FromScalar(semantics)
		res["grads/total"] = tensor.FromScalar(vehicles + semantics)
	}

	res["nll"] = tensor.FromScalar(tensor.MeanValue(nll))
	loss := tensor.MeanAutograd(nll)

	if useReg {
		advTargets := targets
		if m.hparams.PGDMode == "negative_sample" {
			advTargets = pred.Detach()
		}
		advPred, advConf, err := m.model.Infer(adv)
		if err != nil {
			return nil, err
		}
		advNll, err := NegMultiLogLikelihood(advTargets, advPred, advConf, avail)
		if err != nil {
			return nil, err
		}
		res["adv/nll"] = tensor.FromScalar(tensor.MeanValue(advNll))
		loss = tensor.AddAutograd(loss, tensor.ScaleAutograd(tensor.MeanAutograd(advNll), m.hparams.PGDRegFactor))
	}

	if m.saliency != nil && inputGrad != nil {
		scores, err := m.saliency.Score(inputGrad)
		if err != nil {
			return nil, fmt.Errorf("saliency scoring failed: %v", err)
		}
		// The score comes from the detached input gradient; the interest
		// term contributes a value only, gradients keep flowing through
		// the plain nll term.
		var term float64
		for i := 0; i < scores.NumElems; i++ {
			term += (1 - float64(scores.Data[i])) * m.hparams.SaliencyFactor * float64(nll.Data[i])
		}
		term /= float64(scores.NumElems)
		res["saliency"] = tensor.FromScalar(tensor.MeanValue(scores))
		loss = tensor.AddAutograd(loss, tensor.FromScalar(term))
	}

	res["loss"] = loss
	return res, nil
}
