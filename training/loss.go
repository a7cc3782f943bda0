package training

import (
	"fmt"
	"math"

	"github.com/vahidzee/reason-aware-raster/tensor"
)

// NegMultiLogLikelihood computes the negative log-likelihood of a
// multi-modal trajectory prediction against a ground truth.
//
// For each sample the squared displacement is summed over timesteps
// (masked by availability, unavailable steps contribute nothing), each mode
// is weighted by its softmax-normalized confidence logit, and the modes are
// combined with a numerically stable log-sum-exp:
//
//	nll = -logsumexp_m( log_softmax(conf)_m - 0.5 * sum_t a_t * |p_mt - g_t|^2 )
//
// Shapes: pred [N,M,T,2], conf [N,M], avail [N,T] or nil (nil means every
// timestep is valid). targets is [N,T,2], or [N,M,T,2] when each mode is
// scored against its own pseudo-target (negative-sample adversarial search).
// Returns the per-sample nll [N], wired into the autograd graph with an
// analytic backward pass.
func NegMultiLogLikelihood(targets, pred, conf, avail *tensor.Tensor) (*tensor.Tensor, error) {
	if len(pred.Shape) != 4 || pred.Shape[3] != 2 {
		return nil, fmt.Errorf("%w: pred must be [N,M,T,2], got %v", ErrShapeMismatch, pred.Shape)
	}
	n, m, steps := pred.Shape[0], pred.Shape[1], pred.Shape[2]

	perMode := false
	switch len(targets.Shape) {
	case 3:
		if targets.Shape[0] != n || targets.Shape[1] != steps || targets.Shape[2] != 2 {
			return nil, fmt.Errorf("%w: targets %v disagree with pred %v", ErrShapeMismatch, targets.Shape, pred.Shape)
		}
	case 4:
		if targets.Shape[0] != n || targets.Shape[1] != m || targets.Shape[2] != steps || targets.Shape[3] != 2 {
			return nil, fmt.Errorf("%w: per-mode targets %v disagree with pred %v", ErrShapeMismatch, targets.Shape, pred.Shape)
		}
		perMode = true
	default:
		return nil, fmt.Errorf("%w: targets must be [N,T,2] or [N,M,T,2], got %v", ErrShapeMismatch, targets.Shape)
	}

	if len(conf.Shape) != 2 || conf.Shape[0] != n || conf.Shape[1] != m {
		return nil, fmt.Errorf("%w: conf must be [N,M]=%v, got %v", ErrShapeMismatch, []int{n, m}, conf.Shape)
	}
	if avail != nil {
		if len(avail.Shape) != 2 || avail.Shape[0] != n || avail.Shape[1] != steps {
			return nil, fmt.Errorf("%w: availability must be [N,T]=%v, got %v", ErrShapeMismatch, []int{n, steps}, avail.Shape)
		}
	}

	op := &negMultiLogLikelihoodOp{targets: targets, avail: avail, perMode: perMode, steps: steps}
	return op.forward(pred, conf)
}

// negMultiLogLikelihoodOp implements tensor.Operation with a hand-derived
// backward pass: the gradient weights each mode by its posterior under the
// mixture (softmax over confidence-adjusted errors).
type negMultiLogLikelihoodOp struct {
	inputs  []*tensor.Tensor // pred, conf
	targets *tensor.Tensor
	avail   *tensor.Tensor
	perMode bool
	steps   int

	posterior []float64 // [N*M] mode posteriors w
	confProbs []float64 // [N*M] softmax of confidence logits
}

func (op *negMultiLogLikelihoodOp) targetAt(sample, mode, step, coord int) float32 {
	if op.perMode {
		m := op.inputs[0].Shape[1]
		return op.targets.Data[(((sample*m+mode)*op.steps)+step)*2+coord]
	}
	return op.targets.Data[(sample*op.steps+step)*2+coord]
}

func (op *negMultiLogLikelihoodOp) availAt(sample, step int) float64 {
	if op.avail == nil {
		return 1
	}
	return float64(op.avail.Data[sample*op.steps+step])
}

func (op *negMultiLogLikelihoodOp) forward(pred, conf *tensor.Tensor) (*tensor.Tensor, error) {
	op.inputs = []*tensor.Tensor{pred, conf}

	n, m, steps := pred.Shape[0], pred.Shape[1], pred.Shape[2]
	op.posterior = make([]float64, n*m)
	op.confProbs = make([]float64, n*m)
	nllData := make([]float32, n)

	for i := 0; i < n; i++ {
		// log_softmax over confidence logits, max-shifted for stability.
		maxLogit := float64(conf.Data[i*m])
		for j := 1; j < m; j++ {
			if v := float64(conf.Data[i*m+j]); v > maxLogit {
				maxLogit = v
			}
		}
		var expSum float64
		for j := 0; j < m; j++ {
			e := math.Exp(float64(conf.Data[i*m+j]) - maxLogit)
			op.confProbs[i*m+j] = e
			expSum += e
		}
		logNorm := maxLogit + math.Log(expSum)
		for j := 0; j < m; j++ {
			op.confProbs[i*m+j] /= expSum
		}

		// Confidence-adjusted error per mode.
		scores := make([]float64, m)
		for j := 0; j < m; j++ {
			var sqErr float64
			for s := 0; s < steps; s++ {
				a := op.availAt(i, s)
				if a == 0 {
					continue
				}
				base := ((i*m+j)*steps + s) * 2
				dx := float64(pred.Data[base] - op.targetAt(i, j, s, 0))
				dy := float64(pred.Data[base+1] - op.targetAt(i, j, s, 1))
				sqErr += a * (dx*dx + dy*dy)
			}
			scores[j] = float64(conf.Data[i*m+j]) - logNorm - 0.5*sqErr
		}

		// log-sum-exp over modes, max-shifted.
		maxScore := scores[0]
		for j := 1; j < m; j++ {
			if scores[j] > maxScore {
				maxScore = scores[j]
			}
		}
		var scoreExpSum float64
		for j := 0; j < m; j++ {
			e := math.Exp(scores[j] - maxScore)
			op.posterior[i*m+j] = e
			scoreExpSum += e
		}
		for j := 0; j < m; j++ {
			op.posterior[i*m+j] /= scoreExpSum
		}
		nllData[i] = float32(-(maxScore + math.Log(scoreExpSum)))
	}

	nll, err := tensor.NewTensor([]int{n}, nllData)
	if err != nil {
		return nil, err
	}
	nll.AttachOp(op)
	nll.SetRequiresGrad(pred.RequiresGrad() || conf.RequiresGrad())
	return nll, nil
}

func (op *negMultiLogLikelihoodOp) Forward(inputs ...*tensor.Tensor) *tensor.Tensor {
	out, err := op.forward(inputs[0], inputs[1])
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	return out
}

func (op *negMultiLogLikelihoodOp) Backward(gradOut *tensor.Tensor) []*tensor.Tensor {
	pred, conf := op.inputs[0], op.inputs[1]
	n, m, steps := pred.Shape[0], pred.Shape[1], pred.Shape[2]

	gradPred := make([]float32, pred.NumElems)
	gradConf := make([]float32, conf.NumElems)

	for i := 0; i < n; i++ {
		g := float64(gradOut.Data[i])
		for j := 0; j < m; j++ {
			w := op.posterior[i*m+j]
			// d nll / d conf_j = softmax(conf)_j - posterior_j
			gradConf[i*m+j] = float32(g * (op.confProbs[i*m+j] - w))
			for s := 0; s < steps; s++ {
				a := op.availAt(i, s)
				if a == 0 {
					continue
				}
				base := ((i*m+j)*steps + s) * 2
				gradPred[base] = float32(g * w * a * float64(pred.Data[base]-op.targetAt(i, j, s, 0)))
				gradPred[base+1] = float32(g * w * a * float64(pred.Data[base+1]-op.targetAt(i, j, s, 1)))
			}
		}
	}

	gp, err := tensor.NewTensor(pred.Shape, gradPred)
	if err != nil {
		panic(fmt.Sprintf("failed to build pred gradient: %v", err))
	}
	gc, err := tensor.NewTensor(conf.Shape, gradConf)
	if err != nil {
		panic(fmt.Sprintf("failed to build conf gradient: %v", err))
	}
	return []*tensor.Tensor{gp, gc}
}

func (op *negMultiLogLikelihoodOp) Inputs() []*tensor.Tensor { return op.inputs }
