package training

import (
	"fmt"

	"github.com/vahidzee/reason-aware-raster/scene"
	"github.com/vahidzee/reason-aware-raster/tensor"
)

// Model is the trajectory predictor consumed by the trainer module. Infer
// maps a rasterized batch [N,C,H,W] to multi-modal trajectory hypotheses
// [N,M,T,2] and unnormalized per-mode confidence logits [N,M].
type Model interface {
	Infer(inputs *tensor.Tensor) (pred, conf *tensor.Tensor, err error)
	Parameters() []*tensor.Tensor
	Train()
	Eval()
	IsTraining() bool
}

// ModelFactory builds a model from the scene configuration, the number of
// prediction modes and free-form keyword arguments.
type ModelFactory func(cfg *scene.Config, modes int, kwargs map[string]string) (Model, error)

var modelRegistry = map[string]ModelFactory{
	"Resnet": newResnet,
	"Linear": newLinearModel,
}

// RegisterModel adds a model factory under name.
func RegisterModel(name string, factory ModelFactory) {
	modelRegistry[name] = factory
}

// NewModel resolves a model architecture by name. Unknown names fail at
// construction time.
func NewModel(name string, cfg *scene.Config, modes int, kwargs map[string]string) (Model, error) {
	factory, ok := modelRegistry[name]
	if !ok {
		return nil, fmt.Errorf("%w: model %q", ErrUnknownComponent, name)
	}
	if modes <= 0 {
		return nil, fmt.Errorf("%w: modes must be positive, got %d", ErrInvalidConfig, modes)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return factory(cfg, modes, kwargs)
}

// checkRasterShape verifies a batch matches the scene geometry the model was
// built for.
func checkRasterShape(cfg *scene.Config, inputs *tensor.Tensor) error {
	if len(inputs.Shape) != 4 {
		return fmt.Errorf("%w: inputs must be [N,C,H,W], got %v", ErrShapeMismatch, inputs.Shape)
	}
	if inputs.Shape[1] != cfg.NumChannels() || inputs.Shape[2] != cfg.RasterSize[0] || inputs.Shape[3] != cfg.RasterSize[1] {
		return fmt.Errorf("%w: inputs %v do not match scene raster [%d,%d,%d]",
			ErrShapeMismatch, inputs.Shape, cfg.NumChannels(), cfg.RasterSize[0], cfg.RasterSize[1])
	}
	return nil
}

// resnet is a residual MLP trunk over the flattened raster with separate
// trajectory and confidence heads. It stands in for the torchvision backbone
// of the reference system while keeping the same external contract.
type resnet struct {
	cfg   *scene.Config
	modes int

	stem     *Linear
	blocks   [][2]*Linear
	dropout  *Dropout
	trajHead *Linear
	confHead *Linear

	training bool
}

func newResnet(cfg *scene.Config, modes int, kwargs map[string]string) (Model, error) {
	hidden, err := intKwarg(kwargs, "hidden", 64)
	if err != nil {
		return nil, err
	}
	numBlocks, err := intKwarg(kwargs, "blocks", 2)
	if err != nil {
		return nil, err
	}
	dropoutP, err := floatKwarg(kwargs, "dropout", 0.1)
	if err != nil {
		return nil, err
	}
	if hidden <= 0 || numBlocks < 0 {
		return nil, fmt.Errorf("%w: resnet needs hidden > 0 and blocks >= 0", ErrInvalidConfig)
	}

	inputDim := cfg.NumChannels() * cfg.RasterSize[0] * cfg.RasterSize[1]
	futureLen := cfg.FutureNumFrames

	stem, err := NewLinear(inputDim, hidden, true)
	if err != nil {
		return nil, err
	}
	blocks := make([][2]*Linear, numBlocks)
	for i := range blocks {
		l1, err := NewLinear(hidden, hidden, true)
		if err != nil {
			return nil, err
		}
		l2, err := NewLinear(hidden, hidden, true)
		if err != nil {
			return nil, err
		}
		blocks[i] = [2]*Linear{l1, l2}
	}
	dropout, err := NewDropout(dropoutP)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	trajHead, err := NewLinear(hidden, modes*futureLen*2, true)
	if err != nil {
		return nil, err
	}
	confHead, err := NewLinear(hidden, modes, true)
	if err != nil {
		return nil, err
	}

	return &resnet{
		cfg:      cfg,
		modes:    modes,
		stem:     stem,
		blocks:   blocks,
		dropout:  dropout,
		trajHead: trajHead,
		confHead: confHead,
		training: true,
	}, nil
}

func (r *resnet) Infer(inputs *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	if err := checkRasterShape(r.cfg, inputs); err != nil {
		return nil, nil, err
	}
	n := inputs.Shape[0]
	flatDim := inputs.Shape[1] * inputs.Shape[2] * inputs.Shape[3]

	h := tensor.ReshapeAutograd(inputs, []int{n, flatDim})
	h = tensor.ReLUAutograd(r.stem.Forward(h))
	h = r.dropout.Forward(h)
	for _, block := range r.blocks {
		res := tensor.ReLUAutograd(block[0].Forward(h))
		res = block[1].Forward(res)
		h = tensor.ReLUAutograd(tensor.AddAutograd(h, res))
	}

	traj := r.trajHead.Forward(h)
	pred := tensor.ReshapeAutograd(traj, []int{n, r.modes, r.cfg.FutureNumFrames, 2})
	conf := r.confHead.Forward(h)
	return pred, conf, nil
}

func (r *resnet) Parameters() []*tensor.Tensor {
	params := r.stem.Parameters()
	for _, block := range r.blocks {
		params = append(params, block[0].Parameters()...)
		params = append(params, block[1].Parameters()...)
	}
	params = append(params, r.trajHead.Parameters()...)
	params = append(params, r.confHead.Parameters()...)
	return params
}

func (r *resnet) Train() {
	r.training = true
	r.dropout.SetTraining(true)
}

func (r *resnet) Eval() {
	r.training = false
	r.dropout.SetTraining(false)
}

func (r *resnet) IsTraining() bool { return r.training }

// linearModel predicts trajectories and confidences directly from the
// flattened raster. Useful as a fast baseline and in tests.
type linearModel struct {
	cfg   *scene.Config
	modes int

	trajHead *Linear
	confHead *Linear

	training bool
}

func newLinearModel(cfg *scene.Config, modes int, kwargs map[string]string) (Model, error) {
	inputDim := cfg.NumChannels() * cfg.RasterSize[0] * cfg.RasterSize[1]

	trajHead, err := NewLinear(inputDim, modes*cfg.FutureNumFrames*2, true)
	if err != nil {
		return nil, err
	}
	confHead, err := NewLinear(inputDim, modes, true)
	if err != nil {
		return nil, err
	}
	return &linearModel{
		cfg:      cfg,
		modes:    modes,
		trajHead: trajHead,
		confHead: confHead,
		training: true,
	}, nil
}

func (l *linearModel) Infer(inputs *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	if err := checkRasterShape(l.cfg, inputs); err != nil {
		return nil, nil, err
	}
	n := inputs.Shape[0]
	flatDim := inputs.Shape[1] * inputs.Shape[2] * inputs.Shape[3]

	h := tensor.ReshapeAutograd(inputs, []int{n, flatDim})
	pred := tensor.ReshapeAutograd(l.trajHead.Forward(h), []int{n, l.modes, l.cfg.FutureNumFrames, 2})
	conf := l.confHead.Forward(h)
	return pred, conf, nil
}

func (l *linearModel) Parameters() []*tensor.Tensor {
	return append(l.trajHead.Parameters(), l.confHead.Parameters()...)
}

func (l *linearModel) Train()           { l.training = true }
func (l *linearModel) Eval()            { l.training = false }
func (l *linearModel) IsTraining() bool { return l.training }
