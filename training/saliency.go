package training

import (
	"fmt"

	"github.com/vahidzee/reason-aware-raster/tensor"
)

// SaliencyStrategy maps a raw input-gradient tensor [N,C,H,W] to one
// bounded interest score per sample. Strategies are stateless transforms:
// they must not retain the gradient tensor across calls.
type SaliencyStrategy interface {
	Score(grad *tensor.Tensor) (*tensor.Tensor, error)
	Name() string
}

// SaliencyFactory builds a strategy from its free-form keyword arguments.
type SaliencyFactory func(kwargs map[string]string) (SaliencyStrategy, error)

var saliencyRegistry = map[string]SaliencyFactory{
	"simple": newSimpleInterest,
}

// RegisterSaliency adds a strategy factory under name.
func RegisterSaliency(name string, factory SaliencyFactory) {
	saliencyRegistry[name] = factory
}

// NewSaliency resolves a strategy by name. Unknown names fail immediately.
func NewSaliency(name string, kwargs map[string]string) (SaliencyStrategy, error) {
	factory, ok := saliencyRegistry[name]
	if !ok {
		return nil, fmt.Errorf("%w: saliency strategy %q", ErrUnknownComponent, name)
	}
	return factory(kwargs)
}

// simpleInterest scores each sample by the fraction of absolute gradient
// energy that falls inside a centered region of interest. The score is in
// [0,1] by construction: 1 means the model's sensitivity is entirely
// concentrated around the ego vehicle, 0 means it all leaked to the edges.
type simpleInterest struct {
	fraction float64
}

func newSimpleInterest(kwargs map[string]string) (SaliencyStrategy, error) {
	fraction, err := floatKwarg(kwargs, "fraction", 0.5)
	if err != nil {
		return nil, err
	}
	if fraction <= 0 || fraction > 1 {
		return nil, fmt.Errorf("%w: saliency fraction must be in (0,1], got %v", ErrInvalidConfig, fraction)
	}
	return &simpleInterest{fraction: fraction}, nil
}

func (s *simpleInterest) Name() string { return "simple" }

func (s *simpleInterest) Score(grad *tensor.Tensor) (*tensor.Tensor, error) {
	if len(grad.Shape) != 4 {
		return nil, fmt.Errorf("%w: saliency expects gradients [N,C,H,W], got %v", ErrShapeMismatch, grad.Shape)
	}
	n, c, h, w := grad.Shape[0], grad.Shape[1], grad.Shape[2], grad.Shape[3]

	// Centered box covering `fraction` of each spatial dimension.
	h0 := int(float64(h) * (1 - s.fraction) / 2)
	w0 := int(float64(w) * (1 - s.fraction) / 2)
	h1, w1 := h-h0, w-w0

	scores := make([]float32, n)
	for i := 0; i < n; i++ {
		var total, inside float64
		for ch := 0; ch < c; ch++ {
			base := (i*c + ch) * h * w
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					v := float64(grad.Data[base+y*w+x])
					if v < 0 {
						v = -v
					}
					total += v
					if y >= h0 && y < h1 && x >= w0 && x < w1 {
						inside += v
					}
				}
			}
		}
		if total > 0 {
			scores[i] = float32(inside / total)
		}
	}
	return tensor.NewTensor([]int{n}, scores)
}
