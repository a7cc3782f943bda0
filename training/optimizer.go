package training

import (
	"fmt"
	"math"
	"sync"

	"github.com/vahidzee/reason-aware-raster/tensor"
)

// Optimizer updates model parameters in place from their accumulated
// gradients.
type Optimizer interface {
	Step() error
	ZeroGrad()
	GetLR() float64
	SetLR(lr float64)
	GetName() string
}

// OptimizerFactory builds an optimizer over params with the given base
// learning rate and free-form keyword arguments.
type OptimizerFactory func(params []*tensor.Tensor, lr float64, kwargs map[string]string) (Optimizer, error)

var optimizerRegistry = map[string]OptimizerFactory{
	"Adam": newAdam,
	"SGD":  newSGD,
}

// RegisterOptimizer adds an optimizer factory under name.
func RegisterOptimizer(name string, factory OptimizerFactory) {
	optimizerRegistry[name] = factory
}

// NewOptimizer resolves an optimizer by registry name.
func NewOptimizer(name string, params []*tensor.Tensor, lr float64, kwargs map[string]string) (Optimizer, error) {
	factory, ok := optimizerRegistry[name]
	if !ok {
		return nil, fmt.Errorf("%w: optimizer %q", ErrUnknownComponent, name)
	}
	if lr <= 0 {
		return nil, fmt.Errorf("%w: learning rate must be positive, got %v", ErrInvalidConfig, lr)
	}
	if len(params) == 0 {
		return nil, fmt.Errorf("%w: optimizer needs at least one parameter", ErrInvalidConfig)
	}
	return factory(params, lr, kwargs)
}

// SGD implements stochastic gradient descent with optional momentum,
// dampening, Nesterov acceleration and weight decay.
type SGD struct {
	mu sync.RWMutex

	params      []*tensor.Tensor
	lr          float64
	momentum    float64
	dampening   float64
	weightDecay float64
	nesterov    bool

	velocity [][]float32
}

func newSGD(params []*tensor.Tensor, lr float64, kwargs map[string]string) (Optimizer, error) {
	momentum, err := floatKwarg(kwargs, "momentum", 0)
	if err != nil {
		return nil, err
	}
	dampening, err := floatKwarg(kwargs, "dampening", 0)
	if err != nil {
		return nil, err
	}
	weightDecay, err := floatKwarg(kwargs, "weight_decay", 0)
	if err != nil {
		return nil, err
	}
	nesterov, err := boolKwarg(kwargs, "nesterov", false)
	if err != nil {
		return nil, err
	}
	if nesterov && (momentum <= 0 || dampening != 0) {
		return nil, fmt.Errorf("%w: nesterov requires momentum > 0 and zero dampening", ErrInvalidConfig)
	}
	return &SGD{
		params:      params,
		lr:          lr,
		momentum:    momentum,
		dampening:   dampening,
		weightDecay: weightDecay,
		nesterov:    nesterov,
		velocity:    make([][]float32, len(params)),
	}, nil
}

func (s *SGD) Step() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range s.params {
		grad := p.Grad()
		if grad == nil {
			continue
		}
		if grad.NumElems != p.NumElems {
			return fmt.Errorf("%w: gradient has %d elements, parameter has %d", ErrShapeMismatch, grad.NumElems, p.NumElems)
		}
		firstStep := s.velocity[i] == nil
		if firstStep && s.momentum != 0 {
			s.velocity[i] = make([]float32, p.NumElems)
		}
		for j := range p.Data {
			g := float64(grad.Data[j])
			if s.weightDecay != 0 {
				g += s.weightDecay * float64(p.Data[j])
			}
			if s.momentum != 0 {
				if firstStep {
					s.velocity[i][j] = float32(g)
				} else {
					s.velocity[i][j] = float32(s.momentum*float64(s.velocity[i][j]) + (1-s.dampening)*g)
				}
				if s.nesterov {
					g += s.momentum * float64(s.velocity[i][j])
				} else {
					g = float64(s.velocity[i][j])
				}
			}
			p.Data[j] -= float32(s.lr * g)
		}
	}
	return nil
}

func (s *SGD) ZeroGrad() {
	s.mu.Lock()
	defer s.mu.Unlock()
	tensor.ZeroGrad(s.params)
}

func (s *SGD) GetLR() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lr
}

func (s *SGD) SetLR(lr float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lr = lr
}

func (s *SGD) GetName() string { return "SGD" }

// Adam implements the Adam optimizer with bias-corrected first and second
// moment estimates.
type Adam struct {
	mu sync.RWMutex

	params      []*tensor.Tensor
	lr          float64
	beta1       float64
	beta2       float64
	eps         float64
	weightDecay float64

	step int
	m    [][]float64
	v    [][]float64
}

func newAdam(params []*tensor.Tensor, lr float64, kwargs map[string]string) (Optimizer, error) {
	beta1, err := floatKwarg(kwargs, "beta1", 0.9)
	if err != nil {
		return nil, err
	}
	beta2, err := floatKwarg(kwargs, "beta2", 0.999)
	if err != nil {
		return nil, err
	}
	eps, err := floatKwarg(kwargs, "eps", 1e-8)
	if err != nil {
		return nil, err
	}
	weightDecay, err := floatKwarg(kwargs, "weight_decay", 0)
	if err != nil {
		return nil, err
	}
	if beta1 < 0 || beta1 >= 1 || beta2 < 0 || beta2 >= 1 {
		return nil, fmt.Errorf("%w: adam betas must be in [0,1)", ErrInvalidConfig)
	}

	a := &Adam{
		params:      params,
		lr:          lr,
		beta1:       beta1,
		beta2:       beta2,
		eps:         eps,
		weightDecay: weightDecay,
		m:           make([][]float64, len(params)),
		v:           make([][]float64, len(params)),
	}
	for i, p := range params {
		a.m[i] = make([]float64, p.NumElems)
		a.v[i] = make([]float64, p.NumElems)
	}
	return a, nil
}

func (a *Adam) Step() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.step++
	bc1 := 1 - math.Pow(a.beta1, float64(a.step))
	bc2 := 1 - math.Pow(a.beta2, float64(a.step))

	for i, p := range a.params {
		grad := p.Grad()
		if grad == nil {
			continue
		}
		if grad.NumElems != p.NumElems {
			return fmt.Errorf("%w: gradient has %d elements, parameter has %d", ErrShapeMismatch, grad.NumElems, p.NumElems)
		}
		for j := range p.Data {
			g := float64(grad.Data[j])
			if a.weightDecay != 0 {
				g += a.weightDecay * float64(p.Data[j])
			}
			a.m[i][j] = a.beta1*a.m[i][j] + (1-a.beta1)*g
			a.v[i][j] = a.beta2*a.v[i][j] + (1-a.beta2)*g*g
			mHat := a.m[i][j] / bc1
			vHat := a.v[i][j] / bc2
			p.Data[j] -= float32(a.lr * mHat / (math.Sqrt(vHat) + a.eps))
		}
	}
	return nil
}

func (a *Adam) ZeroGrad() {
	a.mu.Lock()
	defer a.mu.Unlock()
	tensor.ZeroGrad(a.params)
}

func (a *Adam) GetLR() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lr
}

func (a *Adam) SetLR(lr float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lr = lr
}

func (a *Adam) GetName() string { return "Adam" }
