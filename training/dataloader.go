package training

import (
	"fmt"
	"math/rand"

	"github.com/vahidzee/reason-aware-raster/scene"
	"github.com/vahidzee/reason-aware-raster/tensor"
)

// Sample is one rasterized scene with its ground-truth future trajectory.
// TargetAvailabilities may be nil when every future frame is valid.
type Sample struct {
	Image                *tensor.Tensor // [C,H,W]
	TargetPositions      *tensor.Tensor // [T,2]
	TargetAvailabilities *tensor.Tensor // [T] or nil
}

// Batch is a stack of samples. TargetAvailabilities is nil only when every
// sample in the batch omitted it.
type Batch struct {
	Image                *tensor.Tensor // [N,C,H,W]
	TargetPositions      *tensor.Tensor // [N,T,2]
	TargetAvailabilities *tensor.Tensor // [N,T] or nil
}

// Dataset provides random access to samples.
type Dataset interface {
	Len() int
	Get(index int) (Sample, error)
}

// DataLoader iterates a dataset in batches, optionally shuffling the order
// each epoch.
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand

	order []int
	pos   int
}

// NewDataLoader creates a loader over dataset. A nil rng with shuffle set
// falls back to a fixed-seed source.
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool, rng *rand.Rand) (*DataLoader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidConfig, batchSize)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(0))
	}
	dl := &DataLoader{dataset: dataset, batchSize: batchSize, shuffle: shuffle, rng: rng}
	dl.Reset()
	return dl, nil
}

// Len returns the number of batches per epoch, counting a trailing partial
// batch.
func (dl *DataLoader) Len() int {
	n := dl.dataset.Len()
	return (n + dl.batchSize - 1) / dl.batchSize
}

// Reset rewinds the loader and reshuffles the sample order.
func (dl *DataLoader) Reset() {
	n := dl.dataset.Len()
	dl.order = make([]int, n)
	for i := range dl.order {
		dl.order[i] = i
	}
	if dl.shuffle {
		dl.rng.Shuffle(n, func(i, j int) {
			dl.order[i], dl.order[j] = dl.order[j], dl.order[i]
		})
	}
	dl.pos = 0
}

// Next collates the next batch. The second return value is false once the
// epoch is exhausted.
func (dl *DataLoader) Next() (Batch, bool, error) {
	if dl.pos >= len(dl.order) {
		return Batch{}, false, nil
	}
	end := dl.pos + dl.batchSize
	if end > len(dl.order) {
		end = len(dl.order)
	}
	indices := dl.order[dl.pos:end]
	dl.pos = end

	samples := make([]Sample, len(indices))
	for i, idx := range indices {
		s, err := dl.dataset.Get(idx)
		if err != nil {
			return Batch{}, false, fmt.Errorf("failed to load sample %d: %v", idx, err)
		}
		samples[i] = s
	}
	batch, err := collate(samples)
	if err != nil {
		return Batch{}, false, err
	}
	return batch, true, nil
}

// collate stacks samples along a new leading batch dimension. Every sample
// must share the shapes of the first.
func collate(samples []Sample) (Batch, error) {
	n := len(samples)
	first := samples[0]

	stack := func(pick func(Sample) *tensor.Tensor) (*tensor.Tensor, error) {
		ref := pick(first)
		shape := append([]int{n}, ref.Shape...)
		data := make([]float32, 0, n*ref.NumElems)
		for _, s := range samples {
			t := pick(s)
			if t.NumElems != ref.NumElems {
				return nil, fmt.Errorf("%w: sample tensor %v differs from %v", ErrShapeMismatch, t.Shape, ref.Shape)
			}
			data = append(data, t.Data...)
		}
		return tensor.NewTensor(shape, data)
	}

	image, err := stack(func(s Sample) *tensor.Tensor { return s.Image })
	if err != nil {
		return Batch{}, err
	}
	targets, err := stack(func(s Sample) *tensor.Tensor { return s.TargetPositions })
	if err != nil {
		return Batch{}, err
	}

	batch := Batch{Image: image, TargetPositions: targets}
	if first.TargetAvailabilities != nil {
		avail, err := stack(func(s Sample) *tensor.Tensor { return s.TargetAvailabilities })
		if err != nil {
			return Batch{}, err
		}
		batch.TargetAvailabilities = avail
	}
	return batch, nil
}

// SyntheticSceneDataset generates random rasters with smooth forward
// trajectories. It backs the demo command and the training tests, standing in
// for a real scene store.
type SyntheticSceneDataset struct {
	cfg *scene.Config
	n   int
	rng *rand.Rand

	samples []Sample
}

// NewSyntheticSceneDataset pre-generates n samples for the given scene
// geometry.
func NewSyntheticSceneDataset(cfg *scene.Config, n int, seed int64) (*SyntheticSceneDataset, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, fmt.Errorf("%w: dataset size must be positive, got %d", ErrInvalidConfig, n)
	}

	d := &SyntheticSceneDataset{cfg: cfg, n: n, rng: rand.New(rand.NewSource(seed))}
	d.samples = make([]Sample, n)
	for i := range d.samples {
		s, err := d.generate()
		if err != nil {
			return nil, err
		}
		d.samples[i] = s
	}
	return d, nil
}

func (d *SyntheticSceneDataset) Len() int { return d.n }

func (d *SyntheticSceneDataset) Get(index int) (Sample, error) {
	if index < 0 || index >= d.n {
		return Sample{}, fmt.Errorf("sample index %d out of range [0,%d)", index, d.n)
	}
	return d.samples[index], nil
}

func (d *SyntheticSceneDataset) generate() (Sample, error) {
	image, err := tensor.RandomUniform(d.rng, []int{d.cfg.NumChannels(), d.cfg.RasterSize[0], d.cfg.RasterSize[1]}, 0, 1)
	if err != nil {
		return Sample{}, err
	}

	// A noisy straight drive: constant heading with jittered speed.
	steps := d.cfg.FutureNumFrames
	speed := 0.5 + d.rng.Float64()
	heading := d.rng.Float64() * 2 * 3.141592653589793
	posData := make([]float32, steps*2)
	x, y := 0.0, 0.0
	for t := 0; t < steps; t++ {
		x += speed*0.1 + d.rng.NormFloat64()*0.01
		y += speed*0.02*heading + d.rng.NormFloat64()*0.01
		posData[t*2] = float32(x)
		posData[t*2+1] = float32(y)
	}
	positions, err := tensor.NewTensor([]int{steps, 2}, posData)
	if err != nil {
		return Sample{}, err
	}

	availData := make([]float32, steps)
	for t := range availData {
		availData[t] = 1
	}
	// Occasionally truncate the future, as occluded agents do.
	if d.rng.Float64() < 0.2 {
		cut := steps/2 + d.rng.Intn(steps/2)
		for t := cut; t < steps; t++ {
			availData[t] = 0
		}
	}
	avail, err := tensor.NewTensor([]int{steps}, availData)
	if err != nil {
		return Sample{}, err
	}

	return Sample{Image: image, TargetPositions: positions, TargetAvailabilities: avail}, nil
}
