package checkpoints

import (
	"path/filepath"
	"testing"

	"github.com/vahidzee/reason-aware-raster/scene"
	"github.com/vahidzee/reason-aware-raster/tensor"
	"github.com/vahidzee/reason-aware-raster/training"
)

func testCheckpoint(t *testing.T) (*checkpointFixture, *Checkpoint) {
	t.Helper()
	cfg := &scene.Config{HistoryNumFrames: 0, FutureNumFrames: 2, RasterSize: [2]int{4, 4}}
	hp := training.DefaultHyperparameters()
	hp.Model = "Linear"

	model, err := training.NewModel(hp.Model, cfg, hp.Modes, nil)
	if err != nil {
		t.Fatalf("failed to build model: %v", err)
	}

	ckpt := &Checkpoint{
		Scene:           *cfg,
		Hyperparameters: hp,
		Weights:         CaptureWeights(model.Parameters()),
		TrainingState: TrainingState{
			Epoch:        3,
			Step:         120,
			LearningRate: 5e-5,
			BestLoss:     1.25,
		},
		Metadata: CheckpointMetadata{Description: "round trip fixture"},
	}
	return &checkpointFixture{cfg: cfg, model: model}, ckpt
}

type checkpointFixture struct {
	cfg   *scene.Config
	model training.Model
}

func roundTrip(t *testing.T, format CheckpointFormat, ckpt *Checkpoint) *Checkpoint {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ckpt")

	if err := NewCheckpointSaver(format).SaveCheckpoint(ckpt, path); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	loaded, err := NewCheckpointLoader(format).LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	return loaded
}

func assertCheckpointsEqual(t *testing.T, want, got *Checkpoint) {
	t.Helper()
	if got.Scene != want.Scene {
		t.Errorf("scene config changed: %+v vs %+v", got.Scene, want.Scene)
	}
	if got.TrainingState != want.TrainingState {
		t.Errorf("training state changed: %+v vs %+v", got.TrainingState, want.TrainingState)
	}
	if got.Hyperparameters.Model != want.Hyperparameters.Model ||
		got.Hyperparameters.LR != want.Hyperparameters.LR {
		t.Errorf("hyperparameters changed: %+v vs %+v", got.Hyperparameters, want.Hyperparameters)
	}
	if len(got.Weights) != len(want.Weights) {
		t.Fatalf("weight count changed: %d vs %d", len(got.Weights), len(want.Weights))
	}
	for i := range want.Weights {
		w, g := want.Weights[i], got.Weights[i]
		if w.Name != g.Name || len(w.Data) != len(g.Data) {
			t.Fatalf("weight %d metadata changed", i)
		}
		for j := range w.Data {
			if w.Data[j] != g.Data[j] {
				t.Fatalf("weight %d element %d changed: %v vs %v", i, j, w.Data[j], g.Data[j])
			}
		}
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		_, ckpt := testCheckpoint(t)
		loaded := roundTrip(t, FormatJSON, ckpt)
		assertCheckpointsEqual(t, ckpt, loaded)
	})

	t.Run("binary", func(t *testing.T) {
		_, ckpt := testCheckpoint(t)
		loaded := roundTrip(t, FormatBinary, ckpt)
		assertCheckpointsEqual(t, ckpt, loaded)
	})
}

func TestRestoreWeights(t *testing.T) {
	fixture, ckpt := testCheckpoint(t)

	// Scramble the live parameters, then restore from the snapshot.
	params := fixture.model.Parameters()
	for _, p := range params {
		for i := range p.Data {
			p.Data[i] = -99
		}
	}
	if err := RestoreWeights(params, ckpt.Weights); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	for i, p := range params {
		for j := range p.Data {
			if p.Data[j] != ckpt.Weights[i].Data[j] {
				t.Fatalf("parameter %d element %d not restored", i, j)
			}
		}
	}

	t.Run("count mismatch", func(t *testing.T) {
		if err := RestoreWeights(params[:1], ckpt.Weights); err == nil {
			t.Error("expected error for mismatched parameter count")
		}
	})

	t.Run("size mismatch", func(t *testing.T) {
		bad := make([]WeightTensor, len(ckpt.Weights))
		copy(bad, ckpt.Weights)
		bad[0].Data = []float32{1}
		if err := RestoreWeights(params, bad); err == nil {
			t.Error("expected error for mismatched tensor size")
		}
	})
}

func TestCaptureWeightsCopies(t *testing.T) {
	p, err := tensor.NewTensor([]int{2}, []float32{1, 2})
	if err != nil {
		t.Fatal(err)
	}
	weights := CaptureWeights([]*tensor.Tensor{p})
	p.Data[0] = 42
	if weights[0].Data[0] != 1 {
		t.Error("captured weights must not alias the live parameter")
	}
}
