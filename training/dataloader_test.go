package training

import (
	"math/rand"
	"testing"
)

func TestSyntheticSceneDataset(t *testing.T) {
	cfg := testSceneConfig()
	ds, err := NewSyntheticSceneDataset(cfg, 5, 1)
	if err != nil {
		t.Fatalf("failed to build dataset: %v", err)
	}
	if ds.Len() != 5 {
		t.Fatalf("expected 5 samples, got %d", ds.Len())
	}

	s, err := ds.Get(0)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if s.Image.Shape[0] != cfg.NumChannels() {
		t.Errorf("image has %d channels, expected %d", s.Image.Shape[0], cfg.NumChannels())
	}
	for _, v := range s.Image.Data {
		if v < 0 || v > 1 {
			t.Fatalf("raster value outside [0,1]: %v", v)
		}
	}
	if s.TargetPositions.Shape[0] != cfg.FutureNumFrames {
		t.Errorf("targets cover %d frames, expected %d", s.TargetPositions.Shape[0], cfg.FutureNumFrames)
	}

	t.Run("out of range", func(t *testing.T) {
		if _, err := ds.Get(5); err == nil {
			t.Error("expected error for out-of-range index")
		}
	})

	t.Run("deterministic for seed", func(t *testing.T) {
		other, err := NewSyntheticSceneDataset(cfg, 5, 1)
		if err != nil {
			t.Fatal(err)
		}
		a, _ := ds.Get(2)
		b, _ := other.Get(2)
		for i := range a.Image.Data {
			if a.Image.Data[i] != b.Image.Data[i] {
				t.Fatal("same seed produced different samples")
			}
		}
	})
}

func TestDataLoaderBatching(t *testing.T) {
	cfg := testSceneConfig()
	ds, err := NewSyntheticSceneDataset(cfg, 10, 2)
	if err != nil {
		t.Fatalf("failed to build dataset: %v", err)
	}

	loader, err := NewDataLoader(ds, 4, false, nil)
	if err != nil {
		t.Fatalf("failed to build loader: %v", err)
	}
	if loader.Len() != 3 {
		t.Fatalf("expected 3 batches, got %d", loader.Len())
	}

	sizes := []int{}
	for {
		batch, ok, err := loader.Next()
		if err != nil {
			t.Fatalf("next failed: %v", err)
		}
		if !ok {
			break
		}
		sizes = append(sizes, batch.Image.Shape[0])
		if batch.TargetPositions.Shape[0] != batch.Image.Shape[0] {
			t.Error("targets and images disagree on batch size")
		}
		if batch.TargetAvailabilities == nil {
			t.Error("expected availabilities from the synthetic dataset")
		}
	}
	want := []int{4, 4, 2}
	if len(sizes) != len(want) {
		t.Fatalf("expected %d batches, got %d", len(want), len(sizes))
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("batch %d: expected size %d, got %d", i, want[i], sizes[i])
		}
	}

	t.Run("reset rewinds", func(t *testing.T) {
		loader.Reset()
		_, ok, err := loader.Next()
		if err != nil || !ok {
			t.Fatalf("loader did not rewind: ok=%v err=%v", ok, err)
		}
	})
}

func TestDataLoaderShuffle(t *testing.T) {
	cfg := testSceneConfig()
	ds, err := NewSyntheticSceneDataset(cfg, 32, 3)
	if err != nil {
		t.Fatal(err)
	}

	loader, err := NewDataLoader(ds, 32, true, rand.New(rand.NewSource(4)))
	if err != nil {
		t.Fatal(err)
	}
	first, ok, err := loader.Next()
	if err != nil || !ok {
		t.Fatalf("next failed: ok=%v err=%v", ok, err)
	}

	loader.Reset()
	second, ok, err := loader.Next()
	if err != nil || !ok {
		t.Fatalf("next failed: ok=%v err=%v", ok, err)
	}

	same := true
	for i := range first.Image.Data {
		if first.Image.Data[i] != second.Image.Data[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("expected reshuffled order after reset")
	}
}

func TestDataLoaderValidation(t *testing.T) {
	cfg := testSceneConfig()
	ds, err := NewSyntheticSceneDataset(cfg, 4, 5)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewDataLoader(ds, 0, false, nil); err == nil {
		t.Error("expected error for zero batch size")
	}
}
