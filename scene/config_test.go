package scene

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNumChannels(t *testing.T) {
	cases := []struct {
		history int
		want    int
	}{
		{0, 5},
		{1, 7},
		{10, 25},
	}
	for _, tc := range cases {
		cfg := &Config{HistoryNumFrames: tc.history, FutureNumFrames: 1, RasterSize: [2]int{4, 4}}
		if got := cfg.NumChannels(); got != tc.want {
			t.Errorf("history %d: expected %d channels, got %d", tc.history, tc.want, got)
		}
		if got := cfg.VehicleChannels(); got != tc.want-SemanticChannels {
			t.Errorf("history %d: expected %d vehicle channels, got %d", tc.history, tc.want-SemanticChannels, got)
		}
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", *Default(), false},
		{"negative history", Config{HistoryNumFrames: -1, FutureNumFrames: 1, RasterSize: [2]int{4, 4}}, true},
		{"zero future", Config{FutureNumFrames: 0, RasterSize: [2]int{4, 4}}, true},
		{"zero raster", Config{FutureNumFrames: 1, RasterSize: [2]int{0, 4}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "scene.json")
		body := `{"history_num_frames": 5, "future_num_frames": 30, "raster_size": [128, 128]}`
		if err := os.WriteFile(path, []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if cfg.HistoryNumFrames != 5 || cfg.FutureNumFrames != 30 || cfg.RasterSize != [2]int{128, 128} {
			t.Errorf("unexpected config: %+v", cfg)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("invalid values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "scene.json")
		if err := os.WriteFile(path, []byte(`{"future_num_frames": -1}`), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Error("expected error for invalid values")
		}
	})
}
