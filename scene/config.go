package scene

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config describes the rasterized scene geometry the models are built
// against. It mirrors the rasterization section of the scene config file and
// is passed opaquely to model construction.
type Config struct {
	// HistoryNumFrames is the number of past frames rasterized in addition
	// to the current frame. Each frame contributes two occupancy channels
	// (ego and agents).
	HistoryNumFrames int `json:"history_num_frames"`

	// FutureNumFrames is the number of future timesteps the model predicts.
	FutureNumFrames int `json:"future_num_frames"`

	// RasterSize is the spatial size of the raster as [height, width].
	RasterSize [2]int `json:"raster_size"`
}

// SemanticChannels is the number of trailing map/semantic channels in every
// raster. The remaining leading channels are per-timestep vehicle occupancy.
const SemanticChannels = 3

// Default returns a small scene configuration suitable for quick runs.
func Default() *Config {
	return &Config{
		HistoryNumFrames: 10,
		FutureNumFrames:  50,
		RasterSize:       [2]int{224, 224},
	}
}

// Load reads a scene configuration from a JSON file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scene config: %v", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse scene config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values no rasterizer can produce.
func (c *Config) Validate() error {
	if c.HistoryNumFrames < 0 {
		return fmt.Errorf("history_num_frames must be non-negative, got %d", c.HistoryNumFrames)
	}
	if c.FutureNumFrames <= 0 {
		return fmt.Errorf("future_num_frames must be positive, got %d", c.FutureNumFrames)
	}
	if c.RasterSize[0] <= 0 || c.RasterSize[1] <= 0 {
		return fmt.Errorf("raster_size must be positive, got %v", c.RasterSize)
	}
	return nil
}

// NumChannels returns the total channel count of the raster: two occupancy
// channels per history frame plus the current frame, followed by the
// semantic map layers.
func (c *Config) NumChannels() int {
	return 2*(c.HistoryNumFrames+1) + SemanticChannels
}

// VehicleChannels returns the number of leading vehicle occupancy channels.
func (c *Config) VehicleChannels() int {
	return c.NumChannels() - SemanticChannels
}
