package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vahidzee/reason-aware-raster/scene"
	"github.com/vahidzee/reason-aware-raster/tensor"
	"github.com/vahidzee/reason-aware-raster/training"
)

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatJSON CheckpointFormat = iota
	FormatBinary
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatJSON:
		return "JSON"
	case FormatBinary:
		return "Binary"
	default:
		return "Unknown"
	}
}

// Checkpoint is a complete training snapshot: model weights, the scene
// geometry and hyperparameters the model was built with, and the loop state
// needed to resume.
type Checkpoint struct {
	Scene           scene.Config             `json:"scene"`
	Hyperparameters training.Hyperparameters `json:"hyperparameters"`
	Weights         []WeightTensor           `json:"weights"`
	TrainingState   TrainingState            `json:"training_state"`
	Metadata        CheckpointMetadata       `json:"metadata"`
}

// WeightTensor is one parameter tensor with its data.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// TrainingState captures where the loop stopped.
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	Step         int     `json:"step"`
	LearningRate float64 `json:"learning_rate"`
	BestLoss     float64 `json:"best_loss"`
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// CaptureWeights snapshots the parameter tensors in order. The name encodes
// the position, which is stable because model construction is deterministic
// for fixed hyperparameters.
func CaptureWeights(params []*tensor.Tensor) []WeightTensor {
	weights := make([]WeightTensor, len(params))
	for i, p := range params {
		data := make([]float32, len(p.Data))
		copy(data, p.Data)
		weights[i] = WeightTensor{
			Name:  fmt.Sprintf("param_%d", i),
			Shape: append([]int{}, p.Shape...),
			Data:  data,
		}
	}
	return weights
}

// RestoreWeights copies checkpointed weights back into the parameter tensors.
// The parameter list must line up with the one the checkpoint was captured
// from.
func RestoreWeights(params []*tensor.Tensor, weights []WeightTensor) error {
	if len(params) != len(weights) {
		return fmt.Errorf("checkpoint has %d weight tensors, model has %d parameters", len(weights), len(params))
	}
	for i, w := range weights {
		p := params[i]
		if len(w.Data) != p.NumElems {
			return fmt.Errorf("weight %s has %d elements, parameter has %d", w.Name, len(w.Data), p.NumElems)
		}
		copy(p.Data, w.Data)
	}
	return nil
}

// CheckpointSaver handles saving checkpoints in various formats
type CheckpointSaver struct {
	format CheckpointFormat
}

// NewCheckpointSaver creates a new checkpoint saver for the specified format
func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{
		format: format,
	}
}

// SaveCheckpoint saves a complete checkpoint
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	if checkpoint.Metadata.CreatedAt.IsZero() {
		checkpoint.Metadata.CreatedAt = time.Now()
	}
	if checkpoint.Metadata.Version == "" {
		checkpoint.Metadata.Version = "1.0"
	}

	switch cs.format {
	case FormatJSON:
		return cs.saveJSON(checkpoint, path)
	case FormatBinary:
		return cs.saveBinary(checkpoint, path)
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
}

func (cs *CheckpointSaver) saveJSON(checkpoint *Checkpoint, path string) error {
	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %v", err)
	}
	return nil
}

// saveBinary serializes the checkpoint as a protobuf Struct. The checkpoint
// goes through its JSON representation first, so both formats carry exactly
// the same fields.
func (cs *CheckpointSaver) saveBinary(checkpoint *Checkpoint, path string) error {
	jsonData, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %v", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(jsonData, &fields); err != nil {
		return fmt.Errorf("failed to decode checkpoint fields: %v", err)
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return fmt.Errorf("failed to build checkpoint struct: %v", err)
	}
	data, err := proto.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint struct: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %v", err)
	}
	return nil
}

// CheckpointLoader handles loading checkpoints
type CheckpointLoader struct {
	format CheckpointFormat
}

// NewCheckpointLoader creates a new checkpoint loader for the specified format
func NewCheckpointLoader(format CheckpointFormat) *CheckpointLoader {
	return &CheckpointLoader{
		format: format,
	}
}

// LoadCheckpoint loads a checkpoint from path
func (cl *CheckpointLoader) LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %v", err)
	}

	switch cl.format {
	case FormatJSON:
		var checkpoint Checkpoint
		if err := json.Unmarshal(data, &checkpoint); err != nil {
			return nil, fmt.Errorf("failed to unmarshal checkpoint: %v", err)
		}
		return &checkpoint, nil
	case FormatBinary:
		st := &structpb.Struct{}
		if err := proto.Unmarshal(data, st); err != nil {
			return nil, fmt.Errorf("failed to unmarshal checkpoint struct: %v", err)
		}
		jsonData, err := st.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("failed to encode checkpoint fields: %v", err)
		}
		var checkpoint Checkpoint
		if err := json.Unmarshal(jsonData, &checkpoint); err != nil {
			return nil, fmt.Errorf("failed to unmarshal checkpoint: %v", err)
		}
		return &checkpoint, nil
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", cl.format.String())
	}
}
