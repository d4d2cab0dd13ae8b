package nn

import (
	"encoding/json"
	"fmt"
	"os"
)

// Package nn is the neural network interface layer.
// To load a model, use the nnload package.

const DefaultMinConfidence = 0.25
const DefaultMinIoU = 0.45
const DefaultMaxBoxes = 300

// NMSConfig controls the suppression of duplicate detections
type NMSConfig struct {
	MinConfidence float32 // Candidates below this class score are discarded before NMS
	MinIoU        float32 // Two boxes of the same class with IoU above this are duplicates
	MaxBoxes      int     // Maximum number of boxes kept per image
}

// Create a default NMSConfig object
func NewNMSConfig() *NMSConfig {
	return &NMSConfig{
		MinConfidence: DefaultMinConfidence,
		MinIoU:        DefaultMinIoU,
		MaxBoxes:      DefaultMaxBoxes,
	}
}

// AnchorConfig describes the detection heads of an anchor-free YOLO model
type AnchorConfig struct {
	Strides []int `json:"strides"` // eg [8, 16, 32]
	RegMax  int   `json:"regMax"`  // DFL bins. Informational, because the exported graph decodes boxes itself.
}

// NumAnchors returns the number of prediction cells for a square input of the given size
func (a *AnchorConfig) NumAnchors(size int) int {
	n := 0
	for _, s := range a.strides() {
		cells := (size + s - 1) / s
		n += cells * cells
	}
	return n
}

func (a *AnchorConfig) strides() []int {
	if len(a.Strides) == 0 {
		return []int{8, 16, 32}
	}
	return a.Strides
}

// ModelConfig is saved in a JSON file along with the ONNX graph of the model
type ModelConfig struct {
	Architecture string       `json:"architecture"` // eg "yolov9-s"
	Width        int          `json:"width"`        // Nominal input size, eg 640
	Height       int          `json:"height"`       // Nominal input size, eg 640
	Classes      []string     `json:"classes"`      // eg ["person", "bicycle", "car", ...]
	Input        string       `json:"input"`        // Name of the image input of the graph. Default "images".
	Anchor       AnchorConfig `json:"anchor"`
}

// Load model config from a JSON file
func LoadModelConfig(filename string) (*ModelConfig, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	config := &ModelConfig{}
	if err := json.Unmarshal(b, config); err != nil {
		return nil, fmt.Errorf("Invalid model config %v: %w", filename, err)
	}
	if config.Input == "" {
		config.Input = "images"
	}
	if len(config.Classes) == 0 {
		config.Classes = append([]string{}, COCOClasses...)
	}
	return config, nil
}

// Parameter is a named weight tensor that can be fed to a model
type Parameter struct {
	Shape []int64
	Data  []float32
}

// ParameterReport summarizes a non-strict parameter merge
type ParameterReport struct {
	Applied    int // Names present in both the checkpoint and the model
	Unexpected int // Names only present in the checkpoint
	Missing    int // Model parameters that the checkpoint did not provide
}

// RawOutput is an output tensor copied out of the inference runtime
type RawOutput struct {
	Shape []int64
	Data  []float32
}

// ObjectDetector runs the forward pass of a detection model
type ObjectDetector interface {
	// Close releases the native resources of the detector
	Close()

	// Config returns the model config. Callers assume it never changes.
	Config() *ModelConfig

	// DeviceLabel is a human readable name of the device that runs the model, eg "CPU"
	DeviceLabel() string

	// Forward runs the model on a CHW float32 tensor of shape [1, 3, size, size]
	Forward(input []float32, size int) (*RawOutput, error)

	// SetParameters replaces model weights. Names not known to the model are ignored.
	// If an error is returned, the previous weights are still in effect.
	SetParameters(params map[string]Parameter) (ParameterReport, error)
}

// Row is one detection after NMS: [class, x1, y1, x2, y2, confidence].
// Coordinates are in the pixel space of the source image.
type Row [6]float32

func (r Row) Class() int {
	return int(r[0])
}

func (r Row) Box() Box {
	return Box{X1: r[1], Y1: r[2], X2: r[3], Y2: r[4]}
}

func (r Row) Confidence() float32 {
	return r[5]
}
