package inference

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/yololab/pkg/nn"
	"github.com/cyclopcam/yololab/pkg/ptckpt"
)

// checkpointShape is one of the layouts that torch.save checkpoints come in.
// Every implementation produces the flat name -> tensor mapping of a state_dict.
type checkpointShape interface {
	tensors() map[string]*ptckpt.Tensor
	kind() string
}

// A bare state_dict
type flatCheckpoint struct {
	root *ptckpt.Dict
}

// {"state_dict": {...}}, as written by Lightning style trainers
type stateDictCheckpoint struct {
	stateDict *ptckpt.Dict
}

// {"model": {...}}
type modelDictCheckpoint struct {
	model *ptckpt.Dict
}

// {"model": nn.Module}, or a pickled nn.Module on its own
type moduleCheckpoint struct {
	module *ptckpt.Object
}

func (c flatCheckpoint) kind() string { return "flat" }
func (c stateDictCheckpoint) kind() string { return "state_dict" }
func (c modelDictCheckpoint) kind() string { return "model" }
func (c moduleCheckpoint) kind() string { return "module" }

func (c flatCheckpoint) tensors() map[string]*ptckpt.Tensor {
	return dictTensors(c.root, "", nil)
}

func (c stateDictCheckpoint) tensors() map[string]*ptckpt.Tensor {
	return dictTensors(c.stateDict, "", func(key string) string {
		return strings.ReplaceAll(key, "model.model.", "")
	})
}

func (c modelDictCheckpoint) tensors() map[string]*ptckpt.Tensor {
	return dictTensors(c.model, "", nil)
}

func (c moduleCheckpoint) tensors() map[string]*ptckpt.Tensor {
	out := map[string]*ptckpt.Tensor{}
	flattenModule(c.module, "", out)
	return out
}

// classifyCheckpoint picks the layout of a decoded checkpoint.
// The order of the checks matters: state_dict wins over model, which wins over flat.
func classifyCheckpoint(root any) (checkpointShape, error) {
	switch r := root.(type) {
	case *ptckpt.Dict:
		if v, ok := r.Get("state_dict"); ok {
			if sd, ok := v.(*ptckpt.Dict); ok {
				return stateDictCheckpoint{sd}, nil
			}
		}
		if v, ok := r.Get("model"); ok {
			switch m := v.(type) {
			case *ptckpt.Dict:
				return modelDictCheckpoint{m}, nil
			case *ptckpt.Object:
				return moduleCheckpoint{m}, nil
			}
		}
		return flatCheckpoint{r}, nil
	case *ptckpt.Object:
		return moduleCheckpoint{r}, nil
	}
	return nil, fmt.Errorf("Checkpoint root is %T, not a dict", root)
}

func dictTensors(d *ptckpt.Dict, prefix string, rename func(string) string) map[string]*ptckpt.Tensor {
	out := map[string]*ptckpt.Tensor{}
	for _, e := range d.Entries() {
		key, ok := e.Key.(string)
		if !ok {
			continue
		}
		t, ok := e.Value.(*ptckpt.Tensor)
		if !ok {
			continue
		}
		if rename != nil {
			key = rename(key)
		}
		out[prefix+key] = t
	}
	return out
}

// flattenModule walks an nn.Module the way state_dict() does
func flattenModule(m *ptckpt.Object, prefix string, out map[string]*ptckpt.Tensor) {
	state, ok := m.State.(*ptckpt.Dict)
	if !ok {
		return
	}
	if params, ok := state.Get("_parameters"); ok {
		if d, ok := params.(*ptckpt.Dict); ok {
			for k, t := range dictTensors(d, prefix, nil) {
				out[k] = t
			}
		}
	}
	if buffers, ok := state.Get("_buffers"); ok {
		if d, ok := buffers.(*ptckpt.Dict); ok {
			skip := nonPersistentBuffers(state)
			for _, e := range d.Entries() {
				key, _ := e.Key.(string)
				t, isTensor := e.Value.(*ptckpt.Tensor)
				if !isTensor || skip[key] {
					continue
				}
				out[prefix+key] = t
			}
		}
	}
	if modules, ok := state.Get("_modules"); ok {
		if d, ok := modules.(*ptckpt.Dict); ok {
			for _, e := range d.Entries() {
				key, _ := e.Key.(string)
				if child, ok := e.Value.(*ptckpt.Object); ok && key != "" {
					flattenModule(child, prefix+key+".", out)
				}
			}
		}
	}
}

func nonPersistentBuffers(state *ptckpt.Dict) map[string]bool {
	skip := map[string]bool{}
	v, ok := state.Get("_non_persistent_buffers_set")
	if !ok {
		return skip
	}
	var items []any
	switch s := v.(type) {
	case *ptckpt.List:
		items = s.Items
	case ptckpt.Tuple:
		items = s
	}
	for _, it := range items {
		if name, ok := it.(string); ok {
			skip[name] = true
		}
	}
	return skip
}

// WeightCache applies checkpoints to a detector, skipping the work when the same
// checkpoint is uploaded again.
type WeightCache struct {
	log      logs.Log
	detector nn.ObjectDetector
	decode   func([]byte) (any, error)
	hash     string // sha1 of the checkpoint whose weights are live
}

func NewWeightCache(log logs.Log, detector nn.ObjectDetector) *WeightCache {
	return &WeightCache{
		log:      log,
		detector: detector,
		decode:   ptckpt.Load,
	}
}

// Hash returns the sha1 of the live checkpoint, or an empty string if none has been applied
func (w *WeightCache) Hash() string {
	return w.hash
}

// HashCheckpoint returns the hex sha1 that identifies a checkpoint
func HashCheckpoint(data []byte) string {
	h := sha1.Sum(data)
	return hex.EncodeToString(h[:])
}

// LoadWeights applies a checkpoint to the detector. Names that only exist on one
// side are tolerated. On failure, the previous weights remain live.
func (w *WeightCache) LoadWeights(data []byte, label string) error {
	if len(data) == 0 {
		return &ModelLoadError{Label: label, Err: errors.New("checkpoint file is empty")}
	}
	hash := HashCheckpoint(data)
	if hash == w.hash {
		return nil
	}

	root, err := w.decode(data)
	if err != nil {
		return &ModelLoadError{Label: label, Err: err}
	}
	shape, err := classifyCheckpoint(root)
	if err != nil {
		return &ModelLoadError{Label: label, Err: err}
	}
	tensors := shape.tensors()
	params := map[string]nn.Parameter{}
	for name, t := range tensors {
		// Integer buffers such as num_batches_tracked are not graph inputs
		if !t.IsFloat() {
			continue
		}
		params[name] = nn.Parameter{
			Shape: t.Shape64(),
			Data:  t.Data,
		}
	}
	if len(params) == 0 {
		return &ModelLoadError{Label: label, Err: fmt.Errorf("checkpoint (%v layout) contains no floating point tensors", shape.kind())}
	}

	report, err := w.detector.SetParameters(params)
	if err != nil {
		return &ModelLoadError{Label: label, Err: err}
	}
	w.hash = hash
	w.log.Infof("Loaded weights from %v (%v layout): %v applied, %v unexpected, %v missing",
		label, shape.kind(), report.Applied, report.Unexpected, report.Missing)
	return nil
}
