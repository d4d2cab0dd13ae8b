package ortnn

import (
	"fmt"
	"sync"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/yololab/pkg/nn"
	ort "github.com/yalue/onnxruntime_go"
)

// Detector is an nn.ObjectDetector backed by an ONNX graph.
//
// The graph must be exported with its initializers as inputs, so that weights can be replaced
// at runtime. Every graph input other than the image is treated as an overridable parameter.
// Replacing weights builds a new session, and the old session keeps serving until the new one
// is ready.
type Detector struct {
	log       logs.Log
	modelPath string
	config    nn.ModelConfig
	device    Device
	output    string
	params    map[string]ort.InputOutputInfo

	// Serializes SetParameters, and guards applied
	setLock sync.Mutex
	applied map[string]nn.Parameter

	lock    sync.Mutex
	current *boundSession
}

// A session plus the parameter tensors that are fed to it on every run
type boundSession struct {
	session    *ort.DynamicAdvancedSession
	inputNames []string
	tensors    []*ort.Tensor[float32]
}

func (b *boundSession) destroy() {
	if b.session != nil {
		b.session.Destroy()
	}
	for _, t := range b.tensors {
		t.Destroy()
	}
}

// NewDetector opens an ONNX graph on the given device.
// An error is returned if the execution provider cannot be attached.
func NewDetector(log logs.Log, config *nn.ModelConfig, modelPath string, device Device) (*Detector, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("Failed to read graph inputs of %v: %w", modelPath, err)
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("Graph %v has no outputs", modelPath)
	}
	d := &Detector{
		log:       log,
		modelPath: modelPath,
		config:    *config,
		device:    device,
		output:    outputs[0].Name,
		params:    map[string]ort.InputOutputInfo{},
		applied:   map[string]nn.Parameter{},
	}
	foundImage := false
	for _, in := range inputs {
		if in.Name == config.Input {
			foundImage = true
		} else if in.DataType == ort.TensorElementDataTypeFloat {
			d.params[in.Name] = in
		}
	}
	if !foundImage {
		return nil, fmt.Errorf("Graph %v has no input named '%v'", modelPath, config.Input)
	}

	bound, err := d.bind(nil)
	if err != nil {
		return nil, err
	}
	d.current = bound
	log.Infof("Loaded %v on %v (%v overridable parameters)", modelPath, device.Label(), len(d.params))
	return d, nil
}

// bind creates a session whose inputs are the image plus the given parameters
func (d *Detector) bind(params map[string]nn.Parameter) (*boundSession, error) {
	b := &boundSession{
		inputNames: []string{d.config.Input},
	}
	for name, p := range params {
		t, err := ort.NewTensor(ort.NewShape(p.Shape...), p.Data)
		if err != nil {
			b.destroy()
			return nil, fmt.Errorf("Failed to create tensor for %v: %w", name, err)
		}
		b.inputNames = append(b.inputNames, name)
		b.tensors = append(b.tensors, t)
	}

	options, err := newSessionOptions(d.device)
	if err != nil {
		b.destroy()
		return nil, fmt.Errorf("Failed to attach %v: %w", d.device.Label(), err)
	}
	defer options.Destroy()

	b.session, err = ort.NewDynamicAdvancedSession(d.modelPath, b.inputNames, []string{d.output}, options)
	if err != nil {
		b.destroy()
		return nil, fmt.Errorf("Failed to create session on %v: %w", d.device.Label(), err)
	}
	return b, nil
}

func (d *Detector) Close() {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.current != nil {
		d.current.destroy()
		d.current = nil
	}
}

func (d *Detector) Config() *nn.ModelConfig {
	return &d.config
}

func (d *Detector) DeviceLabel() string {
	return d.device.Label()
}

func (d *Detector) Device() Device {
	return d.device
}

func (d *Detector) Forward(input []float32, size int) (*nn.RawOutput, error) {
	if len(input) != 3*size*size {
		return nil, fmt.Errorf("Input has %v values, but a %vx%v image needs %v", len(input), size, size, 3*size*size)
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.current == nil {
		return nil, fmt.Errorf("Detector is closed")
	}

	image, err := ort.NewTensor(ort.NewShape(1, 3, int64(size), int64(size)), input)
	if err != nil {
		return nil, err
	}
	defer image.Destroy()

	inputs := make([]ort.Value, 0, 1+len(d.current.tensors))
	inputs = append(inputs, image)
	for _, t := range d.current.tensors {
		inputs = append(inputs, t)
	}
	// nil outputs are allocated by onnxruntime
	outputs := []ort.Value{nil}
	if err := d.current.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("Forward pass failed: %w", err)
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("Output '%v' is not a float32 tensor", d.output)
	}
	shape := out.GetShape()
	raw := &nn.RawOutput{
		Shape: append([]int64{}, shape...),
		Data:  append([]float32{}, out.GetData()...),
	}
	return raw, nil
}

// SetParameters validates the parameters against the graph, builds a new session that
// feeds them, and swaps it in. Parameters that were applied by an earlier call, and are
// absent from params, keep their earlier values. The previous session stays in effect on any error.
func (d *Detector) SetParameters(params map[string]nn.Parameter) (nn.ParameterReport, error) {
	d.setLock.Lock()
	defer d.setLock.Unlock()

	merged, report, err := mergeParameters(d.params, d.applied, params)
	if err != nil {
		return report, err
	}

	bound, err := d.bind(merged)
	if err != nil {
		return report, err
	}

	d.lock.Lock()
	old := d.current
	d.current = bound
	d.lock.Unlock()
	if old != nil {
		old.destroy()
	}
	d.applied = merged
	return report, nil
}

// mergeParameters overlays params onto applied, keeping only names that are graph parameters.
// The report counts params against the graph: Missing is the number of graph parameters
// that params does not supply, whether or not an earlier value is retained for them.
func mergeParameters(graph map[string]ort.InputOutputInfo, applied, params map[string]nn.Parameter) (map[string]nn.Parameter, nn.ParameterReport, error) {
	report := nn.ParameterReport{}
	merged := make(map[string]nn.Parameter, len(applied)+len(params))
	for name, p := range applied {
		merged[name] = p
	}
	for name, p := range params {
		info, ok := graph[name]
		if !ok {
			report.Unexpected++
			continue
		}
		if err := checkShape(name, info.Dimensions, p); err != nil {
			return nil, report, err
		}
		merged[name] = p
		report.Applied++
	}
	report.Missing = len(graph) - report.Applied
	return merged, report, nil
}

func checkShape(name string, dims ort.Shape, p nn.Parameter) error {
	mismatch := len(dims) != len(p.Shape)
	if !mismatch {
		for i, d := range dims {
			// Negative dimensions are symbolic
			if d >= 0 && d != p.Shape[i] {
				mismatch = true
			}
		}
	}
	if mismatch {
		return fmt.Errorf("Shape mismatch for parameter %v: checkpoint has %v, model expects %v", name, p.Shape, []int64(dims))
	}
	n := int64(1)
	for _, s := range p.Shape {
		n *= s
	}
	if int64(len(p.Data)) != n {
		return fmt.Errorf("Parameter %v has %v values, but shape %v needs %v", name, len(p.Data), p.Shape, n)
	}
	return nil
}
