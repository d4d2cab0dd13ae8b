package inference

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/cyclopcam/yololab/pkg/nn"
	"github.com/cyclopcam/yololab/pkg/ptckpt"
)

// fakeDetector emits fixed network-space boxes, regardless of its input
type fakeDetector struct {
	lock       sync.Mutex
	config     nn.ModelConfig
	boxes      [][6]float32 // cx, cy, w, h, score class 0, score class 1
	params     map[string]nn.Parameter
	setCalls   int
	failSet    error
	forwardErr error
	closed     bool
}

func newFakeDetector() *fakeDetector {
	return &fakeDetector{
		config: nn.ModelConfig{
			Architecture: "fake",
			Classes:      []string{"person", "car"},
			Input:        "images",
			Anchor:       nn.AnchorConfig{Strides: []int{32}},
		},
		boxes: [][6]float32{
			{32, 32, 40, 20, 0.9, 0.1},
			{60, 32, 20, 60, 0.05, 0.8},
		},
	}
}

func (f *fakeDetector) Close() {
	f.closed = true
}

func (f *fakeDetector) Config() *nn.ModelConfig {
	return &f.config
}

func (f *fakeDetector) DeviceLabel() string {
	return "CPU"
}

func (f *fakeDetector) Forward(input []float32, size int) (*nn.RawOutput, error) {
	if f.forwardErr != nil {
		return nil, f.forwardErr
	}
	if len(input) != 3*size*size {
		return nil, errors.New("bad input size")
	}
	n := f.config.Anchor.NumAnchors(size)
	nAttr := 4 + len(f.config.Classes)
	data := make([]float32, n*nAttr)
	for i, b := range f.boxes {
		if i >= n {
			break
		}
		for attr := 0; attr < nAttr; attr++ {
			data[attr*n+i] = b[attr]
		}
	}
	return &nn.RawOutput{Shape: []int64{1, int64(nAttr), int64(n)}, Data: data}, nil
}

func (f *fakeDetector) SetParameters(params map[string]nn.Parameter) (nn.ParameterReport, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.setCalls++
	if f.failSet != nil {
		return nn.ParameterReport{}, f.failSet
	}
	f.params = params
	return nn.ParameterReport{Applied: len(params)}, nil
}

func makePNG(width, height int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

func tensor(shape []int, values ...float32) *ptckpt.Tensor {
	return &ptckpt.Tensor{DType: "float32", Shape: shape, Data: values}
}

func dict(kv ...any) *ptckpt.Dict {
	d := ptckpt.NewDict()
	for i := 0; i < len(kv); i += 2 {
		d.Set(kv[i], kv[i+1])
	}
	return d
}
