package ortnn

import (
	"testing"

	"github.com/cyclopcam/yololab/pkg/nn"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"
)

func TestCheckShape(t *testing.T) {
	p := nn.Parameter{Shape: []int64{16, 3, 3, 3}, Data: make([]float32, 16*27)}
	require.NoError(t, checkShape("conv.weight", ort.NewShape(16, 3, 3, 3), p))
	require.NoError(t, checkShape("conv.weight", ort.NewShape(-1, 3, 3, 3), p))
	require.ErrorContains(t, checkShape("conv.weight", ort.NewShape(32, 3, 3, 3), p), "Shape mismatch")
	require.ErrorContains(t, checkShape("conv.weight", ort.NewShape(16, 27), p), "Shape mismatch")

	p.Data = p.Data[:10]
	require.Error(t, checkShape("conv.weight", ort.NewShape(16, 3, 3, 3), p))
}

func TestDeviceLabels(t *testing.T) {
	require.Equal(t, "CUDA (device 0)", DeviceCUDA.Label())
	require.Equal(t, "Apple CoreML", DeviceCoreML.Label())
	require.Equal(t, "CPU", DeviceCPU.Label())
	require.Equal(t, []Device{DeviceCUDA, DeviceCoreML, DeviceCPU}, DevicePriority)
}

func TestMergeParametersKeepsEarlierValues(t *testing.T) {
	graph := map[string]ort.InputOutputInfo{
		"conv.weight": {Name: "conv.weight", Dimensions: ort.NewShape(2, 2)},
		"conv.bias":   {Name: "conv.bias", Dimensions: ort.NewShape(2)},
		"head.bias":   {Name: "head.bias", Dimensions: ort.NewShape(1)},
	}
	first := map[string]nn.Parameter{
		"conv.weight": {Shape: []int64{2, 2}, Data: []float32{1, 2, 3, 4}},
		"conv.bias":   {Shape: []int64{2}, Data: []float32{5, 6}},
	}
	merged, report, err := mergeParameters(graph, map[string]nn.Parameter{}, first)
	require.NoError(t, err)
	require.Equal(t, nn.ParameterReport{Applied: 2, Unexpected: 0, Missing: 1}, report)
	require.Len(t, merged, 2)

	// A second checkpoint that only supplies conv.bias, plus a name the graph lacks
	second := map[string]nn.Parameter{
		"conv.bias":  {Shape: []int64{2}, Data: []float32{7, 8}},
		"aux.weight": {Shape: []int64{1}, Data: []float32{9}},
	}
	merged2, report, err := mergeParameters(graph, merged, second)
	require.NoError(t, err)
	require.Equal(t, nn.ParameterReport{Applied: 1, Unexpected: 1, Missing: 2}, report)
	require.Equal(t, []float32{1, 2, 3, 4}, merged2["conv.weight"].Data)
	require.Equal(t, []float32{7, 8}, merged2["conv.bias"].Data)
	require.NotContains(t, merged2, "aux.weight")
	require.NotContains(t, merged2, "head.bias")

	// The earlier map is not modified
	require.Equal(t, []float32{5, 6}, merged["conv.bias"].Data)

	// A shape mismatch rejects the whole set
	bad := map[string]nn.Parameter{
		"conv.bias":   {Shape: []int64{2}, Data: []float32{0, 0}},
		"conv.weight": {Shape: []int64{4}, Data: []float32{0, 0, 0, 0}},
	}
	_, _, err = mergeParameters(graph, merged2, bad)
	require.ErrorContains(t, err, "Shape mismatch")
	require.Equal(t, []float32{7, 8}, merged2["conv.bias"].Data)
}
