// Package ortnn runs YOLO detection graphs on ONNX Runtime
package ortnn

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Device is an ONNX Runtime execution provider that we know how to attach
type Device string

const (
	DeviceCUDA   Device = "cuda"
	DeviceCoreML Device = "coreml"
	DeviceCPU    Device = "cpu"
)

// DevicePriority is the order in which devices are tried when loading a model
var DevicePriority = []Device{DeviceCUDA, DeviceCoreML, DeviceCPU}

// Label is the human readable name that we report to API clients
func (d Device) Label() string {
	switch d {
	case DeviceCUDA:
		return "CUDA (device 0)"
	case DeviceCoreML:
		return "Apple CoreML"
	}
	return "CPU"
}

var initLock sync.Mutex
var initialized bool

// DefaultLibraryPath returns the conventional filename of the onnxruntime shared library on this platform
func DefaultLibraryPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	}
	return "libonnxruntime.so"
}

// Initialize loads the onnxruntime shared library. It is safe to call more than once.
// If libPath is empty, the library is found by the platform's dynamic loader.
func Initialize(libPath string) error {
	initLock.Lock()
	defer initLock.Unlock()
	if initialized {
		return nil
	}
	if libPath == "" {
		libPath = DefaultLibraryPath()
	} else if filepath.IsAbs(libPath) {
		if _, err := os.Stat(libPath); err != nil {
			return fmt.Errorf("onnxruntime library not found at %v: %w", libPath, err)
		}
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("Failed to initialize onnxruntime from %v: %w", libPath, err)
	}
	initialized = true
	return nil
}

// Shutdown releases the onnxruntime environment. All detectors must be closed first.
func Shutdown() {
	initLock.Lock()
	defer initLock.Unlock()
	if initialized {
		ort.DestroyEnvironment()
		initialized = false
	}
}

func newSessionOptions(device Device) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll)
	switch device {
	case DeviceCUDA:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			options.Destroy()
			return nil, err
		}
		defer cuda.Destroy()
		if err := cuda.Update(map[string]string{"device_id": "0"}); err != nil {
			options.Destroy()
			return nil, err
		}
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			options.Destroy()
			return nil, err
		}
	case DeviceCoreML:
		if runtime.GOOS != "darwin" {
			options.Destroy()
			return nil, fmt.Errorf("CoreML is only available on macOS")
		}
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			options.Destroy()
			return nil, err
		}
	}
	return options, nil
}
