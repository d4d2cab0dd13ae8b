package inference

import (
	"errors"
	"sync"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/yololab/pkg/nn"
	"github.com/cyclopcam/yololab/pkg/nnload"
	"github.com/cyclopcam/yololab/pkg/ortnn"
)

// Loader brings up the inference backend. It should return a *MissingDependencyError
// that names the prerequisite that is absent.
type Loader func() (nn.ObjectDetector, error)

// ModelSource describes where the production Loader finds its runtime and model
type ModelSource struct {
	RuntimeLibrary string         // Path of the onnxruntime shared library. Empty to use the system loader.
	ModelDir       string         // Directory holding <ModelName>.onnx and <ModelName>.json
	ModelName      string         // eg "yolov9-s"
	DownloadURL    string         // If not empty, missing model files are fetched from here
	Devices        []ortnn.Device // Devices to try, in order. Empty for ortnn.DevicePriority.
}

// NewModelLoader returns the Loader that the server uses
func NewModelLoader(log logs.Log, src ModelSource) Loader {
	return func() (nn.ObjectDetector, error) {
		if err := ortnn.Initialize(src.RuntimeLibrary); err != nil {
			return nil, &MissingDependencyError{Prerequisite: "onnxruntime", Err: err}
		}
		if err := nnload.DownloadModel(log, src.DownloadURL, src.ModelDir, src.ModelName); err != nil {
			return nil, &MissingDependencyError{Prerequisite: "model files", Err: err}
		}
		detector, err := nnload.LoadModel(log, src.ModelDir, src.ModelName, src.Devices)
		if err != nil {
			return nil, &MissingDependencyError{Prerequisite: "model", Err: err}
		}
		return detector, nil
	}
}

// Bootstrapper runs a Loader once, on demand.
// Failures are not cached, so the next call tries again.
type Bootstrapper struct {
	log  logs.Log
	load Loader

	lock     sync.Mutex
	detector nn.ObjectDetector
}

func NewBootstrapper(log logs.Log, load Loader) *Bootstrapper {
	return &Bootstrapper{
		log:  log,
		load: load,
	}
}

// EnsureReady loads the backend if it is not yet loaded.
// Concurrent callers wait for the first one to finish.
func (b *Bootstrapper) EnsureReady() error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.detector != nil {
		return nil
	}
	detector, err := b.load()
	if err != nil {
		var missing *MissingDependencyError
		if !errors.As(err, &missing) {
			err = &MissingDependencyError{Prerequisite: "backend", Err: err}
		}
		b.log.Errorf("Inference backend failed to start: %v", err)
		return err
	}
	b.detector = detector
	b.log.Infof("Inference backend ready on %v, with %v classes", detector.DeviceLabel(), len(detector.Config().Classes))
	return nil
}

// Detector returns nil until EnsureReady has succeeded
func (b *Bootstrapper) Detector() nn.ObjectDetector {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.detector
}

func (b *Bootstrapper) Close() {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.detector != nil {
		b.detector.Close()
		b.detector = nil
	}
}
