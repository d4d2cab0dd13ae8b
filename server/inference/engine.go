package inference

import (
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/yololab/pkg/perfstats"
	"github.com/cyclopcam/yololab/pkg/ptckpt"
)

// DefaultLabel names a checkpoint that was uploaded without a filename
const DefaultLabel = "uploaded.pt"

// Engine owns the inference backend, and serializes all runs through it.
// There is one Engine per process, created by the server.
type Engine struct {
	log       logs.Log
	bootstrap *Bootstrapper
	stages    *perfstats.Stages
	decode    func([]byte) (any, error)

	lock     sync.Mutex // Held for the whole of Run
	weights  *WeightCache
	pipeline *Pipeline

	statsLock sync.Mutex
	stats     Stats
}

// Stats summarizes all successful runs since the engine started
type Stats struct {
	Runs           int64                           `json:"runs"`
	Images         int64                           `json:"images"`
	Detections     int64                           `json:"detections"`
	TotalTimeMS    float64                         `json:"totalTimeMS"`
	AverageImageMS float64                         `json:"averageImageMS"`
	Stages         map[string]perfstats.StageStats `json:"stages"`
}

func NewEngine(log logs.Log, load Loader) *Engine {
	return &Engine{
		log:       log,
		bootstrap: NewBootstrapper(log, load),
		stages:    perfstats.NewStages(),
		decode:    ptckpt.Load,
	}
}

// Run loads the backend if necessary, applies the checkpoint, and runs detection on the images
func (e *Engine) Run(checkpoint []byte, settings *Settings, images []ImagePayload, label string) (*AggregateResult, error) {
	if label == "" {
		label = DefaultLabel
	}
	if settings == nil {
		settings = DefaultSettings()
	}

	e.lock.Lock()
	defer e.lock.Unlock()

	if err := e.bootstrap.EnsureReady(); err != nil {
		return nil, err
	}
	if e.weights == nil {
		detector := e.bootstrap.Detector()
		e.weights = NewWeightCache(e.log, detector)
		e.weights.decode = e.decode
		e.pipeline = NewPipeline(e.log, detector, e.stages)
	}

	start := time.Now()
	if err := e.weights.LoadWeights(checkpoint, label); err != nil {
		return nil, err
	}
	e.stages.Add("weights", time.Since(start))

	result, err := e.pipeline.Predict(images, settings)
	if err != nil {
		return nil, err
	}
	e.statsLock.Lock()
	e.stats.Runs++
	e.stats.Images += int64(len(result.Results))
	e.stats.Detections += int64(result.NumDetections())
	e.stats.TotalTimeMS += result.TotalTimeMS
	e.statsLock.Unlock()
	return result, nil
}

// EnsureReady loads the backend without running anything
func (e *Engine) EnsureReady() error {
	return e.bootstrap.EnsureReady()
}

// IsReady returns true once the backend has been loaded
func (e *Engine) IsReady() bool {
	return e.bootstrap.Detector() != nil
}

// DeviceLabel is "uninitialized" until the backend has been loaded
func (e *Engine) DeviceLabel() string {
	detector := e.bootstrap.Detector()
	if detector == nil {
		return "uninitialized"
	}
	return detector.DeviceLabel()
}

// ClassNames returns the model's taxonomy, or nil until the backend has been loaded
func (e *Engine) ClassNames() []string {
	detector := e.bootstrap.Detector()
	if detector == nil {
		return nil
	}
	return append([]string{}, detector.Config().Classes...)
}

// WeightsHash returns the sha1 of the live checkpoint
func (e *Engine) WeightsHash() string {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.weights == nil {
		return ""
	}
	return e.weights.Hash()
}

func (e *Engine) Stats() Stats {
	e.statsLock.Lock()
	s := e.stats
	e.statsLock.Unlock()
	if s.Images != 0 {
		s.AverageImageMS = round2(s.TotalTimeMS / float64(s.Images))
	}
	s.TotalTimeMS = round2(s.TotalTimeMS)
	s.Stages = e.stages.Snapshot()
	return s
}

func (e *Engine) Close() {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.bootstrap.Close()
	e.weights = nil
	e.pipeline = nil
}
