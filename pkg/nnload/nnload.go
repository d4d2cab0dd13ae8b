package nnload

// Package nnload hides the concrete inference runtime behind the 'nn' interface layer,
// so that callers can load a detection model with one function call, and get whichever
// device the host supports best.

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/yololab/pkg/iox"
	"github.com/cyclopcam/yololab/pkg/nn"
	"github.com/cyclopcam/yololab/pkg/ortnn"
)

// ModelFiles are the two files that make up a model: the ONNX graph and its JSON config
var ModelFiles = []string{".onnx", ".json"}

func downloadFile(srcUrl, targetFile string) error {
	resp, err := http.DefaultClient.Get(srcUrl)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("HTTP error %v", resp.Status)
	}
	return iox.WriteFileAtomic(targetFile, resp.Body)
}

// If the model files are not on disk, then download them from baseUrl.
// Returns immediately if the files are already present.
// If baseUrl is empty, missing files are an error.
func DownloadModel(log logs.Log, baseUrl, modelDir, modelName string) error {
	for _, ext := range ModelFiles {
		diskPath := filepath.Join(modelDir, modelName+ext)
		_, err := os.Stat(diskPath)
		if err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return err
		}
		if baseUrl == "" {
			return fmt.Errorf("Model file %v not found", diskPath)
		}
		networkUrl := baseUrl + "/" + modelName + ext
		log.Infof("Downloading %v to %v", networkUrl, diskPath)
		if err := downloadFile(networkUrl, diskPath); err != nil {
			return fmt.Errorf("Download of %v failed: %w", networkUrl, err)
		}
	}
	return nil
}

// LoadModel loads an ONNX detection model, trying each device in turn.
// modelName is the base filename, without extension, eg "yolov9-s".
// A device that cannot be attached is logged and skipped, so the CPU is the final fallback.
func LoadModel(log logs.Log, modelDir, modelName string, devices []ortnn.Device) (*ortnn.Detector, error) {
	base := filepath.Join(modelDir, modelName)
	config, err := nn.LoadModelConfig(base + ".json")
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		devices = ortnn.DevicePriority
	}

	var errs []error
	for _, device := range devices {
		detector, err := ortnn.NewDetector(log, config, base+".onnx", device)
		if err == nil {
			return detector, nil
		}
		log.Warnf("Unable to load '%v' on %v: %v", modelName, device.Label(), err)
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("Failed to load model '%v' on any device: %w", modelName, errors.Join(errs...))
}
