package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/cyclopcam/yololab/pkg/kibi"
	"github.com/cyclopcam/yololab/pkg/ortnn"
	"github.com/cyclopcam/yololab/server/inference"
)

// DefaultFilename is the config file that is read when no path is given
const DefaultFilename = "yololab.json"

const DefaultMaxUpload = "512 MB"

type Config struct {
	Listen    string          `json:"listen"`    // HTTP listen address, eg ":8080"
	HistoryDB string          `json:"historyDB"` // Path to the sqlite history database
	Model     ModelConfig     `json:"model"`     // Base detection model
	Archive   *StorageConfig  `json:"archive"`   // If not nil, every export is also stored here
	RateLimit RateLimitConfig `json:"rateLimit"` // Per-client request limits
	MaxUpload string          `json:"maxUpload"` // Maximum size of a request body, eg "512 MB"
}

type ModelConfig struct {
	RuntimeLibrary string   `json:"runtimeLibrary"` // Path of the onnxruntime shared library. Empty for the platform default.
	Dir            string   `json:"dir"`            // Directory holding <name>.onnx and <name>.json
	Name           string   `json:"name"`           // eg "yolov9-s"
	DownloadURL    string   `json:"downloadURL"`    // If not empty, missing model files are fetched from <downloadURL>/<name>.onnx
	Devices        []string `json:"devices"`        // Subset of "cuda", "coreml", "cpu", in order of preference
}

// One of the storage options must be configured (i.e. either 'filesystem' or 'gcs')
type StorageConfig struct {
	Filesystem *StorageConfigFS  `json:"filesystem"`
	GCS        *StorageConfigGCS `json:"gcs"`
	Keep       int               `json:"keep"` // Number of newest archives to retain. 0 keeps them all.
}

type StorageConfigFS struct {
	Root string `json:"root"` // Path to the root of the filesystem
}

type StorageConfigGCS struct {
	Bucket string `json:"bucket"` // Name of the GCS bucket
	Public bool   `json:"public"` // Whether the bucket is public, in which case export history carries direct URLs
}

type RateLimitConfig struct {
	InferencePerMinute int `json:"inferencePerMinute"` // 0 uses the default. Negative disables the limit.
	ExportPerMinute    int `json:"exportPerMinute"`    // 0 uses the default. Negative disables the limit.
}

// Default returns a config with all defaults filled in
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills in every field that was left at its zero value
func (c *Config) ApplyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.HistoryDB == "" {
		c.HistoryDB = "yololab.sqlite"
	}
	if c.Model.Dir == "" {
		c.Model.Dir = "models"
	}
	if c.Model.Name == "" {
		c.Model.Name = "yolov9-s"
	}
	if c.RateLimit.InferencePerMinute == 0 {
		c.RateLimit.InferencePerMinute = 30
	}
	if c.RateLimit.ExportPerMinute == 0 {
		c.RateLimit.ExportPerMinute = 60
	}
	if c.MaxUpload == "" {
		c.MaxUpload = DefaultMaxUpload
	}
}

// Validate checks the values that ApplyDefaults cannot fix
func (c *Config) Validate() error {
	if _, err := c.Devices(); err != nil {
		return err
	}
	if n, err := kibi.Parse(c.MaxUpload); err != nil {
		return fmt.Errorf("maxUpload: %w", err)
	} else if n <= 0 {
		return fmt.Errorf("maxUpload must be positive")
	}
	if c.Archive != nil {
		if c.Archive.Filesystem == nil && c.Archive.GCS == nil {
			return fmt.Errorf("One of the archive storage options must be configured (i.e. either 'filesystem' or 'gcs')")
		}
		if c.Archive.Filesystem != nil && c.Archive.Filesystem.Root == "" {
			return fmt.Errorf("archive.filesystem.root may not be empty")
		}
		if c.Archive.GCS != nil && c.Archive.GCS.Bucket == "" {
			return fmt.Errorf("archive.gcs.bucket may not be empty")
		}
		if c.Archive.Keep < 0 {
			return fmt.Errorf("archive.keep may not be negative")
		}
	}
	return nil
}

// MaxUploadBytes returns the parsed MaxUpload, or the default if it is invalid
func (c *Config) MaxUploadBytes() int64 {
	n, err := kibi.Parse(c.MaxUpload)
	if err != nil || n <= 0 {
		n, _ = kibi.Parse(DefaultMaxUpload)
	}
	return n
}

// Devices parses Model.Devices. An empty list means ortnn.DevicePriority.
func (c *Config) Devices() ([]ortnn.Device, error) {
	devices := []ortnn.Device{}
	for _, d := range c.Model.Devices {
		switch dev := ortnn.Device(strings.ToLower(strings.TrimSpace(d))); dev {
		case ortnn.DeviceCUDA, ortnn.DeviceCoreML, ortnn.DeviceCPU:
			devices = append(devices, dev)
		default:
			return nil, fmt.Errorf("Unknown inference device '%v'. Valid values are cuda, coreml, cpu", d)
		}
	}
	return devices, nil
}

// ModelSource converts the model section into the form that the inference loader wants
func (c *Config) ModelSource() (inference.ModelSource, error) {
	devices, err := c.Devices()
	if err != nil {
		return inference.ModelSource{}, err
	}
	return inference.ModelSource{
		RuntimeLibrary: c.Model.RuntimeLibrary,
		ModelDir:       c.Model.Dir,
		ModelName:      c.Model.Name,
		DownloadURL:    c.Model.DownloadURL,
		Devices:        devices,
	}, nil
}

// Load reads a JSON config file and applies defaults.
// If filename is empty, DefaultFilename is read if it exists, otherwise defaults are used.
func Load(filename string) (*Config, error) {
	explicit := filename != ""
	if !explicit {
		filename = DefaultFilename
	}
	raw, err := os.ReadFile(filename)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("Error loading %v: %w", filename, err)
	}
	cfg := &Config{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("Error loading as JSON %v: %w", filename, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("Invalid config %v: %w", filename, err)
	}
	return cfg, nil
}
