package inference

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/cyclopcam/yololab/pkg/nn"
)

const (
	DefaultImgSize    = 640
	DefaultNumWorkers = 4
	MinImgSize        = 32
	MaxImgSize        = 2048
	MaxMaxBoxes       = 2000
	MaxNumWorkers     = 128
)

// Settings controls a single inference run.
// Create it with NewSettings or ParseSettings, which enforce the valid ranges.
type Settings struct {
	ImgSize       int      `json:"img_size"`
	MinConfidence float64  `json:"min_confidence"`
	MinIoU        float64  `json:"min_iou"`
	MaxBoxes      int      `json:"max_bbox"`
	NumWorkers    int      `json:"num_workers"` // Accepted for compatibility. Images are processed sequentially.
	ClassNames    []string `json:"class_names"` // Overrides the model's class names when not empty
}

func DefaultSettings() *Settings {
	return NewSettings(DefaultImgSize, nn.DefaultMinConfidence, nn.DefaultMinIoU, nn.DefaultMaxBoxes, DefaultNumWorkers, nil)
}

// NewSettings clamps every value into its valid range.
// imgSize is additionally rounded down to a multiple of 32.
func NewSettings(imgSize int, minConfidence, minIoU float64, maxBoxes, numWorkers int, classNames []string) *Settings {
	imgSize = clampInt(imgSize, MinImgSize, MaxImgSize)
	imgSize -= imgSize % 32
	if imgSize < MinImgSize {
		imgSize = MinImgSize
	}
	if len(classNames) == 0 {
		classNames = nil
	}
	return &Settings{
		ImgSize:       imgSize,
		MinConfidence: nn.Clamp01(minConfidence),
		MinIoU:        nn.Clamp01(minIoU),
		MaxBoxes:      clampInt(maxBoxes, 1, MaxMaxBoxes),
		NumWorkers:    clampInt(numWorkers, 0, MaxNumWorkers),
		ClassNames:    classNames,
	}
}

// ParseSettings reads settings from form values.
// Values that are missing or not numeric fall back to their defaults.
func ParseSettings(values url.Values) *Settings {
	return NewSettings(
		parseInt(values.Get("img_size"), DefaultImgSize),
		parseFloat(values.Get("min_confidence"), nn.DefaultMinConfidence),
		parseFloat(values.Get("min_iou"), nn.DefaultMinIoU),
		parseInt(values.Get("max_bbox"), nn.DefaultMaxBoxes),
		parseInt(values.Get("num_workers"), DefaultNumWorkers),
		ParseClassNames(values.Get("class_names")),
	)
}

// ParseClassNames accepts either a JSON list, or one name per line.
// Names are trimmed and blank names are dropped. Returns nil if no names remain.
func ParseClassNames(raw string) []string {
	if raw == "" {
		return nil
	}
	var names []string
	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
		if list, ok := parsed.([]any); ok {
			for _, item := range list {
				s, isString := item.(string)
				if !isString {
					s = fmt.Sprint(item)
				}
				if s = strings.TrimSpace(s); s != "" {
					names = append(names, s)
				}
			}
		}
	} else {
		for _, line := range strings.Split(raw, "\n") {
			if s := strings.TrimSpace(line); s != "" {
				names = append(names, s)
			}
		}
	}
	if len(names) == 0 {
		return nil
	}
	return names
}

// NMSConfig converts the thresholds into the form that the post-processor wants
func (s *Settings) NMSConfig() *nn.NMSConfig {
	return &nn.NMSConfig{
		MinConfidence: float32(s.MinConfidence),
		MinIoU:        float32(s.MinIoU),
		MaxBoxes:      s.MaxBoxes,
	}
}

func parseInt(s string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return v
}

func parseFloat(s string, def float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) {
		return def
	}
	return v
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
