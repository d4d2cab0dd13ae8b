package inference

import (
	"fmt"
	"math"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/yololab/pkg/imgcodec"
	"github.com/cyclopcam/yololab/pkg/nn"
	"github.com/cyclopcam/yololab/pkg/perfstats"
)

// Pipeline turns images into detections with a loaded detector
type Pipeline struct {
	log      logs.Log
	detector nn.ObjectDetector
	stages   *perfstats.Stages
}

func NewPipeline(log logs.Log, detector nn.ObjectDetector, stages *perfstats.Stages) *Pipeline {
	if stages == nil {
		stages = perfstats.NewStages()
	}
	return &Pipeline{
		log:      log,
		detector: detector,
		stages:   stages,
	}
}

// ClassName resolves a class id, preferring the override list, then the model's taxonomy
func ClassName(classID int, override, taxonomy []string) string {
	if classID >= 0 && classID < len(override) {
		return override[classID]
	}
	if classID >= 0 && classID < len(taxonomy) {
		return taxonomy[classID]
	}
	return fmt.Sprintf("class_%v", classID)
}

// Predict runs detection on every image, in order.
// The first image that fails aborts the whole call.
func (p *Pipeline) Predict(images []ImagePayload, settings *Settings) (*AggregateResult, error) {
	if len(images) == 0 {
		return nil, ErrNoImages
	}
	config := p.detector.Config()
	converter := nn.NewConverter(config, settings.ImgSize)
	nmsConfig := settings.NMSConfig()

	result := &AggregateResult{
		Results: make([]ImageResult, 0, len(images)),
	}
	totalMS := 0.0
	for _, payload := range images {
		var img *cimg.Image
		var err error
		p.stages.Time("decode", func() {
			img, err = imgcodec.Decode(payload.Name, payload.Data)
		})
		if err != nil {
			return nil, err
		}

		var input []float32
		var xform nn.LetterboxTransform
		p.stages.Time("letterbox", func() {
			var boxed *cimg.Image
			boxed, xform = nn.Letterbox(img, settings.ImgSize)
			input = nn.ToCHW(boxed)
		})

		start := time.Now()
		out, err := p.detector.Forward(input, settings.ImgSize)
		if err != nil {
			return nil, fmt.Errorf("Inference failed on %v: %w", payload.Name, err)
		}
		forwardDone := time.Now()
		candidates, err := converter.Decode(out, nmsConfig.MinConfidence)
		if err != nil {
			return nil, fmt.Errorf("Inference failed on %v: %w", payload.Name, err)
		}
		rows := nn.NMS(candidates, nmsConfig, xform)
		elapsed := time.Since(start)
		p.stages.Add("forward", forwardDone.Sub(start))
		p.stages.Add("nms", time.Since(forwardDone))

		detections := parseDetections(rows, img.Width, img.Height, settings.ClassNames, config.Classes)

		var annotated string
		p.stages.Time("annotate", func() {
			annotated, err = imgcodec.EncodeDataURI(drawDetections(img, detections))
		})
		if err != nil {
			return nil, fmt.Errorf("Failed to encode result image for %v: %w", payload.Name, err)
		}

		ms := float64(elapsed.Microseconds()) / 1000
		totalMS += ms
		result.Results = append(result.Results, ImageResult{
			ImageID:       payload.ID,
			Filename:      payload.Name,
			Width:         img.Width,
			Height:        img.Height,
			NumDetections: len(detections),
			Detections:    detections,
			ResultImage:   annotated,
			DurationMS:    round2(ms),
		})
	}
	result.TotalTimeMS = round2(totalMS)
	return result, nil
}

// parseDetections converts NMS rows into detections, clamping the boxes to the image
func parseDetections(rows []nn.Row, width, height int, override, taxonomy []string) []Detection {
	detections := make([]Detection, 0, len(rows))
	for _, row := range rows {
		box := row.Box().Clamp(float32(width), float32(height))
		detections = append(detections, Detection{
			ClassID:    row.Class(),
			ClassName:  ClassName(row.Class(), override, taxonomy),
			Confidence: row.Confidence(),
			BBox: BBox{
				X1:     box.X1,
				Y1:     box.Y1,
				X2:     box.X2,
				Y2:     box.Y2,
				Width:  box.Width(),
				Height: box.Height(),
			},
		})
	}
	return detections
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
