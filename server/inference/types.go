package inference

// ImagePayload is one uploaded image. The bytes are not retained after a run.
type ImagePayload struct {
	ID   string
	Name string
	Data []byte
}

// BBox is a detection box in the pixel space of the source image
type BBox struct {
	X1     float32 `json:"x1"`
	Y1     float32 `json:"y1"`
	X2     float32 `json:"x2"`
	Y2     float32 `json:"y2"`
	Width  float32 `json:"width"`
	Height float32 `json:"height"`
}

type Detection struct {
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
	Confidence float32 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
}

type ImageResult struct {
	ImageID       string      `json:"image_id"`
	Filename      string      `json:"filename"`
	Width         int         `json:"width"`
	Height        int         `json:"height"`
	NumDetections int         `json:"num_detections"`
	Detections    []Detection `json:"detections"`
	ResultImage   string      `json:"result_image"` // JPEG data URI with the detections drawn on
	DurationMS    float64     `json:"duration_ms"`  // Forward pass and NMS
}

type AggregateResult struct {
	Results     []ImageResult `json:"results"`
	TotalTimeMS float64       `json:"total_time_ms"`
}

// NumDetections is the sum over all images
func (a *AggregateResult) NumDetections() int {
	n := 0
	for _, r := range a.Results {
		n += r.NumDetections
	}
	return n
}
