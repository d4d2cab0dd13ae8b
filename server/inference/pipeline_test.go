package inference

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/yololab/pkg/imgcodec"
	"github.com/cyclopcam/yololab/pkg/nn"
	"github.com/stretchr/testify/require"
)

func testSettings(classNames []string) *Settings {
	return NewSettings(64, 0.25, 0.45, 300, 0, classNames)
}

func TestPredict(t *testing.T) {
	p := NewPipeline(logs.NewTestingLog(t), newFakeDetector(), nil)
	images := []ImagePayload{
		{ID: "a", Name: "wide.png", Data: makePNG(128, 64)},
	}
	res, err := p.Predict(images, testSettings(nil))
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	r := res.Results[0]
	require.Equal(t, "a", r.ImageID)
	require.Equal(t, "wide.png", r.Filename)
	require.Equal(t, 128, r.Width)
	require.Equal(t, 64, r.Height)
	require.Equal(t, 2, r.NumDetections)

	person := r.Detections[0]
	require.Equal(t, 0, person.ClassID)
	require.Equal(t, "person", person.ClassName)
	require.InDelta(t, 0.9, person.Confidence, 1e-6)
	require.Equal(t, BBox{X1: 24, Y1: 12, X2: 104, Y2: 52, Width: 80, Height: 40}, person.BBox)

	// This box spills outside the image, and is clamped
	car := r.Detections[1]
	require.Equal(t, "car", car.ClassName)
	require.Equal(t, BBox{X1: 100, Y1: 0, X2: 128, Y2: 64, Width: 28, Height: 64}, car.BBox)

	require.True(t, strings.HasPrefix(r.ResultImage, "data:image/jpeg;base64,"))
	jpg, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(r.ResultImage, "data:image/jpeg;base64,"))
	require.NoError(t, err)
	annotated, err := imgcodec.Decode("result.jpg", jpg)
	require.NoError(t, err)
	require.Equal(t, 128, annotated.Width)
	require.GreaterOrEqual(t, res.TotalTimeMS, 0.0)
	require.Equal(t, 2, res.NumDetections())
}

func TestPredictThresholds(t *testing.T) {
	p := NewPipeline(logs.NewTestingLog(t), newFakeDetector(), nil)
	images := []ImagePayload{{ID: "0", Name: "a.png", Data: makePNG(64, 64)}}

	s := testSettings(nil)
	s.MinConfidence = 0.85
	res, err := p.Predict(images, s)
	require.NoError(t, err)
	require.Equal(t, 1, res.Results[0].NumDetections)

	s = testSettings(nil)
	s.MaxBoxes = 1
	res, err = p.Predict(images, s)
	require.NoError(t, err)
	require.Equal(t, 1, res.Results[0].NumDetections)

	det := newFakeDetector()
	det.boxes = nil
	p = NewPipeline(logs.NewTestingLog(t), det, nil)
	res, err = p.Predict(images, testSettings(nil))
	require.NoError(t, err)
	require.Equal(t, 0, res.Results[0].NumDetections)
	require.NotNil(t, res.Results[0].Detections)
}

func TestPredictClassNameOverride(t *testing.T) {
	p := NewPipeline(logs.NewTestingLog(t), newFakeDetector(), nil)
	images := []ImagePayload{{ID: "0", Name: "a.png", Data: makePNG(64, 64)}}
	res, err := p.Predict(images, testSettings([]string{"cat"}))
	require.NoError(t, err)
	require.Equal(t, "cat", res.Results[0].Detections[0].ClassName)
	// Beyond the override list, the model's names are used
	require.Equal(t, "car", res.Results[0].Detections[1].ClassName)
}

func TestPredictErrors(t *testing.T) {
	p := NewPipeline(logs.NewTestingLog(t), newFakeDetector(), nil)
	_, err := p.Predict(nil, testSettings(nil))
	require.ErrorIs(t, err, ErrNoImages)

	_, err = p.Predict([]ImagePayload{
		{ID: "0", Name: "ok.png", Data: makePNG(32, 32)},
		{ID: "1", Name: "notes.txt", Data: []byte("hello")},
	}, testSettings(nil))
	var decodeErr *imgcodec.DecodeError
	require.True(t, errors.As(err, &decodeErr))
	require.Equal(t, "notes.txt", decodeErr.Filename)

	det := newFakeDetector()
	det.forwardErr = errors.New("device lost")
	p = NewPipeline(logs.NewTestingLog(t), det, nil)
	_, err = p.Predict([]ImagePayload{{ID: "0", Name: "ok.png", Data: makePNG(32, 32)}}, testSettings(nil))
	require.ErrorContains(t, err, "device lost")
}

func TestParseDetections(t *testing.T) {
	rows := []nn.Row{
		{7, -5, -5, 50, 50, 0.5},
		{1.9, 10, 10, 5, 5, 0.4}, // inverted box
	}
	dets := parseDetections(rows, 40, 30, nil, []string{"a", "b"})
	require.Equal(t, "class_7", dets[0].ClassName)
	require.Equal(t, BBox{X1: 0, Y1: 0, X2: 40, Y2: 30, Width: 40, Height: 30}, dets[0].BBox)
	require.Equal(t, 1, dets[1].ClassID)
	require.Equal(t, "b", dets[1].ClassName)
	require.Equal(t, float32(0), dets[1].BBox.Width)
	require.Equal(t, float32(0), dets[1].BBox.Height)
}

func TestClassName(t *testing.T) {
	require.Equal(t, "x", ClassName(0, []string{"x"}, []string{"person"}))
	require.Equal(t, "person", ClassName(0, nil, []string{"person"}))
	require.Equal(t, "class_3", ClassName(3, []string{"x"}, []string{"person"}))
	require.Equal(t, "class_-1", ClassName(-1, nil, nil))
}
