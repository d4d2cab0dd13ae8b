package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValidationError means the annotation payload cannot be exported. The message is
// meant for the person who made the annotations.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ClassDefinition is one class of the annotation project.
// The ID is whatever the annotation client uses (usually a string or a number), and is
// matched exactly against BoundingBoxPercent.ClassID.
type ClassDefinition struct {
	ID    json.RawMessage `json:"id"`
	Label string          `json:"label"`
}

// BoundingBoxPercent is a box whose top-left corner and size are given in percent of the
// image dimensions. The values arrive as JSON numbers or numeric strings.
type BoundingBoxPercent struct {
	ClassID json.RawMessage `json:"classId"`
	X       json.RawMessage `json:"x"`
	Y       json.RawMessage `json:"y"`
	W       json.RawMessage `json:"w"`
	H       json.RawMessage `json:"h"`
}

// AnnotatedImage is an image plus its boxes. Src is a data URL.
type AnnotatedImage struct {
	Name  string               `json:"name"`
	Src   string               `json:"src"`
	Boxes []BoundingBoxPercent `json:"boxes"`
}

// ExportRequest is the JSON body of an export request
type ExportRequest struct {
	Classes []ClassDefinition `json:"classes"`
	Images  []AnnotatedImage  `json:"images"`
}

// classKey turns a raw JSON id into a comparable key
func classKey(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// percentValue parses a box coordinate. Missing values are zero.
func percentValue(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, true
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case bool:
		if t {
			f = 1
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
