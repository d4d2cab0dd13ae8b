package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/www"
	"github.com/cyclopcam/yololab/server/history"
	"github.com/cyclopcam/yololab/server/inference"
	"github.com/julienschmidt/httprouter"
)

// Uploads larger than this are spooled to temporary files by the multipart reader
const maxMultipartMemory = 32 * 1024 * 1024

// imageMetadata is sent by the browser alongside the uploaded images, in the same order
type imageMetadata struct {
	ID       json.RawMessage `json:"id"`
	ClientID json.RawMessage `json:"clientId"`
	Name     json.RawMessage `json:"name"`
}

type inferenceStatsJSON struct {
	TotalImages     int     `json:"total_images"`
	TotalDetections int     `json:"total_detections"`
	TotalTimeMS     float64 `json:"total_time_ms"`
}

type inferenceResponseJSON struct {
	Results    []inference.ImageResult `json:"results"`
	Device     string                  `json:"device"`
	ClassNames []string                `json:"class_names"`
	Settings   *inference.Settings     `json:"settings"`
	Stats      inferenceStatsJSON      `json:"stats"`
}

func (s *Server) httpInference(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes())
	www.CheckClient(r.ParseMultipartForm(maxMultipartMemory))
	defer r.MultipartForm.RemoveAll()

	modelFiles := r.MultipartForm.File["model"]
	if len(modelFiles) == 0 {
		www.PanicBadRequestf("no model file")
	}
	label := modelFiles[0].Filename
	checkpoint := s.readUpload(modelFiles[0])

	imageFiles := r.MultipartForm.File["images"]
	if len(imageFiles) == 0 {
		www.PanicBadRequestf("no images")
	}
	metadata := parseImageMetadata(r.MultipartForm.Value["image_metadata"])
	images := make([]inference.ImagePayload, len(imageFiles))
	for i, fh := range imageFiles {
		images[i] = inference.ImagePayload{
			ID:   imageID(metadata, i),
			Name: imageName(metadata, i, fh.Filename),
			Data: s.readUpload(fh),
		}
	}

	settings := inference.ParseSettings(url.Values(r.MultipartForm.Value))

	result, err := s.engine.Run(checkpoint, settings, images, label)
	s.check(err)

	numDetections := result.NumDetections()
	device := s.engine.DeviceLabel()
	if err := s.history.AddRun(&history.InferenceRun{
		CreatedAt:  dbh.MakeIntTime(time.Now()),
		Label:      label,
		SHA1:       inference.HashCheckpoint(checkpoint),
		Device:     device,
		Images:     len(result.Results),
		Detections: numDetections,
		TotalMS:    result.TotalTimeMS,
	}); err != nil {
		s.Log.Errorf("Failed to record inference run: %v", err)
	}

	classNames := settings.ClassNames
	if len(classNames) == 0 {
		classNames = s.engine.ClassNames()
	}
	www.SendJSON(w, &inferenceResponseJSON{
		Results:    result.Results,
		Device:     device,
		ClassNames: classNames,
		Settings:   settings,
		Stats: inferenceStatsJSON{
			TotalImages:     len(result.Results),
			TotalDetections: numDetections,
			TotalTimeMS:     result.TotalTimeMS,
		},
	})
}

func (s *Server) readUpload(fh *multipart.FileHeader) []byte {
	f, err := fh.Open()
	s.check(err)
	defer f.Close()
	data, err := io.ReadAll(f)
	s.check(err)
	return data
}

// parseImageMetadata returns nil if the metadata is absent or is not a JSON list.
// Items that are not objects become empty entries, so that indexes still line up with the images.
func parseImageMetadata(values []string) []imageMetadata {
	if len(values) == 0 || strings.TrimSpace(values[0]) == "" {
		return nil
	}
	items := []json.RawMessage{}
	if err := json.Unmarshal([]byte(values[0]), &items); err != nil {
		return nil
	}
	list := make([]imageMetadata, len(items))
	for i, item := range items {
		if !bytes.HasPrefix(bytes.TrimSpace(item), []byte("{")) {
			continue
		}
		if err := json.Unmarshal(item, &list[i]); err != nil {
			list[i] = imageMetadata{}
		}
	}
	return list
}

// imageID is the metadata id, else the metadata clientId, else the index of the image.
// Empty strings, zero, false and null count as absent.
func imageID(metadata []imageMetadata, i int) string {
	if i < len(metadata) {
		if id := jsonScalar(metadata[i].ID); id != "" {
			return id
		}
		if id := jsonScalar(metadata[i].ClientID); id != "" {
			return id
		}
	}
	return strconv.Itoa(i)
}

// imageName is the metadata name, else the upload name, else inference_<i+1>
func imageName(metadata []imageMetadata, i int, uploadName string) string {
	if i < len(metadata) {
		if name := jsonScalar(metadata[i].Name); name != "" {
			return name
		}
	}
	if uploadName != "" {
		return uploadName
	}
	return "inference_" + strconv.Itoa(i+1)
}

// jsonScalar renders a truthy JSON string, number or true as text.
// Falsy values, objects and arrays are empty.
func jsonScalar(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		if f, err := t.Float64(); err == nil && f == 0 {
			return ""
		}
		return t.String()
	case bool:
		if t {
			return "true"
		}
	}
	return ""
}
