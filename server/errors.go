package server

import (
	"errors"
	"net/http"

	"github.com/cyclopcam/www"
	"github.com/cyclopcam/yololab/pkg/imgcodec"
	"github.com/cyclopcam/yololab/server/dataset"
	"github.com/cyclopcam/yololab/server/inference"
)

// classifyError maps our error taxonomy onto an HTTP response.
// Internal errors are logged, and the client only sees a generic message.
func (s *Server) classifyError(err error) www.HTTPError {
	var missing *inference.MissingDependencyError
	var modelLoad *inference.ModelLoadError
	var decode *imgcodec.DecodeError
	var validation *dataset.ValidationError

	switch {
	case errors.As(err, &missing):
		s.Log.Warnf("Service not ready: %v", err)
		return www.HTTPError{Code: http.StatusServiceUnavailable, Message: missing.Error()}
	case errors.As(err, &modelLoad):
		return www.HTTPError{Code: http.StatusBadRequest, Message: modelLoad.Error()}
	case errors.As(err, &decode):
		return www.HTTPError{Code: http.StatusBadRequest, Message: decode.Error()}
	case errors.As(err, &validation):
		return www.HTTPError{Code: http.StatusBadRequest, Message: validation.Error()}
	}
	s.Log.Errorf("Internal error: %v", err)
	return www.HTTPError{Code: http.StatusInternalServerError, Message: "Internal server error"}
}

// check panics with the classified error, for www.Handle to send
func (s *Server) check(err error) {
	if err != nil {
		panic(s.classifyError(err))
	}
}
