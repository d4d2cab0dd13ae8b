package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/cyclopcam/www"
	"github.com/cyclopcam/yololab/server/history"
	"github.com/cyclopcam/yololab/server/storage"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) httpHistoryRuns(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	runs, err := s.history.Runs(www.QueryInt(r, "limit"))
	s.check(err)
	www.SendJSON(w, runs)
}

func (s *Server) httpHistoryExports(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	exports, err := s.history.Exports(www.QueryInt(r, "limit"))
	s.check(err)
	www.SendJSON(w, exports)
}

// httpHistoryExportArchive sends the archived zip of an earlier export
func (s *Server) httpHistoryExportArchive(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id, err := strconv.ParseInt(params.ByName("id"), 10, 64)
	if err != nil {
		www.PanicBadRequestf("Invalid export id '%v'", params.ByName("id"))
	}
	if s.archives == nil {
		panic(www.HTTPError{Code: http.StatusNotFound, Message: "Archiving is disabled"})
	}
	exp, err := s.history.Export(id)
	if errors.Is(err, history.ErrNotFound) {
		panic(www.HTTPError{Code: http.StatusNotFound, Message: "Export not found"})
	}
	s.check(err)
	if exp.ArchivePath == "" {
		panic(www.HTTPError{Code: http.StatusNotFound, Message: "Export has no archive"})
	}
	data, err := s.archives.Read(r.Context(), exp.ArchivePath)
	if errors.Is(err, storage.ErrNotFound) {
		panic(www.HTTPError{Code: http.StatusNotFound, Message: "Archive no longer exists"})
	}
	s.check(err)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	www.SendFileDownload(w, exp.Folder+".zip", "application/zip", data)
}
