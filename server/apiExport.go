package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/www"
	"github.com/cyclopcam/yololab/pkg/kibi"
	"github.com/cyclopcam/yololab/server/dataset"
	"github.com/cyclopcam/yololab/server/history"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) httpExportTrain(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.export(w, r, "train")
}

func (s *Server) httpExportVal(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.export(w, r, "val")
}

func (s *Server) httpExport(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.export(w, r, params.ByName("dataset"))
}

func (s *Server) export(w http.ResponseWriter, r *http.Request, datasetName string) {
	req := dataset.ExportRequest{}
	www.ReadJSON(w, r, &req, s.config.MaxUploadBytes())

	archive, err := dataset.Export(datasetName, req.Classes, req.Images)
	s.check(err)

	now := time.Now()
	record := &history.DatasetExport{
		CreatedAt:    dbh.MakeIntTime(now),
		Folder:       archive.Folder,
		Images:       archive.Images,
		Labels:       archive.Labels,
		ArchiveBytes: int64(len(archive.Data)),
	}
	s.Log.Infof("Exported %v: %v images, %v labels, %v", archive.Filename, archive.Images, archive.Labels, kibi.Bytes(int64(len(archive.Data))))
	if s.archives != nil {
		if name, err := s.archives.Save(r.Context(), archive.Folder, archive.Data, now); err != nil {
			s.Log.Errorf("%v", err)
		} else {
			record.ArchivePath = name
			if url, err := s.archives.URL(name); err == nil {
				s.Log.Infof("Archive available at %v", url)
			}
		}
	}
	if err := s.history.AddExport(record); err != nil {
		s.Log.Errorf("Failed to record dataset export: %v", err)
	}
	if record.ArchivePath != "" {
		s.pruneArchives(r.Context())
	}

	w.Header().Set("Content-Length", strconv.Itoa(len(archive.Data)))
	www.SendFileDownload(w, archive.Filename, "application/zip", archive.Data)
}

// pruneArchives deletes archives beyond the retention count, and forgets them in the history
func (s *Server) pruneArchives(ctx context.Context) {
	exports, err := s.history.ArchivedExports()
	if err != nil {
		s.Log.Errorf("Failed to list archived exports: %v", err)
		return
	}
	names := make([]string, len(exports))
	for i, e := range exports {
		names[i] = e.ArchivePath
	}
	gone := s.archives.Prune(ctx, names)
	if err := s.history.ClearArchivePaths(gone); err != nil {
		s.Log.Errorf("Failed to record deleted archives: %v", err)
	}
}
