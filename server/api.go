package server

import (
	"net/http"
	"time"

	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) setupHttpRoutes() {
	router := httprouter.New()

	unlimited := func(method, route string, handle httprouter.Handle) {
		www.Handle(s.Log, router, method, route, handle)
	}

	// We create a unique rate limiter for each endpoint, so we don't need httprate.KeyByEndpoint.
	// A negative limit disables rate limiting for the endpoint.
	ratelimited := func(method, route string, handle httprouter.Handle, requestLimit int, windowLength time.Duration) {
		if requestLimit < 0 {
			unlimited(method, route, handle)
			return
		}
		limited := httprate.Limit(requestLimit, windowLength, httprate.WithKeyFuncs(httprate.KeyByIP))
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handle(w, r, params)
			})).ServeHTTP(w, r)
		})
	}

	limits := s.config.RateLimit

	unlimited("GET", "/api/ping", s.httpPing)
	unlimited("GET", "/api/status", s.httpStatus)
	ratelimited("POST", "/api/inference", s.httpInference, limits.InferencePerMinute, time.Minute)
	ratelimited("POST", "/api/train/export", s.httpExportTrain, limits.ExportPerMinute, time.Minute)
	ratelimited("POST", "/api/val/export", s.httpExportVal, limits.ExportPerMinute, time.Minute)
	ratelimited("POST", "/api/export/:dataset", s.httpExport, limits.ExportPerMinute, time.Minute)
	unlimited("GET", "/api/history/runs", s.httpHistoryRuns)
	unlimited("GET", "/api/history/exports", s.httpHistoryExports)
	unlimited("GET", "/api/history/exports/:id/archive", s.httpHistoryExportArchive)

	s.httpRouter = router
}

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, map[string]any{
		"time": time.Now().Unix(),
	})
}

type statusJSON struct {
	Ready      bool      `json:"ready"`
	Device     string    `json:"device"`
	ClassNames []string  `json:"classNames"`
	Stats      statsJSON `json:"stats"`
}

type statsJSON struct {
	Runs           int64   `json:"runs"`
	Images         int64   `json:"images"`
	TotalTimeMS    float64 `json:"totalTimeMS"`
	AverageImageMS float64 `json:"averageImageMS"`
}

func (s *Server) httpStatus(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	stats := s.engine.Stats()
	classNames := s.engine.ClassNames()
	if classNames == nil {
		classNames = []string{}
	}
	www.SendJSON(w, &statusJSON{
		Ready:      s.engine.IsReady(),
		Device:     s.engine.DeviceLabel(),
		ClassNames: classNames,
		Stats: statsJSON{
			Runs:           stats.Runs,
			Images:         stats.Images,
			TotalTimeMS:    stats.TotalTimeMS,
			AverageImageMS: stats.AverageImageMS,
		},
	})
}
