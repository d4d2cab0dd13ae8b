// Package server exposes the inference engine and the dataset exporter over HTTP
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/yololab/server/config"
	"github.com/cyclopcam/yololab/server/history"
	"github.com/cyclopcam/yololab/server/inference"
	"github.com/cyclopcam/yololab/server/storage"
	"github.com/julienschmidt/httprouter"
)

type Server struct {
	Log              logs.Log
	ShutdownComplete chan error // Receives a value when Shutdown has finished

	config     *config.Config
	engine     *inference.Engine
	history    *history.HistoryDB
	archives   *storage.Archives // nil if archiving is disabled
	signalIn   chan os.Signal
	httpServer *http.Server
	httpRouter *httprouter.Router
}

// NewServer opens the history database and archive storage, and creates the inference engine.
// The engine is not bootstrapped here. That happens on the first inference request, or when
// the caller invokes Warmup.
func NewServer(log logs.Log, cfg *config.Config, load inference.Loader) (*Server, error) {
	db, err := history.Open(log, cfg.HistoryDB)
	if err != nil {
		return nil, err
	}

	var archives *storage.Archives
	if cfg.Archive != nil {
		var blobs storage.Blobs
		if cfg.Archive.GCS != nil {
			blobs, err = storage.NewBucket(context.Background(), cfg.Archive.GCS.Bucket, cfg.Archive.GCS.Public)
		} else if cfg.Archive.Filesystem != nil {
			blobs, err = storage.NewDirectory(cfg.Archive.Filesystem.Root)
		} else {
			err = fmt.Errorf("One of the archive storage options must be configured (i.e. either 'filesystem' or 'gcs')")
		}
		if err != nil {
			db.Close()
			return nil, err
		}
		archives = storage.NewArchives(log, blobs, cfg.Archive.Keep)
	}

	s := &Server{
		Log:              log,
		ShutdownComplete: make(chan error, 1),
		config:           cfg,
		engine:           inference.NewEngine(log, load),
		history:          db,
		archives:         archives,
	}
	s.setupHttpRoutes()
	return s, nil
}

// Warmup bootstraps the inference engine, so that the first request doesn't pay for it.
// A failure is logged, and the next request will try again.
func (s *Server) Warmup() {
	if err := s.engine.EnsureReady(); err != nil {
		s.Log.Warnf("Inference engine is not ready: %v", err)
	} else {
		s.Log.Infof("Inference engine ready on %v", s.engine.DeviceLabel())
	}
}

// ListenHTTP blocks until the server is shut down. Address example: ":8080"
func (s *Server) ListenHTTP(addr string) error {
	s.Log.Infof("Listening on %v", addr)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.httpRouter,
	}
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) ListenForKillSignals() {
	s.Log.Infof("ListenForKillSignals starting")
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-s.signalIn
		if ok {
			s.Log.Infof("Received OS signal '%v'. ListenForKillSignals will exit after shutdown", sig.String())
			s.Shutdown()
		} else {
			// Shutdown() was called by something other than ourselves, and it closed signalIn
			s.Log.Infof("signalIn closed. ListenForKillSignals will exit now")
		}
	}()
}

func (s *Server) Shutdown() {
	s.Log.Infof("Shutdown")
	if s.signalIn != nil {
		signal.Stop(s.signalIn)
		close(s.signalIn)
	}
	if s.httpServer != nil {
		s.Log.Infof("Closing HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.Log.Warnf("HTTP server shutdown error: %v", err)
		}
	}
	s.engine.Close()
	s.history.Close()
	s.Log.Infof("Shutdown complete")
	s.ShutdownComplete <- nil
}
