package nnload

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func TestDownloadModel(t *testing.T) {
	log := logs.NewTestingLog(t)
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.URL.Path == "/yolov9-s.json" {
			w.Write([]byte(`{"architecture":"yolov9-s"}`))
			return
		}
		w.Write([]byte("graph"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	require.NoError(t, DownloadModel(log, srv.URL, dir, "yolov9-s"))
	require.Equal(t, 2, requests)
	b, err := os.ReadFile(filepath.Join(dir, "yolov9-s.json"))
	require.NoError(t, err)
	require.Contains(t, string(b), "yolov9-s")

	// Files are present, so nothing is fetched
	require.NoError(t, DownloadModel(log, srv.URL, dir, "yolov9-s"))
	require.Equal(t, 2, requests)
}

func TestDownloadModelMissing(t *testing.T) {
	log := logs.NewTestingLog(t)
	require.Error(t, DownloadModel(log, "", t.TempDir(), "nope"))

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	dir := t.TempDir()
	require.Error(t, DownloadModel(log, srv.URL, dir, "nope"))
	_, err := os.Stat(filepath.Join(dir, "nope.onnx"))
	require.True(t, os.IsNotExist(err))
}

func TestLoadModelNoConfig(t *testing.T) {
	_, err := LoadModel(logs.NewTestingLog(t), t.TempDir(), "yolov9-s", nil)
	require.Error(t, err)
}
