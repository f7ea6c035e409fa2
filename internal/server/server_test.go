package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-gridmap/internal/pmtiles"
	"github.com/joeblew999/plat-gridmap/internal/sources"
)

const testRegistry = `
groups:
  - id: demo
    name: Demo
    layers:
      - id: points
        name: Points
        json:
          kind: file
          path: points.json
        transform:
          kind: points
      - id: outline
        name: Outline
        geojson:
          kind: pmtiles
          path: outline.pmtiles
`

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	srcDir := filepath.Join(dir, "sources")
	require.NoError(t, os.MkdirAll(srcDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "layers.yaml"), []byte(testRegistry), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "points.json"), []byte(`[{"lon":1,"lat":2,"name":"a"}]`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "outline.pmtiles"), pmtiles.SerializeHeader(pmtiles.HeaderV3{MaxZoom: 4}), 0644))

	s, err := New(Config{Host: "localhost", Port: "0", DataDir: dir, DisableDB: true}, zerolog.New(io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func serve(s *Server, method, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func TestNew_InvalidRegistry(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "layers.yaml"), []byte("groups: [x"), 0644))

	_, err := New(Config{DataDir: dir, DisableDB: true}, zerolog.New(io.Discard))
	assert.Error(t, err)
}

func TestServer_ToggleLoadsFromSources(t *testing.T) {
	s := newTestServer(t)

	rr := serve(s, http.MethodPost, "/api/v1/layers/points/toggle")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	st := s.Services().Store.Get("points")
	assert.True(t, st.Visible)
	assert.True(t, st.Loaded)
	assert.NotNil(t, st.Payload.DrawData)

	rr = serve(s, http.MethodPost, "/api/v1/layers/outline/toggle")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotNil(t, s.Services().Store.Get("outline").Payload.LayerInfoData)
}

func TestServer_Metrics(t *testing.T) {
	s := newTestServer(t)

	serve(s, http.MethodGet, "/health")
	rr := serve(s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `gridmap_http_requests_total{method="GET",path="GET /health",status="200"} 1`)
}

func TestServer_Tiles(t *testing.T) {
	s := newTestServer(t)

	rr := serve(s, http.MethodGet, "/tiles/outline.pmtiles")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, pmtiles.HeaderV3LenBytes, rr.Body.Len())

	assert.Equal(t, http.StatusNotFound, serve(s, http.MethodGet, "/tiles/layers.yaml").Code)
	assert.Equal(t, http.StatusOK, serve(s, http.MethodOptions, "/tiles/outline.pmtiles").Code)
}

func TestServer_OpenAPI(t *testing.T) {
	s := newTestServer(t)

	paths := s.OpenAPI().Paths
	for _, p := range []string{"/api/v1/layers", "/api/v1/layers/{id}/toggle", "/api/v1/view/map", "/api/v1/viewer/events"} {
		assert.Contains(t, paths, p)
	}
}

func TestServer_S3SourcesDisableLocalTiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "layers.yaml"), []byte(testRegistry), 0644))

	s, err := New(Config{
		DataDir:   dir,
		DisableDB: true,
		S3:        sources.S3Config{Bucket: "layers", Region: "eu-west-1", Endpoint: "http://127.0.0.1:1", PathStyle: true},
	}, zerolog.New(io.Discard))
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, sources.KindS3, s.sources.Kind())
	assert.Equal(t, http.StatusNotFound, serve(s, http.MethodGet, "/tiles/outline.pmtiles").Code)
}
