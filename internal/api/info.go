package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

type InfoHandler struct {
	dataDir string
	layers  int
	dbOK    bool
}

func NewInfoHandler(dataDir string, layers int, dbOK bool) *InfoHandler {
	return &InfoHandler{dataDir: dataDir, layers: layers, dbOK: dbOK}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name     string   `json:"name" doc:"Service name"`
	Version  string   `json:"version" doc:"Service version"`
	DataDir  string   `json:"data_dir" doc:"Data directory path"`
	Layers   int      `json:"layers" doc:"Number of registered layers"`
	DB       bool     `json:"db" doc:"Whether DuckDB is available for sql layers"`
	Features []string `json:"features" doc:"Available loader kinds"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	features := []string{"json", "geojson", "pmtiles"}
	if h.dbOK {
		features = append(features, "sql")
	}
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:     "plat-gridmap",
		Version:  "0.1.0",
		DataDir:  h.dataDir,
		Layers:   h.layers,
		DB:       h.dbOK,
		Features: features,
	}}, nil
}
