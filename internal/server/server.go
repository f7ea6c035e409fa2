package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-gridmap/internal/api"
	"github.com/joeblew999/plat-gridmap/internal/api/viewer"
	"github.com/joeblew999/plat-gridmap/internal/db"
	"github.com/joeblew999/plat-gridmap/internal/metrics"
	"github.com/joeblew999/plat-gridmap/internal/service"
	"github.com/joeblew999/plat-gridmap/internal/sources"
	"github.com/joeblew999/plat-gridmap/internal/templates"
)

// Config holds the server configuration.
type Config struct {
	Host     string
	Port     string
	DataDir  string
	Registry string // registry file; defaults to <DataDir>/layers.yaml
	// MaxConcurrentLoads bounds layer loads; 0 is unbounded.
	MaxConcurrentLoads int64
	// DisableDB skips opening DuckDB; sql layers then fail to load.
	DisableDB bool
	// S3 reads layer sources from a bucket when S3.Bucket is set,
	// instead of <DataDir>/sources.
	S3 sources.S3Config
}

// RegistryPath returns the configured registry file path.
func (c Config) RegistryPath() string {
	if c.Registry != "" {
		return c.Registry
	}
	return filepath.Join(c.DataDir, "layers.yaml")
}

// SourcesDir is the local source directory.
func (c Config) SourcesDir() string {
	return filepath.Join(c.DataDir, "sources")
}

// Server is the gridmap HTTP server.
type Server struct {
	config   Config
	log      zerolog.Logger
	mux      *http.ServeMux
	handler  http.Handler
	humaAPI  huma.API
	db       *sql.DB
	sources  sources.Store
	bus      *service.EventBus
	services *api.Services
	metrics  *metrics.Metrics
	renderer *templates.Renderer
}

// New creates a new gridmap server. It fails if the registry file is invalid.
func New(cfg Config, log zerolog.Logger) (*Server, error) {
	registry, err := service.LoadRegistry(cfg.RegistryPath())
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()

	humaConfig := huma.DefaultConfig("plat-gridmap API", "1.0.0")
	humaConfig.Info.Description = "Layer registry, layer state and view state for the grid map viewer."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, api.LinkTransformer())

	humaAPI := humago.New(mux, humaConfig)

	s := &Server{
		config:  cfg,
		log:     log,
		mux:     mux,
		humaAPI: humaAPI,
		bus:     service.NewEventBus(),
		metrics: metrics.New(),
	}

	if !cfg.DisableDB {
		conn, err := db.Open(db.Config{DataDir: cfg.DataDir, DBName: "gridmap", Extensions: db.DefaultExtensions}, log)
		if err != nil {
			log.Warn().Err(err).Msg("duckdb unavailable, sql layers disabled")
		} else {
			s.db = conn
		}
	}

	s.sources = sources.Dir{Root: cfg.SourcesDir()}
	if cfg.S3.Bucket != "" {
		store, err := sources.NewS3(context.Background(), cfg.S3)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.sources = store
	}

	loaders, err := service.BuildLoaderTable(registry, service.LoaderDeps{
		Sources: s.sources,
		DB:      s.db,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	store := service.NewStateStore(registry, s.bus)
	s.services = &api.Services{
		Registry: registry,
		Store:    store,
		Controller: service.NewController(registry, store, loaders, log, s.metrics,
			service.ControllerOptions{MaxConcurrentLoads: cfg.MaxConcurrentLoads}),
		View: service.NewViewState(registry.ViewDefaults(), s.bus),
	}

	renderer, err := templates.New()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("parsing templates: %w", err)
	}
	s.renderer = renderer

	s.routes()
	s.handler = s.metrics.Middleware(mux)

	log.Info().
		Str("registry", cfg.RegistryPath()).
		Int("layers", len(registry.Layers())).
		Bool("db", s.db != nil).
		Str("sources", s.sources.Kind()).
		Msg("server initialised")
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// OpenAPI returns the generated OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Services returns the wired services.
func (s *Server) Services() *api.Services {
	return s.services
}

// Close closes server resources.
func (s *Server) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Server) routes() {
	// REST API routes (OpenAPI-documented JSON endpoints)
	api.RegisterRoutes(s.humaAPI, s.services)
	api.NewInfoHandler(s.config.DataDir, len(s.services.Registry.Layers()), s.db != nil).RegisterRoutes(s.humaAPI)

	// Viewer SSE routes using Huma + Datastar SDK
	layerHandler := viewer.NewLayerHandler(s.services.Controller, s.renderer)
	layerHandler.RegisterRoutes(s.humaAPI)
	viewer.NewEventHandler(layerHandler, s.services.View, s.bus).RegisterRoutes(s.humaAPI)
	viewer.NewViewHandler(s.services.View).RegisterRoutes(s.humaAPI)

	s.mux.Handle("GET /metrics", s.metrics.Handler())

	// PMTiles archives for local tile-backed layers, fetched by the map with range requests
	if dir, ok := s.sources.(sources.Dir); ok {
		s.mux.Handle("/tiles/", http.StripPrefix("/tiles/", s.handleTiles(dir.Root)))
	}
}

func (s *Server) handleTiles(dir string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Range")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if filepath.Ext(r.URL.Path) != ".pmtiles" {
			http.NotFound(w, r)
			return
		}

		http.FileServer(http.Dir(dir)).ServeHTTP(w, r)
	})
}
