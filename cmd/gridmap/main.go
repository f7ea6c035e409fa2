package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-gridmap/internal/logging"
	"github.com/joeblew999/plat-gridmap/internal/server"
	"github.com/joeblew999/plat-gridmap/internal/service"
	"github.com/joeblew999/plat-gridmap/internal/sources"
)

// Options defines all CLI flags and env vars for the gridmap server.
// Flags: --host, --port, --data-dir, --registry, --log-level, --max-loads, --no-db, --s3-*
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, SERVICE_REGISTRY, ...
type Options struct {
	Host     string `doc:"Host to bind to" default:"0.0.0.0"`
	Port     int    `doc:"Port to listen on" short:"p" default:"8087"`
	DataDir  string `doc:"Directory holding sources/ and duckdb/" default:".data"`
	Registry string `doc:"Layer registry file (default <data-dir>/layers.yaml)"`
	LogLevel string `doc:"Log level: trace, debug, info, warn, error" default:"info"`
	MaxLoads int    `doc:"Maximum concurrent layer loads (0 = unbounded)" default:"0"`
	NoDB     bool   `doc:"Do not open DuckDB"`

	S3Bucket    string `doc:"Read layer sources from this S3 bucket instead of <data-dir>/sources"`
	S3Region    string `doc:"S3 region" default:"us-east-1"`
	S3Endpoint  string `doc:"S3-compatible endpoint URL (e.g. MinIO)"`
	S3Prefix    string `doc:"Key prefix for source objects"`
	S3PathStyle bool   `doc:"Use path-style S3 addressing"`
}

func serverConfig(opts *Options) server.Config {
	return server.Config{
		Host:               opts.Host,
		Port:               fmt.Sprintf("%d", opts.Port),
		DataDir:            opts.DataDir,
		Registry:           opts.Registry,
		MaxConcurrentLoads: int64(opts.MaxLoads),
		DisableDB:          opts.NoDB,
		S3: sources.S3Config{
			Bucket:    opts.S3Bucket,
			Region:    opts.S3Region,
			Endpoint:  opts.S3Endpoint,
			Prefix:    opts.S3Prefix,
			PathStyle: opts.S3PathStyle,
		},
	}
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		log := logging.New(opts.LogLevel)
		var srv *server.Server

		hooks.OnStart(func() {
			var err error
			srv, err = server.New(serverConfig(opts), log)
			if err != nil {
				log.Fatal().Err(err).Msg("server setup failed")
			}

			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("plat-gridmap API server starting...\n")
			fmt.Printf("  Server:   %s\n", baseURL)
			fmt.Printf("  Data:     %s\n", opts.DataDir)
			fmt.Printf("  Registry: %s\n", serverConfig(opts).RegistryPath())
			if opts.S3Bucket != "" {
				fmt.Printf("  Sources:  s3://%s/%s\n", opts.S3Bucket, opts.S3Prefix)
			}
			fmt.Println()
			fmt.Printf("  Docs:     %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI:  %s/openapi.json\n", baseURL)
			fmt.Printf("  Metrics:  %s/metrics\n", baseURL)
			fmt.Println()

			if err := http.ListenAndServe(addr, srv); err != nil {
				log.Fatal().Err(err).Msg("server error")
			}
		})

		hooks.OnStop(func() {
			if srv != nil {
				srv.Close()
			}
		})
	})

	cli.Root().Use = "gridmap"
	cli.Root().Short = "Layer state server for grid and geographic map viewers"
	cli.Root().Version = "0.1.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			cfg := serverConfig(opts)
			cfg.DisableDB = true
			srv, err := server.New(cfg, logging.New("error"))
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			defer srv.Close()

			useYAML, _ := cmd.Flags().GetBool("yaml")
			if err := printDoc(srv.OpenAPI(), useYAML); err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling spec: %v\n", err)
				os.Exit(1)
			}
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// layers subcommand: print the flattened registry
	layersCmd := &cobra.Command{
		Use:   "layers",
		Short: "Print the layer registry, flattened in display order",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			reg, err := service.LoadRegistry(serverConfig(opts).RegistryPath())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			asJSON, _ := cmd.Flags().GetBool("json")
			if err := printDoc(listLayers(reg), !asJSON); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}),
	}
	layersCmd.Flags().Bool("json", false, "Output as JSON instead of YAML")
	cli.Root().AddCommand(layersCmd)

	cli.Run()
}

// listedLayer is a registry entry with its owning group spelled out,
// since the registry file only records it by nesting.
type listedLayer struct {
	Group                   string `json:"group" yaml:"group"`
	service.LayerDescriptor `yaml:",inline"`
}

func listLayers(reg *service.Registry) []listedLayer {
	layers := reg.Layers()
	out := make([]listedLayer, 0, len(layers))
	for _, l := range layers {
		out = append(out, listedLayer{Group: l.Group, LayerDescriptor: l})
	}
	return out
}

func printDoc(v any, useYAML bool) error {
	var output []byte
	var err error
	if useYAML {
		output, err = yaml.Marshal(v)
	} else {
		output, err = json.MarshalIndent(v, "", "  ")
	}
	if err != nil {
		return err
	}
	fmt.Println(string(output))
	return nil
}
