// Package db opens the DuckDB database backing sql layers.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/rs/zerolog"
)

// Config holds database configuration.
type Config struct {
	DataDir string
	DBName  string
	// Extensions are installed and loaded after opening. Failures are logged.
	Extensions []string
}

// DefaultExtensions are the DuckDB extensions sql layers usually need.
var DefaultExtensions = []string{"spatial", "parquet"}

// Open opens (creating if needed) <DataDir>/duckdb/<DBName>.duckdb.
// An empty DataDir opens an in-memory database.
func Open(cfg Config, log zerolog.Logger) (*sql.DB, error) {
	dsn := ""
	if cfg.DataDir != "" {
		duckdbDir := filepath.Join(cfg.DataDir, "duckdb")
		if err := os.MkdirAll(duckdbDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create duckdb directory: %w", err)
		}
		name := cfg.DBName
		if name == "" {
			name = "gridmap"
		}
		dsn = filepath.Join(duckdbDir, name+".duckdb")
	}

	conn, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening duckdb: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening duckdb: %w", err)
	}

	for _, ext := range cfg.Extensions {
		if _, err := conn.Exec(fmt.Sprintf("INSTALL %s; LOAD %s;", ext, ext)); err != nil {
			log.Warn().Err(err).Str("extension", ext).Msg("duckdb extension not loaded")
		}
	}
	return conn, nil
}
