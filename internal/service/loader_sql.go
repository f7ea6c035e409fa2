package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"

	"github.com/marcboeker/go-duckdb"
)

// ErrNoDatabase is returned by SQLLoader when no database is configured.
var ErrNoDatabase = errors.New("database not available")

// SQLLoader runs a query against DuckDB and exposes the rows as records.
type SQLLoader struct {
	DB   *sql.DB
	Spec SourceSpec
}

// Load implements Loader.
func (l *SQLLoader) Load(ctx context.Context, layer LayerDescriptor) (Payload, error) {
	if l.DB == nil {
		return Payload{}, ErrNoDatabase
	}
	if l.Spec.Query == "" {
		return Payload{}, fmt.Errorf("layer %q: sql source has no query", layer.ID)
	}

	rows, err := l.DB.QueryContext(ctx, l.Spec.Query)
	if err != nil {
		return Payload{}, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return Payload{}, fmt.Errorf("reading columns: %w", err)
	}

	records := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return Payload{}, fmt.Errorf("scanning row: %w", err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = sqlValue(values[i])
		}
		records = append(records, row)
	}
	if err := rows.Err(); err != nil {
		return Payload{}, err
	}

	dash := summarize(records, l.Spec.ValueField)
	dash.Columns = columns
	return Payload{
		JSONData:          records,
		ProcessedJSONData: records,
		DataTableData:     Table{Columns: columns, Rows: records},
		DashboardData:     dash,
		LayerInfoData:     LayerInfo{File: "duckdb", Kind: SourceSQL, Size: fmt.Sprintf("%d rows", len(records))},
	}, nil
}

// sqlValue converts DuckDB driver values into plain Go numbers so that
// records summarise, transform and encode like decoded JSON.
func sqlValue(v any) any {
	switch n := v.(type) {
	case duckdb.Decimal:
		return n.Float64()
	case *big.Int:
		if n == nil {
			return nil
		}
		f, _ := new(big.Float).SetInt(n).Float64()
		return f
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		if n > 1<<63-1 {
			return float64(n)
		}
		return int64(n)
	case uint:
		return sqlValue(uint64(n))
	}
	return v
}
