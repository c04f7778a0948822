// Package lut fetches the asset-type lookup table from Postgres and hands it
// to the engine as a CSV in the job workdir. The fetch is best effort: a job
// without the lookup still produces maps, just without alternate asset names.
package lut

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/lib/pq"

	"github.com/andrewpyen/arcpy-automated-map-creation/config"
)

// Fetcher pulls one lookup table into a CSV file.
type Fetcher struct {
	enabled bool
	dsn     string
	table   string

	// open stands in for sql.Open in tests.
	open func(driverName, dataSourceName string) (*sql.DB, error)
}

func NewFetcher(cfg config.DatabaseConfig) *Fetcher {
	table := strings.TrimSpace(cfg.LookupTable)
	if table == "" {
		table = "LUTAssetTypes"
	}
	return &Fetcher{
		enabled: cfg.Enabled,
		dsn:     buildDSN(cfg),
		table:   table,
		open:    sql.Open,
	}
}

func (f *Fetcher) Enabled() bool {
	return f.enabled
}

// FetchCSV queries the whole lookup table and writes it, header first, to
// destPath. NULLs become empty cells.
func (f *Fetcher) FetchCSV(ctx context.Context, destPath string) error {
	db, err := f.open("postgres", f.dsn)
	if err != nil {
		return fmt.Errorf("open lookup database: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s", pq.QuoteIdentifier(f.table)))
	if err != nil {
		return fmt.Errorf("query %s: %w", f.table, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("read columns: %w", err)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	w := csv.NewWriter(out)
	if err := w.Write(columns); err != nil {
		out.Close()
		return err
	}

	values := make([]any, len(columns))
	for i := range values {
		values[i] = new(any)
	}
	record := make([]string, len(columns))
	for rows.Next() {
		if err := rows.Scan(values...); err != nil {
			out.Close()
			return fmt.Errorf("scan lookup row: %w", err)
		}
		for i, v := range values {
			record[i] = renderCell(*(v.(*any)))
		}
		if err := w.Write(record); err != nil {
			out.Close()
			return err
		}
	}
	if err := rows.Err(); err != nil {
		out.Close()
		return fmt.Errorf("iterate lookup rows: %w", err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func renderCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(val)
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

func buildDSN(cfg config.DatabaseConfig) string {
	sslMode := strings.TrimSpace(cfg.SSLMode)
	if sslMode == "" {
		sslMode = "require"
	}
	parts := []string{
		fmt.Sprintf("host=%s", cfg.Host),
		fmt.Sprintf("port=%d", cfg.Port),
		fmt.Sprintf("dbname=%s", cfg.Name),
		fmt.Sprintf("sslmode=%s", sslMode),
	}
	if cfg.User != "" {
		parts = append(parts, fmt.Sprintf("user=%s", cfg.User))
	}
	if cfg.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", cfg.Password))
	}
	return strings.Join(parts, " ")
}
