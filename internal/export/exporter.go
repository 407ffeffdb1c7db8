// Package export produces search-engine snapshots of attribute values.
// DuckDB reads the Postgres tables through postgres_scan, pivots the value
// rows into parquet, and the snapshot is optionally promoted to S3.
package export

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"go.uber.org/zap"

	"github.com/openlistings/facet"
)

// DuckExporter holds the DuckDB connection used to build snapshots.
type DuckExporter struct {
	DB     *sql.DB
	Logger *zap.Logger
}

// NewDuckExporter opens a DuckDB connection and configures pragmas and
// extensions. S3 credentials are only applied when the snapshot destination
// is an s3:// path.
func NewDuckExporter(ctx context.Context, cfg facet.ExportConfig, s3AccessKey, s3Secret string, logger *zap.Logger) (*DuckExporter, error) {
	db, err := sql.Open("duckdb", cfg.DuckDBPath)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pragmas := []string{
		fmt.Sprintf("PRAGMA memory_limit='%dMB';", cfg.DuckDBMemoryMB),
		fmt.Sprintf("PRAGMA threads=%d;", cfg.DuckDBThreads),
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx2, p); err != nil {
			logger.Sugar().Warnw("duckdb pragma failed", "pragma", p, "err", err)
		}
	}

	exts := []string{"httpfs", "parquet", "postgres_scanner"}
	for _, e := range exts {
		if _, err := db.ExecContext(ctx2, "INSTALL "+e+";"); err != nil {
			logger.Sugar().Warnw("duckdb install extension failed", "ext", e, "err", err)
		} else {
			if _, err := db.ExecContext(ctx2, "LOAD "+e+";"); err != nil {
				logger.Sugar().Warnw("duckdb load extension failed", "ext", e, "err", err)
			}
		}
	}

	if s3AccessKey != "" {
		if _, err := db.ExecContext(ctx2, fmt.Sprintf("SET s3_access_key_id='%s';", s3AccessKey)); err != nil {
			logger.Sugar().Warnw("duckdb set s3_access_key_id failed", "err", err)
		}
	}
	if s3Secret != "" {
		if _, err := db.ExecContext(ctx2, fmt.Sprintf("SET s3_secret_access_key='%s';", s3Secret)); err != nil {
			logger.Sugar().Warnw("duckdb set s3_secret_access_key failed", "err", err)
		}
	}
	if cfg.S3Region != "" {
		if _, err := db.ExecContext(ctx2, fmt.Sprintf("SET s3_region='%s';", cfg.S3Region)); err != nil {
			logger.Sugar().Warnw("duckdb set s3_region failed", "err", err)
		}
	}
	if cfg.S3Endpoint != "" {
		ep := strings.TrimPrefix(cfg.S3Endpoint, "http://")
		if _, err := db.ExecContext(ctx2, fmt.Sprintf("SET s3_endpoint='%s';", ep)); err != nil {
			logger.Sugar().Warnw("duckdb set s3_endpoint failed", "err", err)
		}
		if _, err := db.ExecContext(ctx2, "SET s3_use_ssl=false;"); err != nil {
			logger.Sugar().Warnw("duckdb set s3_use_ssl failed", "err", err)
		}
		if _, err := db.ExecContext(ctx2, "SET s3_url_style='path';"); err != nil {
			logger.Sugar().Warnw("duckdb set s3_url_style failed", "err", err)
		}
	}

	return &DuckExporter{DB: db, Logger: logger}, nil
}

// SnapshotQuery renders the COPY statement for one category: every stored
// value of the category's listings, joined with its definition so the
// parquet carries field names instead of attribute ids.
func SnapshotQuery(pgConnStr string, tables facet.TableNames, categoryID int64, snapshotTS int64, destPath string) string {
	pgEsc := strings.ReplaceAll(pgConnStr, "'", "''")
	destEsc := strings.ReplaceAll(destPath, "'", "''")

	return fmt.Sprintf(`COPY (
SELECT
  v.ad_id AS ad_id,
  d.field_name AS field_name,
  d.field_type AS field_type,
  CAST(v.value AS VARCHAR) AS value,
  v.updated_at AS updated_at,
  %d AS snapshot_ts
FROM postgres_scan('%s', 'public', '%s') v
JOIN postgres_scan('%s', 'public', '%s') d
  ON v.attribute_id = d.id
WHERE v.updated_at <= %d
  AND d.category_id = %d
  AND d.is_searchable = true
ORDER BY v.ad_id, d.order_index, d.id
) TO '%s' (FORMAT PARQUET, COMPRESSION 'ZSTD');
`, snapshotTS, pgEsc, tables.AttributeValues, pgEsc, tables.Definitions, snapshotTS, categoryID, destEsc)
}

// ExportCategorySnapshot runs the COPY for one category to destPath, which
// can be a local file or an s3:// URL.
func (e *DuckExporter) ExportCategorySnapshot(ctx context.Context, pgConnStr string, tables facet.TableNames, categoryID int64, snapshotTS int64, destPath string) error {
	query := SnapshotQuery(pgConnStr, tables, categoryID, snapshotTS, destPath)

	e.Logger.Sugar().Infow("duckdb snapshot export",
		"category_id", categoryID, "dest", destPath, "snapshot_ts", snapshotTS)
	ctx2, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()
	if _, err := e.DB.ExecContext(ctx2, query); err != nil {
		return fmt.Errorf("duckdb copy exec: %w", err)
	}
	return nil
}

// SnapshotFileName builds the per-category parquet name under the output
// directory.
func SnapshotFileName(outputDir string, categoryID int64, snapshotTS int64) string {
	return filepath.Join(outputDir, fmt.Sprintf("category_%d_%d.parquet", categoryID, snapshotTS))
}
