package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/openlistings/facet"
	"github.com/openlistings/facet/internal/export"
)

func runExport(args []string) error {
	flags := flag.NewFlagSet("export", flag.ContinueOnError)
	flags.SetOutput(os.Stdout)
	flags.Usage = func() {
		fmt.Println("Usage: facet-tools export [options]")
		fmt.Println("")
		fmt.Println("Options:")
		flags.PrintDefaults()
	}

	opts := dbOptions{}
	registerDBFlags(flags, &opts)

	var (
		outputDir string
		s3Bucket  string
		s3Prefix  string
		s3Region  string
		s3Endpt   string
		duckPath  string
		dryRun    bool
	)
	flags.StringVar(&outputDir, "output-dir", getenvDefault("EXPORT_OUTPUT_DIR", "snapshots"), "local directory for parquet snapshots")
	flags.StringVar(&s3Bucket, "s3-bucket", getenvDefault("EXPORT_S3_BUCKET", ""), "S3 bucket to promote snapshots to (optional)")
	flags.StringVar(&s3Prefix, "s3-prefix", getenvDefault("EXPORT_S3_PREFIX", "facet"), "S3 key prefix")
	flags.StringVar(&s3Region, "s3-region", getenvDefault("EXPORT_S3_REGION", ""), "S3 region")
	flags.StringVar(&s3Endpt, "s3-endpoint", getenvDefault("EXPORT_S3_ENDPOINT", ""), "S3 endpoint override (for MinIO and compatible stores)")
	flags.StringVar(&duckPath, "duckdb-path", getenvDefault("EXPORT_DUCKDB_PATH", ""), "DuckDB database path, empty for in-memory")
	flags.BoolVar(&dryRun, "dry-run", false, "export locally but skip the S3 promote")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	config := facet.DefaultConfig()
	config.Database.Host = opts.host
	config.Database.Port = opts.port
	config.Database.Database = opts.database
	config.Database.Username = opts.user
	config.Database.Password = opts.password
	config.Database.SSLMode = opts.sslMode
	config.Database.TableNames = facet.TableNames{
		Categories:      opts.categories,
		Definitions:     opts.definitions,
		AttributeValues: opts.values,
	}
	config.Export.OutputDir = outputDir
	config.Export.S3Bucket = s3Bucket
	config.Export.S3Prefix = s3Prefix
	config.Export.S3Region = s3Region
	config.Export.S3Endpoint = s3Endpt
	config.Export.DuckDBPath = duckPath

	return export.RunOnce(context.Background(), config, dryRun, zap.L())
}
