package export

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsCreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/openlistings/facet"
)

// RunOnce exports one snapshot per category that has stored values. Each
// snapshot lands in the local output directory; when an S3 bucket is
// configured it is then promoted through a _tmp key so readers never see a
// partial object.
func RunOnce(ctx context.Context, cfg *facet.Config, dryRun bool, logger *zap.Logger) error {
	pgConnStr := postgresConnString(cfg.Database)

	db, err := sql.Open("postgres", pgConnStr)
	if err != nil {
		return fmt.Errorf("open pg: %w", err)
	}
	defer db.Close()

	duck, err := NewDuckExporter(ctx, cfg.Export,
		os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY"), logger)
	if err != nil {
		return fmt.Errorf("new duck exporter: %w", err)
	}
	defer duck.DB.Close()

	categoryIDs, err := categoriesWithValues(ctx, db, cfg.Database.TableNames)
	if err != nil {
		return err
	}
	if len(categoryIDs) == 0 {
		logger.Sugar().Infow("no categories with stored values, nothing to export")
		return nil
	}

	if err := os.MkdirAll(cfg.Export.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	var promoter *s3Promoter
	if cfg.Export.S3Bucket != "" {
		promoter, err = newS3Promoter(ctx, cfg.Export)
		if err != nil {
			return err
		}
	}

	snapshotTS := time.Now().UnixMilli()
	for _, categoryID := range categoryIDs {
		localPath := SnapshotFileName(cfg.Export.OutputDir, categoryID, snapshotTS)
		if err := duck.ExportCategorySnapshot(ctx, pgConnStr, cfg.Database.TableNames, categoryID, snapshotTS, localPath); err != nil {
			logger.Sugar().Errorw("snapshot export failed", "category_id", categoryID, "err", err)
			continue
		}
		if promoter == nil {
			logger.Sugar().Infow("snapshot written", "category_id", categoryID, "path", localPath)
			continue
		}
		if dryRun {
			logger.Sugar().Infow("dry-run: skipping s3 promote", "category_id", categoryID, "path", localPath)
			continue
		}
		finalKey, err := promoter.promote(ctx, localPath, categoryID, snapshotTS)
		if err != nil {
			logger.Sugar().Errorw("s3 promote failed", "category_id", categoryID, "err", err)
			continue
		}
		logger.Sugar().Infow("snapshot promoted", "category_id", categoryID, "s3_key", finalKey)
	}
	return nil
}

func postgresConnString(cfg facet.DatabaseConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database, sslMode)
}

func categoriesWithValues(ctx context.Context, db *sql.DB, tables facet.TableNames) ([]int64, error) {
	query := fmt.Sprintf(
		`SELECT DISTINCT d.category_id FROM %s v JOIN %s d ON v.attribute_id = d.id ORDER BY d.category_id`,
		tables.AttributeValues, tables.Definitions)
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query categories with values: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan category id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type s3Promoter struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

func newS3Promoter(ctx context.Context, cfg facet.ExportConfig) (*s3Promoter, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if cfg.S3Region != "" {
		awsCfg.Region = cfg.S3Region
	}
	if envKey := os.Getenv("AWS_ACCESS_KEY_ID"); envKey != "" {
		awsCfg.Credentials = awsCreds.NewStaticCredentialsProvider(
			os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY"), "")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = &cfg.S3Endpoint
			o.UsePathStyle = true
		}
	})
	return &s3Promoter{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.S3Bucket,
		prefix:   strings.TrimSuffix(cfg.S3Prefix, "/"),
	}, nil
}

// promote uploads the parquet to a _tmp key, server-side copies it to its
// final key, and removes the temporary object.
func (p *s3Promoter) promote(ctx context.Context, localPath string, categoryID int64, snapshotTS int64) (string, error) {
	tmpUUID := uuid.Must(uuid.NewV7()).String()
	tmpKey := p.prefix + fmt.Sprintf("/snapshots/%d/_tmp/%s.parquet", categoryID, tmpUUID)
	finalKey := p.prefix + fmt.Sprintf("/snapshots/%d/%d.parquet", categoryID, snapshotTS)

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	if _, err := p.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &p.bucket,
		Key:    &tmpKey,
		Body:   f,
	}); err != nil {
		return "", fmt.Errorf("upload snapshot: %w", err)
	}

	copySource := p.bucket + "/" + tmpKey
	if _, err := p.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     &p.bucket,
		CopySource: &copySource,
		Key:        &finalKey,
	}); err != nil {
		return "", fmt.Errorf("copy snapshot tmp to final: %w", err)
	}

	if _, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &p.bucket,
		Key:    &tmpKey,
	}); err != nil {
		zap.S().Warnw("failed to delete tmp snapshot object", "key", tmpKey, "err", err)
	}
	return finalKey, nil
}
