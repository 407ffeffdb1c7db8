package e2e_harness

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
)

// SeedPostgres creates the three core tables and inserts a small category
// tree: Vehicles > Cars, plus definitions and a handful of listing values.
// The returned ids let tests reference the seeded rows.
type SeedResult struct {
	VehiclesID int64
	CarsID     int64
	// Definition ids keyed by field name.
	Definitions map[string]int64
	// Listing ids with known values.
	RedToyota  uuid.UUID
	BlueFord   uuid.UUID
	LegacyUsed uuid.UUID
}

func SeedPostgres(ctx context.Context, db *sql.DB) (*SeedResult, error) {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS categories (
  id BIGSERIAL PRIMARY KEY,
  parent_id BIGINT REFERENCES categories(id),
  name TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS category_attributes (
  id BIGSERIAL PRIMARY KEY,
  category_id BIGINT NOT NULL REFERENCES categories(id),
  field_name TEXT NOT NULL,
  field_label TEXT NOT NULL,
  field_type TEXT NOT NULL,
  field_options JSONB,
  validation_rules JSONB,
  order_index INTEGER NOT NULL DEFAULT 0,
  conditional_display JSONB,
  is_searchable BOOLEAN NOT NULL DEFAULT false,
  is_required BOOLEAN NOT NULL DEFAULT false,
  UNIQUE (category_id, field_name)
);`,
		`CREATE TABLE IF NOT EXISTS ad_attribute_values (
  ad_id UUID NOT NULL,
  attribute_id BIGINT NOT NULL REFERENCES category_attributes(id),
  value TEXT NOT NULL,
  updated_at BIGINT NOT NULL,
  UNIQUE (ad_id, attribute_id)
);`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return nil, fmt.Errorf("create table: %w", err)
		}
	}

	result := &SeedResult{Definitions: make(map[string]int64)}

	if err := db.QueryRowContext(ctx,
		`INSERT INTO categories (parent_id, name) VALUES (NULL, 'Vehicles') RETURNING id`,
	).Scan(&result.VehiclesID); err != nil {
		return nil, fmt.Errorf("insert vehicles category: %w", err)
	}
	if err := db.QueryRowContext(ctx,
		`INSERT INTO categories (parent_id, name) VALUES ($1, 'Cars') RETURNING id`,
		result.VehiclesID,
	).Scan(&result.CarsID); err != nil {
		return nil, fmt.Errorf("insert cars category: %w", err)
	}

	definitions := []struct {
		categoryID int64
		fieldName  string
		fieldLabel string
		fieldType  string
		options    any
		rules      any
		order      int
		condition  any
		searchable bool
		required   bool
	}{
		{result.VehiclesID, "condition", "Condition", "select",
			`[{"value":"new","label":"New"},{"value":"used","label":"Used"}]`, nil, 0, nil, true, true},
		{result.CarsID, "make", "Make", "select",
			`[{"value":"toyota","label":"Toyota"},{"value":"ford","label":"Ford"},{"value":"other","label":"Other"}]`,
			nil, 1, nil, true, true},
		{result.CarsID, "make_other", "Other make", "text",
			nil, `{"minLength":2,"maxLength":40}`, 2,
			`{"depends_on":"make","operator":"equals","value":"other"}`, false, false},
		{result.CarsID, "color", "Color", "select",
			`[{"value":"red","label":"Red"},{"value":"blue","label":"Blue"}]`, nil, 3, nil, true, false},
		{result.CarsID, "features", "Features", "multiselect",
			`[{"value":"ac","label":"Air conditioning"},{"value":"sunroof","label":"Sunroof"}]`,
			nil, 4, nil, true, false},
	}
	for _, d := range definitions {
		var id int64
		if err := db.QueryRowContext(ctx, `
INSERT INTO category_attributes (category_id, field_name, field_label, field_type, field_options, validation_rules, order_index, conditional_display, is_searchable, is_required)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id
`, d.categoryID, d.fieldName, d.fieldLabel, d.fieldType, d.options, d.rules, d.order, d.condition, d.searchable, d.required).Scan(&id); err != nil {
			return nil, fmt.Errorf("insert definition %s: %w", d.fieldName, err)
		}
		result.Definitions[d.fieldName] = id
	}

	result.RedToyota = uuid.Must(uuid.NewV7())
	result.BlueFord = uuid.Must(uuid.NewV7())
	result.LegacyUsed = uuid.Must(uuid.NewV7())

	now := time.Now().UnixMilli()
	values := []struct {
		adID   uuid.UUID
		field  string
		stored string
	}{
		{result.RedToyota, "condition", `"new"`},
		{result.RedToyota, "make", `"toyota"`},
		{result.RedToyota, "color", `"red"`},
		{result.RedToyota, "features", `["ac","sunroof"]`},
		{result.BlueFord, "condition", `"used"`},
		{result.BlueFord, "make", `"ford"`},
		{result.BlueFord, "color", `"blue"`},
		{result.BlueFord, "features", `["ac"]`},
		// Legacy row: bare scalar instead of canonical JSON.
		{result.LegacyUsed, "condition", `used`},
		{result.LegacyUsed, "make", `"ford"`},
	}
	for _, v := range values {
		if _, err := db.ExecContext(ctx, `
INSERT INTO ad_attribute_values (ad_id, attribute_id, value, updated_at)
VALUES ($1,$2,$3,$4)
`, v.adID, result.Definitions[v.field], v.stored, now); err != nil {
			return nil, fmt.Errorf("insert value %s: %w", v.field, err)
		}
	}
	return result, nil
}

// UploadFileToS3 uploads a local file to an S3-compatible store, creating
// the bucket when it does not exist yet.
func UploadFileToS3(ctx context.Context, endpoint, accessKey, secretKey, bucket, objectName, filePath string) error {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	}
	if endpoint != "" {
		loadOpts = append(loadOpts, config.WithBaseEndpoint(endpoint))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}

	s3Client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	uploader := manager.NewUploader(s3Client)

	in, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open src: %w", err)
	}
	defer in.Close()

	if _, err := s3Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		if _, cerr := s3Client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); cerr != nil {
			var apiErr smithy.APIError
			if errors.As(cerr, &apiErr) {
				code := apiErr.ErrorCode()
				if code != "BucketAlreadyOwnedByYou" && code != "BucketAlreadyExists" {
					return fmt.Errorf("create bucket: %w", cerr)
				}
			} else {
				return fmt.Errorf("create bucket: %w", cerr)
			}
		}
	}

	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(objectName),
		Body:   in,
	})
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}
	return nil
}
