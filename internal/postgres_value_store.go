package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/openlistings/facet"
	"go.uber.org/zap"
)

type valuePool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresValueStore persists validated attribute values, one row per
// (ad_id, attribute_id), with the value serialized as canonical JSON text.
type PostgresValueStore struct {
	pool      valuePool
	schema    facet.SchemaStore
	validator *Validator
	tables    facet.TableNames
	now       func() time.Time
}

// NewPostgresValueStore creates a value store that validates each incoming
// value against its definition before writing.
func NewPostgresValueStore(pool valuePool, schema facet.SchemaStore, tables facet.TableNames) *PostgresValueStore {
	return &PostgresValueStore{
		pool:      pool,
		schema:    schema,
		validator: NewValidator(),
		tables:    tables,
		now:       time.Now,
	}
}

func (s *PostgresValueStore) Upsert(ctx context.Context, adID uuid.UUID, attributeID int64, raw any) error {
	def, err := s.schema.Get(ctx, attributeID)
	if err != nil {
		return err
	}

	value, verr := s.validator.Validate(def, raw)
	if verr != nil {
		return verr
	}
	return s.write(ctx, adID, attributeID, value)
}

func (s *PostgresValueStore) write(ctx context.Context, adID uuid.UUID, attributeID int64, value facet.Value) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (ad_id, attribute_id, value, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (ad_id, attribute_id)
			DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		sanitizeIdentifier(s.tables.AttributeValues),
	)
	if _, err := s.pool.Exec(ctx, query, adID, attributeID, value.Serialized(), s.now().UnixMilli()); err != nil {
		return facet.NewStorageError("upsert attribute value", err)
	}

	zap.S().Debugw("upserted attribute value", "ad_id", adID, "attribute_id", attributeID)
	return nil
}

// BulkUpsert applies a listing's attribute payload against the category's
// effective definitions. Visibility is evaluated over the submitted entries
// merged on top of the listing's stored values, so a partial edit sees the
// same form state as the user. Entries for hidden fields are rejected, every
// value is validated, and required visible fields with neither a stored nor
// a submitted value are reported. Valid entries are written even when other
// entries fail; the caller inspects BulkResult for the per-field outcome.
func (s *PostgresValueStore) BulkUpsert(ctx context.Context, adID uuid.UUID, categoryID int64, entries []facet.ValueEntry) (*facet.BulkResult, error) {
	defs, err := s.schema.ListEffectiveByCategory(ctx, categoryID)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*facet.AttributeDefinition, len(defs))
	for i := range defs {
		byID[defs[i].ID] = &defs[i]
	}

	stored, err := s.GetByAd(ctx, adID)
	if err != nil {
		return nil, err
	}

	currentValues := make(map[string]any, len(stored)+len(entries))
	storedFields := make(map[string]bool, len(stored))
	for _, attr := range stored {
		if _, ok := byID[attr.AttributeID]; ok {
			currentValues[attr.FieldName] = attr.Value.Native()
			storedFields[attr.FieldName] = true
		}
	}
	for _, entry := range entries {
		if def, ok := byID[entry.AttributeID]; ok {
			currentValues[def.FieldName] = entry.Value
		}
	}
	visible := facet.Visible(defs, currentValues)

	result := &facet.BulkResult{Errors: facet.NewValidationErrors()}
	provided := make(map[string]bool, len(entries))

	for _, entry := range entries {
		def, ok := byID[entry.AttributeID]
		if !ok {
			result.Errors.Add(facet.NewDefinitionNotFoundError(entry.AttributeID))
			continue
		}
		provided[def.FieldName] = true

		if !visible[def.FieldName] {
			result.Errors.Add(facet.NewUnexpectedFieldError(def.FieldName))
			continue
		}

		value, verr := s.validator.Validate(def, entry.Value)
		if verr != nil {
			result.Errors.Add(verr)
			continue
		}
		if err := s.write(ctx, adID, entry.AttributeID, value); err != nil {
			return nil, err
		}
		result.Applied++
	}

	for _, def := range defs {
		if def.IsRequired && visible[def.FieldName] && !provided[def.FieldName] && !storedFields[def.FieldName] {
			result.Errors.Add(facet.NewRequiredFieldMissingError(def.FieldName))
		}
	}

	zap.S().Debugw("bulk upsert finished",
		"ad_id", adID, "category_id", categoryID,
		"applied", result.Applied, "failed", len(result.Errors.Errors))
	return result, nil
}

// GetByAd returns the ad's stored values joined with their definitions,
// ordered the way the category displays them.
func (s *PostgresValueStore) GetByAd(ctx context.Context, adID uuid.UUID) ([]facet.AdAttribute, error) {
	query := fmt.Sprintf(
		`SELECT v.attribute_id, v.value, v.updated_at, d.field_name, d.field_label, d.field_type, d.order_index
			FROM %s v
			JOIN %s d ON d.id = v.attribute_id
			WHERE v.ad_id = $1
			ORDER BY d.order_index, d.id`,
		sanitizeIdentifier(s.tables.AttributeValues),
		sanitizeIdentifier(s.tables.Definitions),
	)

	rows, err := s.pool.Query(ctx, query, adID)
	if err != nil {
		return nil, facet.NewStorageError("query ad attribute values", err)
	}
	defer rows.Close()

	attrs := make([]facet.AdAttribute, 0)
	for rows.Next() {
		var (
			attr      facet.AdAttribute
			stored    string
			fieldType string
		)
		if err := rows.Scan(&attr.AttributeID, &stored, &attr.UpdatedAt,
			&attr.FieldName, &attr.FieldLabel, &fieldType, &attr.OrderIndex); err != nil {
			return nil, facet.NewStorageError("scan ad attribute value", err)
		}
		attr.AdID = adID
		attr.FieldType = facet.FieldType(fieldType)
		attr.Value = facet.ParseStoredValue(stored)
		attrs = append(attrs, attr)
	}
	if err := rows.Err(); err != nil {
		return nil, facet.NewStorageError("iterate ad attribute values", err)
	}
	return attrs, nil
}

// Delete removes one value. An absent pair is not an error.
func (s *PostgresValueStore) Delete(ctx context.Context, adID uuid.UUID, attributeID int64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE ad_id = $1 AND attribute_id = $2",
		sanitizeIdentifier(s.tables.AttributeValues))
	if _, err := s.pool.Exec(ctx, query, adID, attributeID); err != nil {
		return facet.NewStorageError("delete attribute value", err)
	}
	return nil
}

func (s *PostgresValueStore) DeleteAllForAd(ctx context.Context, adID uuid.UUID) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE ad_id = $1",
		sanitizeIdentifier(s.tables.AttributeValues))
	tag, err := s.pool.Exec(ctx, query, adID)
	if err != nil {
		return facet.NewStorageError("delete ad attribute values", err)
	}
	zap.S().Debugw("cleared ad attribute values", "ad_id", adID, "rows", tag.RowsAffected())
	return nil
}
