package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/openlistings/facet"
	"go.uber.org/zap"
)

const pgUniqueViolation = "23505"

type schemaPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// PostgresSchemaStore persists attribute definitions in a per-category table
// with a uniqueness constraint on (category_id, field_name).
type PostgresSchemaStore struct {
	pool   schemaPool
	tables facet.TableNames
}

// NewPostgresSchemaStore creates a schema store over the given pool.
func NewPostgresSchemaStore(pool schemaPool, tables facet.TableNames) *PostgresSchemaStore {
	return &PostgresSchemaStore{pool: pool, tables: tables}
}

const definitionColumns = "id, category_id, field_name, field_label, field_type, field_options, validation_rules, order_index, conditional_display, is_searchable, is_required"

func (s *PostgresSchemaStore) Create(ctx context.Context, def *facet.AttributeDefinition) (*facet.AttributeDefinition, error) {
	if def == nil {
		return nil, facet.NewFacetError(facet.ErrorTypeConfiguration, facet.ErrCodeInvalidFieldType, "definition cannot be nil")
	}
	if err := s.validateDefinition(ctx, def, 0); err != nil {
		return nil, err
	}

	options, rules, condition, err := marshalDefinitionColumns(def)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		`INSERT INTO %s (category_id, field_name, field_label, field_type, field_options, validation_rules, order_index, conditional_display, is_searchable, is_required)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id`,
		sanitizeIdentifier(s.tables.Definitions),
	)

	created := *def
	row := s.pool.QueryRow(ctx, query,
		def.CategoryID, def.FieldName, def.FieldLabel, string(def.FieldType),
		options, rules, def.OrderIndex, condition, def.IsSearchable, def.IsRequired,
	)
	if err := row.Scan(&created.ID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, facet.NewDuplicateFieldNameError(def.CategoryID, def.FieldName)
		}
		return nil, facet.NewStorageError("insert attribute definition", err)
	}

	zap.S().Debugw("created attribute definition",
		"id", created.ID, "category_id", created.CategoryID, "field_name", created.FieldName)
	return &created, nil
}

func (s *PostgresSchemaStore) Get(ctx context.Context, id int64) (*facet.AttributeDefinition, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1",
		definitionColumns, sanitizeIdentifier(s.tables.Definitions))

	row := s.pool.QueryRow(ctx, query, id)
	def, err := scanDefinitionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, facet.NewDefinitionNotFoundError(id)
		}
		return nil, facet.NewStorageError("fetch attribute definition", err)
	}
	return def, nil
}

func (s *PostgresSchemaStore) ListByCategory(ctx context.Context, categoryID int64) ([]facet.AttributeDefinition, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE category_id = $1 ORDER BY order_index, id",
		definitionColumns, sanitizeIdentifier(s.tables.Definitions))
	return s.queryDefinitions(ctx, query, categoryID)
}

func (s *PostgresSchemaStore) ListSearchableByCategory(ctx context.Context, categoryID int64) ([]facet.AttributeDefinition, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE category_id = $1 AND is_searchable ORDER BY order_index, id",
		definitionColumns, sanitizeIdentifier(s.tables.Definitions))
	return s.queryDefinitions(ctx, query, categoryID)
}

func (s *PostgresSchemaStore) ListEffectiveByCategory(ctx context.Context, categoryID int64) ([]facet.AttributeDefinition, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM %s
			WHERE category_id = $1
			   OR category_id = (SELECT parent_id FROM %s WHERE id = $1)
			ORDER BY order_index, id`,
		definitionColumns,
		sanitizeIdentifier(s.tables.Definitions),
		sanitizeIdentifier(s.tables.Categories),
	)
	defs, err := s.queryDefinitions(ctx, query, categoryID)
	if err != nil {
		return nil, err
	}
	return mergeEffective(defs, categoryID), nil
}

// mergeEffective drops a parent-category definition when the category itself
// redefines the same field name.
func mergeEffective(defs []facet.AttributeDefinition, categoryID int64) []facet.AttributeDefinition {
	owned := make(map[string]bool)
	for _, def := range defs {
		if def.CategoryID == categoryID {
			owned[def.FieldName] = true
		}
	}

	merged := make([]facet.AttributeDefinition, 0, len(defs))
	for _, def := range defs {
		if def.CategoryID != categoryID && owned[def.FieldName] {
			continue
		}
		merged = append(merged, def)
	}
	return merged
}

func (s *PostgresSchemaStore) Update(ctx context.Context, id int64, patch facet.DefinitionPatch) (*facet.AttributeDefinition, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updated := *current
	if patch.FieldLabel != nil {
		updated.FieldLabel = *patch.FieldLabel
	}
	if patch.FieldType != nil {
		updated.FieldType = *patch.FieldType
	}
	if patch.FieldOptions != nil {
		updated.FieldOptions = *patch.FieldOptions
	}
	if patch.ValidationRules != nil {
		updated.ValidationRules = *patch.ValidationRules
	}
	if patch.OrderIndex != nil {
		updated.OrderIndex = *patch.OrderIndex
	}
	if patch.ConditionalDisplay != nil {
		updated.ConditionalDisplay = patch.ConditionalDisplay
	}
	if patch.ClearConditionalDisplay {
		updated.ConditionalDisplay = nil
	}
	if patch.IsSearchable != nil {
		updated.IsSearchable = *patch.IsSearchable
	}
	if patch.IsRequired != nil {
		updated.IsRequired = *patch.IsRequired
	}

	if err := s.validateDefinition(ctx, &updated, id); err != nil {
		return nil, err
	}

	options, rules, condition, err := marshalDefinitionColumns(&updated)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		`UPDATE %s SET field_label = $1, field_type = $2, field_options = $3, validation_rules = $4,
			order_index = $5, conditional_display = $6, is_searchable = $7, is_required = $8
			WHERE id = $9`,
		sanitizeIdentifier(s.tables.Definitions),
	)
	tag, err := s.pool.Exec(ctx, query,
		updated.FieldLabel, string(updated.FieldType), options, rules,
		updated.OrderIndex, condition, updated.IsSearchable, updated.IsRequired, id,
	)
	if err != nil {
		return nil, facet.NewStorageError("update attribute definition", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, facet.NewDefinitionNotFoundError(id)
	}
	return &updated, nil
}

// Reorder assigns order_index = position for the supplied sequence, inside a
// single transaction. The sequence must cover exactly the category's
// definitions; otherwise no partial reorder is applied.
func (s *PostgresSchemaStore) Reorder(ctx context.Context, categoryID int64, orderedIDs []int64) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return facet.NewTransactionError("begin reorder transaction", err)
	}
	defer tx.Rollback(ctx) // no-op if committed

	query := fmt.Sprintf("SELECT id FROM %s WHERE category_id = $1 FOR UPDATE",
		sanitizeIdentifier(s.tables.Definitions))
	rows, err := tx.Query(ctx, query, categoryID)
	if err != nil {
		return facet.NewStorageError("lock category definitions", err)
	}
	existing := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return facet.NewStorageError("scan definition id", err)
		}
		existing[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return facet.NewStorageError("iterate definition ids", err)
	}

	if len(orderedIDs) != len(existing) {
		return facet.NewFacetError(facet.ErrorTypeConfiguration, facet.ErrCodeInvalidReorder,
			fmt.Sprintf("reorder sequence has %d ids, category %d has %d definitions",
				len(orderedIDs), categoryID, len(existing)))
	}
	seen := make(map[int64]bool, len(orderedIDs))
	for _, id := range orderedIDs {
		if !existing[id] || seen[id] {
			return facet.NewFacetError(facet.ErrorTypeConfiguration, facet.ErrCodeInvalidReorder,
				fmt.Sprintf("id %d is not a distinct definition of category %d", id, categoryID))
		}
		seen[id] = true
	}

	update := fmt.Sprintf("UPDATE %s SET order_index = $1 WHERE id = $2",
		sanitizeIdentifier(s.tables.Definitions))
	for position, id := range orderedIDs {
		if _, err := tx.Exec(ctx, update, position, id); err != nil {
			return facet.NewStorageError("apply reorder position", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return facet.NewTransactionError("commit reorder", err)
	}
	return nil
}

// Delete removes the definition and every stored value referencing it, in
// one transaction. The cascade is irreversible.
func (s *PostgresSchemaStore) Delete(ctx context.Context, id int64) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return facet.NewTransactionError("begin delete transaction", err)
	}
	defer tx.Rollback(ctx) // no-op if committed

	valuesQuery := fmt.Sprintf("DELETE FROM %s WHERE attribute_id = $1",
		sanitizeIdentifier(s.tables.AttributeValues))
	valuesTag, err := tx.Exec(ctx, valuesQuery, id)
	if err != nil {
		return facet.NewStorageError("cascade delete attribute values", err)
	}

	defQuery := fmt.Sprintf("DELETE FROM %s WHERE id = $1",
		sanitizeIdentifier(s.tables.Definitions))
	defTag, err := tx.Exec(ctx, defQuery, id)
	if err != nil {
		return facet.NewStorageError("delete attribute definition", err)
	}
	if defTag.RowsAffected() == 0 {
		return facet.NewDefinitionNotFoundError(id)
	}

	if err := tx.Commit(ctx); err != nil {
		return facet.NewTransactionError("commit definition delete", err)
	}

	zap.S().Infow("deleted attribute definition with value cascade",
		"id", id, "values_deleted", valuesTag.RowsAffected())
	return nil
}

// validateDefinition rejects configuration errors before any write: an
// unrecognized type, an option-typed field without options, and a display
// rule referencing a field absent from the category. selfID excludes the
// definition being updated from the sibling lookup.
func (s *PostgresSchemaStore) validateDefinition(ctx context.Context, def *facet.AttributeDefinition, selfID int64) error {
	if !def.FieldType.Valid() {
		return facet.NewInvalidFieldTypeError(def.FieldType)
	}
	if def.FieldType.HasOptions() && len(def.FieldOptions) == 0 {
		return facet.NewFacetError(facet.ErrorTypeConfiguration, facet.ErrCodeMissingOptions,
			fmt.Sprintf("field type %q requires field_options", def.FieldType)).WithField(def.FieldName)
	}

	rule := def.ConditionalDisplay
	if rule == nil {
		return nil
	}
	if !rule.Operator.Valid() {
		return facet.NewFacetError(facet.ErrorTypeConfiguration, facet.ErrCodeInvalidOperator,
			fmt.Sprintf("unrecognized conditional operator %q", rule.Operator)).WithField(def.FieldName)
	}
	if rule.DependsOn == "" || rule.DependsOn == def.FieldName {
		return facet.NewDanglingConditionError(def.FieldName, rule.DependsOn)
	}

	query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE category_id = $1 AND field_name = $2 AND id <> $3)",
		sanitizeIdentifier(s.tables.Definitions))
	var exists bool
	if err := s.pool.QueryRow(ctx, query, def.CategoryID, rule.DependsOn, selfID).Scan(&exists); err != nil {
		return facet.NewStorageError("resolve conditional display dependency", err)
	}
	if !exists {
		return facet.NewDanglingConditionError(def.FieldName, rule.DependsOn)
	}
	return nil
}

func (s *PostgresSchemaStore) queryDefinitions(ctx context.Context, query string, args ...any) ([]facet.AttributeDefinition, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, facet.NewStorageError("query attribute definitions", err)
	}
	defer rows.Close()

	defs := make([]facet.AttributeDefinition, 0)
	for rows.Next() {
		def, err := scanDefinitionRow(rows)
		if err != nil {
			return nil, facet.NewStorageError("scan attribute definition", err)
		}
		defs = append(defs, *def)
	}
	if err := rows.Err(); err != nil {
		return nil, facet.NewStorageError("iterate attribute definitions", err)
	}
	return defs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinitionRow(row rowScanner) (*facet.AttributeDefinition, error) {
	var (
		def       facet.AttributeDefinition
		fieldType string
		options   []byte
		rules     []byte
		condition []byte
	)
	if err := row.Scan(
		&def.ID, &def.CategoryID, &def.FieldName, &def.FieldLabel, &fieldType,
		&options, &rules, &def.OrderIndex, &condition, &def.IsSearchable, &def.IsRequired,
	); err != nil {
		return nil, err
	}
	def.FieldType = facet.FieldType(fieldType)

	if len(options) > 0 {
		if err := json.Unmarshal(options, &def.FieldOptions); err != nil {
			return nil, fmt.Errorf("decode field_options: %w", err)
		}
	}
	if len(rules) > 0 {
		if err := json.Unmarshal(rules, &def.ValidationRules); err != nil {
			return nil, fmt.Errorf("decode validation_rules: %w", err)
		}
	}
	if len(condition) > 0 {
		var rule facet.ConditionalDisplay
		if err := json.Unmarshal(condition, &rule); err != nil {
			return nil, fmt.Errorf("decode conditional_display: %w", err)
		}
		def.ConditionalDisplay = &rule
	}
	return &def, nil
}

func marshalDefinitionColumns(def *facet.AttributeDefinition) (options, rules, condition []byte, err error) {
	if len(def.FieldOptions) > 0 {
		if options, err = json.Marshal(def.FieldOptions); err != nil {
			return nil, nil, nil, facet.NewStorageError("encode field_options", err)
		}
	}
	if len(def.ValidationRules) > 0 {
		if rules, err = json.Marshal(def.ValidationRules); err != nil {
			return nil, nil, nil, facet.NewStorageError("encode validation_rules", err)
		}
	}
	if def.ConditionalDisplay != nil {
		if condition, err = json.Marshal(def.ConditionalDisplay); err != nil {
			return nil, nil, nil, facet.NewStorageError("encode conditional_display", err)
		}
	}
	return options, rules, condition, nil
}
