package internal

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/openlistings/facet"
	"go.uber.org/zap"
)

type filterPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresFilterCompiler turns a filter request into one SELECT over the
// value table: one ad_id subselect per filtered field, joined with
// INTERSECT so every field must match.
type PostgresFilterCompiler struct {
	pool   filterPool
	tables facet.TableNames
}

// NewPostgresFilterCompiler creates a filter compiler over the given pool.
func NewPostgresFilterCompiler(pool filterPool, tables facet.TableNames) *PostgresFilterCompiler {
	return &PostgresFilterCompiler{pool: pool, tables: tables}
}

// Compile resolves every filtered field name against the searchable
// definitions of the category, its parent, and its direct children, then
// emits one subselect per field. Field names are processed in sorted order
// so the same request always compiles to the same SQL. An empty request
// compiles to an empty clause.
func (c *PostgresFilterCompiler) Compile(ctx context.Context, categoryID int64, filters facet.FilterRequest) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}

	names := make([]string, 0, len(filters))
	for name := range filters {
		names = append(names, name)
	}
	sort.Strings(names)

	resolved, err := c.resolveFields(ctx, categoryID, names)
	if err != nil {
		return "", nil, err
	}

	var (
		clauses    []string
		args       []any
		paramIndex int
	)
	for _, name := range names {
		attributeIDs := resolved[name]
		if len(attributeIDs) == 0 {
			return "", nil, facet.NewUnknownAttributeError(name)
		}

		clause, clauseArgs, err := c.fieldClause(attributeIDs, filters[name], &paramIndex)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, clause)
		args = append(args, clauseArgs...)
	}

	sql := strings.Join(clauses, " INTERSECT ")
	zap.S().Debugw("compiled attribute filter",
		"category_id", categoryID, "fields", len(clauses), "args", len(args))
	return sql, args, nil
}

// fieldClause builds one ad_id subselect. A stored value matches when it
// equals the canonical JSON serialization, equals the legacy raw scalar
// form, or is a JSON array containing the canonical serialization.
func (c *PostgresFilterCompiler) fieldClause(attributeIDs []int64, raw any, paramIndex *int) (string, []any, error) {
	// A list filter narrows by its first element only.
	if list, ok := raw.([]any); ok {
		if len(list) == 0 {
			return "", nil, facet.NewInvalidFilterError("filter list cannot be empty")
		}
		raw = list[0]
	}
	if list, ok := raw.([]string); ok {
		if len(list) == 0 {
			return "", nil, facet.NewInvalidFilterError("filter list cannot be empty")
		}
		raw = list[0]
	}

	value, err := facet.ValueFrom(raw)
	if err != nil {
		return "", nil, facet.NewInvalidFilterError(fmt.Sprintf("unsupported filter value: %v", err))
	}
	if value.Kind == facet.ValueKindArray {
		return "", nil, facet.NewInvalidFilterError("nested list filter values are not supported")
	}

	var args []any

	*paramIndex++
	idsPlaceholder := fmt.Sprintf("$%d", *paramIndex)
	args = append(args, attributeIDs)

	*paramIndex++
	canonicalPlaceholder := fmt.Sprintf("$%d", *paramIndex)
	args = append(args, value.Serialized())

	*paramIndex++
	legacyPlaceholder := fmt.Sprintf("$%d", *paramIndex)
	legacy, _ := value.LegacyRaw()
	args = append(args, legacy)

	sql := fmt.Sprintf(
		"(SELECT ad_id FROM %s WHERE attribute_id = ANY(%s) AND (value = %s OR value = %s OR (left(value, 1) = '[' AND value::jsonb @> %s::jsonb)))",
		sanitizeIdentifier(c.tables.AttributeValues),
		idsPlaceholder,
		canonicalPlaceholder,
		legacyPlaceholder,
		canonicalPlaceholder,
	)
	return sql, args, nil
}

// resolveFields maps each requested field name to the searchable definition
// ids visible from the category: its own, its parent's, and those of its
// direct children. A name can resolve to several ids when siblings redefine
// the same field.
func (c *PostgresFilterCompiler) resolveFields(ctx context.Context, categoryID int64, names []string) (map[string][]int64, error) {
	query := fmt.Sprintf(
		`SELECT d.field_name, d.id
			FROM %s d
			WHERE d.is_searchable
			  AND d.field_name = ANY($1)
			  AND d.category_id IN (
				SELECT $2::bigint
				UNION
				SELECT c.id FROM %s c WHERE c.parent_id = $2
				UNION
				SELECT c.parent_id FROM %s c WHERE c.id = $2 AND c.parent_id IS NOT NULL
			  )
			ORDER BY d.field_name, d.id`,
		sanitizeIdentifier(c.tables.Definitions),
		sanitizeIdentifier(c.tables.Categories),
		sanitizeIdentifier(c.tables.Categories),
	)

	rows, err := c.pool.Query(ctx, query, names, categoryID)
	if err != nil {
		return nil, facet.NewStorageError("resolve filter fields", err)
	}
	defer rows.Close()

	resolved := make(map[string][]int64, len(names))
	for rows.Next() {
		var (
			name string
			id   int64
		)
		if err := rows.Scan(&name, &id); err != nil {
			return nil, facet.NewStorageError("scan filter field", err)
		}
		resolved[name] = append(resolved[name], id)
	}
	if err := rows.Err(); err != nil {
		return nil, facet.NewStorageError("iterate filter fields", err)
	}
	return resolved, nil
}

// MatchingAds compiles and runs the filter set. An empty request is
// rejected rather than matching every listing.
func (c *PostgresFilterCompiler) MatchingAds(ctx context.Context, categoryID int64, filters facet.FilterRequest) ([]uuid.UUID, error) {
	clause, args, err := c.Compile(ctx, categoryID, filters)
	if err != nil {
		return nil, err
	}
	if clause == "" {
		return nil, facet.NewInvalidFilterError("filter request cannot be empty")
	}

	rows, err := c.pool.Query(ctx, clause, args...)
	if err != nil {
		return nil, facet.NewStorageError("execute attribute filter", err)
	}
	defer rows.Close()

	ads := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, facet.NewStorageError("scan matching ad", err)
		}
		ads = append(ads, id)
	}
	if err := rows.Err(); err != nil {
		return nil, facet.NewStorageError("iterate matching ads", err)
	}
	return ads, nil
}
