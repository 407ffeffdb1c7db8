package factory

import (
	"context"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openlistings/facet"
	"github.com/openlistings/facet/internal"
)

// queryPool is the subset of pgxpool.Pool the table check needs.
type queryPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// tableCollector is swappable in tests.
var tableCollector = collectTablesFromPool

// NewEngineWithConfig wires a ready-to-use Engine over the provided pool.
// This is the primary entry point for external projects.
//
// Usage:
//
//	import (
//	    "github.com/openlistings/facet"
//	    "github.com/openlistings/facet/factory"
//	)
//
//	config := facet.DefaultConfig()
//	engine, err := factory.NewEngineWithConfig(config, pool)
//	if err != nil {
//	    // handle error
//	}
func NewEngineWithConfig(config *facet.Config, pool *pgxpool.Pool) (*facet.Engine, error) {
	if config == nil {
		config = facet.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if err := verifyTables(pool, config.Database.TableNames); err != nil {
		return nil, err
	}

	var schema facet.SchemaStore = internal.NewPostgresSchemaStore(pool, config.Database.TableNames)
	if config.Schema.CacheEnabled {
		schema = internal.NewCachedSchemaStore(schema, config.Schema.CacheTTL)
	}

	return &facet.Engine{
		Schema:  schema,
		Values:  internal.NewPostgresValueStore(pool, schema, config.Database.TableNames),
		Filters: internal.NewPostgresFilterCompiler(pool, config.Database.TableNames),
	}, nil
}

// verifyTables fails fast when the expected tables are missing, instead of
// surfacing the gap as query errors at first use.
func verifyTables(pool queryPool, names facet.TableNames) error {
	tables, err := tableCollector(pool)
	if err != nil {
		return err
	}

	for _, required := range []string{names.Categories, names.Definitions, names.AttributeValues} {
		if !slices.Contains(tables, required) {
			return fmt.Errorf("required table %q is missing in the database", required)
		}
	}
	return nil
}

func collectTablesFromPool(pool queryPool) ([]string, error) {
	rows, err := pool.Query(context.Background(), `SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE';`)
	if err != nil {
		return nil, fmt.Errorf("failed to verify database connection: %w", err)
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, tableName)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return tables, nil
}
