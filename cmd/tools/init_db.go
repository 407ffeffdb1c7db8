package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type dbOptions struct {
	host        string
	port        int
	database    string
	user        string
	password    string
	sslMode     string
	categories  string
	definitions string
	values      string
}

func registerDBFlags(flags *flag.FlagSet, opts *dbOptions) {
	flags.StringVar(&opts.host, "db-host", getenvDefault("DB_HOST", "localhost"), "database host")
	flags.IntVar(&opts.port, "db-port", getenvDefaultInt("DB_PORT", 5432), "database port")
	flags.StringVar(&opts.database, "db-name", getenvDefault("DB_NAME", "facet"), "database name")
	flags.StringVar(&opts.user, "db-user", getenvDefault("DB_USER", "postgres"), "database user")
	flags.StringVar(&opts.password, "db-password", getenvDefault("DB_PASSWORD", "postgres"), "database password")
	flags.StringVar(&opts.sslMode, "db-ssl-mode", getenvDefault("DB_SSL_MODE", "disable"), "database sslmode")
	flags.StringVar(&opts.categories, "categories-table", getenvDefault("CATEGORIES_TABLE", "categories"), "categories table name")
	flags.StringVar(&opts.definitions, "definitions-table", getenvDefault("DEFINITIONS_TABLE", "category_attributes"), "attribute definitions table name")
	flags.StringVar(&opts.values, "values-table", getenvDefault("VALUES_TABLE", "ad_attribute_values"), "attribute values table name")
}

func runInitDB(args []string) error {
	flags := flag.NewFlagSet("init-db", flag.ContinueOnError)
	flags.SetOutput(os.Stdout)
	flags.Usage = func() {
		fmt.Println("Usage: facet-tools init-db [options]")
		fmt.Println("")
		fmt.Println("Options:")
		flags.PrintDefaults()
	}

	opts := dbOptions{}
	registerDBFlags(flags, &opts)

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	return initDatabase(opts)
}

func initDatabase(opts dbOptions) error {
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, buildConnString(opts))
	if err != nil {
		return fmt.Errorf("create connection pool: %w", err)
	}
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if err := withTx(ctx, conn, func(tx pgx.Tx) error {
		return ensureTables(ctx, tx, opts)
	}); err != nil {
		return err
	}

	fmt.Println("Database initialized successfully.")
	return nil
}

func buildConnString(opts dbOptions) string {
	hostPort := fmt.Sprintf("%s:%d", opts.host, opts.port)

	var userInfo *url.Userinfo
	if opts.password != "" {
		userInfo = url.UserPassword(opts.user, opts.password)
	} else {
		userInfo = url.User(opts.user)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   hostPort,
		Path:   "/" + opts.database,
	}

	q := url.Values{}
	if opts.sslMode != "" {
		q.Set("sslmode", opts.sslMode)
	}
	u.RawQuery = q.Encode()

	return u.String()
}

func ensureTables(ctx context.Context, tx pgx.Tx, opts dbOptions) error {
	categories := quoteIdentifier(opts.categories)
	definitions := quoteIdentifier(opts.definitions)
	values := quoteIdentifier(opts.values)

	ddlCategories := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id         BIGSERIAL PRIMARY KEY,
		parent_id  BIGINT REFERENCES %s(id),
		name       TEXT NOT NULL
	)`, categories, categories)

	if _, err := tx.Exec(ctx, ddlCategories); err != nil {
		return fmt.Errorf("ensure categories table: %w", err)
	}
	fmt.Printf("Created categories table: %s\n", opts.categories)

	ddlDefinitions := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id                  BIGSERIAL PRIMARY KEY,
		category_id         BIGINT NOT NULL REFERENCES %s(id),
		field_name          TEXT NOT NULL,
		field_label         TEXT NOT NULL,
		field_type          TEXT NOT NULL,
		field_options       JSONB,
		validation_rules    JSONB,
		order_index         INTEGER NOT NULL DEFAULT 0,
		conditional_display JSONB,
		is_searchable       BOOLEAN NOT NULL DEFAULT false,
		is_required         BOOLEAN NOT NULL DEFAULT false,
		UNIQUE (category_id, field_name)
	)`, definitions, categories)

	if _, err := tx.Exec(ctx, ddlDefinitions); err != nil {
		return fmt.Errorf("ensure definitions table: %w", err)
	}
	fmt.Printf("Created attribute definitions table: %s\n", opts.definitions)

	ddlValues := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ad_id        UUID NOT NULL,
		attribute_id BIGINT NOT NULL REFERENCES %s(id),
		value        TEXT NOT NULL,
		updated_at   BIGINT NOT NULL,
		UNIQUE (ad_id, attribute_id)
	)`, values, definitions)

	if _, err := tx.Exec(ctx, ddlValues); err != nil {
		return fmt.Errorf("ensure values table: %w", err)
	}
	fmt.Printf("Created attribute values table: %s\n", opts.values)

	idxCategory := quoteIdentifier(makeIndexName(opts.definitions, "category"))
	createIdxCategory := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (category_id, order_index)`, idxCategory, definitions)
	if _, err := tx.Exec(ctx, createIdxCategory); err != nil {
		return fmt.Errorf("create category index: %w", err)
	}

	idxSearch := quoteIdentifier(makeIndexName(opts.values, "search"))
	createIdxSearch := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (attribute_id, value)`, idxSearch, values)
	if _, err := tx.Exec(ctx, createIdxSearch); err != nil {
		return fmt.Errorf("create value search index: %w", err)
	}

	idxAd := quoteIdentifier(makeIndexName(opts.values, "ad"))
	createIdxAd := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (ad_id)`, idxAd, values)
	if _, err := tx.Exec(ctx, createIdxAd); err != nil {
		return fmt.Errorf("create ad index: %w", err)
	}

	return nil
}

func withTx(ctx context.Context, conn *pgxpool.Conn, fn func(pgx.Tx) error) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w; rollback failed: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

func quoteIdentifier(name string) string {
	return pgx.Identifier(splitIdentifier(name)).Sanitize()
}

func splitIdentifier(name string) []string {
	parts := strings.Split(name, ".")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	if len(result) == 0 {
		return []string{name}
	}
	return result
}

func makeIndexName(table string, suffix string) string {
	base := strings.ReplaceAll(table, ".", "_")
	base = strings.ReplaceAll(base, `"`, "")
	return fmt.Sprintf("%s_%s_idx", base, suffix)
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getenvDefaultInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}
