package facet

import (
	"time"
)

// Config consolidates the settings of the attribute core.
type Config struct {
	Database DatabaseConfig `json:"database"`
	Schema   SchemaConfig   `json:"schema"`
	Values   ValuesConfig   `json:"values"`
	Logging  LoggingConfig  `json:"logging"`
	Export   ExportConfig   `json:"export"`
}

// TableNames holds the relational tables the core reads and writes.
type TableNames struct {
	Categories      string `json:"categories"`
	Definitions     string `json:"definitions"`
	AttributeValues string `json:"attributeValues"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Database        string        `json:"database"`
	Username        string        `json:"username"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"sslMode"`
	MaxConnections  int           `json:"maxConnections"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime"`
	ConnMaxIdleTime time.Duration `json:"connMaxIdleTime"`
	Timeout         time.Duration `json:"timeout"`
	TableNames      TableNames    `json:"tableNames"`
}

// SchemaConfig contains definition-cache settings.
type SchemaConfig struct {
	CacheEnabled bool          `json:"cacheEnabled"`
	CacheTTL     time.Duration `json:"cacheTTL"`
}

// ValuesConfig contains value-store settings.
type ValuesConfig struct {
	BulkBatchSize int `json:"bulkBatchSize"`
	MaxArrayItems int `json:"maxArrayItems"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level              string        `json:"level"`
	Format             string        `json:"format"`
	LogQueries         bool          `json:"logQueries"`
	LogSlowQueries     bool          `json:"logSlowQueries"`
	SlowQueryThreshold time.Duration `json:"slowQueryThreshold"`
}

// ExportConfig contains search-snapshot export settings.
type ExportConfig struct {
	DuckDBPath     string `json:"duckdbPath"`
	DuckDBMemoryMB int    `json:"duckdbMemoryMB"`
	DuckDBThreads  int    `json:"duckdbThreads"`
	OutputDir      string `json:"outputDir"`
	S3Bucket       string `json:"s3Bucket"`
	S3Prefix       string `json:"s3Prefix"`
	S3Region       string `json:"s3Region"`
	S3Endpoint     string `json:"s3Endpoint"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			SSLMode:         "disable",
			MaxConnections:  25,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			Timeout:         30 * time.Second,
			TableNames: TableNames{
				Categories:      "categories",
				Definitions:     "category_attributes",
				AttributeValues: "ad_attribute_values",
			},
		},
		Schema: SchemaConfig{
			CacheEnabled: true,
			CacheTTL:     5 * time.Minute,
		},
		Values: ValuesConfig{
			BulkBatchSize: 100,
			MaxArrayItems: 100,
		},
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "json",
			LogQueries:         false,
			LogSlowQueries:     true,
			SlowQueryThreshold: 1 * time.Second,
		},
		Export: ExportConfig{
			DuckDBMemoryMB: 1024,
			DuckDBThreads:  2,
			OutputDir:      "snapshots",
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Database.MaxConnections <= 0 {
		return &ConfigError{Field: "database.maxConnections", Message: "must be greater than 0"}
	}
	if c.Database.TableNames.Definitions == "" {
		return &ConfigError{Field: "database.tableNames.definitions", Message: "must not be empty"}
	}
	if c.Database.TableNames.AttributeValues == "" {
		return &ConfigError{Field: "database.tableNames.attributeValues", Message: "must not be empty"}
	}
	if c.Database.TableNames.Categories == "" {
		return &ConfigError{Field: "database.tableNames.categories", Message: "must not be empty"}
	}
	if c.Values.BulkBatchSize <= 0 {
		return &ConfigError{Field: "values.bulkBatchSize", Message: "must be greater than 0"}
	}
	if c.Schema.CacheEnabled && c.Schema.CacheTTL <= 0 {
		return &ConfigError{Field: "schema.cacheTTL", Message: "must be greater than 0 when caching is enabled"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ConfigError) Error() string {
	return "config validation error for field '" + e.Field + "': " + e.Message
}
