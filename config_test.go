package facet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	config := DefaultConfig()
	require.NoError(t, config.Validate())

	assert.Equal(t, "category_attributes", config.Database.TableNames.Definitions)
	assert.Equal(t, "ad_attribute_values", config.Database.TableNames.AttributeValues)
	assert.Equal(t, "categories", config.Database.TableNames.Categories)
	assert.True(t, config.Schema.CacheEnabled)
	assert.Equal(t, 5*time.Minute, config.Schema.CacheTTL)
}

func TestConfigValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{
			name:   "zero max connections",
			mutate: func(c *Config) { c.Database.MaxConnections = 0 },
			field:  "database.maxConnections",
		},
		{
			name:   "empty definitions table",
			mutate: func(c *Config) { c.Database.TableNames.Definitions = "" },
			field:  "database.tableNames.definitions",
		},
		{
			name:   "empty values table",
			mutate: func(c *Config) { c.Database.TableNames.AttributeValues = "" },
			field:  "database.tableNames.attributeValues",
		},
		{
			name:   "empty categories table",
			mutate: func(c *Config) { c.Database.TableNames.Categories = "" },
			field:  "database.tableNames.categories",
		},
		{
			name:   "zero bulk batch size",
			mutate: func(c *Config) { c.Values.BulkBatchSize = 0 },
			field:  "values.bulkBatchSize",
		},
		{
			name:   "caching enabled without ttl",
			mutate: func(c *Config) { c.Schema.CacheTTL = 0 },
			field:  "schema.cacheTTL",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			config := DefaultConfig()
			tc.mutate(config)

			err := config.Validate()
			require.Error(t, err)

			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tc.field, ce.Field)
		})
	}
}

func TestConfigValidateAllowsDisabledCacheWithoutTTL(t *testing.T) {
	config := DefaultConfig()
	config.Schema.CacheEnabled = false
	config.Schema.CacheTTL = 0
	require.NoError(t, config.Validate())
}
