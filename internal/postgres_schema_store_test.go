package internal

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlistings/facet"
)

var testTables = facet.TableNames{
	Categories:      "categories",
	Definitions:     "category_attributes",
	AttributeValues: "ad_attribute_values",
}

func definitionRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "category_id", "field_name", "field_label", "field_type",
		"field_options", "validation_rules", "order_index", "conditional_display",
		"is_searchable", "is_required",
	})
}

func TestSchemaStoreCreate(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresSchemaStore(mock, testTables)

	def := &facet.AttributeDefinition{
		CategoryID: 7,
		FieldName:  "color",
		FieldLabel: "Color",
		FieldType:  facet.FieldTypeSelect,
		FieldOptions: facet.FieldOptions{
			{Value: "red", Label: "Red"},
			{Value: "blue", Label: "Blue"},
		},
		OrderIndex:   2,
		IsSearchable: true,
	}

	mock.ExpectQuery(`INSERT INTO "category_attributes"`).
		WithArgs(int64(7), "color", "Color", "select",
			[]byte(`[{"value":"red","label":"Red"},{"value":"blue","label":"Blue"}]`),
			[]byte(nil), 2, []byte(nil), true, false).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(41)))

	created, err := store.Create(ctx, def)
	require.NoError(t, err)
	assert.Equal(t, int64(41), created.ID)
	assert.Equal(t, "color", created.FieldName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaStoreCreateDuplicateFieldName(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresSchemaStore(mock, testTables)

	def := &facet.AttributeDefinition{
		CategoryID: 7,
		FieldName:  "color",
		FieldLabel: "Color",
		FieldType:  facet.FieldTypeText,
	}

	mock.ExpectQuery(`INSERT INTO "category_attributes"`).
		WithArgs(int64(7), "color", "Color", "text", []byte(nil), []byte(nil), 0, []byte(nil), false, false).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err = store.Create(ctx, def)
	require.Error(t, err)
	assert.True(t, facet.IsDuplicateFieldName(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaStoreCreateRejectsInvalidType(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresSchemaStore(mock, testTables)

	_, err = store.Create(ctx, &facet.AttributeDefinition{
		CategoryID: 1, FieldName: "x", FieldType: facet.FieldType("dropdown"),
	})
	require.Error(t, err)

	var ferr *facet.FacetError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, facet.ErrCodeInvalidFieldType, ferr.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaStoreCreateRejectsOptionsFieldWithoutOptions(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresSchemaStore(mock, testTables)

	_, err = store.Create(ctx, &facet.AttributeDefinition{
		CategoryID: 1, FieldName: "color", FieldType: facet.FieldTypeSelect,
	})
	require.Error(t, err)

	var ferr *facet.FacetError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, facet.ErrCodeMissingOptions, ferr.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaStoreCreateResolvesDependency(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresSchemaStore(mock, testTables)

	def := &facet.AttributeDefinition{
		CategoryID: 7,
		FieldName:  "make_other",
		FieldLabel: "Other make",
		FieldType:  facet.FieldTypeText,
		ConditionalDisplay: &facet.ConditionalDisplay{
			DependsOn: "make", Operator: facet.OperatorEquals, Value: "other",
		},
	}

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(int64(7), "make", int64(0)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`INSERT INTO "category_attributes"`).
		WithArgs(int64(7), "make_other", "Other make", "text", []byte(nil), []byte(nil), 0,
			[]byte(`{"depends_on":"make","operator":"equals","value":"other"}`), false, false).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))

	created, err := store.Create(ctx, def)
	require.NoError(t, err)
	assert.Equal(t, int64(42), created.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaStoreCreateDanglingDependency(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresSchemaStore(mock, testTables)

	def := &facet.AttributeDefinition{
		CategoryID: 7,
		FieldName:  "make_other",
		FieldType:  facet.FieldTypeText,
		ConditionalDisplay: &facet.ConditionalDisplay{
			DependsOn: "make", Operator: facet.OperatorEquals, Value: "other",
		},
	}

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(int64(7), "make", int64(0)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	_, err = store.Create(ctx, def)
	require.Error(t, err)

	var ferr *facet.FacetError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, facet.ErrCodeDanglingCondition, ferr.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaStoreGetNotFound(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresSchemaStore(mock, testTables)

	mock.ExpectQuery(`SELECT .+ FROM "category_attributes" WHERE id = \$1`).
		WithArgs(int64(99)).
		WillReturnError(pgx.ErrNoRows)

	_, err = store.Get(ctx, 99)
	require.Error(t, err)
	assert.True(t, facet.IsNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaStoreListByCategoryDecodesColumns(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresSchemaStore(mock, testTables)

	rows := definitionRows().
		AddRow(int64(1), int64(7), "make", "Make", "select",
			[]byte(`[{"value":"toyota","label":"Toyota"}]`), []byte(nil), 0, []byte(nil), true, true).
		AddRow(int64(2), int64(7), "make_other", "Other make", "text",
			[]byte(nil), []byte(`{"minLength":2}`), 1,
			[]byte(`{"depends_on":"make","operator":"equals","value":"other"}`), false, false)

	mock.ExpectQuery(`SELECT .+ FROM "category_attributes" WHERE category_id = \$1 ORDER BY order_index, id`).
		WithArgs(int64(7)).
		WillReturnRows(rows)

	defs, err := store.ListByCategory(ctx, 7)
	require.NoError(t, err)
	require.Len(t, defs, 2)

	assert.Equal(t, "make", defs[0].FieldName)
	assert.True(t, defs[0].FieldOptions.Contains("toyota"))
	assert.Nil(t, defs[0].ConditionalDisplay)

	minLen, ok := defs[1].ValidationRules.MinLength()
	require.True(t, ok)
	assert.Equal(t, 2, minLen)
	require.NotNil(t, defs[1].ConditionalDisplay)
	assert.Equal(t, "make", defs[1].ConditionalDisplay.DependsOn)
	assert.Equal(t, facet.OperatorEquals, defs[1].ConditionalDisplay.Operator)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaStoreListEffectiveCategoryWins(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresSchemaStore(mock, testTables)

	// Parent (id 3) and category (id 7) both define "condition".
	rows := definitionRows().
		AddRow(int64(10), int64(3), "condition", "Condition", "select",
			[]byte(`[{"value":"new","label":"New"}]`), []byte(nil), 0, []byte(nil), true, true).
		AddRow(int64(11), int64(3), "warranty", "Warranty", "checkbox",
			[]byte(nil), []byte(nil), 1, []byte(nil), false, false).
		AddRow(int64(20), int64(7), "condition", "Condition (refined)", "select",
			[]byte(`[{"value":"new","label":"New"},{"value":"used","label":"Used"}]`),
			[]byte(nil), 0, []byte(nil), true, true)

	mock.ExpectQuery(`SELECT .+ FROM "category_attributes"`).
		WithArgs(int64(7)).
		WillReturnRows(rows)

	defs, err := store.ListEffectiveByCategory(ctx, 7)
	require.NoError(t, err)
	require.Len(t, defs, 2)

	names := map[string]int64{}
	for _, d := range defs {
		names[d.FieldName] = d.ID
	}
	assert.Equal(t, int64(20), names["condition"], "category definition shadows the parent's")
	assert.Equal(t, int64(11), names["warranty"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaStoreUpdateMergesPatch(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresSchemaStore(mock, testTables)

	current := definitionRows().
		AddRow(int64(5), int64(7), "mileage", "Mileage", "number",
			[]byte(nil), []byte(`{"min":0}`), 3, []byte(nil), true, false)

	mock.ExpectQuery(`SELECT .+ FROM "category_attributes" WHERE id = \$1`).
		WithArgs(int64(5)).
		WillReturnRows(current)

	newLabel := "Mileage (km)"
	searchable := false
	mock.ExpectExec(`UPDATE "category_attributes" SET`).
		WithArgs("Mileage (km)", "number", []byte(nil), []byte(`{"min":0}`), 3, []byte(nil), false, false, int64(5)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	updated, err := store.Update(ctx, 5, facet.DefinitionPatch{
		FieldLabel:   &newLabel,
		IsSearchable: &searchable,
	})
	require.NoError(t, err)
	assert.Equal(t, "Mileage (km)", updated.FieldLabel)
	assert.False(t, updated.IsSearchable)
	assert.Equal(t, 3, updated.OrderIndex, "unpatched fields keep their value")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaStoreReorder(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresSchemaStore(mock, testTables)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM "category_attributes" WHERE category_id = \$1 FOR UPDATE`).
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).
			AddRow(int64(1)).AddRow(int64(2)).AddRow(int64(3)))
	mock.ExpectExec(`UPDATE "category_attributes" SET order_index`).
		WithArgs(0, int64(3)).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE "category_attributes" SET order_index`).
		WithArgs(1, int64(1)).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE "category_attributes" SET order_index`).
		WithArgs(2, int64(2)).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, store.Reorder(ctx, 7, []int64{3, 1, 2}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaStoreReorderRejectsPartialSequence(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresSchemaStore(mock, testTables)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM "category_attributes" WHERE category_id = \$1 FOR UPDATE`).
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).
			AddRow(int64(1)).AddRow(int64(2)).AddRow(int64(3)))
	mock.ExpectRollback()

	err = store.Reorder(ctx, 7, []int64{3, 1})
	require.Error(t, err)

	var ferr *facet.FacetError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, facet.ErrCodeInvalidReorder, ferr.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaStoreDeleteCascades(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresSchemaStore(mock, testTables)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "ad_attribute_values" WHERE attribute_id = \$1`).
		WithArgs(int64(5)).
		WillReturnResult(pgxmock.NewResult("DELETE", 12))
	mock.ExpectExec(`DELETE FROM "category_attributes" WHERE id = \$1`).
		WithArgs(int64(5)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	require.NoError(t, store.Delete(ctx, 5))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaStoreDeleteMissingDefinition(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresSchemaStore(mock, testTables)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "ad_attribute_values" WHERE attribute_id = \$1`).
		WithArgs(int64(99)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`DELETE FROM "category_attributes" WHERE id = \$1`).
		WithArgs(int64(99)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectRollback()

	err = store.Delete(ctx, 99)
	require.Error(t, err)
	assert.True(t, facet.IsNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}
