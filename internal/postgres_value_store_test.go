package internal

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlistings/facet"
)

// fakeSchemaStore serves definitions from memory so value-store tests do not
// need schema query expectations.
type fakeSchemaStore struct {
	defs map[int64]*facet.AttributeDefinition
}

func (f *fakeSchemaStore) Create(ctx context.Context, def *facet.AttributeDefinition) (*facet.AttributeDefinition, error) {
	panic("not used")
}

func (f *fakeSchemaStore) Get(ctx context.Context, id int64) (*facet.AttributeDefinition, error) {
	def, ok := f.defs[id]
	if !ok {
		return nil, facet.NewDefinitionNotFoundError(id)
	}
	return def, nil
}

func (f *fakeSchemaStore) ListByCategory(ctx context.Context, categoryID int64) ([]facet.AttributeDefinition, error) {
	return f.ListEffectiveByCategory(ctx, categoryID)
}

func (f *fakeSchemaStore) ListSearchableByCategory(ctx context.Context, categoryID int64) ([]facet.AttributeDefinition, error) {
	panic("not used")
}

func (f *fakeSchemaStore) ListEffectiveByCategory(ctx context.Context, categoryID int64) ([]facet.AttributeDefinition, error) {
	var defs []facet.AttributeDefinition
	for _, def := range f.defs {
		defs = append(defs, *def)
	}
	return defs, nil
}

func (f *fakeSchemaStore) Update(ctx context.Context, id int64, patch facet.DefinitionPatch) (*facet.AttributeDefinition, error) {
	panic("not used")
}

func (f *fakeSchemaStore) Reorder(ctx context.Context, categoryID int64, orderedIDs []int64) error {
	panic("not used")
}

func (f *fakeSchemaStore) Delete(ctx context.Context, id int64) error {
	panic("not used")
}

func carsSchema() *fakeSchemaStore {
	return &fakeSchemaStore{defs: map[int64]*facet.AttributeDefinition{
		1: {
			ID: 1, CategoryID: 7, FieldName: "make", FieldType: facet.FieldTypeSelect,
			FieldOptions: facet.FieldOptions{{Value: "toyota"}, {Value: "ford"}, {Value: "other"}},
			OrderIndex:   0, IsSearchable: true, IsRequired: true,
		},
		2: {
			ID: 2, CategoryID: 7, FieldName: "make_other", FieldType: facet.FieldTypeText,
			OrderIndex: 1,
			ConditionalDisplay: &facet.ConditionalDisplay{
				DependsOn: "make", Operator: facet.OperatorEquals, Value: "other",
			},
		},
		3: {
			ID: 3, CategoryID: 7, FieldName: "mileage", FieldType: facet.FieldTypeNumber,
			ValidationRules: facet.ValidationRules{"min": 0},
			OrderIndex:      2,
		},
	}}
}

func newTestValueStore(t *testing.T, schema facet.SchemaStore) (*PostgresValueStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store := NewPostgresValueStore(mock, schema, testTables)
	store.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return store, mock
}

func storedValueRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"attribute_id", "value", "updated_at", "field_name", "field_label", "field_type", "order_index",
	})
}

// expectStoredValues queues the read of the listing's current values that
// BulkUpsert performs before evaluating visibility.
func expectStoredValues(mock pgxmock.PgxPoolIface, adID uuid.UUID, rows *pgxmock.Rows) {
	mock.ExpectQuery(`SELECT v.attribute_id, v.value, v.updated_at, d.field_name`).
		WithArgs(adID).
		WillReturnRows(rows)
}

func TestValueStoreUpsertSerializesCanonicalJSON(t *testing.T) {
	ctx := context.Background()
	store, mock := newTestValueStore(t, carsSchema())

	adID := uuid.MustParse("11111111-1111-1111-1111-111111111111")

	mock.ExpectExec(`INSERT INTO "ad_attribute_values"`).
		WithArgs(adID, int64(1), `"toyota"`, int64(1700000000000)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Upsert(ctx, adID, 1, "toyota"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestValueStoreUpsertRejectsInvalidValue(t *testing.T) {
	ctx := context.Background()
	store, mock := newTestValueStore(t, carsSchema())

	adID := uuid.MustParse("11111111-1111-1111-1111-111111111111")

	err := store.Upsert(ctx, adID, 1, "lada")
	require.Error(t, err)

	var ferr *facet.FacetError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, facet.ErrCodeNotAnOption, ferr.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestValueStoreUpsertUnknownDefinition(t *testing.T) {
	ctx := context.Background()
	store, mock := newTestValueStore(t, carsSchema())

	err := store.Upsert(ctx, uuid.New(), 99, "x")
	require.Error(t, err)
	assert.True(t, facet.IsNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsertAppliesValidEntries(t *testing.T) {
	ctx := context.Background()
	store, mock := newTestValueStore(t, carsSchema())

	adID := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	expectStoredValues(mock, adID, storedValueRows())
	mock.ExpectExec(`INSERT INTO "ad_attribute_values"`).
		WithArgs(adID, int64(1), `"toyota"`, int64(1700000000000)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO "ad_attribute_values"`).
		WithArgs(adID, int64(3), `120000`, int64(1700000000000)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	result, err := store.BulkUpsert(ctx, adID, 7, []facet.ValueEntry{
		{AttributeID: 1, Value: "toyota"},
		{AttributeID: 3, Value: 120000},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Applied)
	assert.False(t, result.Failed())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsertRejectsHiddenField(t *testing.T) {
	ctx := context.Background()
	store, mock := newTestValueStore(t, carsSchema())

	adID := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	// make is "toyota", so make_other is hidden and its entry is rejected.
	expectStoredValues(mock, adID, storedValueRows())
	mock.ExpectExec(`INSERT INTO "ad_attribute_values"`).
		WithArgs(adID, int64(1), `"toyota"`, int64(1700000000000)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	result, err := store.BulkUpsert(ctx, adID, 7, []facet.ValueEntry{
		{AttributeID: 1, Value: "toyota"},
		{AttributeID: 2, Value: "Lada"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)
	require.True(t, result.Failed())

	byField := result.Errors.ByField()
	require.Contains(t, byField, "make_other")
	assert.Equal(t, facet.ErrCodeUnexpectedField, byField["make_other"][0].Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsertAcceptsVisibleConditionalField(t *testing.T) {
	ctx := context.Background()
	store, mock := newTestValueStore(t, carsSchema())

	adID := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	expectStoredValues(mock, adID, storedValueRows())
	mock.ExpectExec(`INSERT INTO "ad_attribute_values"`).
		WithArgs(adID, int64(1), `"other"`, int64(1700000000000)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO "ad_attribute_values"`).
		WithArgs(adID, int64(2), `"Lada"`, int64(1700000000000)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	result, err := store.BulkUpsert(ctx, adID, 7, []facet.ValueEntry{
		{AttributeID: 1, Value: "other"},
		{AttributeID: 2, Value: "Lada"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Applied)
	assert.False(t, result.Failed())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsertReportsMissingRequiredField(t *testing.T) {
	ctx := context.Background()
	store, mock := newTestValueStore(t, carsSchema())

	adID := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	expectStoredValues(mock, adID, storedValueRows())
	mock.ExpectExec(`INSERT INTO "ad_attribute_values"`).
		WithArgs(adID, int64(3), `50000`, int64(1700000000000)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	result, err := store.BulkUpsert(ctx, adID, 7, []facet.ValueEntry{
		{AttributeID: 3, Value: 50000},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)
	require.True(t, result.Failed())

	byField := result.Errors.ByField()
	require.Contains(t, byField, "make")
	assert.Equal(t, facet.ErrCodeRequiredFieldMissing, byField["make"][0].Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsertCollectsPerFieldErrors(t *testing.T) {
	ctx := context.Background()
	store, mock := newTestValueStore(t, carsSchema())

	adID := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	expectStoredValues(mock, adID, storedValueRows())
	mock.ExpectExec(`INSERT INTO "ad_attribute_values"`).
		WithArgs(adID, int64(1), `"ford"`, int64(1700000000000)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	result, err := store.BulkUpsert(ctx, adID, 7, []facet.ValueEntry{
		{AttributeID: 1, Value: "ford"},
		{AttributeID: 3, Value: -10},
		{AttributeID: 99, Value: "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)
	require.True(t, result.Failed())
	assert.Len(t, result.Errors.Errors, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsertPartialEditSeesStoredValues(t *testing.T) {
	ctx := context.Background()
	store, mock := newTestValueStore(t, carsSchema())

	adID := uuid.MustParse("55555555-5555-5555-5555-555555555555")

	// The listing already stores make = "other", which keeps make_other
	// visible and satisfies the required sweep for make.
	stored := storedValueRows().
		AddRow(int64(1), `"other"`, int64(1600000000000), "make", "Make", "select", 0)
	expectStoredValues(mock, adID, stored)
	mock.ExpectExec(`INSERT INTO "ad_attribute_values"`).
		WithArgs(adID, int64(2), `"Lada"`, int64(1700000000000)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	result, err := store.BulkUpsert(ctx, adID, 7, []facet.ValueEntry{
		{AttributeID: 2, Value: "Lada"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)
	assert.False(t, result.Failed())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsertSubmissionOverridesStoredValue(t *testing.T) {
	ctx := context.Background()
	store, mock := newTestValueStore(t, carsSchema())

	adID := uuid.MustParse("55555555-5555-5555-5555-555555555555")

	// The submission switches make away from "other", so the accompanying
	// make_other entry lands on a field that is now hidden.
	stored := storedValueRows().
		AddRow(int64(1), `"other"`, int64(1600000000000), "make", "Make", "select", 0)
	expectStoredValues(mock, adID, stored)
	mock.ExpectExec(`INSERT INTO "ad_attribute_values"`).
		WithArgs(adID, int64(1), `"toyota"`, int64(1700000000000)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	result, err := store.BulkUpsert(ctx, adID, 7, []facet.ValueEntry{
		{AttributeID: 1, Value: "toyota"},
		{AttributeID: 2, Value: "Lada"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)
	require.True(t, result.Failed())

	byField := result.Errors.ByField()
	require.Contains(t, byField, "make_other")
	assert.Equal(t, facet.ErrCodeUnexpectedField, byField["make_other"][0].Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByAdParsesStoredForms(t *testing.T) {
	ctx := context.Background()
	store, mock := newTestValueStore(t, carsSchema())

	adID := uuid.MustParse("33333333-3333-3333-3333-333333333333")

	rows := pgxmock.NewRows([]string{
		"attribute_id", "value", "updated_at", "field_name", "field_label", "field_type", "order_index",
	}).
		AddRow(int64(1), `"toyota"`, int64(1700000000000), "make", "Make", "select", 0).
		AddRow(int64(3), `120000`, int64(1700000000000), "mileage", "Mileage", "number", 2).
		AddRow(int64(4), `["ac","sunroof"]`, int64(1700000000000), "features", "Features", "multiselect", 3).
		AddRow(int64(5), `used`, int64(1600000000000), "condition", "Condition", "select", 4)

	mock.ExpectQuery(`SELECT v.attribute_id, v.value, v.updated_at, d.field_name`).
		WithArgs(adID).
		WillReturnRows(rows)

	attrs, err := store.GetByAd(ctx, adID)
	require.NoError(t, err)
	require.Len(t, attrs, 4)

	assert.Equal(t, facet.StringValue("toyota"), attrs[0].Value)
	assert.Equal(t, facet.NumberValue(120000), attrs[1].Value)
	assert.Equal(t, facet.ArrayValue([]string{"ac", "sunroof"}), attrs[2].Value)
	// Legacy bare scalar decodes as a plain string.
	assert.Equal(t, facet.StringValue("used"), attrs[3].Value)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAllForAd(t *testing.T) {
	ctx := context.Background()
	store, mock := newTestValueStore(t, carsSchema())

	adID := uuid.MustParse("44444444-4444-4444-4444-444444444444")

	mock.ExpectExec(`DELETE FROM "ad_attribute_values" WHERE ad_id = \$1`).
		WithArgs(adID).
		WillReturnResult(pgxmock.NewResult("DELETE", 6))

	require.NoError(t, store.DeleteAllForAd(ctx, adID))
	require.NoError(t, mock.ExpectationsWereMet())
}
