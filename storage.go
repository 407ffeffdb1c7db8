package facet

import (
	"context"

	"github.com/google/uuid"
)

// SchemaStore owns attribute definitions per category.
type SchemaStore interface {
	// Create persists a new definition. Fails with DUPLICATE_FIELD_NAME when
	// (category_id, field_name) already exists and INVALID_FIELD_TYPE when
	// the type is unrecognized.
	Create(ctx context.Context, def *AttributeDefinition) (*AttributeDefinition, error)

	// Get fetches one definition by id.
	Get(ctx context.Context, id int64) (*AttributeDefinition, error)

	// ListByCategory returns the category's definitions ordered by
	// (order_index, id). No definitions is an empty slice, not an error.
	ListByCategory(ctx context.Context, categoryID int64) ([]AttributeDefinition, error)

	// ListSearchableByCategory returns the is_searchable subset of
	// ListByCategory in the same order.
	ListSearchableByCategory(ctx context.Context, categoryID int64) ([]AttributeDefinition, error)

	// ListEffectiveByCategory returns the union of the parent category's and
	// this category's definitions; this category wins on field_name
	// collision. Ordering follows (order_index, id).
	ListEffectiveByCategory(ctx context.Context, categoryID int64) ([]AttributeDefinition, error)

	// Update merges the provided fields only. Fails with
	// DEFINITION_NOT_FOUND when the id is absent.
	Update(ctx context.Context, id int64, patch DefinitionPatch) (*AttributeDefinition, error)

	// Reorder assigns order_index = position in orderedIDs, inside one
	// transaction. The supplied sequence must be exactly the category's
	// definition set; otherwise nothing is applied.
	Reorder(ctx context.Context, categoryID int64, orderedIDs []int64) error

	// Delete removes the definition and cascades deletion of every stored
	// value referencing it, in one transaction. The cascade is destructive
	// and irreversible.
	Delete(ctx context.Context, id int64) error
}

// ValueStore owns per-listing attribute values keyed by (ad_id, attribute_id).
type ValueStore interface {
	// Upsert validates and writes one value, atomically replacing any
	// existing value for the pair (last writer wins). Idempotent.
	Upsert(ctx context.Context, adID uuid.UUID, attributeID int64, value any) error

	// BulkUpsert validates the entry set against the category's effective
	// definitions and applies each valid entry. The hidden-field re-check
	// and the required sweep evaluate the submitted entries merged over the
	// listing's stored values, with the submission winning per field, so
	// partial edits behave like full submissions. Entries fail individually;
	// each entry's write is atomic.
	BulkUpsert(ctx context.Context, adID uuid.UUID, categoryID int64, entries []ValueEntry) (*BulkResult, error)

	// GetByAd returns the listing's values joined with their definitions,
	// ordered by the owning definition's (order_index, id).
	GetByAd(ctx context.Context, adID uuid.UUID) ([]AdAttribute, error)

	// Delete removes one value. Deleting an absent pair is a no-op.
	Delete(ctx context.Context, adID uuid.UUID, attributeID int64) error

	// DeleteAllForAd removes every value of a listing. Idempotent; listing
	// deletion must call this.
	DeleteAllForAd(ctx context.Context, adID uuid.UUID) error
}

// FilterCompiler translates a filter request into a predicate over listing
// IDs, evaluable against the schema-less value store.
type FilterCompiler interface {
	// Compile resolves each field name within the category (and its
	// subcategories and parent) and builds a SQL clause selecting the ad_id
	// set satisfying every filter. An unresolvable field yields
	// UNKNOWN_ATTRIBUTE; an empty request compiles to an empty clause.
	Compile(ctx context.Context, categoryID int64, filters FilterRequest) (clause string, args []any, err error)

	// MatchingAds compiles and executes the filter set, returning the
	// matching listing IDs.
	MatchingAds(ctx context.Context, categoryID int64, filters FilterRequest) ([]uuid.UUID, error)
}

// Engine bundles the contract surfaces this core exposes to the listing
// authoring, category management and search collaborators.
type Engine struct {
	Schema  SchemaStore
	Values  ValueStore
	Filters FilterCompiler
}
