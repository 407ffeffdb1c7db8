package facet

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// FieldType enumerates the supported attribute field types.
type FieldType string

const (
	FieldTypeText        FieldType = "text"
	FieldTypeNumber      FieldType = "number"
	FieldTypeSelect      FieldType = "select"
	FieldTypeMultiSelect FieldType = "multiselect"
	FieldTypeCheckbox    FieldType = "checkbox"
	FieldTypeRadio       FieldType = "radio"
	FieldTypeDate        FieldType = "date"
	FieldTypeTextarea    FieldType = "textarea"
	FieldTypeTel         FieldType = "tel"
	FieldTypeEmail       FieldType = "email"
	FieldTypeURL         FieldType = "url"
	FieldTypeRange       FieldType = "range"
)

var fieldTypes = map[FieldType]bool{
	FieldTypeText:        true,
	FieldTypeNumber:      true,
	FieldTypeSelect:      true,
	FieldTypeMultiSelect: true,
	FieldTypeCheckbox:    true,
	FieldTypeRadio:       true,
	FieldTypeDate:        true,
	FieldTypeTextarea:    true,
	FieldTypeTel:         true,
	FieldTypeEmail:       true,
	FieldTypeURL:         true,
	FieldTypeRange:       true,
}

// Valid reports whether t is one of the recognized field types.
func (t FieldType) Valid() bool { return fieldTypes[t] }

// HasOptions reports whether the type draws its values from field_options.
func (t FieldType) HasOptions() bool {
	return t == FieldTypeSelect || t == FieldTypeMultiSelect || t == FieldTypeRadio
}

// Numeric reports whether the type stores a numeric payload.
func (t FieldType) Numeric() bool {
	return t == FieldTypeNumber || t == FieldTypeRange
}

// ConditionOperator is the operator of a conditional display rule.
type ConditionOperator string

const (
	OperatorEquals    ConditionOperator = "equals"
	OperatorNotEquals ConditionOperator = "not_equals"
	OperatorContains  ConditionOperator = "contains"
)

// Valid reports whether op is a recognized operator.
func (op ConditionOperator) Valid() bool {
	switch op {
	case OperatorEquals, OperatorNotEquals, OperatorContains:
		return true
	}
	return false
}

// ConditionalDisplay makes a field's visibility depend on a sibling field's
// current value. A nil rule means the field is unconditionally visible.
type ConditionalDisplay struct {
	DependsOn string            `json:"depends_on"`
	Operator  ConditionOperator `json:"operator"`
	Value     any               `json:"value"`
}

// FieldOption is one allowed value of a select/multiselect/radio field.
// The persisted shape is either a bare string or a {value,label} object;
// both unmarshal into this struct.
type FieldOption struct {
	Value string `json:"value"`
	Label string `json:"label,omitempty"`
}

func (o *FieldOption) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		o.Value = raw
		o.Label = ""
		return nil
	}

	type optionAlias struct {
		Value string `json:"value"`
		Label string `json:"label"`
	}
	var alias optionAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return fmt.Errorf("field option must be a string or {value,label} object: %w", err)
	}
	o.Value = alias.Value
	o.Label = alias.Label
	return nil
}

func (o FieldOption) MarshalJSON() ([]byte, error) {
	if o.Label == "" {
		return json.Marshal(o.Value)
	}
	type optionAlias struct {
		Value string `json:"value"`
		Label string `json:"label"`
	}
	return json.Marshal(optionAlias{Value: o.Value, Label: o.Label})
}

// FieldOptions is the ordered allowed-value list of an option-typed field.
type FieldOptions []FieldOption

// Contains reports whether value matches one of the options by value.
func (opts FieldOptions) Contains(value string) bool {
	for _, o := range opts {
		if o.Value == value {
			return true
		}
	}
	return false
}

// ValidationRules is an open map of constraints (min, max, minLength,
// maxLength, pattern). Semantics depend on the owning field type.
type ValidationRules map[string]any

func (r ValidationRules) number(key string) (float64, bool) {
	raw, ok := r[key]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

// Min returns the "min" constraint if present and numeric.
func (r ValidationRules) Min() (float64, bool) { return r.number("min") }

// Max returns the "max" constraint if present and numeric.
func (r ValidationRules) Max() (float64, bool) { return r.number("max") }

// MinLength returns the "minLength" constraint if present.
func (r ValidationRules) MinLength() (int, bool) {
	f, ok := r.number("minLength")
	return int(f), ok
}

// MaxLength returns the "maxLength" constraint if present.
func (r ValidationRules) MaxLength() (int, bool) {
	f, ok := r.number("maxLength")
	return int(f), ok
}

// Pattern returns the "pattern" constraint if present.
func (r ValidationRules) Pattern() (string, bool) {
	raw, ok := r["pattern"]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok && s != ""
}

// AttributeDefinition is a category-scoped declaration of one dynamic field.
// field_name is unique within a category; presentation order follows
// (order_index, id).
type AttributeDefinition struct {
	ID                 int64               `json:"id"`
	CategoryID         int64               `json:"category_id"`
	FieldName          string              `json:"field_name"`
	FieldLabel         string              `json:"field_label"`
	FieldType          FieldType           `json:"field_type"`
	FieldOptions       FieldOptions        `json:"field_options,omitempty"`
	ValidationRules    ValidationRules     `json:"validation_rules,omitempty"`
	OrderIndex         int                 `json:"order_index"`
	ConditionalDisplay *ConditionalDisplay `json:"conditional_display,omitempty"`
	IsSearchable       bool                `json:"is_searchable"`
	IsRequired         bool                `json:"is_required"`
}

// DefinitionPatch carries a partial update of an attribute definition.
// Nil fields are left untouched; ClearConditionalDisplay removes the display
// rule when set.
type DefinitionPatch struct {
	FieldLabel              *string             `json:"field_label,omitempty"`
	FieldType               *FieldType          `json:"field_type,omitempty"`
	FieldOptions            *FieldOptions       `json:"field_options,omitempty"`
	ValidationRules         *ValidationRules    `json:"validation_rules,omitempty"`
	OrderIndex              *int                `json:"order_index,omitempty"`
	ConditionalDisplay      *ConditionalDisplay `json:"conditional_display,omitempty"`
	ClearConditionalDisplay bool                `json:"clear_conditional_display,omitempty"`
	IsSearchable            *bool               `json:"is_searchable,omitempty"`
	IsRequired              *bool               `json:"is_required,omitempty"`
}

// ValueKind tags the dynamic type of a stored attribute value.
type ValueKind string

const (
	ValueKindString ValueKind = "string"
	ValueKindNumber ValueKind = "number"
	ValueKindBool   ValueKind = "bool"
	ValueKindArray  ValueKind = "array"
)

// Value is the type-erased attribute payload. The schema is dynamic, so the
// store keeps values untyped; Value is the in-process tagged union over the
// shapes a field can produce.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
	Arr  []string
}

// StringValue builds a string-kind Value.
func StringValue(s string) Value { return Value{Kind: ValueKindString, Str: s} }

// NumberValue builds a number-kind Value.
func NumberValue(f float64) Value { return Value{Kind: ValueKindNumber, Num: f} }

// BoolValue builds a bool-kind Value.
func BoolValue(b bool) Value { return Value{Kind: ValueKindBool, Bool: b} }

// ArrayValue builds an array-kind Value.
func ArrayValue(items []string) Value { return Value{Kind: ValueKindArray, Arr: items} }

// ValueFrom coerces an arbitrary decoded JSON payload into a Value.
func ValueFrom(raw any) (Value, error) {
	switch v := raw.(type) {
	case Value:
		return v, nil
	case string:
		return StringValue(v), nil
	case bool:
		return BoolValue(v), nil
	case float64:
		return NumberValue(v), nil
	case int:
		return NumberValue(float64(v)), nil
	case int64:
		return NumberValue(float64(v)), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid numeric payload %q: %w", v.String(), err)
		}
		return NumberValue(f), nil
	case []string:
		return ArrayValue(v), nil
	case []any:
		items := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return Value{}, fmt.Errorf("array payload elements must be strings, got %T", item)
			}
			items = append(items, s)
		}
		return ArrayValue(items), nil
	case nil:
		return Value{}, fmt.Errorf("nil payload")
	}
	return Value{}, fmt.Errorf("unsupported payload type %T", raw)
}

// Serialized returns the canonical JSON text form used for persistence.
func (v Value) Serialized() string {
	data, err := json.Marshal(v.Native())
	if err != nil {
		// Only plain scalars and string slices reach Marshal.
		return ""
	}
	return string(data)
}

// LegacyRaw returns the bare scalar form written by legacy rows, when one
// exists. Arrays have no legacy form.
func (v Value) LegacyRaw() (string, bool) {
	switch v.Kind {
	case ValueKindString:
		return v.Str, true
	case ValueKindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64), true
	case ValueKindBool:
		return strconv.FormatBool(v.Bool), true
	}
	return "", false
}

// Native returns the payload as the plain Go value it wraps.
func (v Value) Native() any {
	switch v.Kind {
	case ValueKindString:
		return v.Str
	case ValueKindNumber:
		return v.Num
	case ValueKindBool:
		return v.Bool
	case ValueKindArray:
		return v.Arr
	}
	return nil
}

// Equal reports whether two values carry the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case ValueKindString:
		return v.Str == o.Str
	case ValueKindNumber:
		return v.Num == o.Num
	case ValueKindBool:
		return v.Bool == o.Bool
	case ValueKindArray:
		if len(v.Arr) != len(o.Arr) {
			return false
		}
		for i := range v.Arr {
			if v.Arr[i] != o.Arr[i] {
				return false
			}
		}
		return true
	}
	return false
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Native())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ValueFrom(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseStoredValue decodes the persisted text form of a value. Rows written
// by the current code hold canonical JSON; legacy rows hold the bare scalar,
// which decodes as a string value.
func ParseStoredValue(stored string) Value {
	var raw any
	if err := json.Unmarshal([]byte(stored), &raw); err == nil {
		if v, err := ValueFrom(raw); err == nil {
			return v
		}
	}
	return StringValue(stored)
}

// AttributeValue is a listing-scoped stored value for one attribute
// definition, keyed by (ad_id, attribute_id).
type AttributeValue struct {
	AdID        uuid.UUID `json:"ad_id"`
	AttributeID int64     `json:"attribute_id"`
	Value       Value     `json:"value"`
	UpdatedAt   int64     `json:"updated_at"` // unix millis
}

// AdAttribute is a stored value joined with its owning definition, the shape
// the listing display path consumes.
type AdAttribute struct {
	AttributeValue
	FieldName  string    `json:"field_name"`
	FieldLabel string    `json:"field_label"`
	FieldType  FieldType `json:"field_type"`
	OrderIndex int       `json:"order_index"`
}

// ValueEntry is one proposed write of a bulk upsert.
type ValueEntry struct {
	AttributeID int64 `json:"attribute_id"`
	Value       any   `json:"value"`
}

// BulkResult reports the per-entry outcome of a bulk upsert. Entries fail
// individually; Applied counts the writes that went through.
type BulkResult struct {
	Applied int               `json:"applied"`
	Errors  *ValidationErrors `json:"errors,omitempty"`
}

// Failed reports whether any entry was rejected.
func (r *BulkResult) Failed() bool {
	return r.Errors != nil && r.Errors.HasErrors()
}

// FilterRequest maps field_name to one requested value (or an array-shaped
// transport of values) for a single category's search.
type FilterRequest map[string]any

// Category is the slice of the category tree this core reads: enough to
// resolve parent/subcategory attribute inheritance.
type Category struct {
	ID       int64  `json:"id"`
	ParentID *int64 `json:"parent_id,omitempty"`
	Name     string `json:"name"`
}
