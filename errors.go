package facet

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of error.
type ErrorType string

const (
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeConsistency   ErrorType = "consistency"
	ErrorTypeStorage       ErrorType = "storage"
)

// Error codes.
const (
	// Configuration errors, surfaced at definition-write time.
	ErrCodeDuplicateFieldName = "DUPLICATE_FIELD_NAME"
	ErrCodeInvalidFieldType   = "INVALID_FIELD_TYPE"
	ErrCodeDanglingCondition  = "DANGLING_CONDITION"
	ErrCodeInvalidOperator    = "INVALID_OPERATOR"
	ErrCodeMissingOptions     = "MISSING_OPTIONS"
	ErrCodeInvalidReorder     = "INVALID_REORDER"

	// Validation errors, surfaced per field to the authoring caller.
	ErrCodeNotANumber           = "NOT_A_NUMBER"
	ErrCodeOutOfRange           = "OUT_OF_RANGE"
	ErrCodeTooShort             = "TOO_SHORT"
	ErrCodeTooLong              = "TOO_LONG"
	ErrCodePatternMismatch      = "PATTERN_MISMATCH"
	ErrCodeNotAnOption          = "NOT_AN_OPTION"
	ErrCodeInvalidDate          = "INVALID_DATE"
	ErrCodeInvalidBool          = "INVALID_BOOL"
	ErrCodeInvalidPayload       = "INVALID_PAYLOAD"
	ErrCodeRequiredFieldMissing = "REQUIRED_FIELD_MISSING"

	// Lookup errors.
	ErrCodeDefinitionNotFound = "DEFINITION_NOT_FOUND"
	ErrCodeCategoryNotFound   = "CATEGORY_NOT_FOUND"
	ErrCodeUnknownAttribute   = "UNKNOWN_ATTRIBUTE"
	ErrCodeInvalidFilter      = "INVALID_FILTER"

	// Consistency errors.
	ErrCodeUnexpectedField = "UNEXPECTED_FIELD"

	// Storage errors.
	ErrCodeStorageFailure    = "STORAGE_FAILURE"
	ErrCodeTransactionFailed = "TRANSACTION_FAILED"
)

// FacetError is the structured error returned by every operation of this
// core. Failures are local and synchronous; nothing here is retried
// internally or fatal to the process.
type FacetError struct {
	Type    ErrorType      `json:"type"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Field   string         `json:"field,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *FacetError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s:%s] field '%s': %s", e.Type, e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

func (e *FacetError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a single detail to the error.
func (e *FacetError) WithDetail(key string, value any) *FacetError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause attaches an underlying cause.
func (e *FacetError) WithCause(cause error) *FacetError {
	e.Cause = cause
	return e
}

// WithField attaches field context.
func (e *FacetError) WithField(field string) *FacetError {
	e.Field = field
	return e
}

// NewFacetError creates a new FacetError.
func NewFacetError(errorType ErrorType, code, message string) *FacetError {
	return &FacetError{
		Type:    errorType,
		Code:    code,
		Message: message,
	}
}

// NewDuplicateFieldNameError reports a (category_id, field_name) collision.
func NewDuplicateFieldNameError(categoryID int64, fieldName string) *FacetError {
	return &FacetError{
		Type:    ErrorTypeConfiguration,
		Code:    ErrCodeDuplicateFieldName,
		Message: fmt.Sprintf("field %q already exists in category %d", fieldName, categoryID),
		Field:   fieldName,
		Details: map[string]any{"category_id": categoryID},
	}
}

// NewInvalidFieldTypeError reports an unrecognized field type.
func NewInvalidFieldTypeError(fieldType FieldType) *FacetError {
	return &FacetError{
		Type:    ErrorTypeConfiguration,
		Code:    ErrCodeInvalidFieldType,
		Message: fmt.Sprintf("unrecognized field type %q", fieldType),
	}
}

// NewDanglingConditionError reports a conditional_display rule referencing a
// field that does not exist in the same category.
func NewDanglingConditionError(fieldName, dependsOn string) *FacetError {
	return &FacetError{
		Type:    ErrorTypeConfiguration,
		Code:    ErrCodeDanglingCondition,
		Message: fmt.Sprintf("conditional display depends on unknown field %q", dependsOn),
		Field:   fieldName,
		Details: map[string]any{"depends_on": dependsOn},
	}
}

// NewDefinitionNotFoundError reports an unknown definition id.
func NewDefinitionNotFoundError(id int64) *FacetError {
	return &FacetError{
		Type:    ErrorTypeNotFound,
		Code:    ErrCodeDefinitionNotFound,
		Message: fmt.Sprintf("attribute definition %d not found", id),
		Details: map[string]any{"id": id},
	}
}

// NewUnknownAttributeError reports a filter on a field name that does not
// resolve to any searchable definition of the category. Callers must not
// treat this as "no results".
func NewUnknownAttributeError(fieldName string) *FacetError {
	return &FacetError{
		Type:    ErrorTypeNotFound,
		Code:    ErrCodeUnknownAttribute,
		Message: fmt.Sprintf("unknown searchable attribute %q", fieldName),
		Field:   fieldName,
	}
}

// NewUnexpectedFieldError reports a value submitted for a field the
// visibility evaluator says is currently hidden.
func NewUnexpectedFieldError(fieldName string) *FacetError {
	return &FacetError{
		Type:    ErrorTypeConsistency,
		Code:    ErrCodeUnexpectedField,
		Message: fmt.Sprintf("field %q is hidden by its display condition and cannot accept a value", fieldName),
		Field:   fieldName,
	}
}

// NewValidationFieldError creates a per-field validation error.
func NewValidationFieldError(code, fieldName, message string) *FacetError {
	return &FacetError{
		Type:    ErrorTypeValidation,
		Code:    code,
		Message: message,
		Field:   fieldName,
	}
}

// NewRequiredFieldMissingError reports an absent value for a visible
// required field.
func NewRequiredFieldMissingError(fieldName string) *FacetError {
	return NewValidationFieldError(ErrCodeRequiredFieldMissing, fieldName, "required field is missing")
}

// NewStorageError wraps a storage round-trip failure.
func NewStorageError(message string, cause error) *FacetError {
	return &FacetError{
		Type:    ErrorTypeStorage,
		Code:    ErrCodeStorageFailure,
		Message: message,
		Cause:   cause,
	}
}

// NewTransactionError wraps a transaction failure.
func NewTransactionError(message string, cause error) *FacetError {
	return &FacetError{
		Type:    ErrorTypeStorage,
		Code:    ErrCodeTransactionFailed,
		Message: message,
		Cause:   cause,
	}
}

// NewInvalidFilterError reports a malformed filter request.
func NewInvalidFilterError(message string) *FacetError {
	return &FacetError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeInvalidFilter,
		Message: message,
	}
}

// ============================================================================
// ValidationErrors
// ============================================================================

// ValidationErrors aggregates per-field errors so one submission reports
// every failing field together, not just the first.
type ValidationErrors struct {
	Errors []*FacetError `json:"errors"`
}

// NewValidationErrors creates an empty collection.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{Errors: make([]*FacetError, 0)}
}

func (ve *ValidationErrors) Error() string {
	switch len(ve.Errors) {
	case 0:
		return "no validation errors"
	case 1:
		return ve.Errors[0].Error()
	}
	return fmt.Sprintf("multiple validation errors: %d errors found", len(ve.Errors))
}

// Add appends an error to the collection.
func (ve *ValidationErrors) Add(err *FacetError) {
	ve.Errors = append(ve.Errors, err)
}

// HasErrors reports whether the collection is non-empty.
func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Errors) > 0
}

// ToError returns the collection as an error when non-empty, nil otherwise.
func (ve *ValidationErrors) ToError() error {
	if ve.HasErrors() {
		return ve
	}
	return nil
}

// ByField groups the collected errors by field name.
func (ve *ValidationErrors) ByField() map[string][]*FacetError {
	grouped := make(map[string][]*FacetError)
	for _, err := range ve.Errors {
		grouped[err.Field] = append(grouped[err.Field], err)
	}
	return grouped
}

// ============================================================================
// Error checking utilities
// ============================================================================

func hasCode(err error, code string) bool {
	var fe *FacetError
	if errors.As(err, &fe) {
		return fe.Code == code
	}
	return false
}

// IsDuplicateFieldName checks for a (category_id, field_name) collision.
func IsDuplicateFieldName(err error) bool { return hasCode(err, ErrCodeDuplicateFieldName) }

// IsNotFound checks for an unknown definition or category.
func IsNotFound(err error) bool {
	var fe *FacetError
	if errors.As(err, &fe) {
		return fe.Type == ErrorTypeNotFound
	}
	return false
}

// IsUnknownAttribute checks for a filter on an unresolvable field.
func IsUnknownAttribute(err error) bool { return hasCode(err, ErrCodeUnknownAttribute) }

// IsUnexpectedField checks for a write to a hidden field.
func IsUnexpectedField(err error) bool { return hasCode(err, ErrCodeUnexpectedField) }

// IsValidationError checks whether err is a per-field validation failure or
// an aggregation of them.
func IsValidationError(err error) bool {
	var ve *ValidationErrors
	if errors.As(err, &ve) {
		return true
	}
	var fe *FacetError
	if errors.As(err, &fe) {
		return fe.Type == ErrorTypeValidation
	}
	return false
}
