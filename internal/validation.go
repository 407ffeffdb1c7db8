package internal

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/openlistings/facet"
)

// Validator applies a definition's validation rules to a proposed value and
// coerces it into the tagged-union shape the value store persists.
type Validator struct {
	mu       sync.RWMutex
	patterns map[string]*regexp.Regexp
}

// NewValidator creates a Validator with an empty pattern cache.
func NewValidator() *Validator {
	return &Validator{patterns: make(map[string]*regexp.Regexp)}
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// Validate checks raw against def's type and rules. On success it returns
// the coerced value; on failure a per-field error carrying the field name.
func (v *Validator) Validate(def *facet.AttributeDefinition, raw any) (facet.Value, *facet.FacetError) {
	value, err := facet.ValueFrom(raw)
	if err != nil {
		return facet.Value{}, facet.NewValidationFieldError(
			facet.ErrCodeInvalidPayload, def.FieldName, err.Error())
	}

	switch def.FieldType {
	case facet.FieldTypeNumber, facet.FieldTypeRange:
		return v.validateNumber(def, value)
	case facet.FieldTypeText, facet.FieldTypeTextarea, facet.FieldTypeTel,
		facet.FieldTypeEmail, facet.FieldTypeURL:
		return v.validateText(def, value)
	case facet.FieldTypeSelect, facet.FieldTypeRadio:
		return v.validateOption(def, value)
	case facet.FieldTypeMultiSelect:
		return v.validateMultiSelect(def, value)
	case facet.FieldTypeCheckbox:
		return v.validateCheckbox(def, value)
	case facet.FieldTypeDate:
		return v.validateDate(def, value)
	}
	return facet.Value{}, facet.NewValidationFieldError(
		facet.ErrCodeInvalidPayload, def.FieldName,
		fmt.Sprintf("definition has unsupported field type %q", def.FieldType))
}

func (v *Validator) validateNumber(def *facet.AttributeDefinition, value facet.Value) (facet.Value, *facet.FacetError) {
	var num float64
	switch value.Kind {
	case facet.ValueKindNumber:
		num = value.Num
	case facet.ValueKindString:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value.Str), 64)
		if err != nil {
			return facet.Value{}, facet.NewValidationFieldError(
				facet.ErrCodeNotANumber, def.FieldName,
				fmt.Sprintf("%q is not a number", value.Str))
		}
		num = parsed
	default:
		return facet.Value{}, facet.NewValidationFieldError(
			facet.ErrCodeNotANumber, def.FieldName,
			fmt.Sprintf("a %s payload is not a number", value.Kind))
	}

	if min, ok := def.ValidationRules.Min(); ok && num < min {
		return facet.Value{}, facet.NewValidationFieldError(
			facet.ErrCodeOutOfRange, def.FieldName,
			fmt.Sprintf("%v is below the minimum %v", num, min))
	}
	if max, ok := def.ValidationRules.Max(); ok && num > max {
		return facet.Value{}, facet.NewValidationFieldError(
			facet.ErrCodeOutOfRange, def.FieldName,
			fmt.Sprintf("%v is above the maximum %v", num, max))
	}
	return facet.NumberValue(num), nil
}

func (v *Validator) validateText(def *facet.AttributeDefinition, value facet.Value) (facet.Value, *facet.FacetError) {
	var text string
	switch value.Kind {
	case facet.ValueKindString:
		text = value.Str
	case facet.ValueKindNumber:
		text = strconv.FormatFloat(value.Num, 'f', -1, 64)
	default:
		return facet.Value{}, facet.NewValidationFieldError(
			facet.ErrCodeInvalidPayload, def.FieldName,
			fmt.Sprintf("a %s payload is not text", value.Kind))
	}

	if minLen, ok := def.ValidationRules.MinLength(); ok && len([]rune(text)) < minLen {
		return facet.Value{}, facet.NewValidationFieldError(
			facet.ErrCodeTooShort, def.FieldName,
			fmt.Sprintf("must be at least %d characters", minLen))
	}
	if maxLen, ok := def.ValidationRules.MaxLength(); ok && len([]rune(text)) > maxLen {
		return facet.Value{}, facet.NewValidationFieldError(
			facet.ErrCodeTooLong, def.FieldName,
			fmt.Sprintf("must be at most %d characters", maxLen))
	}
	if pattern, ok := def.ValidationRules.Pattern(); ok {
		re, err := v.compiled(pattern)
		if err != nil {
			return facet.Value{}, facet.NewValidationFieldError(
				facet.ErrCodePatternMismatch, def.FieldName,
				fmt.Sprintf("invalid pattern %q: %v", pattern, err))
		}
		if !re.MatchString(text) {
			return facet.Value{}, facet.NewValidationFieldError(
				facet.ErrCodePatternMismatch, def.FieldName,
				fmt.Sprintf("value does not match pattern %q", pattern))
		}
	}
	return facet.StringValue(text), nil
}

func (v *Validator) validateOption(def *facet.AttributeDefinition, value facet.Value) (facet.Value, *facet.FacetError) {
	if value.Kind != facet.ValueKindString {
		return facet.Value{}, facet.NewValidationFieldError(
			facet.ErrCodeNotAnOption, def.FieldName,
			fmt.Sprintf("a %s payload cannot match an option", value.Kind))
	}
	if !def.FieldOptions.Contains(value.Str) {
		return facet.Value{}, facet.NewValidationFieldError(
			facet.ErrCodeNotAnOption, def.FieldName,
			fmt.Sprintf("%q is not an allowed option", value.Str))
	}
	return value, nil
}

func (v *Validator) validateMultiSelect(def *facet.AttributeDefinition, value facet.Value) (facet.Value, *facet.FacetError) {
	var items []string
	switch value.Kind {
	case facet.ValueKindArray:
		items = value.Arr
	case facet.ValueKindString:
		// A single selection arrives as a bare scalar from some form clients.
		items = []string{value.Str}
	default:
		return facet.Value{}, facet.NewValidationFieldError(
			facet.ErrCodeNotAnOption, def.FieldName,
			fmt.Sprintf("a %s payload is not a selection list", value.Kind))
	}
	for _, item := range items {
		if !def.FieldOptions.Contains(item) {
			return facet.Value{}, facet.NewValidationFieldError(
				facet.ErrCodeNotAnOption, def.FieldName,
				fmt.Sprintf("%q is not an allowed option", item))
		}
	}
	return facet.ArrayValue(items), nil
}

func (v *Validator) validateCheckbox(def *facet.AttributeDefinition, value facet.Value) (facet.Value, *facet.FacetError) {
	switch value.Kind {
	case facet.ValueKindBool:
		return value, nil
	case facet.ValueKindString:
		switch strings.ToLower(strings.TrimSpace(value.Str)) {
		case "true", "1", "on", "yes":
			return facet.BoolValue(true), nil
		case "false", "0", "off", "no", "":
			return facet.BoolValue(false), nil
		}
	case facet.ValueKindNumber:
		return facet.BoolValue(value.Num != 0), nil
	}
	return facet.Value{}, facet.NewValidationFieldError(
		facet.ErrCodeInvalidBool, def.FieldName, "value cannot be coerced to a boolean")
}

func (v *Validator) validateDate(def *facet.AttributeDefinition, value facet.Value) (facet.Value, *facet.FacetError) {
	if value.Kind != facet.ValueKindString {
		return facet.Value{}, facet.NewValidationFieldError(
			facet.ErrCodeInvalidDate, def.FieldName,
			fmt.Sprintf("a %s payload is not a date", value.Kind))
	}
	text := strings.TrimSpace(value.Str)
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, text); err == nil {
			return facet.StringValue(text), nil
		}
	}
	return facet.Value{}, facet.NewValidationFieldError(
		facet.ErrCodeInvalidDate, def.FieldName,
		fmt.Sprintf("%q is not a calendar date", text))
}

func (v *Validator) compiled(pattern string) (*regexp.Regexp, error) {
	v.mu.RLock()
	re, ok := v.patterns[pattern]
	v.mu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.patterns[pattern] = re
	v.mu.Unlock()
	return re, nil
}
