package facet

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Visible computes which definitions must currently be shown, collected and
// validated, given a partial in-progress value set keyed by field name.
//
// This is the single shared implementation for both the form-collection flow
// and the server-side re-check before writes; a value submitted for a field
// this function excludes is rejected as an unexpected field rather than
// stored. Definitions without a conditional_display rule are always visible.
//
// Rules reference sibling fields only and are evaluated in one pass over
// already-known current values, in (order_index, id) order; no fixpoint
// iteration happens.
func Visible(definitions []AttributeDefinition, currentValues map[string]any) map[string]bool {
	ordered := make([]AttributeDefinition, len(definitions))
	copy(ordered, definitions)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].OrderIndex != ordered[j].OrderIndex {
			return ordered[i].OrderIndex < ordered[j].OrderIndex
		}
		return ordered[i].ID < ordered[j].ID
	})

	visible := make(map[string]bool, len(ordered))
	for _, def := range ordered {
		if evalDisplayRule(def.ConditionalDisplay, currentValues) {
			visible[def.FieldName] = true
		}
	}
	return visible
}

func evalDisplayRule(rule *ConditionalDisplay, currentValues map[string]any) bool {
	if rule == nil {
		return true
	}

	dependent, ok := currentValues[rule.DependsOn]
	if !ok {
		dependent = nil
	}

	switch rule.Operator {
	case OperatorEquals:
		return looseEqual(dependent, rule.Value)
	case OperatorNotEquals:
		return !looseEqual(dependent, rule.Value)
	case OperatorContains:
		return containsValue(dependent, rule.Value)
	}
	return false
}

// looseEqual compares two dynamically-typed values. JSON decoding turns all
// numbers into float64, so numeric comparison normalizes first; everything
// else compares strictly by kind and payload.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
		return false
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// containsValue implements the contains operator: element membership for
// array-shaped dependents, substring matching on string forms otherwise.
func containsValue(dependent, want any) bool {
	switch arr := dependent.(type) {
	case []any:
		for _, item := range arr {
			if looseEqual(item, want) {
				return true
			}
		}
		return false
	case []string:
		wantStr := stringForm(want)
		for _, item := range arr {
			if item == wantStr {
				return true
			}
		}
		return false
	case nil:
		return false
	}
	return strings.Contains(stringForm(dependent), stringForm(want))
}

func stringForm(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case nil:
		return ""
	}
	return fmt.Sprintf("%v", v)
}
