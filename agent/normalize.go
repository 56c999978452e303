package agent

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
)

// droppedKeys are process-local handles that never leave the process.
var droppedKeys = map[string]bool{
	"agent":                  true,
	"event_loop_cycle_trace": true,
	"event_loop_cycle_span":  true,
	"event_loop_parent_span": true,
	"traces":                 true,
}

// idKeys hold identifiers that are emitted in their canonical string form.
var idKeys = map[string]bool{
	"event_loop_cycle_id":        true,
	"event_loop_parent_cycle_id": true,
}

// Normalize returns the wire form of e.
func Normalize(e Event) map[string]any {
	return NormalizeMap(e.Fields())
}

// NormalizeMap strips process-local handles from m at every depth, turns
// identifiers into strings, and replaces anything that cannot be JSON encoded
// with its string form. It never fails and NormalizeMap(NormalizeMap(m))
// equals NormalizeMap(m).
func NormalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch {
		case droppedKeys[k]:
			continue
		case idKeys[k]:
			if s, ok := idString(v); ok {
				out[k] = s
			}
		default:
			out[k] = normalizeValue(v)
		}
	}
	return out
}

func idString(v any) (string, bool) {
	if isNil(v) {
		return "", false
	}
	switch id := v.(type) {
	case string:
		return id, true
	case fmt.Stringer:
		return id.String(), true
	default:
		return fmt.Sprint(v), true
	}
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case map[string]any:
		return NormalizeMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	case string, bool, int, int32, int64, uint, uint32, uint64:
		return val
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return fmt.Sprint(val)
		}
		return val
	}

	// Typed values are flattened through JSON so nested keys get the same
	// treatment as plain maps.
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return fmt.Sprint(v)
	}
	return normalizeValue(generic)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
