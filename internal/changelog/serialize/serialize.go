// Package serialize converts arbitrary field values into JSON-safe structural
// form for storage inside diffs. Serialization must never abort an audit
// capture: unsupported shapes degrade to strings instead of failing.
package serialize

import (
	"fmt"
	"reflect"
	"time"

	"retrace/internal/changelog"
)

// TimeLayout is the fixed wire format for timestamps inside diffs.
const TimeLayout = "2006-01-02 15:04:05"

// Location is the store's canonical timezone. Serializing in one location
// discards timezone ambiguity across producers.
var Location = time.UTC

// Value serializes v into a JSON-safe form:
//
//	nil            -> nil
//	scalars        -> themselves
//	time values    -> TimeLayout string in Location
//	entity refs    -> opaque "Type:ID" token
//	sequences      -> element-wise serialized slice
//	anything else  -> best-effort string coercion
func Value(v any) any {
	if v == nil {
		return nil
	}

	switch typed := v.(type) {
	case bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return typed
	case time.Time:
		return typed.In(Location).Format(TimeLayout)
	case *time.Time:
		if typed == nil {
			return nil
		}
		return typed.In(Location).Format(TimeLayout)
	case changelog.Ref:
		return changelog.RefToken(typed)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return Value(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = Value(rv.Index(i).Interface())
		}
		return out
	}

	return fmt.Sprintf("%v", v)
}
