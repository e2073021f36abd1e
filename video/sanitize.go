package video

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
)

// bulkyKeys are top-level info fields dropped before storage: per-format
// tables, thumbnail and subtitle lists, and request headers. They dwarf the
// descriptive metadata and nothing downstream reads them.
var bulkyKeys = map[string]struct{}{
	"formats":             {},
	"requested_formats":   {},
	"requested_downloads": {},
	"thumbnails":          {},
	"subtitles":           {},
	"automatic_captions":  {},
	"heatmap":             {},
	"http_headers":        {},
	"fragments":           {},
}

// Metadata returns the sanitized info map stored in VideoDetails.
func Metadata(info map[string]any) map[string]any {
	if info == nil {
		return nil
	}
	out := make(map[string]any, len(info))
	for k, v := range info {
		if _, skip := bulkyKeys[k]; skip {
			continue
		}
		out[k] = Sanitize(v)
	}
	return out
}

// Sanitize converts v into a JSON-safe value built only from nil, bool,
// string, int64, uint64, float64, []any and map[string]any. Maps and slices
// are walked recursively, map keys are stringified, and anything else is
// replaced by its string form.
func Sanitize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case bool, string, int64:
		return t
	case float64:
		return finite(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return finite(f)
		}
		return t.String()
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Sanitize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Sanitize(val)
		}
		return out
	case fmt.Stringer:
		return t.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return finite(rv.Float())
	case reflect.String:
		return rv.String()
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = Sanitize(iter.Value().Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = Sanitize(rv.Index(i).Interface())
		}
		return out
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return Sanitize(rv.Elem().Interface())
	}
	return fmt.Sprint(v)
}

// finite keeps f unless JSON cannot encode it; NaN and the infinities become
// their string form.
func finite(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return f
}
