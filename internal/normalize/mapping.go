package normalize

import (
	"fmt"
	"strings"
)

// pickValue returns the first non-empty value for keys in priority order,
// falling back to defaultKey, then to fallback. Raw values are coerced to
// trimmed strings; numbers keep their JSON rendering.
func pickValue(row map[string]any, keys []string, defaultKey, fallback string) string {
	lookup := keys
	if len(lookup) == 0 {
		lookup = []string{defaultKey}
	}
	for _, key := range lookup {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		v, ok := row[key]
		if !ok || v == nil {
			continue
		}
		text := strings.TrimSpace(stringify(v))
		if text != "" {
			return text
		}
	}
	return fallback
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// JSON numbers decode as float64; render integers without a
		// trailing ".0" so natural keys stay stable.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	case bool:
		return fmt.Sprintf("%t", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
