// Package source implements the data-source connectors. Each source kind
// fetches raw rows from a registry endpoint or a local fixture file; the
// connector layer above runs them and snapshots the results.
package source

import (
	"context"
	"fmt"

	"policypipe/internal/config"
)

// Row is one raw record as returned by a source. The shape is
// source-specific and opaque until the normalizer applies the mapping.
type Row = map[string]any

// Source fetches the raw rows for one configured data source.
type Source interface {
	ID() string
	Tier() string
	Fetch(ctx context.Context) ([]Row, error)
}

// New returns a Source for the given descriptor.
func New(c config.Source) (Source, error) {
	switch c.Kind {
	case config.KindHTTPJSON:
		return newHTTPJSONSource(c), nil
	case config.KindFileJSON:
		return newFileJSONSource(c), nil
	default:
		return nil, fmt.Errorf("unknown source kind: %s", c.Kind)
	}
}

// itemsAt walks a dotted path into a decoded JSON payload and returns
// the record array found there. An empty path means the payload itself
// is the array.
func itemsAt(payload any, path string) []Row {
	cur := payload
	if path != "" {
		for _, token := range splitPath(path) {
			m, ok := cur.(map[string]any)
			if !ok {
				return nil
			}
			cur, ok = m[token]
			if !ok {
				return nil
			}
		}
	}
	arr, ok := cur.([]any)
	if !ok {
		return nil
	}
	rows := make([]Row, 0, len(arr))
	for _, it := range arr {
		if m, ok := it.(map[string]any); ok {
			rows = append(rows, m)
		}
	}
	return rows
}

func splitPath(path string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '.' {
			if i > start {
				out = append(out, path[start:i])
			}
			start = i + 1
		}
	}
	return out
}
