// Package render formats run summaries and gate reports for output.
package render

import (
	"fmt"

	"policypipe/internal/schema"
)

// Summary is the printable view of a finished run: the publish decision
// plus the gate reports that produced it.
type Summary struct {
	Publish      *schema.PublishReport `json:"publish"`
	Quality      *schema.GateReport    `json:"quality,omitempty"`
	Monetization *schema.GateReport    `json:"monetization,omitempty"`
}

// Renderer formats a Summary into bytes for output.
type Renderer interface {
	Render(summary *Summary) ([]byte, error)
}

// NewRenderer returns a Renderer for the given format string.
// Supported formats: "json" (default), "md".
func NewRenderer(format string) (Renderer, error) {
	switch format {
	case "json":
		return &jsonRenderer{}, nil
	case "md":
		return &markdownRenderer{}, nil
	default:
		return nil, fmt.Errorf("unknown format %q: supported formats are json, md", format)
	}
}
