package render

import (
	"encoding/json"
)

type jsonRenderer struct{}

func (r *jsonRenderer) Render(summary *Summary) ([]byte, error) {
	return json.MarshalIndent(summary, "", "  ")
}
