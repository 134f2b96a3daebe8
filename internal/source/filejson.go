package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"policypipe/internal/config"
)

// fileJSONSource reads rows from a local JSON fixture. Used for fallback
// tier data and for bootstrap runs before API credentials exist.
type fileJSONSource struct {
	cfg config.Source
}

func newFileJSONSource(cfg config.Source) *fileJSONSource {
	return &fileJSONSource{cfg: cfg}
}

func (s *fileJSONSource) ID() string   { return s.cfg.SourceID }
func (s *fileJSONSource) Tier() string { return s.cfg.Tier }

func (s *fileJSONSource) Fetch(ctx context.Context) ([]Row, error) {
	data, err := os.ReadFile(s.cfg.Endpoint)
	if err != nil {
		return nil, &PermanentError{Err: fmt.Errorf("%s: %w", s.cfg.SourceID, err)}
	}
	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &PermanentError{Err: fmt.Errorf("%s: parsing fixture: %w", s.cfg.SourceID, err)}
	}
	return itemsAt(payload, s.cfg.Mapping.ItemsPath), nil
}
