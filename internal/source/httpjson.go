package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"policypipe/internal/config"
)

type httpJSONSource struct {
	cfg    config.Source
	client *http.Client
}

func newHTTPJSONSource(cfg config.Source) *httpJSONSource {
	return &httpJSONSource{cfg: cfg, client: newHTTPClient(cfg.Timeout)}
}

func (s *httpJSONSource) ID() string   { return s.cfg.SourceID }
func (s *httpJSONSource) Tier() string { return s.cfg.Tier }

// Fetch retrieves all pages for the source. Paging continues while pages
// come back full and the page index stays under max_pages; it stops early
// when every record on a page is older than the configured cutoff date,
// since the upstream returns results newest-first.
func (s *httpJSONSource) Fetch(ctx context.Context) ([]Row, error) {
	if s.cfg.Pagination.Mode == "none" {
		return s.fetchPage(ctx, nil)
	}

	p := s.cfg.Pagination
	var all []Row
	for page := p.StartPage; page < p.StartPage+p.MaxPages; page++ {
		params := map[string]string{
			p.PageParam: strconv.Itoa(page),
			p.SizeParam: strconv.Itoa(p.PageSize),
		}
		rows, err := s.fetchPage(ctx, params)
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
		if len(rows) < p.PageSize {
			break
		}
		if s.cfg.CutoffDate != "" && allOlderThan(rows, s.cfg.Mapping.DateField, s.cfg.CutoffDate) {
			break
		}
	}
	return all, nil
}

func (s *httpJSONSource) fetchPage(ctx context.Context, extra map[string]string) ([]Row, error) {
	u, err := s.buildURL(extra)
	if err != nil {
		return nil, &PermanentError{Err: err}
	}

	var rows []Row
	err = retry(ctx, s.cfg.MaxRetries, s.cfg.Backoff, s.cfg.MaxBackoff, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return &PermanentError{Err: err}
		}
		req.Header.Set("Accept", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("%s: %w", s.cfg.SourceID, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode/100 == 4 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return &PermanentError{Err: fmt.Errorf("%s: http %d: %s", s.cfg.SourceID, resp.StatusCode, strings.TrimSpace(string(body)))}
		}
		if resp.StatusCode/100 != 2 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("%s: http %d: %s", s.cfg.SourceID, resp.StatusCode, strings.TrimSpace(string(body)))
		}

		var payload any
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return fmt.Errorf("%s: decoding response: %w", s.cfg.SourceID, err)
		}
		rows = itemsAt(payload, s.cfg.Mapping.ItemsPath)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *httpJSONSource) buildURL(extra map[string]string) (string, error) {
	u, err := url.Parse(s.cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("%s: bad endpoint: %w", s.cfg.SourceID, err)
	}
	q := u.Query()
	for k, v := range s.cfg.Params {
		q.Set(k, v)
	}
	for k, v := range extra {
		q.Set(k, v)
	}
	if s.cfg.Auth.Type == "query_key" {
		secret := os.Getenv(s.cfg.Auth.EnvKey)
		if secret == "" {
			return "", fmt.Errorf("%s: missing secret env %s", s.cfg.SourceID, s.cfg.Auth.EnvKey)
		}
		q.Set(s.cfg.Auth.ParamName, secret)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// allOlderThan reports whether every row's date field (first match from
// keys) compares lexically below cutoff. Dates are YYYY-MM-DD or
// YYYYMMDD; both compare correctly as strings once dashes are stripped.
func allOlderThan(rows []Row, keys []string, cutoff string) bool {
	cutoff = strings.ReplaceAll(cutoff, "-", "")
	if len(rows) == 0 || cutoff == "" {
		return false
	}
	for _, row := range rows {
		date := ""
		for _, k := range keys {
			if v, ok := row[k]; ok {
				if str, ok := v.(string); ok && str != "" {
					date = strings.ReplaceAll(str, "-", "")
					break
				}
			}
		}
		if date == "" || date >= cutoff {
			return false
		}
	}
	return true
}
