// Package config loads the pipeline configuration file: source descriptors,
// gate thresholds, and monetization rules.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Source kinds.
const (
	KindHTTPJSON = "http_json"
	KindFileJSON = "file_json"
)

// Source tiers. Tier decides the hard-fail policy when sources are
// unavailable: fallback data may not substitute for primaries outside
// bootstrap mode.
const (
	TierPrimary   = "primary"
	TierSecondary = "secondary"
	TierFallback  = "fallback"
)

// Auth describes how a source credential is attached to requests.
// The only supported type maps an environment variable onto a query
// parameter, matching the upstream registry APIs.
type Auth struct {
	Type      string `yaml:"type"`       // "none" | "query_key"
	EnvKey    string `yaml:"env_key"`    // environment variable holding the secret
	ParamName string `yaml:"param_name"` // query parameter name, default "serviceKey"
}

// Pagination controls paged fetching for http_json sources.
type Pagination struct {
	Mode      string `yaml:"mode"`       // "none" | "page"
	PageParam string `yaml:"page_param"` // default "page"
	SizeParam string `yaml:"size_param"` // default "perPage"
	StartPage int    `yaml:"start_page"` // default 1
	MaxPages  int    `yaml:"max_pages"`  // default 3
	PageSize  int    `yaml:"page_size"`  // default 100
}

// Mapping declares how raw fields map onto canonical fields for one
// source. Each entry lists raw keys in priority order; the first
// non-empty value wins.
type Mapping struct {
	ItemsPath   string   `yaml:"items_path"` // dotted path to the record array
	IDField     []string `yaml:"id_field"`
	TitleField  []string `yaml:"title_field"`
	RegionField []string `yaml:"region_field"`
	TargetField []string `yaml:"target_field"`
	Category    []string `yaml:"category_field"`
	Eligibility []string `yaml:"eligibility_field"`
	Benefit     []string `yaml:"benefit_field"`
	Period      []string `yaml:"application_period_field"`
	OfficialURL []string `yaml:"official_url_field"`
	SourceOrg   []string `yaml:"source_org_field"`
	UpdatedAt   []string `yaml:"updated_field"`
	DateField   []string `yaml:"date_field"` // used for cutoff-date early stop
}

// Source is one configured data source.
type Source struct {
	SourceID   string            `yaml:"source_id"`
	Name       string            `yaml:"name"`
	Kind       string            `yaml:"kind"`
	Tier       string            `yaml:"tier"`
	Enabled    bool              `yaml:"enabled"`
	Endpoint   string            `yaml:"endpoint"`
	Params     map[string]string `yaml:"params"`
	Auth       Auth              `yaml:"auth"`
	Pagination Pagination        `yaml:"pagination"`
	Mapping    Mapping           `yaml:"mapping"`
	CutoffDate string            `yaml:"cutoff_date"` // YYYY-MM-DD; records older than this stop paging
	Timeout    time.Duration     `yaml:"timeout"`     // default 20s
	MaxRetries int               `yaml:"max_retries"` // default 3
	Backoff    time.Duration     `yaml:"backoff"`     // default 500ms
	MaxBackoff time.Duration     `yaml:"max_backoff"` // default 5s

	// FallbackOfficialURL fills official_url for sources whose rows
	// carry no per-record link.
	FallbackOfficialURL string `yaml:"fallback_official_url"`
}

// Primary reports whether the source counts toward the primary tier.
func (s Source) Primary() bool { return s.Tier == TierPrimary }

// Thresholds are the externally configurable gate limits.
type Thresholds struct {
	NullRatio           float64 `yaml:"null_ratio"`            // default 0.05
	DuplicateRatio      float64 `yaml:"duplicate_ratio"`       // default 0.03
	BrokenLinkRatio     float64 `yaml:"broken_link_ratio"`     // default 0.01
	DuplicateTitleRatio float64 `yaml:"duplicate_title_ratio"` // default 0.03
	WeakAnchorRatio     float64 `yaml:"weak_anchor_ratio"`     // default 0.10
	VolumeDropRatio     float64 `yaml:"volume_drop_ratio"`     // default 0.20
	PageWeightBudget    int     `yaml:"page_weight_budget"`    // bytes per page, default 512 KiB
}

// Monetization holds the ad-placement and policy-risk rules.
type Monetization struct {
	DisclaimerPhrase string   `yaml:"disclaimer_phrase"`
	BannedPhrases    []string `yaml:"banned_phrases"`
	AdSlotMarker     string   `yaml:"ad_slot_marker"`   // substring identifying ad markup
	MaxAdsPerPage    int      `yaml:"max_ads_per_page"` // default 3
	RequireSlotOn    []string `yaml:"require_slot_on"`  // page path globs where a slot is expected (soft)
}

// Config is the whole pipeline configuration file.
type Config struct {
	Sources      []Source     `yaml:"sources"`
	Thresholds   Thresholds   `yaml:"thresholds"`
	Monetization Monetization `yaml:"monetization"`
}

// Load reads and validates a pipeline config file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ApplyDefaults fills zero-valued settings with the documented defaults.
func (c *Config) ApplyDefaults() {
	for i := range c.Sources {
		s := &c.Sources[i]
		if s.Timeout == 0 {
			s.Timeout = 20 * time.Second
		}
		if s.MaxRetries == 0 {
			s.MaxRetries = 3
		}
		if s.Backoff == 0 {
			s.Backoff = 500 * time.Millisecond
		}
		if s.MaxBackoff == 0 {
			s.MaxBackoff = 5 * time.Second
		}
		if s.Tier == "" {
			s.Tier = TierSecondary
		}
		p := &s.Pagination
		if p.Mode == "" {
			p.Mode = "none"
		}
		if p.PageParam == "" {
			p.PageParam = "page"
		}
		if p.SizeParam == "" {
			p.SizeParam = "perPage"
		}
		if p.StartPage == 0 {
			p.StartPage = 1
		}
		if p.MaxPages == 0 {
			p.MaxPages = 3
		}
		if p.PageSize == 0 {
			p.PageSize = 100
		}
		if s.Auth.Type == "" {
			s.Auth.Type = "none"
		}
		if s.Auth.ParamName == "" {
			s.Auth.ParamName = "serviceKey"
		}
	}

	t := &c.Thresholds
	if t.NullRatio == 0 {
		t.NullRatio = 0.05
	}
	if t.DuplicateRatio == 0 {
		t.DuplicateRatio = 0.03
	}
	if t.BrokenLinkRatio == 0 {
		t.BrokenLinkRatio = 0.01
	}
	if t.DuplicateTitleRatio == 0 {
		t.DuplicateTitleRatio = 0.03
	}
	if t.WeakAnchorRatio == 0 {
		t.WeakAnchorRatio = 0.10
	}
	if t.VolumeDropRatio == 0 {
		t.VolumeDropRatio = 0.20
	}
	if t.PageWeightBudget == 0 {
		t.PageWeightBudget = 512 * 1024
	}

	m := &c.Monetization
	if m.MaxAdsPerPage == 0 {
		m.MaxAdsPerPage = 3
	}
	if m.AdSlotMarker == "" {
		m.AdSlotMarker = "adsbygoogle"
	}
}

// Validate returns an error for config values that cannot be defaulted away.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if s.SourceID == "" {
			return fmt.Errorf("source missing source_id")
		}
		if seen[s.SourceID] {
			return fmt.Errorf("duplicate source_id %q", s.SourceID)
		}
		seen[s.SourceID] = true
		switch s.Kind {
		case KindHTTPJSON, KindFileJSON:
		default:
			return fmt.Errorf("source %s: unknown kind %q", s.SourceID, s.Kind)
		}
		switch s.Tier {
		case TierPrimary, TierSecondary, TierFallback:
		default:
			return fmt.Errorf("source %s: unknown tier %q", s.SourceID, s.Tier)
		}
		if s.Endpoint == "" {
			return fmt.Errorf("source %s: endpoint is required", s.SourceID)
		}
		switch s.Auth.Type {
		case "none":
		case "query_key":
			if s.Auth.EnvKey == "" {
				return fmt.Errorf("source %s: query_key auth requires env_key", s.SourceID)
			}
		default:
			return fmt.Errorf("source %s: unsupported auth type %q", s.SourceID, s.Auth.Type)
		}
		switch s.Pagination.Mode {
		case "none", "page":
		default:
			return fmt.Errorf("source %s: unsupported pagination mode %q", s.SourceID, s.Pagination.Mode)
		}
	}
	return nil
}

// PrimaryCount returns how many enabled sources are primary tier.
func (c *Config) PrimaryCount() int {
	n := 0
	for _, s := range c.Sources {
		if s.Enabled && s.Primary() {
			n++
		}
	}
	return n
}
