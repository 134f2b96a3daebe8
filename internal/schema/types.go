package schema

import "time"

// CanonicalRecord is the unit of truth for a single policy/benefit item.
// Records are immutable once written to a run's canonical dataset.
type CanonicalRecord struct {
	PolicyID              string `json:"policy_id"`
	Title                 string `json:"title"`
	Region                string `json:"region,omitempty"`
	TargetGroup           string `json:"target_group,omitempty"`
	Category              string `json:"category,omitempty"`
	EligibilityText       string `json:"eligibility_text,omitempty"`
	BenefitText           string `json:"benefit_text,omitempty"`
	ApplicationPeriodText string `json:"application_period_text,omitempty"`
	OfficialURL           string `json:"official_url"`

	// Provenance: every record traces back to exactly one raw snapshot.
	SourceAPI       string `json:"source_api"`
	SourceOrg       string `json:"source_org"`
	SourceUpdatedAt string `json:"source_updated_at,omitempty"`
	LastCheckedAt   string `json:"last_checked_at"`

	Status     string `json:"status"`
	ChangeType string `json:"change_type,omitempty"`
}

// Record statuses.
const (
	StatusActive = "active"
	StatusClosed = "closed"
)

// Change types assigned during normalization against the previous dataset.
const (
	ChangeCreated   = "created"
	ChangeUpdated   = "updated"
	ChangeUnchanged = "unchanged"
	ChangeClosed    = "closed"
)

// Decision is the outcome of a gate or of a whole run.
type Decision string

const (
	DecisionPass     Decision = "pass"
	DecisionSoftFail Decision = "soft_fail"
	DecisionHardFail Decision = "hard_fail"
)

// DecisionOrdinal returns the severity ordering used when combining
// decisions. pass(0) < soft_fail(1) < hard_fail(2). Returns -1 for an
// unrecognised decision.
func DecisionOrdinal(d Decision) int {
	switch d {
	case DecisionPass:
		return 0
	case DecisionSoftFail:
		return 1
	case DecisionHardFail:
		return 2
	default:
		return -1
	}
}

// CombineDecisions returns the most severe of the given decisions.
// An empty input combines to pass.
func CombineDecisions(decisions ...Decision) Decision {
	out := DecisionPass
	for _, d := range decisions {
		if DecisionOrdinal(d) > DecisionOrdinal(out) {
			out = d
		}
	}
	return out
}

// BlocksDeploy reports whether a decision blocks deployment.
// Only hard_fail blocks; soft_fail is recorded and continues.
func (d Decision) BlocksDeploy() bool { return d == DecisionHardFail }

// Quality gate reason codes. Hard codes block deploy unconditionally.
const (
	ReasonOfficialURLMissing    = "official_url_missing"
	ReasonNullRatioExceeded     = "null_ratio_exceeded"
	ReasonDuplicateIDExceeded   = "duplicate_id_ratio_exceeded"
	ReasonBrokenLinkExceeded    = "broken_link_ratio_exceeded"
	ReasonCanonicalTagMissing   = "canonical_tag_missing"
	ReasonCanonicalURLMalformed = "canonical_url_malformed"
	ReasonTitleEmpty            = "title_empty"
	ReasonMetaDescriptionEmpty  = "meta_description_empty"
	ReasonSitemapCoverage       = "sitemap_coverage_missing"
	ReasonRobotsSitemapMissing  = "robots_sitemap_missing"
	ReasonPageWeightExceeded    = "page_weight_budget_exceeded"

	ReasonDuplicateTitleRatio = "duplicate_title_ratio_exceeded"
	ReasonOGTagsMissing       = "og_tags_missing"
	ReasonWeakAnchorRatio     = "weak_anchor_ratio_exceeded"
	ReasonVolumeDrop          = "record_volume_drop"
)

// Monetization gate reason codes.
const (
	ReasonAdDensityViolation  = "ad_density_violation"
	ReasonAdPositionProhibit  = "ad_position_prohibited"
	ReasonDisclaimerMissing   = "disclaimer_missing"
	ReasonBannedPhraseFound   = "banned_phrase_found"
	ReasonNoDetailPages       = "no_detail_pages"
	ReasonAdSlotMissing       = "ad_slot_missing"
	ReasonRPMHintUnapplied    = "rpm_recommendation_unapplied"
	ReasonAssetPartialFailure = "asset_generation_partial"
)

// GateReport is the immutable output of one gate for one run.
type GateReport struct {
	Gate          string             `json:"gate"`
	Decision      Decision           `json:"decision"`
	HardReasons   []string           `json:"hard_fail"`
	SoftReasons   []string           `json:"soft_fail"`
	Metrics       map[string]float64 `json:"metrics,omitempty"`
	ArtifactPaths []string           `json:"artifact_paths,omitempty"`
	ComputedAt    time.Time          `json:"computed_at"`
}

// Reasons returns all reason codes, hard first.
func (r *GateReport) Reasons() []string {
	out := make([]string, 0, len(r.HardReasons)+len(r.SoftReasons))
	out = append(out, r.HardReasons...)
	out = append(out, r.SoftReasons...)
	return out
}

// Decide sets the report decision from its recorded reasons: any hard
// reason forces hard_fail regardless of soft state.
func (r *GateReport) Decide() {
	switch {
	case len(r.HardReasons) > 0:
		r.Decision = DecisionHardFail
	case len(r.SoftReasons) > 0:
		r.Decision = DecisionSoftFail
	default:
		r.Decision = DecisionPass
	}
}

// Run modes.
const (
	ModeDaily     = "daily"
	ModeBootstrap = "bootstrap"
)

// Run statuses recorded in the run metadata file. Success is reserved
// for runs whose deploy step confirmed completion; a gate-passing run
// without a configured deploy target ends as no_deploy.
const (
	RunRunning  = "running"
	RunFailed   = "failed"
	RunSuccess  = "success"
	RunNoDeploy = "no_deploy"
)

// RunMeta is the run metadata file, rewritten at each stage transition.
type RunMeta struct {
	RunID     string         `json:"run_id"`
	Mode      string         `json:"mode"`
	Status    string         `json:"status"`
	Stage     string         `json:"stage"`
	StartedAt time.Time      `json:"started_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Details   map[string]any `json:"details,omitempty"`
}

// FetchReport records the outcome of one source fetch within a run.
type FetchReport struct {
	SourceID string `json:"source_id"`
	Tier     string `json:"tier"`
	OK       bool   `json:"ok"`
	Rows     int    `json:"rows"`
	Error    string `json:"error,omitempty"`
}

// Change is one entry in the per-run changes artifact.
type Change struct {
	PolicyID   string `json:"policy_id"`
	ChangeType string `json:"change_type"`
	Title      string `json:"title"`
	Diff       string `json:"diff,omitempty"`
}

// FrontendReport carries page-generation side information consumed by
// the monetization gate: asset generation outcomes and RPM optimization
// recommendations that have not been applied to templates yet.
type FrontendReport struct {
	GeneratedPages    int      `json:"generated_pages"`
	AssetErrors       []string `json:"asset_errors,omitempty"`
	UnappliedRPMHints []string `json:"unapplied_rpm_hints,omitempty"`
}

// Manifest summarises the generated site for a run.
type Manifest struct {
	RunID          string    `json:"run_id"`
	GeneratedPages int       `json:"generated_pages"`
	SitemapEntries int       `json:"sitemap_entries"`
	BuildID        string    `json:"build_id"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// PublishReport is the orchestrator's final verdict artifact.
type PublishReport struct {
	RunID                string    `json:"run_id"`
	DeployReady          bool      `json:"deploy_ready"`
	Deployed             bool      `json:"deployed"`
	QualityDecision      Decision  `json:"quality_decision"`
	MonetizationDecision Decision  `json:"monetization_decision"`
	RecordCount          int       `json:"record_count"`
	SiteBaseURL          string    `json:"site_base_url"`
	Timestamp            time.Time `json:"timestamp"`
}
