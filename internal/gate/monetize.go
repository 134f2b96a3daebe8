package gate

import (
	"fmt"
	"path"
	"strings"
	"time"

	"policypipe/internal/config"
	"policypipe/internal/schema"
)

// MonetizeInput carries everything the monetization gate inspects.
type MonetizeInput struct {
	SiteDir  string
	Frontend *schema.FrontendReport
	Rules    config.Monetization
}

// Monetize validates ad placement and policy-risk rules on the generated
// pages. Hard breaches: ad density or position violations, missing trust
// disclaimer near conversion content, denylisted wording, or an empty
// detail-page set. Soft breaches are informational.
func Monetize(in MonetizeInput) (*schema.GateReport, error) {
	report := &schema.GateReport{
		Gate:       "monetization",
		Metrics:    map[string]float64{},
		ComputedAt: time.Now().UTC(),
	}

	pages, err := ScanSite(in.SiteDir, in.Rules.AdSlotMarker)
	if err != nil {
		return nil, fmt.Errorf("scanning site: %w", err)
	}

	detailPages := 0
	var disclaimerMissing, bannedFound, densityBad, positionBad bool
	for _, p := range pages {
		if p.Detail() {
			detailPages++
			if in.Rules.DisclaimerPhrase != "" && !strings.Contains(p.Content, in.Rules.DisclaimerPhrase) {
				disclaimerMissing = true
			}
		}
		for _, phrase := range in.Rules.BannedPhrases {
			if phrase != "" && strings.Contains(p.Content, phrase) {
				bannedFound = true
			}
		}
		if p.AdMarkers > in.Rules.MaxAdsPerPage {
			densityBad = true
		}
		if p.AdBeforeContent {
			positionBad = true
		}
	}
	report.Metrics["detail_pages"] = float64(detailPages)

	if detailPages == 0 {
		report.HardReasons = append(report.HardReasons, schema.ReasonNoDetailPages)
	}
	if disclaimerMissing {
		report.HardReasons = append(report.HardReasons, schema.ReasonDisclaimerMissing)
	}
	if bannedFound {
		report.HardReasons = append(report.HardReasons, schema.ReasonBannedPhraseFound)
	}
	if densityBad {
		report.HardReasons = append(report.HardReasons, schema.ReasonAdDensityViolation)
	}
	if positionBad {
		report.HardReasons = append(report.HardReasons, schema.ReasonAdPositionProhibit)
	}

	if slotMissing(pages, in.Rules) {
		report.SoftReasons = append(report.SoftReasons, schema.ReasonAdSlotMissing)
	}
	if in.Frontend != nil {
		if len(in.Frontend.UnappliedRPMHints) > 0 {
			report.SoftReasons = append(report.SoftReasons, schema.ReasonRPMHintUnapplied)
		}
		if len(in.Frontend.AssetErrors) > 0 {
			report.SoftReasons = append(report.SoftReasons, schema.ReasonAssetPartialFailure)
		}
	}

	report.Decide()
	return report, nil
}

// slotMissing reports whether any page matching a require_slot_on glob
// carries no ad markup at all.
func slotMissing(pages []*Page, rules config.Monetization) bool {
	if len(rules.RequireSlotOn) == 0 {
		return false
	}
	for _, p := range pages {
		for _, glob := range rules.RequireSlotOn {
			ok, err := path.Match(glob, p.Route)
			if err == nil && ok && p.AdMarkers == 0 {
				return true
			}
		}
	}
	return false
}
