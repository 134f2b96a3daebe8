// Package gate implements the quality and monetization gates. Gates
// never return breaches as errors: every rule violation is recorded as a
// reason code on the report, and the decision follows strict precedence
// (any hard breach forces hard_fail regardless of soft state).
package gate

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"policypipe/internal/config"
	"policypipe/internal/schema"
)

// requiredFields are the canonical fields counted in the null-ratio
// metric, matching the published record contract.
var requiredFields = []func(*schema.CanonicalRecord) string{
	func(r *schema.CanonicalRecord) string { return r.PolicyID },
	func(r *schema.CanonicalRecord) string { return r.Title },
	func(r *schema.CanonicalRecord) string { return r.Region },
	func(r *schema.CanonicalRecord) string { return r.TargetGroup },
	func(r *schema.CanonicalRecord) string { return r.Category },
	func(r *schema.CanonicalRecord) string { return r.EligibilityText },
	func(r *schema.CanonicalRecord) string { return r.BenefitText },
	func(r *schema.CanonicalRecord) string { return r.ApplicationPeriodText },
	func(r *schema.CanonicalRecord) string { return r.OfficialURL },
	func(r *schema.CanonicalRecord) string { return r.SourceOrg },
	func(r *schema.CanonicalRecord) string { return r.LastCheckedAt },
	func(r *schema.CanonicalRecord) string { return r.Status },
}

// weakAnchors are link texts too generic to describe their target.
var weakAnchors = map[string]bool{
	"click here": true,
	"here":       true,
	"link":       true,
	"read more":  true,
	"더보기":        true,
	"바로가기":       true,
	"클릭":         true,
}

// QualityInput carries everything the quality gate inspects.
type QualityInput struct {
	Records     []schema.CanonicalRecord
	Previous    []schema.CanonicalRecord
	SiteDir     string
	SiteBaseURL string
	Thresholds  config.Thresholds
}

// Quality validates the canonical dataset and the generated site and
// returns the gate report. Only I/O problems (unreadable site dir) are
// errors; every rule outcome lands in the report.
func Quality(in QualityInput) (*schema.GateReport, error) {
	report := &schema.GateReport{
		Gate:       "quality",
		Metrics:    map[string]float64{},
		ComputedAt: time.Now().UTC(),
	}

	checkDataset(in, report)

	if in.SiteDir != "" {
		pages, err := ScanSite(in.SiteDir, "")
		if err != nil {
			return nil, fmt.Errorf("scanning site: %w", err)
		}
		checkPages(pages, in, report)
		checkSitemap(pages, in.SiteDir, report)
		checkRobots(in.SiteDir, report)
	}

	report.Decide()
	return report, nil
}

func checkDataset(in QualityInput, report *schema.GateReport) {
	records := in.Records
	total := len(records)
	if total == 0 {
		total = 1
	}

	missingURL := 0
	nullCount := 0
	badLinks, links := 0, 0
	ids := make(map[string]int, len(records))
	dupIDs := 0
	for i := range records {
		rec := &records[i]
		if strings.TrimSpace(rec.OfficialURL) == "" {
			missingURL++
		} else {
			links++
			if !absoluteURL(rec.OfficialURL) {
				badLinks++
			}
		}
		for _, f := range requiredFields {
			if strings.TrimSpace(f(rec)) == "" {
				nullCount++
			}
		}
		if rec.PolicyID != "" {
			ids[rec.PolicyID]++
			if ids[rec.PolicyID] > 1 {
				dupIDs++
			}
		}
	}

	nullRatio := float64(nullCount) / float64(total*len(requiredFields))
	dupRatio := 0.0
	if len(records) > 0 {
		dupRatio = float64(dupIDs) / float64(len(records))
	}
	brokenRatio := 0.0
	if links > 0 {
		brokenRatio = float64(badLinks) / float64(links)
	}
	report.Metrics["total_records"] = float64(len(records))
	report.Metrics["null_ratio"] = nullRatio
	report.Metrics["duplicate_ratio"] = dupRatio
	report.Metrics["broken_link_ratio"] = brokenRatio

	if missingURL > 0 {
		report.HardReasons = append(report.HardReasons, schema.ReasonOfficialURLMissing)
	}
	if nullRatio > in.Thresholds.NullRatio {
		report.HardReasons = append(report.HardReasons, schema.ReasonNullRatioExceeded)
	}
	if dupRatio > in.Thresholds.DuplicateRatio {
		report.HardReasons = append(report.HardReasons, schema.ReasonDuplicateIDExceeded)
	}
	if brokenRatio > in.Thresholds.BrokenLinkRatio {
		report.HardReasons = append(report.HardReasons, schema.ReasonBrokenLinkExceeded)
	}

	if len(in.Previous) > 0 {
		drop := float64(len(in.Previous)-len(records)) / float64(len(in.Previous))
		report.Metrics["volume_drop_ratio"] = drop
		if drop > in.Thresholds.VolumeDropRatio {
			report.SoftReasons = append(report.SoftReasons, schema.ReasonVolumeDrop)
		}
	}
}

func checkPages(pages []*Page, in QualityInput, report *schema.GateReport) {
	base := strings.TrimRight(in.SiteBaseURL, "/")

	var (
		canonicalMissing, canonicalBad bool
		titleEmpty, descEmpty          bool
		overBudget                     bool
		ogMissing                      bool
		titles, descs                  = map[string]int{}, map[string]int{}
		indexable, dupTitles, dupDescs int
		anchors, weak                  int
	)

	for _, p := range pages {
		if !p.Indexable {
			continue
		}
		indexable++

		if p.CanonicalURL == "" {
			canonicalMissing = true
		} else if !absoluteURL(p.CanonicalURL) || (base != "" && !strings.HasPrefix(p.CanonicalURL, base)) {
			canonicalBad = true
		}
		if p.Title == "" {
			titleEmpty = true
		} else {
			titles[p.Title]++
			if titles[p.Title] > 1 {
				dupTitles++
			}
		}
		if p.MetaDescription == "" {
			descEmpty = true
		} else {
			descs[p.MetaDescription]++
			if descs[p.MetaDescription] > 1 {
				dupDescs++
			}
		}
		if p.Bytes > in.Thresholds.PageWeightBudget {
			overBudget = true
		}
		if p.Detail() && (p.OGTitle == "" || p.OGDescription == "") {
			ogMissing = true
		}
		for _, text := range p.AnchorTexts {
			anchors++
			if weakAnchors[strings.ToLower(text)] {
				weak++
			}
		}
	}

	report.Metrics["indexable_pages"] = float64(indexable)

	if canonicalMissing {
		report.HardReasons = append(report.HardReasons, schema.ReasonCanonicalTagMissing)
	}
	if canonicalBad {
		report.HardReasons = append(report.HardReasons, schema.ReasonCanonicalURLMalformed)
	}
	if titleEmpty {
		report.HardReasons = append(report.HardReasons, schema.ReasonTitleEmpty)
	}
	if descEmpty {
		report.HardReasons = append(report.HardReasons, schema.ReasonMetaDescriptionEmpty)
	}
	if overBudget {
		report.HardReasons = append(report.HardReasons, schema.ReasonPageWeightExceeded)
	}

	if indexable > 0 {
		dupRatio := float64(dupTitles+dupDescs) / float64(indexable)
		report.Metrics["duplicate_title_ratio"] = dupRatio
		if dupRatio > in.Thresholds.DuplicateTitleRatio {
			report.SoftReasons = append(report.SoftReasons, schema.ReasonDuplicateTitleRatio)
		}
	}
	if ogMissing {
		report.SoftReasons = append(report.SoftReasons, schema.ReasonOGTagsMissing)
	}
	if anchors > 0 {
		weakRatio := float64(weak) / float64(anchors)
		report.Metrics["weak_anchor_ratio"] = weakRatio
		if weakRatio > in.Thresholds.WeakAnchorRatio {
			report.SoftReasons = append(report.SoftReasons, schema.ReasonWeakAnchorRatio)
		}
	}
}

type sitemapURLSet struct {
	URLs []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

// checkSitemap requires every indexable page's canonical URL to appear in
// sitemap.xml. Pages without a canonical tag are already hard-failed by
// the page checks and are skipped here.
func checkSitemap(pages []*Page, siteDir string, report *schema.GateReport) {
	data, err := os.ReadFile(filepath.Join(siteDir, "sitemap.xml"))
	if err != nil {
		report.HardReasons = append(report.HardReasons, schema.ReasonSitemapCoverage)
		return
	}
	var set sitemapURLSet
	if err := xml.Unmarshal(data, &set); err != nil {
		report.HardReasons = append(report.HardReasons, schema.ReasonSitemapCoverage)
		return
	}
	listed := make(map[string]bool, len(set.URLs))
	for _, u := range set.URLs {
		listed[strings.TrimSpace(u.Loc)] = true
	}
	report.Metrics["sitemap_entries"] = float64(len(listed))

	for _, p := range pages {
		if !p.Indexable || p.CanonicalURL == "" {
			continue
		}
		if !listed[p.CanonicalURL] {
			report.HardReasons = append(report.HardReasons, schema.ReasonSitemapCoverage)
			return
		}
	}
}

// checkRobots requires a sitemap-discovery reference in robots.txt.
func checkRobots(siteDir string, report *schema.GateReport) {
	data, err := os.ReadFile(filepath.Join(siteDir, "robots.txt"))
	if err != nil || !strings.Contains(strings.ToLower(string(data)), "sitemap:") {
		report.HardReasons = append(report.HardReasons, schema.ReasonRobotsSitemapMissing)
	}
}

func absoluteURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
