package gate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"policypipe/internal/config"
	"policypipe/internal/schema"
)

const testBaseURL = "https://grants.example.com"

// pageSpec describes one fixture page for buildSite.
type pageSpec struct {
	route     string // relative path, e.g. "grants/p1/index.html"
	title     string
	desc      string
	canonical string // defaults to base + "/" + route
	noindex   bool
	omitOG    bool
	body      string // extra body HTML appended after the content section
	preBody   string // body HTML placed before the content section
	inSitemap bool
}

func detailPage(slug, title string) pageSpec {
	return pageSpec{
		route:     "grants/" + slug + "/index.html",
		title:     title,
		desc:      title + " 지원 대상과 신청 방법 안내",
		inSitemap: true,
	}
}

func indexPage() pageSpec {
	return pageSpec{
		route:     "index.html",
		title:     "정부 지원금 모음",
		desc:      "정부 지원금과 보조금 정보를 한곳에서 확인하세요",
		inSitemap: true,
	}
}

// buildSite writes the fixture pages plus sitemap.xml and robots.txt and
// returns the site directory.
func buildSite(t *testing.T, pages ...pageSpec) string {
	t.Helper()
	dir := t.TempDir()

	var locs []string
	for _, p := range pages {
		canonical := p.canonical
		if canonical == "" {
			canonical = testBaseURL + "/" + p.route
		}
		var sb strings.Builder
		sb.WriteString("<!doctype html>\n<html lang=\"ko\">\n<head>\n")
		fmt.Fprintf(&sb, "<title>%s</title>\n", p.title)
		if canonical != "-" {
			fmt.Fprintf(&sb, "<link rel=\"canonical\" href=\"%s\">\n", canonical)
		}
		if p.desc != "" {
			fmt.Fprintf(&sb, "<meta name=\"description\" content=\"%s\">\n", p.desc)
		}
		if p.noindex {
			sb.WriteString("<meta name=\"robots\" content=\"noindex\">\n")
		}
		if !p.omitOG {
			fmt.Fprintf(&sb, "<meta property=\"og:title\" content=\"%s\">\n", p.title)
			fmt.Fprintf(&sb, "<meta property=\"og:description\" content=\"%s\">\n", p.desc)
		}
		sb.WriteString("</head>\n<body>\n")
		sb.WriteString(p.preBody)
		fmt.Fprintf(&sb, "<section>\n<h1>%s</h1>\n<p>지원 내용과 신청 절차를 정리했습니다.</p>\n", p.title)
		sb.WriteString("<a href=\"/grants/\">지원사업 목록으로 이동</a>\n</section>\n")
		sb.WriteString(p.body)
		sb.WriteString("</body>\n</html>\n")

		path := filepath.Join(dir, filepath.FromSlash(p.route))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
			t.Fatal(err)
		}
		if p.inSitemap && !p.noindex {
			locs = append(locs, canonical)
		}
	}

	var sm strings.Builder
	sm.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	sm.WriteString("<urlset xmlns=\"http://www.sitemaps.org/schemas/sitemap/0.9\">\n")
	for _, loc := range locs {
		fmt.Fprintf(&sm, "  <url><loc>%s</loc></url>\n", loc)
	}
	sm.WriteString("</urlset>\n")
	if err := os.WriteFile(filepath.Join(dir, "sitemap.xml"), []byte(sm.String()), 0o644); err != nil {
		t.Fatal(err)
	}

	robots := "User-agent: *\nAllow: /\nSitemap: " + testBaseURL + "/sitemap.xml\n"
	if err := os.WriteFile(filepath.Join(dir, "robots.txt"), []byte(robots), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func defaultThresholds() config.Thresholds {
	var c config.Config
	c.ApplyDefaults()
	return c.Thresholds
}

func validRecord(id, title string) schema.CanonicalRecord {
	return schema.CanonicalRecord{
		PolicyID:              id,
		Title:                 title,
		Region:                "전국",
		TargetGroup:           "청년",
		Category:              "취업지원",
		EligibilityText:       "만 19세에서 34세 청년",
		BenefitText:           "월 50만원 구직활동 지원",
		ApplicationPeriodText: "상시",
		OfficialURL:           "https://www.gov.kr/portal/" + id,
		SourceAPI:             "gov24",
		SourceOrg:             "고용노동부",
		LastCheckedAt:         "2026-08-24T09:00:00Z",
		Status:                schema.StatusActive,
	}
}

func hasReason(reasons []string, code string) bool {
	for _, r := range reasons {
		if r == code {
			return true
		}
	}
	return false
}
