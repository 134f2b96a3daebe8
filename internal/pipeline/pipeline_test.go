package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"policypipe/internal/config"
	"policypipe/internal/runstore"
	"policypipe/internal/schema"
	"policypipe/internal/snapshot"
)

const (
	testBaseURL    = "https://grants.example.com"
	testDisclaimer = "본 페이지는 참고용이며, 정확한 내용은 공식 기관 안내를 확인하세요"
	adSlot         = `<ins class="adsbygoogle" data-ad-slot="1234"></ins>`
)

// writeFixture writes the raw source fixture with gate-complete rows.
func writeFixture(t *testing.T, rows string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.json")
	if err := os.WriteFile(path, []byte(rows), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testConfig(t *testing.T, fixturePath string) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Sources: []config.Source{{
			SourceID: "gov24",
			Kind:     config.KindFileJSON,
			Tier:     config.TierPrimary,
			Enabled:  true,
			Endpoint: fixturePath,
			Mapping: config.Mapping{
				ItemsPath:   "data",
				IDField:     []string{"id"},
				TitleField:  []string{"title"},
				Eligibility: []string{"eligibility"},
				Benefit:     []string{"benefit"},
				Period:      []string{"period"},
				OfficialURL: []string{"url"},
			},
		}},
		Monetization: config.Monetization{DisclaimerPhrase: testDisclaimer},
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	return cfg
}

const fixtureRows = `{"data": [
  {"id": "P1", "title": "청년 구직활동 지원금", "url": "https://www.gov.kr/portal/p1",
   "eligibility": "만 19세에서 34세 청년", "benefit": "월 50만원", "period": "상시"},
  {"id": "P2", "title": "소상공인 경영안정 자금", "url": "https://www.gov.kr/portal/p2",
   "eligibility": "소상공인", "benefit": "최대 7천만원 융자", "period": "2026-12-31까지"}
]}`

// buildSite writes a gate-compliant generated site: indexable pages with
// canonical tags, sitemap and robots, disclaimer and one in-content ad
// slot on each detail page.
func buildSite(t *testing.T, withRobots bool) string {
	t.Helper()
	dir := t.TempDir()

	writePage := func(route, title string, detail bool) string {
		canonical := testBaseURL + "/" + route
		var sb strings.Builder
		sb.WriteString("<!doctype html>\n<html lang=\"ko\">\n<head>\n")
		fmt.Fprintf(&sb, "<title>%s</title>\n<link rel=\"canonical\" href=\"%s\">\n", title, canonical)
		fmt.Fprintf(&sb, "<meta name=\"description\" content=\"%s 안내\">\n", title)
		fmt.Fprintf(&sb, "<meta property=\"og:title\" content=\"%s\">\n<meta property=\"og:description\" content=\"%s 안내\">\n", title, title)
		sb.WriteString("</head>\n<body>\n<section>\n")
		fmt.Fprintf(&sb, "<h1>%s</h1>\n<p>지원 내용과 신청 절차를 정리했습니다.</p>\n", title)
		sb.WriteString("<a href=\"/grants/\">지원사업 목록으로 이동</a>\n")
		if detail {
			fmt.Fprintf(&sb, "<p>%s</p>\n%s\n", testDisclaimer, adSlot)
		}
		sb.WriteString("</section>\n</body>\n</html>\n")

		path := filepath.Join(dir, filepath.FromSlash(route))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
			t.Fatal(err)
		}
		return canonical
	}

	locs := []string{
		writePage("index.html", "정부 지원금 모음", false),
		writePage("grants/p1/index.html", "청년 구직활동 지원금", true),
		writePage("grants/p2/index.html", "소상공인 경영안정 자금", true),
	}

	var sm strings.Builder
	sm.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n<urlset xmlns=\"http://www.sitemaps.org/schemas/sitemap/0.9\">\n")
	for _, loc := range locs {
		fmt.Fprintf(&sm, "  <url><loc>%s</loc></url>\n", loc)
	}
	sm.WriteString("</urlset>\n")
	if err := os.WriteFile(filepath.Join(dir, "sitemap.xml"), []byte(sm.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	if withRobots {
		robots := "User-agent: *\nAllow: /\nSitemap: " + testBaseURL + "/sitemap.xml\n"
		if err := os.WriteFile(filepath.Join(dir, "robots.txt"), []byte(robots), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func newTestRunner(t *testing.T, runID, siteDir string, store *runstore.Store, snaps *snapshot.Store, deployTarget string) *Runner {
	t.Helper()
	cfg := testConfig(t, writeFixture(t, fixtureRows))
	opts := Options{
		RunID:       runID,
		Mode:        schema.ModeDaily,
		SiteBaseURL: testBaseURL,
		SiteDir:     siteDir,
		Config:      cfg,
		Store:       store,
		Snapshots:   snaps,
	}
	if deployTarget != "" {
		opts.Deployer = &DirDeployer{Target: deployTarget}
	}
	r, err := NewRunner(opts)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func readMeta(t *testing.T, store *runstore.Store, runID string) schema.RunMeta {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(store.RunDir(runID), "run_meta.json"))
	if err != nil {
		t.Fatal(err)
	}
	var meta schema.RunMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatal(err)
	}
	return meta
}

func TestRun_PassingRunDeploysAndPublishes(t *testing.T) {
	dataDir := t.TempDir()
	store := runstore.New(dataDir)
	snaps := snapshot.NewStore(filepath.Join(dataDir, "raw"))
	deployTarget := filepath.Join(t.TempDir(), "public")

	r := newTestRunner(t, "run-1", buildSite(t, true), store, snaps, deployTarget)
	outcome, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Decision != schema.DecisionPass {
		t.Fatalf("decision = %q; quality hard=%v soft=%v, monetization hard=%v soft=%v",
			outcome.Decision,
			outcome.Quality.HardReasons, outcome.Quality.SoftReasons,
			outcome.Monetization.HardReasons, outcome.Monetization.SoftReasons)
	}
	if !outcome.Publish.DeployReady || !outcome.Publish.Deployed {
		t.Errorf("publish flags = ready %v deployed %v", outcome.Publish.DeployReady, outcome.Publish.Deployed)
	}

	// Latest dataset published.
	latest, err := store.ReadLatest()
	if err != nil {
		t.Fatal(err)
	}
	if len(latest) != 2 {
		t.Errorf("latest has %d records, want 2", len(latest))
	}

	// Deploy target holds the generated site.
	if _, err := os.Stat(filepath.Join(deployTarget, "grants", "p1", "index.html")); err != nil {
		t.Errorf("deploy target missing page: %v", err)
	}

	// Run artifacts in place.
	for _, rel := range []string{
		"fetch/report.json", "canonical/policies.json", "changes/changes.json",
		"quality/report.json", "monetization/report.json", "pages/manifest.json",
		"publish/report.json", "run_meta.json",
	} {
		if _, err := os.Stat(filepath.Join(store.RunDir("run-1"), rel)); err != nil {
			t.Errorf("artifact %s missing: %v", rel, err)
		}
	}

	meta := readMeta(t, store, "run-1")
	if meta.Status != schema.RunSuccess || meta.Stage != "completed" {
		t.Errorf("meta = %s/%s, want success/completed", meta.Status, meta.Stage)
	}
}

func TestRun_HardFailBlocksDeployAndLatest(t *testing.T) {
	dataDir := t.TempDir()
	store := runstore.New(dataDir)
	snaps := snapshot.NewStore(filepath.Join(dataDir, "raw"))
	deployTarget := filepath.Join(t.TempDir(), "public")

	// Site without robots.txt: quality gate hard-fails.
	r := newTestRunner(t, "run-1", buildSite(t, false), store, snaps, deployTarget)
	outcome, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("gate failure is a decision, not an error: %v", err)
	}
	if outcome.Decision != schema.DecisionHardFail {
		t.Fatalf("decision = %q, want hard_fail", outcome.Decision)
	}
	if outcome.Publish.DeployReady || outcome.Publish.Deployed {
		t.Errorf("publish flags = ready %v deployed %v, want false/false",
			outcome.Publish.DeployReady, outcome.Publish.Deployed)
	}

	// Neither the deploy target nor the latest dataset advanced.
	if _, err := os.Stat(deployTarget); !os.IsNotExist(err) {
		t.Error("deploy target created despite hard failure")
	}
	latest, err := store.ReadLatest()
	if err != nil {
		t.Fatal(err)
	}
	if latest != nil {
		t.Errorf("latest dataset published despite hard failure: %v", latest)
	}

	// The publish report still records the blocked verdict for audit.
	if _, err := os.Stat(filepath.Join(store.RunDir("run-1"), "publish", "report.json")); err != nil {
		t.Errorf("publish report missing: %v", err)
	}
	meta := readMeta(t, store, "run-1")
	if meta.Status != schema.RunFailed || meta.Stage != "gates_failed" {
		t.Errorf("meta = %s/%s, want failed/gates_failed", meta.Status, meta.Stage)
	}
}

func TestRun_SecondRunTracksChanges(t *testing.T) {
	dataDir := t.TempDir()
	store := runstore.New(dataDir)
	snaps := snapshot.NewStore(filepath.Join(dataDir, "raw"))
	site := buildSite(t, true)
	deployTarget := filepath.Join(t.TempDir(), "public")

	r1 := newTestRunner(t, "run-1", site, store, snaps, deployTarget)
	if _, err := r1.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	r2 := newTestRunner(t, "run-2", site, store, snaps, deployTarget)
	outcome, err := r2.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if outcome.Decision != schema.DecisionPass {
		t.Fatalf("decision = %q", outcome.Decision)
	}

	var canonical []schema.CanonicalRecord
	data, err := os.ReadFile(filepath.Join(store.RunDir("run-2"), "canonical", "policies.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, &canonical); err != nil {
		t.Fatal(err)
	}
	for _, rec := range canonical {
		if rec.ChangeType != schema.ChangeUnchanged {
			t.Errorf("record %s change = %q, want unchanged on identical input", rec.PolicyID, rec.ChangeType)
		}
	}
}

func TestRun_NoDeployerNeverClosesSuccess(t *testing.T) {
	dataDir := t.TempDir()
	store := runstore.New(dataDir)
	snaps := snapshot.NewStore(filepath.Join(dataDir, "raw"))

	// Gates pass, but no deploy target is configured: the run must not
	// count as success and latest must not advance.
	r := newTestRunner(t, "run-1", buildSite(t, true), store, snaps, "")
	outcome, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Decision != schema.DecisionPass {
		t.Fatalf("decision = %q; quality hard=%v, monetization hard=%v",
			outcome.Decision, outcome.Quality.HardReasons, outcome.Monetization.HardReasons)
	}
	if !outcome.Publish.DeployReady {
		t.Error("gate-passing run should be deploy ready")
	}
	if outcome.Publish.Deployed {
		t.Error("publish report claims a deploy that never ran")
	}

	latest, err := store.ReadLatest()
	if err != nil {
		t.Fatal(err)
	}
	if latest != nil {
		t.Errorf("latest dataset rotated without a confirmed deploy: %v", latest)
	}

	meta := readMeta(t, store, "run-1")
	if meta.Status == schema.RunSuccess {
		t.Error("run closed success without a deploy step")
	}
	if meta.Status != schema.RunNoDeploy || meta.Stage != "deploy_skipped" {
		t.Errorf("meta = %s/%s, want no_deploy/deploy_skipped", meta.Status, meta.Stage)
	}
}

func TestRun_AllPrimariesFailedIsFatal(t *testing.T) {
	dataDir := t.TempDir()
	store := runstore.New(dataDir)
	snaps := snapshot.NewStore(filepath.Join(dataDir, "raw"))

	cfg := testConfig(t, filepath.Join(t.TempDir(), "missing.json"))
	r, err := NewRunner(Options{
		RunID:       "run-1",
		Mode:        schema.ModeDaily,
		SiteBaseURL: testBaseURL,
		SiteDir:     buildSite(t, true),
		Config:      cfg,
		Store:       store,
		Snapshots:   snaps,
	})
	if err != nil {
		t.Fatal(err)
	}
	outcome, err := r.Run(context.Background())
	if err == nil {
		t.Fatal("expected error when every primary source fails in daily mode")
	}
	if outcome.Decision != schema.DecisionHardFail {
		t.Errorf("decision = %q, want hard_fail", outcome.Decision)
	}
	meta := readMeta(t, store, "run-1")
	if meta.Status != schema.RunFailed {
		t.Errorf("meta status = %s, want failed", meta.Status)
	}
}

func TestNewRunner_Validation(t *testing.T) {
	if _, err := NewRunner(Options{}); err == nil {
		t.Error("empty options must be rejected")
	}
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	if _, err := NewRunner(Options{
		RunID:     "r",
		Mode:      "hourly",
		Config:    cfg,
		Store:     runstore.New(t.TempDir()),
		Snapshots: snapshot.NewStore(t.TempDir()),
	}); err == nil {
		t.Error("unknown mode must be rejected")
	}
}
