// Package pipeline sequences the run stages: source connector, canonical
// normalizer, external page generation, quality and monetization gates,
// and the final deploy decision. Stages pass immutable artifacts forward;
// each stage starts only after its predecessor fully completed.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"policypipe/internal/config"
	"policypipe/internal/connector"
	"policypipe/internal/gate"
	"policypipe/internal/normalize"
	"policypipe/internal/runstore"
	"policypipe/internal/schema"
	"policypipe/internal/snapshot"
)

// Options configures one pipeline run.
type Options struct {
	RunID       string
	Mode        string   // schema.ModeDaily or schema.ModeBootstrap
	SiteBaseURL string
	SiteDir     string   // generated site location (external page generator output)
	SiteCmd     []string // optional command to invoke the external generator

	Config    *config.Config
	Store     *runstore.Store
	Snapshots *snapshot.Store
	Deployer  Deployer // nil ends gate-passing runs as no_deploy, without rotating latest
	Log       *zap.Logger
}

// Outcome is the terminal state of a run.
type Outcome struct {
	Decision     schema.Decision
	Quality      *schema.GateReport
	Monetization *schema.GateReport
	Publish      *schema.PublishReport
}

// Runner executes pipeline runs. A failed run is terminal; re-running
// requires a new invocation with a new run_id.
type Runner struct {
	opts Options
	meta *schema.RunMeta
}

// NewRunner validates options and returns a Runner.
func NewRunner(opts Options) (*Runner, error) {
	if opts.RunID == "" {
		return nil, errors.New("run id is required")
	}
	switch opts.Mode {
	case schema.ModeDaily, schema.ModeBootstrap:
	default:
		return nil, fmt.Errorf("unknown mode %q", opts.Mode)
	}
	if opts.Config == nil || opts.Store == nil || opts.Snapshots == nil {
		return nil, errors.New("config, store, and snapshot store are required")
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Runner{opts: opts}, nil
}

// Run executes the full pipeline. A hard gate decision or a fatal
// pipeline error returns a hard_fail outcome; the latest canonical
// dataset and the production deploy are left untouched in both cases.
func (r *Runner) Run(ctx context.Context) (*Outcome, error) {
	opts := r.opts
	r.meta = &schema.RunMeta{
		RunID:     opts.RunID,
		Mode:      opts.Mode,
		Status:    schema.RunRunning,
		StartedAt: time.Now().UTC(),
		Details:   map[string]any{},
	}
	r.stage("start")

	outcome, err := r.run(ctx)
	if err != nil {
		r.fail(err)
		if outcome == nil {
			outcome = &Outcome{Decision: schema.DecisionHardFail}
		}
		return outcome, err
	}
	return outcome, nil
}

func (r *Runner) run(ctx context.Context) (*Outcome, error) {
	opts := r.opts
	log := opts.Log

	// --- Stage 1: source connector (full join) ---
	r.stage("fetch")
	conn := connector.New(opts.Snapshots, log)
	fetched, err := conn.Run(ctx, opts.Config.Sources, opts.RunID)
	if err != nil {
		return nil, fmt.Errorf("connector: %w", err)
	}
	if _, err := opts.Store.WriteArtifact(opts.RunID, "fetch/report.json", fetched.Reports); err != nil {
		return nil, err
	}
	if opts.Config.PrimaryCount() > 0 && fetched.PrimariesSucceeded() == 0 && opts.Mode != schema.ModeBootstrap {
		return nil, errors.New("all primary sources failed")
	}

	// --- Stage 2: canonical normalizer ---
	r.stage("normalize")
	previous, err := opts.Store.ReadLatest()
	if err != nil {
		return nil, err
	}
	normalized, err := normalize.Normalize(fetched.Rows, opts.Config.Sources, previous, opts.Mode, time.Now())
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	canonicalPath, err := opts.Store.WriteArtifact(opts.RunID, "canonical/policies.json", normalized.Records)
	if err != nil {
		return nil, err
	}
	if _, err := opts.Store.WriteArtifact(opts.RunID, "changes/changes.json", normalized.Changes); err != nil {
		return nil, err
	}
	log.Info("canonical dataset built",
		zap.Int("records", len(normalized.Records)),
		zap.Int("previous", len(previous)))

	// --- Stage 3: external page generation ---
	r.stage("generate")
	if len(opts.SiteCmd) > 0 {
		if err := r.runSiteCmd(ctx, canonicalPath); err != nil {
			return nil, fmt.Errorf("site generation: %w", err)
		}
	}
	if _, err := os.Stat(opts.SiteDir); err != nil {
		return nil, fmt.Errorf("site dir not available: %w", err)
	}

	// --- Stage 4: gates ---
	r.stage("gates")
	quality, err := gate.Quality(gate.QualityInput{
		Records:     normalized.Records,
		Previous:    previous,
		SiteDir:     opts.SiteDir,
		SiteBaseURL: opts.SiteBaseURL,
		Thresholds:  opts.Config.Thresholds,
	})
	if err != nil {
		return nil, fmt.Errorf("quality gate: %w", err)
	}
	quality.ArtifactPaths = []string{canonicalPath, opts.SiteDir}
	qualityPath, err := opts.Store.WriteArtifact(opts.RunID, "quality/report.json", quality)
	if err != nil {
		return nil, err
	}

	frontend := r.loadFrontendReport()
	monetization, err := gate.Monetize(gate.MonetizeInput{
		SiteDir:  opts.SiteDir,
		Frontend: frontend,
		Rules:    opts.Config.Monetization,
	})
	if err != nil {
		return nil, fmt.Errorf("monetization gate: %w", err)
	}
	monetizationPath, err := opts.Store.WriteArtifact(opts.RunID, "monetization/report.json", monetization)
	if err != nil {
		return nil, err
	}
	log.Info("gates evaluated",
		zap.String("quality", string(quality.Decision)),
		zap.String("monetization", string(monetization.Decision)))

	manifest := &schema.Manifest{
		RunID:          opts.RunID,
		GeneratedPages: int(quality.Metrics["indexable_pages"]),
		SitemapEntries: int(quality.Metrics["sitemap_entries"]),
		BuildID:        buildID(),
		GeneratedAt:    time.Now().UTC(),
	}
	if _, err := opts.Store.WriteArtifact(opts.RunID, "pages/manifest.json", manifest); err != nil {
		return nil, err
	}

	// --- Stage 5: decision + deploy ---
	decision := schema.CombineDecisions(quality.Decision, monetization.Decision)
	publish := &schema.PublishReport{
		RunID:                opts.RunID,
		DeployReady:          !decision.BlocksDeploy(),
		QualityDecision:      quality.Decision,
		MonetizationDecision: monetization.Decision,
		RecordCount:          len(normalized.Records),
		SiteBaseURL:          opts.SiteBaseURL,
		Timestamp:            time.Now().UTC(),
	}
	outcome := &Outcome{
		Decision:     decision,
		Quality:      quality,
		Monetization: monetization,
		Publish:      publish,
	}

	if decision.BlocksDeploy() {
		if _, err := opts.Store.WriteArtifact(opts.RunID, "publish/report.json", publish); err != nil {
			return outcome, err
		}
		r.meta.Status = schema.RunFailed
		r.meta.Details["quality"] = string(quality.Decision)
		r.meta.Details["monetization"] = string(monetization.Decision)
		r.stage("gates_failed")
		log.Warn("deploy blocked by hard gate",
			zap.Strings("quality_reasons", quality.HardReasons),
			zap.Strings("monetization_reasons", monetization.HardReasons),
			zap.String("quality_report", qualityPath),
			zap.String("monetization_report", monetizationPath))
		return outcome, nil
	}

	if opts.Deployer == nil {
		// Gates cleared but nothing confirmed a deploy. The run must not
		// close as success, and latest must not advance past what
		// production actually serves.
		if _, err := opts.Store.WriteArtifact(opts.RunID, "publish/report.json", publish); err != nil {
			return outcome, err
		}
		r.meta.Status = schema.RunNoDeploy
		r.meta.Details["quality"] = string(quality.Decision)
		r.meta.Details["monetization"] = string(monetization.Decision)
		r.stage("deploy_skipped")
		log.Warn("no deploy target configured; latest canonical not rotated",
			zap.String("run_id", opts.RunID))
		return outcome, nil
	}

	r.stage("deploy")
	if err := opts.Deployer.Deploy(ctx, opts.SiteDir); err != nil {
		return outcome, fmt.Errorf("deploy: %w", err)
	}
	// The latest pointer moves only after the deploy confirmed, so an
	// interrupted run never advances the dataset the next run diffs against.
	if err := opts.Store.PublishLatest(normalized.Records); err != nil {
		return outcome, err
	}
	publish.Deployed = true
	if _, err := opts.Store.WriteArtifact(opts.RunID, "publish/report.json", publish); err != nil {
		return outcome, err
	}

	r.meta.Status = schema.RunSuccess
	r.meta.Details["quality"] = string(quality.Decision)
	r.meta.Details["monetization"] = string(monetization.Decision)
	r.meta.Details["records"] = len(normalized.Records)
	r.stage("completed")
	return outcome, nil
}

func (r *Runner) runSiteCmd(ctx context.Context, canonicalPath string) error {
	args := append([]string(nil), r.opts.SiteCmd[1:]...)
	cmd := exec.CommandContext(ctx, r.opts.SiteCmd[0], args...)
	cmd.Env = append(os.Environ(),
		"CANONICAL_PATH="+canonicalPath,
		"SITE_DIR="+r.opts.SiteDir,
		"SITE_BASE_URL="+r.opts.SiteBaseURL,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(out))
	}
	return nil
}

// loadFrontendReport reads the page generator's report if it left one in
// the run directory. Absent report means no soft signals, not an error.
func (r *Runner) loadFrontendReport() *schema.FrontendReport {
	path := filepath.Join(r.opts.Store.RunDir(r.opts.RunID), "frontend", "report.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var report schema.FrontendReport
	if err := json.Unmarshal(data, &report); err != nil {
		r.opts.Log.Warn("unreadable frontend report", zap.String("path", path), zap.Error(err))
		return nil
	}
	return &report
}

// stage records a stage transition in the run metadata file. Metadata
// write failures are logged, never fatal: the run itself matters more.
func (r *Runner) stage(name string) {
	r.meta.Stage = name
	if err := r.opts.Store.WriteMeta(r.meta); err != nil {
		r.opts.Log.Warn("writing run meta", zap.Error(err))
	}
}

func (r *Runner) fail(err error) {
	r.meta.Status = schema.RunFailed
	r.meta.Details["error"] = err.Error()
	r.stage("failed")
}

func buildID() string {
	if sha := os.Getenv("GITHUB_SHA"); sha != "" {
		return sha
	}
	return "local"
}
