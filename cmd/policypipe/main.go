package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"policypipe/internal/config"
	"policypipe/internal/connector"
	"policypipe/internal/gate"
	"policypipe/internal/pipeline"
	"policypipe/internal/render"
	"policypipe/internal/runstore"
	"policypipe/internal/schema"
	"policypipe/internal/snapshot"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

// exitErr carries a numeric exit code through the cobra error path.
type exitErr struct {
	code int
	msg  string
}

func (e *exitErr) Error() string { return e.msg }

// codeError returns an exitErr for the given code.
func codeError(code int, format string, args ...any) error {
	return &exitErr{code: code, msg: fmt.Sprintf(format, args...)}
}

// runFlags holds the parsed flags for the run command.
type runFlags struct {
	runID       string
	mode        string
	configPath  string
	dataDir     string
	siteDir     string
	siteBaseURL string
	siteCmd     string
	deployDir   string
	format      string
	out         string
	verbose     bool
}

func main() {
	root := &cobra.Command{
		Use:           "policypipe",
		Short:         "Content operations pipeline for government policy data",
		Long:          "policypipe fetches policy registry data, normalizes it into a canonical dataset, runs quality and monetization gates on the generated site, and gates the production deploy on the result.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newFetchCmd())
	root.AddCommand(newQualityGateCmd())
	root.AddCommand(newMonetizeGateCmd())

	if err := root.Execute(); err != nil {
		var ee *exitErr
		if errors.As(err, &ee) {
			if ee.msg != "" {
				fmt.Fprintln(os.Stderr, "Error:", ee.msg)
			}
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a full pipeline run: fetch, normalize, gate, deploy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), flags)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.runID, "run-id", "", "Run identifier; a UUID is generated when omitted")
	f.StringVar(&flags.mode, "mode", schema.ModeDaily, "Run mode: daily or bootstrap")
	f.StringVar(&flags.configPath, "config", "configs/policy_sources.yaml", "Pipeline config file")
	f.StringVar(&flags.dataDir, "data-dir", "artifacts", "Root directory for run artifacts and canonical datasets")
	f.StringVar(&flags.siteDir, "site-dir", "site/dist", "Generated site directory")
	f.StringVar(&flags.siteBaseURL, "site-base-url", "", "Public base URL of the site, used for canonical URL checks")
	f.StringVar(&flags.siteCmd, "site-cmd", "", "Command invoked to generate the site (space separated)")
	f.StringVar(&flags.deployDir, "deploy-dir", "", "Deploy target directory; when empty the run ends without deploying and latest is not rotated")
	f.StringVar(&flags.format, "format", "json", "Output format: json or md")
	f.StringVar(&flags.out, "out", "", "Write the run summary to file instead of stdout")
	f.BoolVar(&flags.verbose, "verbose", false, "Enable debug logging")
	return cmd
}

func runPipeline(ctx context.Context, flags runFlags) error {
	if flags.runID == "" {
		flags.runID = uuid.NewString()
	}
	renderer, err := render.NewRenderer(flags.format)
	if err != nil {
		return codeError(1, "invalid format: %s", err)
	}
	log, err := newLogger(flags.verbose)
	if err != nil {
		return codeError(1, "building logger: %s", err)
	}
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return codeError(1, "loading config: %s", err)
	}

	opts := pipeline.Options{
		RunID:       flags.runID,
		Mode:        flags.mode,
		SiteBaseURL: flags.siteBaseURL,
		SiteDir:     flags.siteDir,
		Config:      cfg,
		Store:       runstore.New(flags.dataDir),
		Snapshots:   snapshot.NewStore(filepath.Join(flags.dataDir, "raw")),
		Log:         log,
	}
	if flags.siteCmd != "" {
		opts.SiteCmd = strings.Fields(flags.siteCmd)
	}
	if flags.deployDir != "" {
		opts.Deployer = &pipeline.DirDeployer{Target: flags.deployDir}
	}

	runner, err := pipeline.NewRunner(opts)
	if err != nil {
		return codeError(1, "%s", err)
	}

	log.Info("pipeline run starting",
		zap.String("run_id", flags.runID),
		zap.String("mode", flags.mode))
	outcome, runErr := runner.Run(ctx)
	if runErr != nil {
		return codeError(1, "run %s failed: %s", flags.runID, runErr)
	}

	summary := &render.Summary{
		Publish:      outcome.Publish,
		Quality:      outcome.Quality,
		Monetization: outcome.Monetization,
	}
	out, err := renderer.Render(summary)
	if err != nil {
		return codeError(1, "rendering summary: %s", err)
	}
	if err := writeOutput(flags.out, out); err != nil {
		return codeError(1, "%s", err)
	}

	if outcome.Decision.BlocksDeploy() {
		return codeError(2, "run %s blocked by hard gate failure", flags.runID)
	}
	return nil
}

func newFetchCmd() *cobra.Command {
	var (
		runID      string
		configPath string
		dataDir    string
		verbose    bool
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch all configured sources and write raw snapshots only",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if runID == "" {
				runID = uuid.NewString()
			}
			log, err := newLogger(verbose)
			if err != nil {
				return codeError(1, "building logger: %s", err)
			}
			defer log.Sync() //nolint:errcheck

			cfg, err := config.Load(configPath)
			if err != nil {
				return codeError(1, "loading config: %s", err)
			}
			conn := connector.New(snapshot.NewStore(filepath.Join(dataDir, "raw")), log)
			result, err := conn.Run(cmd.Context(), cfg.Sources, runID)
			if err != nil {
				return codeError(1, "fetch: %s", err)
			}
			return printJSON(result.Reports)
		},
	}
	f := cmd.Flags()
	f.StringVar(&runID, "run-id", "", "Run identifier; a UUID is generated when omitted")
	f.StringVar(&configPath, "config", "configs/policy_sources.yaml", "Pipeline config file")
	f.StringVar(&dataDir, "data-dir", "artifacts", "Root directory for raw snapshots")
	f.BoolVar(&verbose, "verbose", false, "Enable debug logging")
	return cmd
}

func newQualityGateCmd() *cobra.Command {
	var (
		canonicalPath string
		previousPath  string
		siteDir       string
		siteBaseURL   string
		configPath    string
	)
	cmd := &cobra.Command{
		Use:   "quality-gate",
		Short: "Evaluate the quality gate against a canonical dataset and site",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return codeError(1, "loading config: %s", err)
			}
			records, err := readRecords(canonicalPath)
			if err != nil {
				return codeError(1, "%s", err)
			}
			var previous []schema.CanonicalRecord
			if previousPath != "" {
				if previous, err = readRecords(previousPath); err != nil {
					return codeError(1, "%s", err)
				}
			}
			report, err := gate.Quality(gate.QualityInput{
				Records:     records,
				Previous:    previous,
				SiteDir:     siteDir,
				SiteBaseURL: siteBaseURL,
				Thresholds:  cfg.Thresholds,
			})
			if err != nil {
				return codeError(1, "quality gate: %s", err)
			}
			return printGateReport(report)
		},
	}
	f := cmd.Flags()
	f.StringVar(&canonicalPath, "canonical", "", "Canonical dataset JSON file")
	f.StringVar(&previousPath, "previous", "", "Previous canonical dataset, for volume-drop checks")
	f.StringVar(&siteDir, "site-dir", "", "Generated site directory; dataset-only checks when empty")
	f.StringVar(&siteBaseURL, "site-base-url", "", "Public base URL of the site")
	f.StringVar(&configPath, "config", "configs/policy_sources.yaml", "Pipeline config file")
	_ = cmd.MarkFlagRequired("canonical")
	return cmd
}

func newMonetizeGateCmd() *cobra.Command {
	var (
		siteDir    string
		configPath string
	)
	cmd := &cobra.Command{
		Use:   "monetize-gate",
		Short: "Evaluate the monetization gate against a generated site",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return codeError(1, "loading config: %s", err)
			}
			report, err := gate.Monetize(gate.MonetizeInput{
				SiteDir: siteDir,
				Rules:   cfg.Monetization,
			})
			if err != nil {
				return codeError(1, "monetization gate: %s", err)
			}
			return printGateReport(report)
		},
	}
	f := cmd.Flags()
	f.StringVar(&siteDir, "site-dir", "", "Generated site directory")
	f.StringVar(&configPath, "config", "configs/policy_sources.yaml", "Pipeline config file")
	_ = cmd.MarkFlagRequired("site-dir")
	return cmd
}

// newLogger builds the run logger: production JSON by default, console
// debug output with --verbose.
func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func readRecords(path string) ([]schema.CanonicalRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dataset: %w", err)
	}
	var records []schema.CanonicalRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parsing dataset %s: %w", path, err)
	}
	return records, nil
}

// printGateReport emits the report and maps its decision onto the exit
// code contract: 0 pass or soft_fail, 2 hard_fail.
func printGateReport(report *schema.GateReport) error {
	if err := printJSON(report); err != nil {
		return codeError(1, "%s", err)
	}
	if report.Decision.BlocksDeploy() {
		return codeError(2, "%s gate hard-failed: %s", report.Gate, strings.Join(report.HardReasons, ", "))
	}
	return nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func writeOutput(path string, data []byte) error {
	if path == "" {
		if _, err := os.Stdout.Write(data); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
		if len(data) > 0 && data[len(data)-1] != '\n' {
			fmt.Fprintln(os.Stdout)
		}
		return nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing output file: %w", err)
	}
	return nil
}
