// Command migrate drives a one-shot TestRail → Qase migration run. Grounded
// on the teacher's cmd/server/main.go (structured logging setup, signal-
// driven graceful shutdown, /healthz) generalized from a long-running proxy
// to a batch job with an admin listener alongside it, and on
// cmd/template-validator/cmd's cobra command tree for the CLI surface.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/tr2qase/internal/attachments"
	"github.com/vitaliisemenov/tr2qase/internal/checkpoint"
	"github.com/vitaliisemenov/tr2qase/internal/config"
	"github.com/vitaliisemenov/tr2qase/internal/fields"
	"github.com/vitaliisemenov/tr2qase/internal/httpclient"
	"github.com/vitaliisemenov/tr2qase/internal/importers"
	"github.com/vitaliisemenov/tr2qase/internal/logging"
	"github.com/vitaliisemenov/tr2qase/internal/mapping"
	"github.com/vitaliisemenov/tr2qase/internal/orchestrator"
	"github.com/vitaliisemenov/tr2qase/internal/stats"
)

const (
	serviceName    = "tr2qase-migrate"
	serviceVersion = "1.0.0"
	adminPort      = "9090"
)

var configFile string

func main() {
	root := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate a TestRail instance into Qase",
		Long: `migrate copies users, projects, attachments, custom fields, suites,
milestones, configurations, cases, and runs from a TestRail instance into
Qase, in the phase order: users, projects, attachments, fields, then
per-project work (configurations, milestones, suites, cases, runs).`,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to migration config YAML (env TR2QASE_* always applies)")

	root.AddCommand(runCmd(), validateConfigCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s\n", serviceName, serviceVersion)
		},
	}
}

func validateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Load and validate the migration config without running anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			fmt.Printf("config OK: testrail=%s qase=%s prefix=%q preserve_ids=%t\n",
				cfg.Testrail.BaseURL, cfg.Qase.Host, cfg.Prefix, cfg.Tests.PreserveIDs)
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	var resumeRunID string
	var checkpointPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(cmd.Context(), resumeRunID, checkpointPath)
		},
	}
	cmd.Flags().StringVar(&resumeRunID, "run-id", "default", "checkpoint run identifier; reuse to resume a prior attempt")
	cmd.Flags().StringVar(&checkpointPath, "checkpoint-db", "tr2qase_checkpoint.db", "path to the resumable-state SQLite file")
	return cmd
}

func runMigration(ctx context.Context, runID, checkpointPath string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.New(logging.Options{Debug: cfg.Debug})
	logger.Info("starting migration", "service", serviceName, "version", serviceVersion)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	adminSrv := startAdminServer(logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = adminSrv.Shutdown(shutdownCtx)
	}()

	cpStore, err := checkpoint.Open(ctx, checkpointPath, runID, logger)
	if err != nil {
		return fmt.Errorf("opening checkpoint store: %w", err)
	}
	defer cpStore.Close()

	store := mapping.New()
	store.DefaultUser = cfg.Users.Default
	if _, restored, ok, err := cpStore.Resume(ctx); err != nil {
		return fmt.Errorf("resuming checkpoint: %w", err)
	} else if ok {
		logger.Info("resuming from checkpoint", "run_id", runID)
		store = restored
	}

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	sourceBase := httpclient.NewBaseClient(cfg.Testrail.BaseURL, timeout, cfg.Testrail.RequestsPerMinute, logger)
	var session *httpclient.HTMLSession
	if cfg.Testrail.Password != "" {
		session, err = httpclient.NewHTMLSession(ctx, cfg.Testrail.BaseURL, cfg.Testrail.User, cfg.Testrail.Password, logger)
		if err != nil {
			logger.Warn("HTML session login failed; attachment listing is skipped and downloads use the API endpoint", "error", err)
		}
	}
	sourceClient := httpclient.NewTestrailClient(sourceBase, cfg.Testrail.User, cfg.Testrail.APIToken, session, logger)

	// Mirrors original_source/service/qase.py's configuration.host:
	// "{scheme}api.{qase.host}" (v1 and v2 paths are both appended by
	// QaseClient's own per-method request paths).
	scheme := "http://"
	if cfg.Qase.SSL {
		scheme = "https://"
	}
	qaseHost := fmt.Sprintf("%sapi.%s", scheme, cfg.Qase.Host)
	targetBase := httpclient.NewBaseClient(qaseHost, timeout, 0, logger)
	targetClient := httpclient.NewQaseClient(targetBase, cfg.Qase.APIToken)

	atts, err := attachments.New(sourceClient, targetClient, store, attachments.Config{
		CacheDir: "./cache",
		Prefix:   cfg.Prefix,
	}, logger)
	if err != nil {
		return fmt.Errorf("building attachment importer: %w", err)
	}

	reconciler := fields.New(targetClient, store, logger)

	orch := orchestrator.New(sourceClient, targetClient, store, atts, reconciler, orchestrator.Options{
		PreserveIDs:      cfg.Tests.PreserveIDs,
		RefsEnable:       cfg.Tests.Refs.Enable,
		RefsBaseURL:      cfg.Tests.Refs.URL,
		EnterpriseTarget: cfg.Qase.Enterprise,
		UseV2Bulk:        true,
	}, logger)

	sourceFields, err := sourceClient.GetCaseFields(ctx)
	if err != nil {
		return fmt.Errorf("fetching source case fields: %w", err)
	}

	counters := stats.New()
	userLookup := buildUserLookup(ctx, targetClient, logger)

	if err := orch.Run(ctx, userLookup, cfg.Users.Default, sourceFields); err != nil {
		return fmt.Errorf("migration run failed: %w", err)
	}

	if err := cpStore.SavePhase(ctx, checkpoint.PhaseDone, store); err != nil {
		logger.Warn("failed to save final checkpoint", "error", err)
	}

	for _, code := range store.ProjectMap {
		counters.Incr(code, "projects")
	}
	for range store.CaseIDMapping {
		counters.Incr("all", "cases")
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "tr2qase"
	}
	if err := counters.WriteReport(prefix); err != nil {
		logger.Warn("failed writing stats report", "error", err)
	}
	logger.Info(reconciler.Summary())
	logger.Info("migration complete")
	return nil
}

// buildUserLookup would resolve a source email to a target user id via
// Qase's member listing, but the public API exposes no email-indexed user
// lookup; every email falls back to the configured default user (spec §4.3).
func buildUserLookup(ctx context.Context, target *httpclient.QaseClient, logger *slog.Logger) importers.TargetUserLookup {
	return func(email string) (int, bool) {
		return 0, false
	}
}

func startAdminServer(logger *slog.Logger) *http.Server {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    ":" + adminPort,
		Handler: router,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin HTTP server failed", "error", err)
		}
	}()
	return srv
}
