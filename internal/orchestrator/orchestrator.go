// Package orchestrator sequences the migration's phases per spec §5: a
// strict users → projects → attachments → fields → per-project ordering,
// with per-project sub-phases (configurations → milestones → suites → cases
// → runs; shared steps are not imported) sequential within a project but up to 8 projects
// running concurrently. Grounded on the teacher's cooperative task-graph
// shape in internal/infrastructure/publishing (goroutine-per-unit-of-work
// fanned out through a bounded pool), generalized from one entity kind to
// the ordered phase graph this spec requires.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vitaliisemenov/tr2qase/internal/attachments"
	"github.com/vitaliisemenov/tr2qase/internal/fields"
	"github.com/vitaliisemenov/tr2qase/internal/httpclient"
	"github.com/vitaliisemenov/tr2qase/internal/importers"
	"github.com/vitaliisemenov/tr2qase/internal/mapping"
	"github.com/vitaliisemenov/tr2qase/internal/pool"
)

// maxConcurrentProjects bounds per-project fan-out (spec §5: "up to 8 at a time").
const maxConcurrentProjects = 8

// defaultTargetPriorityTitles are Qase's stock priority titles, used as the
// comparison set for system-enum mapping (spec §4.4) since the target API
// does not expose a priorities-listing endpoint the way the source does.
var defaultTargetPriorityTitles = map[string]int{
	"Low":    1,
	"Medium": 2,
	"High":   3,
	"Urgent": 4,
}

// Project describes one source project discovered during the projects phase.
type Project struct {
	SourceID  int
	Code      string
	SuiteMode int
}

// Options carries the per-run toggles the orchestrator threads through to
// the importers it drives.
type Options struct {
	PreserveIDs      bool
	RefsEnable       bool
	RefsBaseURL      string
	EnterpriseTarget bool
	UseV2Bulk        bool
}

// Orchestrator wires every importer together and drives the phase sequence.
type Orchestrator struct {
	source *httpclient.TestrailClient
	target *httpclient.QaseClient
	store  *mapping.Store
	logger *slog.Logger

	users      *importers.UserImporter
	projects   *importers.ProjectImporter
	atts       *attachments.Importer
	reconciler *fields.Reconciler
	structure  *importers.StructureImporter
	cases      *importers.CaseImporter
	runs       *importers.RunImporter

	opts Options
}

// New builds an Orchestrator from already-constructed components; the
// caller (cmd/migrate) owns client/config lifetime.
func New(
	source *httpclient.TestrailClient,
	target *httpclient.QaseClient,
	store *mapping.Store,
	atts *attachments.Importer,
	reconciler *fields.Reconciler,
	opts Options,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		source:     source,
		target:     target,
		store:      store,
		logger:     logger,
		users:      importers.NewUserImporter(source, store, logger),
		projects:   importers.NewProjectImporter(source, target, store, logger),
		atts:       atts,
		reconciler: reconciler,
		structure:  importers.NewStructureImporter(source, target, store, logger),
		cases:      importers.NewCaseImporter(source, target, store, atts, logger),
		runs:       importers.NewRunImporter(source, target, store, logger),
		opts:       opts,
	}
}

// Run executes the full migration: users, projects, attachments, fields,
// then per-project work fanned out through a bounded pool (spec §5).
func (o *Orchestrator) Run(ctx context.Context, userLookup importers.TargetUserLookup, defaultUserID int, sourceFields []httpclient.TestrailCaseField) error {
	if err := o.users.Import(ctx, userLookup, defaultUserID); err != nil {
		return fmt.Errorf("orchestrator: users phase: %w", err)
	}

	if err := o.projects.Import(ctx); err != nil {
		return fmt.Errorf("orchestrator: projects phase: %w", err)
	}

	if err := o.atts.ImportAll(ctx); err != nil {
		o.logger.Warn("attachments phase completed with errors", slog.Any("error", err))
	}

	projectIDToCode := make(map[int]string, len(o.store.ProjectMap))
	for id, code := range o.store.ProjectMap {
		projectIDToCode[id] = code
	}
	if err := o.reconciler.Reconcile(ctx, sourceFields, projectIDToCode, fields.ReconcileOptions{
		RefsEnable:  o.opts.RefsEnable,
		PreserveIDs: o.opts.PreserveIDs,
	}); err != nil {
		return fmt.Errorf("orchestrator: fields phase: %w", err)
	}

	if sourcePriorities, err := o.source.GetPriorities(ctx); err == nil {
		labels := make(map[int]string, len(sourcePriorities))
		for _, p := range sourcePriorities {
			labels[p.ID] = p.Name
		}
		o.reconciler.ReconcileSystemEnums(labels, defaultTargetPriorityTitles)
	} else {
		o.logger.Warn("fetching source priorities failed, system priority mapping falls back to defaults", slog.Any("error", err))
	}

	return o.runProjectsPhase(ctx, projectIDToCode)
}

func (o *Orchestrator) runProjectsPhase(ctx context.Context, projectIDToCode map[int]string) error {
	projectPool := pool.NewSourcePool(maxConcurrentProjects)

	futures := make([]*pool.Future, 0, len(projectIDToCode))
	for sourceID, code := range projectIDToCode {
		sourceID, code := sourceID, code
		f, err := projectPool.Submit(ctx, func(ctx context.Context) error {
			return o.runOneProject(ctx, sourceID, code)
		})
		if err != nil {
			return fmt.Errorf("orchestrator: submitting project %s: %w", code, err)
		}
		futures = append(futures, f)
	}

	var firstErr error
	for _, f := range futures {
		if err := f.Wait(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// runOneProject drives one project's sequential sub-phases: configurations,
// milestones, suites, cases, runs. Shared steps are not imported: neither
// this package nor cmd/migrate runs importers.SharedStepImporter, and case
// steps are always written inline.
func (o *Orchestrator) runOneProject(ctx context.Context, sourceProjectID int, code string) error {
	if err := o.structure.ImportConfigurations(ctx, sourceProjectID, code); err != nil {
		o.logger.Warn("configurations import failed for project", slog.String("project", code), slog.Any("error", err))
	}

	if err := o.structure.ImportMilestones(ctx, sourceProjectID, code); err != nil {
		o.logger.Warn("milestones import failed for project", slog.String("project", code), slog.Any("error", err))
	}

	if err := o.structure.ImportSuites(ctx, sourceProjectID, 0, code); err != nil {
		o.logger.Warn("suites import failed for project", slog.String("project", code), slog.Any("error", err))
	}

	if err := o.cases.Import(ctx, sourceProjectID, 0, importers.CaseImporterConfig{
		ProjectCode:      code,
		PreserveIDs:      o.opts.PreserveIDs,
		RefsEnable:       o.opts.RefsEnable,
		RefsBaseURL:      o.opts.RefsBaseURL,
		EnterpriseTarget: o.opts.EnterpriseTarget,
	}); err != nil {
		o.logger.Warn("case import failed for project", slog.String("project", code), slog.Any("error", err))
	}

	if err := o.runs.Import(ctx, sourceProjectID, importers.RunImporterConfig{
		ProjectCode: code,
		UseV2Bulk:   o.opts.UseV2Bulk,
	}); err != nil {
		o.logger.Warn("run import failed for project", slog.String("project", code), slog.Any("error", err))
	}

	return nil
}
