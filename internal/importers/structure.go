// structure.go implements the per-project structural importers that run
// between field reconciliation and case import: configurations, milestones,
// and suites. Shared-step import is in sharedsteps.go.
package importers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vitaliisemenov/tr2qase/internal/httpclient"
	"github.com/vitaliisemenov/tr2qase/internal/mapping"
)

// StructureImporter imports the per-project entities that cases and runs
// depend on.
type StructureImporter struct {
	source *httpclient.TestrailClient
	target *httpclient.QaseClient
	store  *mapping.Store
	logger *slog.Logger
}

// NewStructureImporter builds a StructureImporter.
func NewStructureImporter(source *httpclient.TestrailClient, target *httpclient.QaseClient, store *mapping.Store, logger *slog.Logger) *StructureImporter {
	return &StructureImporter{source: source, target: target, store: store, logger: logger}
}

// ImportConfigurations imports configuration groups for one project.
func (imp *StructureImporter) ImportConfigurations(ctx context.Context, sourceProjectID int, projectCode string) error {
	groups, err := imp.source.GetConfigs(ctx, sourceProjectID)
	if err != nil {
		return fmt.Errorf("importers: fetching configs for project %d: %w", sourceProjectID, err)
	}

	configs := imp.store.ConfigurationsFor(projectCode)
	for _, g := range groups {
		target := httpclient.QaseConfigurationGroup{Title: g.Name}
		for _, v := range g.Configs {
			target.Values = append(target.Values, httpclient.QaseConfigurationValue{Title: v.Name})
		}

		_, err := imp.target.CreateConfigurationGroup(ctx, projectCode, target)
		if err != nil {
			imp.logger.Warn("creating configuration group failed, skipping", slog.String("group", g.Name), slog.Any("error", err))
			continue
		}

		groupMap := make(map[int]int, len(g.Configs))
		for i, v := range g.Configs {
			groupMap[v.ID] = i + 1
		}
		configs[g.Name] = groupMap
	}
	return nil
}

// ImportMilestones imports milestones for one project.
func (imp *StructureImporter) ImportMilestones(ctx context.Context, sourceProjectID int, projectCode string) error {
	milestones, err := imp.source.GetMilestones(ctx, sourceProjectID)
	if err != nil {
		return fmt.Errorf("importers: fetching milestones for project %d: %w", sourceProjectID, err)
	}

	target := imp.store.MilestonesFor(projectCode)
	for _, m := range milestones {
		id, err := imp.target.CreateMilestone(ctx, projectCode, httpclient.QaseMilestone{Title: m.Name})
		if err != nil {
			imp.logger.Warn("creating milestone failed, skipping", slog.String("milestone", m.Name), slog.Any("error", err))
			continue
		}
		target[m.ID] = int(id)
	}
	return nil
}

// ImportSuites imports the suite hierarchy for one project. TestRail
// "sections" become Qase "suites"; the mapping store follows spec §3's
// naming (Suites keyed by section id).
func (imp *StructureImporter) ImportSuites(ctx context.Context, sourceProjectID, sourceSuiteID int, projectCode string) error {
	sections, err := imp.source.GetSections(ctx, sourceProjectID, sourceSuiteID)
	if err != nil {
		return fmt.Errorf("importers: fetching sections for project %d: %w", sourceProjectID, err)
	}

	target := imp.store.SuitesFor(projectCode)

	// Parent sections must be created before their children so ParentID
	// can be resolved; a single pass suffices because TestRail returns
	// sections in a parent-first order within get_sections.
	for _, sec := range sections {
		var parent *int64
		if sec.ParentID != nil {
			if pid, ok := target[*sec.ParentID]; ok {
				p := int64(pid)
				parent = &p
			}
		}

		id, err := imp.target.CreateSuite(ctx, projectCode, httpclient.QaseSuite{Title: sec.Name, ParentID: parent})
		if err != nil {
			imp.logger.Warn("creating suite failed, skipping", slog.String("suite", sec.Name), slog.Any("error", err))
			continue
		}
		target[sec.ID] = int(id)
	}
	return nil
}
