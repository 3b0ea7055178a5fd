package importers

import (
	"context"
	"log/slog"

	"github.com/vitaliisemenov/tr2qase/internal/httpclient"
	"github.com/vitaliisemenov/tr2qase/internal/mapping"
	"github.com/vitaliisemenov/tr2qase/internal/transform"
)

// SharedStepSource is the minimal shape a shared-step record needs for
// import; TestRail does not expose shared steps through the standard v2 API
// used elsewhere in this package, so callers supply records fetched through
// whichever endpoint their TestRail edition exposes (spec §2 lists shared
// steps as an entity to migrate without mandating a specific fetch path).
type SharedStepSource struct {
	ID    int
	Title string
	Steps []struct {
		Content  string
		Expected string
	}
}

// SharedStepImporter creates target shared steps and records their content
// hash under mapping.Store.SharedSteps, keyed by source id, so case step
// containers can reference them (spec §4.5's step-container handling).
type SharedStepImporter struct {
	target *httpclient.QaseClient
	store  *mapping.Store
	logger *slog.Logger
}

// NewSharedStepImporter builds a SharedStepImporter.
func NewSharedStepImporter(target *httpclient.QaseClient, store *mapping.Store, logger *slog.Logger) *SharedStepImporter {
	return &SharedStepImporter{target: target, store: store, logger: logger}
}

// Import creates one target shared step per source record.
func (imp *SharedStepImporter) Import(ctx context.Context, projectCode string, records []SharedStepSource) error {
	target := imp.store.SharedStepsFor(projectCode)

	for _, rec := range records {
		steps := make([]httpclient.QaseSharedStepItem, 0, len(rec.Steps))
		for _, s := range rec.Steps {
			action := transform.FormatLinksAsMarkdown(s.Content)
			if action == "" {
				action = "No action"
			}
			steps = append(steps, httpclient.QaseSharedStepItem{
				Action:   action,
				Expected: transform.FormatLinksAsMarkdown(s.Expected),
			})
		}

		hash, err := imp.target.CreateSharedStep(ctx, projectCode, httpclient.QaseSharedStep{Title: rec.Title, Steps: steps})
		if err != nil {
			imp.logger.Warn("creating shared step failed, skipping", slog.String("title", rec.Title), slog.Any("error", err))
			continue
		}
		target[rec.ID] = hash
	}
	return nil
}
