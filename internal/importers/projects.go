package importers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vitaliisemenov/tr2qase/internal/httpclient"
	"github.com/vitaliisemenov/tr2qase/internal/mapping"
)

// ProjectImporter creates (or reuses) one target project per source project
// and records project_map (spec §2/§3). A project code that already exists
// on the target (listed by GetProjects) is treated as success, not an error
// (spec §7): it is recorded without a create call.
type ProjectImporter struct {
	source *httpclient.TestrailClient
	target *httpclient.QaseClient
	store  *mapping.Store
	logger *slog.Logger
}

// NewProjectImporter builds a ProjectImporter.
func NewProjectImporter(source *httpclient.TestrailClient, target *httpclient.QaseClient, store *mapping.Store, logger *slog.Logger) *ProjectImporter {
	return &ProjectImporter{source: source, target: target, store: store, logger: logger}
}

// Import fetches all source projects, derives a short project code from each
// name, creates the target project, and records project_map[source_id] =
// code.
func (imp *ProjectImporter) Import(ctx context.Context) error {
	projects, err := imp.source.GetProjects(ctx)
	if err != nil {
		return fmt.Errorf("importers: fetching source projects: %w", err)
	}

	existing := make(map[string]struct{})
	if targetProjects, err := imp.target.GetProjects(ctx); err == nil {
		for _, tp := range targetProjects {
			existing[tp.Code] = struct{}{}
		}
	}

	used := make(map[string]struct{})
	for _, p := range projects {
		code := uniqueCode(projectCode(p.Name), used)
		used[code] = struct{}{}

		if _, ok := existing[code]; ok {
			imp.store.ProjectMap[p.ID] = code
			continue
		}
		if err := imp.target.CreateProject(ctx, code, p.Name); err != nil {
			imp.logger.Warn("creating target project failed, skipping its downstream entities",
				slog.String("project", p.Name), slog.Any("error", err))
			continue
		}
		imp.store.ProjectMap[p.ID] = code
	}
	return nil
}

// projectCode derives an uppercase, alphanumeric code from a project name,
// matching the convention Qase project codes require.
func projectCode(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		}
		if b.Len() >= 10 {
			break
		}
	}
	if b.Len() == 0 {
		return "PROJ"
	}
	return b.String()
}

func uniqueCode(base string, used map[string]struct{}) string {
	if _, taken := used[base]; !taken {
		return base
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s%d", base, i)
		if _, taken := used[candidate]; !taken {
			return candidate
		}
	}
}
