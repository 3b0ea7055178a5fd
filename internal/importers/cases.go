// cases.go implements the case importer of spec §4.5, the heaviest single
// translation surface: per-field custom-field routing, refs rendering, step
// containers, and the ID-safety rules of caseid.go. Grounded on
// original_source/entities/cases.py's _import_custom_fields_for_case and its
// sibling per-type branches.
package importers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vitaliisemenov/tr2qase/internal/attachments"
	"github.com/vitaliisemenov/tr2qase/internal/httpclient"
	"github.com/vitaliisemenov/tr2qase/internal/mapping"
	"github.com/vitaliisemenov/tr2qase/internal/transform"
)

// sourceFieldPrefixes are the prefixes stripped from a source custom field
// key before project-specific/bare lookup (spec §4.5).
var sourceFieldPrefixes = []string{"case_", "test_", "tr_"}

// CaseImporterConfig carries the per-run settings cases.go needs.
type CaseImporterConfig struct {
	ProjectCode   string
	PreserveIDs   bool
	RefsEnable    bool
	RefsBaseURL   string
	EnterpriseTarget bool
}

// CaseImporter imports all cases for one project/suite pair.
type CaseImporter struct {
	source *httpclient.TestrailClient
	target *httpclient.QaseClient
	store  *mapping.Store
	atts   *attachments.Importer
	logger *slog.Logger
}

// NewCaseImporter builds a CaseImporter.
func NewCaseImporter(source *httpclient.TestrailClient, target *httpclient.QaseClient, store *mapping.Store, atts *attachments.Importer, logger *slog.Logger) *CaseImporter {
	return &CaseImporter{source: source, target: target, store: store, atts: atts, logger: logger}
}

// Import pages through every case in a project/suite, translates it, and
// creates it on the target (spec §4.5: step-size 20 for enterprise, 100
// otherwise; a 5s pause between page submissions on the enterprise target).
func (imp *CaseImporter) Import(ctx context.Context, sourceProjectID, sourceSuiteID int, cfg CaseImporterConfig) error {
	pageSize := 100
	if cfg.EnterpriseTarget {
		pageSize = 20
	}

	offset := 0
	for {
		cases, err := imp.source.GetCasesPage(ctx, sourceProjectID, sourceSuiteID, offset, pageSize)
		if err != nil {
			return fmt.Errorf("importers: fetching cases page at offset %d: %w", offset, err)
		}
		if len(cases) == 0 {
			break
		}

		for _, tc := range cases {
			if err := imp.importOne(ctx, tc, cfg); err != nil {
				imp.logger.Warn("skipping case after translation/create failure",
					slog.Int("source_case_id", tc.ID), slog.Any("error", err))
			}
		}

		if len(cases) < pageSize {
			break
		}
		offset += pageSize

		if cfg.EnterpriseTarget {
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

func (imp *CaseImporter) importOne(ctx context.Context, tc httpclient.TestrailCase, cfg CaseImporterConfig) error {
	targetID := ResolveCaseID(tc.ID, cfg.PreserveIDs, time.Now().UnixMilli())

	payload := httpclient.QaseCase{
		ID:          int64(targetID),
		Title:       tc.Title,
		PriorityID:  imp.resolvePriority(tc.PriorityID),
		TypeID:      imp.resolveType(tc.TypeID),
		CustomField: make(map[string]any),
	}

	if suiteID, ok := imp.store.SuitesFor(cfg.ProjectCode)[tc.SectionID]; ok {
		sid := int64(suiteID)
		payload.SuiteID = &sid
	}
	if tc.MilestoneID != nil {
		if mid, ok := imp.store.MilestonesFor(cfg.ProjectCode)[*tc.MilestoneID]; ok {
			m := int64(mid)
			payload.MilestoneID = &m
		}
	}

	if cfg.RefsEnable && tc.Refs != "" && imp.store.RefsFieldID != 0 {
		payload.CustomField[strconv.Itoa(imp.store.RefsFieldID)] = renderRefs(tc.Refs, cfg.RefsBaseURL)
	}
	if !cfg.PreserveIDs && imp.store.TestrailOriginalIDFieldID != 0 {
		payload.CustomField[strconv.Itoa(imp.store.TestrailOriginalIDFieldID)] = strconv.Itoa(tc.ID)
	}

	if err := imp.applyCustomFields(ctx, &payload, tc, cfg); err != nil {
		return err
	}

	_, err := imp.target.CreateCase(ctx, cfg.ProjectCode, payload)
	if err != nil {
		return fmt.Errorf("creating case %q: %w", tc.Title, err)
	}
	imp.store.CaseIDMapping[tc.ID] = targetID
	return nil
}

func (imp *CaseImporter) resolvePriority(sourceID int) int {
	if id, ok := imp.store.Priorities[sourceID]; ok {
		return id
	}
	return imp.store.DefaultPriority
}

func (imp *CaseImporter) resolveType(sourceID int) int {
	if id, ok := imp.store.Types[sourceID]; ok {
		return id
	}
	return imp.store.DefaultType
}

// renderRefs splits a comma-separated refs string, trims, and renders each
// as a markdown link, url-encoding absolute refs in place and prefixing
// relative ones with baseURL before encoding (spec §4.5).
func renderRefs(refs, baseURL string) string {
	parts := strings.Split(refs, ",")
	links := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		target := p
		if !strings.HasPrefix(p, "http://") && !strings.HasPrefix(p, "https://") {
			target = strings.TrimRight(baseURL, "/") + "/" + p
		}
		encoded := encodeURL(target)
		links = append(links, fmt.Sprintf("[%s](%s)", p, encoded))
	}
	return strings.Join(links, "\n")
}

func encodeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.String()
}

// applyCustomFields implements spec §4.5's per-custom-field routing: prefix
// stripping, project-specific-then-bare lookup, and type-dependent
// translation (enum, datepicker, step container, preconditions, generic
// text).
func (imp *CaseImporter) applyCustomFields(ctx context.Context, payload *httpclient.QaseCase, tc httpclient.TestrailCase, cfg CaseImporterConfig) error {
	for rawKey, rawValue := range tc.CustomFields {
		name := strings.TrimPrefix(rawKey, "custom_")
		for _, p := range sourceFieldPrefixes {
			name = strings.TrimPrefix(name, p)
		}

		if name == "preconds" {
			if s, ok := rawValue.(string); ok {
				payload.Description = transform.FormatLinksAsMarkdown(imp.atts.ReplaceInText(ctx, s, cfg.ProjectCode))
			}
			continue
		}

		// testrail_bdd_scenario replaces the case's steps outright with a
		// single-column (action-only) rendering of its JSON content, same
		// as original_source/entities/cases.py:456-487 assigning
		// data['steps'] directly rather than appending to it.
		if name == "testrail_bdd_scenario" {
			if s, ok := rawValue.(string); ok && s != "" {
				steps, err := imp.buildBDDScenarioSteps(ctx, s, cfg.ProjectCode)
				if err != nil {
					imp.logger.Warn("invalid testrail_bdd_scenario, skipping", slog.Any("error", err))
					continue
				}
				payload.Steps = steps
			}
			continue
		}

		// Step-container fields (source type 10) never get a target-type
		// mapping (reconciler.go never registers one), so this must be
		// checked before the lookupField nil-check below would otherwise
		// skip them outright.
		if _, isStepField := imp.store.StepFields[name]; isStepField {
			steps, err := imp.buildSteps(ctx, rawValue, cfg.ProjectCode)
			if err != nil {
				imp.logger.Warn("failed building steps for field, skipping", slog.String("field", name), slog.Any("error", err))
				continue
			}
			payload.Steps = append(payload.Steps, steps...)
			continue
		}

		cf := imp.lookupField(name, cfg.ProjectCode)
		if cf == nil {
			continue
		}

		switch cf.TypeID {
		case 3, 6: // selectbox / multiselect (source types 6 / 12, mapped via typeCodeMap)
			imp.applyEnumField(payload, cf, rawValue)
		case 9: // datepicker
			if s, ok := rawValue.(string); ok {
				payload.CustomField[strconv.Itoa(cf.QaseID)] = transform.ConvertTestrailDateToISO(s)
			}
		default:
			if s, ok := rawValue.(string); ok {
				payload.CustomField[strconv.Itoa(cf.QaseID)] = transform.FormatLinksAsMarkdown(imp.atts.ReplaceInText(ctx, s, cfg.ProjectCode))
			} else if rawValue != nil {
				payload.CustomField[strconv.Itoa(cf.QaseID)] = fmt.Sprintf("%v", rawValue)
			}
		}
	}
	return nil
}

// lookupField resolves a source field name to its reconciled descriptor,
// trying the project-specific key first, then the bare name (spec §4.5).
func (imp *CaseImporter) lookupField(name, projectCode string) *mapping.CustomField {
	if cf, ok := imp.store.CustomFields[name+"\x00"+projectCode]; ok {
		return cf
	}
	if cf, ok := imp.store.CustomFields[name]; ok {
		return cf
	}
	return nil
}

func (imp *CaseImporter) applyEnumField(payload *httpclient.QaseCase, cf *mapping.CustomField, rawValue any) {
	if cf.TrKeyToQaseID == nil {
		if rawValue != nil {
			payload.CustomField[strconv.Itoa(cf.QaseID)] = fmt.Sprintf("%v", rawValue)
		}
		return
	}

	switch v := rawValue.(type) {
	case float64:
		key := strconv.Itoa(int(v))
		if id, ok := cf.TrKeyToQaseID[key]; ok {
			payload.CustomField[strconv.Itoa(cf.QaseID)] = id
		} else {
			imp.logger.Warn("dropping enum value with no target mapping", slog.String("key", key))
		}
	case string:
		keys := strings.Split(v, ",")
		ids := make([]string, 0, len(keys))
		for _, k := range keys {
			k = strings.TrimSpace(k)
			if id, ok := cf.TrKeyToQaseID[k]; ok {
				ids = append(ids, strconv.Itoa(id))
			} else {
				imp.logger.Warn("dropping enum value with no target mapping", slog.String("key", k))
			}
		}
		if cf.TypeID == 6 { // multiselect
			payload.CustomField[strconv.Itoa(cf.QaseID)] = strings.Join(ids, ",")
		} else if len(ids) > 0 {
			payload.CustomField[strconv.Itoa(cf.QaseID)] = ids[0]
		}
	}
}

// buildSteps converts a step-container field value into target steps,
// passing content through the markdown/attachment transforms, coercing an
// empty action to "No action", and dropping a pure-empty step with a
// warning (spec §4.5).
func (imp *CaseImporter) buildSteps(ctx context.Context, rawValue any, projectCode string) ([]httpclient.QaseCaseStep, error) {
	rawSteps, ok := rawValue.([]any)
	if !ok {
		return nil, fmt.Errorf("step field value is not an array")
	}

	steps := make([]httpclient.QaseCaseStep, 0, len(rawSteps))
	position := 1
	for _, raw := range rawSteps {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		content, _ := m["content"].(string)
		expected, _ := m["expected"].(string)
		additionalInfo, _ := m["additional_info"].(string)

		if content == "" && expected == "" {
			imp.logger.Warn("dropping pure-empty step")
			continue
		}

		action := transform.FormatLinksAsMarkdown(imp.atts.ReplaceInText(ctx, content, projectCode))
		if action == "" {
			action = "No action"
		}

		steps = append(steps, httpclient.QaseCaseStep{
			Action:         action,
			ExpectedResult: transform.FormatLinksAsMarkdown(imp.atts.ReplaceInText(ctx, expected, projectCode)),
			Data:           transform.FormatLinksAsMarkdown(imp.atts.ReplaceInText(ctx, additionalInfo, projectCode)),
			Position:       position,
		})
		position++
	}
	return steps, nil
}

// buildBDDScenarioSteps parses the testrail_bdd_scenario field (a JSON array
// of {content} objects) into single-column steps: action only, no expected
// result or data (spec §4.5, original_source/entities/cases.py:456-487).
func (imp *CaseImporter) buildBDDScenarioSteps(ctx context.Context, raw string, projectCode string) ([]httpclient.QaseCaseStep, error) {
	var parsed []struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("parsing testrail_bdd_scenario: %w", err)
	}

	steps := make([]httpclient.QaseCaseStep, 0, len(parsed))
	position := 1
	for _, step := range parsed {
		action := strings.TrimSpace(imp.atts.ReplaceInText(ctx, step.Content, projectCode))
		if action == "" {
			action = "No action"
		}
		steps = append(steps, httpclient.QaseCaseStep{
			Action:   transform.FormatLinksAsMarkdown(action),
			Position: position,
		})
		position++
	}
	return steps, nil
}
