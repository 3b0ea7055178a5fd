// Package fields implements the custom-field reconciler of spec §4.4, the
// hardest subsystem: it turns the source's per-project-or-global field
// configurations into target field definitions, building the
// source-key-to-target-id translation tables every other importer depends
// on. Grounded on original_source/service/qase.py's field-sync pass and
// original_source/entities/cases.py's tr_key_to_qase_id consumers.
package fields

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/vitaliisemenov/tr2qase/internal/httpclient"
	"github.com/vitaliisemenov/tr2qase/internal/mapping"
)

// typeCodeMap translates a source field type code to the target's, per spec
// §4.4's fixed table.
var typeCodeMap = map[int]int{
	1:  1,
	2:  0,
	3:  2,
	4:  7,
	5:  4,
	6:  3,
	7:  8,
	8:  9,
	12: 6,
}

const (
	targetTypeString    = 1
	targetTypeURL       = 7
	targetTypeUser      = 8
	targetTypeSelectbox = 3
	targetTypeMultiselect = 6

	// sourceTypeStepContainer is the TestRail step-result field type (step
	// container / "steps" columns). It has no entry in typeCodeMap: it never
	// becomes a Qase custom field in its own right, it marks the source field
	// name as a step source for cases.go's applyCustomFields.
	sourceTypeStepContainer = 10
)

// defaultPriorityID, defaultTypeID, defaultResultStatus, defaultCaseStatus
// are the fallbacks spec §4.4 names for unmatched system enums.
const (
	defaultPriorityID   = 1
	defaultTypeID       = 1
	defaultResultStatus = "skipped"
	defaultCaseStatus   = 1
)

// Reconciler owns the field-reconciliation pass and the diagnostics it
// accumulates for Summary (SPEC_FULL.md §C).
type Reconciler struct {
	target *httpclient.QaseClient
	store  *mapping.Store
	logger *slog.Logger

	diagnostics []string
}

// New builds a Reconciler.
func New(target *httpclient.QaseClient, store *mapping.Store, logger *slog.Logger) *Reconciler {
	return &Reconciler{target: target, store: store, logger: logger}
}

// ReconcileOptions carries the synthetic-field toggles (spec §4.4, §6).
type ReconcileOptions struct {
	RefsEnable    bool
	PreserveIDs   bool
	ProjectCodes  []string // every known target project code, for "enabled for all" scoping
}

// Reconcile runs the per-source-field matching and diffing pass, then the
// synthetic fields. System enums are mapped separately, by
// ReconcileSystemEnums.
func (r *Reconciler) Reconcile(ctx context.Context, sourceFields []httpclient.TestrailCaseField, projectIDToCode map[int]string, opts ReconcileOptions) error {
	existing, err := r.target.GetCustomFields(ctx)
	if err != nil {
		return fmt.Errorf("fields: listing target custom fields: %w", err)
	}
	byTitle := indexByTitle(existing)

	for _, sf := range sourceFields {
		// Step-container fields (original_source/entities/fields.py:67-68)
		// are registered regardless of whether their type has a target-type
		// mapping at all — type 10 has none, and never becomes a custom
		// field in its own right.
		if sf.TypeID == sourceTypeStepContainer {
			r.store.StepFields[sf.Name] = struct{}{}
			continue
		}

		if err := r.reconcileOne(ctx, sf, projectIDToCode, byTitle); err != nil {
			// Open question (b), resolved in SPEC_FULL.md §D: a failure
			// reconciling one field does not abort the pass, it continues
			// to the remaining fields.
			r.logger.Warn("failed reconciling custom field, continuing with remaining fields",
				slog.String("field", sf.Label), slog.Any("error", err))
			r.diagnostics = append(r.diagnostics, fmt.Sprintf("field %q: %v", sf.Label, err))
		}
	}

	if err := r.ensureSyntheticFields(ctx, opts); err != nil {
		return err
	}
	return nil
}

func indexByTitle(fields []httpclient.QaseCustomField) map[string]*httpclient.QaseCustomField {
	m := make(map[string]*httpclient.QaseCustomField, len(fields))
	for i := range fields {
		m[fields[i].Title] = &fields[i]
	}
	return m
}

// reconcileOne applies spec §4.4's three-way split on configuration
// cardinality and scope, then matches-or-creates and diffs against the
// target.
func (r *Reconciler) reconcileOne(ctx context.Context, sf httpclient.TestrailCaseField, projectIDToCode map[int]string, byTitle map[string]*httpclient.QaseCustomField) error {
	targetType, ok := typeCodeMap[sf.TypeID]
	if !ok {
		return fmt.Errorf("no target type mapping for source type %d", sf.TypeID)
	}

	switch len(sf.Configs) {
	case 0:
		return nil
	case 1:
		cfg := sf.Configs[0]
		if cfg.Context.IsGlobal {
			return r.upsertField(ctx, fieldKey(sf.Name, ""), sf, cfg, targetType, nil, byTitle)
		}
		codes := codesFor(cfg.Context.ProjectIDs, projectIDToCode)
		return r.upsertField(ctx, fieldKey(sf.Name, ""), sf, cfg, targetType, codes, byTitle)
	default:
		for _, cfg := range sf.Configs {
			for _, pid := range cfg.Context.ProjectIDs {
				code, ok := projectIDToCode[pid]
				if !ok {
					continue
				}
				if err := r.upsertField(ctx, fieldKey(sf.Name, code), sf, cfg, targetType, []string{code}, byTitle); err != nil {
					return err
				}
			}
		}
		return nil
	}
}

func fieldKey(label, projectCode string) string {
	if projectCode == "" {
		return label
	}
	return label + "\x00" + projectCode
}

func codesFor(projectIDs []int, projectIDToCode map[int]string) []string {
	codes := make([]string, 0, len(projectIDs))
	for _, pid := range projectIDs {
		if code, ok := projectIDToCode[pid]; ok {
			codes = append(codes, code)
		}
	}
	return codes
}

// upsertField matches an existing target field by title, or creates one,
// then diffs enum values and project scope (spec §4.4).
func (r *Reconciler) upsertField(ctx context.Context, key string, sf httpclient.TestrailCaseField, cfg httpclient.TestrailFieldConfig, targetType int, projectCodes []string, byTitle map[string]*httpclient.QaseCustomField) error {
	title := sf.Label
	if len(projectCodes) == 1 && !cfg.Context.IsGlobal && len(sf.Configs) > 1 {
		title = fmt.Sprintf("%s %s", sf.Label, projectCodes[0])
	}

	entries := parseItems(cfg.Options.Items)

	existing, found := byTitle[title]
	var qaseID int64
	var qaseValues map[string]string
	var trKeyToQaseID map[string]int

	if found {
		qaseID = existing.ID
		qaseValues = valuesMap(existing.Value)
		nextID := maxValueID(existing.Value) + 1

		finalValues := existingValues(existing.Value)
		missing := missingEntries(entries, existing.Value)
		changed := false
		if len(missing) > 0 {
			changed = true
			for _, e := range missing {
				finalValues = append(finalValues, httpclient.QaseEnumValue{ID: nextID, Title: e.label})
				qaseValues[strconv.FormatInt(nextID, 10)] = e.label
				nextID++
			}
		}

		finalCodes := existing.ProjectCodes
		if !cfg.Context.IsGlobal && len(projectCodes) > 0 {
			missingCodes := unionMissing(existing.ProjectCodes, projectCodes)
			if len(missingCodes) > 0 {
				changed = true
				finalCodes = append(append([]string{}, existing.ProjectCodes...), missingCodes...)
				existing.ProjectCodes = finalCodes
			}
		}

		if changed {
			// The custom_field PATCH endpoint is full-replacement (spec
			// §4.4): the identity fields must be repeated alongside
			// whatever actually changed, or the server's defaults for the
			// omitted fields clobber them.
			if err := r.target.UpdateCustomFieldValues(ctx, httpclient.QaseCustomField{
				ID:                      qaseID,
				Title:                   title,
				Type:                    qaseTypeName(targetType),
				Entity:                  0,
				Value:                   finalValues,
				IsVisible:               true,
				IsFilterable:            true,
				IsEnabledForAllProjects: cfg.Context.IsGlobal,
				ProjectCodes:            finalCodes,
			}); err != nil {
				return fmt.Errorf("updating field %q: %w", title, err)
			}
		}
	} else {
		values := make([]httpclient.QaseEnumValue, 0, len(entries))
		for i, e := range entries {
			values = append(values, httpclient.QaseEnumValue{ID: int64(i + 1), Title: e.label})
		}
		field := httpclient.QaseCustomField{
			Title:                   title,
			Type:                    qaseTypeName(targetType),
			Entity:                  0,
			Value:                   values,
			IsVisible:               true,
			IsFilterable:            true,
			IsEnabledForAllProjects: cfg.Context.IsGlobal,
			ProjectCodes:            projectCodes,
		}
		id, err := r.target.CreateCustomField(ctx, field)
		if err != nil {
			return fmt.Errorf("creating field %q: %w", title, err)
		}
		qaseID = id
		qaseValues = make(map[string]string, len(values))
		for _, v := range values {
			qaseValues[strconv.FormatInt(v.ID, 10)] = v.Title
		}
	}

	trKeyToQaseID = make(map[string]int, len(entries))
	for _, e := range entries {
		matched := false
		for idStr, label := range qaseValues {
			if strings.TrimSpace(label) == strings.TrimSpace(e.label) {
				id, _ := strconv.Atoi(idStr)
				trKeyToQaseID[e.key] = id
				matched = true
				break
			}
		}
		if !matched {
			r.logger.Warn("no target value match for source enum key", slog.String("field", title), slog.String("key", e.key), slog.String("label", e.label))
		}
	}

	r.store.CustomFields[key] = &mapping.CustomField{
		QaseID:        int(qaseID),
		Name:          sf.Name,
		TypeID:        targetType,
		ProjectCode:   firstOrEmpty(projectCodes),
		QaseValues:    qaseValues,
		TrKeyToQaseID: trKeyToQaseID,
	}

	return nil
}

func firstOrEmpty(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}

type enumEntry struct {
	key   string
	label string
}

// parseItems parses the source's "<key>,<label>" per-newline enum blob.
func parseItems(items string) []enumEntry {
	var out []enumEntry
	for _, line := range strings.Split(items, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ",", 2)
		if len(parts) != 2 {
			continue
		}
		out = append(out, enumEntry{key: strings.TrimSpace(parts[0]), label: strings.TrimSpace(parts[1])})
	}
	return out
}

func valuesMap(values []httpclient.QaseEnumValue) map[string]string {
	m := make(map[string]string, len(values))
	for _, v := range values {
		m[strconv.FormatInt(v.ID, 10)] = v.Title
	}
	return m
}

func existingValues(values []httpclient.QaseEnumValue) []httpclient.QaseEnumValue {
	out := make([]httpclient.QaseEnumValue, len(values))
	copy(out, values)
	return out
}

func maxValueID(values []httpclient.QaseEnumValue) int64 {
	var max int64
	for _, v := range values {
		if v.ID > max {
			max = v.ID
		}
	}
	return max
}

func missingEntries(entries []enumEntry, existing []httpclient.QaseEnumValue) []enumEntry {
	have := make(map[string]struct{}, len(existing))
	for _, v := range existing {
		have[strings.TrimSpace(v.Title)] = struct{}{}
	}
	var missing []enumEntry
	for _, e := range entries {
		if _, ok := have[strings.TrimSpace(e.label)]; !ok {
			missing = append(missing, e)
		}
	}
	return missing
}

func unionMissing(have []string, want []string) []string {
	set := make(map[string]struct{}, len(have))
	for _, c := range have {
		set[c] = struct{}{}
	}
	var missing []string
	for _, c := range want {
		if _, ok := set[c]; !ok {
			missing = append(missing, c)
		}
	}
	sort.Strings(missing)
	return missing
}

func qaseTypeName(targetType int) string {
	switch targetType {
	case targetTypeSelectbox:
		return "selectbox"
	case targetTypeMultiselect:
		return "multiselect"
	case 9:
		return "datetime"
	case targetTypeURL:
		return "url"
	case targetTypeUser:
		return "user"
	default:
		return "string"
	}
}

// ensureSyntheticFields creates the synthetic fields of spec §4.4: Refs
// (only when refs are enabled), TestRail Original ID (only when preserve_ids
// is false), and Estimate (always).
func (r *Reconciler) ensureSyntheticFields(ctx context.Context, opts ReconcileOptions) error {
	if opts.RefsEnable {
		id, err := r.target.CreateCustomField(ctx, httpclient.QaseCustomField{
			Title: "Refs", Type: "url", Entity: 0, IsVisible: true,
		})
		if err != nil {
			return fmt.Errorf("creating Refs field: %w", err)
		}
		r.store.RefsFieldID = int(id)
	}

	if !opts.PreserveIDs {
		id, err := r.target.CreateCustomField(ctx, httpclient.QaseCustomField{
			Title: "TestRail Original ID", Type: "string", Entity: 0, IsVisible: true,
		})
		if err != nil {
			return fmt.Errorf("creating TestRail Original ID field: %w", err)
		}
		r.store.TestrailOriginalIDFieldID = int(id)
	}

	id, err := r.target.CreateCustomField(ctx, httpclient.QaseCustomField{
		Title: "Estimate", Type: "string", Entity: 0, IsVisible: true,
	})
	if err != nil {
		return fmt.Errorf("creating Estimate field: %w", err)
	}
	r.store.EstimateFieldID = int(id)
	return nil
}

// ReconcileSystemEnums maps source priorities to target priorities by
// case-insensitive label comparison; an unmatched priority gets
// defaultPriorityID. It also sets the store's DefaultPriority and
// DefaultType. Types, result statuses and case statuses are not mapped here.
func (r *Reconciler) ReconcileSystemEnums(sourcePriorities map[int]string, targetPriorities map[string]int) {
	for id, label := range sourcePriorities {
		if tid, ok := lookupCI(targetPriorities, label); ok {
			r.store.Priorities[id] = tid
		} else {
			r.store.Priorities[id] = defaultPriorityID
		}
	}
	r.store.DefaultPriority = defaultPriorityID
	r.store.DefaultType = defaultTypeID
}

func lookupCI(m map[string]int, label string) (int, bool) {
	for k, v := range m {
		if strings.EqualFold(k, label) {
			return v, true
		}
	}
	return 0, false
}

// Summary renders a verbose human-readable diagnostic of every reconciled
// field, which cmd/migrate logs at the end of a run (SPEC_FULL.md §C's "verbose diagnostics"
// supplement, grounded on original_source's _print_custom_fields_summary /
// _print_field_details).
func (r *Reconciler) Summary() string {
	var b strings.Builder
	keys := make([]string, 0, len(r.store.CustomFields))
	for k := range r.store.CustomFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(&b, "custom field reconciliation: %d field(s)\n", len(keys))
	for _, k := range keys {
		cf := r.store.CustomFields[k]
		fmt.Fprintf(&b, "  - %s: target_id=%d type=%d values=%d mapped_keys=%d\n",
			k, cf.QaseID, cf.TypeID, len(cf.QaseValues), len(cf.TrKeyToQaseID))
	}
	for _, d := range r.diagnostics {
		fmt.Fprintf(&b, "  ! %s\n", d)
	}
	return b.String()
}
