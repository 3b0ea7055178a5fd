// Command syncrun is the companion sync script (spec §1/§6): it copies
// results from one Qase run into another across two projects that share no
// case ids, matching cases by a shared custom-field fingerprint with a
// title-normalization fallback. It is intentionally separate from
// cmd/migrate — it shares only internal/httpclient's Qase client, none of
// the migration orchestration — and is entirely environment-variable
// driven, with no config file or CLI flags, matching
// original_source/Scenario 1/sync_qase_runs.py's shape.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/vitaliisemenov/tr2qase/internal/httpclient"
)

const pageSize = 100

type env struct {
	apiToken        string
	host            string
	ssl             bool
	projectA        string
	projectB        string
	runAID          int64
	runBID          int64
	customFieldName string
	cfSource        string // "project_a", "project_b", or ""
}

func loadEnv() (env, error) {
	e := env{
		apiToken:        os.Getenv("QASE_API_TOKEN"),
		host:            orDefault(os.Getenv("QASE_HOST"), "qase.io"),
		ssl:             orDefault(os.Getenv("QASE_SSL"), "true") == "true",
		projectA:        os.Getenv("PROJECT_A_CODE"),
		projectB:        os.Getenv("PROJECT_B_CODE"),
		customFieldName: orDefault(os.Getenv("CUSTOM_FIELD_B_IN_A"), "linked_case_id_in_A"),
		cfSource:        strings.ToLower(strings.TrimSpace(os.Getenv("CF_SOURCE"))),
	}
	if e.apiToken == "" {
		return e, fmt.Errorf("QASE_API_TOKEN not set")
	}
	if e.projectA == "" || e.projectB == "" {
		return e, fmt.Errorf("PROJECT_A_CODE/PROJECT_B_CODE not set")
	}

	runA, err := strconv.ParseInt(os.Getenv("RUN_A_ID"), 10, 64)
	if err != nil || runA <= 0 {
		return e, fmt.Errorf("RUN_A_ID invalid: %w", err)
	}
	runB, err := strconv.ParseInt(os.Getenv("RUN_B_ID"), 10, 64)
	if err != nil || runB <= 0 {
		return e, fmt.Errorf("RUN_B_ID invalid: %w", err)
	}
	e.runAID, e.runBID = runA, runB
	return e, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	e, err := loadEnv()
	if err != nil {
		logger.Error("invalid environment", "error", err)
		os.Exit(1)
	}

	scheme := "http://"
	if e.ssl {
		scheme = "https://"
	}
	base := httpclient.NewBaseClient(fmt.Sprintf("%sapi.%s", scheme, e.host), 30*time.Second, 0, logger)
	client := httpclient.NewQaseClient(base, e.apiToken)

	ctx := context.Background()
	if err := syncRuns(ctx, client, e, logger); err != nil {
		logger.Error("sync failed", "error", err)
		os.Exit(1)
	}
}

func syncRuns(ctx context.Context, client *httpclient.QaseClient, e env, logger *slog.Logger) error {
	logger.Info("building case map (B -> A) via custom field / title fallback")
	mapping, err := buildCaseMappingBToA(ctx, client, e, logger)
	if err != nil {
		return err
	}

	logger.Info("reading results from run B", "run_b_id", e.runBID)
	results, err := listAllResults(ctx, client, e.projectB, e.runBID)
	if err != nil {
		return fmt.Errorf("listing run B results: %w", err)
	}

	var synced, skipped int
	for _, r := range results {
		aCaseID, ok := mapping[r.CaseID]
		if !ok {
			skipped++
			logger.Warn("no case mapping, skipping result", "b_case_id", r.CaseID)
			continue
		}

		payload := httpclient.QaseResultCreate{
			CaseID:      aCaseID,
			Status:      mapStatus(r.Status),
			Time:        r.Time,
			TimeMS:      r.TimeMS,
			Comment:     fmt.Sprintf("[Synced from B case %d] %s", r.CaseID, r.Comment),
			Stacktrace:  r.Stacktrace,
			Attachments: r.Attachments,
		}
		if _, err := client.CreateSingleResult(ctx, e.projectA, e.runAID, payload); err != nil {
			skipped++
			logger.Warn("posting result failed, skipping", "b_case_id", r.CaseID, "error", err)
			continue
		}
		synced++
		logger.Info("synced result", "b_case_id", r.CaseID, "a_case_id", aCaseID, "status", r.Status)
	}

	logger.Info("sync complete", "synced", synced, "skipped", skipped)
	return nil
}

var statusMap = map[string]string{
	"passed":  "passed",
	"failed":  "failed",
	"skipped": "skipped",
	"blocked": "blocked",
}

func mapStatus(s string) string {
	if mapped, ok := statusMap[s]; ok {
		return mapped
	}
	return "failed"
}

func listAllResults(ctx context.Context, client *httpclient.QaseClient, projectCode string, runID int64) ([]httpclient.QaseResultListItem, error) {
	var all []httpclient.QaseResultListItem
	offset := 0
	for {
		page, total, err := client.ListResultsForRun(ctx, projectCode, runID, offset, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) == 0 || len(all) >= total {
			break
		}
		offset += pageSize
	}
	return all, nil
}

func listAllCases(ctx context.Context, client *httpclient.QaseClient, projectCode string) ([]httpclient.QaseCaseListItem, error) {
	var all []httpclient.QaseCaseListItem
	offset := 0
	for {
		page, total, err := client.ListCases(ctx, projectCode, offset, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) == 0 || len(all) >= total {
			break
		}
		offset += pageSize
	}
	return all, nil
}

// buildCaseMappingBToA implements the three-tier cascade of
// original_source/Scenario 1/sync_qase_runs.py: custom-field fingerprint
// (read from B, falling back to reading from A), then title-normalization
// matching if neither side has the field populated.
func buildCaseMappingBToA(ctx context.Context, client *httpclient.QaseClient, e env, logger *slog.Logger) (map[int64]int64, error) {
	forceA := e.cfSource == "project_a"
	forceB := e.cfSource == "project_b"

	if !forceA {
		logger.Info("attempt 1: reading cases from project B to build B->A via custom field")
		casesB, err := listAllCases(ctx, client, e.projectB)
		if err != nil {
			logger.Warn("error listing project B cases", "error", err)
		} else {
			m := make(map[int64]int64)
			for _, c := range casesB {
				if aID, ok := extractCFValue(c.CustomFields, e.customFieldName); ok {
					m[c.ID] = aID
				}
			}
			if len(m) == 0 && len(casesB) > 0 {
				logger.Info("listing did not return values; fetching individual cases from project B")
				for _, c := range casesB {
					full, err := client.GetCaseByID(ctx, e.projectB, c.ID)
					if err != nil {
						continue
					}
					if aID, ok := extractCFValue(full.CustomFields, e.customFieldName); ok {
						m[c.ID] = aID
					}
				}
			}
			if len(m) > 0 {
				logger.Info("mapping built via project B", "pairs", len(m))
				return m, nil
			}
		}
	}

	if !forceB {
		logger.Info("attempt 2: reading cases from project A (fallback) to build B->A")
		casesA, err := listAllCases(ctx, client, e.projectA)
		if err != nil {
			logger.Warn("error listing project A cases", "error", err)
		} else {
			m := make(map[int64]int64)
			for _, c := range casesA {
				if bID, ok := extractCFValue(c.CustomFields, e.customFieldName); ok {
					m[bID] = c.ID
				}
			}
			if len(m) == 0 && len(casesA) > 0 {
				logger.Info("listing did not return values; fetching individual cases from project A")
				for _, c := range casesA {
					full, err := client.GetCaseByID(ctx, e.projectA, c.ID)
					if err != nil {
						continue
					}
					if bID, ok := extractCFValue(full.CustomFields, e.customFieldName); ok {
						m[bID] = c.ID
					}
				}
			}
			if len(m) > 0 {
				logger.Info("mapping built via project A (fallback)", "pairs", len(m))
				return m, nil
			}
		}
	}

	m, err := buildCaseMappingByTitle(ctx, client, e.projectA, e.projectB)
	if err != nil {
		return nil, err
	}
	if len(m) > 0 {
		return m, nil
	}
	return nil, fmt.Errorf("no mapping found: check custom field %q in projects %s/%s, or ensure case titles match",
		e.customFieldName, e.projectA, e.projectB)
}

func buildCaseMappingByTitle(ctx context.Context, client *httpclient.QaseClient, projectA, projectB string) (map[int64]int64, error) {
	casesA, err := listAllCases(ctx, client, projectA)
	if err != nil {
		return nil, fmt.Errorf("listing project A cases for title matching: %w", err)
	}
	casesB, err := listAllCases(ctx, client, projectB)
	if err != nil {
		return nil, fmt.Errorf("listing project B cases for title matching: %w", err)
	}

	titleToA := make(map[string]int64, len(casesA))
	for _, c := range casesA {
		titleToA[normalizeTitle(c.Title)] = c.ID
	}

	m := make(map[int64]int64)
	for _, c := range casesB {
		if aID, ok := titleToA[normalizeTitle(c.Title)]; ok {
			m[c.ID] = aID
		}
	}
	return m, nil
}

var whitespaceRE = regexp.MustCompile(`\s+`)

// normalizeTitle lowercases, strips diacritics via NFKD decomposition, and
// collapses whitespace, matching sync_qase_runs.py's normalize_title.
func normalizeTitle(s string) string {
	decomposed := norm.NFKD.String(s)
	var b strings.Builder
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToLower(whitespaceRE.ReplaceAllString(strings.TrimSpace(b.String()), " "))
}

// extractCFValue walks a case's dynamically-shaped custom_fields payload
// looking for the named fingerprint field, accepting either a list of
// {key/name, value} objects or a flat {key: value} map — the same
// defensive shapes original_source's extract_cf_value_from_case handles.
func extractCFValue(customFields any, name string) (int64, bool) {
	switch v := customFields.(type) {
	case map[string]any:
		if raw, ok := v[name]; ok {
			return safeExtractInt(raw)
		}
	case []any:
		for _, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			key, _ := obj["key"].(string)
			fieldName, _ := obj["name"].(string)
			if key == name || fieldName == name {
				if raw, ok := obj["value"]; ok {
					return safeExtractInt(raw)
				}
			}
		}
	}
	return 0, false
}

var digitsRE = regexp.MustCompile(`\d+`)

// safeExtractInt pulls an integer id out of values like "6", "CASE-6", or a
// bare JSON number, matching sync_qase_runs.py's safe_extract_int.
func safeExtractInt(raw any) (int64, bool) {
	switch v := raw.(type) {
	case float64:
		return int64(v), true
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n, true
		}
		if m := digitsRE.FindString(v); m != "" {
			if n, err := strconv.ParseInt(m, 10, 64); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}
