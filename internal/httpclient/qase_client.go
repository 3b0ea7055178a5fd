package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"

	"github.com/go-resty/resty/v2"
)

// QaseClient is the target (T) client: bearer-token auth against Qase's REST
// API. Grounded on the shape of original_source/service/qase.py's pyqase
// wrapper calls, rebuilt on resty per DESIGN.md.
type QaseClient struct {
	base *BaseClient
}

// NewQaseClient builds the target client, setting the bearer token header
// once for every subsequent request.
func NewQaseClient(base *BaseClient, apiToken string) *QaseClient {
	base.Resty().SetHeader("Token", apiToken)
	return &QaseClient{base: base}
}

// QaseProject is a target project record.
type QaseProject struct {
	Code  string `json:"code"`
	Title string `json:"title"`
}

// QaseCustomField describes a target custom-field definition.
type QaseCustomField struct {
	ID                      int64           `json:"id,omitempty"`
	Title                   string          `json:"title"`
	Type                    string          `json:"type"`
	Entity                  int             `json:"entity"`
	Value                   []QaseEnumValue `json:"value,omitempty"`
	IsRequired              bool            `json:"is_required"`
	IsFilterable            bool            `json:"is_filterable"`
	IsVisible               bool            `json:"is_visible"`
	IsEnabledForAllProjects bool            `json:"is_enabled_for_all_projects"`
	ProjectCodes            []string        `json:"projects_codes,omitempty"`
	DefaultValue            string          `json:"default_value,omitempty"`
}

// QaseEnumValue is one dropdown/multiselect/radio option.
type QaseEnumValue struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// QaseSuite is a target test-suite (section) record.
type QaseSuite struct {
	ID       int64  `json:"id,omitempty"`
	Title    string `json:"title"`
	ParentID *int64 `json:"parent_id,omitempty"`
}

// QaseSharedStep is a target shared-step record.
type QaseSharedStep struct {
	Hash  string              `json:"hash,omitempty"`
	Title string              `json:"title"`
	Steps []QaseSharedStepItem `json:"steps"`
}

// QaseSharedStepItem is one step within a shared step.
type QaseSharedStepItem struct {
	Action   string `json:"action"`
	Expected string `json:"expected_result,omitempty"`
}

// QaseMilestone is a target milestone record.
type QaseMilestone struct {
	ID    int64  `json:"id,omitempty"`
	Title string `json:"title"`
}

// QaseConfigurationGroup is a target configuration group.
type QaseConfigurationGroup struct {
	ID    int64               `json:"id,omitempty"`
	Title string              `json:"title"`
	Values []QaseConfigurationValue `json:"values"`
}

// QaseConfigurationValue is one named value within a configuration group.
type QaseConfigurationValue struct {
	ID    int64  `json:"id,omitempty"`
	Title string `json:"title"`
}

// QaseCase is a target test case, serialized with a dynamic custom_field map
// the same way TestrailCase is, since the field set is project-specific
// (spec §4.4/§4.5).
type QaseCase struct {
	ID           int64          `json:"id,omitempty"`
	Title        string         `json:"title"`
	SuiteID      *int64         `json:"suite_id,omitempty"`
	PriorityID   int            `json:"priority"`
	TypeID       int            `json:"type"`
	MilestoneID  *int64         `json:"milestone_id,omitempty"`
	Description  string         `json:"description,omitempty"`
	Steps        []QaseCaseStep `json:"steps,omitempty"`
	CustomField  map[string]any `json:"custom_field,omitempty"`
}

// QaseCaseStep is one ordinary or shared test step.
type QaseCaseStep struct {
	Action       string `json:"action"`
	ExpectedResult string `json:"expected_result,omitempty"`
	Data         string `json:"data,omitempty"`
	Position     int    `json:"position"`
	SharedStepHash string `json:"shared_step_hash,omitempty"`
}

// QaseRun is a target test run.
type QaseRun struct {
	ID             int64   `json:"id,omitempty"`
	Title          string  `json:"title"`
	Description    string  `json:"description,omitempty"`
	Cases          []int64 `json:"cases"`
	MilestoneID    *int64  `json:"milestone_id,omitempty"`
	IsAutotest     bool    `json:"is_autotest"`
	StartTime      int64   `json:"start_time,omitempty"`
	EndTime        *int64  `json:"end_time,omitempty"`
	AuthorID       *int64  `json:"author_id,omitempty"`
	Configurations []int64 `json:"configurations,omitempty"`
}

// QaseResult is one bulk-submitted result (v2 shape; v1 used a slightly
// different envelope per spec §4.6's "v1/v2 bulk-results API flavor").
type QaseResult struct {
	CaseID    int64            `json:"case_id"`
	Status    string           `json:"status"`
	Comment   string           `json:"comment,omitempty"`
	TimeMS    int64            `json:"time_ms,omitempty"`
	StartTime int64            `json:"start_time,omitempty"`
	Steps     []QaseResultStep `json:"steps,omitempty"`
}

// QaseResultStep is one step-level outcome within a bulk result.
type QaseResultStep struct {
	Position int    `json:"position"`
	Status   string `json:"status"`
	Comment  string `json:"comment,omitempty"`
}

// QaseCaseListItem is one entry from the case-listing endpoint, used by
// cmd/syncrun's cross-project case matching. custom_fields varies in shape
// between a list of {field_id,value} objects and a flat {key: value} map
// depending on API version, so it is decoded generically and walked by the
// caller the same defensive way original_source/Scenario 1/sync_qase_runs.py
// does.
type QaseCaseListItem struct {
	ID           int64 `json:"id"`
	Title        string `json:"title"`
	CustomFields any    `json:"custom_fields"`
}

// QaseResultListItem is one entry from the result-listing endpoint.
type QaseResultListItem struct {
	CaseID      int64    `json:"case_id"`
	Status      string   `json:"status"`
	Time        int64    `json:"time,omitempty"`
	TimeMS      *int64   `json:"time_ms,omitempty"`
	Comment     string   `json:"comment,omitempty"`
	Stacktrace  string   `json:"stacktrace,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

// QaseResultCreate is the payload for creating a single result directly
// against a run (as opposed to CreateRun's bulk sibling).
type QaseResultCreate struct {
	CaseID      int64    `json:"case_id"`
	Status      string   `json:"status"`
	Time        int64    `json:"time,omitempty"`
	TimeMS      *int64   `json:"time_ms,omitempty"`
	Comment     string   `json:"comment,omitempty"`
	Stacktrace  string   `json:"stacktrace,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

func (c *QaseClient) doJSON(ctx context.Context, op, method, path string, body, out any) error {
	_, err := c.base.Do(ctx, op, func() *resty.Request {
		req := c.base.Resty().R().SetResult(out)
		if body != nil {
			req = req.SetBody(body)
		}
		switch method {
		case "POST":
			req.Method = "POST"
		case "PATCH":
			req.Method = "PATCH"
		default:
			req.Method = "GET"
		}
		req.URL = path
		return req
	})
	return err
}

// GetProjects lists target projects.
func (c *QaseClient) GetProjects(ctx context.Context) ([]QaseProject, error) {
	var wrapper struct {
		Result struct {
			Entities []QaseProject `json:"entities"`
		} `json:"result"`
	}
	if err := c.doJSON(ctx, "GET /v1/project", "GET", "/v1/project", nil, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Result.Entities, nil
}

// CreateProject creates a project. Every error, including a code that
// already exists, is returned to the caller; ProjectImporter skips the call
// for codes that GetProjects already lists.
func (c *QaseClient) CreateProject(ctx context.Context, code, title string) error {
	body := map[string]string{"title": title, "code": code}
	return c.doJSON(ctx, "POST /v1/project", "POST", "/v1/project", body, &struct{}{})
}

// CreateCustomField registers a custom-field definition on the target.
func (c *QaseClient) CreateCustomField(ctx context.Context, field QaseCustomField) (int64, error) {
	var wrapper struct {
		Result struct {
			ID int64 `json:"id"`
		} `json:"result"`
	}
	if err := c.doJSON(ctx, "POST /v1/custom_field", "POST", "/v1/custom_field", field, &wrapper); err != nil {
		return 0, err
	}
	return wrapper.Result.ID, nil
}

// GetCustomFields lists the target's existing custom-field definitions, used
// by the reconciler to diff against the source schema (spec §4.4).
func (c *QaseClient) GetCustomFields(ctx context.Context) ([]QaseCustomField, error) {
	var wrapper struct {
		Result struct {
			Entities []QaseCustomField `json:"entities"`
		} `json:"result"`
	}
	if err := c.doJSON(ctx, "GET /v1/custom_field", "GET", "/v1/custom_field?limit=100", nil, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Result.Entities, nil
}

// UpdateCustomFieldValues replaces an existing field definition in full.
// Qase's custom_field PATCH endpoint is a full-replacement, not a delta
// (spec §4.4): the payload must repeat the field's identity (title, type,
// scope flag, project codes) alongside the updated value list, or the
// server's own defaults for the omitted identity fields clobber them.
func (c *QaseClient) UpdateCustomFieldValues(ctx context.Context, field QaseCustomField) error {
	return c.doJSON(ctx, "PATCH /v1/custom_field", "PATCH", fmt.Sprintf("/v1/custom_field/%d", field.ID), field, &struct{}{})
}

// CreateSuite creates a suite (section) within a project.
func (c *QaseClient) CreateSuite(ctx context.Context, projectCode string, suite QaseSuite) (int64, error) {
	var wrapper struct {
		Result struct {
			ID int64 `json:"id"`
		} `json:"result"`
	}
	if err := c.doJSON(ctx, "POST /v1/suite", "POST", fmt.Sprintf("/v1/suite/%s", projectCode), suite, &wrapper); err != nil {
		return 0, err
	}
	return wrapper.Result.ID, nil
}

// CreateSharedStep creates a shared step within a project.
func (c *QaseClient) CreateSharedStep(ctx context.Context, projectCode string, step QaseSharedStep) (string, error) {
	var wrapper struct {
		Result struct {
			Hash string `json:"hash"`
		} `json:"result"`
	}
	if err := c.doJSON(ctx, "POST /v1/shared_step", "POST", fmt.Sprintf("/v1/shared_step/%s", projectCode), step, &wrapper); err != nil {
		return "", err
	}
	return wrapper.Result.Hash, nil
}

// CreateMilestone creates a milestone within a project.
func (c *QaseClient) CreateMilestone(ctx context.Context, projectCode string, milestone QaseMilestone) (int64, error) {
	var wrapper struct {
		Result struct {
			ID int64 `json:"id"`
		} `json:"result"`
	}
	if err := c.doJSON(ctx, "POST /v1/milestone", "POST", fmt.Sprintf("/v1/milestone/%s", projectCode), milestone, &wrapper); err != nil {
		return 0, err
	}
	return wrapper.Result.ID, nil
}

// CreateConfigurationGroup creates a configuration group within a project.
func (c *QaseClient) CreateConfigurationGroup(ctx context.Context, projectCode string, group QaseConfigurationGroup) (int64, error) {
	var wrapper struct {
		Result struct {
			ID int64 `json:"id"`
		} `json:"result"`
	}
	if err := c.doJSON(ctx, "POST /v1/configuration", "POST", fmt.Sprintf("/v1/configuration/%s", projectCode), group, &wrapper); err != nil {
		return 0, err
	}
	return wrapper.Result.ID, nil
}

// CreateCase creates a case within a project, honoring a caller-supplied ID
// when preserve_ids and size-safety allow it (spec §4.5's ID-safety rules are
// applied by the importer before calling this method; QaseCase.ID, when set,
// is sent as the case's id hint).
func (c *QaseClient) CreateCase(ctx context.Context, projectCode string, tc QaseCase) (int64, error) {
	var wrapper struct {
		Result struct {
			ID int64 `json:"id"`
		} `json:"result"`
	}
	if err := c.doJSON(ctx, "POST /v1/case", "POST", fmt.Sprintf("/v1/case/%s", projectCode), tc, &wrapper); err != nil {
		return 0, err
	}
	return wrapper.Result.ID, nil
}

// UpdateCase patches an existing case. The case importer does not call it;
// it only creates cases.
func (c *QaseClient) UpdateCase(ctx context.Context, projectCode string, caseID int64, tc QaseCase) error {
	return c.doJSON(ctx, "PATCH /v1/case", "PATCH", fmt.Sprintf("/v1/case/%s/%d", projectCode, caseID), tc, &struct{}{})
}

// CreateRun creates a run within a project.
func (c *QaseClient) CreateRun(ctx context.Context, projectCode string, run QaseRun) (int64, error) {
	var wrapper struct {
		Result struct {
			ID int64 `json:"id"`
		} `json:"result"`
	}
	if err := c.doJSON(ctx, "POST /v1/run", "POST", fmt.Sprintf("/v1/run/%s", projectCode), run, &wrapper); err != nil {
		return 0, err
	}
	return wrapper.Result.ID, nil
}

// BulkCreateResults submits a batch of results for a run using the v2 bulk
// endpoint. Enterprise-tier accounts (spec §4.6) cap batch size lower and
// need an inter-batch sleep; the importer, not this method, chunks calls
// (RunImporterConfig.BatchSize, default 50), and neither adds a pause
// between batches.
func (c *QaseClient) BulkCreateResults(ctx context.Context, projectCode string, runID int64, results []QaseResult) error {
	body := map[string]any{"results": results}
	return c.doJSON(ctx, "POST /v2/result/bulk", "POST", fmt.Sprintf("/v2/result/%s/%d/bulk", projectCode, runID), body, &struct{}{})
}

// CompleteRun marks a run complete.
func (c *QaseClient) CompleteRun(ctx context.Context, projectCode string, runID int64) error {
	return c.doJSON(ctx, "POST /v1/run/complete", "POST", fmt.Sprintf("/v1/run/%s/%d/complete", projectCode, runID), nil, &struct{}{})
}

// UploadAttachment uploads one file, returning the hash Qase assigns (used to
// build ![](...) replacement URLs, spec §4.7).
func (c *QaseClient) UploadAttachment(ctx context.Context, projectCode, filename string, content []byte) (string, error) {
	var wrapper struct {
		Result []struct {
			Hash string `json:"hash"`
			URL  string `json:"url"`
		} `json:"result"`
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file[]", filename)
	if err != nil {
		return "", fmt.Errorf("httpclient: building attachment upload form: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return "", fmt.Errorf("httpclient: writing attachment bytes: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("httpclient: closing attachment form: %w", err)
	}

	_, err = c.base.Do(ctx, "POST /v1/attachment", func() *resty.Request {
		req := c.base.Resty().R().
			SetContext(ctx).
			SetHeader("Content-Type", mw.FormDataContentType()).
			SetBody(buf.Bytes()).
			SetResult(&wrapper)
		req.Method = "POST"
		req.URL = fmt.Sprintf("/v1/attachment/%s", projectCode)
		return req
	})
	if err != nil {
		return "", err
	}
	if len(wrapper.Result) == 0 {
		return "", fmt.Errorf("httpclient: attachment upload returned no result entries")
	}
	return wrapper.Result[0].Hash, nil
}

// ListCases pages through a project's cases (cmd/syncrun's cross-project
// case matching). Qase's listing endpoint does not support an "include"
// value for custom fields, matching original_source's comment that
// include=custom_fields is unsupported; custom_fields on each entity comes
// back only as far as the API's default case shape provides it.
func (c *QaseClient) ListCases(ctx context.Context, projectCode string, offset, limit int) ([]QaseCaseListItem, int, error) {
	var wrapper struct {
		Result struct {
			Entities []QaseCaseListItem `json:"entities"`
			Total    int                `json:"total"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/v1/case/%s?limit=%d&offset=%d", projectCode, limit, offset)
	if err := c.doJSON(ctx, "GET /v1/case", "GET", path, nil, &wrapper); err != nil {
		return nil, 0, err
	}
	return wrapper.Result.Entities, wrapper.Result.Total, nil
}

// GetCaseByID fetches one case directly, the fallback path when listing
// doesn't surface custom field values (spec's supplemented sync-script
// behavior, original_source/Scenario 1/sync_qase_runs.py's get_case).
func (c *QaseClient) GetCaseByID(ctx context.Context, projectCode string, id int64) (*QaseCaseListItem, error) {
	var wrapper struct {
		Result QaseCaseListItem `json:"result"`
	}
	path := fmt.Sprintf("/v1/case/%s/%d", projectCode, id)
	if err := c.doJSON(ctx, "GET /v1/case/id", "GET", path, nil, &wrapper); err != nil {
		return nil, err
	}
	return &wrapper.Result, nil
}

// ListResultsForRun pages through a run's results, filtered server-side by
// run id (GET /result/{code}?run=<id>).
func (c *QaseClient) ListResultsForRun(ctx context.Context, projectCode string, runID int64, offset, limit int) ([]QaseResultListItem, int, error) {
	var wrapper struct {
		Result struct {
			Entities []QaseResultListItem `json:"entities"`
			Total    int                  `json:"total"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/v1/result/%s?run=%d&limit=%d&offset=%d", projectCode, runID, limit, offset)
	if err := c.doJSON(ctx, "GET /v1/result", "GET", path, nil, &wrapper); err != nil {
		return nil, 0, err
	}
	return wrapper.Result.Entities, wrapper.Result.Total, nil
}

// CreateSingleResult posts one result directly against a run id (as opposed
// to BulkCreateResults' v2 batch endpoint), matching
// original_source/Scenario 1/sync_qase_runs.py's post_result_to_run_a.
func (c *QaseClient) CreateSingleResult(ctx context.Context, projectCode string, runID int64, payload QaseResultCreate) (int64, error) {
	var wrapper struct {
		Result struct {
			ID int64 `json:"id"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/v1/result/%s/%d", projectCode, runID)
	if err := c.doJSON(ctx, "POST /v1/result", "POST", path, payload, &wrapper); err != nil {
		return 0, err
	}
	return wrapper.Result.ID, nil
}
