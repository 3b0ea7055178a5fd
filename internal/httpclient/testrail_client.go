package httpclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"

	"github.com/go-resty/resty/v2"
)

// TestrailClient is the source (S) client: Basic Auth for the typed v2 API,
// plus an optional HTMLSession for the UI-only attachment endpoints (spec
// §4.1). Grounded on original_source/api/testrail.py.
type TestrailClient struct {
	base    *BaseClient
	session *HTMLSession
	logger  *slog.Logger
}

// TestrailUser is a source user record.
type TestrailUser struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// TestrailProject is a source project record.
type TestrailProject struct {
	ID        int  `json:"id"`
	Name      string `json:"name"`
	SuiteMode int  `json:"suite_mode"`
}

// TestrailSuite is a source suite (test-suite container) record.
type TestrailSuite struct {
	ID      int `json:"id"`
	Name    string `json:"name"`
	ProjectID int  `json:"project_id"`
}

// TestrailSection is a source section record (spec calls this Suite/Section).
type TestrailSection struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	SuiteID  int    `json:"suite_id"`
	ParentID *int   `json:"parent_id"`
}

// TestrailCase is a source test case. CustomFields captures every
// custom_*-prefixed key dynamically, since the set varies per project (spec
// §9 "dynamic-typed payload shape-shifting" applies to the whole case body,
// not just custom fields, but custom fields are the dominant case).
type TestrailCase struct {
	ID           int            `json:"id"`
	Title        string         `json:"title"`
	SectionID    int            `json:"section_id"`
	SuiteID      int            `json:"suite_id"`
	PriorityID   int            `json:"priority_id"`
	TypeID       int            `json:"type_id"`
	MilestoneID  *int           `json:"milestone_id"`
	Refs         string         `json:"refs"`
	CreatedOn    int64          `json:"created_on"`
	UpdatedOn    int64          `json:"updated_on"`
	CreatedBy    int            `json:"created_by"`
	CustomFields map[string]any `json:"-"`
}

// UnmarshalJSON captures every custom_* field into CustomFields while
// decoding the fixed fields normally, matching the source's dynamic custom
// field container (spec §9).
func (c *TestrailCase) UnmarshalJSON(data []byte) error {
	type alias TestrailCase
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*c = TestrailCase(a)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.CustomFields = make(map[string]any)
	for k, v := range raw {
		if len(k) > 7 && k[:7] == "custom_" {
			var val any
			if err := json.Unmarshal(v, &val); err == nil {
				c.CustomFields[k] = val
			}
		}
	}
	return nil
}

// TestrailCaseField describes a custom-field schema entry (spec §4.4).
type TestrailCaseField struct {
	ID       int                      `json:"id"`
	Name     string                   `json:"name"`
	Label    string                   `json:"label"`
	TypeID   int                      `json:"type_id"`
	Configs  []TestrailFieldConfig    `json:"configs"`
}

// TestrailFieldConfig is one configuration blob bound to a set of projects.
type TestrailFieldConfig struct {
	Context TestrailFieldContext  `json:"context"`
	Options TestrailFieldOptions  `json:"options"`
}

// TestrailFieldContext lists the projects (or global) a config applies to.
type TestrailFieldContext struct {
	IsGlobal   bool  `json:"is_global"`
	ProjectIDs []int `json:"project_ids"`
}

// TestrailFieldOptions carries the enum "items" blob and friends.
type TestrailFieldOptions struct {
	Items string `json:"items"`
}

// TestrailMilestone is a source milestone record.
type TestrailMilestone struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// TestrailConfigGroup is a source configuration group (e.g. "Browser").
type TestrailConfigGroup struct {
	ID      int                `json:"id"`
	Name    string             `json:"name"`
	Configs []TestrailConfig   `json:"configs"`
}

// TestrailConfig is one named value within a configuration group.
type TestrailConfig struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// TestrailRun is a source test run.
type TestrailRun struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	MilestoneID   *int   `json:"milestone_id"`
	CreatedOn     int64  `json:"created_on"`
	CompletedOn   *int64 `json:"completed_on"`
	Description   string `json:"description"`
	CreatedBy     int    `json:"created_by"`
	ConfigIDs     []int  `json:"config_ids"`
	IsCompleted   bool   `json:"is_completed"`
	PlanID        int    `json:"plan_id"`
}

// TestrailResult is a source test result.
type TestrailResult struct {
	ID                int            `json:"id"`
	TestID            int            `json:"test_id"`
	StatusID          int            `json:"status_id"`
	CreatedOn         int64          `json:"created_on"`
	CreatedBy         int            `json:"created_by"`
	Comment           string         `json:"comment"`
	Elapsed           string         `json:"elapsed"`
	CustomStepResults []StepResult   `json:"custom_step_results"`
}

// StepResult is one step-level outcome within a result.
type StepResult struct {
	Content  string `json:"content"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	StatusID int    `json:"status_id"`
}

// TestrailAttachmentRecord is one row from the attachments index.
type TestrailAttachmentRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ProjectID any    `json:"project_id"` // scalar or list (spec §4.7)
	CreatedOn int64  `json:"created_on"`
}

// NewTestrailClient builds the source client.
func NewTestrailClient(base *BaseClient, user, apiToken string, session *HTMLSession, logger *slog.Logger) *TestrailClient {
	auth := base64.StdEncoding.EncodeToString([]byte(user + ":" + apiToken))
	base.Resty().SetHeader("Authorization", "Basic "+auth)
	return &TestrailClient{base: base, session: session, logger: logger}
}

func (c *TestrailClient) get(ctx context.Context, path string, out any) error {
	resp, err := c.base.Do(ctx, "GET "+path, func() *resty.Request {
		req := c.base.Resty().R().SetResult(out)
		req.Method = "GET"
		req.URL = path
		return req
	})
	if err != nil {
		return err
	}
	_ = resp
	return nil
}

// GetUsers fetches all source users.
func (c *TestrailClient) GetUsers(ctx context.Context) ([]TestrailUser, error) {
	var out []TestrailUser
	if err := c.get(ctx, "/index.php?/api/v2/get_users", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetProjects fetches all source projects.
func (c *TestrailClient) GetProjects(ctx context.Context) ([]TestrailProject, error) {
	var wrapper struct {
		Projects []TestrailProject `json:"projects"`
	}
	if err := c.get(ctx, "/index.php?/api/v2/get_projects", &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Projects, nil
}

// GetSuites fetches the suites for a project (used when suite_mode in {2,3}).
func (c *TestrailClient) GetSuites(ctx context.Context, projectID int) ([]TestrailSuite, error) {
	var out []TestrailSuite
	if err := c.get(ctx, fmt.Sprintf("/index.php?/api/v2/get_suites/%d", projectID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSections fetches sections within a suite.
func (c *TestrailClient) GetSections(ctx context.Context, projectID, suiteID int) ([]TestrailSection, error) {
	var wrapper struct {
		Sections []TestrailSection `json:"sections"`
	}
	path := fmt.Sprintf("/index.php?/api/v2/get_sections/%d", projectID)
	if suiteID != 0 {
		path += fmt.Sprintf("&suite_id=%d", suiteID)
	}
	if err := c.get(ctx, path, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Sections, nil
}

// GetCasesPage fetches one page of cases for a suite.
func (c *TestrailClient) GetCasesPage(ctx context.Context, projectID, suiteID, offset, limit int) ([]TestrailCase, error) {
	var wrapper struct {
		Cases []TestrailCase `json:"cases"`
	}
	path := fmt.Sprintf("/index.php?/api/v2/get_cases/%d&offset=%d&limit=%d", projectID, offset, limit)
	if suiteID != 0 {
		path += fmt.Sprintf("&suite_id=%d", suiteID)
	}
	if err := c.get(ctx, path, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Cases, nil
}

// GetCaseFields fetches the custom-field schema (spec §4.4's reconciliation input).
func (c *TestrailClient) GetCaseFields(ctx context.Context) ([]TestrailCaseField, error) {
	var out []TestrailCaseField
	if err := c.get(ctx, "/index.php?/api/v2/get_case_fields", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPriorities fetches the system priority list.
func (c *TestrailClient) GetPriorities(ctx context.Context) ([]struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}, error) {
	var out []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	if err := c.get(ctx, "/index.php?/api/v2/get_priorities", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetMilestones fetches milestones for a project.
func (c *TestrailClient) GetMilestones(ctx context.Context, projectID int) ([]TestrailMilestone, error) {
	var wrapper struct {
		Milestones []TestrailMilestone `json:"milestones"`
	}
	if err := c.get(ctx, fmt.Sprintf("/index.php?/api/v2/get_milestones/%d", projectID), &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Milestones, nil
}

// GetConfigs fetches configuration groups for a project.
func (c *TestrailClient) GetConfigs(ctx context.Context, projectID int) ([]TestrailConfigGroup, error) {
	var out []TestrailConfigGroup
	if err := c.get(ctx, fmt.Sprintf("/index.php?/api/v2/get_configs/%d", projectID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetRuns fetches runs for a project.
func (c *TestrailClient) GetRuns(ctx context.Context, projectID int) ([]TestrailRun, error) {
	var wrapper struct {
		Runs []TestrailRun `json:"runs"`
	}
	if err := c.get(ctx, fmt.Sprintf("/index.php?/api/v2/get_runs/%d", projectID), &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Runs, nil
}

// GetTests fetches the tests (case instances) belonging to a run, used to
// build the per-run tests->cases map (spec §4.6).
func (c *TestrailClient) GetTests(ctx context.Context, runID int) ([]struct {
	ID     int `json:"id"`
	CaseID int `json:"case_id"`
}, error) {
	var wrapper struct {
		Tests []struct {
			ID     int `json:"id"`
			CaseID int `json:"case_id"`
		} `json:"tests"`
	}
	if err := c.get(ctx, fmt.Sprintf("/index.php?/api/v2/get_tests/%d", runID), &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Tests, nil
}

// GetResultsForRunPage fetches one page of results for a run.
func (c *TestrailClient) GetResultsForRunPage(ctx context.Context, runID, offset, limit int) ([]TestrailResult, error) {
	var wrapper struct {
		Results []TestrailResult `json:"results"`
	}
	path := fmt.Sprintf("/index.php?/api/v2/get_results_for_run/%d&offset=%d&limit=%d", runID, offset, limit)
	if err := c.get(ctx, path, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Results, nil
}

var contentDispositionFilenameRE = regexp.MustCompile(`filename\*=UTF-8''([^;]+)`)

// AttachmentData is a downloaded attachment's filename and bytes.
type AttachmentData struct {
	Filename string
	Content  []byte
}

// GetAttachment downloads one attachment, falling back to the typed API
// endpoint when the HTML session is unavailable (spec §4.1, §9).
func (c *TestrailClient) GetAttachment(ctx context.Context, attachmentID string) (*AttachmentData, error) {
	var resp *resty.Response
	var err error

	if c.session != nil {
		resp, err = c.session.Request(ctx).Get(fmt.Sprintf("/index.php?/attachments/get/%s", attachmentID))
	} else {
		resp, err = c.base.Resty().R().SetContext(ctx).Get(fmt.Sprintf("/index.php?/api/v2/get_attachment/%s", attachmentID))
	}
	if err != nil {
		return nil, fmt.Errorf("httpclient: downloading attachment %s: %w", attachmentID, err)
	}
	if resp.StatusCode() >= 300 {
		return nil, &TransportError{StatusCode: resp.StatusCode(), Message: "attachment download failed", Category: ClassifyStatus(resp.StatusCode())}
	}

	filename := "attachment"
	if m := contentDispositionFilenameRE.FindStringSubmatch(resp.Header().Get("Content-Disposition")); m != nil {
		if decoded, derr := decodePercent(m[1]); derr == nil {
			filename = decoded
		}
	}

	return &AttachmentData{Filename: filename, Content: resp.Body()}, nil
}

// GetAttachmentsListPage fetches one page of the attachments index via the
// HTML session's overview endpoint, ordered by created_on desc (spec §4.7).
// page_size 30 / max_workers 24 / total cap 120000, per
// original_source/api/testrail.py::get_attachments_list.
func (c *TestrailClient) GetAttachmentsListPage(ctx context.Context, page int) ([]TestrailAttachmentRecord, error) {
	if c.session == nil {
		return nil, nil
	}
	var wrapper struct {
		Data []TestrailAttachmentRecord `json:"data"`
	}
	resp, err := c.session.Request(ctx).
		SetResult(&wrapper).
		Get(fmt.Sprintf("/index.php?/attachments/overview&page=%d&order=created_on&sort=desc", page))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() >= 300 {
		return nil, &TransportError{StatusCode: resp.StatusCode(), Message: "attachment index page failed", Category: ClassifyStatus(resp.StatusCode())}
	}
	return wrapper.Data, nil
}

const (
	attachmentsPageSize  = 30
	attachmentsMaxWorkers = 24
	attachmentsTotalCap  = 120000
)

// decodePercent decodes the percent-encoded UTF-8 filename carried by a
// Content-Disposition filename* parameter (RFC 5987), matching
// original_source/entities/attachments.py's urllib.parse.unquote usage.
func decodePercent(s string) (string, error) {
	return url.QueryUnescape(s)
}
