package importers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/tr2qase/internal/attachments"
	"github.com/vitaliisemenov/tr2qase/internal/httpclient"
	"github.com/vitaliisemenov/tr2qase/internal/mapping"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCaseImporter_Import_TranslatesEnumAndTextFields(t *testing.T) {
	var createdCase httpclient.QaseCase
	firstPage := true

	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if firstPage {
			firstPage = false
			w.Write([]byte(`{"cases":[{"id":7,"title":"Login works","section_id":1,"priority_id":1,"custom_severity":1,"custom_notes":"see docs"}]}`))
			return
		}
		w.Write([]byte(`{"cases":[]}`))
	}))
	defer source.Close()

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&createdCase))
		w.Write([]byte(`{"result":{"id":7}}`))
	}))
	defer target.Close()

	sourceBase := httpclient.NewBaseClient(source.URL, 5*time.Second, 0, discardLogger())
	sourceClient := httpclient.NewTestrailClient(sourceBase, "u", "t", nil, discardLogger())
	targetBase := httpclient.NewBaseClient(target.URL, 5*time.Second, 0, discardLogger())
	targetClient := httpclient.NewQaseClient(targetBase, "token")

	store := mapping.New()
	store.CustomFields["severity"] = &mapping.CustomField{
		QaseID:        50,
		TypeID:        3,
		TrKeyToQaseID: map[string]int{"1": 100},
	}
	store.CustomFields["notes"] = &mapping.CustomField{QaseID: 60, TypeID: 1}
	store.DefaultPriority = 2

	atts, err := attachments.New(sourceClient, targetClient, store, attachments.Config{}, discardLogger())
	require.NoError(t, err)

	imp := NewCaseImporter(sourceClient, targetClient, store, atts, discardLogger())

	err = imp.Import(t.Context(), 1, 0, CaseImporterConfig{ProjectCode: "DEMO", PreserveIDs: true})
	require.NoError(t, err)

	require.Equal(t, "Login works", createdCase.Title)
	require.EqualValues(t, 100, createdCase.CustomField["50"])
	require.Equal(t, "see docs", createdCase.CustomField["60"])
	require.Equal(t, int64(7), createdCase.ID)
	require.Equal(t, 7, store.CaseIDMapping[7])
}

func TestCaseImporter_Import_StepFieldSetsDataAndPosition(t *testing.T) {
	firstPage := true
	var createdCase httpclient.QaseCase

	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if firstPage {
			firstPage = false
			w.Write([]byte(`{"cases":[{"id":3,"title":"Case","section_id":1,"priority_id":1,"custom_steps":[` +
				`{"content":"do a thing","expected":"it works","additional_info":"pre-req data"},` +
				`{"content":"","expected":""}` +
				`]}]}`))
			return
		}
		w.Write([]byte(`{"cases":[]}`))
	}))
	defer source.Close()

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&createdCase)
		w.Write([]byte(`{"result":{"id":3}}`))
	}))
	defer target.Close()

	sourceBase := httpclient.NewBaseClient(source.URL, 5*time.Second, 0, discardLogger())
	sourceClient := httpclient.NewTestrailClient(sourceBase, "u", "t", nil, discardLogger())
	targetBase := httpclient.NewBaseClient(target.URL, 5*time.Second, 0, discardLogger())
	targetClient := httpclient.NewQaseClient(targetBase, "token")

	store := mapping.New()
	store.StepFields["steps"] = struct{}{}

	atts, err := attachments.New(sourceClient, targetClient, store, attachments.Config{}, discardLogger())
	require.NoError(t, err)

	imp := NewCaseImporter(sourceClient, targetClient, store, atts, discardLogger())
	err = imp.Import(t.Context(), 1, 0, CaseImporterConfig{ProjectCode: "DEMO", PreserveIDs: true})
	require.NoError(t, err)

	require.Len(t, createdCase.Steps, 1)
	require.Equal(t, "do a thing", createdCase.Steps[0].Action)
	require.Equal(t, "pre-req data", createdCase.Steps[0].Data)
	require.Equal(t, 1, createdCase.Steps[0].Position)
}

func TestCaseImporter_Import_BDDScenarioReplacesStepsWithSingleColumn(t *testing.T) {
	firstPage := true
	var createdCase httpclient.QaseCase

	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if firstPage {
			firstPage = false
			w.Write([]byte(`{"cases":[{"id":4,"title":"Case","section_id":1,"priority_id":1,"custom_testrail_bdd_scenario":"[{\"content\":\"Given a thing\"},{\"content\":\"Then it works\"}]"}]}`))
			return
		}
		w.Write([]byte(`{"cases":[]}`))
	}))
	defer source.Close()

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&createdCase)
		w.Write([]byte(`{"result":{"id":4}}`))
	}))
	defer target.Close()

	sourceBase := httpclient.NewBaseClient(source.URL, 5*time.Second, 0, discardLogger())
	sourceClient := httpclient.NewTestrailClient(sourceBase, "u", "t", nil, discardLogger())
	targetBase := httpclient.NewBaseClient(target.URL, 5*time.Second, 0, discardLogger())
	targetClient := httpclient.NewQaseClient(targetBase, "token")

	store := mapping.New()
	atts, err := attachments.New(sourceClient, targetClient, store, attachments.Config{}, discardLogger())
	require.NoError(t, err)

	imp := NewCaseImporter(sourceClient, targetClient, store, atts, discardLogger())
	err = imp.Import(t.Context(), 1, 0, CaseImporterConfig{ProjectCode: "DEMO", PreserveIDs: true})
	require.NoError(t, err)

	require.Len(t, createdCase.Steps, 2)
	require.Equal(t, "Given a thing", createdCase.Steps[0].Action)
	require.Empty(t, createdCase.Steps[0].ExpectedResult)
	require.Equal(t, 1, createdCase.Steps[0].Position)
	require.Equal(t, "Then it works", createdCase.Steps[1].Action)
	require.Equal(t, 2, createdCase.Steps[1].Position)
}

func TestCaseImporter_Import_RoutesPrecondsToDescription(t *testing.T) {
	firstPage := true
	var createdCase httpclient.QaseCase

	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if firstPage {
			firstPage = false
			w.Write([]byte(`{"cases":[{"id":1,"title":"Case","section_id":1,"priority_id":1,"custom_preconds":"log in first"}]}`))
			return
		}
		w.Write([]byte(`{"cases":[]}`))
	}))
	defer source.Close()

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&createdCase)
		w.Write([]byte(`{"result":{"id":1}}`))
	}))
	defer target.Close()

	sourceBase := httpclient.NewBaseClient(source.URL, 5*time.Second, 0, discardLogger())
	sourceClient := httpclient.NewTestrailClient(sourceBase, "u", "t", nil, discardLogger())
	targetBase := httpclient.NewBaseClient(target.URL, 5*time.Second, 0, discardLogger())
	targetClient := httpclient.NewQaseClient(targetBase, "token")

	store := mapping.New()
	atts, err := attachments.New(sourceClient, targetClient, store, attachments.Config{}, discardLogger())
	require.NoError(t, err)

	imp := NewCaseImporter(sourceClient, targetClient, store, atts, discardLogger())
	err = imp.Import(t.Context(), 1, 0, CaseImporterConfig{ProjectCode: "DEMO", PreserveIDs: true})
	require.NoError(t, err)

	require.Equal(t, "log in first", createdCase.Description)
}
