package fields

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/tr2qase/internal/httpclient"
	"github.com/vitaliisemenov/tr2qase/internal/mapping"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReconcile_CreatesGlobalSingleConfigField(t *testing.T) {
	var createdField httpclient.QaseCustomField
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "GET":
			w.Write([]byte(`{"result":{"entities":[]}}`))
		case r.Method == "POST":
			// Keep the first created field: the synthetic fields are
			// POSTed after the source field.
			var body httpclient.QaseCustomField
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			if createdField.Title == "" {
				createdField = body
			}
			w.Write([]byte(`{"result":{"id":10}}`))
		}
	}))
	defer srv.Close()

	base := httpclient.NewBaseClient(srv.URL, 5*time.Second, 0, discardLogger())
	target := httpclient.NewQaseClient(base, "token")
	store := mapping.New()
	r := New(target, store, discardLogger())

	sourceFields := []httpclient.TestrailCaseField{
		{
			Label: "Severity", Name: "severity", TypeID: 6,
			Configs: []httpclient.TestrailFieldConfig{
				{
					Context: httpclient.TestrailFieldContext{IsGlobal: true},
					Options: httpclient.TestrailFieldOptions{Items: "1,Low\n2,High"},
				},
			},
		},
	}

	err := r.Reconcile(t.Context(), sourceFields, map[int]string{}, ReconcileOptions{})
	require.NoError(t, err)

	cf, ok := store.CustomFields["severity"]
	require.True(t, ok)
	require.Equal(t, 10, cf.QaseID)
	require.Equal(t, targetTypeSelectbox, cf.TypeID)
	require.Equal(t, 1, cf.TrKeyToQaseID["1"])
	require.Equal(t, 2, cf.TrKeyToQaseID["2"])
	require.Equal(t, "Severity", createdField.Title)
}

func TestReconcile_MatchesExistingFieldAndAppendsMissingValues(t *testing.T) {
	var patchBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "GET":
			w.Write([]byte(`{"result":{"entities":[{"id":5,"title":"Severity","type":"selectbox","entity":0,"value":[{"id":1,"title":"Low"}]}]}}`))
		case "PATCH":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&patchBody))
			w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	base := httpclient.NewBaseClient(srv.URL, 5*time.Second, 0, discardLogger())
	target := httpclient.NewQaseClient(base, "token")
	store := mapping.New()
	r := New(target, store, discardLogger())

	sourceFields := []httpclient.TestrailCaseField{
		{
			Label: "Severity", Name: "severity", TypeID: 6,
			Configs: []httpclient.TestrailFieldConfig{
				{
					Context: httpclient.TestrailFieldContext{IsGlobal: true},
					Options: httpclient.TestrailFieldOptions{Items: "1,Low\n2,High"},
				},
			},
		},
	}

	err := r.Reconcile(t.Context(), sourceFields, map[int]string{}, ReconcileOptions{})
	require.NoError(t, err)

	cf := store.CustomFields["severity"]
	require.Equal(t, 5, cf.QaseID)
	require.Equal(t, 2, cf.TrKeyToQaseID["2"])
	require.NotNil(t, patchBody)
}

func TestReconcile_RegistersStepContainerFieldByType10(t *testing.T) {
	var createdTitles []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "GET" {
			w.Write([]byte(`{"result":{"entities":[]}}`))
			return
		}
		var body httpclient.QaseCustomField
		json.NewDecoder(r.Body).Decode(&body)
		createdTitles = append(createdTitles, body.Title)
		w.Write([]byte(`{"result":{"id":1}}`))
	}))
	defer srv.Close()

	base := httpclient.NewBaseClient(srv.URL, 5*time.Second, 0, discardLogger())
	target := httpclient.NewQaseClient(base, "token")
	store := mapping.New()
	r := New(target, store, discardLogger())

	sourceFields := []httpclient.TestrailCaseField{
		{Label: "Steps", Name: "steps", TypeID: 10},
	}

	err := r.Reconcile(t.Context(), sourceFields, map[int]string{}, ReconcileOptions{PreserveIDs: true})
	require.NoError(t, err)

	_, isStepField := store.StepFields["steps"]
	require.True(t, isStepField)
	_, hasCustomField := store.CustomFields["steps"]
	require.False(t, hasCustomField)
	require.NotContains(t, createdTitles, "Steps")
}

func TestReconcile_PersistsMissingProjectCodeUnion(t *testing.T) {
	var patchBody httpclient.QaseCustomField
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "GET":
			w.Write([]byte(`{"result":{"entities":[{"id":5,"title":"Severity","type":"selectbox","entity":0,"value":[{"id":1,"title":"Low"}],"projects_codes":["DEMO"]}]}}`))
		case "PATCH":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&patchBody))
			w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	base := httpclient.NewBaseClient(srv.URL, 5*time.Second, 0, discardLogger())
	target := httpclient.NewQaseClient(base, "token")
	store := mapping.New()
	r := New(target, store, discardLogger())

	sourceFields := []httpclient.TestrailCaseField{
		{
			Label: "Severity", Name: "severity", TypeID: 6,
			Configs: []httpclient.TestrailFieldConfig{
				{
					Context: httpclient.TestrailFieldContext{ProjectIDs: []int{1}},
					Options: httpclient.TestrailFieldOptions{Items: "1,Low"},
				},
			},
		},
	}

	err := r.Reconcile(t.Context(), sourceFields, map[int]string{1: "OTHER"}, ReconcileOptions{})
	require.NoError(t, err)

	require.ElementsMatch(t, []string{"DEMO", "OTHER"}, patchBody.ProjectCodes)
	require.Equal(t, "Severity", patchBody.Title)
	require.Equal(t, "selectbox", patchBody.Type)
	require.Equal(t, int64(5), patchBody.ID)
}

func TestReconcile_SyntheticFields(t *testing.T) {
	var titles []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "GET" {
			w.Write([]byte(`{"result":{"entities":[]}}`))
			return
		}
		var body httpclient.QaseCustomField
		json.NewDecoder(r.Body).Decode(&body)
		titles = append(titles, body.Title)
		w.Write([]byte(`{"result":{"id":99}}`))
	}))
	defer srv.Close()

	base := httpclient.NewBaseClient(srv.URL, 5*time.Second, 0, discardLogger())
	target := httpclient.NewQaseClient(base, "token")
	store := mapping.New()
	r := New(target, store, discardLogger())

	err := r.Reconcile(t.Context(), nil, map[int]string{}, ReconcileOptions{RefsEnable: true, PreserveIDs: false})
	require.NoError(t, err)

	require.Contains(t, titles, "Refs")
	require.Contains(t, titles, "TestRail Original ID")
	require.Contains(t, titles, "Estimate")
	require.NotZero(t, store.RefsFieldID)
	require.NotZero(t, store.TestrailOriginalIDFieldID)
	require.NotZero(t, store.EstimateFieldID)
}
