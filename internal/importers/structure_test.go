package importers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/tr2qase/internal/httpclient"
	"github.com/vitaliisemenov/tr2qase/internal/mapping"
)

func TestStructureImporter_ImportSuites_ResolvesParentAfterChild(t *testing.T) {
	var created []httpclient.QaseSuite

	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"sections":[{"id":1,"name":"Parent","suite_id":1,"parent_id":null},{"id":2,"name":"Child","suite_id":1,"parent_id":1}]}`))
	}))
	defer source.Close()

	var nextID int64 = 100
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var s httpclient.QaseSuite
		require.NoError(t, json.NewDecoder(r.Body).Decode(&s))
		created = append(created, s)
		nextID++
		w.Write([]byte(`{"result":{"id":` + strconv.FormatInt(nextID, 10) + `}}`))
	}))
	defer target.Close()

	sourceBase := httpclient.NewBaseClient(source.URL, 5*time.Second, 0, discardLogger())
	sourceClient := httpclient.NewTestrailClient(sourceBase, "u", "t", nil, discardLogger())
	targetBase := httpclient.NewBaseClient(target.URL, 5*time.Second, 0, discardLogger())
	targetClient := httpclient.NewQaseClient(targetBase, "token")

	store := mapping.New()
	imp := NewStructureImporter(sourceClient, targetClient, store, discardLogger())

	require.NoError(t, imp.ImportSuites(t.Context(), 1, 1, "DEMO"))
	require.Len(t, created, 2)
	require.Nil(t, created[0].ParentID)
	require.NotNil(t, created[1].ParentID)

	suites := store.SuitesFor("DEMO")
	require.Contains(t, suites, 1)
	require.Contains(t, suites, 2)
}

func TestStructureImporter_ImportMilestones_RecordsMapping(t *testing.T) {
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"milestones":[{"id":5,"name":"Release 1"}]}`))
	}))
	defer source.Close()

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"id":500}}`))
	}))
	defer target.Close()

	sourceBase := httpclient.NewBaseClient(source.URL, 5*time.Second, 0, discardLogger())
	sourceClient := httpclient.NewTestrailClient(sourceBase, "u", "t", nil, discardLogger())
	targetBase := httpclient.NewBaseClient(target.URL, 5*time.Second, 0, discardLogger())
	targetClient := httpclient.NewQaseClient(targetBase, "token")

	store := mapping.New()
	imp := NewStructureImporter(sourceClient, targetClient, store, discardLogger())

	require.NoError(t, imp.ImportMilestones(t.Context(), 1, "DEMO"))
	require.Equal(t, 500, store.MilestonesFor("DEMO")[5])
}

func TestStructureImporter_ImportConfigurations_BuildsValueIndexMap(t *testing.T) {
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":9,"name":"Browser","configs":[{"id":1,"name":"Chrome"},{"id":2,"name":"Firefox"}]}]`))
	}))
	defer source.Close()

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"id":900}}`))
	}))
	defer target.Close()

	sourceBase := httpclient.NewBaseClient(source.URL, 5*time.Second, 0, discardLogger())
	sourceClient := httpclient.NewTestrailClient(sourceBase, "u", "t", nil, discardLogger())
	targetBase := httpclient.NewBaseClient(target.URL, 5*time.Second, 0, discardLogger())
	targetClient := httpclient.NewQaseClient(targetBase, "token")

	store := mapping.New()
	imp := NewStructureImporter(sourceClient, targetClient, store, discardLogger())

	require.NoError(t, imp.ImportConfigurations(t.Context(), 1, "DEMO"))
	groupMap := store.ConfigurationsFor("DEMO")["Browser"]
	require.Equal(t, 1, groupMap[1])
	require.Equal(t, 2, groupMap[2])
}
