package importers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/tr2qase/internal/httpclient"
	"github.com/vitaliisemenov/tr2qase/internal/mapping"
)

func TestProjectCode_DerivesUppercaseAlnumCappedAtTen(t *testing.T) {
	require.Equal(t, "DEMOPROJEC", projectCode("Demo Project: v2!"))
	require.Equal(t, "PROJ", projectCode("!!!"))
}

func TestUniqueCode_DisambiguatesCollisions(t *testing.T) {
	used := map[string]struct{}{"ABC": {}}
	require.Equal(t, "ABC2", uniqueCode("ABC", used))
}

func TestProjectImporter_Import_RecordsProjectMap(t *testing.T) {
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"projects":[{"id":1,"name":"Demo Project"},{"id":2,"name":"Demo Project"}]}`))
	}))
	defer source.Close()

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{}}`))
	}))
	defer target.Close()

	sourceBase := httpclient.NewBaseClient(source.URL, 5*time.Second, 0, discardLogger())
	sourceClient := httpclient.NewTestrailClient(sourceBase, "u", "t", nil, discardLogger())
	targetBase := httpclient.NewBaseClient(target.URL, 5*time.Second, 0, discardLogger())
	targetClient := httpclient.NewQaseClient(targetBase, "token")

	store := mapping.New()
	imp := NewProjectImporter(sourceClient, targetClient, store, discardLogger())

	require.NoError(t, imp.Import(t.Context()))
	require.Equal(t, "DEMOPROJEC", store.ProjectMap[1])
	require.Equal(t, "DEMOPROJEC2", store.ProjectMap[2])
}
