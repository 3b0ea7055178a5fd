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

func TestSharedStepImporter_Import_RecordsHashAndDefaultsEmptyAction(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"hash":"abc123"}}`))
	}))
	defer target.Close()

	targetBase := httpclient.NewBaseClient(target.URL, 5*time.Second, 0, discardLogger())
	targetClient := httpclient.NewQaseClient(targetBase, "token")

	store := mapping.New()
	imp := NewSharedStepImporter(targetClient, store, discardLogger())

	records := []SharedStepSource{
		{
			ID:    7,
			Title: "Log in",
			Steps: []struct {
				Content  string
				Expected string
			}{
				{Content: "", Expected: "user is logged in"},
			},
		},
	}

	require.NoError(t, imp.Import(t.Context(), "DEMO", records))
	require.Equal(t, "abc123", store.SharedStepsFor("DEMO")[7])
}
