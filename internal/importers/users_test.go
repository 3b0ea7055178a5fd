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

func TestUserImporter_Import_ResolvesViaLookupAndFallsBackToDefault(t *testing.T) {
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":1,"name":"Ada","email":"ada@example.com"},{"id":2,"name":"Bob","email":"bob@example.com"}]`))
	}))
	defer source.Close()

	sourceBase := httpclient.NewBaseClient(source.URL, 5*time.Second, 0, discardLogger())
	sourceClient := httpclient.NewTestrailClient(sourceBase, "u", "t", nil, discardLogger())

	store := mapping.New()
	imp := NewUserImporter(sourceClient, store, discardLogger())

	lookup := func(email string) (int, bool) {
		if email == "ada@example.com" {
			return 42, true
		}
		return 0, false
	}

	require.NoError(t, imp.Import(t.Context(), lookup, 99))
	require.Equal(t, 42, store.Users[1])
	require.Equal(t, 99, store.Users[2])
	require.Equal(t, 99, store.DefaultUser)
}
