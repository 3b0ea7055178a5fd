package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTestrailClient_GetCasesPage_ParsesCustomFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"cases":[{"id":1,"title":"Login works","section_id":5,"priority_id":3,"custom_steps":"do a thing","custom_preconds":"logged out"}]}`))
	}))
	defer srv.Close()

	base := NewBaseClient(srv.URL, 5*time.Second, 0, discardLogger())
	client := NewTestrailClient(base, "user@example.com", "token", nil, discardLogger())

	cases, err := client.GetCasesPage(t.Context(), 1, 0, 0, 50)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	require.Equal(t, "Login works", cases[0].Title)
	require.Equal(t, "do a thing", cases[0].CustomFields["custom_steps"])
	require.Equal(t, "logged out", cases[0].CustomFields["custom_preconds"])
}

func TestTestrailClient_GetAttachment_ParsesContentDispositionFilename(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename*=UTF-8''screenshot%20final.png`)
		w.Write([]byte("binary-data"))
	}))
	defer srv.Close()

	base := NewBaseClient(srv.URL, 5*time.Second, 0, discardLogger())
	session := &HTMLSession{rc: newRestyFor(srv.URL), logger: discardLogger()}
	client := NewTestrailClient(base, "user@example.com", "token", session, discardLogger())

	att, err := client.GetAttachment(t.Context(), "abc-123")
	require.NoError(t, err)
	require.Equal(t, "screenshot final.png", att.Filename)
	require.Equal(t, []byte("binary-data"), att.Content)
}

func TestTestrailClient_GetProjects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"projects":[{"id":1,"name":"Demo","suite_mode":1}]}`))
	}))
	defer srv.Close()

	base := NewBaseClient(srv.URL, 5*time.Second, 0, discardLogger())
	client := NewTestrailClient(base, "u", "t", nil, discardLogger())

	projects, err := client.GetProjects(t.Context())
	require.NoError(t, err)
	require.Equal(t, "Demo", projects[0].Name)
}
