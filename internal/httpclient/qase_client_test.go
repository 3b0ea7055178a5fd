package httpclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQaseClient_CreateCase_ReturnsID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/case/DEMO", r.URL.Path)
		require.Equal(t, "secret-token", r.Header.Get("Token"))

		var body QaseCase
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "Login works", body.Title)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result":{"id":42}}`))
	}))
	defer srv.Close()

	base := NewBaseClient(srv.URL, 5*time.Second, 0, discardLogger())
	client := NewQaseClient(base, "secret-token")

	id, err := client.CreateCase(t.Context(), "DEMO", QaseCase{Title: "Login works", PriorityID: 2, TypeID: 1})
	require.NoError(t, err)
	require.EqualValues(t, 42, id)
}

func TestQaseClient_UploadAttachment_ReturnsHash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.Header.Get("Content-Type"), "multipart/form-data")
		w.Write([]byte(`{"result":[{"hash":"abc123","url":"https://cdn/abc123"}]}`))
	}))
	defer srv.Close()

	base := NewBaseClient(srv.URL, 5*time.Second, 0, discardLogger())
	client := NewQaseClient(base, "secret-token")

	hash, err := client.UploadAttachment(t.Context(), "DEMO", "shot.png", []byte("binary"))
	require.NoError(t, err)
	require.Equal(t, "abc123", hash)
}

func TestQaseClient_GetCustomFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"entities":[{"id":7,"title":"Severity","type":"selectbox","entity":0}]}}`))
	}))
	defer srv.Close()

	base := NewBaseClient(srv.URL, 5*time.Second, 0, discardLogger())
	client := NewQaseClient(base, "secret-token")

	fields, err := client.GetCustomFields(t.Context())
	require.NoError(t, err)
	require.Len(t, fields, 1)
	require.Equal(t, "Severity", fields[0].Title)
}
