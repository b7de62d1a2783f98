package coreapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bismarkhq/bismark/internal/common/config"
	"github.com/bismarkhq/bismark/internal/eventbus"
	"github.com/bismarkhq/bismark/internal/store"
	"github.com/bismarkhq/bismark/internal/wsstate"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	st := store.New(dir, nil)
	bus := eventbus.NewMemory(nil)

	wss, err := wsstate.New(context.Background(), st, bus, nil)
	require.NoError(t, err)

	return New(config.CoreAPIConfig{Host: "127.0.0.1", Port: 0}, Deps{
		Store:   st,
		Bus:     bus,
		WSState: wss,
	}, nil)
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSaveAndListAndDeleteAgent(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/agents", saveAgentRequest{
		Name:       "worker-1",
		WorkingDir: "/tmp",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var saved map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &saved))
	id := saved["id"].(string)
	require.NotEmpty(t, id)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/agents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var agents []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agents))
	require.Len(t, agents, 1)

	rec = doJSON(t, srv, http.MethodDelete, "/api/v1/agents/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/agents", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agents))
	require.Len(t, agents, 0)
}

func TestSaveAgentRejectsMissingWorkingDir(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/agents", saveAgentRequest{Name: "x"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTabLifecycle(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/tabs", createTabRequest{Name: "main"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var tab map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tab))
	tabID := tab["id"].(string)

	rec = doJSON(t, srv, http.MethodPut, "/api/v1/tabs/"+tabID, renameTabRequest{Name: "renamed"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodDelete, "/api/v1/tabs/"+tabID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, true, body["success"])
}

func TestDeleteTabUnknownIsNotFound(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodDelete, "/api/v1/tabs/does-not-exist", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAcknowledgeAttentionIsNoopWhenNotQueued(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/attention/nobody/ack", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthTokenRoundTrip(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/auth/token/exists", nil)
	var has map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &has))
	require.False(t, has["hasToken"])

	rec = doJSON(t, srv, http.MethodPut, "/api/v1/auth/token", setTokenRequest{Token: "secret"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/auth/token/exists", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &has))
	require.True(t, has["hasToken"])

	rec = doJSON(t, srv, http.MethodDelete, "/api/v1/auth/token", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/auth/token/exists", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &has))
	require.False(t, has["hasToken"])
}

func TestSetAndGetPreferencesPartialUpdate(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/preferences", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPut, "/api/v1/preferences", map[string]interface{}{"tutorialSeen": true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/preferences", nil)
	var prefs map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &prefs))
	require.Equal(t, true, prefs["tutorialSeen"])
	require.Equal(t, "solo", prefs["operatingMode"])
}
