package components

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taployalty/tapagent/internal/agent"
	"github.com/taployalty/tapagent/internal/config"
	"github.com/taployalty/tapagent/internal/daemon"
	"github.com/taployalty/tapagent/internal/store"
)

type apiRig struct {
	server *httptest.Server
	worker *store.Worker
}

func newAPIRig(t *testing.T) *apiRig {
	t.Helper()

	tools := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items":[{"name":"Sheets Append","slug":"sheets-append","toolkit":{"name":"Google Sheets"}}]}`)
	}))
	t.Cleanup(tools.Close)

	categorize := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(categorize.Close)

	cfg := &config.Config{}
	cfg.Server.Port = 0
	cfg.Daemon.DataPath = t.TempDir()
	cfg.Upstream.Tools.BaseURL = tools.URL
	cfg.Upstream.Categorize.BaseURL = categorize.URL

	ctx := context.Background()

	storeComp := NewStoreWorkerComponent(cfg.Daemon.DataPath, &cfg.Store)
	require.NoError(t, storeComp.Init(ctx))
	require.NoError(t, storeComp.Start(ctx))
	t.Cleanup(func() { storeComp.Stop(ctx) })

	registryComp := NewRegistryComponent(storeComp, &cfg.Upstream)
	require.NoError(t, registryComp.Init(ctx))

	modelsComp := NewModelRouterComponent(&cfg.Models)
	require.NoError(t, modelsComp.Init(ctx))

	d, err := daemon.NewDaemon(cfg)
	require.NoError(t, err)
	d.AddComponent(storeComp)

	httpComp := NewHTTPServerComponent(d, cfg, storeComp, registryComp, modelsComp)
	require.NoError(t, httpComp.Init(ctx))

	server := httptest.NewServer(httpComp.server.Handler)
	t.Cleanup(server.Close)

	worker := storeComp.GetWorker()
	_, err = worker.Put(store.CollectionAPIKeys, "test-key", []byte(`{"merchantId":"m1"}`))
	require.NoError(t, err)

	return &apiRig{server: server, worker: worker}
}

func (rig *apiRig) do(t *testing.T, method, path string, body []byte, authorized bool) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, rig.server.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	if authorized {
		req.Header.Set("Authorization", "Bearer test-key")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAPI_RequiresAuth(t *testing.T) {
	rig := newAPIRig(t)

	resp := rig.do(t, http.MethodGet, "/v1/agents", nil, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = rig.do(t, http.MethodGet, "/v1/logs", nil, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_HealthIsPublic(t *testing.T) {
	rig := newAPIRig(t)

	resp := rig.do(t, http.MethodGet, "/health", nil, false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestAPI_AgentLifecycle(t *testing.T) {
	rig := newAPIRig(t)

	resp := rig.do(t, http.MethodPost, "/v1/agents/email-summary/connect", []byte(`{"agentType":"email-summary"}`), true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rec agent.EnrollmentRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	assert.Equal(t, "email-summary", rec.AgentID)
	assert.Equal(t, agent.StatusActive, rec.Status)
	assert.NotEmpty(t, rec.ScheduleID)

	resp = rig.do(t, http.MethodGet, "/v1/agents", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Agents []agent.EnrollmentRecord `json:"agents"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Len(t, list.Agents, 1)

	resp = rig.do(t, http.MethodPut, "/v1/agents/email-summary/settings?mode=merge", []byte(`{"emailFormat":"casual"}`), true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated agent.EnrollmentRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&updated))
	settings, ok := updated.Settings.(*agent.EmailSummarySettings)
	require.True(t, ok)
	assert.Equal(t, "casual", settings.EmailFormat)

	resp = rig.do(t, http.MethodPost, "/v1/agents/email-summary/disconnect", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = rig.do(t, http.MethodDelete, "/v1/agents/email-summary", nil, true)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = rig.do(t, http.MethodGet, "/v1/agents/email-summary", nil, true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_ConnectUnknownType(t *testing.T) {
	rig := newAPIRig(t)

	resp := rig.do(t, http.MethodPost, "/v1/agents/mystery/connect", []byte(`{}`), true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_ListTools(t *testing.T) {
	rig := newAPIRig(t)

	resp := rig.do(t, http.MethodGet, "/v1/tools?q=sheets", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Tools []struct {
			Slug string `json:"slug"`
		} `json:"tools"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Tools, 1)
	assert.Equal(t, "sheets-append", body.Tools[0].Slug)
}

func TestAPI_ListLogsEmpty(t *testing.T) {
	rig := newAPIRig(t)

	resp := rig.do(t, http.MethodGet, "/v1/logs", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Logs []json.RawMessage `json:"logs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Empty(t, body.Logs)
}

func TestAPI_UpdateSettingsBadMode(t *testing.T) {
	rig := newAPIRig(t)

	resp := rig.do(t, http.MethodPut, "/v1/agents/email-summary/settings?mode=upsert", []byte(`{}`), true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
