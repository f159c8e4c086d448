package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taployalty/tapagent/internal/config"
	tperrors "github.com/taployalty/tapagent/internal/errors"
)

func TestTriggerRegister(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "m1", body["merchantId"])
		json.NewEncoder(w).Encode(TriggerResult{TriggerID: "t-1", EntityID: "e-1", Status: "active"})
	}))
	defer srv.Close()

	client, err := NewTriggerClient(config.TriggerConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	result, err := client.Register(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "t-1", result.TriggerID)
	assert.Equal(t, "e-1", result.EntityID)
}

func TestTriggerRegister_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "watch quota exceeded", http.StatusBadGateway)
	}))
	defer srv.Close()

	client, err := NewTriggerClient(config.TriggerConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.Register(context.Background(), "m1")
	assert.ErrorIs(t, err, tperrors.ErrUpstreamTrigger)
}

func TestTriggerRegister_MissingTriggerID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"active"}`))
	}))
	defer srv.Close()

	client, err := NewTriggerClient(config.TriggerConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.Register(context.Background(), "m1")
	assert.ErrorIs(t, err, tperrors.ErrUpstreamTrigger)
}

func TestCategorizeKickoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client, err := NewCategorizeClient(config.CategorizeConfig{BaseURL: srv.URL})
	require.NoError(t, err)
	assert.NoError(t, client.Kickoff(context.Background(), "m1"))
}

func TestCategorizeKickoff_FailureIsUpstreamFunction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := NewCategorizeClient(config.CategorizeConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	err = client.Kickoff(context.Background(), "m1")
	assert.ErrorIs(t, err, tperrors.ErrUpstreamFunction)
	assert.False(t, tperrors.BlocksWrite(err), "kickoff failure must not block the enrollment")
}

func TestToolsList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "m1", r.URL.Query().Get("merchantId"))
		assert.Equal(t, "sheet", r.URL.Query().Get("q"))
		w.Write([]byte(`{"items":[{"name":"Sheets Append","slug":"sheets-append","toolkit":{"name":"Google Sheets","logo":"https://cdn.example/sheets.png"}}]}`))
	}))
	defer srv.Close()

	client, err := NewToolsClient(config.ToolsConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	tools, err := client.List(context.Background(), "m1", "sheet")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "Sheets Append", tools[0].Name)
	assert.Equal(t, "Google Sheets", tools[0].Toolkit.Name)
}

func TestToolsList_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := NewToolsClient(config.ToolsConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.List(context.Background(), "m1", "")
	assert.ErrorIs(t, err, tperrors.ErrUpstreamFunction)
}
