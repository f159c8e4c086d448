package components

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/taployalty/tapagent/internal/agent"
	tperrors "github.com/taployalty/tapagent/internal/errors"
	"github.com/taployalty/tapagent/internal/registry"
	"github.com/taployalty/tapagent/internal/runner"
	"github.com/taployalty/tapagent/internal/store"
)

type merchantHandler func(w http.ResponseWriter, r *http.Request, merchantID string)

// withMerchant resolves the bearer key against the apikeys collection. An
// unresolvable key yields 401 and no handler runs.
func (h *HTTPServerComponent) withMerchant(next merchantHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		merchantID, err := h.resolveMerchant(r)
		if err != nil {
			writeError(w, tperrors.Unauthenticated("invalid or missing API key"))
			return
		}
		next(w, r, merchantID)
	}
}

func (h *HTTPServerComponent) resolveMerchant(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	key, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || key == "" {
		return "", tperrors.ErrUnauthenticated
	}

	data, err := h.storeComp.GetWorker().Get(store.CollectionAPIKeys, key)
	if err != nil || data == nil {
		return "", tperrors.ErrUnauthenticated
	}

	var doc store.APIKeyDoc
	if err := json.Unmarshal(data, &doc); err != nil || doc.MerchantID == "" {
		return "", tperrors.ErrUnauthenticated
	}
	return doc.MerchantID, nil
}

func (h *HTTPServerComponent) handleListAgents(w http.ResponseWriter, r *http.Request, merchantID string) {
	records, err := h.registryComp.GetRegistry().List(r.Context(), merchantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"agents": records})
}

func (h *HTTPServerComponent) handleGetAgent(w http.ResponseWriter, r *http.Request, merchantID string) {
	rec, err := h.registryComp.GetRegistry().Get(r.Context(), merchantID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *HTTPServerComponent) handleDeleteAgent(w http.ResponseWriter, r *http.Request, merchantID string) {
	if err := h.registryComp.GetRegistry().DeleteAgent(r.Context(), merchantID, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type connectRequest struct {
	AgentType        agent.AgentType `json:"agentType"`
	AgentName        string          `json:"agentName,omitempty"`
	Settings         json.RawMessage `json:"settings,omitempty"`
	Prompt           string          `json:"prompt,omitempty"`
	AgentDescription string          `json:"agentDescription,omitempty"`
}

func (h *HTTPServerComponent) handleConnect(w http.ResponseWriter, r *http.Request, merchantID string) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, tperrors.Validation("invalid request body"))
		return
	}

	agentID := r.PathValue("id")
	if req.AgentType == "" {
		req.AgentType = agent.AgentType(agentID)
	}
	// "custom" is a type selector, not an id; the registry assigns custom ids
	if agentID == string(req.AgentType) {
		agentID = ""
	}

	rec, err := h.registryComp.GetRegistry().Connect(r.Context(), registry.ConnectParams{
		MerchantID:       merchantID,
		AgentID:          agentID,
		AgentType:        req.AgentType,
		AgentName:        req.AgentName,
		Settings:         req.Settings,
		Prompt:           req.Prompt,
		AgentDescription: req.AgentDescription,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *HTTPServerComponent) handleDisconnect(w http.ResponseWriter, r *http.Request, merchantID string) {
	rec, err := h.registryComp.GetRegistry().Disconnect(r.Context(), merchantID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *HTTPServerComponent) handleUpdateSettings(w http.ResponseWriter, r *http.Request, merchantID string) {
	mode := registry.ModeReplace
	switch r.URL.Query().Get("mode") {
	case "", "replace":
	case "merge":
		mode = registry.ModeMerge
	default:
		writeError(w, tperrors.Validation("mode must be replace or merge"))
		return
	}

	var settings json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, tperrors.Validation("invalid settings body"))
		return
	}

	rec, err := h.registryComp.GetRegistry().UpdateSettings(r.Context(), merchantID, r.PathValue("id"), settings, mode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *HTTPServerComponent) handleListTools(w http.ResponseWriter, r *http.Request, merchantID string) {
	tools, err := h.registryComp.GetToolsClient().List(r.Context(), merchantID, r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tools": tools})
}

func (h *HTTPServerComponent) handlePlan(w http.ResponseWriter, r *http.Request, merchantID string) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, tperrors.Validation("invalid request body"))
		return
	}

	plan, err := h.planner.GeneratePlan(r.Context(), merchantID, req.Prompt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (h *HTTPServerComponent) handleIdeas(w http.ResponseWriter, r *http.Request, merchantID string) {
	ideas, err := h.planner.GenerateIdeas(r.Context(), merchantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ideas": ideas})
}

func (h *HTTPServerComponent) handleListLogs(w http.ResponseWriter, r *http.Request, merchantID string) {
	limit := parseLimit(r.URL.Query().Get("limit"), 50)

	docs, err := h.storeComp.GetWorker().List(store.LogsCollection(merchantID), limit, true)
	if err != nil {
		writeError(w, err)
		return
	}

	logs := make([]json.RawMessage, 0, len(docs))
	for _, doc := range docs {
		logs = append(logs, doc.Data)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": logs})
}

func (h *HTTPServerComponent) handleSearchLogs(w http.ResponseWriter, r *http.Request, merchantID string) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, tperrors.Validation("q is required"))
		return
	}
	limit := parseLimit(r.URL.Query().Get("limit"), 10)

	vector, err := h.modelsComp.GetRouter().RouteEmbedding(r.Context(), "", query)
	if err != nil {
		writeError(w, err)
		return
	}

	results, err := h.storeComp.GetWorker().SearchVectors(runner.VectorCollection, vector, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	type match struct {
		RunID   string  `json:"runId"`
		AgentID string  `json:"agentId"`
		Score   float32 `json:"score"`
		Content string  `json:"content"`
	}
	matches := make([]match, 0, len(results))
	for _, res := range results {
		// vectors are global; scope results to the caller's merchant
		if res.Metadata["merchantId"] != merchantID {
			continue
		}
		matches = append(matches, match{
			RunID:   res.Metadata["runId"],
			AgentID: res.Metadata["agentId"],
			Score:   res.Score,
			Content: res.Content,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"matches": matches})
}

func parseLimit(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return fallback
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}

	writeJSON(w, status, map[string]string{"error": message})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, tperrors.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, tperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, tperrors.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, tperrors.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, tperrors.ErrUpstreamTrigger), errors.Is(err, tperrors.ErrUpstreamFunction):
		return http.StatusBadGateway
	case errors.Is(err, tperrors.ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
