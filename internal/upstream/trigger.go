package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/taployalty/tapagent/internal/config"
	tperrors "github.com/taployalty/tapagent/internal/errors"
)

// TriggerClient registers external mailbox-watch triggers. Connect for a
// trigger-based agent is all-or-nothing: a failure here must abort the
// enrollment write.
type TriggerClient struct {
	baseURL string
	client  *http.Client
}

// TriggerResult is the upstream response for a successful registration.
type TriggerResult struct {
	TriggerID string `json:"triggerId"`
	EntityID  string `json:"entityId"`
	Status    string `json:"status"`
}

func NewTriggerClient(cfg config.TriggerConfig) (*TriggerClient, error) {
	timeout, err := config.DurationOrDefault(cfg.Timeout, config.DefaultTriggerTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse trigger timeout: %w", err)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = config.DefaultTriggerBaseURL
	}

	return &TriggerClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Register enrolls a mailbox watch for the merchant.
func (c *TriggerClient) Register(ctx context.Context, merchantID string) (*TriggerResult, error) {
	body, err := json.Marshal(map[string]string{"merchantId": merchantID})
	if err != nil {
		return nil, tperrors.UpstreamTrigger(fmt.Sprintf("encode request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, tperrors.UpstreamTrigger(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, tperrors.UpstreamTrigger(fmt.Sprintf("trigger registration call failed: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, tperrors.UpstreamTrigger(fmt.Sprintf("trigger registration returned %d: %s", resp.StatusCode, string(payload)))
	}

	var result TriggerResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, tperrors.UpstreamTrigger(fmt.Sprintf("decode trigger response: %v", err))
	}
	if result.TriggerID == "" {
		return nil, tperrors.UpstreamTrigger("trigger registration returned no triggerId")
	}
	return &result, nil
}
