package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/taployalty/tapagent/internal/config"
	tperrors "github.com/taployalty/tapagent/internal/errors"
)

// Tool is one entry from the tools listing endpoint.
type Tool struct {
	Name    string  `json:"name"`
	Slug    string  `json:"slug,omitempty"`
	Toolkit Toolkit `json:"toolkit,omitempty"`
}

type Toolkit struct {
	Name string `json:"name,omitempty"`
	Logo string `json:"logo,omitempty"`
}

// ToolsClient lists the external tools a custom agent may reference.
// Consumed read-only.
type ToolsClient struct {
	baseURL string
	client  *http.Client
}

func NewToolsClient(cfg config.ToolsConfig) (*ToolsClient, error) {
	timeout, err := config.DurationOrDefault(cfg.Timeout, config.DefaultToolsTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse tools timeout: %w", err)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = config.DefaultToolsBaseURL
	}

	return &ToolsClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// List returns the tools available to the merchant, optionally filtered by a
// search query.
func (c *ToolsClient) List(ctx context.Context, merchantID, query string) ([]Tool, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, tperrors.UpstreamFunction(fmt.Sprintf("tools base url: %v", err))
	}
	params := u.Query()
	params.Set("merchantId", merchantID)
	if query != "" {
		params.Set("q", query)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, tperrors.UpstreamFunction(fmt.Sprintf("build request: %v", err))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, tperrors.UpstreamFunction(fmt.Sprintf("tools listing call failed: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, tperrors.UpstreamFunction(fmt.Sprintf("tools listing returned %d", resp.StatusCode))
	}

	var payload struct {
		Items []Tool `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, tperrors.UpstreamFunction(fmt.Sprintf("decode tools response: %v", err))
	}
	return payload.Items, nil
}
