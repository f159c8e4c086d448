package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/taployalty/tapagent/internal/config"
	tperrors "github.com/taployalty/tapagent/internal/errors"
)

// CategorizeClient kicks off the first categorization pass after a
// categorizer enrollment. The call is a convenience trigger, not a
// correctness dependency: callers log failures and keep the enrollment.
type CategorizeClient struct {
	baseURL string
	client  *http.Client
}

func NewCategorizeClient(cfg config.CategorizeConfig) (*CategorizeClient, error) {
	timeout, err := config.DurationOrDefault(cfg.Timeout, config.DefaultCategorizeTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse categorize timeout: %w", err)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = config.DefaultCategorizeBaseURL
	}

	return &CategorizeClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Kickoff requests an immediate categorization run. The returned error is
// always ErrUpstreamFunction so callers can swallow it uniformly.
func (c *CategorizeClient) Kickoff(ctx context.Context, merchantID string) error {
	body, err := json.Marshal(map[string]string{"merchantId": merchantID})
	if err != nil {
		return tperrors.UpstreamFunction(fmt.Sprintf("encode request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return tperrors.UpstreamFunction(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return tperrors.UpstreamFunction(fmt.Sprintf("categorize kickoff call failed: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return tperrors.UpstreamFunction(fmt.Sprintf("categorize kickoff returned %d", resp.StatusCode))
	}

	slog.Debug("Categorize kickoff accepted", "merchant", merchantID)
	return nil
}
