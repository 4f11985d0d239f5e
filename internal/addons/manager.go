package addons

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Manager is the engine's view of the surrounding account-management
// service: which addon endpoints an account currently has installed, and
// the swap that makes a different endpoint the active one.
type Manager interface {
	InstalledEndpoints(ctx context.Context, accountID string) ([]string, error)
	SetActiveEndpoint(ctx context.Context, accountID, endpoint string) error
}

// HTTPManager talks to the account-management service over its JSON API.
type HTTPManager struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPManager creates a client against the account service.
func NewHTTPManager(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPManager {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPManager{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type endpointsResponse struct {
	Endpoints []string `json:"endpoints"`
}

// InstalledEndpoints returns the addon endpoints installed on an account.
func (m *HTTPManager) InstalledEndpoints(ctx context.Context, accountID string) ([]string, error) {
	u := fmt.Sprintf("%s/v1/accounts/%s/endpoints", m.baseURL, url.PathEscape(accountID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list endpoints for account %s: %w", accountID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list endpoints for account %s: status %d", accountID, resp.StatusCode)
	}

	var body endpointsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode endpoints for account %s: %w", accountID, err)
	}
	return body.Endpoints, nil
}

// SetActiveEndpoint installs the given endpoint as the account's active one.
func (m *HTTPManager) SetActiveEndpoint(ctx context.Context, accountID, endpoint string) error {
	u := fmt.Sprintf("%s/v1/accounts/%s/endpoints/active", m.baseURL, url.PathEscape(accountID))

	payload, err := json.Marshal(map[string]string{"endpoint": endpoint})
	if err != nil {
		return fmt.Errorf("marshal swap payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("swap endpoint for account %s: %w", accountID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("swap endpoint for account %s: status %d", accountID, resp.StatusCode)
	}

	m.logger.Info("active endpoint swapped",
		zap.String("account", accountID),
		zap.String("endpoint", endpoint))
	return nil
}
