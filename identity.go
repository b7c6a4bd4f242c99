package iotsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// IdentityExpiryWarning is the remaining identity lifetime below which
// provisioning logs a warning. Device certificates should be rotated well
// before they lapse.
const IdentityExpiryWarning = 30 * 24 * time.Hour

// IdentityInfo is the provisioning record returned by the local identity
// service.
type IdentityInfo struct {
	ClientType       ClientType `json:"client_type"`
	ConnectionString string     `json:"connection_string"`
	DeviceID         string     `json:"device_id,omitempty"`
	ModuleID         string     `json:"module_id,omitempty"`
	// ExpiresAt is when the underlying credential lapses; zero when the
	// service does not report an expiry.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// IdentityClient fetches provisioning information from the local identity
// service over HTTP.
type IdentityClient struct {
	baseURL    string
	httpClient *http.Client
	logger     Logger
}

// IdentityClientConfig holds configuration for the identity client.
type IdentityClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     Logger
}

// NewIdentityClient creates a client for the identity service.
func NewIdentityClient(cfg IdentityClientConfig) *IdentityClient {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8888"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = NewStdLogger()
	}

	return &IdentityClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// GetIdentity fetches the provisioning record for this device or module.
func (c *IdentityClient) GetIdentity(ctx context.Context) (IdentityInfo, error) {
	url := fmt.Sprintf("%s/identity/v1/device", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return IdentityInfo{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return IdentityInfo{}, fmt.Errorf("identity service request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return IdentityInfo{}, fmt.Errorf("identity service returned %s - %s", resp.Status, string(body))
	}

	var info IdentityInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return IdentityInfo{}, fmt.Errorf("decode identity response: %w", err)
	}
	if info.ConnectionString == "" {
		return IdentityInfo{}, fmt.Errorf("identity service returned no connection string")
	}
	if info.ClientType == "" {
		info.ClientType = ClientTypeDevice
	}

	if !info.ExpiresAt.IsZero() {
		remaining := time.Until(info.ExpiresAt)
		if remaining <= 0 {
			return IdentityInfo{}, fmt.Errorf("identity expired at %s", info.ExpiresAt.Format(time.RFC3339))
		}
		if remaining < IdentityExpiryWarning {
			c.logger.Warn("identity close to expiry",
				"expires_at", info.ExpiresAt.Format(time.RFC3339),
				"remaining", remaining.String())
		}
	}

	return info, nil
}
