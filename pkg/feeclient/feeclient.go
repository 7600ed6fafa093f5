// Package feeclient provides a client for an HTTP fee oracle.
package feeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/speedrun-hq/linkrunner/pkg/logger"
)

// APIResponse represents the structure of the oracle response. Fees are decimal strings in base units.
type APIResponse struct {
	Fees      map[string]string `json:"fees,omitempty"`
	Data      map[string]string `json:"data,omitempty"` // Some deployments use "data" as the key
	UpdatedAt int64             `json:"updated_at"`
}

// Client represents a fee oracle client
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     logger.Logger
}

// New creates a new fee oracle client
func New(endpoint string, logger logger.Logger) *Client {
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: createHTTPClient(),
		logger:     logger,
	}
}

// FetchFees gets the current fee of every asset from the oracle
func (c *Client) FetchFees(ctx context.Context, assets []string) (map[string]*big.Int, error) {
	query := url.Values{}
	query.Set("assets", strings.Join(assets, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/api/v1/fees?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch fees: %v", err)
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			c.logger.Error("Failed to close response body: %v", err)
		}
	}(resp.Body)

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp APIResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode fees: %v, body: %s", err, string(bodyBytes))
	}

	raw := apiResp.Fees
	if len(raw) == 0 {
		raw = apiResp.Data
	}

	fees := make(map[string]*big.Int, len(assets))
	for _, asset := range assets {
		value, ok := lookup(raw, asset)
		if !ok {
			return nil, fmt.Errorf("fee for asset %s missing from oracle response", asset)
		}
		fee, ok := new(big.Int).SetString(value, 10)
		if !ok || fee.Sign() < 0 {
			return nil, fmt.Errorf("invalid fee for asset %s: %q", asset, value)
		}
		fees[asset] = fee
	}

	c.logger.Debug("Fetched fees for %d assets", len(fees))
	return fees, nil
}

// lookup matches addresses case-insensitively since oracles differ on checksum casing
func lookup(raw map[string]string, asset string) (string, bool) {
	if v, ok := raw[asset]; ok {
		return v, true
	}
	for k, v := range raw {
		if strings.EqualFold(k, asset) {
			return v, true
		}
	}
	return "", false
}

// Helper function to create an HTTP client with timeouts
func createHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
