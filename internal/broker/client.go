// Package broker talks to the connection broker that holds the OAuth
// credentials of every provider connection.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
)

// ErrConnectionNotFound is returned when the broker has no such connection.
var ErrConnectionNotFound = errors.New("broker connection not found")

// Config configures a broker client.
type Config struct {
	URL       string
	SecretKey string
	// RetryMax bounds retries of transient failures. Zero disables retries.
	RetryMax   int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is a typed client of the broker API.
type Client struct {
	baseURL   string
	secretKey string
	http      *retryablehttp.Client
}

// NewClient builds a broker client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("broker URL is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid broker URL: %w", err)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	client := retryablehttp.NewClient()
	client.HTTPClient = cfg.HTTPClient
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = nil
	if cfg.Logger != nil {
		client.Logger = cfg.Logger
	}

	return &Client{baseURL: cfg.URL, secretKey: cfg.SecretKey, http: client}, nil
}

type connectionResponse struct {
	ConnectionID string `json:"connection_id"`
	Credentials  struct {
		AccessToken string `json:"access_token"`
	} `json:"credentials"`
}

// AccessToken resolves a broker connection to a provider access token.
func (c *Client) AccessToken(ctx context.Context, integrationID, connectionID string) (string, error) {
	endpoint := fmt.Sprintf("%s/connection/%s?provider_config_key=%s",
		c.baseURL, url.PathEscape(connectionID), url.QueryEscape(integrationID))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}

	var out connectionResponse
	if err := c.do(req, &out); err != nil {
		return "", fmt.Errorf("failed to fetch connection %s: %w", connectionID, err)
	}
	if out.Credentials.AccessToken == "" {
		return "", fmt.Errorf("connection %s has no access token", connectionID)
	}
	return out.Credentials.AccessToken, nil
}

// DeleteConnection revokes a broker connection. A connection that is already
// gone counts as deleted.
func (c *Client) DeleteConnection(ctx context.Context, integrationID, connectionID string) error {
	endpoint := fmt.Sprintf("%s/connection/%s?provider_config_key=%s",
		c.baseURL, url.PathEscape(connectionID), url.QueryEscape(integrationID))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}

	err = c.do(req, nil)
	if errors.Is(err, ErrConnectionNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete connection %s: %w", connectionID, err)
	}
	return nil
}

func (c *Client) do(req *retryablehttp.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrConnectionNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("broker returned %s: %s", resp.Status, string(body))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode broker response: %w", err)
	}
	return nil
}
