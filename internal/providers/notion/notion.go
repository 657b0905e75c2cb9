// Package notion syncs Notion workspaces.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"

	"github.com/STRATINT/connectors/internal/worker"
)

const (
	notionVersion = "2022-06-28"
	pageSize      = 100
)

// API validates Notion integration tokens and pages through shared content.
type API struct {
	baseURL string
	http    *retryablehttp.Client
}

// NewAPI creates a Notion remote rooted at baseURL.
func NewAPI(baseURL string, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	client := retryablehttp.NewClient()
	client.HTTPClient = httpClient
	client.RetryMax = 3
	client.Logger = nil
	return &API{baseURL: baseURL, http: client}
}

type userResponse struct {
	ID  string `json:"id"`
	Bot struct {
		WorkspaceID   string `json:"workspace_id"`
		WorkspaceName string `json:"workspace_name"`
	} `json:"bot"`
}

// Validate fetches the integration's bot user and returns its workspace id.
func (a *API) Validate(ctx context.Context, token string) (string, error) {
	var user userResponse
	if err := a.do(ctx, http.MethodGet, "/v1/users/me", token, nil, &user); err != nil {
		return "", fmt.Errorf("unable to get bot identity: %w", err)
	}
	if user.Bot.WorkspaceID != "" {
		return user.Bot.WorkspaceID, nil
	}
	if user.ID == "" {
		return "", fmt.Errorf("users/me returned no bot user")
	}
	return user.ID, nil
}

type searchRequest struct {
	PageSize    int          `json:"page_size"`
	StartCursor string       `json:"start_cursor,omitempty"`
	Filter      searchFilter `json:"filter"`
}

type searchFilter struct {
	Property string `json:"property"`
	Value    string `json:"value"`
}

type searchResponse struct {
	Results    []json.RawMessage `json:"results"`
	HasMore    bool              `json:"has_more"`
	NextCursor string            `json:"next_cursor"`
}

// Sync pages through every page shared with the integration.
func (a *API) Sync(ctx context.Context, token string, progress worker.ProgressFunc) error {
	req := searchRequest{
		PageSize: pageSize,
		Filter:   searchFilter{Property: "object", Value: "page"},
	}

	total := 0
	for {
		var resp searchResponse
		if err := a.do(ctx, http.MethodPost, "/v1/search", token, req, &resp); err != nil {
			return fmt.Errorf("error searching pages: %w", err)
		}
		total += len(resp.Results)
		progress(fmt.Sprintf("%d pages", total))

		if !resp.HasMore || resp.NextCursor == "" {
			return nil
		}
		req.StartCursor = resp.NextCursor
	}
}

func (a *API) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Notion-Version", notionVersion)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("notion returned %s: %s", resp.Status, string(msg))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
