// Package front holds the front service's side of connector management: the
// client of the connectors API and the managed data source operations.
package front

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

	"github.com/STRATINT/connectors/internal/models"
	"github.com/STRATINT/connectors/internal/result"
)

// Client calls the connectors API. Every call returns a Result: a decoded
// error body becomes its typed failure, anything else that prevents reading
// a response is a transport failure whose outcome is unknown.
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
}

// NewClient creates a client for the connectors API at baseURL.
func NewClient(baseURL, secret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		http:    &http.Client{Timeout: timeout},
	}
}

// CreateConnector creates a connector of the given type.
func (c *Client) CreateConnector(ctx context.Context, provider models.ConnectorProvider, req models.CreateConnectorRequest) result.Result[models.ConnectorSummary] {
	var out models.ConnectorSummary
	if rerr := c.call(ctx, http.MethodPost, "/connectors/create/"+url.PathEscape(string(provider)), req, &out); rerr != nil {
		return result.Err[models.ConnectorSummary](rerr)
	}
	return result.Ok(out)
}

// PauseConnector pauses the connector backing a data source.
func (c *Client) PauseConnector(ctx context.Context, provider models.ConnectorProvider, ref models.DataSourceRef) result.Result[string] {
	var out models.ConnectorIDResponse
	if rerr := c.call(ctx, http.MethodPost, "/connectors/pause/"+url.PathEscape(string(provider)), ref, &out); rerr != nil {
		return result.Err[string](rerr)
	}
	return result.Ok(out.ConnectorID)
}

// ResumeConnector resumes the connector backing a data source.
func (c *Client) ResumeConnector(ctx context.Context, provider models.ConnectorProvider, req models.ResumeConnectorRequest) result.Result[string] {
	var out models.ConnectorIDResponse
	if rerr := c.call(ctx, http.MethodPost, "/connectors/resume/"+url.PathEscape(string(provider)), req, &out); rerr != nil {
		return result.Err[string](rerr)
	}
	return result.Ok(out.ConnectorID)
}

// DeleteConnector deletes the connector backing a data source.
func (c *Client) DeleteConnector(ctx context.Context, provider models.ConnectorProvider, ref models.DataSourceRef) result.Result[result.Void] {
	var out models.SuccessResponse
	if rerr := c.call(ctx, http.MethodDelete, "/connectors/delete/"+url.PathEscape(string(provider)), ref, &out); rerr != nil {
		return result.Err[result.Void](rerr)
	}
	return result.OkVoid()
}

// DeleteConnectorByID deletes a connector by id.
func (c *Client) DeleteConnectorByID(ctx context.Context, connectorID string) result.Result[result.Void] {
	var out models.SuccessResponse
	if rerr := c.call(ctx, http.MethodDelete, "/connectors/"+url.PathEscape(connectorID), nil, &out); rerr != nil {
		return result.Err[result.Void](rerr)
	}
	return result.OkVoid()
}

// GetConnector fetches a connector by id.
func (c *Client) GetConnector(ctx context.Context, connectorID string) result.Result[models.ConnectorSummary] {
	var out models.ConnectorSummary
	if rerr := c.call(ctx, http.MethodGet, "/connectors/"+url.PathEscape(connectorID), nil, &out); rerr != nil {
		return result.Err[models.ConnectorSummary](rerr)
	}
	return result.Ok(out)
}

func transportFailure(format string, args ...any) *result.Error {
	return result.Errorf(result.ErrorTypeTransportFailure, format, args...)
}

func (c *Client) call(ctx context.Context, method, path string, in, out any) *result.Error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return result.Wrap(result.ErrorTypeInternalServerError, err, "failed to encode request")
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return result.Wrap(result.ErrorTypeInternalServerError, err, "failed to build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return result.Wrap(result.ErrorTypeTransportFailure, err, fmt.Sprintf("request to connectors API failed: %v", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportFailure("failed to read connectors API response: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody models.ErrorResponse
		if err := json.Unmarshal(raw, &errBody); err != nil || errBody.Error.Type == "" {
			return transportFailure("Unexpected response status: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		}
		return result.NewError(errBody.Error.Type, errBody.Error.Message)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return transportFailure("failed to decode connectors API response: %v", err)
	}
	return nil
}
