// Package notion is a minimal client for the pieces of the Notion API the
// sync engine needs: page reads, database queries and schema probes.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"notionsync/internal/ratelimit"
)

const defaultBaseURL = "https://api.notion.com"

type Client struct {
	baseURL    string
	token      string
	version    string
	httpClient *http.Client
	gate       *ratelimit.Gate
}

// NewClient builds a client whose every request passes through gate, so the
// process-wide quota holds no matter how many callers share it.
func NewClient(httpClient *http.Client, baseURL, token, version string, gate *ratelimit.Gate) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		version:    version,
		httpClient: httpClient,
		gate:       gate,
	}
}

func (c *Client) doRequest(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body []byte
	if c.gate != nil {
		err := c.gate.Do(ctx, func(ctx context.Context) error {
			var innerErr error
			body, innerErr = c.doRequestDirect(ctx, method, path, payload)
			return innerErr
		})
		return body, err
	}
	return c.doRequestDirect(ctx, method, path, payload)
}

func (c *Client) doRequestDirect(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", c.version)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseAPIError(resp.StatusCode, body)
	}
	return body, nil
}

func parseAPIError(status int, body []byte) *APIError {
	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && (payload.Code != "" || payload.Message != "") {
		return &APIError{Status: status, Code: payload.Code, Message: payload.Message}
	}
	return &APIError{Status: status, Message: string(body)}
}

func (c *Client) GetPage(ctx context.Context, pageID string) (*Page, error) {
	if pageID == "" {
		return nil, fmt.Errorf("page id is required")
	}
	body, err := c.doRequest(ctx, http.MethodGet, "/v1/pages/"+pageID, nil)
	if err != nil {
		return nil, err
	}
	var page Page
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("failed to decode page: %w", err)
	}
	return &page, nil
}

// QueryDatabase fetches one page of results. Pass the previous response's
// NextCursor to continue, an empty cursor to start over.
func (c *Client) QueryDatabase(ctx context.Context, databaseID, cursor string, pageSize int) (*QueryResult, error) {
	if databaseID == "" {
		return nil, fmt.Errorf("database id is required")
	}
	payload := map[string]any{}
	if cursor != "" {
		payload["start_cursor"] = cursor
	}
	if pageSize > 0 {
		payload["page_size"] = pageSize
	}
	body, err := c.doRequest(ctx, http.MethodPost, "/v1/databases/"+databaseID+"/query", payload)
	if err != nil {
		return nil, err
	}
	var result QueryResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode query result: %w", err)
	}
	return &result, nil
}

func (c *Client) GetDatabase(ctx context.Context, databaseID string) (*Database, error) {
	if databaseID == "" {
		return nil, fmt.Errorf("database id is required")
	}
	body, err := c.doRequest(ctx, http.MethodGet, "/v1/databases/"+databaseID, nil)
	if err != nil {
		return nil, err
	}
	var database Database
	if err := json.Unmarshal(body, &database); err != nil {
		return nil, fmt.Errorf("failed to decode database: %w", err)
	}
	return &database, nil
}
