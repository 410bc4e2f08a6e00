package dest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const apiKeyHeader = "X-Api-Key"

type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

func NewClient(httpClient *http.Client, baseURL, apiKey string) (*Client, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL = strings.TrimSpace(strings.TrimRight(baseURL, "/"))
	if baseURL == "" {
		return nil, fmt.Errorf("destination base url is required")
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("destination api key is required")
	}
	return &Client{
		http:    httpClient,
		baseURL: baseURL,
		apiKey:  apiKey,
	}, nil
}

// Groups lists the destination's top-level containers.
func (c *Client) Groups(ctx context.Context) ([]Group, error) {
	var out []Group
	if err := c.getJSON(ctx, "/groups", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GroupProjects(ctx context.Context, groupID string) ([]Project, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return nil, fmt.Errorf("group id is required")
	}
	var out []Project
	if err := c.getJSON(ctx, "/groups/"+groupID+"/projects", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GroupUsers(ctx context.Context, groupID string) ([]User, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return nil, fmt.Errorf("group id is required")
	}
	var out []User
	if err := c.getJSON(ctx, "/groups/"+groupID+"/users", &out); err != nil {
		return nil, err
	}
	return out, nil
}

type createTaskResponse struct {
	ID string `json:"id"`
}

// CreateTask issues one create call and returns the external task id.
// Failures are *APIError with a coarse category; the caller owns retries.
func (c *Client) CreateTask(ctx context.Context, tc TaskCreate) (string, error) {
	if strings.TrimSpace(tc.Name) == "" {
		return "", fmt.Errorf("task name is required")
	}
	if strings.TrimSpace(tc.GroupID) == "" {
		return "", fmt.Errorf("task group id is required")
	}

	body, status, headers, err := c.do(ctx, http.MethodPost, "/tasks", tc)
	if err != nil {
		return "", &APIError{Category: CategoryRequestFailed, Message: err.Error()}
	}
	if status < 200 || status >= 300 {
		return "", apiErrorFromResponse(status, headers, body)
	}
	var out createTaskResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &APIError{Status: status, Category: CategoryRequestFailed, Message: "invalid create response"}
	}
	if strings.TrimSpace(out.ID) == "" {
		return "", &APIError{Status: status, Category: CategoryRequestFailed, Message: "create response has no id"}
	}
	return out.ID, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	body, status, headers, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return &APIError{Category: CategoryRequestFailed, Message: err.Error()}
	}
	if status < 200 || status >= 300 {
		return apiErrorFromResponse(status, headers, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &APIError{Status: status, Category: CategoryRequestFailed, Message: "invalid response payload"}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, int, http.Header, error) {
	if c == nil || c.http == nil {
		return nil, 0, nil, fmt.Errorf("destination client is not initialized")
	}
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, 0, nil, err
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, resp.StatusCode, resp.Header, readErr
	}
	return raw, resp.StatusCode, resp.Header, nil
}

type errorResponse struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func apiErrorFromResponse(status int, headers http.Header, body []byte) *APIError {
	apiErr := &APIError{
		Status:   status,
		Category: categorize(status),
	}
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil {
		apiErr.Message = strings.TrimSpace(parsed.Error)
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(parsed.Message)
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = CategoryMessage(apiErr.Category)
	}
	if status == http.StatusTooManyRequests {
		apiErr.RetryAfter = retryAfterFromHeaders(headers)
	}
	return apiErr
}

func retryAfterFromHeaders(headers http.Header) time.Duration {
	if headers == nil {
		return 0
	}
	raw := strings.TrimSpace(headers.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
