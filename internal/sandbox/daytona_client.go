package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

const (
	defaultDaytonaBaseURL = "https://api.daytona.io"

	sandboxesPath = "/api/sandbox"
	toolboxPath   = "/api/toolbox"
)

// daytonaClient is a minimal HTTP client for the Daytona workspace API.
// It is owned by exactly one DaytonaSandbox: constructed during Start and
// dropped during Cleanup — no process-wide client state.
type daytonaClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func newDaytonaClient(apiKey, baseURL string, httpClient *http.Client, logger *slog.Logger) *daytonaClient {
	if baseURL == "" {
		baseURL = defaultDaytonaBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &daytonaClient{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// apiError is a non-2xx response from the Daytona API.
type apiError struct {
	StatusCode int
	Body       string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("daytona API error (status %d): %s", e.StatusCode, e.Body)
}

// createWorkspaceRequest provisions a remote workspace.
type createWorkspaceRequest struct {
	Image            string `json:"image"`
	Target           string `json:"target"`
	CPU              int    `json:"cpu"`
	MemoryGB         int    `json:"memory"`
	DiskGB           int    `json:"disk"`
	AutoStopInterval int    `json:"autoStopInterval"` // minutes, 0 = disabled
}

// workspaceInfo is the API's view of a provisioned workspace.
type workspaceInfo struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// execRequest runs a command inside a workspace.
type execRequest struct {
	Command        string            `json:"command"`
	Cwd            string            `json:"cwd,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	TimeoutSeconds int               `json:"timeout,omitempty"`
}

// execResponse is the wire shape of a command result. Only combined output is
// available — the API does not split stderr from stdout.
type execResponse struct {
	ExitCode int    `json:"exitCode"`
	Result   string `json:"result"`
}

func (c *daytonaClient) createWorkspace(ctx context.Context, req createWorkspaceRequest) (*workspaceInfo, error) {
	var info workspaceInfo
	if err := c.do(ctx, http.MethodPost, sandboxesPath, req, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *daytonaClient) deleteWorkspace(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, sandboxesPath+"/"+url.PathEscape(id)+"?force=true", nil, nil)
}

func (c *daytonaClient) execute(ctx context.Context, id string, req execRequest) (*execResponse, error) {
	var resp execResponse
	p := toolboxPath + "/" + url.PathEscape(id) + "/process/execute"
	if err := c.do(ctx, http.MethodPost, p, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *daytonaClient) downloadFile(ctx context.Context, id, path string) ([]byte, error) {
	p := toolboxPath + "/" + url.PathEscape(id) + "/files/download?path=" + url.QueryEscape(path)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+p, nil)
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	c.setHeaders(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, &apiError{StatusCode: httpResp.StatusCode, Body: string(body)}
	}
	return body, nil
}

func (c *daytonaClient) uploadFile(ctx context.Context, id, path string, data []byte) error {
	p := toolboxPath + "/" + url.PathEscape(id) + "/files/upload?path=" + url.QueryEscape(path)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+p, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating HTTP request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/octet-stream")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(httpResp.Body)
		return &apiError{StatusCode: httpResp.StatusCode, Body: string(body)}
	}
	return nil
}

// do sends a JSON request and decodes a JSON response into out (when non-nil).
func (c *daytonaClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating HTTP request: %w", err)
	}
	c.setHeaders(httpReq)
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return &apiError{StatusCode: httpResp.StatusCode, Body: string(respBody)}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("parsing response: %w", err)
		}
	}
	return nil
}

func (c *daytonaClient) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}
