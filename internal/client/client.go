// Package client is the HTTP client the CLI talks to the daemon with.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"forge/internal/config"
	"forge/internal/orchestrator"
	"forge/internal/types"
)

type Client struct {
	baseURL   string
	tokenPath string
	token     string
	http      *http.Client
}

func New() (*Client, error) {
	cfg, err := config.LoadCoreConfig()
	if err != nil {
		return nil, err
	}
	tokenPath, err := config.TokenPath()
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseURL:   cfg.DaemonBaseURL(),
		tokenPath: tokenPath,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	_ = c.loadToken()
	return c, nil
}

func NewWithBaseURL(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type HealthResponse struct {
	OK      bool   `json:"ok"`
	Version string `json:"version"`
	PID     int    `json:"pid"`
}

type RunsResponse struct {
	Runs []types.RunSnapshot `json:"runs"`
}

type FilesResponse struct {
	Files []types.FileEntry `json:"files"`
}

type FileResponse struct {
	Path     string              `json:"path"`
	Version  int                 `json:"version"`
	Content  string              `json:"content"`
	Versions []types.FileVersion `json:"versions"`
}

type ChatResponse struct {
	Reply string `json:"reply"`
}

func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, false, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) CreateRun(ctx context.Context, req orchestrator.CreateRunRequest) (*types.RunSnapshot, error) {
	var resp types.RunSnapshot
	if err := c.doJSON(ctx, http.MethodPost, "/v1/runs", req, true, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RunListOptions narrow a run listing; the zero value lists everything.
type RunListOptions struct {
	Search string
	Limit  int
	Offset int
}

func (o RunListOptions) query() string {
	values := url.Values{}
	if o.Search != "" {
		values.Set("search", o.Search)
	}
	if o.Limit > 0 {
		values.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Offset > 0 {
		values.Set("offset", strconv.Itoa(o.Offset))
	}
	if len(values) == 0 {
		return ""
	}
	return "?" + values.Encode()
}

func (c *Client) ListRuns(ctx context.Context, opts RunListOptions) ([]types.RunSnapshot, error) {
	var resp RunsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/runs"+opts.query(), nil, true, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

func (c *Client) GetRun(ctx context.Context, id string) (*types.RunSnapshot, error) {
	var resp types.RunSnapshot
	if err := c.doJSON(ctx, http.MethodGet, "/v1/runs/"+url.PathEscape(id), nil, true, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) StopRun(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/runs/"+url.PathEscape(id)+"/stop", nil, true, nil)
}

func (c *Client) DeleteRun(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/runs/"+url.PathEscape(id), nil, true, nil)
}

func (c *Client) ListFiles(ctx context.Context, id string) ([]types.FileEntry, error) {
	var resp FilesResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/runs/"+url.PathEscape(id)+"/files", nil, true, &resp); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

func (c *Client) ReadFile(ctx context.Context, id, path string, version int) (*FileResponse, error) {
	query := url.Values{"path": {path}}
	if version > 0 {
		query.Set("version", fmt.Sprintf("%d", version))
	}
	var resp FileResponse
	endpoint := "/v1/runs/" + url.PathEscape(id) + "/file?" + query.Encode()
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, true, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) WriteFile(ctx context.Context, id, path, content string) (int, error) {
	var resp struct {
		Version int `json:"version"`
	}
	body := map[string]string{"path": path, "content": content}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/runs/"+url.PathEscape(id)+"/file", body, true, &resp); err != nil {
		return 0, err
	}
	return resp.Version, nil
}

func (c *Client) Chat(ctx context.Context, id, message string, history []types.ChatTurn) (string, error) {
	var resp ChatResponse
	body := map[string]any{"message": message, "history": history}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/runs/"+url.PathEscape(id)+"/chat", body, true, &resp); err != nil {
		return "", err
	}
	return resp.Reply, nil
}

func (c *Client) Review(ctx context.Context, id string, paths []string) (*orchestrator.ReviewReport, error) {
	var resp orchestrator.ReviewReport
	body := map[string]any{"paths": paths}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/runs/"+url.PathEscape(id)+"/review", body, true, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Download fetches the run bundle and writes it to dest.
func (c *Client) Download(ctx context.Context, id, dest string) error {
	if err := c.ensureToken(); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/runs/"+url.PathEscape(id)+"/download", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func (c *Client) Agents(ctx context.Context) (json.RawMessage, error) {
	var resp json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, "/v1/agents", nil, true, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Shutdown(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/shutdown", nil, true, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, requireAuth bool, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requireAuth {
		if err := c.ensureToken(); err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) ensureToken() error {
	if strings.TrimSpace(c.token) == "" {
		if err := c.loadToken(); err != nil {
			return err
		}
	}
	if strings.TrimSpace(c.token) == "" {
		return errors.New("token not found; is the daemon running?")
	}
	return nil
}

func (c *Client) loadToken() error {
	if c.tokenPath == "" {
		return nil
	}
	data, err := os.ReadFile(c.tokenPath)
	if err != nil {
		if os.IsNotExist(err) {
			c.token = ""
			return nil
		}
		return err
	}
	c.token = strings.TrimSpace(string(data))
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		return fmt.Errorf("daemon error (%d): %s", resp.StatusCode, payload.Error)
	}
	return fmt.Errorf("daemon error (%d)", resp.StatusCode)
}
