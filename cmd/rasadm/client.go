package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// APIClient talks to the rasweb JSON API.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
}

func newAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Outcome mirrors the server's action result.
type Outcome struct {
	Action    string          `json:"action"`
	Target    string          `json:"target"`
	State     string          `json:"state"`
	Message   string          `json:"message"`
	Prompt    string          `json:"prompt"`
	Token     string          `json:"token"`
	ExpiresAt *time.Time      `json:"expiresAt"`
	Result    json.RawMessage `json:"result"`
}

// APIError is a non-2xx response decoded from the error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
	Command string
	Lines   []string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status: %d", e.Status)
	}
	return e.Message
}

// errNeedsConfirmation is returned with the proposed outcome on 428.
var errNeedsConfirmation = errors.New("confirmation required")

type Device struct {
	ID             int    `json:"id"`
	Unit           int    `json:"unit"`
	Type           string `json:"type"`
	File           string `json:"file"`
	NoMedia        bool   `json:"noMedia"`
	WriteProtected bool   `json:"writeProtected"`
}

type Image struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"modTime"`
	Category string    `json:"category"`
}

type ServiceStatus struct {
	Unit    string `json:"unit"`
	Status  string `json:"status"`
	Active  string `json:"activeState"`
	Enabled bool   `json:"enabled"`
	PID     int    `json:"pid"`
	Healthy bool   `json:"healthy"`
}

type HostInfo struct {
	Hostname        string        `json:"hostname"`
	Platform        string        `json:"platform"`
	PlatformVersion string        `json:"platformVersion"`
	Kernel          string        `json:"kernel"`
	Uptime          time.Duration `json:"uptime"`
}

type Usage struct {
	Total uint64 `json:"total"`
	Free  uint64 `json:"free"`
	Used  uint64 `json:"used"`
}

type Status struct {
	Devices []Device          `json:"devices"`
	Images  []Image           `json:"images"`
	Service *ServiceStatus    `json:"service"`
	Host    *HostInfo         `json:"host"`
	Usage   *Usage            `json:"usage"`
	Errors  map[string]string `json:"errors"`
}

func (c *APIClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode == http.StatusPreconditionRequired {
		return respBody, errNeedsConfirmation
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
				Details struct {
					Command string   `json:"command"`
					Lines   []string `json:"lines"`
				} `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(respBody, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Command = env.Error.Details.Command
			apiErr.Lines = env.Error.Details.Lines
		}
		return nil, apiErr
	}
	return respBody, nil
}

func (c *APIClient) doJSON(method, path string, body any) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req)
}

func (c *APIClient) get(path string, out any) error {
	data, err := c.doJSON(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// action posts to an action endpoint. On 428 the proposed outcome is
// returned together with errNeedsConfirmation.
func (c *APIClient) action(method, path string, body map[string]any) (*Outcome, error) {
	data, err := c.doJSON(method, path, body)
	if err != nil && !errors.Is(err, errNeedsConfirmation) {
		return nil, err
	}
	var out Outcome
	if uerr := json.Unmarshal(data, &out); uerr != nil {
		return nil, uerr
	}
	return &out, err
}

// resolve answers a pending confirmation for the endpoint that proposed it.
func (c *APIClient) resolve(method, path, token string, cancel bool) (*Outcome, error) {
	return c.action(method, path, map[string]any{"token": token, "cancel": cancel})
}

func (c *APIClient) status() (*Status, error) {
	var st Status
	return &st, c.get("/api/status", &st)
}

func (c *APIClient) devices() ([]Device, error) {
	var out struct {
		Result []Device `json:"result"`
	}
	return out.Result, c.get("/api/devices", &out)
}

func (c *APIClient) images() ([]Image, error) {
	var out struct {
		Result []Image `json:"result"`
	}
	return out.Result, c.get("/api/images", &out)
}

func (c *APIClient) serviceStatus() (*ServiceStatus, error) {
	var out struct {
		Result ServiceStatus `json:"result"`
	}
	return &out.Result, c.get("/api/service", &out)
}

// upload streams r as the raw request body.
func (c *APIClient) upload(name string, size int64, r io.Reader) (*Outcome, error) {
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/images/upload?name="+url.QueryEscape(name), r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")
	// large images take longer than the default timeout
	cl := *c.httpClient
	cl.Timeout = 0
	uc := &APIClient{baseURL: c.baseURL, httpClient: &cl}
	data, err := uc.do(req)
	if err != nil {
		return nil, err
	}
	var out Outcome
	return &out, json.Unmarshal(data, &out)
}
