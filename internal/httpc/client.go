// Package httpc provides a shared HTTP client with sensible defaults and a
// small client for the harness operator API.
package httpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/go-eyetouch/pkg/results"
)

// Default timeouts for HTTP operations.
const (
	DefaultTimeout         = 30 * time.Second
	DefaultConnectTimeout  = 10 * time.Second
	DefaultKeepAlive       = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
)

// Client is a shared HTTP client with production-ready defaults.
// Use this instead of http.DefaultClient.
var Client = NewClient(DefaultTimeout)

// NewClient creates a new HTTP client with the specified timeout.
// For most cases, use the shared Client variable instead.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   DefaultConnectTimeout,
				KeepAlive: DefaultKeepAlive,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       DefaultIdleConnTimeout,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// APIError is a non-2xx reply from the operator API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("operator api: %d %s", e.Status, e.Message)
}

// Operator drives a running harness through its /api routes.
type Operator struct {
	BaseURL string // e.g. http://localhost:8080
	HTTP    *http.Client
}

// NewOperator creates an operator client using the shared Client.
func NewOperator(baseURL string) *Operator {
	return &Operator{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: Client}
}

// StartSession opens a session and returns its id.
func (o *Operator) StartSession(ctx context.Context) (string, error) {
	var out struct {
		SessionID string `json:"session_id"`
	}
	err := o.call(ctx, http.MethodPost, "/api/session/start", nil, &out)
	return out.SessionID, err
}

// EndSession closes the active session and returns its summary.
func (o *Operator) EndSession(ctx context.Context) (results.Summary, error) {
	var out results.Summary
	err := o.call(ctx, http.MethodPost, "/api/session/end", nil, &out)
	return out, err
}

// StartDwell arms a dwell trial on target and returns the trial id.
func (o *Operator) StartDwell(ctx context.Context, target int) (string, error) {
	var out struct {
		TrialID string `json:"trial_id"`
	}
	err := o.call(ctx, http.MethodPost, "/api/trials/dwell", map[string]int{"target": target}, &out)
	return out.TrialID, err
}

// StartSelection arms a selection trial over targets and returns the trial id.
func (o *Operator) StartSelection(ctx context.Context, targets []int) (string, error) {
	var out struct {
		TrialID string `json:"trial_id"`
	}
	err := o.call(ctx, http.MethodPost, "/api/trials/selection", map[string][]int{"targets": targets}, &out)
	return out.TrialID, err
}

// ExportSession downloads the CSV of an archived session, or of the last
// ended session when id is "current".
func (o *Operator) ExportSession(ctx context.Context, id string) ([]byte, error) {
	path := "/api/archive/" + id + "/export"
	if id == "current" {
		path = "/api/sessions/current/export"
	}
	resp, err := o.send(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (o *Operator) call(ctx context.Context, method, path string, body, out any) error {
	resp, err := o.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (o *Operator) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, o.BaseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := o.HTTP
	if client == nil {
		client = Client
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return nil, &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	return resp, nil
}
