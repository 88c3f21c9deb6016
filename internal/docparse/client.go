// Package docparse is the HTTP client for the external document parsing service.
package docparse

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

	"docparse-tracker/internal/models"
	"docparse-tracker/internal/signature"
)

const (
	parsePath  = "/document/parser"
	statusPath = "/document/status"

	maxResponseBytes = 1 << 20
)

// ParseResult is the vendor's answer to a parse submission.
type ParseResult struct {
	Code    int
	TaskID  string
	Message string
}

// StatusResult is the vendor's answer to a status query.
type StatusResult struct {
	Code      int
	RawStatus any
	Result    map[string]any
	Error     string
	Message   string
}

// Client talks to the parsing service. Non-zero codes are returned as data;
// only transport-level problems are errors.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New builds a client. A nil httpClient gets a default without timeout; the
// caller bounds each call through its context.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), httpClient: httpClient}
}

type envelope struct {
	Code    json.Number     `json:"code"`
	Msg     string          `json:"msg"`
	Message string          `json:"message"`
	Obj     json.RawMessage `json:"obj"`
	Data    json.RawMessage `json:"data"`
}

func (e envelope) code() int {
	n, err := e.Code.Int64()
	if err != nil {
		return -1
	}
	return int(n)
}

func (e envelope) text() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Message
}

// Parse submits a signed parse request.
func (c *Client) Parse(ctx context.Context, params map[string]any) (ParseResult, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return ParseResult{}, fmt.Errorf("marshal parse params: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+parsePath, bytes.NewReader(body))
	if err != nil {
		return ParseResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	env, err := c.do(req)
	if err != nil {
		return ParseResult{}, err
	}
	res := ParseResult{Code: env.code(), Message: env.text()}
	if res.Code == 0 && len(env.Obj) > 0 {
		var obj struct {
			TaskID any `json:"taskId"`
		}
		if err := decode(env.Obj, &obj); err != nil {
			return ParseResult{}, fmt.Errorf("decode parse result: %w: %w", err, models.ErrRemoteTransport)
		}
		if obj.TaskID != nil {
			res.TaskID = signature.FormatValue(obj.TaskID)
		}
	}
	return res, nil
}

// Status queries the current state of a task.
func (c *Client) Status(ctx context.Context, params map[string]any) (StatusResult, error) {
	q := url.Values{}
	for k, v := range params {
		if v == nil {
			continue
		}
		q.Set(k, signature.FormatValue(v))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+statusPath+"?"+q.Encode(), nil)
	if err != nil {
		return StatusResult{}, fmt.Errorf("build request: %w", err)
	}

	env, err := c.do(req)
	if err != nil {
		return StatusResult{}, err
	}
	res := StatusResult{Code: env.code(), Message: env.text()}
	if res.Code != 0 || len(env.Data) == 0 {
		return res, nil
	}
	var data map[string]any
	if err := decode(env.Data, &data); err != nil {
		return StatusResult{}, fmt.Errorf("decode status data: %w: %w", err, models.ErrRemoteTransport)
	}
	res.RawStatus = first(data, "status", "taskStatus", "state")
	if nested, ok := first(data, "result").(map[string]any); ok {
		res.Result = nested
	} else {
		res.Result = data
	}
	if msg, ok := first(data, "error", "msg", "message").(string); ok {
		res.Error = msg
	}
	return res, nil
}

func (c *Client) do(req *http.Request) (envelope, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return envelope{}, fmt.Errorf("%s %s: %w: %w", req.Method, req.URL.Path, err, models.ErrRemoteTransport)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return envelope{}, fmt.Errorf("read response: %w: %w", err, models.ErrRemoteTransport)
	}
	var env envelope
	decodeErr := decode(raw, &env)
	if resp.StatusCode >= http.StatusBadRequest {
		msg := env.text()
		if decodeErr != nil || msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return envelope{}, fmt.Errorf("%s %s: status %d after %s: %s: %w",
			req.Method, req.URL.Path, resp.StatusCode, time.Since(start).Round(time.Millisecond), msg, models.ErrRemoteTransport)
	}
	if decodeErr != nil {
		return envelope{}, fmt.Errorf("decode response: %w: %w", decodeErr, models.ErrRemoteTransport)
	}
	return env, nil
}

func decode(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

func first(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}
