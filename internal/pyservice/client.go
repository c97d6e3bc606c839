// Package pyservice talks JSON over HTTP to the Python chatbot and transcribe
// services.
package pyservice

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

	"github.com/editsuite/orchestrator/internal/logging"
	"go.uber.org/zap"
)

const maxLoggedBody = 512

// Response is the outcome of a call to a Python service. Failed calls carry
// the upstream message (or transport error) in Error instead of a Go error.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Status  int             `json:"-"`
}

// Client is a small JSON client bound to one Python service.
type Client struct {
	name    string
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient builds a client for the service at baseURL.
func NewClient(name, baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger.Named("pyservice"),
	}
}

// Name returns the service name used in logs and health reports.
func (c *Client) Name() string { return c.name }

// BaseURL returns the service root.
func (c *Client) BaseURL() string { return c.baseURL }

// Get issues GET path with the given query parameters.
func (c *Client) Get(ctx context.Context, path string, query url.Values) Response {
	if len(query) > 0 {
		path = path + "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post issues POST path with body encoded as JSON. A nil body sends no payload.
func (c *Client) Post(ctx context.Context, path string, body interface{}) Response {
	return c.do(ctx, http.MethodPost, path, body)
}

// Delete issues DELETE path.
func (c *Client) Delete(ctx context.Context, path string) Response {
	return c.do(ctx, http.MethodDelete, path, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) Response {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return Response{Error: fmt.Sprintf("encoding request: %v", err)}
		}
		reader = bytes.NewReader(raw)
		logging.Service(c.logger, c.name, method+" "+path, zap.ByteString("data", truncate(raw)))
	} else {
		logging.Service(c.logger, c.name, method+" "+path)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		c.logger.Error(fmt.Sprintf("Service %s request failed", c.name), zap.Error(err))
		return Response{Error: err.Error()}
	}
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error(fmt.Sprintf("Service %s response failed", c.name), zap.String("message", err.Error()))
		return Response{Error: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{Error: fmt.Sprintf("reading response: %v", err), Status: resp.StatusCode}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := UpstreamMessage(data)
		if msg == "" {
			msg = fmt.Sprintf("request failed with status code %d", resp.StatusCode)
		}
		c.logger.Error(fmt.Sprintf("Service %s response failed", c.name),
			zap.Int("status", resp.StatusCode),
			zap.String("message", msg))
		return Response{Error: msg, Status: resp.StatusCode, Data: rawJSON(data)}
	}

	logging.Service(c.logger, c.name, "Response received",
		zap.Int("status", resp.StatusCode),
		zap.ByteString("data", truncate(data)))
	return Response{Success: true, Data: rawJSON(data), Status: resp.StatusCode}
}

// Forward sends body upstream and returns the raw response for the caller to
// stream. The caller must close the response body.
func (c *Client) Forward(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	logging.Service(c.logger, c.name, method+" "+path+" (stream)")

	// streamed responses outlive the regular request timeout
	streaming := &http.Client{Transport: c.http.Transport}
	resp, err := streaming.Do(req)
	if err != nil {
		c.logger.Error(fmt.Sprintf("Service %s stream failed", c.name), zap.Error(err))
		return nil, err
	}
	return resp, nil
}

// UpstreamMessage extracts the error text a Python service put in its JSON
// body. FastAPI's "detail" wins over "message", then "error".
func UpstreamMessage(body []byte) string {
	var payload struct {
		Message string          `json:"message"`
		Detail  json.RawMessage `json:"detail"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if len(payload.Detail) > 0 && string(payload.Detail) != "null" {
		var s string
		if err := json.Unmarshal(payload.Detail, &s); err == nil {
			if s != "" {
				return s
			}
		} else {
			return string(payload.Detail)
		}
	}
	if payload.Message != "" {
		return payload.Message
	}
	return payload.Error
}

func rawJSON(data []byte) json.RawMessage {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	if json.Valid(data) {
		return json.RawMessage(data)
	}
	// plain-text bodies are carried as a JSON string
	quoted, _ := json.Marshal(string(data))
	return quoted
}

func truncate(b []byte) []byte {
	if len(b) > maxLoggedBody {
		return b[:maxLoggedBody]
	}
	return b
}
