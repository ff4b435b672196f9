package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fyrsmithlabs/askd/internal/conversation"
	askhttp "github.com/fyrsmithlabs/askd/internal/http"
	"github.com/fyrsmithlabs/askd/internal/orchestrator"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	askhttp.ErrorResponse
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("server returned status %d (%s): %s", e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

// client calls the askd HTTP API.
type client struct {
	baseURL string
	http    *http.Client
	// stream has no timeout; event streams stay open.
	stream *http.Client
}

func newClient(baseURL string, timeout time.Duration) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		stream:  &http.Client{},
	}
}

func (c *client) Health(ctx context.Context) (askhttp.HealthResponse, error) {
	var out askhttp.HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, http.StatusOK, &out)
	return out, err
}

func (c *client) Start(ctx context.Context, req askhttp.StartRequest) (*orchestrator.Result, error) {
	var out orchestrator.Result
	if err := c.do(ctx, http.MethodPost, "/api/v1/conversations", req, http.StatusCreated, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) Resume(ctx context.Context, id string, req askhttp.ResumeRequest) (*orchestrator.Result, error) {
	var out orchestrator.Result
	if err := c.do(ctx, http.MethodPost, conversationPath(id, "resume"), req, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) Cancel(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, conversationPath(id, "cancel"), nil, http.StatusAccepted, nil)
}

func (c *client) Get(ctx context.Context, id string) (*conversation.Context, error) {
	var out conversation.Context
	if err := c.do(ctx, http.MethodGet, conversationPath(id, ""), nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) List(ctx context.Context, status conversation.Status) (askhttp.ListResponse, error) {
	path := "/api/v1/conversations"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var out askhttp.ListResponse
	err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &out)
	return out, err
}

// Watch calls fn for every event of a conversation until the stream ends,
// fn returns an error, or ctx is done.
func (c *client) Watch(ctx context.Context, id string, fn func(orchestrator.Event) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+conversationPath(id, "events"), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var e orchestrator.Event
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return fmt.Errorf("failed to decode event: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("reading event stream: %w", err)
	}
	return nil
}

func (c *client) do(ctx context.Context, method, path string, body any, want int, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return errors.Join(apiErr, err)
	}
	if json.Unmarshal(body, &apiErr.ErrorResponse) != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

func conversationPath(id, action string) string {
	p := "/api/v1/conversations/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}
