package main

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

	"github.com/linnemanlabs/aegis/internal/playbook"
)

// apiError is a non-2xx response from the server.
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// client talks to the aegis /api/v1 endpoints.
type client struct {
	base  string
	token string
	http  *http.Client
}

func newClient(server, token string, timeout time.Duration) *client {
	return &client{
		base:  strings.TrimRight(server, "/"),
		token: token,
		http:  &http.Client{Timeout: timeout},
	}
}

func (c *client) listPlaybooks(ctx context.Context, status string) ([]*playbook.Playbook, error) {
	path := "/api/v1/playbooks"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var resp struct {
		Playbooks []*playbook.Playbook `json:"playbooks"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Playbooks, nil
}

func (c *client) getPlaybook(ctx context.Context, id string) (*playbook.Playbook, error) {
	var p playbook.Playbook
	if err := c.do(ctx, http.MethodGet, "/api/v1/playbooks/"+url.PathEscape(id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// decide posts an approve or reject decision.
func (c *client) decide(ctx context.Context, id, action, by string) (*playbook.Playbook, error) {
	body := map[string]string{"by": by}
	var p playbook.Playbook
	if err := c.do(ctx, http.MethodPost, "/api/v1/playbooks/"+url.PathEscape(id)+"/"+action, body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *client) reloadNetwork(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/network/reload", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req) //nolint:gosec // server URL is operator supplied
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &e)
		return &apiError{StatusCode: resp.StatusCode, Message: e.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
