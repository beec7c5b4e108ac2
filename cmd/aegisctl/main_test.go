package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const pendingPlaybook = `{
	"id": "01JPB0000000000000000000AA",
	"filename": "web-01-C2-20250314_092653.yml",
	"path": "ansible/project/web-01-C2-20250314_092653.yml",
	"agent": "web-01",
	"classification": {"trigger": "Suricata", "rule_id": "86682", "type": "C2", "signature_id": "1000005", "agent_ip": "10.0.1.15"},
	"content": "- hosts: fw-01\n  tasks: []\n",
	"model": "claude-test",
	"tokens_in": 1200,
	"tokens_out": 300,
	"yaml_valid": true,
	"status": "pending_approval",
	"created_at": "2025-03-14T09:26:53Z",
	"expires_at": "2025-03-14T09:56:53Z"
}`

type recorded struct {
	method string
	path   string
	query  string
	auth   string
	body   string
}

// fakeServer serves canned responses and records the last request.
func fakeServer(t *testing.T, status int, body string) (*httptest.Server, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		*rec = recorded{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			auth:   r.Header.Get("Authorization"),
			body:   string(b),
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func runCmd(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(append([]string{"--server", srv.URL, "--token", "ops-token-123"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPlaybooksList(t *testing.T) {
	t.Parallel()

	srv, rec := fakeServer(t, http.StatusOK, `{"playbooks":[`+pendingPlaybook+`]}`)

	out, err := runCmd(t, srv, "playbooks", "list", "--status", "pending_approval")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if rec.method != http.MethodGet || rec.path != "/api/v1/playbooks" {
		t.Errorf("request = %s %s", rec.method, rec.path)
	}
	if rec.query != "status=pending_approval" {
		t.Errorf("query = %q", rec.query)
	}
	if rec.auth != "Bearer ops-token-123" {
		t.Errorf("Authorization = %q", rec.auth)
	}
	for _, want := range []string{"ID", "STATUS", "01JPB0000000000000000000AA", "pending_approval", "C2", "web-01"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPlaybooksShow(t *testing.T) {
	t.Parallel()

	srv, rec := fakeServer(t, http.StatusOK, pendingPlaybook)

	out, err := runCmd(t, srv, "pb", "show", "01JPB0000000000000000000AA")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if rec.path != "/api/v1/playbooks/01JPB0000000000000000000AA" {
		t.Errorf("path = %q", rec.path)
	}
	for _, want := range []string{
		"Suricata C2 (rule 86682, signature 1000005)",
		"web-01 10.0.1.15",
		"Expires:",
		"- hosts: fw-01",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPlaybooksDecide(t *testing.T) {
	t.Parallel()

	tests := []struct {
		action string
		status string
	}{
		{"approve", "approved"},
		{"reject", "rejected"},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			t.Parallel()

			resp := strings.Replace(pendingPlaybook, `"pending_approval"`, `"`+tt.status+`", "decided_by": "alice"`, 1)
			srv, rec := fakeServer(t, http.StatusOK, resp)

			out, err := runCmd(t, srv, "playbooks", tt.action, "01JPB0000000000000000000AA", "--by", "alice")
			if err != nil {
				t.Fatalf("%s: %v", tt.action, err)
			}
			if rec.method != http.MethodPost || rec.path != "/api/v1/playbooks/01JPB0000000000000000000AA/"+tt.action {
				t.Errorf("request = %s %s", rec.method, rec.path)
			}
			var body map[string]string
			if err := json.Unmarshal([]byte(rec.body), &body); err != nil || body["by"] != "alice" {
				t.Errorf("body = %q", rec.body)
			}
			if want := "01JPB0000000000000000000AA " + tt.status + " by alice"; !strings.Contains(out, want) {
				t.Errorf("output = %q, want %q", out, want)
			}
		})
	}
}

func TestPlaybooksDecide_Conflict(t *testing.T) {
	t.Parallel()

	srv, _ := fakeServer(t, http.StatusConflict, `{"error":"playbook not pending approval: 01X is rejected"}`)

	_, err := runCmd(t, srv, "playbooks", "approve", "01X")
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *apiError", err)
	}
	if apiErr.StatusCode != http.StatusConflict {
		t.Errorf("StatusCode = %d, want 409", apiErr.StatusCode)
	}
	if !strings.Contains(apiErr.Error(), "is rejected") {
		t.Errorf("Error() = %q", apiErr.Error())
	}
}

func TestNetworkReload(t *testing.T) {
	t.Parallel()

	srv, rec := fakeServer(t, http.StatusOK, `{"status":"network definition reloaded"}`)

	out, err := runCmd(t, srv, "network", "reload")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if rec.method != http.MethodPost || rec.path != "/api/v1/network/reload" {
		t.Errorf("request = %s %s", rec.method, rec.path)
	}
	if strings.TrimSpace(out) != "network definition reloaded" {
		t.Errorf("output = %q", out)
	}
}

func TestArgsValidated(t *testing.T) {
	t.Parallel()

	srv, _ := fakeServer(t, http.StatusOK, `{}`)
	for _, args := range [][]string{
		{"playbooks", "show"},
		{"playbooks", "approve"},
		{"playbooks", "list", "extra"},
	} {
		if _, err := runCmd(t, srv, args...); err == nil {
			t.Errorf("%v: expected argument error", args)
		}
	}
}

func TestClient_Unauthorized(t *testing.T) {
	t.Parallel()

	srv, rec := fakeServer(t, http.StatusUnauthorized, `{"error":"missing bearer token"}`)

	c := newClient(srv.URL+"/", "", time.Second)
	_, err := c.listPlaybooks(context.Background(), "")
	var apiErr *apiError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("error = %v, want 401 apiError", err)
	}
	if rec.auth != "" {
		t.Errorf("Authorization sent without token: %q", rec.auth)
	}
	if rec.path != "/api/v1/playbooks" {
		t.Errorf("path = %q, trailing slash not trimmed", rec.path)
	}
}

func TestClient_BadJSON(t *testing.T) {
	t.Parallel()

	srv, _ := fakeServer(t, http.StatusOK, `not json`)

	c := newClient(srv.URL, "", time.Second)
	if _, err := c.getPlaybook(context.Background(), "x"); err == nil || !strings.Contains(err.Error(), "decode response") {
		t.Fatalf("error = %v, want decode error", err)
	}
}

func TestAPIError_NoMessage(t *testing.T) {
	t.Parallel()

	e := &apiError{StatusCode: 502}
	if e.Error() != "server returned 502" {
		t.Errorf("Error() = %q", e.Error())
	}
}
