package authmw

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBearerToken(t *testing.T) {
	t.Parallel()

	const token = "ops-token-123"

	tests := []struct {
		name       string
		configured string
		header     string // empty leaves Authorization unset
		wantCode   int
		wantBody   string
	}{
		{"valid token", token, "Bearer " + token, http.StatusCreated, ""},
		{"auth disabled without header", "", "", http.StatusCreated, ""},
		{"auth disabled ignores garbage", "", "Basic dXNlcjpwYXNz", http.StatusCreated, ""},
		{"missing header", token, "", http.StatusUnauthorized, `{"error":"missing or malformed authorization header"}`},
		{"basic auth", token, "Basic dXNlcjpwYXNz", http.StatusUnauthorized, `{"error":"missing or malformed authorization header"}`},
		{"lowercase scheme", token, "bearer " + token, http.StatusUnauthorized, `{"error":"missing or malformed authorization header"}`},
		{"raw token", token, token, http.StatusUnauthorized, `{"error":"missing or malformed authorization header"}`},
		{"wrong token", token, "Bearer ops-token-124", http.StatusUnauthorized, `{"error":"invalid token"}`},
		{"prefix of token", token, "Bearer ops-token", http.StatusUnauthorized, `{"error":"invalid token"}`},
		{"token with suffix", token, "Bearer " + token + "x", http.StatusUnauthorized, `{"error":"invalid token"}`},
		{"empty bearer", token, "Bearer ", http.StatusUnauthorized, `{"error":"invalid token"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var called bool
			inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				called = true
				w.WriteHeader(http.StatusCreated)
			})
			h := BearerToken(tt.configured)(inner)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/playbooks/01X/approve", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if want := tt.wantCode != http.StatusUnauthorized; called != want {
				t.Errorf("inner called = %v, want %v", called, want)
			}
			if tt.wantBody == "" {
				return
			}
			if body := rec.Body.String(); body != tt.wantBody {
				t.Errorf("body = %q, want %q", body, tt.wantBody)
			}
			if got := rec.Header().Get("WWW-Authenticate"); got != `Bearer realm="aegis"` {
				t.Errorf("WWW-Authenticate = %q", got)
			}
			if got := rec.Header().Get("Content-Type"); got != "application/json" {
				t.Errorf("Content-Type = %q", got)
			}
		})
	}
}
