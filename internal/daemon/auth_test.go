package daemon

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type errorResponse struct {
	Error string `json:"error"`
}

func TestTokenAuthMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mw := TokenAuthMiddleware("secret", next)

	cases := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"health is open", "/health", "", http.StatusNoContent},
		{"missing header", "/v1/runs", "", http.StatusUnauthorized},
		{"wrong scheme", "/v1/runs", "Basic secret", http.StatusUnauthorized},
		{"wrong token", "/v1/runs", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "/v1/runs", "Bearer secret", http.StatusNoContent},
		{"token with padding", "/v1/runs", "Bearer  secret ", http.StatusNoContent},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			mw.ServeHTTP(rec, req)

			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
			if rec.Code != http.StatusUnauthorized {
				return
			}
			var resp errorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if resp.Error != "unauthorized" {
				t.Fatalf("error = %q, want unauthorized", resp.Error)
			}
		})
	}
}
