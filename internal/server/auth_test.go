package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAdminAuth(t *testing.T) {
	const validKey = "test-admin-key-12345"

	tests := []struct {
		name           string
		configuredKey  string
		headerKey      string
		headerValue    string
		wantStatusCode int
		wantNextCalled bool
	}{
		{
			name:           "valid API key",
			configuredKey:  validKey,
			headerKey:      "X-Admin-Key",
			headerValue:    validKey,
			wantStatusCode: http.StatusOK,
			wantNextCalled: true,
		},
		{
			name:           "missing API key header",
			configuredKey:  validKey,
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "wrong API key",
			configuredKey:  validKey,
			headerKey:      "X-Admin-Key",
			headerValue:    "wrong-key",
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "wrong header name",
			configuredKey:  validKey,
			headerKey:      "Authorization",
			headerValue:    validKey,
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "no key configured",
			configuredKey:  "",
			headerKey:      "X-Admin-Key",
			headerValue:    "",
			wantStatusCode: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nextCalled := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				nextCalled = true
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest("GET", "/control/status", nil)
			if tt.headerKey != "" {
				req.Header.Set(tt.headerKey, tt.headerValue)
			}
			rr := httptest.NewRecorder()
			AdminAuth(tt.configuredKey)(next).ServeHTTP(rr, req)

			if rr.Code != tt.wantStatusCode {
				t.Errorf("status code = %d, want %d", rr.Code, tt.wantStatusCode)
			}
			if nextCalled != tt.wantNextCalled {
				t.Errorf("next called = %v, want %v", nextCalled, tt.wantNextCalled)
			}
		})
	}
}
