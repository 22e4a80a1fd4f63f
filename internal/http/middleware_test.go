package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		xRealIP    string
		remoteAddr string
		expected   string
	}{
		{name: "single forwarded IP", xff: "192.168.1.1", expected: "192.168.1.1"},
		{name: "multiple forwarded IPs take first", xff: "203.0.113.1, 198.51.100.1", expected: "203.0.113.1"},
		{name: "forwarded IP with spaces", xff: " 203.0.113.1  ,198.51.100.1", expected: "203.0.113.1"},
		{name: "forwarded wins over real IP", xff: "203.0.113.1", xRealIP: "192.168.1.100", expected: "203.0.113.1"},
		{name: "real IP", xRealIP: "192.168.1.100", expected: "192.168.1.100"},
		{name: "remote addr", remoteAddr: "10.0.0.1:1234", expected: "10.0.0.1"},
		{name: "remote addr ipv6", remoteAddr: "[2001:db8::1]:443", expected: "2001:db8::1"},
		{name: "remote addr without port", remoteAddr: "10.0.0.1", expected: "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				r.Header.Set("X-Real-IP", tt.xRealIP)
			}
			if tt.remoteAddr != "" {
				r.RemoteAddr = tt.remoteAddr
			}

			require.Equal(t, tt.expected, ExtractClientIP(r))
		})
	}
}

func TestClientIPMiddleware(t *testing.T) {
	var got string
	handler := ClientIPMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIPFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodPost, "/events", nil)
	r.RemoteAddr = "10.1.2.3:5555"
	handler.ServeHTTP(httptest.NewRecorder(), r)

	require.Equal(t, "10.1.2.3", got)
}

func TestRequireSecret(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name     string
		secret   string
		header   string
		expected int
	}{
		{"disabled", "", "", http.StatusNoContent},
		{"matching", "s3cret", "s3cret", http.StatusNoContent},
		{"missing", "s3cret", "", http.StatusUnauthorized},
		{"wrong", "s3cret", "guess", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/events", nil)
			if tt.header != "" {
				r.Header.Set(SecretHeader, tt.header)
			}
			rec := httptest.NewRecorder()

			RequireSecret(tt.secret)(ok).ServeHTTP(rec, r)
			require.Equal(t, tt.expected, rec.Code)
		})
	}
}
