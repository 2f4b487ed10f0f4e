package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/JonMunkholm/rollload/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestAPIKeyAuth(t *testing.T) {
	secured := &config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"alpha", "bravo"}}

	tests := []struct {
		name     string
		cfg      *config.SecurityConfig
		header   string
		value    string
		wantCode int
		wantBody string
	}{
		{"auth disabled", &config.SecurityConfig{}, "", "", http.StatusNoContent, ""},
		{"missing key", secured, "", "", http.StatusUnauthorized, CodeMissingKey},
		{"invalid key", secured, "X-API-Key", "charlie", http.StatusForbidden, CodeInvalidKey},
		{"valid header key", secured, "X-API-Key", "bravo", http.StatusNoContent, ""},
		{"valid bearer token", secured, "Authorization", "Bearer alpha", http.StatusNoContent, ""},
		{"bare authorization ignored", secured, "Authorization", "alpha", http.StatusUnauthorized, CodeMissingKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/runs", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()

			APIKeyAuth(tt.cfg)(okHandler).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantBody != "" {
				assert.Contains(t, rec.Body.String(), tt.wantBody)
				assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestIsValidAPIKey(t *testing.T) {
	assert.True(t, isValidAPIKey("k2", []string{"k1", "k2"}))
	assert.False(t, isValidAPIKey("k", []string{"k1", "k2"}))
	assert.False(t, isValidAPIKey("k1", nil))
}

func TestTrustedRealIP(t *testing.T) {
	tests := []struct {
		name    string
		trusted []string
		remote  string
		headers map[string]string
		want    string
	}{
		{
			name:    "no trusted proxies ignores headers",
			remote:  "10.0.0.5:5000",
			headers: map[string]string{"X-Real-IP": "203.0.113.9"},
			want:    "10.0.0.5:5000",
		},
		{
			name:    "trusted cidr honors X-Real-IP",
			trusted: []string{"10.0.0.0/8"},
			remote:  "10.0.0.5:5000",
			headers: map[string]string{"X-Real-IP": "203.0.113.9"},
			want:    "203.0.113.9",
		},
		{
			name:    "first forwarded-for entry",
			trusted: []string{"10.0.0.0/8"},
			remote:  "10.0.0.5:5000",
			headers: map[string]string{"X-Forwarded-For": "198.51.100.7, 10.0.0.1"},
			want:    "198.51.100.7",
		},
		{
			name:    "bare address as single host",
			trusted: []string{"127.0.0.1"},
			remote:  "127.0.0.1:9999",
			headers: map[string]string{"X-Real-IP": "203.0.113.9"},
			want:    "203.0.113.9",
		},
		{
			name:    "untrusted source keeps remote",
			trusted: []string{"10.0.0.0/8"},
			remote:  "192.168.1.2:5000",
			headers: map[string]string{"X-Real-IP": "203.0.113.9"},
			want:    "192.168.1.2:5000",
		},
		{
			name:    "invalid header ignored",
			trusted: []string{"10.0.0.0/8", "not-a-cidr"},
			remote:  "10.0.0.5:5000",
			headers: map[string]string{"X-Real-IP": "garbage"},
			want:    "10.0.0.5:5000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := TrustedRealIP(tt.trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.RemoteAddr
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	h := Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("nope"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/runs/x", nil))

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, `"level":"WARN"`)
	assert.Contains(t, out, `"status":404`)
	assert.Contains(t, out, `"bytes":4`)
	assert.True(t, strings.Contains(out, `"path":"/api/runs/x"`), out)
}
