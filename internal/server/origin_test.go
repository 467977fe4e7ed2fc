package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Tyrowin/msgrelay/internal/logging"
)

func TestOriginPolicy(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"exact match", []string{"http://localhost:3000"}, "http://localhost:3000", true},
		{"case insensitive", []string{"HTTP://LocalHost:3000"}, "http://localhost:3000", true},
		{"different port", []string{"http://localhost:3000"}, "http://localhost:4000", false},
		{"missing origin", []string{"http://localhost:3000"}, "", false},
		{"wildcard", []string{"*"}, "https://anything.example", true},
		{"invalid configured origin ignored", []string{"not a url", "https://ok.example"}, "https://ok.example", true},
		{"empty allow list", nil, "http://localhost:3000", false},
		{"malformed request origin", []string{"http://localhost:3000"}, "localhost", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newOriginPolicy(tt.allowed, logging.Discard())

			req := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}

			if got := p.checkOrigin(req); got != tt.want {
				t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}
