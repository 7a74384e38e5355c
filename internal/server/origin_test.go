package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Tyrowin/chatrelay/internal/logger"
)

func requestWithOrigin(origin string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
	if origin != "" {
		r.Header.Set("Origin", origin)
	}
	return r
}

func TestOriginPolicy(t *testing.T) {
	policy := NewOriginPolicy([]string{" HTTP://LocalHost:3000 ", "https://chat.example", "not a url", ""}, logger.Discard())

	tests := []struct {
		origin string
		want   bool
	}{
		{"http://localhost:3000", true},
		{"http://LOCALHOST:3000", true},
		{"https://chat.example", true},
		{"https://chat.example/path", true},
		{"http://chat.example", false},
		{"http://localhost:3001", false},
		{"", false},
		{"null", false},
		{"javascript:alert(1)", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, policy.Allowed(requestWithOrigin(tt.origin)), "origin %q", tt.origin)
	}
}

func TestOriginPolicy_Wildcard(t *testing.T) {
	policy := NewOriginPolicy([]string{"*"}, logger.Discard())

	assert.True(t, policy.CheckOrigin(requestWithOrigin("https://anything.example")))
	assert.False(t, policy.CheckOrigin(requestWithOrigin("")), "an Origin header is still required")
	assert.False(t, policy.CheckOrigin(requestWithOrigin("garbage")))
}

func TestOriginPolicy_Empty(t *testing.T) {
	policy := NewOriginPolicy(nil, logger.Discard())

	assert.False(t, policy.Allowed(requestWithOrigin("http://localhost:3000")))
}
