package models

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_DeviceFromRequest(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		userAgent  string
		expected   Device
	}{
		{
			name:       "socket address only",
			remoteAddr: "203.0.113.7:51234",
			userAgent:  "test-agent/1.0",
			expected:   Device{UserAgent: "test-agent/1.0", IP: "203.0.113.7"},
		},
		{
			name:       "first forwarded entry wins",
			remoteAddr: "10.0.0.1:443",
			forwarded:  "198.51.100.4, 10.0.0.1",
			expected:   Device{IP: "198.51.100.4"},
		},
		{
			name:       "forwarded entry trimmed",
			remoteAddr: "10.0.0.1:443",
			forwarded:  "  198.51.100.4  ",
			expected:   Device{IP: "198.51.100.4"},
		},
		{
			name:       "empty forwarded falls back to socket",
			remoteAddr: "10.0.0.1:443",
			forwarded:  " , 198.51.100.4",
			expected:   Device{IP: "10.0.0.1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/login", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.userAgent != "" {
				r.Header.Set("User-Agent", tt.userAgent)
			}

			assert.Equal(t, tt.expected, DeviceFromRequest(r))
		})
	}
}
