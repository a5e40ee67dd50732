package models

import (
	"net"
	"net/http"
	"strings"
)

// Device is best-effort metadata about the client that opened a session
type Device struct {
	UserAgent string
	IP        string
}

// DeviceFromRequest extracts device metadata from an inbound request.
// Client IP is the first entry of X-Forwarded-For if present, else the
// socket address.
func DeviceFromRequest(r *http.Request) Device {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}

	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			ip = first
		}
	}

	return Device{
		UserAgent: r.UserAgent(),
		IP:        ip,
	}
}
