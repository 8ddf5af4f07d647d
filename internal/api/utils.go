package api

import (
	"net"
	"net/http"
	"strings"
)

// getClientIP extracts the client IP address from the request,
// preferring proxy-set headers.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// May contain a chain of IPs; the first is the client.
		ip, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(ip)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// getRequestID returns the request ID assigned by the middleware, or the
// client's own if it supplied one.
func getRequestID(r *http.Request) string {
	return r.Header.Get("X-Request-ID")
}
