package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/lendloop/authcore"
)

// DeviceIDHeader is the request header clients use to name their device.
const DeviceIDHeader = "X-Device-ID"

// RequestMeta attaches the client IP, User-Agent and device ID to the request
// context. Put chi's RealIP in front of it when running behind a proxy.
func RequestMeta(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if ip := clientIP(r.RemoteAddr); ip != "" {
			ctx = authcore.WithClientIP(ctx, ip)
		}
		if ua := r.UserAgent(); ua != "" {
			ctx = authcore.WithUserAgent(ctx, ua)
		}
		if id := strings.TrimSpace(r.Header.Get(DeviceIDHeader)); id != "" {
			ctx = authcore.WithDeviceID(ctx, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
