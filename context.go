package authcore

import "context"

type clientIPContextKey struct{}
type userAgentContextKey struct{}
type deviceIDContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. It is recorded on
// new sessions and audit events and feeds the optional per-IP login throttle.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithDeviceID attaches a client-supplied device identifier to ctx. Without
// one, every login is treated as a new device.
func WithDeviceID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, deviceIDContextKey{}, deviceID)
}

// RequestMeta is the request metadata the Engine reads from a context.
type RequestMeta struct {
	IP        string
	UserAgent string
	DeviceID  string
}

func metaFromContext(ctx context.Context) RequestMeta {
	if ctx == nil {
		return RequestMeta{}
	}
	var m RequestMeta
	m.IP, _ = ctx.Value(clientIPContextKey{}).(string)
	m.UserAgent, _ = ctx.Value(userAgentContextKey{}).(string)
	m.DeviceID, _ = ctx.Value(deviceIDContextKey{}).(string)
	return m
}
