package context

import (
	"context"
	"strings"
)

type requestIDKey struct{}
type deviceIDKey struct{}

// WithRequestID stores the request identifier on the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the request identifier, or empty when unset.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(requestIDKey{}).(string); ok {
		return value
	}
	return ""
}

// WithDeviceID stores the reporting device identifier on the context.
func WithDeviceID(ctx context.Context, deviceID string) context.Context {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return ctx
	}
	return context.WithValue(ctx, deviceIDKey{}, deviceID)
}

// DeviceIDFromContext returns the reporting device identifier, or empty when unset.
func DeviceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(deviceIDKey{}).(string); ok {
		return value
	}
	return ""
}
