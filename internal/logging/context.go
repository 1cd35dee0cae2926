// Package logging carries request-scoped identity through context values.
package logging

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type contextKey string

const (
	// UserIDKey holds the authenticated user id.
	UserIDKey contextKey = "user_id"
	// TraceIDKey holds the per-request trace id.
	TraceIDKey contextKey = "trace_id"
)

// WithUserID returns a context carrying the authenticated user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID extracts the authenticated user id, or "".
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(UserIDKey).(string); ok {
		return v
	}
	return ""
}

// WithTraceID returns a context carrying the trace id.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID extracts the trace id, or "".
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(TraceIDKey).(string); ok {
		return v
	}
	return ""
}

// NewTraceID generates a fresh trace id.
func NewTraceID() string {
	return uuid.NewString()
}

const userIDCaptureKey contextKey = "user_id_capture"

// userIDCapture is a cell installed by the access-log layer and filled by the
// auth layer, which runs deeper in the chain. Context values only flow inward,
// so the outer logger reads the id back through this pointer.
type userIDCapture struct {
	mu sync.Mutex
	id string
}

// WithUserIDCapture installs an empty capture cell on the context.
func WithUserIDCapture(ctx context.Context) context.Context {
	return context.WithValue(ctx, userIDCaptureKey, &userIDCapture{})
}

// CaptureUserID records the authenticated user id in the capture cell, if one
// is installed.
func CaptureUserID(ctx context.Context, userID string) {
	if c, ok := ctx.Value(userIDCaptureKey).(*userIDCapture); ok {
		c.mu.Lock()
		c.id = userID
		c.mu.Unlock()
	}
}

// CapturedUserID reads the user id recorded deeper in the chain, or "".
func CapturedUserID(ctx context.Context) string {
	c, ok := ctx.Value(userIDCaptureKey).(*userIDCapture)
	if !ok {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}
