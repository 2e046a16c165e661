package logger

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	// TraceIDKey carries the request trace id.
	TraceIDKey contextKey = "trace_id"
	// UserIDKey carries the authenticated patron id.
	UserIDKey contextKey = "user_id"
	// RoleKey carries the authenticated patron role.
	RoleKey contextKey = "role"
)

// NewTraceID returns a fresh random trace id.
func NewTraceID() string {
	return uuid.NewString()
}

// WithTraceID stores the trace id in the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID returns the trace id stored in the context, if any.
func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(TraceIDKey).(string)
	return v
}

// WithUser stores the caller identity in the context.
func WithUser(ctx context.Context, userID, role string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	if role != "" {
		ctx = context.WithValue(ctx, RoleKey, role)
	}
	return ctx
}

// GetUserID returns the authenticated patron id, if any.
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}

// GetRole returns the authenticated patron role, if any.
func GetRole(ctx context.Context) string {
	v, _ := ctx.Value(RoleKey).(string)
	return v
}
