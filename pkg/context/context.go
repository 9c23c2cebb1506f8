// Package context carries build session tracing data through context.Context
package context

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ctxKey int

// Context keys for session tracing. Pointers to zero-size values may share
// an address, so each key is a distinct value of an unexported type.
const (
	sessionIDKey ctxKey = iota
	targetKey
	operationKey
	startTimeKey
)

// WithSessionID adds a session ID to the context
func WithSessionID(parent context.Context, sessionID string) context.Context {
	if sessionID == "" {
		sessionID = GenerateSessionID()
	}
	return context.WithValue(parent, sessionIDKey, sessionID)
}

// GetSessionID retrieves the session ID from context
func GetSessionID(ctx context.Context) string {
	if id, ok := ctx.Value(sessionIDKey).(string); ok && id != "" {
		return id
	}
	return ""
}

// WithTarget adds the resolved target name to the context
func WithTarget(parent context.Context, target string) context.Context {
	return context.WithValue(parent, targetKey, target)
}

// GetTarget retrieves the target name from context
func GetTarget(ctx context.Context) string {
	if name, ok := ctx.Value(targetKey).(string); ok {
		return name
	}
	return ""
}

// WithOperation adds an operation name to the context
func WithOperation(parent context.Context, operation string) context.Context {
	return context.WithValue(parent, operationKey, operation)
}

// GetOperation retrieves the operation name from context
func GetOperation(ctx context.Context) string {
	if op, ok := ctx.Value(operationKey).(string); ok {
		return op
	}
	return ""
}

// WithStartTime adds the operation start time to the context
func WithStartTime(parent context.Context, startTime time.Time) context.Context {
	return context.WithValue(parent, startTimeKey, startTime)
}

// GetDuration calculates the duration since the start time in context.
// Returns zero when no start time is present.
func GetDuration(ctx context.Context) time.Duration {
	if t, ok := ctx.Value(startTimeKey).(time.Time); ok {
		return time.Since(t)
	}
	return 0
}

// GenerateSessionID creates a new unique session ID
func GenerateSessionID() string {
	return "ses_" + uuid.New().String()
}

// NewSessionContext derives a context for a freshly triggered session
func NewSessionContext(parent context.Context, target string) (context.Context, string) {
	if parent == nil {
		parent = context.Background()
	}
	id := GenerateSessionID()
	ctx := WithSessionID(parent, id)
	ctx = WithTarget(ctx, target)
	ctx = WithOperation(ctx, "build")
	ctx = WithStartTime(ctx, time.Now())
	return ctx, id
}
