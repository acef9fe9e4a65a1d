package logging

import (
	"context"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// SessionField is the logrus field carrying a session id. The formatter prints
// its short form in the second bracket of every line.
const SessionField = "session"

type sessionIDKey struct{}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// ShortID trims a session id to the 8 characters shown in log lines.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// WithSessionID returns a new context with the session id attached.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// GetSessionID retrieves the session id from ctx, or "".
func GetSessionID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(sessionIDKey{}).(string); ok {
		return id
	}
	return ""
}

// SessionEntry returns a log entry tagged with the session id.
func SessionEntry(id string) *log.Entry {
	return log.WithField(SessionField, id)
}

// ContextEntry returns a log entry tagged with the session id carried by ctx,
// or an untagged entry when there is none.
func ContextEntry(ctx context.Context) *log.Entry {
	if id := GetSessionID(ctx); id != "" {
		return SessionEntry(id)
	}
	return log.NewEntry(log.StandardLogger())
}
