// Package ctxkeys holds context keys shared across transports.
package ctxkeys

// Key identifies a context value propagated across services.
type Key string

const (
	// Logger stores the per-request logger.
	Logger Key = "kb_logger"
)
