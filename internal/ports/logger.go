package ports

import "context"

// Logger defines a standard interface for logging messages and errors.
// Fields are passed as a single optional map of structured key/values.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...map[string]interface{})
	Info(ctx context.Context, msg string, fields ...map[string]interface{})
	Warn(ctx context.Context, msg string, fields ...map[string]interface{})
	// Error logs err together with msg at Error level.
	Error(ctx context.Context, err error, msg string, fields ...map[string]interface{})
}
