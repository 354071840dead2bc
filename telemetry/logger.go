package telemetry

import (
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
)

var sensitiveKeys = map[string]struct{}{
	"auth":          {},
	"authorization": {},
	"bearer_token":  {},
	"channel_data":  {},
	"secret":        {},
	"token":         {},
}

var urlKeys = map[string]struct{}{
	"endpoint": {},
	"url":      {},
}

// SlogLogger implements the realtime.Logger interface using log/slog.
// Values of sensitive keys are redacted before they reach the handler.
type SlogLogger struct {
	logger *slog.Logger
}

// NewLogger creates a new structured logger that writes JSON to stdout.
func NewLogger() *SlogLogger {
	return NewLoggerWithWriter(os.Stdout, slog.LevelInfo)
}

// NewLoggerWithWriter creates a JSON logger writing to w at the given level.
func NewLoggerWithWriter(w io.Writer, level slog.Level) *SlogLogger {
	return &SlogLogger{
		logger: slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})),
	}
}

// Info logs an informational message.
func (l *SlogLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, redactPairs(keysAndValues)...)
}

// Error logs an error message.
func (l *SlogLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	args := append(redactPairs(keysAndValues), "error", err)
	l.logger.Error(msg, args...)
}

// Redact hides the value of a sensitive key. URLs logged under endpoint or
// url keep their shape with sensitive query parameters hidden.
func Redact(key string, value any) any {
	k := strings.ToLower(key)
	if _, ok := sensitiveKeys[k]; ok {
		return "[REDACTED]"
	}
	if _, ok := urlKeys[k]; ok {
		if s, isString := value.(string); isString {
			return RedactQuery(s)
		}
	}
	return value
}

// RedactQuery sanitizes URL query parameters.
func RedactQuery(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.RawQuery == "" {
		return u
	}
	q := parsed.Query()
	for key := range q {
		if _, ok := sensitiveKeys[strings.ToLower(key)]; ok {
			q.Set(key, "[REDACTED]")
		}
	}
	parsed.RawQuery = q.Encode()
	return parsed.String()
}

func redactPairs(keysAndValues []interface{}) []interface{} {
	out := make([]interface{}, len(keysAndValues))
	copy(out, keysAndValues)
	for i := 0; i+1 < len(out); i += 2 {
		if key, ok := out[i].(string); ok {
			out[i+1] = Redact(key, out[i+1])
		}
	}
	return out
}
