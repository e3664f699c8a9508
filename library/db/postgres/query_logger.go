package postgres

import (
	"context"
	"fmt"
	"strings"

	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/pgvector/pgvector-go"

	"github.com/Laisky/laisky-kb-retrieval/library/log"
)

const (
	defaultMaxLoggedParamLength = 256
	defaultVectorPreviewDims    = 8
)

// sanitizingLogger forwards pgx trace records to zap with vector and
// oversized parameters summarized.
type sanitizingLogger struct {
	logger               logSDK.Logger
	maxLoggedParamLength int
	vectorPreviewDims    int
}

func newSanitizingLogger(logger logSDK.Logger) *sanitizingLogger {
	if logger == nil {
		logger = log.Logger.Named("pgx")
	}
	return &sanitizingLogger{
		logger:               logger,
		maxLoggedParamLength: defaultMaxLoggedParamLength,
		vectorPreviewDims:    defaultVectorPreviewDims,
	}
}

// Log implements tracelog.Logger.
func (l *sanitizingLogger) Log(_ context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
	fields := l.fields(data)
	switch level {
	case tracelog.LogLevelError:
		l.logger.Error(msg, fields...)
	case tracelog.LogLevelWarn:
		l.logger.Warn(msg, fields...)
	case tracelog.LogLevelInfo:
		l.logger.Info(msg, fields...)
	default:
		l.logger.Debug(msg, fields...)
	}
}

func (l *sanitizingLogger) fields(data map[string]any) []zap.Field {
	fields := make([]zap.Field, 0, len(data))
	for key, value := range data {
		switch key {
		case "args":
			if args, ok := value.([]any); ok {
				fields = append(fields, zap.Any(key, l.sanitizeParams(args...)))
				continue
			}
		case "sql":
			if sql, ok := value.(string); ok {
				fields = append(fields, zap.String(key, strings.Join(strings.Fields(sql), " ")))
				continue
			}
		}
		fields = append(fields, zap.Any(key, value))
	}
	return fields
}

func (l *sanitizingLogger) sanitizeParams(params ...any) []any {
	if len(params) == 0 {
		return params
	}
	filtered := make([]any, len(params))
	for idx, param := range params {
		filtered[idx] = sanitizeLoggedSQLParam(param, l.maxLoggedParamLength, l.vectorPreviewDims)
	}
	return filtered
}

// sanitizeLoggedSQLParam converts oversized parameter values into compact log-safe summaries.
func sanitizeLoggedSQLParam(param any, maxLoggedParamLength, vectorPreviewDims int) any {
	switch value := param.(type) {
	case pgvector.Vector:
		return summarizeVectorForLog(value.Slice(), vectorPreviewDims)
	case []float32:
		return summarizeVectorForLog(value, vectorPreviewDims)
	case string:
		if isVectorLikeLiteral(value) {
			return truncateStringForLog(value, maxLoggedParamLength)
		}
		if len(value) > maxLoggedParamLength {
			return fmt.Sprintf("<string:len=%d,truncated>", len(value))
		}
		return value
	case []byte:
		if len(value) > maxLoggedParamLength {
			return fmt.Sprintf("<bytes:len=%d,truncated>", len(value))
		}
		return value
	default:
		return param
	}
}

// summarizeVectorForLog returns dimensionality plus a short preview.
func summarizeVectorForLog(vector []float32, previewDims int) string {
	if previewDims <= 0 {
		previewDims = defaultVectorPreviewDims
	}
	previewCount := min(previewDims, len(vector))
	preview := append([]float32(nil), vector[:previewCount]...)
	return fmt.Sprintf("<vector:dim=%d,preview=%v,truncated=%t>", len(vector), preview, len(vector) > previewCount)
}

func truncateStringForLog(raw string, maxLoggedParamLength int) string {
	if maxLoggedParamLength <= 0 || len(raw) <= maxLoggedParamLength {
		return raw
	}
	return fmt.Sprintf("%s...<truncated:len=%d>", raw[:maxLoggedParamLength], len(raw))
}

func isVectorLikeLiteral(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) < 4 {
		return false
	}
	if !strings.HasPrefix(trimmed, "[") || !strings.HasSuffix(trimmed, "]") {
		return false
	}
	return strings.Contains(trimmed, ",")
}
