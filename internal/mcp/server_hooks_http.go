package mcp

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	mcp "github.com/mark3labs/mcp-go/mcp"
	srv "github.com/mark3labs/mcp-go/server"
)

// newMCPHooks logs every MCP request with payloads redacted.
func newMCPHooks(logger logSDK.Logger) *srv.Hooks {
	if logger == nil {
		return nil
	}

	hooks := &srv.Hooks{}

	hooks.AddBeforeAny(func(ctx context.Context, id any, method mcp.MCPMethod, message any) {
		fields := hookLogFields(ctx, id, method, message)
		if message != nil {
			fields = append(fields, zap.String("request", redactHookPayload(message)))
		}
		logger.Debug("mcp request received", fields...)
	})

	hooks.AddOnSuccess(func(ctx context.Context, id any, method mcp.MCPMethod, message any, result any) {
		fields := hookLogFields(ctx, id, method, message)
		if result != nil {
			fields = append(fields, zap.String("response", redactHookPayload(result)))
		}
		if method == mcp.MethodToolsCall {
			logger.Info("mcp tool served", fields...)
			return
		}
		logger.Debug("mcp request succeeded", fields...)
	})

	hooks.AddOnError(func(ctx context.Context, id any, method mcp.MCPMethod, message any, err error) {
		fields := hookLogFields(ctx, id, method, message)
		if message != nil {
			fields = append(fields, zap.String("request", redactHookPayload(message)))
		}
		fields = append(fields, zap.Error(err))
		if isUnsupportedCapabilityQuery(method, err) {
			logger.Debug("mcp capability query rejected", fields...)
			return
		}
		logger.Error("mcp request failed", fields...)
	})

	hooks.AddOnRegisterSession(func(ctx context.Context, session srv.ClientSession) {
		logger.Info("mcp session registered", zap.String("session_id", session.SessionID()))
	})

	hooks.AddOnUnregisterSession(func(ctx context.Context, session srv.ClientSession) {
		logger.Info("mcp session unregistered", zap.String("session_id", session.SessionID()))
	})

	return hooks
}

// isUnsupportedCapabilityQuery reports whether err is a client asking for
// resources or prompts, which this server never offers.
func isUnsupportedCapabilityQuery(method mcp.MCPMethod, err error) bool {
	if err == nil {
		return false
	}
	errText := strings.ToLower(err.Error())
	switch method {
	case mcp.MethodResourcesList, mcp.MethodResourcesTemplatesList:
		return strings.Contains(errText, "resources not supported")
	case mcp.MethodPromptsList:
		return strings.Contains(errText, "prompts not supported")
	default:
		return false
	}
}

// hookLogFields identifies the request, and for tool calls the tool and
// the chatbot it serves.
func hookLogFields(ctx context.Context, id any, method mcp.MCPMethod, message any) []zap.Field {
	fields := []zap.Field{
		zap.Any("request_id", id),
		zap.String("method", string(method)),
	}

	if session := srv.ClientSessionFromContext(ctx); session != nil {
		fields = append(fields, zap.String("session_id", session.SessionID()))
	}

	if req, ok := message.(*mcp.CallToolRequest); ok && req != nil {
		fields = append(fields, zap.String("tool", req.Params.Name))
		if chatbotID := req.GetString("chatbot_id", ""); chatbotID != "" {
			fields = append(fields, zap.String("chatbot_id", chatbotID))
		}
	}

	return fields
}

// httpLogBodyLimit caps how much of each body is kept for debug logs.
const httpLogBodyLimit = 4096

// withHTTPLogging logs redacted request and response bodies at debug level.
func withHTTPLogging(next http.Handler, logger logSDK.Logger) http.Handler {
	if next == nil {
		return nil
	}
	if logger == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startAt := time.Now()
		body, truncated, err := captureRequestBody(r, httpLogBodyLimit)
		if err != nil {
			logger.Error("read mcp request body", zap.Error(err))
		}
		sessionID := strings.TrimSpace(r.Header.Get(srv.HeaderKeySessionID))

		logger.Debug("mcp http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("body", redactMCPBody(body)),
			zap.Bool("body_truncated", truncated),
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("mcp_session_id", sessionID),
		)

		cw := newBodyCaptureWriter(w, httpLogBodyLimit)
		next.ServeHTTP(cw, r)

		respBody, respTruncated := cw.Body()
		logger.Debug("mcp http response",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", cw.Status()),
			zap.String("body", redactMCPBody(respBody)),
			zap.Bool("body_truncated", respTruncated),
			zap.Duration("cost", time.Since(startAt)),
		)
	})
}

// captureRequestBody reads the body for logging and puts it back for next.
func captureRequestBody(r *http.Request, limit int) (string, bool, error) {
	if r.Body == nil {
		return "", false, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return "", false, err
	}
	if err := r.Body.Close(); err != nil {
		return "", false, err
	}

	r.Body = io.NopCloser(bytes.NewReader(data))
	logged, truncated := truncateForLog(data, limit)
	return logged, truncated, nil
}

// bodyCaptureWriter keeps the first limit bytes of a response. Flush is
// forwarded so streamed SSE responses keep working.
type bodyCaptureWriter struct {
	http.ResponseWriter
	status    int
	buffer    bytes.Buffer
	truncated bool
	limit     int
}

func newBodyCaptureWriter(w http.ResponseWriter, limit int) *bodyCaptureWriter {
	return &bodyCaptureWriter{ResponseWriter: w, limit: limit}
}

func (w *bodyCaptureWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *bodyCaptureWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}

	remaining := w.limit - w.buffer.Len()
	switch {
	case remaining <= 0:
		w.truncated = true
	case len(b) > remaining:
		w.buffer.Write(b[:remaining])
		w.truncated = true
	default:
		w.buffer.Write(b)
	}

	return w.ResponseWriter.Write(b)
}

func (w *bodyCaptureWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *bodyCaptureWriter) Body() (string, bool) {
	return w.buffer.String(), w.truncated
}

func (w *bodyCaptureWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func truncateForLog(data []byte, limit int) (string, bool) {
	if len(data) <= limit {
		return string(data), false
	}
	return string(data[:limit]), true
}
