package web

import (
	"context"
	"net/http"

	errors "github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/laisky-kb-retrieval/internal/indexopt"
	"github.com/Laisky/laisky-kb-retrieval/internal/retrieval"
)

// errorBody is the JSON shape of every failed response.
type errorBody struct {
	Code      string   `json:"code"`
	Message   string   `json:"message"`
	Retryable bool     `json:"retryable"`
	Statement string   `json:"statement,omitempty"`
	Rollback  []string `json:"rollback,omitempty"`
}

func writeBadRequest(ctx *gin.Context, message string) {
	ctx.JSON(http.StatusBadRequest, errorBody{Code: "INVALID_REQUEST", Message: message})
}

// writeError maps typed engine errors onto HTTP statuses. Raw causes are
// logged, never returned.
func writeError(ctx *gin.Context, err error) {
	status, body := statusOf(err), bodyOf(err)
	logger := gmw.GetLogger(ctx)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.String("code", body.Code), zap.Error(err))
	} else {
		logger.Debug("request rejected", zap.String("code", body.Code), zap.Error(err))
	}
	ctx.JSON(status, body)
}

func statusOf(err error) int {
	if typed, ok := retrieval.AsError(err); ok {
		switch typed.Code {
		case retrieval.ErrCodeFilterValidationFailure:
			return http.StatusBadRequest
		case retrieval.ErrCodeTimeout:
			return http.StatusGatewayTimeout
		default:
			return http.StatusBadGateway
		}
	}
	if typed, ok := indexopt.AsError(err); ok {
		switch typed.Code {
		case indexopt.ErrCodeInvalidInput:
			return http.StatusBadRequest
		case indexopt.ErrCodeTimeout:
			return http.StatusGatewayTimeout
		case indexopt.ErrCodeStoreQueryFailure:
			return http.StatusBadGateway
		default:
			return http.StatusInternalServerError
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func bodyOf(err error) errorBody {
	if typed, ok := retrieval.AsError(err); ok {
		return errorBody{Code: string(typed.Code), Message: typed.UserMessage(), Retryable: typed.Retryable}
	}
	if typed, ok := indexopt.AsError(err); ok {
		return errorBody{
			Code:      string(typed.Code),
			Message:   typed.Message,
			Retryable: typed.Retryable,
			Statement: typed.Statement,
			Rollback:  typed.Rollback,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errorBody{Code: "TIMEOUT", Message: "request timed out", Retryable: true}
	}
	return errorBody{Code: "INTERNAL", Message: "internal error"}
}
