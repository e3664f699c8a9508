package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/Laisky/zap"
	mcp "github.com/mark3labs/mcp-go/mcp"

	"github.com/Laisky/laisky-kb-retrieval/internal/ctxkeys"
	"github.com/Laisky/laisky-kb-retrieval/internal/retrieval"
)

const (
	toolSearch       = "kb_search"
	toolHybridSearch = "kb_hybrid_search"
	toolHealth       = "kb_health"
)

// searchArgs is the argument payload shared by the search tools.
type searchArgs struct {
	Query            string   `json:"query"`
	ChatbotID        string   `json:"chatbot_id"`
	SessionID        string   `json:"session_id"`
	KnowledgeBaseIDs []string `json:"knowledge_base_ids"`
	CollectionIDs    []string `json:"collection_ids"`
	DocumentIDs      []string `json:"document_ids"`
	ContentTypes     []string `json:"content_types"`
	MaxResults       *float64 `json:"max_results"`
	MinSimilarity    *float64 `json:"min_similarity"`
	VectorWeight     *float64 `json:"vector_weight"`
	LexicalWeight    *float64 `json:"lexical_weight"`
}

func (a searchArgs) request() retrieval.SearchRequest {
	req := retrieval.SearchRequest{
		Query: a.Query,
		Scope: retrieval.Scope{
			ChatbotID:        a.ChatbotID,
			SessionID:        a.SessionID,
			KnowledgeBaseIDs: a.KnowledgeBaseIDs,
		},
		Filter: retrieval.Filter{
			CollectionIDs: a.CollectionIDs,
			DocumentIDs:   a.DocumentIDs,
			ContentTypes:  a.ContentTypes,
			MinSimilarity: a.MinSimilarity,
		},
	}
	if a.MaxResults != nil {
		req.Filter.MaxResults = int(*a.MaxResults)
	}
	return req
}

// searchResponse is the tool payload for both search tools.
type searchResponse struct {
	Results []retrieval.SearchResult `json:"results"`
}

func (s *Server) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, errResult := decodeSearchArgs(req)
	if errResult != nil {
		return errResult, nil
	}

	ctx = s.withToolLogger(ctx, toolSearch, args)
	results, err := s.engine.SimilaritySearch(ctx, args.request())
	if err != nil {
		return s.searchErrorResult(toolSearch, err), nil
	}
	return s.searchResult(results), nil
}

func (s *Server) handleHybridSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, errResult := decodeSearchArgs(req)
	if errResult != nil {
		return errResult, nil
	}

	hybrid := retrieval.HybridRequest{SearchRequest: args.request()}
	if args.VectorWeight != nil || args.LexicalWeight != nil {
		weights := retrieval.Weights{}
		if args.VectorWeight != nil {
			weights.Vector = *args.VectorWeight
		}
		if args.LexicalWeight != nil {
			weights.Lexical = *args.LexicalWeight
		}
		hybrid.Weights = &weights
	}

	ctx = s.withToolLogger(ctx, toolHybridSearch, args)
	results, err := s.engine.HybridSearch(ctx, hybrid)
	if err != nil {
		return s.searchErrorResult(toolHybridSearch, err), nil
	}
	return s.searchResult(results), nil
}

// withToolLogger scopes the service logger to one tool call.
func (s *Server) withToolLogger(ctx context.Context, tool string, args searchArgs) context.Context {
	logger := s.logger.Named(tool).With(
		zap.String("chatbot_id", args.ChatbotID),
		zap.String("session_id", args.SessionID),
	)
	return context.WithValue(ctx, ctxkeys.Logger, logger)
}

func (s *Server) handleHealth(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := s.engine.GetHealthCheck(ctx)
	if err != nil {
		s.logger.Error("kb_health failed", zap.Error(err))
		return toolErrorResult("INTERNAL", "health check failed", true), nil
	}

	result, err := mcp.NewToolResultJSON(report)
	if err != nil {
		s.logger.Error("encode health report", zap.Error(err))
		return mcp.NewToolResultError("failed to encode health report"), nil
	}
	return result, nil
}

func decodeSearchArgs(req mcp.CallToolRequest) (searchArgs, *mcp.CallToolResult) {
	var args searchArgs
	if req.Params.Arguments != nil {
		data, err := json.Marshal(req.Params.Arguments)
		if err == nil {
			err = json.Unmarshal(data, &args)
		}
		if err != nil {
			return args, toolErrorResult(string(retrieval.ErrCodeFilterValidationFailure), "invalid arguments", false)
		}
	}

	args.Query = strings.TrimSpace(args.Query)
	if args.Query == "" {
		return args, toolErrorResult(string(retrieval.ErrCodeFilterValidationFailure), "query cannot be empty", false)
	}
	return args, nil
}

func (s *Server) searchResult(results []retrieval.SearchResult) *mcp.CallToolResult {
	if results == nil {
		results = []retrieval.SearchResult{}
	}
	result, err := mcp.NewToolResultJSON(searchResponse{Results: results})
	if err != nil {
		s.logger.Error("encode search result", zap.Error(err))
		return mcp.NewToolResultError("failed to encode search result")
	}
	return result
}

// searchErrorResult returns the caller-facing guidance; the raw cause is
// only logged.
func (s *Server) searchErrorResult(tool string, err error) *mcp.CallToolResult {
	typed, ok := retrieval.AsError(err)
	if !ok {
		s.logger.Error("search tool failed", zap.String("tool", tool), zap.Error(err))
		return toolErrorResult(string(retrieval.ErrCodeStoreQueryFailure), retrieval.UserGuidance, true)
	}

	if typed.Code == retrieval.ErrCodeFilterValidationFailure {
		s.logger.Debug("search tool rejected", zap.String("tool", tool), zap.Error(err))
	} else {
		s.logger.Warn("search tool failed", zap.String("tool", tool), zap.Error(err))
	}
	return toolErrorResult(string(typed.Code), typed.UserMessage(), typed.Retryable)
}

// toolErrorResult builds a structured tool error.
func toolErrorResult(code, message string, retryable bool) *mcp.CallToolResult {
	payload := map[string]any{
		"code":      code,
		"message":   message,
		"retryable": retryable,
	}
	result, err := mcp.NewToolResultJSON(payload)
	if err != nil {
		return mcp.NewToolResultError(message)
	}
	result.IsError = true
	return result
}
