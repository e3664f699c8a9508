// Package mcp exposes knowledge-base lookups as MCP tools so a
// conversational agent can call them over streamable HTTP.
package mcp

import (
	"context"
	"net/http"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	mcp "github.com/mark3labs/mcp-go/mcp"
	srv "github.com/mark3labs/mcp-go/server"

	"github.com/Laisky/laisky-kb-retrieval/internal/indexopt"
	"github.com/Laisky/laisky-kb-retrieval/internal/retrieval"
	"github.com/Laisky/laisky-kb-retrieval/library/log"
)

const (
	serverName    = "laisky-kb-retrieval"
	serverVersion = "1.0.0"
)

// Engine is the subset of kb.Engine reachable from MCP tools.
type Engine interface {
	SimilaritySearch(ctx context.Context, req retrieval.SearchRequest) ([]retrieval.SearchResult, error)
	HybridSearch(ctx context.Context, req retrieval.HybridRequest) ([]retrieval.SearchResult, error)
	GetHealthCheck(ctx context.Context) (indexopt.HealthReport, error)
}

// Server wraps the MCP server state for the HTTP transport.
type Server struct {
	handler   http.Handler
	mcpServer *srv.MCPServer
	engine    Engine
	logger    logSDK.Logger
}

// NewServer constructs a remote MCP server exposing the knowledge-base
// tools under a single handler.
func NewServer(engine Engine, logger logSDK.Logger) (*Server, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if logger == nil {
		logger = log.Logger.Named("mcp")
	}

	mcpServer := srv.NewMCPServer(
		serverName,
		serverVersion,
		srv.WithToolCapabilities(true),
		srv.WithInstructions("Use kb_search or kb_hybrid_search to look up knowledge-base passages "+
			"before answering, and kb_health to check whether retrieval is degraded."),
		srv.WithRecovery(),
		srv.WithHooks(newMCPHooks(logger.Named("mcp_hooks"))),
	)

	s := &Server{
		mcpServer: mcpServer,
		engine:    engine,
		logger:    logger,
	}
	mcpServer.AddTool(searchTool(), s.handleSearch)
	mcpServer.AddTool(hybridSearchTool(), s.handleHybridSearch)
	mcpServer.AddTool(healthTool(), s.handleHealth)

	s.handler = withHTTPLogging(srv.NewStreamableHTTPServer(mcpServer), logger.Named("mcp_http"))
	return s, nil
}

// Handler returns the HTTP handler that should be mounted to serve MCP traffic.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ToolNames lists the registered tools.
func (s *Server) ToolNames() []string {
	return []string{toolSearch, toolHybridSearch, toolHealth}
}

func searchTool() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Find knowledge-base passages semantically similar to a query."),
	}
	opts = append(opts, scopeOptions()...)
	opts = append(opts,
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)
	return mcp.NewTool(toolSearch, opts...)
}

func hybridSearchTool() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Find knowledge-base passages by blending semantic similarity with keyword relevance. " +
			"Prefer this when the query contains exact terms such as product names or error codes."),
	}
	opts = append(opts, scopeOptions()...)
	opts = append(opts,
		mcp.WithNumber("vector_weight", mcp.Description("Weight of the semantic ranking. Defaults to the configured weight.")),
		mcp.WithNumber("lexical_weight", mcp.Description("Weight of the keyword ranking. Defaults to the configured weight.")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)
	return mcp.NewTool(toolHybridSearch, opts...)
}

func healthTool() mcp.Tool {
	return mcp.NewTool(
		toolHealth,
		mcp.WithDescription("Report retrieval health: composite score, status and open issues."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
	)
}

func scopeOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("query", mcp.Required(), mcp.Description("Plain text question or keywords.")),
		mcp.WithString("chatbot_id", mcp.Description("Calling chatbot, used for usage accounting.")),
		mcp.WithString("session_id", mcp.Description("Conversation session identifier.")),
		mcp.WithArray("knowledge_base_ids", mcp.Description("Restrict to these knowledge bases."), mcp.WithStringItems()),
		mcp.WithArray("collection_ids", mcp.Description("Restrict to chunks tagged with any of these collections."), mcp.WithStringItems()),
		mcp.WithArray("document_ids", mcp.Description("Restrict to these documents."), mcp.WithStringItems()),
		mcp.WithArray("content_types", mcp.Description("Restrict to these content types."), mcp.WithStringItems()),
		mcp.WithNumber("max_results", mcp.Description("Maximum passages to return.")),
		mcp.WithNumber("min_similarity", mcp.Description("Similarity floor between 0 and 1.")),
	}
}
