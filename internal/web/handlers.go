package web

import (
	"net/http"
	"time"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/laisky-kb-retrieval/internal/indexopt"
	"github.com/Laisky/laisky-kb-retrieval/internal/retrieval"
)

type handlers struct {
	engine Engine
}

func registerRoutes(api *gin.RouterGroup, h *handlers) {
	api.POST("/search/similarity", h.similaritySearch)
	api.POST("/search/hybrid", h.hybridSearch)
	api.POST("/search/document", h.similarToDocument)
	api.GET("/indexes/metrics", h.indexMetrics)
	api.POST("/indexes/optimize", h.optimize)
	api.POST("/maintenance/run", h.runMaintenance)
	api.POST("/monitoring/start", h.startMonitoring)
	api.POST("/monitoring/stop", h.stopMonitoring)
	api.GET("/monitoring/status", h.monitoringStatus)
	api.GET("/health", h.health)
	api.GET("/usage/:chatbot_id", h.usageSummary)
}

type searchResponse struct {
	Results []retrieval.SearchResult `json:"results"`
}

func (h *handlers) similaritySearch(ctx *gin.Context) {
	var req retrieval.SearchRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		writeBadRequest(ctx, "invalid request body")
		return
	}

	results, err := h.engine.SimilaritySearch(ctx, req)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, searchResponse{Results: nonNil(results)})
}

func (h *handlers) hybridSearch(ctx *gin.Context) {
	var req retrieval.HybridRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		writeBadRequest(ctx, "invalid request body")
		return
	}

	results, err := h.engine.HybridSearch(ctx, req)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, searchResponse{Results: nonNil(results)})
}

func (h *handlers) similarToDocument(ctx *gin.Context) {
	var req retrieval.DocumentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		writeBadRequest(ctx, "invalid request body")
		return
	}

	results, err := h.engine.SimilarToDocument(ctx, req)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, searchResponse{Results: nonNil(results)})
}

func (h *handlers) indexMetrics(ctx *gin.Context) {
	metrics, err := h.engine.AnalyzeIndexPerformance(ctx)
	if err != nil {
		writeError(ctx, err)
		return
	}
	if metrics == nil {
		metrics = []indexopt.IndexMetric{}
	}
	ctx.JSON(http.StatusOK, gin.H{"indexes": metrics})
}

type optimizeRequest struct {
	Table     string `json:"table"`
	AutoApply bool   `json:"auto_apply"`
}

type optimizeResponse struct {
	indexopt.Report
	Failures []errorBody `json:"failures,omitempty"`
}

func (h *handlers) optimize(ctx *gin.Context) {
	var req optimizeRequest
	if ctx.Request.ContentLength != 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			writeBadRequest(ctx, "invalid request body")
			return
		}
	}

	report, err := h.engine.OptimizeIndexes(ctx, req.Table,
		indexopt.OptimizeOptions{AutoApply: req.AutoApply})
	if err != nil {
		writeError(ctx, err)
		return
	}

	resp := optimizeResponse{Report: report}
	for _, applied := range report.Applied {
		if applied.Err != nil {
			resp.Failures = append(resp.Failures, bodyOf(applied.Err))
		}
	}
	if len(resp.Failures) > 0 {
		gmw.GetLogger(ctx).Warn("apply recommendations",
			zap.String("table", report.Table),
			zap.Int("failed", len(resp.Failures)))
		ctx.JSON(http.StatusInternalServerError, resp)
		return
	}
	ctx.JSON(http.StatusOK, resp)
}

type maintenanceRequest struct {
	Tables []string `json:"tables"`
}

func (h *handlers) runMaintenance(ctx *gin.Context) {
	var req maintenanceRequest
	if ctx.Request.ContentLength != 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			writeBadRequest(ctx, "invalid request body")
			return
		}
	}

	tasks, err := h.engine.RunMaintenance(ctx, req.Tables...)
	if err != nil {
		writeError(ctx, err)
		return
	}
	if tasks == nil {
		tasks = []indexopt.MaintenanceTask{}
	}
	ctx.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

type monitoringRequest struct {
	IntervalSeconds int `json:"interval_seconds"`
}

type monitoringView struct {
	Running         bool    `json:"running"`
	IntervalSeconds float64 `json:"interval_seconds"`
}

func (h *handlers) startMonitoring(ctx *gin.Context) {
	var req monitoringRequest
	if ctx.Request.ContentLength != 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			writeBadRequest(ctx, "invalid request body")
			return
		}
	}
	if req.IntervalSeconds < 0 {
		writeBadRequest(ctx, "interval_seconds must not be negative")
		return
	}

	h.engine.StartMonitoring(ctx.Request.Context(), time.Duration(req.IntervalSeconds)*time.Second)
	h.monitoringStatus(ctx)
}

func (h *handlers) stopMonitoring(ctx *gin.Context) {
	h.engine.StopMonitoring()
	h.monitoringStatus(ctx)
}

func (h *handlers) monitoringStatus(ctx *gin.Context) {
	running, interval := h.engine.MonitoringStatus()
	ctx.JSON(http.StatusOK, monitoringView{Running: running, IntervalSeconds: interval.Seconds()})
}

func (h *handlers) health(ctx *gin.Context) {
	report, err := h.engine.GetHealthCheck(ctx)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, report)
}

func (h *handlers) usageSummary(ctx *gin.Context) {
	summary, err := h.engine.UsageSummary(ctx, ctx.Param("chatbot_id"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, summary)
}

func nonNil(results []retrieval.SearchResult) []retrieval.SearchResult {
	if results == nil {
		return []retrieval.SearchResult{}
	}
	return results
}
